// Package sim provides an in-memory bridge adapter with simulated chips.
//
// It stands in for a CH341A during development and in tests. Each bus has
// one socket; plug a simulated chip in with an option:
//
//	flash := sim.NewFlash(chip)
//	adapter := sim.New(sim.WithSPI(flash))
//	engine := programmer.New(adapter.Opener())
//
// The simulated chips decode the same command frames a real chip does, so
// every driver runs unchanged against them.
package sim

import (
	"sync"

	"tinygo.org/x/drivers"

	"github.com/moffa90/go-chipprog/errcode"
	"github.com/moffa90/go-chipprog/transport"
)

// Bus names a bus of the adapter.
type Bus string

// Buses.
const (
	BusSPI       Bus = "spi"
	BusI2C       Bus = "i2c"
	BusMicrowire Bus = "microwire"
)

// SPIChip is a chip on the SPI bus. Exchange returns one byte per byte sent.
type SPIChip interface {
	Exchange(w []byte) []byte
}

// I2CChip is a chip on the I2C bus.
type I2CChip interface {
	Tx(addr uint16, w, r []byte) error
}

// MicrowireChip is a chip on the MicroWire bus.
type MicrowireChip interface {
	TxBits(w []byte, wbits int, r []byte, rbits int) error
}

// Tx describes one bus transaction, passed to the fault hook.
type Tx struct {
	// Bus is the bus the transaction runs on
	Bus Bus

	// Addr is the I2C device address (I2C only)
	Addr uint16

	// Data is the outgoing frame
	Data []byte
}

// Adapter is a simulated bridge adapter. It implements transport.Adapter.
//
// Adapter is safe for concurrent use; transactions are serialized.
type Adapter struct {
	mu           sync.Mutex
	spi          SPIChip
	i2c          I2CChip
	mw           MicrowireChip
	fault        func(Tx) error
	connected    bool
	speed        int
	transactions int
	opens        int
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithSPI plugs a chip into the SPI socket.
func WithSPI(c SPIChip) Option {
	return func(a *Adapter) { a.spi = c }
}

// WithI2C plugs a chip into the I2C socket.
func WithI2C(c I2CChip) Option {
	return func(a *Adapter) { a.i2c = c }
}

// WithMicrowire plugs a chip into the MicroWire socket.
func WithMicrowire(c MicrowireChip) Option {
	return func(a *Adapter) { a.mw = c }
}

// WithFault installs a hook called before every transaction. A non-nil
// error fails the transaction without reaching the chip.
func WithFault(fn func(Tx) error) Option {
	return func(a *Adapter) { a.fault = fn }
}

// New creates a connected adapter.
func New(opts ...Option) *Adapter {
	a := &Adapter{connected: true, speed: 100}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Opener returns a transport.Opener that hands out this adapter while it is
// plugged in, and errcode.Disconnected otherwise.
func (a *Adapter) Opener() transport.Opener {
	return func() (transport.Adapter, error) {
		a.mu.Lock()
		defer a.mu.Unlock()
		if !a.connected {
			return nil, errcode.Disconnected
		}
		a.opens++
		return a, nil
	}
}

// Unplug simulates pulling the adapter off the USB bus.
func (a *Adapter) Unplug() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = false
}

// Plug reconnects the adapter.
func (a *Adapter) Plug() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = true
}

// Transactions returns the number of bus transactions so far.
func (a *Adapter) Transactions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.transactions
}

// Opens returns how many times the Opener handed out the adapter.
func (a *Adapter) Opens() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.opens
}

// Speed returns the last bus speed set, in kHz.
func (a *Adapter) Speed() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.speed
}

// I2C returns the I2C bus.
func (a *Adapter) I2C() drivers.I2C { return i2cBus{a} }

// SPI returns the SPI bus.
func (a *Adapter) SPI() drivers.SPI { return spiBus{a} }

// Microwire returns the MicroWire bus.
func (a *Adapter) Microwire() transport.Microwire { return mwBus{a} }

// SetSpeed records the bus speed.
func (a *Adapter) SetSpeed(kHz int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return errcode.Disconnected
	}
	a.speed = kHz
	return nil
}

// Connected reports whether the adapter is plugged in.
func (a *Adapter) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// Close is a no-op; the simulated adapter stays plugged in.
func (a *Adapter) Close() error { return nil }

// begin accounts for a transaction and runs the fault hook.
// The caller holds a.mu.
func (a *Adapter) begin(tx Tx) error {
	if !a.connected {
		return errcode.Disconnected
	}
	a.transactions++
	if a.fault != nil {
		return a.fault(tx)
	}
	return nil
}

type spiBus struct{ a *Adapter }

func (b spiBus) Tx(w, r []byte) error {
	b.a.mu.Lock()
	defer b.a.mu.Unlock()

	if w == nil {
		w = make([]byte, len(r))
	}
	if err := b.a.begin(Tx{Bus: BusSPI, Data: w}); err != nil {
		return err
	}
	if b.a.spi == nil {
		// MISO floats high without a chip
		for i := range r {
			r[i] = 0xFF
		}
		return nil
	}
	resp := b.a.spi.Exchange(w)
	if r != nil {
		copy(r, resp)
	}
	return nil
}

func (b spiBus) Transfer(v byte) (byte, error) {
	r := make([]byte, 1)
	err := b.Tx([]byte{v}, r)
	return r[0], err
}

type i2cBus struct{ a *Adapter }

func (b i2cBus) Tx(addr uint16, w, r []byte) error {
	b.a.mu.Lock()
	defer b.a.mu.Unlock()

	if err := b.a.begin(Tx{Bus: BusI2C, Addr: addr, Data: w}); err != nil {
		return err
	}
	if b.a.i2c == nil {
		return transport.ErrNack
	}
	return b.a.i2c.Tx(addr, w, r)
}

type mwBus struct{ a *Adapter }

func (b mwBus) TxBits(w []byte, wbits int, r []byte, rbits int) error {
	b.a.mu.Lock()
	defer b.a.mu.Unlock()

	if err := b.a.begin(Tx{Bus: BusMicrowire, Data: w}); err != nil {
		return err
	}
	if b.a.mw == nil {
		for i := range r {
			r[i] = 0xFF
		}
		return nil
	}
	return b.a.mw.TxBits(w, wbits, r, rbits)
}
