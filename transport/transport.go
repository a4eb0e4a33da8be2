// Package transport provides the command/response channel to the USB bridge
// adapter.
//
// The transport has no knowledge of chip protocols. It exposes the three bus
// primitives a chip driver needs:
//   - I2C transactions (tinygo.org/x/drivers I2C interface)
//   - chip-select framed SPI transactions (tinygo.org/x/drivers SPI interface)
//   - bit-granular MicroWire transactions (Microwire interface)
//
// Every call is a single blocking transaction. Implementations serialize
// calls internally so that at most one transaction is in flight per adapter.
//
// # Connection State
//
// Connected re-probes the adapter on every call. A connection is never
// assumed to persist across operations:
//
//	adapter, err := transport.OpenCH341()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer adapter.Close()
//
//	if !adapter.Connected() {
//	    // adapter was unplugged
//	}
package transport

import (
	"tinygo.org/x/drivers"
)

// State is the connection state of a bridge adapter.
type State int

const (
	// Disconnected means no adapter handle is open or the handle stopped responding
	Disconnected State = iota

	// Connected means the adapter answered the last probe
	Connected
)

func (s State) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// Microwire is a bit-granular MicroWire bus (93Cxx).
//
// TxBits asserts chip select, clocks out wbits bits of w (MSB first), then
// clocks in rbits bits into r (MSB first) and releases chip select.
// A call with wbits == 0 and rbits == 1 samples DO once, which is how ready
// polling is done after a write cycle.
type Microwire interface {
	TxBits(w []byte, wbits int, r []byte, rbits int) error
}

// Adapter is an open bridge adapter.
type Adapter interface {
	// I2C returns the I2C bus. Tx with empty w and r is an address probe
	// that fails when the device does not acknowledge.
	I2C() drivers.I2C

	// SPI returns the SPI bus. Every Tx is framed by chip select.
	SPI() drivers.SPI

	// Microwire returns the MicroWire bus.
	Microwire() Microwire

	// SetSpeed selects the bus clock closest to kHz the adapter supports.
	SetSpeed(kHz int) error

	// Connected re-probes the adapter.
	Connected() bool

	// Close releases the adapter.
	Close() error
}

// Opener establishes a new adapter connection.
type Opener func() (Adapter, error)

// StateOf reports the connection state of a, which may be nil.
func StateOf(a Adapter) State {
	if a == nil || !a.Connected() {
		return Disconnected
	}
	return Connected
}
