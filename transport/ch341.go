package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/gousb"
	"tinygo.org/x/drivers"

	"github.com/moffa90/go-chipprog/errcode"
)

// ErrNack is returned by an I2C probe the device did not acknowledge.
var ErrNack = errors.New("i2c: no acknowledge")

// DefaultUSBTimeout bounds a single bulk transfer.
const DefaultUSBTimeout = 2 * time.Second

// bulkWriter is the bulk OUT endpoint.
type bulkWriter interface {
	Write(p []byte) (int, error)
}

// bulkReader is the bulk IN endpoint.
type bulkReader interface {
	ReadContext(ctx context.Context, p []byte) (int, error)
}

// CH341 is a CH341A bridge adapter.
//
// CH341 is safe for concurrent use; transactions are serialized.
type CH341 struct {
	mu      sync.Mutex
	out     bulkWriter
	in      bulkReader
	probe   func() error
	release func() error
	timeout time.Duration
	closed  bool
}

// OpenCH341 opens the first CH341A found on the USB bus.
// It returns errcode.Disconnected when no adapter is plugged in.
//
// Example:
//
//	adapter, err := transport.OpenCH341()
//	if errors.Is(err, errcode.Disconnected) {
//	    fmt.Println("Programmer CH341a is not connected!")
//	}
func OpenCH341() (*CH341, error) {
	usb := gousb.NewContext()

	dev, err := usb.OpenDeviceWithVIDPID(CH341VendorID, CH341ProductID)
	if err != nil {
		_ = usb.Close()
		return nil, fmt.Errorf("open usb device: %w", err)
	}
	if dev == nil {
		_ = usb.Close()
		return nil, errcode.Disconnected
	}

	// The Linux kernel may bind ch341 serial/i2c drivers to the interface
	if err := dev.SetAutoDetach(true); err != nil {
		_ = dev.Close()
		_ = usb.Close()
		return nil, fmt.Errorf("set auto detach: %w", err)
	}

	intf, done, err := dev.DefaultInterface()
	if err != nil {
		_ = dev.Close()
		_ = usb.Close()
		return nil, fmt.Errorf("claim interface: %w", err)
	}

	out, err := intf.OutEndpoint(ch341BulkOut)
	if err != nil {
		done()
		_ = dev.Close()
		_ = usb.Close()
		return nil, fmt.Errorf("out endpoint: %w", err)
	}

	in, err := intf.InEndpoint(ch341BulkIn)
	if err != nil {
		done()
		_ = dev.Close()
		_ = usb.Close()
		return nil, fmt.Errorf("in endpoint: %w", err)
	}

	c := &CH341{
		out: out,
		in:  in,
		probe: func() error {
			_, err := dev.ActiveConfigNum()
			return err
		},
		release: func() error {
			done()
			err := dev.Close()
			if cerr := usb.Close(); err == nil {
				err = cerr
			}
			return err
		},
		timeout: DefaultUSBTimeout,
	}

	// Default clock: 100 kHz I2C
	if err := c.SetSpeed(100); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// OpenCH341Adapter is an Opener for the CH341A.
func OpenCH341Adapter() (Adapter, error) {
	c, err := OpenCH341()
	if err != nil {
		return nil, err
	}
	return c, nil
}

// I2C returns the I2C bus of the adapter.
func (c *CH341) I2C() drivers.I2C { return ch341I2C{c} }

// SPI returns the SPI bus of the adapter.
func (c *CH341) SPI() drivers.SPI { return ch341SPI{c} }

// Microwire returns the MicroWire bus of the adapter.
func (c *CH341) Microwire() Microwire { return ch341Microwire{c} }

// SetSpeed selects the stream clock. The CH341A offers 20, 100, 400 and
// 750 kHz; the SPI clock of the chip is fixed and not affected.
func (c *CH341) SetSpeed(kHz int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeLocked(BuildSpeedCmd(kHz))
}

// Connected re-probes the USB device.
func (c *CH341) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.probe == nil {
		return false
	}
	return c.probe() == nil
}

// Close releases the USB device.
func (c *CH341) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.release != nil {
		return c.release()
	}
	return nil
}

func (c *CH341) writeLocked(pkt []byte) error {
	if c.closed {
		return errcode.Disconnected
	}
	n, err := c.out.Write(pkt)
	if err != nil {
		return fmt.Errorf("usb write: %w", err)
	}
	if n != len(pkt) {
		return fmt.Errorf("usb write: short write %d of %d bytes", n, len(pkt))
	}
	return nil
}

// readLocked reads exactly len(p) bytes, spanning several bulk packets.
func (c *CH341) readLocked(p []byte) error {
	if c.closed {
		return errcode.Disconnected
	}
	buf := make([]byte, CH341PacketLength)
	got := 0
	for got < len(p) {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		n, err := c.in.ReadContext(ctx, buf)
		cancel()
		if err != nil {
			return fmt.Errorf("usb read: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("usb read: empty packet after %d of %d bytes", got, len(p))
		}
		got += copy(p[got:], buf[:n])
	}
	return nil
}

func (c *CH341) i2cTx(addr uint16, w, r []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(w) == 0 && len(r) == 0 {
		if err := c.writeLocked(BuildI2CProbe(addr)); err != nil {
			return err
		}
		status := make([]byte, 1)
		if err := c.readLocked(status); err != nil {
			return err
		}
		if I2CNack(status[0]) {
			return ErrNack
		}
		return nil
	}

	packets, reads, err := BuildI2CTx(addr, w, len(r))
	if err != nil {
		return err
	}
	for _, pkt := range packets {
		if err := c.writeLocked(pkt); err != nil {
			return err
		}
	}
	if reads > 0 {
		return c.readLocked(r[:reads])
	}
	return nil
}

func (c *CH341) spiTx(w, r []byte) error {
	n := len(w)
	if len(r) > n {
		n = len(r)
	}
	if w != nil && r != nil && len(w) != len(r) {
		return fmt.Errorf("spi: tx/rx length mismatch: %d != %d", len(w), len(r))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.writeLocked(BuildChipSelectCmd(true)); err != nil {
		return err
	}

	txErr := func() error {
		chunk := make([]byte, CH341PacketLength-1)
		for off := 0; off < n; off += len(chunk) {
			k := min(len(chunk), n-off)
			out := chunk[:k]
			if w != nil {
				copy(out, w[off:off+k])
			} else {
				clear(out)
			}
			pkt, err := BuildSPIStreamCmd(out)
			if err != nil {
				return err
			}
			if err := c.writeLocked(pkt); err != nil {
				return err
			}
			in := make([]byte, k)
			if err := c.readLocked(in); err != nil {
				return err
			}
			if r != nil {
				copy(r[off:], ReverseBytes(in))
			}
		}
		return nil
	}()

	// Always release chip select, even after a failed stream
	if err := c.writeLocked(BuildChipSelectCmd(false)); err != nil && txErr == nil {
		txErr = err
	}
	return txErr
}

func (c *CH341) microwireTx(w []byte, wbits int, r []byte, rbits int) error {
	if rbits > len(r)*8 {
		return fmt.Errorf("rbits %d exceeds buffer of %d bits", rbits, len(r)*8)
	}
	packets, reads, err := BuildMicrowireTx(w, wbits, rbits)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	samples := make([]byte, 0, reads)
	for _, pkt := range packets {
		if err := c.writeLocked(pkt); err != nil {
			return err
		}
		// Each packet returns one byte per UIO IN it carries
		if n := countUIOIn(pkt); n > 0 {
			buf := make([]byte, n)
			if err := c.readLocked(buf); err != nil {
				return err
			}
			samples = append(samples, buf...)
		}
	}
	if rbits > 0 {
		packMicrowireBits(samples, r)
	}
	return nil
}

// countUIOIn counts the IN sub-commands of a UIO packet.
func countUIOIn(pkt []byte) int {
	n := 0
	for _, b := range pkt[1 : len(pkt)-1] {
		if b == UIOIn {
			n++
		}
	}
	return n
}

type ch341I2C struct{ c *CH341 }

func (b ch341I2C) Tx(addr uint16, w, r []byte) error { return b.c.i2cTx(addr, w, r) }

type ch341SPI struct{ c *CH341 }

func (b ch341SPI) Tx(w, r []byte) error { return b.c.spiTx(w, r) }

func (b ch341SPI) Transfer(v byte) (byte, error) {
	r := make([]byte, 1)
	err := b.c.spiTx([]byte{v}, r)
	return r[0], err
}

type ch341Microwire struct{ c *CH341 }

func (b ch341Microwire) TxBits(w []byte, wbits int, r []byte, rbits int) error {
	return b.c.microwireTx(w, wbits, r, rbits)
}
