// Package driver implements the command protocol of each chip family.
//
// A Driver knows how to detect, read, erase and program one chip over a
// bridge adapter. The operation engine drives it block by block; drivers
// never loop over a whole chip and never retry, except WaitUntilReady which
// polls the chip's busy flag until it clears or the timeout expires.
//
// Select a driver with New from the descriptor's protocol:
//
//	drv, err := driver.New(adapter, chip)
//	if err != nil {
//	    return err
//	}
//	if err := drv.Detect(ctx); err != nil {
//	    return err
//	}
package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tinygo.org/x/drivers"

	"github.com/moffa90/go-chipprog/chipdb"
	"github.com/moffa90/go-chipprog/errcode"
	"github.com/moffa90/go-chipprog/transport"
)

// Driver is the capability set of one chip family.
type Driver interface {
	// Detect confirms a chip answers on the bus.
	Detect(ctx context.Context) error

	// ReadBlock fills buf with the bytes starting at addr.
	ReadBlock(ctx context.Context, addr uint32, buf []byte) error

	// EraseBlock erases the erase block starting at addr.
	EraseBlock(ctx context.Context, addr uint32) error

	// ProgramPage writes data at addr. data must not cross a page boundary.
	ProgramPage(ctx context.Context, addr uint32, data []byte) error

	// WaitUntilReady polls until the chip finishes its internal cycle.
	WaitUntilReady(ctx context.Context, timeout time.Duration) error
}

// ChipEraser is implemented by drivers with a whole-chip erase instruction.
type ChipEraser interface {
	EraseChip(ctx context.Context) error
}

// Config holds driver tuning.
type Config struct {
	// PollInterval is the delay between busy-flag polls
	PollInterval time.Duration

	// WordTimeout bounds the internal waits between words or pages that a
	// single call writes (MicroWire words, EEPROM erase pages)
	WordTimeout time.Duration

	// ReadChunk is the largest read per bus transaction
	ReadChunk int
}

// defaultConfig returns the default configuration.
func defaultConfig() Config {
	return Config{
		PollInterval: time.Millisecond,
		WordTimeout:  100 * time.Millisecond,
		ReadChunk:    4096,
	}
}

// Option is a functional option for configuring a Driver.
type Option func(*Config)

// WithPollInterval sets the delay between busy-flag polls.
func WithPollInterval(d time.Duration) Option {
	return func(c *Config) {
		if d >= 0 {
			c.PollInterval = d
		}
	}
}

// WithWordTimeout bounds internal waits inside a single write call.
func WithWordTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.WordTimeout = d
		}
	}
}

// WithReadChunk sets the largest read per bus transaction.
func WithReadChunk(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.ReadChunk = n
		}
	}
}

// New returns the driver for chip's protocol.
func New(adapter transport.Adapter, chip chipdb.Descriptor, opts ...Option) (Driver, error) {
	if adapter == nil {
		return nil, errcode.Disconnected
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	switch chip.Protocol {
	case chipdb.ProtocolSPIFlash:
		return newSPIFlash(adapter.SPI(), chip, cfg), nil
	case chipdb.ProtocolSPIEEPROM:
		return newSPIEEPROM(adapter.SPI(), chip, cfg), nil
	case chipdb.ProtocolSPIDataFlash:
		return newDataFlash(adapter.SPI(), chip, cfg), nil
	case chipdb.ProtocolSPINAND:
		return newSPINAND(adapter.SPI(), chip, cfg), nil
	case chipdb.ProtocolI2C:
		return newI2CEEPROM(adapter.I2C(), chip, cfg), nil
	case chipdb.ProtocolMicrowire:
		return newMicrowire(adapter, chip, cfg), nil
	}
	return nil, errcode.Wrap(errcode.UnsupportedChip,
		fmt.Errorf("no driver for protocol %q", chip.Protocol))
}

// pollUntilReady calls busy until it reports false or timeout expires.
// Transport errors are tolerated while the budget lasts; the last one is
// reported with the timeout.
func pollUntilReady(ctx context.Context, timeout, interval time.Duration, busy func() (bool, error)) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for {
		b, err := busy()
		switch {
		case err == nil && !b:
			return nil
		case err != nil:
			// a failure the chip reported is final
			var fatal *fatalError
			if errors.As(err, &fatal) {
				return fatal.err
			}
			lastErr = err
		}

		if !time.Now().Before(deadline) {
			if lastErr != nil {
				return errcode.Wrap(errcode.Timeout, fmt.Errorf("chip not ready after %v: %w", timeout, lastErr))
			}
			return errcode.Wrap(errcode.Timeout, fmt.Errorf("chip not ready after %v", timeout))
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errcode.Wrap(errcode.Aborted, ctx.Err())
		case <-timer.C:
		}
	}
}

// fatalError stops polling immediately.
type fatalError struct{ err error }

func (e *fatalError) Error() string { return e.err.Error() }

// xfer clocks frame out and returns the bytes clocked in.
func xfer(bus drivers.SPI, frame []byte) ([]byte, error) {
	rx := make([]byte, len(frame))
	if err := bus.Tx(frame, rx); err != nil {
		return nil, err
	}
	return rx, nil
}

// checkRange rejects accesses beyond the chip.
func checkRange(chip chipdb.Descriptor, op string, addr uint32, n int) error {
	if uint64(addr)+uint64(n) > uint64(chip.Size) {
		return errcode.At(errcode.OutOfRange, op, addr,
			fmt.Errorf("%d bytes exceed chip size %d", n, chip.Size))
	}
	return nil
}

// checkPage rejects program data crossing a page boundary.
func checkPage(chip chipdb.Descriptor, addr uint32, n int) error {
	if n == 0 {
		return errcode.At(errcode.WriteError, "program page", addr, fmt.Errorf("empty page"))
	}
	if addr%chip.PageSize+uint32(n) > chip.PageSize {
		return errcode.At(errcode.WriteError, "program page", addr,
			fmt.Errorf("%d bytes cross a %d-byte page", n, chip.PageSize))
	}
	return checkRange(chip, "program page", addr, n)
}

// checkBlock rejects unaligned erase addresses.
func checkBlock(chip chipdb.Descriptor, addr uint32) error {
	if addr%chip.BlockSize != 0 {
		return errcode.At(errcode.EraseError, "erase block", addr,
			fmt.Errorf("not aligned to %d-byte block", chip.BlockSize))
	}
	return checkRange(chip, "erase block", addr, int(chip.BlockSize))
}
