package driver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"tinygo.org/x/drivers"

	"github.com/moffa90/go-chipprog/chipdb"
	"github.com/moffa90/go-chipprog/errcode"
	"github.com/moffa90/go-chipprog/transport"
)

// i2cEEPROM drives 24Cxx EEPROMs. Address bits beyond the word address are
// folded into the low bits of the device address (24C04-24C16, 24C1024).
type i2cEEPROM struct {
	bus  drivers.I2C
	chip chipdb.Descriptor
	cfg  Config
}

func newI2CEEPROM(bus drivers.I2C, chip chipdb.Descriptor, cfg Config) *i2cEEPROM {
	return &i2cEEPROM{bus: bus, chip: chip, cfg: cfg}
}

// segment is the span one device address covers.
func (d *i2cEEPROM) segment() uint32 {
	return 1 << (8 * d.chip.AddressWidth)
}

// device returns the device address and word address bytes for addr.
func (d *i2cEEPROM) device(addr uint32) (uint16, []byte) {
	width := d.chip.AddressWidth
	dev := d.chip.I2CAddress | uint16(addr>>(8*width))&0x07
	word := make([]byte, width)
	for i := 0; i < width; i++ {
		word[width-1-i] = byte(addr >> (8 * i))
	}
	return dev, word
}

// Detect addresses the chip and checks for an acknowledge.
func (d *i2cEEPROM) Detect(ctx context.Context) error {
	err := d.bus.Tx(d.chip.I2CAddress, nil, nil)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, transport.ErrNack):
		return errcode.ChipMissing
	case errors.Is(err, errcode.Disconnected):
		return err
	}
	return errcode.Wrap(errcode.ReadError, fmt.Errorf("probe 0x%02X: %w", d.chip.I2CAddress, err))
}

// ReadBlock splits reads at device address boundaries.
func (d *i2cEEPROM) ReadBlock(ctx context.Context, addr uint32, buf []byte) error {
	if err := checkRange(d.chip, "read", addr, len(buf)); err != nil {
		return err
	}
	seg := d.segment()
	for off := 0; off < len(buf); {
		at := addr + uint32(off)
		n := min(d.cfg.ReadChunk, len(buf)-off, int(seg-at%seg))
		dev, word := d.device(at)
		if err := d.bus.Tx(dev, word, buf[off:off+n]); err != nil {
			return errcode.At(errcode.ReadError, "read", at, err)
		}
		off += n
	}
	return nil
}

// EraseBlock fills the block with the erased value.
func (d *i2cEEPROM) EraseBlock(ctx context.Context, addr uint32) error {
	if err := checkBlock(d.chip, addr); err != nil {
		return err
	}
	fill := bytes.Repeat([]byte{d.chip.ErasedValue()}, int(d.chip.PageSize))
	for at := addr; at < addr+d.chip.BlockSize; at += d.chip.PageSize {
		if at != addr {
			if err := d.WaitUntilReady(ctx, d.cfg.WordTimeout); err != nil {
				return errcode.At(errcode.EraseError, "erase block", at, err)
			}
		}
		if err := d.write(at, fill); err != nil {
			return errcode.At(errcode.EraseError, "erase block", at, err)
		}
	}
	return nil
}

func (d *i2cEEPROM) ProgramPage(ctx context.Context, addr uint32, data []byte) error {
	if err := checkPage(d.chip, addr, len(data)); err != nil {
		return err
	}
	if err := d.write(addr, data); err != nil {
		return errcode.At(errcode.WriteError, "program page", addr, err)
	}
	return nil
}

func (d *i2cEEPROM) write(addr uint32, data []byte) error {
	dev, word := d.device(addr)
	return d.bus.Tx(dev, append(word, data...), nil)
}

// WaitUntilReady polls for an acknowledge; the chip ignores its address
// while the write cycle runs.
func (d *i2cEEPROM) WaitUntilReady(ctx context.Context, timeout time.Duration) error {
	return pollUntilReady(ctx, timeout, d.cfg.PollInterval, func() (bool, error) {
		err := d.bus.Tx(d.chip.I2CAddress, nil, nil)
		if errors.Is(err, transport.ErrNack) {
			return true, nil
		}
		return false, err
	})
}
