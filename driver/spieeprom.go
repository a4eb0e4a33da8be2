package driver

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"tinygo.org/x/drivers"

	"github.com/moffa90/go-chipprog/chipdb"
	"github.com/moffa90/go-chipprog/errcode"
	"github.com/moffa90/go-chipprog/protocol"
)

// spiEEPROM drives 25xx/M95xx EEPROMs. They have no erase instruction;
// erasing writes the erased value page by page.
type spiEEPROM struct {
	bus  drivers.SPI
	chip chipdb.Descriptor
	cfg  Config
}

func newSPIEEPROM(bus drivers.SPI, chip chipdb.Descriptor, cfg Config) *spiEEPROM {
	return &spiEEPROM{bus: bus, chip: chip, cfg: cfg}
}

// Detect reads the status register. A floating MISO reads 0xFF.
func (d *spiEEPROM) Detect(ctx context.Context) error {
	sr, err := readStatus(d.bus, 0)
	if err != nil {
		return errcode.Wrap(errcode.ReadError, fmt.Errorf("read status: %w", err))
	}
	if sr == 0xFF {
		return errcode.ChipMissing
	}
	return nil
}

func (d *spiEEPROM) ReadBlock(ctx context.Context, addr uint32, buf []byte) error {
	if err := checkRange(d.chip, "read", addr, len(buf)); err != nil {
		return err
	}
	width := d.chip.AddressWidth
	for off := 0; off < len(buf); {
		at := addr + uint32(off)
		n := min(d.cfg.ReadChunk, len(buf)-off)
		// A8 lives in the opcode; a read can not run across it
		if width == 1 && at < 0x100 && at+uint32(n) > 0x100 {
			n = int(0x100 - at)
		}
		hdr, err := protocol.BuildEEPROMCmd(protocol.OpEEPROMRead, at, width)
		if err != nil {
			return errcode.At(errcode.ReadError, "read", at, err)
		}
		rx, err := xfer(d.bus, append(hdr, make([]byte, n)...))
		if err != nil {
			return errcode.At(errcode.ReadError, "read", at, err)
		}
		copy(buf[off:off+n], protocol.Payload(rx, len(hdr)))
		off += n
	}
	return nil
}

// EraseBlock fills the block with the erased value.
func (d *spiEEPROM) EraseBlock(ctx context.Context, addr uint32) error {
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

func (d *spiEEPROM) ProgramPage(ctx context.Context, addr uint32, data []byte) error {
	if err := checkPage(d.chip, addr, len(data)); err != nil {
		return err
	}
	if err := d.write(addr, data); err != nil {
		return errcode.At(errcode.WriteError, "program page", addr, err)
	}
	return nil
}

func (d *spiEEPROM) write(addr uint32, data []byte) error {
	hdr, err := protocol.BuildEEPROMCmd(protocol.OpEEPROMWrite, addr, d.chip.AddressWidth)
	if err != nil {
		return err
	}
	if err := d.bus.Tx([]byte{protocol.OpWriteEnable}, nil); err != nil {
		return err
	}
	return d.bus.Tx(append(hdr, data...), nil)
}

func (d *spiEEPROM) WaitUntilReady(ctx context.Context, timeout time.Duration) error {
	return pollUntilReady(ctx, timeout, d.cfg.PollInterval, func() (bool, error) {
		sr, err := readStatus(d.bus, 0)
		if err != nil {
			return false, err
		}
		return protocol.Busy(sr), nil
	})
}
