package driver

import (
	"context"
	"time"

	"tinygo.org/x/drivers"

	"github.com/moffa90/go-chipprog/chipdb"
	"github.com/moffa90/go-chipprog/errcode"
	"github.com/moffa90/go-chipprog/protocol"
)

// dataFlash drives AT45DB DataFlash in its native (non power-of-two) page mode.
type dataFlash struct {
	bus  drivers.SPI
	chip chipdb.Descriptor
	cfg  Config
}

func newDataFlash(bus drivers.SPI, chip chipdb.Descriptor, cfg Config) *dataFlash {
	return &dataFlash{bus: bus, chip: chip, cfg: cfg}
}

func (d *dataFlash) Detect(ctx context.Context) error {
	return probeJEDEC(d.bus)
}

// ReadBlock uses the continuous array read, which crosses pages on its own.
func (d *dataFlash) ReadBlock(ctx context.Context, addr uint32, buf []byte) error {
	if err := checkRange(d.chip, "read", addr, len(buf)); err != nil {
		return err
	}
	for off := 0; off < len(buf); off += d.cfg.ReadChunk {
		n := min(d.cfg.ReadChunk, len(buf)-off)
		at := addr + uint32(off)
		frame, err := protocol.BuildDataFlashReadCmd(at, d.chip.PageSize, n)
		if err != nil {
			return errcode.At(errcode.ReadError, "read", at, err)
		}
		rx, err := xfer(d.bus, frame)
		if err != nil {
			return errcode.At(errcode.ReadError, "read", at, err)
		}
		copy(buf[off:off+n], protocol.Payload(rx, protocol.ReadHeaderLen(3)))
	}
	return nil
}

func (d *dataFlash) EraseBlock(ctx context.Context, addr uint32) error {
	if err := checkBlock(d.chip, addr); err != nil {
		return err
	}
	for at := addr; at < addr+d.chip.BlockSize; at += d.chip.PageSize {
		if at != addr {
			if err := d.WaitUntilReady(ctx, d.cfg.WordTimeout); err != nil {
				return errcode.At(errcode.EraseError, "erase block", at, err)
			}
		}
		frame, err := protocol.BuildDataFlashPageEraseCmd(at, d.chip.PageSize)
		if err != nil {
			return errcode.At(errcode.EraseError, "erase block", at, err)
		}
		if err := d.bus.Tx(frame, nil); err != nil {
			return errcode.At(errcode.EraseError, "erase block", at, err)
		}
	}
	return nil
}

// ProgramPage writes through buffer 1 with built-in erase. Partial pages
// are merged with the current contents since the built-in erase clears the
// whole page.
func (d *dataFlash) ProgramPage(ctx context.Context, addr uint32, data []byte) error {
	if err := checkPage(d.chip, addr, len(data)); err != nil {
		return err
	}
	start := addr - addr%d.chip.PageSize
	page := data
	if len(data) != int(d.chip.PageSize) {
		page = make([]byte, d.chip.PageSize)
		if err := d.ReadBlock(ctx, start, page); err != nil {
			return errcode.At(errcode.WriteError, "program page", addr, err)
		}
		copy(page[addr-start:], data)
	}
	frame, err := protocol.BuildDataFlashProgramCmd(start, d.chip.PageSize, page)
	if err != nil {
		return errcode.At(errcode.WriteError, "program page", addr, err)
	}
	if err := d.bus.Tx(frame, nil); err != nil {
		return errcode.At(errcode.WriteError, "program page", addr, err)
	}
	return nil
}

// EraseChip sends the four-byte chip erase sequence.
func (d *dataFlash) EraseChip(ctx context.Context) error {
	if err := d.bus.Tx(protocol.DataFlashChipErase, nil); err != nil {
		return errcode.At(errcode.EraseError, "erase chip", 0, err)
	}
	return nil
}

func (d *dataFlash) WaitUntilReady(ctx context.Context, timeout time.Duration) error {
	return pollUntilReady(ctx, timeout, d.cfg.PollInterval, func() (bool, error) {
		rx, err := xfer(d.bus, []byte{protocol.OpDataFlashStatus, 0x00})
		if err != nil {
			return false, err
		}
		return protocol.DataFlashBusy(rx[1]), nil
	})
}
