package driver

import (
	"context"
	"fmt"
	"time"

	"tinygo.org/x/drivers"

	"github.com/moffa90/go-chipprog/chipdb"
	"github.com/moffa90/go-chipprog/errcode"
	"github.com/moffa90/go-chipprog/protocol"
)

// spiFlash drives 25xx NOR flash.
type spiFlash struct {
	bus  drivers.SPI
	chip chipdb.Descriptor
	cfg  Config
	ops  protocol.OpcodeSet
}

func newSPIFlash(bus drivers.SPI, chip chipdb.Descriptor, cfg Config) *spiFlash {
	return &spiFlash{
		bus:  bus,
		chip: chip,
		cfg:  cfg,
		ops:  protocol.OpcodesFor(chip.AddressWidth),
	}
}

func (d *spiFlash) Detect(ctx context.Context) error {
	return probeJEDEC(d.bus)
}

// probeJEDEC reads the JEDEC ID. An all-0x00 or all-0xFF answer is a read
// failure, not an absent chip.
func probeJEDEC(bus drivers.SPI) error {
	rx, err := xfer(bus, protocol.BuildJEDECCmd())
	if err != nil {
		return errcode.Wrap(errcode.ReadError, fmt.Errorf("read jedec id: %w", err))
	}
	id, err := protocol.ParseJEDECResponse(rx)
	if err != nil {
		return errcode.Wrap(errcode.ReadError, err)
	}
	if protocol.IsErased(id[:], 0xFF) || protocol.IsErased(id[:], 0x00) {
		return errcode.Wrap(errcode.ReadError, fmt.Errorf("no response to jedec id (% X)", id))
	}
	return nil
}

func (d *spiFlash) ReadBlock(ctx context.Context, addr uint32, buf []byte) error {
	if err := checkRange(d.chip, "read", addr, len(buf)); err != nil {
		return err
	}
	width := d.chip.AddressWidth
	for off := 0; off < len(buf); off += d.cfg.ReadChunk {
		n := min(d.cfg.ReadChunk, len(buf)-off)
		at := addr + uint32(off)
		frame, err := protocol.BuildReadCmd(d.ops.Read, at, width, n)
		if err != nil {
			return errcode.At(errcode.ReadError, "read", at, err)
		}
		rx, err := xfer(d.bus, frame)
		if err != nil {
			return errcode.At(errcode.ReadError, "read", at, err)
		}
		copy(buf[off:off+n], protocol.Payload(rx, protocol.ReadHeaderLen(width)))
	}
	return nil
}

func (d *spiFlash) EraseBlock(ctx context.Context, addr uint32) error {
	if err := checkBlock(d.chip, addr); err != nil {
		return err
	}
	frame, err := protocol.BuildEraseCmd(d.ops, d.chip.BlockSize, addr, d.chip.AddressWidth)
	if err != nil {
		return errcode.At(errcode.EraseError, "erase block", addr, err)
	}
	if err := d.writeEnable(); err != nil {
		return errcode.At(errcode.EraseError, "erase block", addr, err)
	}
	if err := d.bus.Tx(frame, nil); err != nil {
		return errcode.At(errcode.EraseError, "erase block", addr, err)
	}
	return nil
}

func (d *spiFlash) ProgramPage(ctx context.Context, addr uint32, data []byte) error {
	if err := checkPage(d.chip, addr, len(data)); err != nil {
		return err
	}
	frame, err := protocol.BuildProgramCmd(d.ops.Program, addr, d.chip.AddressWidth, data)
	if err != nil {
		return errcode.At(errcode.WriteError, "program page", addr, err)
	}
	if err := d.writeEnable(); err != nil {
		return errcode.At(errcode.WriteError, "program page", addr, err)
	}
	if err := d.bus.Tx(frame, nil); err != nil {
		return errcode.At(errcode.WriteError, "program page", addr, err)
	}
	return nil
}

// EraseChip issues the chip erase instruction.
func (d *spiFlash) EraseChip(ctx context.Context) error {
	if err := d.writeEnable(); err != nil {
		return errcode.At(errcode.EraseError, "erase chip", 0, err)
	}
	if err := d.bus.Tx([]byte{protocol.OpChipErase}, nil); err != nil {
		return errcode.At(errcode.EraseError, "erase chip", 0, err)
	}
	return nil
}

func (d *spiFlash) WaitUntilReady(ctx context.Context, timeout time.Duration) error {
	return pollUntilReady(ctx, timeout, d.cfg.PollInterval, func() (bool, error) {
		sr, err := readStatus(d.bus, 0)
		if err != nil {
			return false, err
		}
		return protocol.Busy(sr), nil
	})
}

func (d *spiFlash) writeEnable() error {
	return d.bus.Tx([]byte{protocol.OpWriteEnable}, nil)
}

// readStatus reads status register idx (0-2).
func readStatus(bus drivers.SPI, idx int) (byte, error) {
	frame, err := protocol.BuildReadStatusCmd(idx)
	if err != nil {
		return 0, err
	}
	rx, err := xfer(bus, frame)
	if err != nil {
		return 0, err
	}
	return rx[1], nil
}
