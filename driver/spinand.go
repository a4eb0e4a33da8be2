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

// spiNAND drives SPI NAND flash (W25N, GD5F). Pages are loaded into the
// on-chip cache before reading and programmed from it.
type spiNAND struct {
	bus  drivers.SPI
	chip chipdb.Descriptor
	cfg  Config
}

func newSPINAND(bus drivers.SPI, chip chipdb.Descriptor, cfg Config) *spiNAND {
	return &spiNAND{bus: bus, chip: chip, cfg: cfg}
}

// Detect reads the JEDEC ID, which SPI NAND returns after one dummy byte,
// and clears the block protection bits.
func (d *spiNAND) Detect(ctx context.Context) error {
	rx, err := xfer(d.bus, []byte{protocol.OpReadJEDEC, 0x00, 0x00, 0x00, 0x00})
	if err != nil {
		return errcode.Wrap(errcode.ReadError, fmt.Errorf("read jedec id: %w", err))
	}
	id := rx[2:5]
	if protocol.IsErased(id, 0xFF) || protocol.IsErased(id, 0x00) {
		return errcode.Wrap(errcode.ReadError, fmt.Errorf("no response to jedec id (% X)", id))
	}
	if err := d.bus.Tx(protocol.BuildSetFeatureCmd(protocol.FeatureProtection, 0x00), nil); err != nil {
		return errcode.Wrap(errcode.WriteError, fmt.Errorf("unlock blocks: %w", err))
	}
	return nil
}

func (d *spiNAND) ReadBlock(ctx context.Context, addr uint32, buf []byte) error {
	if err := checkRange(d.chip, "read", addr, len(buf)); err != nil {
		return err
	}
	page := d.chip.PageSize
	for off := 0; off < len(buf); {
		at := addr + uint32(off)
		col := at % page
		n := min(int(page-col), len(buf)-off)

		frame, err := protocol.BuildNANDRowCmd(protocol.OpNANDPageRead, at/page)
		if err != nil {
			return errcode.At(errcode.ReadError, "read", at, err)
		}
		if err := d.bus.Tx(frame, nil); err != nil {
			return errcode.At(errcode.ReadError, "read", at, err)
		}
		if err := d.WaitUntilReady(ctx, d.cfg.WordTimeout); err != nil {
			return errcode.At(errcode.ReadError, "read", at, err)
		}

		frame, err = protocol.BuildNANDReadCacheCmd(col, n)
		if err != nil {
			return errcode.At(errcode.ReadError, "read", at, err)
		}
		rx, err := xfer(d.bus, frame)
		if err != nil {
			return errcode.At(errcode.ReadError, "read", at, err)
		}
		copy(buf[off:off+n], protocol.Payload(rx, protocol.NANDReadCacheHeaderLen))
		off += n
	}
	return nil
}

func (d *spiNAND) EraseBlock(ctx context.Context, addr uint32) error {
	if err := checkBlock(d.chip, addr); err != nil {
		return err
	}
	frame, err := protocol.BuildNANDRowCmd(protocol.OpNANDBlockErase, addr/d.chip.PageSize)
	if err != nil {
		return errcode.At(errcode.EraseError, "erase block", addr, err)
	}
	if err := d.bus.Tx([]byte{protocol.OpWriteEnable}, nil); err != nil {
		return errcode.At(errcode.EraseError, "erase block", addr, err)
	}
	if err := d.bus.Tx(frame, nil); err != nil {
		return errcode.At(errcode.EraseError, "erase block", addr, err)
	}
	return nil
}

func (d *spiNAND) ProgramPage(ctx context.Context, addr uint32, data []byte) error {
	if err := checkPage(d.chip, addr, len(data)); err != nil {
		return err
	}
	load, err := protocol.BuildNANDProgramLoadCmd(addr%d.chip.PageSize, data)
	if err != nil {
		return errcode.At(errcode.WriteError, "program page", addr, err)
	}
	exec, err := protocol.BuildNANDRowCmd(protocol.OpNANDProgramExecute, addr/d.chip.PageSize)
	if err != nil {
		return errcode.At(errcode.WriteError, "program page", addr, err)
	}
	for _, frame := range [][]byte{{protocol.OpWriteEnable}, load, exec} {
		if err := d.bus.Tx(frame, nil); err != nil {
			return errcode.At(errcode.WriteError, "program page", addr, err)
		}
	}
	return nil
}

// WaitUntilReady polls OIP. A program or erase failure flag ends the wait.
func (d *spiNAND) WaitUntilReady(ctx context.Context, timeout time.Duration) error {
	return pollUntilReady(ctx, timeout, d.cfg.PollInterval, func() (bool, error) {
		rx, err := xfer(d.bus, protocol.BuildGetFeatureCmd(protocol.FeatureStatus))
		if err != nil {
			return false, err
		}
		status := rx[2]
		if protocol.NANDBusy(status) {
			return true, nil
		}
		if err := protocol.CheckNANDStatus("nand", status); err != nil {
			return false, &fatalError{err: err}
		}
		return false, nil
	})
}
