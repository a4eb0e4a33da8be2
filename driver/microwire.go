package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/moffa90/go-chipprog/chipdb"
	"github.com/moffa90/go-chipprog/errcode"
	"github.com/moffa90/go-chipprog/protocol"
	"github.com/moffa90/go-chipprog/transport"
)

// maxMicrowireWords bounds one sequential read.
const maxMicrowireWords = 64

// microwire drives 93Cxx EEPROMs. The buffer holds x16 words high byte first.
type microwire struct {
	adapter transport.Adapter
	bus     transport.Microwire
	chip    chipdb.Descriptor
	cfg     Config

	// org is the word width in bits, abits the address field width
	org   int
	abits int
}

func newMicrowire(adapter transport.Adapter, chip chipdb.Descriptor, cfg Config) *microwire {
	return &microwire{
		adapter: adapter,
		bus:     adapter.Microwire(),
		chip:    chip,
		cfg:     cfg,
		org:     chip.Microwire.Organization,
		abits:   chip.Microwire.AddressBits,
	}
}

func (d *microwire) wordBytes() uint32 { return uint32(d.org / 8) }

// Detect only checks the adapter; 93Cxx parts have no identity to read.
func (d *microwire) Detect(ctx context.Context) error {
	if !d.adapter.Connected() {
		return errcode.Disconnected
	}
	return nil
}

func (d *microwire) checkAligned(code errcode.Code, op string, addr uint32, n int) error {
	if addr%d.wordBytes() != 0 || uint32(n)%d.wordBytes() != 0 {
		return errcode.At(code, op, addr, fmt.Errorf("not aligned to %d-bit words", d.org))
	}
	return nil
}

// ReadBlock uses sequential reads; the address counter advances per word.
func (d *microwire) ReadBlock(ctx context.Context, addr uint32, buf []byte) error {
	if err := checkRange(d.chip, "read", addr, len(buf)); err != nil {
		return err
	}
	if err := d.checkAligned(errcode.ReadError, "read", addr, len(buf)); err != nil {
		return err
	}
	wb := d.wordBytes()
	words := uint32(len(buf)) / wb
	for w := uint32(0); w < words; {
		n := min(words-w, maxMicrowireWords)
		at := addr + w*wb
		cmd, nbits, err := protocol.BuildMicrowireCmd(protocol.MWRead, at/wb, d.abits, 0, 0)
		if err != nil {
			return errcode.At(errcode.ReadError, "read", at, err)
		}
		r := make([]byte, n*wb)
		if err := d.bus.TxBits(cmd, nbits, r, int(n)*d.org); err != nil {
			return errcode.At(errcode.ReadError, "read", at, err)
		}
		copy(buf[w*wb:], r)
		w += n
	}
	return nil
}

// EraseBlock erases each word of the block.
func (d *microwire) EraseBlock(ctx context.Context, addr uint32) error {
	if err := checkBlock(d.chip, addr); err != nil {
		return err
	}
	if err := d.extended(protocol.MWEraseWriteEnable); err != nil {
		return errcode.At(errcode.EraseError, "erase block", addr, err)
	}
	wb := d.wordBytes()
	for at := addr; at < addr+d.chip.BlockSize; at += wb {
		if at != addr {
			if err := d.WaitUntilReady(ctx, d.cfg.WordTimeout); err != nil {
				return errcode.At(errcode.EraseError, "erase block", at, err)
			}
		}
		cmd, nbits, err := protocol.BuildMicrowireCmd(protocol.MWErase, at/wb, d.abits, 0, 0)
		if err != nil {
			return errcode.At(errcode.EraseError, "erase block", at, err)
		}
		if err := d.bus.TxBits(cmd, nbits, nil, 0); err != nil {
			return errcode.At(errcode.EraseError, "erase block", at, err)
		}
	}
	return nil
}

// ProgramPage writes word by word; there is no page buffer.
func (d *microwire) ProgramPage(ctx context.Context, addr uint32, data []byte) error {
	if err := checkPage(d.chip, addr, len(data)); err != nil {
		return err
	}
	if err := d.checkAligned(errcode.WriteError, "program page", addr, len(data)); err != nil {
		return err
	}
	if err := d.extended(protocol.MWEraseWriteEnable); err != nil {
		return errcode.At(errcode.WriteError, "program page", addr, err)
	}
	wb := d.wordBytes()
	for i := uint32(0); i < uint32(len(data)); i += wb {
		at := addr + i
		if i > 0 {
			if err := d.WaitUntilReady(ctx, d.cfg.WordTimeout); err != nil {
				return errcode.At(errcode.WriteError, "program page", at, err)
			}
		}
		word := protocol.ParseMicrowireWord(data[i:i+wb], d.org)
		cmd, nbits, err := protocol.BuildMicrowireCmd(protocol.MWWrite, at/wb, d.abits, word, d.org)
		if err != nil {
			return errcode.At(errcode.WriteError, "program page", at, err)
		}
		if err := d.bus.TxBits(cmd, nbits, nil, 0); err != nil {
			return errcode.At(errcode.WriteError, "program page", at, err)
		}
	}
	return nil
}

// EraseChip issues ERAL.
func (d *microwire) EraseChip(ctx context.Context) error {
	if err := d.extended(protocol.MWEraseWriteEnable); err != nil {
		return errcode.At(errcode.EraseError, "erase chip", 0, err)
	}
	if err := d.extended(protocol.MWEraseAll); err != nil {
		return errcode.At(errcode.EraseError, "erase chip", 0, err)
	}
	return nil
}

// WaitUntilReady samples DO with chip select raised; it goes high when the
// write cycle ends.
func (d *microwire) WaitUntilReady(ctx context.Context, timeout time.Duration) error {
	return pollUntilReady(ctx, timeout, d.cfg.PollInterval, func() (bool, error) {
		r := make([]byte, 1)
		if err := d.bus.TxBits(nil, 0, r, 1); err != nil {
			return false, err
		}
		return r[0]&0x80 == 0, nil
	})
}

func (d *microwire) extended(ext byte) error {
	cmd, nbits, err := protocol.BuildMicrowireExtendedCmd(ext, d.abits, 0, 0)
	if err != nil {
		return err
	}
	return d.bus.TxBits(cmd, nbits, nil, 0)
}
