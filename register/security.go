package register

import (
	"context"
	"fmt"

	"github.com/moffa90/go-chipprog/chipdb"
	"github.com/moffa90/go-chipprog/errcode"
	"github.com/moffa90/go-chipprog/protocol"
	"github.com/moffa90/go-chipprog/transport"
)

// Security accesses the security register sectors of a SPI flash.
type Security struct {
	adapter transport.Adapter
	chip    chipdb.Descriptor
	wait    Waiter
	cfg     Config
}

// NewSecurity binds security register access to an adapter and chip.
// adapter may be nil; every call then fails with Disconnected.
func NewSecurity(adapter transport.Adapter, chip chipdb.Descriptor, wait Waiter, opts ...Option) *Security {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Security{adapter: adapter, chip: chip, wait: wait, cfg: cfg}
}

// Size returns the size of one sector.
func (s *Security) Size() uint32 { return s.chip.SecurityRegisterSize }

// Count returns the number of sectors.
func (s *Security) Count() int { return s.chip.SecurityRegisters }

// check validates a call before any transport use.
func (s *Security) check(idx int) error {
	if s.chip.SecurityRegisters == 0 {
		return errcode.Wrap(errcode.UnsupportedChip, fmt.Errorf("%s has no security registers", s.chip))
	}
	if idx < 0 || idx >= s.chip.SecurityRegisters {
		return errcode.Wrap(errcode.OutOfRange,
			fmt.Errorf("security register %d: %s has %d", idx, s.chip, s.chip.SecurityRegisters))
	}
	return nil
}

func (s *Security) connected() error {
	if s.adapter == nil || !s.adapter.Connected() {
		return errcode.Disconnected
	}
	return nil
}

// Read returns the whole sector idx.
func (s *Security) Read(ctx context.Context, idx int) ([]byte, error) {
	if err := s.check(idx); err != nil {
		return nil, err
	}
	if err := s.connected(); err != nil {
		return nil, err
	}
	n := int(s.Size())
	frame, err := protocol.BuildSecurityReadCmd(idx, 0, n)
	if err != nil {
		return nil, errcode.Wrap(errcode.ReadError, err)
	}
	rx := make([]byte, len(frame))
	if err := s.adapter.SPI().Tx(frame, rx); err != nil {
		return nil, errcode.At(errcode.ReadError, "read security register",
			protocol.SecurityRegisterAddress(idx, 0), err)
	}
	out := make([]byte, n)
	copy(out, protocol.Payload(rx, protocol.SecurityReadHeaderLen))
	return out, nil
}

// Erase clears sector idx to the erased value.
func (s *Security) Erase(ctx context.Context, idx int) error {
	if err := s.check(idx); err != nil {
		return err
	}
	if err := s.connected(); err != nil {
		return err
	}
	return s.erase(ctx, idx)
}

func (s *Security) erase(ctx context.Context, idx int) error {
	addr := protocol.SecurityRegisterAddress(idx, 0)
	frame, err := protocol.BuildSecurityEraseCmd(idx)
	if err != nil {
		return errcode.At(errcode.EraseError, "erase security register", addr, err)
	}
	bus := s.adapter.SPI()
	for _, f := range [][]byte{{protocol.OpWriteEnable}, frame} {
		if err := bus.Tx(f, nil); err != nil {
			return errcode.At(errcode.EraseError, "erase security register", addr, err)
		}
	}
	if err := s.wait.WaitUntilReady(ctx, s.cfg.ReadyTimeout); err != nil {
		return errcode.At(errcode.EraseError, "erase security register", addr, err)
	}
	return nil
}

// Write erases sector idx and programs buf from its start, page by page.
// A buffer larger than the sector is rejected before the bus is touched.
// Transport failures, the leading erase included, are WriteError.
func (s *Security) Write(ctx context.Context, idx int, buf []byte) error {
	if err := s.check(idx); err != nil {
		return err
	}
	if uint32(len(buf)) > s.Size() {
		return errcode.Wrap(errcode.SizeExceeded,
			fmt.Errorf("%d bytes exceed the %d-byte security register", len(buf), s.Size()))
	}
	if err := s.connected(); err != nil {
		return err
	}

	if err := s.erase(ctx, idx); err != nil {
		return errcode.At(errcode.WriteError, "write security register",
			protocol.SecurityRegisterAddress(idx, 0), err)
	}
	bus := s.adapter.SPI()
	page := s.chip.PageSize
	for off := uint32(0); off < uint32(len(buf)); off += page {
		if err := ctx.Err(); err != nil {
			return errcode.Wrap(errcode.Aborted, err)
		}
		addr := protocol.SecurityRegisterAddress(idx, off)
		chunk := buf[off:min(off+page, uint32(len(buf)))]
		frame, err := protocol.BuildSecurityProgramCmd(idx, off, chunk)
		if err != nil {
			return errcode.At(errcode.WriteError, "write security register", addr, err)
		}
		for _, f := range [][]byte{{protocol.OpWriteEnable}, frame} {
			if err := bus.Tx(f, nil); err != nil {
				return errcode.At(errcode.WriteError, "write security register", addr, err)
			}
		}
		if err := s.wait.WaitUntilReady(ctx, s.cfg.ReadyTimeout); err != nil {
			return errcode.At(errcode.WriteError, "write security register", addr, err)
		}
	}
	return nil
}
