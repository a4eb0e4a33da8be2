// Package register manages the status and security registers of SPI flash.
//
// Status registers are written as whole bytes, so a StatusSession only
// writes a register it has read in the same session; the unread bits would
// otherwise be clobbered:
//
//	session := register.NewStatusSession(adapter.SPI(), chip, drv)
//	if _, err := session.Read(ctx, 1); err != nil {
//	    return err
//	}
//	st, err := session.Write(ctx, 1, register.Changes{1: true}) // QE
//
// Security registers are Winbond-style OTP sectors reached with 0x48, 0x44
// and 0x42.
package register

import (
	"context"
	"fmt"
	"time"

	"tinygo.org/x/drivers"

	"github.com/moffa90/go-chipprog/chipdb"
	"github.com/moffa90/go-chipprog/errcode"
	"github.com/moffa90/go-chipprog/protocol"
)

// bitNames are the status register bit names, least significant bit first.
var bitNames = [3][8]string{
	{"WIP", "WEL", "BP0", "BP1", "BP2", "BP3", "BP4", "SRP0"},
	{"SRP1", "QE", "R", "LB1", "LB2", "LB3", "CMP", "SUS"},
	{"ADS", "ADP", "WPS", "R", "R", "DRV0", "DRV1", "R"},
}

// Waiter waits for the chip to finish an internal cycle. driver.Driver
// implements it.
type Waiter interface {
	WaitUntilReady(ctx context.Context, timeout time.Duration) error
}

// Bit is one named bit of a status register.
type Bit struct {
	Name  string
	Index uint
	Set   bool
}

// Status is one status register value and its decomposition.
type Status struct {
	// Register is the register index (0 for SR1)
	Register int

	// Raw is the register byte
	Raw byte

	// Bits lists the bits from bit 0 to bit 7
	Bits []Bit
}

func newStatus(idx int, raw byte) Status {
	st := Status{Register: idx, Raw: raw}
	for i, name := range bitNames[idx] {
		st.Bits = append(st.Bits, Bit{Name: name, Index: uint(i), Set: raw&(1<<i) != 0})
	}
	return st
}

// Bit returns the value of the named bit. Reserved bits ("R") are not
// addressable by name.
func (s Status) Bit(name string) (set bool, ok bool) {
	for _, b := range s.Bits {
		if b.Name == name && name != "R" {
			return b.Set, true
		}
	}
	return false, false
}

func (s Status) String() string {
	out := fmt.Sprintf("SR%d=0x%02X", s.Register+1, s.Raw)
	for i := len(s.Bits) - 1; i >= 0; i-- {
		v := 0
		if s.Bits[i].Set {
			v = 1
		}
		out += fmt.Sprintf(" %s=%d", s.Bits[i].Name, v)
	}
	return out
}

// Changes maps bit numbers (0-7) to their new values.
type Changes map[uint]bool

// ChangesByName resolves bit names of register idx into Changes.
func ChangesByName(idx int, names map[string]bool) (Changes, error) {
	if idx < 0 || idx >= len(bitNames) {
		return nil, errcode.Wrap(errcode.OutOfRange, fmt.Errorf("status register %d", idx))
	}
	c := Changes{}
	for name, v := range names {
		found := false
		for i, n := range bitNames[idx] {
			if n == name && n != "R" {
				c[uint(i)] = v
				found = true
			}
		}
		if !found {
			return nil, errcode.Wrap(errcode.InvalidFormat,
				fmt.Errorf("status register %d has no bit %q", idx+1, name))
		}
	}
	return c, nil
}

// apply returns raw with the changes merged in.
func (c Changes) apply(raw byte) (byte, error) {
	for bit, v := range c {
		if bit > 7 {
			return 0, errcode.Wrap(errcode.InvalidFormat, fmt.Errorf("bit %d out of range", bit))
		}
		if v {
			raw |= 1 << bit
		} else {
			raw &^= 1 << bit
		}
	}
	return raw, nil
}

// StatusSession reads and writes status registers. A register must be
// read in the session before it is written. Not safe for concurrent use.
type StatusSession struct {
	bus   drivers.SPI
	chip  chipdb.Descriptor
	wait  Waiter
	cfg   Config
	cache map[int]byte
}

// NewStatusSession starts a session with no registers read.
func NewStatusSession(bus drivers.SPI, chip chipdb.Descriptor, wait Waiter, opts ...Option) *StatusSession {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &StatusSession{bus: bus, chip: chip, wait: wait, cfg: cfg, cache: map[int]byte{}}
}

// Reset forgets every register read so far.
func (s *StatusSession) Reset() {
	clear(s.cache)
}

func (s *StatusSession) checkIndex(idx int) error {
	if s.chip.StatusRegisters == 0 {
		return errcode.Wrap(errcode.UnsupportedChip, fmt.Errorf("%s has no status registers", s.chip))
	}
	if idx < 0 || idx >= s.chip.StatusRegisters {
		return errcode.Wrap(errcode.OutOfRange,
			fmt.Errorf("status register %d: %s has %d", idx+1, s.chip, s.chip.StatusRegisters))
	}
	return nil
}

// Read reads register idx and records it in the session.
func (s *StatusSession) Read(ctx context.Context, idx int) (Status, error) {
	if err := s.checkIndex(idx); err != nil {
		return Status{}, err
	}
	if err := ctx.Err(); err != nil {
		return Status{}, errcode.Wrap(errcode.Aborted, err)
	}
	frame, err := protocol.BuildReadStatusCmd(idx)
	if err != nil {
		return Status{}, errcode.Wrap(errcode.ReadError, err)
	}
	rx := make([]byte, len(frame))
	if err := s.bus.Tx(frame, rx); err != nil {
		return Status{}, errcode.Wrap(errcode.ReadError, fmt.Errorf("read status register %d: %w", idx+1, err))
	}
	s.cache[idx] = rx[1]
	return newStatus(idx, rx[1]), nil
}

// Write merges changes into the value read earlier, writes it, waits for
// the write cycle and reads the register back.
func (s *StatusSession) Write(ctx context.Context, idx int, changes Changes) (Status, error) {
	if err := s.checkIndex(idx); err != nil {
		return Status{}, err
	}
	raw, ok := s.cache[idx]
	if !ok {
		return Status{}, errcode.Wrap(errcode.PrecededByReadRequired,
			fmt.Errorf("status register %d was not read in this session", idx+1))
	}
	merged, err := changes.apply(raw)
	if err != nil {
		return Status{}, err
	}
	frame, err := protocol.BuildWriteStatusCmd(idx, merged)
	if err != nil {
		return Status{}, errcode.Wrap(errcode.WriteError, err)
	}

	for _, f := range [][]byte{{protocol.OpWriteEnable}, frame} {
		if err := s.bus.Tx(f, nil); err != nil {
			return Status{}, errcode.Wrap(errcode.WriteError,
				fmt.Errorf("write status register %d: %w", idx+1, err))
		}
	}
	if err := s.wait.WaitUntilReady(ctx, s.cfg.ReadyTimeout); err != nil {
		return Status{}, err
	}
	return s.Read(ctx, idx)
}
