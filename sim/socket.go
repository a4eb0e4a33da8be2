package sim

import (
	"fmt"

	"github.com/moffa90/go-chipprog/chipdb"
	"github.com/moffa90/go-chipprog/errcode"
)

// Part is a simulated chip whose array can be inspected and altered
// without bus traffic.
type Part interface {
	// Peek returns n bytes of the array starting at addr
	Peek(addr uint32, n int) []byte

	// Poke overwrites the array at addr
	Poke(addr uint32, data []byte)
}

// Socket creates the simulated part for chip and plugs it into the bus its
// protocol uses. busyPolls is the number of busy answers after every
// program, erase or write cycle.
//
// Example:
//
//	adapter, part, err := sim.Socket(chip, 2)
//	engine := programmer.New(adapter.Opener())
func Socket(chip chipdb.Descriptor, busyPolls int) (*Adapter, Part, error) {
	switch chip.Protocol {
	case chipdb.ProtocolSPIFlash:
		f := NewFlash(chip)
		f.BusyPolls = busyPolls
		return New(WithSPI(f)), f, nil
	case chipdb.ProtocolSPIEEPROM:
		e := NewSPIEEPROM(chip)
		e.BusyPolls = busyPolls
		return New(WithSPI(e)), e, nil
	case chipdb.ProtocolSPIDataFlash:
		d := NewDataFlash(chip)
		d.BusyPolls = busyPolls
		return New(WithSPI(d)), d, nil
	case chipdb.ProtocolSPINAND:
		n := NewNAND(chip)
		n.BusyPolls = busyPolls
		return New(WithSPI(n)), n, nil
	case chipdb.ProtocolI2C:
		e := NewI2CEEPROM(chip)
		e.BusyPolls = busyPolls
		return New(WithI2C(e)), e, nil
	case chipdb.ProtocolMicrowire:
		m := NewMicrowireEEPROM(chip)
		m.BusyPolls = busyPolls
		return New(WithMicrowire(m)), m, nil
	}
	return nil, nil, errcode.Wrap(errcode.UnsupportedChip,
		fmt.Errorf("no simulated part for protocol %q", chip.Protocol))
}

func peek(mem []byte, addr uint32, n int) []byte {
	out := make([]byte, n)
	copy(out, mem[addr:])
	return out
}

// Peek implements Part.
func (f *Flash) Peek(addr uint32, n int) []byte { return peek(f.Mem, addr, n) }

// Poke implements Part.
func (f *Flash) Poke(addr uint32, data []byte) { copy(f.Mem[addr:], data) }

// Peek implements Part.
func (e *SPIEEPROM) Peek(addr uint32, n int) []byte { return peek(e.Mem, addr, n) }

// Poke implements Part.
func (e *SPIEEPROM) Poke(addr uint32, data []byte) { copy(e.Mem[addr:], data) }

// Peek implements Part.
func (e *I2CEEPROM) Peek(addr uint32, n int) []byte { return peek(e.Mem, addr, n) }

// Poke implements Part.
func (e *I2CEEPROM) Poke(addr uint32, data []byte) { copy(e.Mem[addr:], data) }

// Peek implements Part.
func (m *MicrowireEEPROM) Peek(addr uint32, n int) []byte { return peek(m.Mem, addr, n) }

// Poke implements Part.
func (m *MicrowireEEPROM) Poke(addr uint32, data []byte) { copy(m.Mem[addr:], data) }

// Peek implements Part.
func (d *DataFlash) Peek(addr uint32, n int) []byte { return peek(d.Mem, addr, n) }

// Poke implements Part.
func (d *DataFlash) Poke(addr uint32, data []byte) { copy(d.Mem[addr:], data) }

// Peek implements Part.
func (n *NAND) Peek(addr uint32, size int) []byte { return n.ReadAt(addr, size) }

// Poke implements Part.
func (n *NAND) Poke(addr uint32, data []byte) {
	for i, b := range data {
		at := addr + uint32(i)
		row := at / n.Chip.PageSize
		p := n.page(row)
		p[at%n.Chip.PageSize] = b
		n.pages[row] = p
	}
}
