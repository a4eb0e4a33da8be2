package sim

import (
	"github.com/moffa90/go-chipprog/chipdb"
	"github.com/moffa90/go-chipprog/protocol"
)

// Flash simulates a 25xx SPI NOR flash with status, security registers,
// unique ID and SFDP. Programming only clears bits, as on real NOR cells.
type Flash struct {
	// Chip is the simulated part
	Chip chipdb.Descriptor

	// Mem is the array content
	Mem []byte

	// JEDEC is returned by 0x9F
	JEDEC [3]byte

	// SFDP is the discoverable parameter space; nil answers 0xFF
	SFDP []byte

	// UniqueID is returned by 0x4B
	UniqueID [8]byte

	// Status holds SR1-SR3; WIP and WEL of SR1 are computed
	Status [3]byte

	// Security holds the security register sectors
	Security [][]byte

	// BusyPolls is the number of status reads that report WIP after each
	// program, erase or status write
	BusyPolls int

	// StatusWrites counts accepted status register writes
	StatusWrites int

	// ChipErases counts accepted chip erase instructions
	ChipErases int

	busy int
	wel  bool
}

// NewFlash creates an erased flash for chip with a generated SFDP table.
func NewFlash(chip chipdb.Descriptor) *Flash {
	f := &Flash{
		Chip:     chip,
		Mem:      filled(int(chip.Size), chip.ErasedValue()),
		JEDEC:    chip.JEDEC,
		SFDP:     BuildSFDP(chip),
		UniqueID: [8]byte{0xD1, 0x63, 0x4C, 0x1B, 0x07, 0x2A, 0x5E, 0x30},
	}
	for i := 0; i < chip.SecurityRegisters; i++ {
		f.Security = append(f.Security, filled(int(chip.SecurityRegisterSize), 0xFF))
	}
	return f
}

func filled(n int, v byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = v
	}
	return b
}

// address decodes width bytes after the opcode.
func address(w []byte, width int) (uint32, bool) {
	if len(w) < 1+width {
		return 0, false
	}
	var a uint32
	for _, b := range w[1 : 1+width] {
		a = a<<8 | uint32(b)
	}
	return a, true
}

// Exchange implements SPIChip.
func (f *Flash) Exchange(w []byte) []byte {
	r := filled(len(w), 0xFF)
	if len(w) == 0 {
		return r
	}

	switch op := w[0]; op {
	case protocol.OpWriteEnable:
		f.wel = true
	case protocol.OpWriteDisable:
		f.wel = false

	case protocol.OpReadStatus[0], protocol.OpReadStatus[1], protocol.OpReadStatus[2]:
		v := f.status(statusIndex(protocol.OpReadStatus, op))
		for i := 1; i < len(r); i++ {
			r[i] = v
		}
	case protocol.OpWriteStatus[0], protocol.OpWriteStatus[1], protocol.OpWriteStatus[2]:
		idx := statusIndex(protocol.OpWriteStatus, op)
		if f.wel && len(w) >= 2 && idx < f.Chip.StatusRegisters {
			v := w[1]
			if idx == 0 {
				v &^= protocol.StatusWIP | protocol.StatusWEL
			}
			f.Status[idx] = v
			f.StatusWrites++
			f.startCycle()
		}

	case protocol.OpReadJEDEC:
		copy(r[1:], f.JEDEC[:])
	case protocol.OpReadSFDP:
		if addr, ok := address(w, 3); ok && f.SFDP != nil {
			readInto(r[1+3+protocol.SFDPDummyBytes:], f.SFDP, addr)
		}
	case protocol.OpReadUniqueID:
		if len(r) > protocol.UniqueIDHeaderLen {
			copy(r[protocol.UniqueIDHeaderLen:], f.UniqueID[:])
		}

	case protocol.OpReadData, protocol.OpReadData4B:
		width := addressWidth(op == protocol.OpReadData4B)
		if addr, ok := address(w, width); ok {
			readInto(r[1+width:], f.Mem, addr)
		}
	case protocol.OpPageProgram, protocol.OpPageProgram4B:
		width := addressWidth(op == protocol.OpPageProgram4B)
		if addr, ok := address(w, width); ok && f.wel {
			f.program(addr, w[1+width:])
		}

	case protocol.OpSectorErase, protocol.OpSectorErase4B:
		f.erase(w, op == protocol.OpSectorErase4B, protocol.Erase4K)
	case protocol.OpBlockErase32K, protocol.OpBlockErase32K4B:
		f.erase(w, op == protocol.OpBlockErase32K4B, protocol.Erase32K)
	case protocol.OpBlockErase64K, protocol.OpBlockErase64K4B:
		f.erase(w, op == protocol.OpBlockErase64K4B, protocol.Erase64K)
	case protocol.OpChipErase:
		if f.wel {
			fill(f.Mem, f.Chip.ErasedValue())
			f.ChipErases++
			f.startCycle()
		}

	case protocol.OpReadSecurity:
		if idx, off, ok := f.securityAddress(w); ok {
			readInto(r[protocol.SecurityReadHeaderLen:], f.Security[idx][off:], 0)
		}
	case protocol.OpEraseSecurity:
		if idx, _, ok := f.securityAddress(w); ok && f.wel {
			fill(f.Security[idx], 0xFF)
			f.startCycle()
		}
	case protocol.OpProgramSecurity:
		if idx, off, ok := f.securityAddress(w); ok && f.wel {
			reg := f.Security[idx]
			for i, b := range w[4:] {
				if int(off)+i < len(reg) {
					reg[int(off)+i] &= b
				}
			}
			f.startCycle()
		}
	}
	return r
}

func (f *Flash) status(idx int) byte {
	v := f.Status[idx]
	if idx != 0 {
		return v
	}
	v &^= protocol.StatusWIP | protocol.StatusWEL
	if f.busy > 0 {
		f.busy--
		v |= protocol.StatusWIP
	}
	if f.wel {
		v |= protocol.StatusWEL
	}
	return v
}

// startCycle begins an internal write cycle and clears WEL.
func (f *Flash) startCycle() {
	f.wel = false
	f.busy = f.BusyPolls
}

// program clears bits within one page; the address wraps inside the page.
func (f *Flash) program(addr uint32, data []byte) {
	page := f.Chip.PageSize
	base := addr - addr%page
	for i, b := range data {
		at := base + (addr+uint32(i)-base)%page
		if at < uint32(len(f.Mem)) {
			f.Mem[at] &= b
		}
	}
	f.startCycle()
}

func (f *Flash) erase(w []byte, fourByte bool, size uint32) {
	addr, ok := address(w, addressWidth(fourByte))
	if !ok || !f.wel {
		return
	}
	base := addr - addr%size
	if base < uint32(len(f.Mem)) {
		fill(f.Mem[base:min(base+size, uint32(len(f.Mem)))], f.Chip.ErasedValue())
	}
	f.startCycle()
}

func (f *Flash) securityAddress(w []byte) (int, uint32, bool) {
	addr, ok := address(w, 3)
	if !ok {
		return 0, 0, false
	}
	idx := int(addr>>12) - 1
	off := addr & 0xFFF
	if idx < 0 || idx >= len(f.Security) || off >= uint32(len(f.Security[idx])) {
		return 0, 0, false
	}
	return idx, off, true
}

func statusIndex(ops [3]byte, op byte) int {
	for i, o := range ops {
		if o == op {
			return i
		}
	}
	return 0
}

func addressWidth(fourByte bool) int {
	if fourByte {
		return 4
	}
	return 3
}

// readInto copies src from addr into dst, wrapping at the end of src.
func readInto(dst, src []byte, addr uint32) {
	if len(src) == 0 {
		return
	}
	for i := range dst {
		dst[i] = src[(int(addr)+i)%len(src)]
	}
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}
