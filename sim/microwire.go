package sim

import (
	"github.com/moffa90/go-chipprog/chipdb"
	"github.com/moffa90/go-chipprog/protocol"
)

// MicrowireEEPROM simulates a 93Cxx EEPROM. Mem holds words high byte first.
type MicrowireEEPROM struct {
	Chip chipdb.Descriptor
	Mem  []byte

	// BusyPolls is the number of ready samples that read low after a write
	BusyPolls int

	// Absent leaves DO floating high
	Absent bool

	busy int
	ewen bool
}

// NewMicrowireEEPROM creates an erased MicroWire EEPROM. Writes are
// disabled until EWEN, as after power-up.
func NewMicrowireEEPROM(chip chipdb.Descriptor) *MicrowireEEPROM {
	return &MicrowireEEPROM{Chip: chip, Mem: filled(int(chip.Size), chip.ErasedValue())}
}

// WriteEnabled reports whether EWEN is in effect.
func (m *MicrowireEEPROM) WriteEnabled() bool { return m.ewen }

func (m *MicrowireEEPROM) wordBytes() uint32 {
	return uint32(m.Chip.Microwire.Organization / 8)
}

// TxBits implements MicrowireChip.
func (m *MicrowireEEPROM) TxBits(w []byte, wbits int, r []byte, rbits int) error {
	if m.Absent {
		for i := range r {
			r[i] = 0xFF
		}
		return nil
	}

	if wbits == 0 {
		if len(r) > 0 {
			r[0] = 0x80
			if m.busy > 0 {
				m.busy--
				r[0] = 0x00
			}
		}
		return nil
	}

	abits := m.Chip.Microwire.AddressBits
	if wbits < 3+abits || bitAt(w, 0) == 0 {
		return nil
	}
	op := byte(field(w, 1, 2))
	addr := uint32(field(w, 3, abits))
	data := uint16(field(w, 3+abits, wbits-3-abits))

	wb := m.wordBytes()
	if (addr+1)*wb > uint32(len(m.Mem)) && op != protocol.MWExtended {
		return nil
	}
	switch op {
	case protocol.MWRead:
		readInto(r[:min(len(r), (rbits+7)/8)], m.Mem, addr*wb)
	case protocol.MWWrite:
		if m.ewen {
			m.putWord(addr, data)
			m.busy = m.BusyPolls
		}
	case protocol.MWErase:
		if m.ewen {
			fill(m.Mem[addr*wb:(addr+1)*wb], m.Chip.ErasedValue())
			m.busy = m.BusyPolls
		}
	case protocol.MWExtended:
		switch byte(addr >> (abits - 2)) {
		case protocol.MWEraseWriteEnable:
			m.ewen = true
		case protocol.MWEraseWriteDisable:
			m.ewen = false
		case protocol.MWEraseAll:
			if m.ewen {
				fill(m.Mem, m.Chip.ErasedValue())
				m.busy = m.BusyPolls
			}
		case protocol.MWWriteAll:
			if m.ewen {
				for a := uint32(0); a < uint32(len(m.Mem))/wb; a++ {
					m.putWord(a, data)
				}
				m.busy = m.BusyPolls
			}
		}
	}
	return nil
}

func (m *MicrowireEEPROM) putWord(addr uint32, v uint16) {
	at := addr * m.wordBytes()
	if m.wordBytes() == 2 {
		m.Mem[at] = byte(v >> 8)
		m.Mem[at+1] = byte(v)
		return
	}
	m.Mem[at] = byte(v)
}

func bitAt(b []byte, i int) uint64 {
	return uint64(b[i/8]>>(7-i%8)) & 1
}

// field reads n bits starting at bit off, MSB first.
func field(b []byte, off, n int) uint64 {
	var v uint64
	for i := 0; i < n; i++ {
		v = v<<1 | bitAt(b, off+i)
	}
	return v
}
