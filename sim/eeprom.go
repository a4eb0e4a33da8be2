package sim

import (
	"github.com/moffa90/go-chipprog/chipdb"
	"github.com/moffa90/go-chipprog/protocol"
	"github.com/moffa90/go-chipprog/transport"
)

// SPIEEPROM simulates a 25xx/M95xx SPI EEPROM. Writes overwrite bytes and
// wrap inside the page.
type SPIEEPROM struct {
	Chip chipdb.Descriptor
	Mem  []byte

	// Status holds the block protect bits of the status register
	Status byte

	// BusyPolls is the number of status reads that report WIP after a write
	BusyPolls int

	// Absent leaves MISO floating, as with an empty socket
	Absent bool

	busy int
	wel  bool
}

// NewSPIEEPROM creates an erased SPI EEPROM.
func NewSPIEEPROM(chip chipdb.Descriptor) *SPIEEPROM {
	return &SPIEEPROM{Chip: chip, Mem: filled(int(chip.Size), chip.ErasedValue())}
}

// Exchange implements SPIChip.
func (e *SPIEEPROM) Exchange(w []byte) []byte {
	r := filled(len(w), 0xFF)
	if len(w) == 0 || e.Absent {
		return r
	}

	op := w[0]
	width := e.Chip.AddressWidth
	var high uint32
	if width == 1 && op&protocol.EEPROMA8 != 0 {
		if base := op &^ protocol.EEPROMA8; base == protocol.OpEEPROMRead || base == protocol.OpEEPROMWrite {
			op = base
			high = 0x100
		}
	}

	switch op {
	case protocol.OpWriteEnable:
		e.wel = true
	case protocol.OpWriteDisable:
		e.wel = false
	case protocol.OpEEPROMReadStatus:
		v := e.Status &^ (protocol.StatusWIP | protocol.StatusWEL)
		if e.busy > 0 {
			e.busy--
			v |= protocol.StatusWIP
		}
		if e.wel {
			v |= protocol.StatusWEL
		}
		for i := 1; i < len(r); i++ {
			r[i] = v
		}
	case protocol.OpEEPROMWriteStatus:
		if e.wel && len(w) >= 2 {
			e.Status = w[1] &^ (protocol.StatusWIP | protocol.StatusWEL)
			e.startCycle()
		}
	case protocol.OpEEPROMRead:
		if addr, ok := address(w, width); ok {
			readInto(r[1+width:], e.Mem, addr|high)
		}
	case protocol.OpEEPROMWrite:
		if addr, ok := address(w, width); ok && e.wel && e.busy == 0 {
			pageWrite(e.Mem, e.Chip.PageSize, addr|high, w[1+width:])
			e.startCycle()
		}
	}
	return r
}

func (e *SPIEEPROM) startCycle() {
	e.wel = false
	e.busy = e.BusyPolls
}

// pageWrite overwrites data at addr, wrapping at the page boundary.
func pageWrite(mem []byte, pageSize, addr uint32, data []byte) {
	base := addr - addr%pageSize
	for i, b := range data {
		at := base + (addr+uint32(i)-base)%pageSize
		if at < uint32(len(mem)) {
			mem[at] = b
		}
	}
}

// I2CEEPROM simulates a 24Cxx EEPROM. It answers on its base address and,
// for parts larger than the word address covers, on the following device
// addresses holding the high address bits.
type I2CEEPROM struct {
	Chip chipdb.Descriptor
	Mem  []byte

	// BusyPolls is the number of addressing attempts that are not
	// acknowledged after a write
	BusyPolls int

	// Absent makes the chip ignore every address
	Absent bool

	busy    int
	pointer uint32
}

// NewI2CEEPROM creates an erased I2C EEPROM.
func NewI2CEEPROM(chip chipdb.Descriptor) *I2CEEPROM {
	return &I2CEEPROM{Chip: chip, Mem: filled(int(chip.Size), chip.ErasedValue())}
}

// Tx implements I2CChip.
func (e *I2CEEPROM) Tx(addr uint16, w, r []byte) error {
	if e.Absent {
		return transport.ErrNack
	}
	width := e.Chip.AddressWidth
	segment := uint32(1) << (8 * width)
	segments := max((e.Chip.Size+segment-1)/segment, 1)

	base := e.Chip.I2CAddress
	if addr < base || uint32(addr-base) >= segments {
		return transport.ErrNack
	}
	if e.busy > 0 {
		e.busy--
		return transport.ErrNack
	}

	if len(w) >= width {
		var word uint32
		for _, b := range w[:width] {
			word = word<<8 | uint32(b)
		}
		e.pointer = (uint32(addr-base)*segment | word) % e.Chip.Size
		if data := w[width:]; len(data) > 0 {
			pageWrite(e.Mem, e.Chip.PageSize, e.pointer, data)
			e.busy = e.BusyPolls
			return nil
		}
	}
	if len(r) > 0 {
		readInto(r, e.Mem, e.pointer)
		e.pointer = (e.pointer + uint32(len(r))) % e.Chip.Size
	}
	return nil
}
