package protocol

// OpcodeSet holds the SPI flash opcodes for one address width.
type OpcodeSet struct {
	// Read is the array read opcode
	Read byte

	// Program is the page program opcode
	Program byte

	// Erase4K is the 4 KiB sector erase opcode
	Erase4K byte

	// Erase32K is the 32 KiB block erase opcode
	Erase32K byte

	// Erase64K is the 64 KiB block erase opcode
	Erase64K byte
}

// Opcodes3B is the classic 3-byte address command set.
var Opcodes3B = OpcodeSet{
	Read:     OpReadData,
	Program:  OpPageProgram,
	Erase4K:  OpSectorErase,
	Erase32K: OpBlockErase32K,
	Erase64K: OpBlockErase64K,
}

// Opcodes4B is the dedicated 4-byte address command set.
var Opcodes4B = OpcodeSet{
	Read:     OpReadData4B,
	Program:  OpPageProgram4B,
	Erase4K:  OpSectorErase4B,
	Erase32K: OpBlockErase32K4B,
	Erase64K: OpBlockErase64K4B,
}

// OpcodesFor returns the command set for an address width.
func OpcodesFor(addressWidth int) OpcodeSet {
	if addressWidth == 4 {
		return Opcodes4B
	}
	return Opcodes3B
}

// EraseOpcode returns the opcode erasing blockSize bytes.
// The second result is false when no single instruction erases that size.
func (s OpcodeSet) EraseOpcode(blockSize uint32) (byte, bool) {
	switch blockSize {
	case Erase4K:
		return s.Erase4K, true
	case Erase32K:
		return s.Erase32K, true
	case Erase64K:
		return s.Erase64K, true
	}
	return 0, false
}
