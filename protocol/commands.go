package protocol

import (
	"fmt"
	"math/bits"
)

// appendAddress appends addr as width bytes, most significant first.
func appendAddress(frame []byte, addr uint32, width int) ([]byte, error) {
	if width < 1 || width > MaxAddressWidth {
		return nil, fmt.Errorf("address width must be 1-%d bytes, got %d", MaxAddressWidth, width)
	}
	if width < 4 && addr>>(8*width) != 0 {
		return nil, fmt.Errorf("address 0x%X does not fit %d bytes", addr, width)
	}
	for i := width - 1; i >= 0; i-- {
		frame = append(frame, byte(addr>>(8*i)))
	}
	return frame, nil
}

// ReadHeaderLen returns the command bytes preceding data in an array read.
func ReadHeaderLen(width int) int {
	return 1 + width
}

// Payload returns the bytes clocked in after a command header of n bytes.
func Payload(rx []byte, n int) []byte {
	if n >= len(rx) {
		return nil
	}
	return rx[n:]
}

// BuildAddressCmd constructs an opcode followed by an address.
//
// Frame structure:
//
//	[OPCODE][ADDR(width)]
func BuildAddressCmd(op byte, addr uint32, width int) ([]byte, error) {
	frame := make([]byte, 0, 1+width)
	frame = append(frame, op)
	return appendAddress(frame, addr, width)
}

// BuildReadCmd constructs an array read of n bytes.
// The frame is padded with n clock bytes for a full-duplex transfer.
//
// Frame structure:
//
//	[OPCODE][ADDR(width)][0x00 * n]
func BuildReadCmd(op byte, addr uint32, width int, n int) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("read length must be positive, got %d", n)
	}
	frame, err := BuildAddressCmd(op, addr, width)
	if err != nil {
		return nil, err
	}
	return append(frame, make([]byte, n)...), nil
}

// BuildProgramCmd constructs a page program frame.
//
// Frame structure:
//
//	[OPCODE][ADDR(width)][DATA...]
//
// The data must not cross a page boundary; the chip wraps within the page.
func BuildProgramCmd(op byte, addr uint32, width int, data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("data cannot be empty")
	}
	frame, err := BuildAddressCmd(op, addr, width)
	if err != nil {
		return nil, err
	}
	return append(frame, data...), nil
}

// BuildEraseCmd constructs the erase frame for a block of blockSize bytes.
func BuildEraseCmd(ops OpcodeSet, blockSize uint32, addr uint32, width int) ([]byte, error) {
	op, ok := ops.EraseOpcode(blockSize)
	if !ok {
		return nil, fmt.Errorf("no erase instruction for %d-byte blocks", blockSize)
	}
	if addr%blockSize != 0 {
		return nil, fmt.Errorf("erase address 0x%X is not aligned to %d bytes", addr, blockSize)
	}
	return BuildAddressCmd(op, addr, width)
}

// BuildReadStatusCmd constructs a status register read for register idx (0-2).
//
// Frame structure:
//
//	[OPCODE][0x00]
func BuildReadStatusCmd(idx int) ([]byte, error) {
	if idx < 0 || idx >= len(OpReadStatus) {
		return nil, fmt.Errorf("status register index %d out of range 0-%d", idx, len(OpReadStatus)-1)
	}
	return []byte{OpReadStatus[idx], 0x00}, nil
}

// BuildWriteStatusCmd constructs a status register write for register idx (0-2).
//
// Frame structure:
//
//	[OPCODE][VALUE]
func BuildWriteStatusCmd(idx int, value byte) ([]byte, error) {
	if idx < 0 || idx >= len(OpWriteStatus) {
		return nil, fmt.Errorf("status register index %d out of range 0-%d", idx, len(OpWriteStatus)-1)
	}
	return []byte{OpWriteStatus[idx], value}, nil
}

// BuildJEDECCmd constructs the JEDEC ID read.
//
// Frame structure:
//
//	[0x9F][0x00 * 3]
func BuildJEDECCmd() []byte {
	return []byte{OpReadJEDEC, 0x00, 0x00, 0x00}
}

// BuildSFDPReadCmd constructs an SFDP read of n bytes at addr.
//
// Frame structure:
//
//	[0x5A][ADDR(3)][DUMMY][0x00 * n]
func BuildSFDPReadCmd(addr uint32, n int) ([]byte, error) {
	return BuildReadCmd(OpReadSFDP, addr, 3, SFDPDummyBytes+n)
}

// SFDPHeaderLen is the number of command bytes before SFDP data.
const SFDPHeaderLen = 1 + 3 + SFDPDummyBytes

// BuildUniqueIDCmd constructs the unique ID read.
//
// Frame structure:
//
//	[0x4B][DUMMY * 4][0x00 * 8]
func BuildUniqueIDCmd() []byte {
	frame := make([]byte, 1+UniqueIDDummyBytes+UniqueIDSize)
	frame[0] = OpReadUniqueID
	return frame
}

// UniqueIDHeaderLen is the number of command bytes before the unique ID.
const UniqueIDHeaderLen = 1 + UniqueIDDummyBytes

// SecurityRegisterAddress returns the address of a byte in security register
// index. Registers sit at 0x001000, 0x002000, 0x003000.
func SecurityRegisterAddress(index int, offset uint32) uint32 {
	return uint32(index+1)<<12 | offset
}

// BuildSecurityReadCmd constructs a security register read of n bytes.
//
// Frame structure:
//
//	[0x48][ADDR(3)][DUMMY][0x00 * n]
func BuildSecurityReadCmd(index int, offset uint32, n int) ([]byte, error) {
	return BuildReadCmd(OpReadSecurity, SecurityRegisterAddress(index, offset), 3, 1+n)
}

// SecurityReadHeaderLen is the number of command bytes before security register data.
const SecurityReadHeaderLen = 1 + 3 + 1

// BuildSecurityEraseCmd constructs a security register erase.
func BuildSecurityEraseCmd(index int) ([]byte, error) {
	return BuildAddressCmd(OpEraseSecurity, SecurityRegisterAddress(index, 0), 3)
}

// BuildSecurityProgramCmd constructs a security register program.
func BuildSecurityProgramCmd(index int, offset uint32, data []byte) ([]byte, error) {
	return BuildProgramCmd(OpProgramSecurity, SecurityRegisterAddress(index, offset), 3, data)
}

// BuildEEPROMCmd constructs an SPI EEPROM command with an address.
// One-byte address parts carry address bit 8 in opcode bit 3 (25xx040, M95040).
//
// Frame structure:
//
//	[OPCODE|A8][ADDR(width)]
func BuildEEPROMCmd(op byte, addr uint32, width int) ([]byte, error) {
	if width == 1 && addr > 0xFF {
		if addr > 0x1FF {
			return nil, fmt.Errorf("address 0x%X does not fit a 1-byte EEPROM", addr)
		}
		op |= EEPROMA8
		addr &= 0xFF
	}
	return BuildAddressCmd(op, addr, width)
}

// DataFlashAddress converts a linear address into the page/offset address
// of a DataFlash with pageSize-byte pages.
//
// For 264-byte pages the offset takes 9 bits and the page number follows:
//
//	addr = page<<9 | offset
func DataFlashAddress(addr uint32, pageSize uint32) uint32 {
	offsetBits := bits.Len32(pageSize - 1)
	page := addr / pageSize
	offset := addr % pageSize
	return page<<offsetBits | offset
}

// BuildDataFlashReadCmd constructs a continuous array read of n bytes.
func BuildDataFlashReadCmd(addr, pageSize uint32, n int) ([]byte, error) {
	return BuildReadCmd(OpDataFlashRead, DataFlashAddress(addr, pageSize), 3, n)
}

// BuildDataFlashProgramCmd constructs a main memory page program through buffer 1.
func BuildDataFlashProgramCmd(addr, pageSize uint32, data []byte) ([]byte, error) {
	if uint32(len(data))+addr%pageSize > pageSize {
		return nil, fmt.Errorf("data of %d bytes crosses a %d-byte page", len(data), pageSize)
	}
	return BuildProgramCmd(OpDataFlashProgram, DataFlashAddress(addr, pageSize), 3, data)
}

// BuildDataFlashPageEraseCmd constructs a page erase.
func BuildDataFlashPageEraseCmd(addr, pageSize uint32) ([]byte, error) {
	if addr%pageSize != 0 {
		return nil, fmt.Errorf("erase address 0x%X is not aligned to %d bytes", addr, pageSize)
	}
	return BuildAddressCmd(OpDataFlashPageErase, DataFlashAddress(addr, pageSize), 3)
}

// BuildNANDRowCmd constructs a SPI NAND command with a 24-bit row (page) address.
// Used for page read, program execute and block erase.
//
// Frame structure:
//
//	[OPCODE][ROW(3)]
func BuildNANDRowCmd(op byte, row uint32) ([]byte, error) {
	return BuildAddressCmd(op, row, 3)
}

// BuildNANDReadCacheCmd constructs a read of n bytes from the cache at column col.
//
// Frame structure:
//
//	[0x03][COL(2)][DUMMY][0x00 * n]
func BuildNANDReadCacheCmd(col uint32, n int) ([]byte, error) {
	return BuildReadCmd(OpNANDReadCache, col, 2, 1+n)
}

// NANDReadCacheHeaderLen is the number of command bytes before cache data.
const NANDReadCacheHeaderLen = 1 + 2 + 1

// BuildNANDProgramLoadCmd constructs a program load of data at column col.
func BuildNANDProgramLoadCmd(col uint32, data []byte) ([]byte, error) {
	return BuildProgramCmd(OpNANDProgramLoad, col, 2, data)
}

// BuildGetFeatureCmd constructs a feature register read.
func BuildGetFeatureCmd(reg byte) []byte {
	return []byte{OpNANDGetFeature, reg, 0x00}
}

// BuildSetFeatureCmd constructs a feature register write.
func BuildSetFeatureCmd(reg, value byte) []byte {
	return []byte{OpNANDSetFeature, reg, value}
}

// BuildMicrowireCmd constructs a 93Cxx instruction: start bit, two opcode
// bits, addrBits address bits and dataBits data bits, packed MSB first.
// It returns the packed bytes and the number of significant bits.
func BuildMicrowireCmd(op byte, addr uint32, addrBits int, data uint16, dataBits int) ([]byte, int, error) {
	if op > 0x3 {
		return nil, 0, fmt.Errorf("microwire opcode 0x%X is not 2 bits", op)
	}
	if addrBits < 1 || addrBits > 16 {
		return nil, 0, fmt.Errorf("microwire address bits %d out of range 1-16", addrBits)
	}
	if addr>>addrBits != 0 {
		return nil, 0, fmt.Errorf("address 0x%X does not fit %d bits", addr, addrBits)
	}
	if dataBits != 0 && dataBits != 8 && dataBits != 16 {
		return nil, 0, fmt.Errorf("microwire data bits must be 0, 8 or 16, got %d", dataBits)
	}

	n := 1 + 2 + addrBits + dataBits
	v := uint64(1)
	v = v<<2 | uint64(op)
	v = v<<addrBits | uint64(addr)
	v = v<<dataBits | uint64(data)&(1<<dataBits-1)

	out := make([]byte, (n+7)/8)
	for i := 0; i < n; i++ {
		if v>>(n-1-i)&1 != 0 {
			out[i/8] |= 0x80 >> (i % 8)
		}
	}
	return out, n, nil
}

// BuildMicrowireExtendedCmd constructs EWEN, EWDS, ERAL or WRAL.
// The extended command sits in the two most significant address bits.
func BuildMicrowireExtendedCmd(ext byte, addrBits int, data uint16, dataBits int) ([]byte, int, error) {
	if addrBits < 2 {
		return nil, 0, fmt.Errorf("microwire address bits %d too small", addrBits)
	}
	addr := uint32(ext&0x3) << (addrBits - 2)
	return BuildMicrowireCmd(MWExtended, addr, addrBits, data, dataBits)
}
