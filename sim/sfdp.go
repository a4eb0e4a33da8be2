package sim

import (
	"encoding/binary"
	"math/bits"

	"github.com/moffa90/go-chipprog/chipdb"
	"github.com/moffa90/go-chipprog/protocol"
)

// SFDP table layout produced by BuildSFDP.
const (
	sfdpBasicPointer  = 0x30
	sfdpBasicDWORDs   = 16
	sfdpVendorPointer = 0x80
	sfdpVendorDWORDs  = 2
)

// BuildSFDP generates an SFDP space for chip with a JEDEC basic flash
// parameter table and a vendor table carrying the supply range and the OTP
// flag. It returns nil for parts without a JEDEC ID.
func BuildSFDP(chip chipdb.Descriptor) []byte {
	if chip.JEDEC.IsZero() {
		return nil
	}
	out := make([]byte, sfdpVendorPointer+4*sfdpVendorDWORDs)
	for i := range out {
		out[i] = 0xFF
	}

	// header: signature, revision 1.6, two parameter headers
	binary.LittleEndian.PutUint32(out[0:], protocol.SFDPSignature)
	out[4], out[5], out[6], out[7] = 6, 1, 1, 0xFF

	putParameterHeader(out[8:], 0xFF00, sfdpBasicDWORDs, sfdpBasicPointer)
	putParameterHeader(out[16:], 0xFF00|uint16(chip.JEDEC[0]), sfdpVendorDWORDs, sfdpVendorPointer)

	basic := make([]uint32, sfdpBasicDWORDs)
	for i := range basic {
		basic[i] = 0xFFFFFFFF
	}

	// DWORD1: 4 KiB erase, fast read modes, address bytes
	dw := uint32(0xFF800000) | 0x01 | uint32(protocol.OpSectorErase)<<8
	dw |= 1<<16 | 1<<20 | 1<<21 | 1<<22
	if chip.FourByteAddressing() {
		dw |= 0x1 << 17
	}
	basic[0] = dw

	// DWORD2: density in bits
	sizeBits := uint64(chip.Size) * 8
	if sizeBits <= 1<<31 {
		basic[1] = uint32(sizeBits - 1)
	} else {
		basic[1] = 1<<31 | uint32(bits.Len64(sizeBits)-1)
	}

	// DWORD5: no 2-2-2 or 4-4-4 reads
	basic[4] = 0xFFFFFFEE

	// DWORD8-9: erase types 4 KiB, 32 KiB, 64 KiB
	basic[7] = eraseType(protocol.Erase4K, protocol.OpSectorErase) |
		eraseType(protocol.Erase32K, protocol.OpBlockErase32K)<<16
	basic[8] = eraseType(protocol.Erase64K, protocol.OpBlockErase64K)

	// DWORD11: page size
	basic[10] = 0xFFFFFF0F | uint32(bits.Len32(chip.PageSize)-1)<<4

	for i, v := range basic {
		binary.LittleEndian.PutUint32(out[sfdpBasicPointer+4*i:], v)
	}

	vmax, vmin := supplyRange(chip.Voltage)
	binary.LittleEndian.PutUint32(out[sfdpVendorPointer:], uint32(vmin)<<16|uint32(vmax))
	vendor2 := uint32(0xFFFFF7FF)
	if chip.SecurityRegisters > 0 {
		vendor2 |= 1 << 11
	}
	binary.LittleEndian.PutUint32(out[sfdpVendorPointer+4:], vendor2)
	return out
}

func putParameterHeader(b []byte, id uint16, dwords int, pointer uint32) {
	b[0] = byte(id)
	b[1], b[2] = 0, 1
	b[3] = byte(dwords)
	b[4], b[5], b[6] = byte(pointer), byte(pointer>>8), byte(pointer>>16)
	b[7] = byte(id >> 8)
}

func eraseType(size uint32, op byte) uint32 {
	return uint32(bits.Len32(size)-1) | uint32(op)<<8
}

// supplyRange returns the BCD coded supply limits for a nominal voltage.
func supplyRange(mv int) (hi, lo uint16) {
	if mv > 0 && mv < 2500 {
		return 0x2000, 0x1650
	}
	return 0x3600, 0x2700
}
