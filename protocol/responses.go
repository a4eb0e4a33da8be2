package protocol

import (
	"encoding/binary"
	"fmt"
)

// Busy reports whether a SPI flash or EEPROM status byte shows a write in progress.
func Busy(status byte) bool {
	return status&StatusWIP != 0
}

// DataFlashBusy reports whether a DataFlash status byte shows the device busy.
// RDY is active high.
func DataFlashBusy(status byte) bool {
	return status&DataFlashReady == 0
}

// NANDBusy reports whether a SPI NAND status byte shows an operation in progress.
func NANDBusy(status byte) bool {
	return status&NANDStatusOIP != 0
}

// CheckNANDStatus returns a CommandError when the status byte reports a
// program or erase failure.
func CheckNANDStatus(operation string, status byte) error {
	if status&(NANDStatusEraseFail|NANDStatusProgramFail) != 0 {
		return &CommandError{Operation: operation, Status: status}
	}
	return nil
}

// ParseJEDECResponse extracts the identity bytes from a JEDEC ID transfer.
//
// Data format (after the opcode):
//
//	[MANUFACTURER][TYPE][CAPACITY]
func ParseJEDECResponse(rx []byte) ([JEDECIDSize]byte, error) {
	var id [JEDECIDSize]byte
	data := Payload(rx, 1)
	if len(data) < JEDECIDSize {
		return id, fmt.Errorf("invalid JEDEC response: got %d bytes, expected %d", len(data), JEDECIDSize)
	}
	copy(id[:], data)
	return id, nil
}

// ParseDWORDs splits a parameter table into little-endian 32-bit words.
func ParseDWORDs(data []byte) []uint32 {
	words := make([]uint32, len(data)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	return words
}

// ParseMicrowireWord extracts a word of dataBits bits from bytes clocked in MSB first.
func ParseMicrowireWord(rx []byte, dataBits int) uint16 {
	var v uint16
	for i := 0; i < dataBits; i++ {
		v <<= 1
		if rx[i/8]&(0x80>>(i%8)) != 0 {
			v |= 1
		}
	}
	return v
}
