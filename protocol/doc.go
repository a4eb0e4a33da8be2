// Package protocol encodes the command sets of serial memory chips.
//
// This package provides functions to build command frames and parse response
// bytes for the chip families the programmer supports: SPI NOR flash (25xx),
// SPI EEPROM (25xx/M95xx), AT45DB DataFlash, SPI NAND and MicroWire (93Cxx).
// It knows nothing about the bus; frames are plain byte slices that a driver
// shifts through a full-duplex SPI transaction.
//
// # Frame Overview
//
// SPI commands share one layout:
//
//	Command:  [OPCODE][ADDR...][DUMMY...][DATA...]
//	Response: [ignored for len(command)][DATA...]
//
// Where:
//   - ADDR = 1 to 4 address bytes, most significant first
//   - DUMMY = clock cycles the chip needs before it drives data
//
// # Command Builders
//
// Use the Build* functions to create command frames:
//
//	frame, err := protocol.BuildReadCmd(addr, 3, n)
//	frame, err := protocol.BuildProgramCmd(addr, 4, data)
//	frame, err := protocol.BuildEraseCmd(64*1024, addr, 3)
//	// ... etc
//
// # Response Parsers
//
// A full-duplex transfer returns one byte per byte sent. Payload strips the
// command bytes:
//
//	rx := make([]byte, len(frame))
//	err := spi.Tx(frame, rx)
//	data := protocol.Payload(rx, protocol.ReadHeaderLen(3))
//
// # Error Handling
//
// Chips that report program or erase failures in a status byte (SPI NAND)
// are checked with CheckNANDStatus, which returns a CommandError:
//
//	if err := protocol.CheckNANDStatus("program execute", status); err != nil {
//	    // err.Error() returns: "program execute failed: program failure (0x08)"
//	}
//
// # Reference
//
// JEDEC JESD216 (SFDP), Winbond W25Q/W25N, Atmel AT45DB and Microchip 93Cxx
// datasheets.
package protocol
