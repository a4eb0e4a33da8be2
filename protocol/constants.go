package protocol

// SPI NOR flash opcodes (25xx, JEDEC common command set).
const (
	// OpWriteEnable sets the write enable latch
	OpWriteEnable = 0x06

	// OpWriteDisable clears the write enable latch
	OpWriteDisable = 0x04

	// OpReadData reads with 3-byte addresses
	OpReadData = 0x03

	// OpReadData4B reads with 4-byte addresses
	OpReadData4B = 0x13

	// OpPageProgram programs up to one page with 3-byte addresses
	OpPageProgram = 0x02

	// OpPageProgram4B programs up to one page with 4-byte addresses
	OpPageProgram4B = 0x12

	// OpSectorErase erases 4 KiB
	OpSectorErase = 0x20

	// OpSectorErase4B erases 4 KiB with a 4-byte address
	OpSectorErase4B = 0x21

	// OpBlockErase32K erases 32 KiB
	OpBlockErase32K = 0x52

	// OpBlockErase32K4B erases 32 KiB with a 4-byte address
	OpBlockErase32K4B = 0x5C

	// OpBlockErase64K erases 64 KiB
	OpBlockErase64K = 0xD8

	// OpBlockErase64K4B erases 64 KiB with a 4-byte address
	OpBlockErase64K4B = 0xDC

	// OpChipErase erases the whole array
	OpChipErase = 0xC7

	// OpReadJEDEC returns manufacturer, memory type and capacity
	OpReadJEDEC = 0x9F

	// OpReadSFDP reads the serial flash discoverable parameters
	OpReadSFDP = 0x5A

	// OpReadUniqueID returns the factory unique ID
	OpReadUniqueID = 0x4B

	// OpEraseSecurity erases one security register
	OpEraseSecurity = 0x44

	// OpProgramSecurity programs one security register
	OpProgramSecurity = 0x42

	// OpReadSecurity reads one security register
	OpReadSecurity = 0x48
)

// Status register opcodes, indexed by register number.
var (
	// OpReadStatus are the read status register opcodes (SR1, SR2, SR3)
	OpReadStatus = [3]byte{0x05, 0x35, 0x15}

	// OpWriteStatus are the write status register opcodes (SR1, SR2, SR3)
	OpWriteStatus = [3]byte{0x01, 0x31, 0x11}
)

// Status register bits shared by SPI flash and SPI EEPROM.
const (
	// StatusWIP is set while a program or erase cycle runs
	StatusWIP = 0x01

	// StatusWEL is the write enable latch
	StatusWEL = 0x02
)

// SPI EEPROM opcodes (25xx/M95xx).
const (
	// OpEEPROMRead reads data
	OpEEPROMRead = 0x03

	// OpEEPROMWrite writes up to one page
	OpEEPROMWrite = 0x02

	// OpEEPROMReadStatus reads the status register
	OpEEPROMReadStatus = 0x05

	// OpEEPROMWriteStatus writes the status register
	OpEEPROMWriteStatus = 0x01

	// EEPROMA8 is the opcode bit carrying address bit 8 on 512-byte parts
	EEPROMA8 = 0x08
)

// AT45DB DataFlash opcodes.
const (
	// OpDataFlashRead is the legacy continuous array read
	OpDataFlashRead = 0x03

	// OpDataFlashPageErase erases one page
	OpDataFlashPageErase = 0x81

	// OpDataFlashProgram writes through buffer 1 with built-in erase
	OpDataFlashProgram = 0x82

	// OpDataFlashStatus reads the status register
	OpDataFlashStatus = 0xD7

	// DataFlashReady is the RDY/BUSY bit of the status register
	DataFlashReady = 0x80
)

// DataFlashChipErase is the four-byte chip erase sequence.
var DataFlashChipErase = []byte{0xC7, 0x94, 0x80, 0x9A}

// SPI NAND opcodes.
const (
	// OpNANDPageRead loads a page into the cache
	OpNANDPageRead = 0x13

	// OpNANDReadCache reads from the cache
	OpNANDReadCache = 0x03

	// OpNANDProgramLoad loads data into the cache
	OpNANDProgramLoad = 0x02

	// OpNANDProgramExecute programs the cache into a page
	OpNANDProgramExecute = 0x10

	// OpNANDBlockErase erases one block
	OpNANDBlockErase = 0xD8

	// OpNANDGetFeature reads a feature register
	OpNANDGetFeature = 0x0F

	// OpNANDSetFeature writes a feature register
	OpNANDSetFeature = 0x1F

	// OpNANDReset resets the device
	OpNANDReset = 0xFF
)

// SPI NAND feature registers and status bits.
const (
	// FeatureProtection is the block protection register
	FeatureProtection = 0xA0

	// FeatureConfig is the configuration register
	FeatureConfig = 0xB0

	// FeatureStatus is the status register
	FeatureStatus = 0xC0

	// NANDStatusOIP is set while an operation is in progress
	NANDStatusOIP = 0x01

	// NANDStatusWEL is the write enable latch
	NANDStatusWEL = 0x02

	// NANDStatusEraseFail reports a failed block erase
	NANDStatusEraseFail = 0x04

	// NANDStatusProgramFail reports a failed page program
	NANDStatusProgramFail = 0x08
)

// MicroWire (93Cxx) two-bit opcodes. Start bit is sent before the opcode.
const (
	// MWRead reads one word
	MWRead = 0x2

	// MWWrite writes one word
	MWWrite = 0x1

	// MWErase erases one word
	MWErase = 0x3

	// MWExtended selects EWEN/EWDS/ERAL/WRAL through the top address bits
	MWExtended = 0x0
)

// MicroWire extended commands, placed in the two most significant address bits.
const (
	// MWEraseWriteDisable is EWDS
	MWEraseWriteDisable = 0x0

	// MWWriteAll is WRAL
	MWWriteAll = 0x1

	// MWEraseAll is ERAL
	MWEraseAll = 0x2

	// MWEraseWriteEnable is EWEN
	MWEraseWriteEnable = 0x3
)

// SFDP layout constants.
const (
	// SFDPSignature is "SFDP" read as a little-endian word
	SFDPSignature = 0x50444653

	// SFDPHeaderSize is the size of the SFDP header and of each parameter header
	SFDPHeaderSize = 8

	// SFDPDummyBytes is the dummy byte count after the SFDP address
	SFDPDummyBytes = 1

	// UniqueIDDummyBytes is the dummy byte count after the unique ID opcode
	UniqueIDDummyBytes = 4

	// UniqueIDSize is the unique ID length in bytes
	UniqueIDSize = 8

	// JEDECIDSize is the JEDEC ID length in bytes
	JEDECIDSize = 3
)

// Erase block sizes with dedicated SPI flash opcodes.
const (
	Erase4K  = 4 * 1024
	Erase32K = 32 * 1024
	Erase64K = 64 * 1024
)

// MaxAddressWidth is the widest address the command set uses.
const MaxAddressWidth = 4
