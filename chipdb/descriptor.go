package chipdb

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Protocol is the command protocol a chip speaks.
type Protocol string

// Supported protocols.
const (
	ProtocolI2C          Protocol = "i2c"
	ProtocolSPIFlash     Protocol = "spi-flash"
	ProtocolSPIEEPROM    Protocol = "spi-eeprom"
	ProtocolSPIDataFlash Protocol = "spi-dataflash"
	ProtocolSPINAND      Protocol = "spi-nand"
	ProtocolMicrowire    Protocol = "microwire"
)

// Family groups protocols by bus.
type Family string

// Bus families.
const (
	FamilyI2C       Family = "I2C"
	FamilySPI       Family = "SPI"
	FamilySPINAND   Family = "SPI-NAND"
	FamilyMicrowire Family = "MicroWire"
)

// Family returns the bus family of p.
func (p Protocol) Family() Family {
	switch p {
	case ProtocolI2C:
		return FamilyI2C
	case ProtocolSPINAND:
		return FamilySPINAND
	case ProtocolMicrowire:
		return FamilyMicrowire
	default:
		return FamilySPI
	}
}

// Valid reports whether p is a known protocol.
func (p Protocol) Valid() bool {
	switch p {
	case ProtocolI2C, ProtocolSPIFlash, ProtocolSPIEEPROM, ProtocolSPIDataFlash,
		ProtocolSPINAND, ProtocolMicrowire:
		return true
	}
	return false
}

// JEDEC is a manufacturer / device type / capacity identity triple.
type JEDEC [3]byte

// ParseJEDEC parses a hex identity such as "EF4016".
func ParseJEDEC(s string) (JEDEC, error) {
	var id JEDEC
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("jedec %q: %w", s, err)
	}
	if len(raw) != len(id) {
		return id, fmt.Errorf("jedec %q: want %d bytes, got %d", s, len(id), len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

func (id JEDEC) String() string {
	return fmt.Sprintf("%02X%02X%02X", id[0], id[1], id[2])
}

// IsZero reports whether the identity is unset.
func (id JEDEC) IsZero() bool { return id == JEDEC{} }

// MicrowireGeometry describes 93Cxx command framing.
type MicrowireGeometry struct {
	// AddressBits is the number of address bits in a command
	AddressBits int `yaml:"address_bits"`

	// Organization is the word width in bits (8 or 16)
	Organization int `yaml:"organization"`
}

// Descriptor is one catalog entry. Descriptors are values; a copy returned by
// the Database can not alter the catalog.
type Descriptor struct {
	// Manufacturer is the vendor name, e.g. "Winbond"
	Manufacturer string `yaml:"manufacturer"`

	// Name is the part name, e.g. "W25Q32"
	Name string `yaml:"name"`

	// Protocol selects the driver
	Protocol Protocol `yaml:"protocol"`

	// JEDECHex is the identity as written in the database file
	JEDECHex string `yaml:"jedec,omitempty"`

	// JEDEC is the parsed identity; zero when the chip has none
	JEDEC JEDEC `yaml:"-"`

	// Size is the total capacity in bytes
	Size uint32 `yaml:"size"`

	// PageSize is the program unit in bytes
	PageSize uint32 `yaml:"page"`

	// BlockSize is the erase unit in bytes
	BlockSize uint32 `yaml:"block"`

	// Voltage is the nominal supply in millivolts
	Voltage int `yaml:"voltage"`

	// AddressWidth is the number of address bytes (4 selects 4-byte addressing)
	AddressWidth int `yaml:"address_width"`

	// Speed is the preferred bus clock in kHz (0: adapter default)
	Speed int `yaml:"speed"`

	// I2CAddress is the base 7-bit device address (default 0x50)
	I2CAddress uint16 `yaml:"i2c_address,omitempty"`

	// Microwire holds 93Cxx framing
	Microwire MicrowireGeometry `yaml:"microwire,omitempty"`

	// StatusRegisters is the number of status registers (0-3)
	StatusRegisters int `yaml:"status_registers"`

	// SecurityRegisters is the number of security register sectors
	SecurityRegisters int `yaml:"security_registers"`

	// SecurityRegisterSize is the size of one security register sector
	SecurityRegisterSize uint32 `yaml:"security_register_size"`

	// ChipErase reports support for a whole-chip erase instruction
	ChipErase bool `yaml:"chip_erase"`

	// Erased is the value of an erased byte
	Erased *byte `yaml:"erased,omitempty"`
}

// ErasedValue returns the erased byte value (0xFF unless overridden).
func (d Descriptor) ErasedValue() byte {
	if d.Erased == nil {
		return 0xFF
	}
	return *d.Erased
}

// FourByteAddressing reports whether the chip needs 4-byte addresses.
func (d Descriptor) FourByteAddressing() bool {
	return d.AddressWidth == 4
}

// Pages returns the number of program pages.
func (d Descriptor) Pages() uint32 {
	if d.PageSize == 0 {
		return 0
	}
	return d.Size / d.PageSize
}

// Blocks returns the number of erase blocks.
func (d Descriptor) Blocks() uint32 {
	if d.BlockSize == 0 {
		return 0
	}
	return d.Size / d.BlockSize
}

// Key identifies the descriptor in the catalog.
func (d Descriptor) Key() string {
	return key(d.Manufacturer, d.Name)
}

func (d Descriptor) String() string {
	return d.Manufacturer + " " + d.Name
}

func key(manufacturer, name string) string {
	return strings.ToLower(strings.TrimSpace(manufacturer)) + "/" + strings.ToLower(strings.TrimSpace(name))
}
