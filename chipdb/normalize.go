package chipdb

import "fmt"

// DefaultI2CAddress is the base address of 24Cxx EEPROMs.
const DefaultI2CAddress = 0x50

// normalize fills defaults the database file may omit.
// It is allowed to mutate the descriptor and must run before validate.
func normalize(d *Descriptor) error {
	if d.JEDECHex != "" {
		id, err := ParseJEDEC(d.JEDECHex)
		if err != nil {
			return fmt.Errorf("chip %s: %w", d, err)
		}
		d.JEDEC = id
	}

	// EEPROM-style parts erase by page
	if d.BlockSize == 0 {
		d.BlockSize = d.PageSize
	}

	if d.AddressWidth == 0 {
		d.AddressWidth = defaultAddressWidth(d)
	}

	switch d.Protocol {
	case ProtocolI2C:
		if d.I2CAddress == 0 {
			d.I2CAddress = DefaultI2CAddress
		}
	case ProtocolMicrowire:
		if d.Microwire.Organization == 0 {
			d.Microwire.Organization = 16
		}
	case ProtocolSPIFlash:
		if d.StatusRegisters == 0 {
			d.StatusRegisters = 1
		}
	case ProtocolSPIEEPROM, ProtocolSPIDataFlash:
		if d.StatusRegisters == 0 {
			d.StatusRegisters = 1
		}
	}

	return nil
}

// defaultAddressWidth derives the address byte count from the chip size.
func defaultAddressWidth(d *Descriptor) int {
	switch d.Protocol {
	case ProtocolI2C:
		// 24C01-24C16 use one byte plus device address bits
		if d.Size <= 2048 {
			return 1
		}
		return 2
	case ProtocolSPIEEPROM:
		switch {
		case d.Size <= 512:
			return 1
		case d.Size <= 64*1024:
			return 2
		default:
			return 3
		}
	case ProtocolSPINAND:
		// column address
		return 2
	case ProtocolMicrowire:
		return 2
	default:
		if d.Size > 16*1024*1024 {
			return 4
		}
		return 3
	}
}
