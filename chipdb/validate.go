package chipdb

import (
	"fmt"
	"math/bits"
)

// validate checks a descriptor after normalization.
// It performs declarative validation only and does not mutate d.
func validate(d *Descriptor) error {
	if d.Manufacturer == "" || d.Name == "" {
		return fmt.Errorf("chip %q/%q: manufacturer and name are required", d.Manufacturer, d.Name)
	}
	if !d.Protocol.Valid() {
		return fmt.Errorf("chip %s: unknown protocol %q", d, d.Protocol)
	}
	if d.Size == 0 {
		return fmt.Errorf("chip %s: size is required", d)
	}

	// ------------------------------------------------------------
	// GEOMETRY
	// ------------------------------------------------------------

	if d.PageSize == 0 || d.PageSize > d.Size {
		return fmt.Errorf("chip %s: page size %d out of range", d, d.PageSize)
	}
	if d.BlockSize < d.PageSize || d.BlockSize > d.Size {
		return fmt.Errorf("chip %s: block size %d must lie between page size %d and chip size %d",
			d, d.BlockSize, d.PageSize, d.Size)
	}
	if d.BlockSize%d.PageSize != 0 {
		return fmt.Errorf("chip %s: block size %d is not a multiple of page size %d", d, d.BlockSize, d.PageSize)
	}
	if d.Size%d.BlockSize != 0 {
		return fmt.Errorf("chip %s: size %d is not a multiple of block size %d", d, d.Size, d.BlockSize)
	}

	// DataFlash pages are 264/528/1056 bytes; everything else is a power of two
	if d.Protocol != ProtocolSPIDataFlash && bits.OnesCount32(d.PageSize) != 1 {
		return fmt.Errorf("chip %s: page size %d is not a power of two", d, d.PageSize)
	}

	switch d.AddressWidth {
	case 1, 2, 3, 4:
	default:
		return fmt.Errorf("chip %s: address width %d out of range 1-4", d, d.AddressWidth)
	}

	// ------------------------------------------------------------
	// PROTOCOL SPECIFICS
	// ------------------------------------------------------------

	switch d.Protocol {
	case ProtocolI2C:
		if d.I2CAddress > 0x7F {
			return fmt.Errorf("chip %s: i2c address 0x%X is not a 7-bit address", d, d.I2CAddress)
		}
	case ProtocolMicrowire:
		mw := d.Microwire
		if mw.Organization != 8 && mw.Organization != 16 {
			return fmt.Errorf("chip %s: microwire organization must be 8 or 16, got %d", d, mw.Organization)
		}
		if mw.AddressBits < 6 || mw.AddressBits > 16 {
			return fmt.Errorf("chip %s: microwire address bits %d out of range 6-16", d, mw.AddressBits)
		}
		words := d.Size / uint32(mw.Organization/8)
		if words > 1<<mw.AddressBits {
			return fmt.Errorf("chip %s: %d words do not fit %d address bits", d, words, mw.AddressBits)
		}
	}

	if d.StatusRegisters < 0 || d.StatusRegisters > 3 {
		return fmt.Errorf("chip %s: status register count %d out of range 0-3", d, d.StatusRegisters)
	}
	if d.SecurityRegisters > 0 && d.SecurityRegisterSize == 0 {
		return fmt.Errorf("chip %s: security registers need a size", d)
	}

	return nil
}
