package discovery

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// FormatAreas renders every parameter table as a hex dump, grouped by area,
// for diagnostic display.
func FormatAreas(s *SFDP) string {
	var b strings.Builder
	fmt.Fprintf(&b, "SFDP rev %d.%d, %d parameter table(s)\n",
		s.Header.MajorRev, s.Header.MinorRev, len(s.Tables))

	for _, area := range []Area{AreaBasic, AreaExtended, AreaManufacturer} {
		for _, t := range s.Tables {
			if t.Area != area {
				continue
			}
			fmt.Fprintf(&b, "\n%s table 0x%04X rev %d.%d, %d dwords at 0x%06X\n",
				area, t.ID, t.MajorRev, t.MinorRev, t.Length, t.Pointer&0xFFFFFF)
			b.WriteString(hex.Dump(t.Table))
		}
	}
	return b.String()
}

// Summary renders the decoded fields on one line each.
func Summary(s *SFDP) string {
	var b strings.Builder
	fmt.Fprintf(&b, "capacity:      %d bytes\n", s.Capacity)
	fmt.Fprintf(&b, "erase block:   %d bytes\n", s.EraseBlockSize)
	for _, et := range s.EraseTypes {
		fmt.Fprintf(&b, "erase type:    %d bytes (0x%02X)\n", et.Size, et.Opcode)
	}
	if s.PageSize != 0 {
		fmt.Fprintf(&b, "page size:     %d bytes\n", s.PageSize)
	}
	fmt.Fprintf(&b, "address bytes: %s\n", s.AddressBytes)
	fmt.Fprintf(&b, "read modes:    %s\n", strings.Join(s.ReadModes, " "))
	if s.VCCMax != 0 {
		fmt.Fprintf(&b, "supply:        %d-%d mV\n", s.VCCMin, s.VCCMax)
	}
	fmt.Fprintf(&b, "OTP:           %v\n", s.OTP)
	return b.String()
}
