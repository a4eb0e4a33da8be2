package discovery

import (
	"bytes"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/u-root/u-root/pkg/flash/sfdp"

	"github.com/moffa90/go-chipprog/chipdb"
	"github.com/moffa90/go-chipprog/errcode"
	"github.com/moffa90/go-chipprog/sim"
)

func lookup(t *testing.T, manufacturer, name string) chipdb.Descriptor {
	t.Helper()
	db, err := chipdb.Default()
	if err != nil {
		t.Fatalf("Default() error: %v", err)
	}
	chip, err := db.Lookup(manufacturer, name)
	if err != nil {
		t.Fatalf("Lookup(%s/%s) error: %v", manufacturer, name, err)
	}
	return chip
}

func TestReadJEDEC(t *testing.T) {
	chip := lookup(t, "Winbond", "W25Q32")
	a := sim.New(sim.WithSPI(sim.NewFlash(chip)))

	id, err := ReadJEDEC(a.SPI())
	if err != nil {
		t.Fatalf("ReadJEDEC error: %v", err)
	}
	if id.JEDEC() != chip.JEDEC {
		t.Errorf("ReadJEDEC = %s, want %s", id, chip.JEDEC)
	}
	if id.Manufacturer != 0xEF {
		t.Errorf("Manufacturer = 0x%02X, want 0xEF", id.Manufacturer)
	}
}

func TestReadJEDECBlank(t *testing.T) {
	tests := []struct {
		name string
		id   [3]byte
	}{
		{"all ones", [3]byte{0xFF, 0xFF, 0xFF}},
		{"all zeros", [3]byte{0x00, 0x00, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := sim.NewFlash(lookup(t, "Winbond", "W25Q32"))
			f.JEDEC = tt.id
			_, err := ReadJEDEC(sim.New(sim.WithSPI(f)).SPI())
			if !errors.Is(err, errcode.ReadError) {
				t.Errorf("error = %v, want ReadError", err)
			}
		})
	}
}

func TestReadJEDECTransportFailure(t *testing.T) {
	a := sim.New(sim.WithFault(func(sim.Tx) error { return errors.New("stall") }))
	if _, err := ReadJEDEC(a.SPI()); !errors.Is(err, errcode.ReadError) {
		t.Errorf("error = %v, want ReadError", err)
	}
}

func TestReadUniqueID(t *testing.T) {
	f := sim.NewFlash(lookup(t, "Winbond", "W25Q32"))
	id, err := ReadUniqueID(sim.New(sim.WithSPI(f)).SPI())
	if err != nil {
		t.Fatalf("ReadUniqueID error: %v", err)
	}
	if id != UniqueID(f.UniqueID) {
		t.Errorf("ReadUniqueID = %s, want % X", id, f.UniqueID)
	}

	if _, err := ReadUniqueID(sim.New().SPI()); !errors.Is(err, errcode.ReadError) {
		t.Errorf("empty socket error = %v, want ReadError", err)
	}
}

func TestReadSFDP(t *testing.T) {
	tests := []struct {
		manufacturer string
		name         string
		address      string
		vccMin       int
		vccMax       int
		otp          bool
	}{
		{"Winbond", "W25Q32", "3", 2700, 3600, true},
		{"Winbond", "W25Q256", "3 or 4", 2700, 3600, true},
		{"Winbond", "W25Q16DW", "3", 1650, 2000, true},
		{"Macronix", "MX25L6405", "3", 2700, 3600, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chip := lookup(t, tt.manufacturer, tt.name)
			a := sim.New(sim.WithSPI(sim.NewFlash(chip)))

			s, err := ReadSFDP(a.SPI())
			if err != nil {
				t.Fatalf("ReadSFDP error: %v", err)
			}
			if s.Capacity != uint64(chip.Size) {
				t.Errorf("Capacity = %d, want %d", s.Capacity, chip.Size)
			}
			if s.EraseBlockSize != 4096 {
				t.Errorf("EraseBlockSize = %d, want 4096", s.EraseBlockSize)
			}
			if s.PageSize != chip.PageSize {
				t.Errorf("PageSize = %d, want %d", s.PageSize, chip.PageSize)
			}
			if s.AddressBytes != tt.address {
				t.Errorf("AddressBytes = %q, want %q", s.AddressBytes, tt.address)
			}
			if s.VCCMin != tt.vccMin || s.VCCMax != tt.vccMax {
				t.Errorf("VCC = %d-%d, want %d-%d", s.VCCMin, s.VCCMax, tt.vccMin, tt.vccMax)
			}
			if s.OTP != tt.otp {
				t.Errorf("OTP = %v, want %v", s.OTP, tt.otp)
			}
			if len(s.EraseTypes) != 3 || s.EraseTypes[2].Opcode != 0xD8 {
				t.Errorf("EraseTypes = %+v, want 4K/32K/64K", s.EraseTypes)
			}
			if !slices.Contains(s.ReadModes, "1-4-4") || slices.Contains(s.ReadModes, "4-4-4") {
				t.Errorf("ReadModes = %v", s.ReadModes)
			}
			if got := len(s.Area(AreaBasic)); got != 64 {
				t.Errorf("basic area = %d bytes, want 64", got)
			}
			if got := len(s.Area(AreaManufacturer)); got != 8 {
				t.Errorf("manufacturer area = %d bytes, want 8", got)
			}
		})
	}
}

func TestReadSFDPUnsupported(t *testing.T) {
	f := sim.NewFlash(lookup(t, "Winbond", "W25Q32"))
	f.SFDP = nil

	_, err := ReadSFDP(sim.New(sim.WithSPI(f)).SPI())
	if !errors.Is(err, errcode.SfdpUnsupported) {
		t.Errorf("error = %v, want SfdpUnsupported", err)
	}
}

func TestReadSFDPTransportError(t *testing.T) {
	f := sim.NewFlash(lookup(t, "Winbond", "W25Q32"))
	a := sim.New(sim.WithSPI(f), sim.WithFault(func(sim.Tx) error { return errors.New("stall") }))

	_, err := ReadSFDP(a.SPI())
	if errcode.Of(err) != errcode.ReadError {
		t.Errorf("error = %v, want ReadError", err)
	}
}

func TestReadSFDPSecondTable(t *testing.T) {
	a := sim.New(sim.WithSPI(sim.NewFlash(lookup(t, "Winbond", "W25Q32"))))
	s, err := ReadSFDP(a.SPI())
	if err != nil {
		t.Fatalf("ReadSFDP error: %v", err)
	}
	if len(s.Tables) != 2 {
		t.Fatalf("Tables = %d, want 2", len(s.Tables))
	}
	second := s.Tables[1]
	if second.ID != 0xFFEF || second.Length != 2 || second.Pointer&0xFFFFFF != 0x80 {
		t.Errorf("second table = ID 0x%04X, %d dwords at 0x%X; want 0xFFEF, 2 dwords at 0x80",
			second.ID, second.Length, second.Pointer&0xFFFFFF)
	}
	if bytes.Equal(second.Table, s.Tables[0].Table[:len(second.Table)]) {
		t.Error("second table holds the basic table contents")
	}
}

func TestParameterID(t *testing.T) {
	tests := []struct {
		ph   sfdp.ParameterHeader
		want uint16
	}{
		{sfdp.ParameterHeader{IDLSB: 0x00, Pointer: 0xFF000030}, 0xFF00},
		{sfdp.ParameterHeader{IDLSB: 0x84, Pointer: 0xFF0000C0}, 0xFF84},
		{sfdp.ParameterHeader{IDLSB: 0xC2, Pointer: 0x01000110}, 0x01C2},
	}
	for _, tt := range tests {
		if got := parameterID(tt.ph); got != tt.want {
			t.Errorf("parameterID(%+v) = 0x%04X, want 0x%04X", tt.ph, got, tt.want)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		id   uint16
		want Area
	}{
		{0xFF00, AreaBasic},
		{0xFF81, AreaExtended},
		{0xFF84, AreaExtended},
		{0xFF87, AreaExtended},
		{0xFFEF, AreaManufacturer},
		{0xFFC2, AreaManufacturer},
	}

	for _, tt := range tests {
		if got := classify(tt.id); got != tt.want {
			t.Errorf("classify(0x%04X) = %s, want %s", tt.id, got, tt.want)
		}
	}
}

func TestDecodeBasicDensityAboveFourGigabit(t *testing.T) {
	var s SFDP
	// 8 Gbit written as 2^33
	s.decodeBasic([]uint32{0xFFF320E5, 0x80000021})
	if s.Capacity != 1<<30 {
		t.Errorf("Capacity = %d, want %d", s.Capacity, uint64(1)<<30)
	}
}

func TestBCD(t *testing.T) {
	tests := []struct {
		in   uint16
		want int
	}{
		{0x3600, 3600},
		{0x2700, 2700},
		{0x1650, 1650},
		{0x00FA, 0},
	}
	for _, tt := range tests {
		if got := bcd(tt.in); got != tt.want {
			t.Errorf("bcd(0x%04X) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestFormatAreas(t *testing.T) {
	a := sim.New(sim.WithSPI(sim.NewFlash(lookup(t, "Winbond", "W25Q32"))))
	s, err := ReadSFDP(a.SPI())
	if err != nil {
		t.Fatalf("ReadSFDP error: %v", err)
	}

	out := FormatAreas(s)
	for _, want := range []string{"SFDP rev 1.6", "basic table 0xFF00", "manufacturer table 0xFFEF", "00000000  "} {
		if !strings.Contains(out, want) {
			t.Errorf("FormatAreas output missing %q:\n%s", want, out)
		}
	}
	if !strings.Contains(Summary(s), "capacity:      4194304 bytes") {
		t.Errorf("Summary missing capacity:\n%s", Summary(s))
	}
}
