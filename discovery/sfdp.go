package discovery

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"

	"github.com/u-root/u-root/pkg/flash/sfdp"
	"tinygo.org/x/drivers"

	"github.com/moffa90/go-chipprog/errcode"
	"github.com/moffa90/go-chipprog/protocol"
)

// Area groups parameter tables for display.
type Area string

// Parameter areas.
const (
	AreaBasic        Area = "basic"
	AreaExtended     Area = "extended"
	AreaManufacturer Area = "manufacturer"
)

// ParameterIDBasic is the ID of the JEDEC basic flash parameter table.
const ParameterIDBasic = 0xFF00

// jedecFunctionIDs are the LSBs of JEDEC defined tables other than the
// basic one (sector map, 4-byte instructions, xSPI, status/control maps...).
var jedecFunctionIDs = []byte{0x81, 0x84, 0x87, 0x88, 0x03, 0x05, 0x06, 0x09, 0x0A, 0x0C}

// Table is one parameter table as read from the chip.
type Table struct {
	sfdp.Parameter

	// ID is the 16-bit parameter ID (MSB << 8 | LSB)
	ID   uint16
	Area Area
}

// EraseType is one erase instruction advertised by the basic table.
type EraseType struct {
	Size   uint32
	Opcode byte
}

// SFDP is the decoded parameter space.
type SFDP struct {
	Header sfdp.Header
	Tables []Table

	// VCCMin and VCCMax are the supply range in millivolts (0 if the
	// manufacturer table does not carry it)
	VCCMin int
	VCCMax int

	// Capacity is the array size in bytes
	Capacity uint64

	// EraseBlockSize is the smallest erase unit
	EraseBlockSize uint32
	EraseTypes     []EraseType

	// PageSize is the program page size (0 if the table predates it)
	PageSize uint32

	// ReadModes lists the fast read modes, e.g. "1-1-2" or "1-4-4"
	ReadModes []string

	// AddressBytes is "3", "3 or 4" or "4"
	AddressBytes string

	// DTR reports double transfer rate support
	DTR bool

	// OTP reports a secured OTP area
	OTP bool
}

// Area returns the concatenated raw bytes of every table in area a.
func (s *SFDP) Area(a Area) []byte {
	var out []byte
	for _, t := range s.Tables {
		if t.Area == a {
			out = append(out, t.Table...)
		}
	}
	return out
}

// classify places a parameter ID in its area.
func classify(id uint16) Area {
	switch {
	case id == ParameterIDBasic:
		return AreaBasic
	case slices.Contains(jedecFunctionIDs, byte(id)):
		return AreaExtended
	}
	return AreaManufacturer
}

// parameterID returns the full 16-bit ID of a parameter header. The MSB sits
// in the top byte of the pointer field from JESD216A on; 1.0 parts leave it
// at 0xFF.
func parameterID(ph sfdp.ParameterHeader) uint16 {
	return uint16(ph.Pointer>>24)<<8 | uint16(ph.IDLSB)
}

// ReadSFDP reads and decodes the SFDP space. A missing signature returns
// SfdpUnsupported; transport failures return ReadError.
func ReadSFDP(bus drivers.SPI) (*SFDP, error) {
	r := &sfdpReader{bus: bus}
	raw, err := sfdp.Read(r)
	if err != nil {
		if r.err != nil {
			return nil, r.err
		}
		var unsupported *sfdp.UnsupportedError
		if errors.As(err, &unsupported) {
			return nil, errcode.Wrap(errcode.SfdpUnsupported, err)
		}
		return nil, errcode.Wrap(errcode.InvalidFormat, err)
	}

	// sfdp.Read decodes every parameter header from the first slot, so the
	// headers are decoded again here.
	headers := make([]sfdp.ParameterHeader, len(raw.Parameters))
	buf := make([]byte, binary.Size(headers))
	if _, err := r.ReadAt(buf, int64(binary.Size(sfdp.Header{}))); err != nil {
		return nil, err
	}
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, headers); err != nil {
		return nil, errcode.Wrap(errcode.InvalidFormat, err)
	}

	s := &SFDP{Header: raw.Header}
	for _, ph := range headers {
		table := make([]byte, int(ph.Length)*4)
		if _, err := r.ReadAt(table, int64(ph.Pointer&0xFFFFFF)); err != nil {
			return nil, err
		}
		id := parameterID(ph)
		s.Tables = append(s.Tables, Table{
			Parameter: sfdp.Parameter{ParameterHeader: ph, Table: table},
			ID:        id,
			Area:      classify(id),
		})
	}

	basic := s.Area(AreaBasic)
	if len(basic) == 0 {
		return s, errcode.Wrap(errcode.SfdpUnsupported, errors.New("no basic flash parameter table"))
	}
	s.decodeBasic(protocol.ParseDWORDs(basic))
	for _, t := range s.Tables {
		if t.Area == AreaManufacturer {
			s.decodeManufacturer(protocol.ParseDWORDs(t.Table))
			break
		}
	}
	return s, nil
}

// sfdpReader exposes the SFDP space of a SPI flash as an io.ReaderAt. The
// first transport failure is kept so that it reaches the caller with its
// kind, whatever sfdp.Read does with it.
type sfdpReader struct {
	bus drivers.SPI
	err error
}

func (r *sfdpReader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > 1<<24 {
		return 0, errcode.Wrap(errcode.OutOfRange, fmt.Errorf("sfdp read of %d bytes at 0x%X", len(p), off))
	}
	addr := uint32(off)
	frame, err := protocol.BuildSFDPReadCmd(addr, len(p))
	if err != nil {
		return 0, errcode.Wrap(errcode.ReadError, err)
	}
	rx := make([]byte, len(frame))
	if err := r.bus.Tx(frame, rx); err != nil {
		err = errcode.Wrap(errcode.ReadError, fmt.Errorf("read sfdp at 0x%06X: %w", addr, err))
		if r.err == nil {
			r.err = err
		}
		return 0, err
	}
	return copy(p, protocol.Payload(rx, protocol.SFDPHeaderLen)), nil
}

// decodeBasic decodes the JEDEC basic flash parameter table (JESD216).
func (s *SFDP) decodeBasic(dw []uint32) {
	if len(dw) < 2 {
		return
	}

	// DWORD1
	d1 := dw[0]
	fourK := d1&0x3 == 0x1
	switch d1 >> 17 & 0x3 {
	case 0:
		s.AddressBytes = "3"
	case 1:
		s.AddressBytes = "3 or 4"
	case 2:
		s.AddressBytes = "4"
	}
	s.DTR = d1&(1<<19) != 0
	modes := []struct {
		bit  uint
		name string
	}{
		{16, "1-1-2"}, {20, "1-2-2"}, {22, "1-1-4"}, {21, "1-4-4"},
	}
	for _, m := range modes {
		if d1&(1<<m.bit) != 0 {
			s.ReadModes = append(s.ReadModes, m.name)
		}
	}

	// DWORD2: density in bits
	if d2 := dw[1]; d2&(1<<31) == 0 {
		s.Capacity = (uint64(d2) + 1) / 8
	} else {
		s.Capacity = (uint64(1) << (d2 &^ (1 << 31))) / 8
	}

	// DWORD5: 2-2-2 and 4-4-4 reads
	if len(dw) >= 5 {
		if dw[4]&(1<<0) != 0 {
			s.ReadModes = append(s.ReadModes, "2-2-2")
		}
		if dw[4]&(1<<4) != 0 {
			s.ReadModes = append(s.ReadModes, "4-4-4")
		}
	}

	// DWORD8-9: erase types 1-4
	if len(dw) >= 9 {
		for _, v := range []uint32{dw[7], dw[7] >> 16, dw[8], dw[8] >> 16} {
			n := v & 0xFF
			if n == 0 || n > 31 {
				continue
			}
			s.EraseTypes = append(s.EraseTypes, EraseType{Size: 1 << n, Opcode: byte(v >> 8)})
		}
	}
	if fourK {
		s.EraseBlockSize = protocol.Erase4K
	} else {
		for _, et := range s.EraseTypes {
			if s.EraseBlockSize == 0 || et.Size < s.EraseBlockSize {
				s.EraseBlockSize = et.Size
			}
		}
	}

	// DWORD11: page size
	if len(dw) >= 11 {
		s.PageSize = 1 << (dw[10] >> 4 & 0xF)
	}
}

// decodeManufacturer decodes the supply range and OTP flag of the vendor
// table: DWORD1 holds VCC max (bits 15:0) and VCC min (bits 31:16) in BCD
// millivolts, DWORD2 bit 11 flags the secured OTP area.
func (s *SFDP) decodeManufacturer(dw []uint32) {
	if len(dw) >= 1 {
		s.VCCMax = bcd(uint16(dw[0]))
		s.VCCMin = bcd(uint16(dw[0] >> 16))
	}
	if len(dw) >= 2 {
		s.OTP = dw[1]&(1<<11) != 0
	}
}

// bcd decodes four BCD digits; 0x3600 is 3600.
func bcd(v uint16) int {
	n := 0
	for shift := 12; shift >= 0; shift -= 4 {
		d := int(v>>shift) & 0xF
		if d > 9 {
			return 0
		}
		n = n*10 + d
	}
	return n
}
