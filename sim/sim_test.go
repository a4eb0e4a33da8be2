package sim

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/moffa90/go-chipprog/chipdb"
	"github.com/moffa90/go-chipprog/errcode"
	"github.com/moffa90/go-chipprog/protocol"
	"github.com/moffa90/go-chipprog/transport"
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

func TestAdapterEmptySockets(t *testing.T) {
	a := New()

	rx := make([]byte, 4)
	if err := a.SPI().Tx(protocol.BuildJEDECCmd(), rx); err != nil {
		t.Fatalf("SPI Tx error: %v", err)
	}
	if !bytes.Equal(rx, []byte{0xFF, 0xFF, 0xFF, 0xFF}) {
		t.Errorf("empty SPI socket returned % X, want all 0xFF", rx)
	}

	if err := a.I2C().Tx(0x50, nil, nil); !errors.Is(err, transport.ErrNack) {
		t.Errorf("empty I2C socket error = %v, want ErrNack", err)
	}
	if a.Transactions() != 2 {
		t.Errorf("Transactions() = %d, want 2", a.Transactions())
	}
}

func TestAdapterUnplug(t *testing.T) {
	a := New()
	open := a.Opener()

	if _, err := open(); err != nil {
		t.Fatalf("open error: %v", err)
	}
	a.Unplug()
	if _, err := open(); !errors.Is(err, errcode.Disconnected) {
		t.Errorf("open after Unplug error = %v, want Disconnected", err)
	}
	if err := a.SPI().Tx([]byte{0x05, 0x00}, make([]byte, 2)); !errors.Is(err, errcode.Disconnected) {
		t.Errorf("Tx after Unplug error = %v, want Disconnected", err)
	}
	if err := a.SetSpeed(400); !errors.Is(err, errcode.Disconnected) {
		t.Errorf("SetSpeed after Unplug error = %v, want Disconnected", err)
	}

	a.Plug()
	if _, err := open(); err != nil {
		t.Errorf("open after Plug error: %v", err)
	}
	if a.Opens() != 2 {
		t.Errorf("Opens() = %d, want 2", a.Opens())
	}
}

func TestAdapterFault(t *testing.T) {
	boom := errors.New("usb stall")
	a := New(WithSPI(NewFlash(lookup(t, "Winbond", "W25Q32"))), WithFault(func(tx Tx) error {
		if tx.Bus == BusSPI && len(tx.Data) > 0 && tx.Data[0] == protocol.OpReadJEDEC {
			return boom
		}
		return nil
	}))

	if err := a.SPI().Tx(protocol.BuildJEDECCmd(), make([]byte, 4)); !errors.Is(err, boom) {
		t.Errorf("Tx error = %v, want %v", err, boom)
	}
	if err := a.SPI().Tx([]byte{0x05, 0x00}, make([]byte, 2)); err != nil {
		t.Errorf("unrelated Tx error: %v", err)
	}
}

func TestFlashProgramClearsBits(t *testing.T) {
	f := NewFlash(lookup(t, "Winbond", "W25Q32"))

	// without WREN the program is ignored
	f.Exchange([]byte{protocol.OpPageProgram, 0, 0, 0, 0x0F})
	if f.Mem[0] != 0xFF {
		t.Fatalf("program without WREN changed memory to 0x%02X", f.Mem[0])
	}

	f.Exchange([]byte{protocol.OpWriteEnable})
	f.Exchange([]byte{protocol.OpPageProgram, 0, 0, 0, 0x0F})
	f.Exchange([]byte{protocol.OpWriteEnable})
	f.Exchange([]byte{protocol.OpPageProgram, 0, 0, 0, 0xF3})
	if f.Mem[0] != 0x03 {
		t.Errorf("Mem[0] = 0x%02X, want 0x03", f.Mem[0])
	}
}

func TestFlashBusyPolls(t *testing.T) {
	f := NewFlash(lookup(t, "Winbond", "W25Q32"))
	f.BusyPolls = 2

	f.Exchange([]byte{protocol.OpWriteEnable})
	r := f.Exchange([]byte{0x05, 0x00})
	if r[1]&protocol.StatusWEL == 0 {
		t.Errorf("status 0x%02X missing WEL after WREN", r[1])
	}

	f.Exchange([]byte{protocol.OpSectorErase, 0, 0x10, 0})
	var busy int
	for i := 0; i < 5; i++ {
		if r := f.Exchange([]byte{0x05, 0x00}); protocol.Busy(r[1]) {
			busy++
		}
	}
	if busy != 2 {
		t.Errorf("busy for %d polls, want 2", busy)
	}
}

func TestFlashSFDP(t *testing.T) {
	chip := lookup(t, "Winbond", "W25Q32")
	f := NewFlash(chip)

	frame, err := protocol.BuildSFDPReadCmd(0, protocol.SFDPHeaderSize)
	if err != nil {
		t.Fatalf("BuildSFDPReadCmd error: %v", err)
	}
	r := f.Exchange(frame)
	hdr := r[protocol.SFDPHeaderLen:]
	if got := binary.LittleEndian.Uint32(hdr); got != protocol.SFDPSignature {
		t.Errorf("signature = 0x%08X, want 0x%08X", got, protocol.SFDPSignature)
	}
	if nph := int(hdr[6]) + 1; nph != 2 {
		t.Errorf("parameter headers = %d, want 2", nph)
	}

	// density dword of the basic table
	words := protocol.ParseDWORDs(f.SFDP[sfdpBasicPointer : sfdpBasicPointer+8])
	if got, want := words[1], chip.Size*8-1; got != want {
		t.Errorf("density = 0x%X, want 0x%X", got, want)
	}
}

func TestBuildSFDPNoJEDEC(t *testing.T) {
	if got := BuildSFDP(lookup(t, "Atmel", "AT24C02")); got != nil {
		t.Errorf("BuildSFDP for an I2C part = %d bytes, want nil", len(got))
	}
}

func TestSPIEEPROMA8(t *testing.T) {
	e := NewSPIEEPROM(lookup(t, "ST", "M95040"))

	e.Exchange([]byte{protocol.OpWriteEnable})
	e.Exchange([]byte{protocol.OpEEPROMWrite | protocol.EEPROMA8, 0x10, 0xAB})
	if e.Mem[0x110] != 0xAB {
		t.Errorf("Mem[0x110] = 0x%02X, want 0xAB", e.Mem[0x110])
	}
	r := e.Exchange([]byte{protocol.OpEEPROMRead | protocol.EEPROMA8, 0x10, 0x00})
	if r[2] != 0xAB {
		t.Errorf("read back 0x%02X, want 0xAB", r[2])
	}
}

func TestSPIEEPROMPageWrap(t *testing.T) {
	chip := lookup(t, "ST", "M95040")
	e := NewSPIEEPROM(chip)
	last := byte(chip.PageSize - 1)

	e.Exchange([]byte{protocol.OpWriteEnable})
	e.Exchange([]byte{protocol.OpEEPROMWrite, last, 0x11, 0x22})
	if e.Mem[last] != 0x11 || e.Mem[0] != 0x22 {
		t.Errorf("page wrap wrote 0x%02X at end, 0x%02X at start", e.Mem[last], e.Mem[0])
	}
}

func TestI2CEEPROM(t *testing.T) {
	chip := lookup(t, "Atmel", "AT24C04")
	e := NewI2CEEPROM(chip)
	e.BusyPolls = 1

	if err := e.Tx(0x51, []byte{0x20, 0xA5}, nil); err != nil {
		t.Fatalf("write error: %v", err)
	}
	if e.Mem[0x120] != 0xA5 {
		t.Errorf("Mem[0x120] = 0x%02X, want 0xA5", e.Mem[0x120])
	}
	if err := e.Tx(0x50, nil, nil); !errors.Is(err, transport.ErrNack) {
		t.Errorf("poll during write cycle error = %v, want ErrNack", err)
	}

	r := make([]byte, 1)
	if err := e.Tx(0x51, []byte{0x20}, r); err != nil {
		t.Fatalf("read error: %v", err)
	}
	if r[0] != 0xA5 {
		t.Errorf("read 0x%02X, want 0xA5", r[0])
	}

	if err := e.Tx(0x52, nil, nil); !errors.Is(err, transport.ErrNack) {
		t.Errorf("address beyond the part error = %v, want ErrNack", err)
	}
	e.Absent = true
	if err := e.Tx(0x50, nil, nil); !errors.Is(err, transport.ErrNack) {
		t.Errorf("absent chip error = %v, want ErrNack", err)
	}
}

func TestMicrowireEEPROM(t *testing.T) {
	chip := lookup(t, "Microchip", "93C46")
	m := NewMicrowireEEPROM(chip)
	abits := chip.Microwire.AddressBits

	write, n, err := protocol.BuildMicrowireCmd(protocol.MWWrite, 3, abits, 0xBEEF, 16)
	if err != nil {
		t.Fatalf("BuildMicrowireCmd error: %v", err)
	}
	m.TxBits(write, n, nil, 0)
	if m.Mem[6] != 0xFF {
		t.Fatal("write accepted before EWEN")
	}

	ewen, en, _ := protocol.BuildMicrowireExtendedCmd(protocol.MWEraseWriteEnable, abits, 0, 0)
	m.TxBits(ewen, en, nil, 0)
	if !m.WriteEnabled() {
		t.Fatal("EWEN not accepted")
	}
	m.TxBits(write, n, nil, 0)
	if m.Mem[6] != 0xBE || m.Mem[7] != 0xEF {
		t.Errorf("word 3 = %02X%02X, want BEEF", m.Mem[6], m.Mem[7])
	}

	read, rn, _ := protocol.BuildMicrowireCmd(protocol.MWRead, 3, abits, 0, 0)
	r := make([]byte, 2)
	m.TxBits(read, rn, r, 16)
	if got := protocol.ParseMicrowireWord(r, 16); got != 0xBEEF {
		t.Errorf("read word = 0x%04X, want 0xBEEF", got)
	}

	eral, ern, _ := protocol.BuildMicrowireExtendedCmd(protocol.MWEraseAll, abits, 0, 0)
	m.TxBits(eral, ern, nil, 0)
	if !protocol.IsErased(m.Mem, 0xFF) {
		t.Error("ERAL left programmed words")
	}
}

func TestDataFlashStaleBuffer(t *testing.T) {
	chip := lookup(t, "Atmel", "AT45DB041D")
	d := NewDataFlash(chip)

	full := bytes.Repeat([]byte{0x5A}, int(chip.PageSize))
	frame, _ := protocol.BuildDataFlashProgramCmd(0, chip.PageSize, full)
	d.Exchange(frame)

	// a partial program of page 1 carries the buffer left by page 0
	frame, _ = protocol.BuildDataFlashProgramCmd(chip.PageSize+4, chip.PageSize, []byte{0x01})
	d.Exchange(frame)

	page1 := d.Mem[chip.PageSize : 2*chip.PageSize]
	if page1[4] != 0x01 || page1[0] != 0x5A {
		t.Errorf("page 1 starts % X, want stale buffer with 0x01 at 4", page1[:8])
	}
}

func TestNANDProtection(t *testing.T) {
	chip := lookup(t, "Winbond", "W25N01GV")
	n := NewNAND(chip)

	program := func() byte {
		load, _ := protocol.BuildNANDProgramLoadCmd(0, []byte{0x12})
		exec, _ := protocol.BuildNANDRowCmd(protocol.OpNANDProgramExecute, 0)
		n.Exchange([]byte{protocol.OpWriteEnable})
		n.Exchange(load)
		n.Exchange(exec)
		return n.Exchange(protocol.BuildGetFeatureCmd(protocol.FeatureStatus))[2]
	}

	if status := program(); status&protocol.NANDStatusProgramFail == 0 {
		t.Errorf("program of a protected block status 0x%02X, want P_FAIL", status)
	}

	n.Exchange(protocol.BuildSetFeatureCmd(protocol.FeatureProtection, 0))
	if status := program(); status&protocol.NANDStatusProgramFail != 0 {
		t.Errorf("program after unlock status 0x%02X", status)
	}
	if got := n.ReadAt(0, 2); !bytes.Equal(got, []byte{0x12, 0xFF}) {
		t.Errorf("ReadAt = % X, want 12 FF", got)
	}
}
