package protocol

import (
	"bytes"
	"testing"
)

func TestBusyBits(t *testing.T) {
	tests := []struct {
		name   string
		fn     func(byte) bool
		status byte
		want   bool
	}{
		{name: "flash idle", fn: Busy, status: 0x00, want: false},
		{name: "flash WIP", fn: Busy, status: 0x03, want: true},
		{name: "flash WEL only", fn: Busy, status: 0x02, want: false},
		{name: "dataflash ready", fn: DataFlashBusy, status: 0x9C, want: false},
		{name: "dataflash busy", fn: DataFlashBusy, status: 0x1C, want: true},
		{name: "nand OIP", fn: NANDBusy, status: 0x01, want: true},
		{name: "nand idle", fn: NANDBusy, status: 0x00, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.fn(tt.status); got != tt.want {
				t.Errorf("busy(0x%02X) = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestCheckNANDStatus(t *testing.T) {
	tests := []struct {
		name    string
		status  byte
		wantErr bool
		errMsg  string
	}{
		{name: "ok", status: 0x00},
		{name: "program fail", status: NANDStatusProgramFail, wantErr: true, errMsg: "program failure (0x08)"},
		{name: "erase fail", status: NANDStatusEraseFail, wantErr: true, errMsg: "erase failure (0x04)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckNANDStatus("block erase", tt.status)
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !IsCommandError(err) {
				t.Fatalf("error = %v, want *CommandError", err)
			}
			if !bytes.Contains([]byte(err.Error()), []byte(tt.errMsg)) {
				t.Errorf("error = %v, want substring %q", err, tt.errMsg)
			}
		})
	}
}

func TestParseJEDECResponse(t *testing.T) {
	id, err := ParseJEDECResponse([]byte{0xFF, 0xEF, 0x40, 0x16})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != [3]byte{0xEF, 0x40, 0x16} {
		t.Errorf("id = % X, want EF 40 16", id)
	}

	if _, err := ParseJEDECResponse([]byte{0x00, 0xEF}); err == nil {
		t.Error("expected error for short response")
	}
}

func TestParseDWORDs(t *testing.T) {
	words := ParseDWORDs([]byte{0xE5, 0x20, 0xF1, 0xFF, 0xFF, 0xFF, 0xFF, 0x03, 0xAA})
	if len(words) != 2 {
		t.Fatalf("got %d words, want 2", len(words))
	}
	if words[0] != 0xFFF120E5 || words[1] != 0x03FFFFFF {
		t.Errorf("words = %08X", words)
	}
}

func TestParseMicrowireWord(t *testing.T) {
	if got := ParseMicrowireWord([]byte{0xAB, 0xCD}, 16); got != 0xABCD {
		t.Errorf("16-bit word = 0x%04X, want 0xABCD", got)
	}
	if got := ParseMicrowireWord([]byte{0x5A}, 8); got != 0x5A {
		t.Errorf("8-bit word = 0x%02X, want 0x5A", got)
	}
}
