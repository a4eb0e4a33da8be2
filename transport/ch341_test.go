package transport

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/moffa90/go-chipprog/errcode"
)

// fakeEndpoints records bulk OUT packets and replays queued IN packets.
type fakeEndpoints struct {
	written [][]byte
	pending [][]byte
	// onWrite computes the IN response for an OUT packet, if set
	onWrite  func(pkt []byte) []byte
	writeErr error
}

func (f *fakeEndpoints) Write(p []byte) (int, error) {
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	f.written = append(f.written, append([]byte(nil), p...))
	if f.onWrite != nil {
		if resp := f.onWrite(p); len(resp) > 0 {
			f.pending = append(f.pending, resp)
		}
	}
	return len(p), nil
}

func (f *fakeEndpoints) ReadContext(_ context.Context, p []byte) (int, error) {
	if len(f.pending) == 0 {
		return 0, errors.New("no data")
	}
	n := copy(p, f.pending[0])
	f.pending = f.pending[1:]
	return n, nil
}

func newTestCH341(f *fakeEndpoints) *CH341 {
	return &CH341{
		out:     f,
		in:      f,
		probe:   func() error { return nil },
		timeout: DefaultUSBTimeout,
	}
}

func TestBuildSPIStreamCmd(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    []byte
		wantErr bool
	}{
		{
			name: "jedec opcode",
			data: []byte{0x9F, 0x00},
			want: []byte{CmdSPIStream, 0xF9, 0x00},
		},
		{
			name: "lsb first",
			data: []byte{0x01, 0x80, 0x0F},
			want: []byte{CmdSPIStream, 0x80, 0x01, 0xF0},
		},
		{
			name:    "empty",
			data:    nil,
			wantErr: true,
		},
		{
			name:    "too long",
			data:    make([]byte, CH341PacketLength),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildSPIStreamCmd(tt.data)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("packet = % X, want % X", got, tt.want)
			}
		})
	}
}

func TestBuildSpeedCmd(t *testing.T) {
	tests := []struct {
		kHz  int
		want byte
	}{
		{kHz: 0, want: Speed100k},
		{kHz: 20, want: Speed20k},
		{kHz: 100, want: Speed100k},
		{kHz: 400, want: Speed400k},
		{kHz: 1000, want: Speed750k},
	}

	for _, tt := range tests {
		pkt := BuildSpeedCmd(tt.kHz)
		if pkt[1] != I2CSet|tt.want {
			t.Errorf("BuildSpeedCmd(%d)[1] = 0x%02X, want 0x%02X", tt.kHz, pkt[1], I2CSet|tt.want)
		}
	}
}

func TestBuildI2CTx(t *testing.T) {
	t.Run("write then read", func(t *testing.T) {
		packets, reads, err := BuildI2CTx(0x50, []byte{0x00, 0x10}, 4)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if reads != 4 {
			t.Errorf("reads = %d, want 4", reads)
		}
		want := []byte{
			CmdI2CStream,
			I2CStart, I2COut | 3, 0xA0, 0x00, 0x10,
			I2CStart, I2COut | 1, 0xA1,
			I2CIn | 3, I2CIn,
			I2CStop, I2CEnd,
		}
		if len(packets) != 1 || !bytes.Equal(packets[0], want) {
			t.Errorf("packets = % X, want % X", packets, want)
		}
	})

	t.Run("long write spans packets", func(t *testing.T) {
		w := make([]byte, 64)
		packets, _, err := BuildI2CTx(0x50, w, 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(packets) < 3 {
			t.Fatalf("got %d packets, want at least 3", len(packets))
		}
		total := 0
		for _, pkt := range packets {
			if len(pkt) > CH341PacketLength {
				t.Errorf("packet length %d exceeds %d", len(pkt), CH341PacketLength)
			}
			if pkt[0] != CmdI2CStream || pkt[len(pkt)-1] != I2CEnd {
				t.Errorf("packet not framed: % X", pkt)
			}
			for i := 1; i < len(pkt)-1; i++ {
				if pkt[i]&0xC0 == I2COut && pkt[i] != I2COut {
					n := int(pkt[i] & 0x3F)
					total += n
					i += n
				}
			}
		}
		// device address byte plus payload
		if total != len(w)+1 {
			t.Errorf("OUT payload = %d bytes, want %d", total, len(w)+1)
		}
	})

	t.Run("10-bit address rejected", func(t *testing.T) {
		if _, _, err := BuildI2CTx(0x150, nil, 1); err == nil {
			t.Fatal("expected error, got nil")
		}
	})
}

func TestBuildMicrowireTx(t *testing.T) {
	packets, reads, err := BuildMicrowireTx([]byte{0xC0}, 3, 16)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reads != 16 {
		t.Errorf("reads = %d, want 16", reads)
	}
	ins := 0
	for _, pkt := range packets {
		if pkt[0] != CmdUIOStream || pkt[len(pkt)-1] != UIOEnd {
			t.Errorf("packet not framed: % X", pkt)
		}
		ins += countUIOIn(pkt)
	}
	if ins != 16 {
		t.Errorf("IN count = %d, want 16", ins)
	}

	if _, _, err := BuildMicrowireTx([]byte{0xC0}, 9, 0); err == nil {
		t.Error("expected error for wbits beyond buffer")
	}
}

func TestPackMicrowireBits(t *testing.T) {
	samples := []byte{pinMISO, 0, pinMISO, pinMISO, 0, 0, 0, pinMISO, pinMISO}
	r := make([]byte, 2)
	packMicrowireBits(samples, r)
	if r[0] != 0xB1 || r[1] != 0x80 {
		t.Errorf("packed = % X, want B1 80", r)
	}
}

func TestCH341SPITx(t *testing.T) {
	f := &fakeEndpoints{}
	// Echo the stream bytes back, as a loopback wire would
	f.onWrite = func(pkt []byte) []byte {
		if pkt[0] != CmdSPIStream {
			return nil
		}
		return append([]byte(nil), pkt[1:]...)
	}
	c := newTestCH341(f)

	w := make([]byte, 40)
	for i := range w {
		w[i] = byte(i)
	}
	r := make([]byte, len(w))
	if err := c.SPI().Tx(w, r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(r, w) {
		t.Errorf("loopback = % X, want % X", r, w)
	}

	// CS assert, two stream packets, CS release
	if len(f.written) != 4 {
		t.Fatalf("wrote %d packets, want 4", len(f.written))
	}
	if !bytes.Equal(f.written[0], BuildChipSelectCmd(true)) {
		t.Errorf("first packet = % X, want chip select", f.written[0])
	}
	if !bytes.Equal(f.written[3], BuildChipSelectCmd(false)) {
		t.Errorf("last packet = % X, want chip release", f.written[3])
	}
}

func TestCH341SPITxLengthMismatch(t *testing.T) {
	c := newTestCH341(&fakeEndpoints{})
	if err := c.SPI().Tx(make([]byte, 2), make([]byte, 3)); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestCH341I2CProbe(t *testing.T) {
	tests := []struct {
		name    string
		status  byte
		wantErr error
	}{
		{name: "ack", status: 0x00, wantErr: nil},
		{name: "nack", status: 0x80, wantErr: ErrNack},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeEndpoints{pending: [][]byte{{tt.status}}}
			c := newTestCH341(f)
			err := c.I2C().Tx(0x50, nil, nil)
			if !errors.Is(err, tt.wantErr) && err != tt.wantErr {
				t.Errorf("Tx() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCH341Closed(t *testing.T) {
	c := newTestCH341(&fakeEndpoints{})
	if !c.Connected() {
		t.Fatal("Connected() = false before Close")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if c.Connected() {
		t.Error("Connected() = true after Close")
	}
	if StateOf(c) != Disconnected {
		t.Errorf("StateOf() = %v, want disconnected", StateOf(c))
	}
	err := c.SPI().Tx([]byte{0x9F}, nil)
	if !errors.Is(err, errcode.Disconnected) {
		t.Errorf("Tx() after Close error = %v, want %v", err, errcode.Disconnected)
	}
}
