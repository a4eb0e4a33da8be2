package transport

import (
	"fmt"
	"math/bits"
)

// CH341A identification and framing.
const (
	// CH341VendorID is the QinHeng Electronics USB vendor ID
	CH341VendorID = 0x1A86

	// CH341ProductID is the CH341A product ID in EPP/I2C/SPI mode
	CH341ProductID = 0x5512

	// CH341PacketLength is the bulk packet size of the CH341A
	CH341PacketLength = 0x20

	ch341BulkOut = 0x02
	ch341BulkIn  = 0x02
)

// CH341A stream commands.
const (
	CmdSPIStream = 0xA8
	CmdI2CStream = 0xAA
	CmdUIOStream = 0xAB
)

// I2C stream sub-commands.
const (
	I2CStart = 0x74
	I2CStop  = 0x75
	I2COut   = 0x80
	I2CIn    = 0xC0
	I2CSet   = 0x60
	I2CDelay = 0x40
	I2CEnd   = 0x00

	// I2CMaxChunk is the largest OUT/IN payload per sub-command
	I2CMaxChunk = 0x20
)

// UIO stream sub-commands.
const (
	UIOIn  = 0x00
	UIODir = 0x40
	UIOOut = 0x80
	UIOUs  = 0xC0
	UIOEnd = 0x20
)

// UIO pin assignment on CH341A programmers.
const (
	pinCS   = 1 << 0 // D0
	pinSCK  = 1 << 3 // D3
	pinMOSI = 1 << 5 // D5
	pinMISO = 1 << 7 // D7, input

	// uioOutputs drives D0-D5
	uioOutputs = 0x3F

	// spiIdle keeps CS high (deselected) and the other outputs high
	spiIdle = 0x37

	// spiSelect pulls CS low
	spiSelect = 0x36
)

// I2C clock codes for the SET sub-command.
const (
	Speed20k  = 0
	Speed100k = 1
	Speed400k = 2
	Speed750k = 3
)

// speedCode returns the CH341 clock code closest to kHz without exceeding it.
func speedCode(kHz int) byte {
	switch {
	case kHz <= 0:
		return Speed100k
	case kHz < 100:
		return Speed20k
	case kHz < 400:
		return Speed100k
	case kHz < 750:
		return Speed400k
	default:
		return Speed750k
	}
}

// BuildSpeedCmd constructs the packet selecting the stream clock.
//
// Packet structure:
//
//	[I2C_STREAM][SET|code][END]
func BuildSpeedCmd(kHz int) []byte {
	return []byte{CmdI2CStream, I2CSet | speedCode(kHz), I2CEnd}
}

// BuildChipSelectCmd constructs the UIO packet driving the SPI chip select.
//
// Packet structure:
//
//	[UIO_STREAM][OUT|pins][DIR|0x3F][END]
func BuildChipSelectCmd(selected bool) []byte {
	pins := byte(spiIdle)
	if selected {
		pins = spiSelect
	}
	return []byte{CmdUIOStream, UIOOut | pins, UIODir | uioOutputs, UIOEnd}
}

// BuildSPIStreamCmd constructs one SPI stream packet. The CH341 shifts bytes
// LSB first, so every byte is bit-reversed on the way out.
//
// Packet structure:
//
//	[SPI_STREAM][DATA...]
func BuildSPIStreamCmd(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("data cannot be empty")
	}
	if len(data) > CH341PacketLength-1 {
		return nil, fmt.Errorf("data length %d exceeds maximum %d bytes", len(data), CH341PacketLength-1)
	}

	pkt := make([]byte, 0, len(data)+1)
	pkt = append(pkt, CmdSPIStream)
	for _, b := range data {
		pkt = append(pkt, bits.Reverse8(b))
	}
	return pkt, nil
}

// ReverseBytes bit-reverses buf in place and returns it.
func ReverseBytes(buf []byte) []byte {
	for i, b := range buf {
		buf[i] = bits.Reverse8(b)
	}
	return buf
}

// streamBuilder splits a command stream into CH341 packets. A group of
// sub-command bytes is never split across packets.
type streamBuilder struct {
	cmd     byte
	end     byte
	packets [][]byte
	cur     []byte
	reads   int
}

func newStreamBuilder(cmd, end byte) *streamBuilder {
	return &streamBuilder{cmd: cmd, end: end}
}

func (s *streamBuilder) add(group ...byte) {
	// room for the command byte and the END marker
	if s.cur != nil && len(s.cur)+len(group)+1 > CH341PacketLength {
		s.flush()
	}
	if s.cur == nil {
		s.cur = append(make([]byte, 0, CH341PacketLength), s.cmd)
	}
	s.cur = append(s.cur, group...)
}

func (s *streamBuilder) flush() {
	if s.cur == nil {
		return
	}
	s.packets = append(s.packets, append(s.cur, s.end))
	s.cur = nil
}

func (s *streamBuilder) build() [][]byte {
	s.flush()
	return s.packets
}

// BuildI2CTx constructs the packets for one I2C transaction: an optional
// write of w to addr followed by an optional repeated-start read of n bytes.
// It returns the packets and the number of bytes the adapter will return.
func BuildI2CTx(addr uint16, w []byte, n int) ([][]byte, int, error) {
	if addr > 0x7F {
		return nil, 0, fmt.Errorf("i2c address 0x%X is not a 7-bit address", addr)
	}
	s := newStreamBuilder(CmdI2CStream, I2CEnd)
	devWrite := byte(addr << 1)

	if len(w) > 0 || n == 0 {
		s.add(I2CStart)
		out := append([]byte{devWrite}, w...)
		for len(out) > 0 {
			// command byte, OUT header and END share the packet
			k := min(len(out), CH341PacketLength-3)
			s.add(append([]byte{I2COut | byte(k)}, out[:k]...)...)
			out = out[k:]
		}
	}

	if n > 0 {
		s.add(I2CStart)
		s.add(I2COut|1, devWrite|1)
		remaining := n
		for remaining > 1 {
			k := min(remaining-1, I2CMaxChunk)
			s.add(I2CIn | byte(k))
			s.reads += k
			remaining -= k
		}
		// last byte is read with NACK
		s.add(I2CIn)
		s.reads++
	}

	s.add(I2CStop)
	return s.build(), s.reads, nil
}

// BuildI2CProbe constructs the packet that addresses a device and returns its
// acknowledge status as one response byte.
//
// Packet structure:
//
//	[I2C_STREAM][STA][OUT][ADDR][STO][END]
func BuildI2CProbe(addr uint16) []byte {
	return []byte{CmdI2CStream, I2CStart, I2COut, byte(addr << 1), I2CStop, I2CEnd}
}

// I2CNack reports whether a probe status byte signals a missing acknowledge.
func I2CNack(status byte) bool {
	return status&0x80 != 0
}

// BuildMicrowireTx constructs the UIO packets bit-banging one MicroWire
// transaction. Chip select is active high. Output bits are presented on DI
// and latched on the rising clock edge; input bits are sampled from DO after
// each falling edge. Each sampled bit yields one response byte.
func BuildMicrowireTx(w []byte, wbits int, rbits int) ([][]byte, int, error) {
	if wbits > len(w)*8 {
		return nil, 0, fmt.Errorf("wbits %d exceeds buffer of %d bits", wbits, len(w)*8)
	}
	s := newStreamBuilder(CmdUIOStream, UIOEnd)
	s.add(UIODir | uioOutputs)
	s.add(UIOOut | pinCS)

	for i := 0; i < wbits; i++ {
		var di byte
		if w[i/8]&(0x80>>(i%8)) != 0 {
			di = pinMOSI
		}
		s.add(UIOOut|pinCS|di, UIOOut|pinCS|pinSCK|di)
	}
	for i := 0; i < rbits; i++ {
		s.add(UIOOut|pinCS|pinSCK, UIOOut|pinCS, UIOIn)
		s.reads++
	}
	s.add(UIOOut) // release CS and clock
	return s.build(), s.reads, nil
}

// packMicrowireBits converts sampled pin bytes into MSB-first bits of r.
func packMicrowireBits(samples []byte, r []byte) {
	for i := range r {
		r[i] = 0
	}
	for i, s := range samples {
		if i/8 >= len(r) {
			return
		}
		if s&pinMISO != 0 {
			r[i/8] |= 0x80 >> (i % 8)
		}
	}
}
