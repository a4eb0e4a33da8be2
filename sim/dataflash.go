package sim

import (
	"bytes"
	"math/bits"

	"github.com/moffa90/go-chipprog/chipdb"
	"github.com/moffa90/go-chipprog/protocol"
)

// DataFlash simulates an AT45DB DataFlash in its default page size. A page
// program goes through buffer 1: bytes not loaded keep whatever the buffer
// held before, and the whole buffer replaces the page.
type DataFlash struct {
	Chip  chipdb.Descriptor
	Mem   []byte
	JEDEC [3]byte

	// BusyPolls is the number of status reads that report busy after a
	// program or erase
	BusyPolls int

	buffer []byte
	busy   int
}

// NewDataFlash creates an erased DataFlash.
func NewDataFlash(chip chipdb.Descriptor) *DataFlash {
	return &DataFlash{
		Chip:   chip,
		Mem:    filled(int(chip.Size), chip.ErasedValue()),
		JEDEC:  chip.JEDEC,
		buffer: filled(int(chip.PageSize), 0xFF),
	}
}

// linear converts a page/offset address to an array offset.
func (d *DataFlash) linear(a uint32) (page, offset uint32) {
	offsetBits := bits.Len32(d.Chip.PageSize - 1)
	return a >> offsetBits, a & (1<<offsetBits - 1)
}

// Exchange implements SPIChip.
func (d *DataFlash) Exchange(w []byte) []byte {
	r := filled(len(w), 0xFF)
	if len(w) == 0 {
		return r
	}
	if bytes.Equal(w, protocol.DataFlashChipErase) {
		fill(d.Mem, d.Chip.ErasedValue())
		d.busy = d.BusyPolls
		return r
	}

	pageSize := d.Chip.PageSize
	switch w[0] {
	case protocol.OpReadJEDEC:
		copy(r[1:], d.JEDEC[:])
	case protocol.OpDataFlashStatus:
		v := byte(protocol.DataFlashReady | 0x1C)
		if d.busy > 0 {
			d.busy--
			v &^= protocol.DataFlashReady
		}
		for i := 1; i < len(r); i++ {
			r[i] = v
		}
	case protocol.OpDataFlashRead:
		if a, ok := address(w, 3); ok {
			page, off := d.linear(a)
			readInto(r[4:], d.Mem, page*pageSize+off)
		}
	case protocol.OpDataFlashPageErase:
		if a, ok := address(w, 3); ok {
			page, _ := d.linear(a)
			if at := page * pageSize; at < uint32(len(d.Mem)) {
				fill(d.Mem[at:at+pageSize], d.Chip.ErasedValue())
			}
			d.busy = d.BusyPolls
		}
	case protocol.OpDataFlashProgram:
		if a, ok := address(w, 3); ok {
			page, off := d.linear(a)
			for i, b := range w[4:] {
				d.buffer[(off+uint32(i))%pageSize] = b
			}
			if at := page * pageSize; at < uint32(len(d.Mem)) {
				copy(d.Mem[at:at+pageSize], d.buffer)
			}
			d.busy = d.BusyPolls
		}
	}
	return r
}
