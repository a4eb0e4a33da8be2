package sim

import (
	"github.com/moffa90/go-chipprog/chipdb"
	"github.com/moffa90/go-chipprog/protocol"
)

// NAND protection register bits covering the block protect field.
const nandBlockProtect = 0x78

// NAND simulates a W25N-style SPI NAND flash. Pages are stored sparsely;
// unwritten pages read as erased. All blocks are write protected at power-up.
type NAND struct {
	Chip  chipdb.Descriptor
	JEDEC [3]byte

	// Protection is the A0h feature register
	Protection byte

	// BusyPolls is the number of status reads that report OIP after a page
	// read, program or erase
	BusyPolls int

	// FailBlocks lists block indexes whose program and erase fail
	FailBlocks map[uint32]bool

	pages  map[uint32][]byte
	cache  []byte
	config byte
	status byte
	busy   int
	wel    bool
}

// NewNAND creates an erased SPI NAND.
func NewNAND(chip chipdb.Descriptor) *NAND {
	return &NAND{
		Chip:       chip,
		JEDEC:      chip.JEDEC,
		Protection: 0x7C,
		FailBlocks: map[uint32]bool{},
		pages:      map[uint32][]byte{},
		cache:      filled(int(chip.PageSize), chip.ErasedValue()),
		config:     0x18,
	}
}

// ReadAt returns n bytes of the array starting at addr.
func (n *NAND) ReadAt(addr uint32, size int) []byte {
	out := make([]byte, size)
	for i := range out {
		at := addr + uint32(i)
		out[i] = n.page(at / n.Chip.PageSize)[at%n.Chip.PageSize]
	}
	return out
}

func (n *NAND) page(row uint32) []byte {
	if p, ok := n.pages[row]; ok {
		return p
	}
	return filled(int(n.Chip.PageSize), n.Chip.ErasedValue())
}

func (n *NAND) pagesPerBlock() uint32 { return n.Chip.BlockSize / n.Chip.PageSize }

// Exchange implements SPIChip.
func (n *NAND) Exchange(w []byte) []byte {
	r := filled(len(w), 0xFF)
	if len(w) == 0 {
		return r
	}

	switch w[0] {
	case protocol.OpReadJEDEC:
		if len(r) > 2 {
			copy(r[2:], n.JEDEC[:])
		}
	case protocol.OpNANDReset:
		n.wel = false
		n.status = 0
	case protocol.OpWriteEnable:
		n.wel = true
	case protocol.OpWriteDisable:
		n.wel = false

	case protocol.OpNANDGetFeature:
		if len(w) >= 3 {
			r[2] = n.feature(w[1])
		}
	case protocol.OpNANDSetFeature:
		if len(w) >= 3 {
			switch w[1] {
			case protocol.FeatureProtection:
				n.Protection = w[2]
			case protocol.FeatureConfig:
				n.config = w[2]
			}
		}

	case protocol.OpNANDPageRead:
		if row, ok := address(w, 3); ok {
			copy(n.cache, n.page(row))
			n.busy = n.BusyPolls
		}
	case protocol.OpNANDReadCache:
		if col, ok := address(w, 2); ok && len(r) > protocol.NANDReadCacheHeaderLen {
			readInto(r[protocol.NANDReadCacheHeaderLen:], n.cache, col)
		}
	case protocol.OpNANDProgramLoad:
		if col, ok := address(w, 2); ok {
			fill(n.cache, 0xFF)
			for i, b := range w[3:] {
				if int(col)+i < len(n.cache) {
					n.cache[int(col)+i] = b
				}
			}
		}
	case protocol.OpNANDProgramExecute:
		if row, ok := address(w, 3); ok {
			n.program(row)
		}
	case protocol.OpNANDBlockErase:
		if row, ok := address(w, 3); ok {
			n.erase(row)
		}
	}
	return r
}

func (n *NAND) feature(reg byte) byte {
	switch reg {
	case protocol.FeatureProtection:
		return n.Protection
	case protocol.FeatureConfig:
		return n.config
	case protocol.FeatureStatus:
		v := n.status
		if n.busy > 0 {
			n.busy--
			v |= protocol.NANDStatusOIP
		}
		if n.wel {
			v |= protocol.NANDStatusWEL
		}
		return v
	}
	return 0x00
}

func (n *NAND) program(row uint32) {
	n.status &^= protocol.NANDStatusProgramFail | protocol.NANDStatusEraseFail
	ok := n.wel && n.Protection&nandBlockProtect == 0 && !n.FailBlocks[row/n.pagesPerBlock()]
	n.wel = false
	n.busy = n.BusyPolls
	if !ok {
		n.status |= protocol.NANDStatusProgramFail
		return
	}
	p := n.page(row)
	for i, b := range n.cache {
		p[i] &= b
	}
	n.pages[row] = p
}

func (n *NAND) erase(row uint32) {
	n.status &^= protocol.NANDStatusProgramFail | protocol.NANDStatusEraseFail
	block := row / n.pagesPerBlock()
	ok := n.wel && n.Protection&nandBlockProtect == 0 && !n.FailBlocks[block]
	n.wel = false
	n.busy = n.BusyPolls
	if !ok {
		n.status |= protocol.NANDStatusEraseFail
		return
	}
	first := block * n.pagesPerBlock()
	for p := first; p < first+n.pagesPerBlock(); p++ {
		delete(n.pages, p)
	}
}
