// Package discovery reads the identity and parameter data that SPI flash
// chips report about themselves: the JEDEC ID, the SFDP tables and the
// factory unique ID.
//
// All readers take the SPI bus directly and issue plain transactions:
//
//	id, err := discovery.ReadJEDEC(adapter.SPI())
//	if err != nil {
//	    return err
//	}
//	match, err := db.MatchJEDEC(id.JEDEC())
//
// A failed or blank answer is a ReadError, never "no chip"; an SFDP space
// without the signature is SfdpUnsupported and leaves the caller on the
// values from the chip database.
package discovery

import (
	"encoding/hex"
	"fmt"

	"tinygo.org/x/drivers"

	"github.com/moffa90/go-chipprog/chipdb"
	"github.com/moffa90/go-chipprog/errcode"
	"github.com/moffa90/go-chipprog/protocol"
)

// JedecID is the identity returned by the 0x9F instruction.
type JedecID struct {
	Manufacturer byte
	MemoryType   byte
	Capacity     byte
}

// Bytes returns the ID in wire order.
func (id JedecID) Bytes() [protocol.JEDECIDSize]byte {
	return [protocol.JEDECIDSize]byte{id.Manufacturer, id.MemoryType, id.Capacity}
}

// JEDEC returns the ID in chip database form.
func (id JedecID) JEDEC() chipdb.JEDEC { return chipdb.JEDEC(id.Bytes()) }

func (id JedecID) String() string { return id.JEDEC().String() }

// ReadJEDEC reads the JEDEC ID. A blank answer (all 0x00 or all 0xFF) is a
// read failure.
func ReadJEDEC(bus drivers.SPI) (JedecID, error) {
	frame := protocol.BuildJEDECCmd()
	rx := make([]byte, len(frame))
	if err := bus.Tx(frame, rx); err != nil {
		return JedecID{}, errcode.Wrap(errcode.ReadError, fmt.Errorf("read jedec id: %w", err))
	}
	b, err := protocol.ParseJEDECResponse(rx)
	if err != nil {
		return JedecID{}, errcode.Wrap(errcode.ReadError, err)
	}
	if protocol.IsErased(b[:], 0x00) || protocol.IsErased(b[:], 0xFF) {
		return JedecID{}, errcode.Wrap(errcode.ReadError, fmt.Errorf("no response to jedec id (% X)", b))
	}
	return JedecID{Manufacturer: b[0], MemoryType: b[1], Capacity: b[2]}, nil
}

// UniqueID is the factory programmed 64-bit serial number.
type UniqueID [protocol.UniqueIDSize]byte

func (u UniqueID) String() string { return hex.EncodeToString(u[:]) }

// ReadUniqueID reads the unique ID with 0x4B.
func ReadUniqueID(bus drivers.SPI) (UniqueID, error) {
	var id UniqueID
	frame := protocol.BuildUniqueIDCmd()
	rx := make([]byte, len(frame))
	if err := bus.Tx(frame, rx); err != nil {
		return id, errcode.Wrap(errcode.ReadError, fmt.Errorf("read unique id: %w", err))
	}
	copy(id[:], protocol.Payload(rx, protocol.UniqueIDHeaderLen))
	if protocol.IsErased(id[:], 0xFF) {
		return id, errcode.Wrap(errcode.ReadError, fmt.Errorf("no response to unique id"))
	}
	return id, nil
}
