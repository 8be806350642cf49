// Package ethernet packs and parses the thin Ethernet II header MIP PDUs
// ride on top of.
package ethernet

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// EtherType is the registered (pedagogical) EtherType MIP traffic carries.
const EtherType uint16 = 0x88B5

// HeaderLen is dst(6) + src(6) + ethertype(2).
const HeaderLen = 14

// Broadcast is the all-ones link-layer address.
var Broadcast = MAC{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// MAC is a 6-byte hardware address.
type MAC [6]byte

func (m MAC) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", m[0], m[1], m[2], m[3], m[4], m[5])
}

func (m MAC) Equal(o MAC) bool { return m == o }

// ParseMAC copies a 6-byte slice into a MAC, erroring on any other length.
func ParseMAC(b []byte) (MAC, error) {
	var m MAC
	if len(b) != 6 {
		return m, fmt.Errorf("ethernet: mac must be 6 bytes, got %d", len(b))
	}
	copy(m[:], b)
	return m, nil
}

// Header is the fixed Ethernet II header preceding a MIP PDU.
type Header struct {
	Dst       MAC
	Src       MAC
	EtherType uint16
}

var ErrTooShort = errors.New("ethernet: buffer shorter than header")

// Pack encodes the header to HeaderLen bytes.
func (h Header) Pack() []byte {
	buf := make([]byte, HeaderLen)
	copy(buf[0:6], h.Dst[:])
	copy(buf[6:12], h.Src[:])
	binary.BigEndian.PutUint16(buf[12:14], h.EtherType)
	return buf
}

// ParseHeader reads the leading HeaderLen bytes of buf as an Ethernet header.
func ParseHeader(buf []byte) (Header, error) {
	var h Header
	if len(buf) < HeaderLen {
		return h, ErrTooShort
	}
	copy(h.Dst[:], buf[0:6])
	copy(h.Src[:], buf[6:12])
	h.EtherType = binary.BigEndian.Uint16(buf[12:14])
	return h, nil
}

// AcceptedBy reports whether a frame addressed to dst should be accepted by
// a receiver whose own link address is local: either an exact match or the
// broadcast address.
func AcceptedBy(dst MAC, local MAC) bool {
	return dst == local || dst == Broadcast
}
