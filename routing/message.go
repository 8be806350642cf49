// Package routing implements the distance-vector routing protocol: the
// wire message codec (this file) and the protocol engine (engine.go)
// that drives HELLO/UPDATE dissemination and answers next-hop lookups.
package routing

import (
	"errors"
	"fmt"

	"github.com/vfaergestad/mipd/route"
)

// HeaderLen is the fixed 5-byte header common to every routing message.
const HeaderLen = 5

// Tag identifies which of the four routing message kinds a message is,
// carried as a 3-byte ASCII triple.
type Tag [3]byte

var (
	TagHello    = Tag{'H', 'E', 'L'}
	TagUpdate   = Tag{'U', 'P', 'D'}
	TagRequest  = Tag{'R', 'E', 'Q'}
	TagResponse = Tag{'R', 'S', 'P'}
)

func (t Tag) String() string { return string(t[:]) }

// Header is common to all four routing message variants.
type Header struct {
	MIPAddr byte
	TTL     byte
	Tag     Tag
}

func (h Header) pack() []byte {
	return []byte{h.MIPAddr, h.TTL, h.Tag[0], h.Tag[1], h.Tag[2]}
}

func parseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderLen {
		return Header{}, errors.New("routing: header shorter than 5 bytes")
	}
	return Header{
		MIPAddr: buf[0],
		TTL:     buf[1],
		Tag:     Tag{buf[2], buf[3], buf[4]},
	}, nil
}

// Hello carries only the header: a neighbor discovery beacon.
type Hello struct{ Header Header }

func (m Hello) Pack() []byte { return m.Header.pack() }

// Update carries a 256-entry cost vector: cost to reach destination n is
// Vector[n] (route.Unreachable meaning no route).
type Update struct {
	Header Header
	Vector [route.NumAddrs]byte
}

func (m Update) Pack() []byte {
	buf := make([]byte, HeaderLen+route.NumAddrs)
	copy(buf, m.Header.pack())
	copy(buf[HeaderLen:], m.Vector[:])
	return buf
}

// Request asks the receiver for the next hop toward Lookup.
type Request struct {
	Header Header
	Lookup byte
}

func (m Request) Pack() []byte {
	return append(m.Header.pack(), m.Lookup)
}

// Response answers a Request. Lookup echoes the Request's Lookup field so
// a requester with more than one outstanding REQUEST can tell which
// answer this is. Valid is false when the lookup found no route; NextHop
// is only meaningful when Valid is true. Valid travels on the wire as its
// own byte rather than being inferred from NextHop==0, since 0 is a
// legal MIP address (see spec.md's "Open question" on this ambiguity).
type Response struct {
	Header  Header
	Lookup  byte
	NextHop byte
	Valid   bool
}

func (m Response) Pack() []byte {
	validByte := byte(0)
	if m.Valid {
		validByte = 1
	}
	return append(m.Header.pack(), m.Lookup, m.NextHop, validByte)
}

// Decoded is the result of parsing a routing message of unknown kind.
type Decoded struct {
	Header  Header
	Hello   *Hello
	Update  *Update
	Request *Request
	Resp    *Response
}

// Decode inspects the header tag and parses the matching variant.
func Decode(buf []byte) (Decoded, error) {
	h, err := parseHeader(buf)
	if err != nil {
		return Decoded{}, err
	}
	rest := buf[HeaderLen:]
	switch h.Tag {
	case TagHello:
		return Decoded{Header: h, Hello: &Hello{Header: h}}, nil
	case TagUpdate:
		if len(rest) < route.NumAddrs {
			return Decoded{}, fmt.Errorf("routing: UPDATE payload too short: %d bytes", len(rest))
		}
		u := Update{Header: h}
		copy(u.Vector[:], rest[:route.NumAddrs])
		return Decoded{Header: h, Update: &u}, nil
	case TagRequest:
		if len(rest) < 1 {
			return Decoded{}, errors.New("routing: REQUEST payload too short")
		}
		return Decoded{Header: h, Request: &Request{Header: h, Lookup: rest[0]}}, nil
	case TagResponse:
		if len(rest) < 3 {
			return Decoded{}, errors.New("routing: RESPONSE payload too short")
		}
		return Decoded{Header: h, Resp: &Response{Header: h, Lookup: rest[0], NextHop: rest[1], Valid: rest[2] != 0}}, nil
	default:
		return Decoded{}, fmt.Errorf("routing: unknown tag %q", h.Tag)
	}
}
