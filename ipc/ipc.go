// Package ipc implements the boundary between the MIP daemon and its
// upper-layer clients (ping client/server, the routing daemon): a local
// sequenced-packet socket exchanging typed, length-preserving records.
//
// Go's "unixpacket" network gives message-boundary-preserving semantics
// equivalent to AF_UNIX SOCK_SEQPACKET without a third-party socket
// library; no example in the reference corpus offers a distinct
// sequenced-packet abstraction on top of what net already provides.
package ipc

import (
	"errors"
	"fmt"
	"net"

	"github.com/vfaergestad/mipd/pdu"
)

// MaxAcceptedConns bounds the accepted-connection table.
const MaxAcceptedConns = 10

// UpperMessage is the application <-> MIP daemon record carried on a ping
// connection: {mip_addr, ttl, sdu}. Unlike the over-the-wire MIP PDU, this
// is not padded to a fixed tail: unixpacket preserves message boundaries,
// so the SDU's length is simply the message's length minus the 2-byte
// header.
type UpperMessage struct {
	MIPAddr byte
	TTL     byte
	SDU     []byte
}

var ErrTooShort = errors.New("ipc: upper message shorter than 2 bytes")

// Pack encodes the message as {mip_addr, ttl, sdu...}.
func (m UpperMessage) Pack() []byte {
	buf := make([]byte, 2, 2+len(m.SDU))
	buf[0] = m.MIPAddr
	buf[1] = m.TTL
	buf = append(buf, m.SDU...)
	return buf
}

// UnpackUpperMessage decodes a datagram read from a ping connection.
func UnpackUpperMessage(buf []byte) (UpperMessage, error) {
	if len(buf) < 2 {
		return UpperMessage{}, ErrTooShort
	}
	sdu := make([]byte, len(buf)-2)
	copy(sdu, buf[2:])
	return UpperMessage{MIPAddr: buf[0], TTL: buf[1], SDU: sdu}, nil
}

// ConnKind is the first byte a client sends to identify itself.
type ConnKind = pdu.SDUType

// Kinds a client may announce itself as. ARP clients are rejected.
const (
	KindARP     = pdu.ARP
	KindPing    = pdu.PING
	KindRouting = pdu.ROUTING
)

// Conn is one accepted upper-layer connection, tagged with its announced
// kind.
type Conn struct {
	Kind ConnKind
	NC   net.Conn
}

var ErrTableFull = errors.New("ipc: accepted connection table is full")
var ErrARPRejected = errors.New("ipc: ARP clients are not accepted on the upper socket")

// Table is the MIP daemon's bounded table of accepted upper connections,
// plus the two reserved single-slot roles spec.md calls out: the most
// recently connected ping client, and the routing daemon.
type Table struct {
	conns      []*Conn
	pingUSD    *Conn
	routingUSD *Conn
}

// NewTable creates an empty accepted-connection table.
func NewTable() *Table {
	return &Table{conns: make([]*Conn, 0, MaxAcceptedConns)}
}

// Accept reads the one-byte kind announcement from nc and, if it is not
// ARP and the table has room, registers the connection.
func (t *Table) Accept(nc net.Conn) (*Conn, error) {
	var kindByte [1]byte
	n, err := nc.Read(kindByte[:])
	if err != nil {
		return nil, fmt.Errorf("ipc: read connection kind: %w", err)
	}
	if n != 1 {
		return nil, fmt.Errorf("ipc: expected 1-byte kind announcement, got %d bytes", n)
	}
	kind := ConnKind(kindByte[0])
	if kind == KindARP {
		return nil, ErrARPRejected
	}
	if kind != KindPing && kind != KindRouting {
		return nil, fmt.Errorf("ipc: unknown connection kind %d", kindByte[0])
	}
	if len(t.conns) >= MaxAcceptedConns {
		return nil, ErrTableFull
	}
	c := &Conn{Kind: kind, NC: nc}
	t.conns = append(t.conns, c)
	switch kind {
	case KindPing:
		t.pingUSD = c
	case KindRouting:
		t.routingUSD = c
	}
	return c, nil
}

// Remove drops c from the table, e.g. on a zero-length read (disconnect).
func (t *Table) Remove(c *Conn) {
	for i, e := range t.conns {
		if e == c {
			t.conns = append(t.conns[:i], t.conns[i+1:]...)
			break
		}
	}
	if t.pingUSD == c {
		t.pingUSD = nil
	}
	if t.routingUSD == c {
		t.routingUSD = nil
	}
}

// PingConn returns the last-connected ping client, if any.
func (t *Table) PingConn() (*Conn, bool) {
	return t.pingUSD, t.pingUSD != nil
}

// RoutingConn returns the routing daemon's connection, if any.
func (t *Table) RoutingConn() (*Conn, bool) {
	return t.routingUSD, t.routingUSD != nil
}

// All returns every currently accepted connection.
func (t *Table) All() []*Conn {
	return t.conns
}
