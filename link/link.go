//go:build linux

// Package link implements the raw Ethernet I/O layer: interface
// enumeration, a single AF_PACKET socket bound to the MIP EtherType, and
// scatter/gather send/receive of Ethernet frames carrying MIP PDUs.
package link

import (
	"fmt"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/vfaergestad/mipd/ethernet"
)

// MaxInterfaces bounds how many local interfaces a node remembers.
const MaxInterfaces = 10

// Interface is one local link-layer endpoint this node can send/receive on.
type Interface struct {
	MAC     ethernet.MAC
	IfIndex int
	Name    string
}

// Link owns the raw socket and the interface table built at startup.
type Link struct {
	fd         int
	interfaces []Interface
}

func htons(v uint16) uint16 { return (v<<8)&0xff00 | v>>8 }

// Open enumerates non-loopback, hardware-addressed interfaces (capped at
// MaxInterfaces) via netlink, then creates and binds a single
// AF_PACKET/SOCK_RAW socket filtering on the MIP EtherType.
func Open() (*Link, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, fmt.Errorf("link: enumerate interfaces: %w", err)
	}

	var ifs []Interface
	for _, l := range links {
		attrs := l.Attrs()
		if attrs.Flags&unix.IFF_LOOPBACK != 0 {
			continue
		}
		if len(attrs.HardwareAddr) != 6 {
			continue
		}
		mac, err := ethernet.ParseMAC(attrs.HardwareAddr)
		if err != nil {
			continue
		}
		ifs = append(ifs, Interface{MAC: mac, IfIndex: attrs.Index, Name: attrs.Name})
		if len(ifs) == MaxInterfaces {
			break
		}
	}
	if len(ifs) == 0 {
		return nil, fmt.Errorf("link: no usable non-loopback interfaces found")
	}

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(ethernet.EtherType)))
	if err != nil {
		return nil, fmt.Errorf("link: open raw socket: %w", err)
	}

	sll := &unix.SockaddrLinklayer{
		Protocol: htons(ethernet.EtherType),
		Ifindex:  0, // bind to all interfaces; acceptance filter narrows on receive
	}
	if err := unix.Bind(fd, sll); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("link: bind raw socket: %w", err)
	}

	return &Link{fd: fd, interfaces: ifs}, nil
}

// Close releases the raw socket.
func (l *Link) Close() error {
	return unix.Close(l.fd)
}

// Interfaces returns the interface table built at Open.
func (l *Link) Interfaces() []Interface {
	return l.interfaces
}

// InterfaceByIndex looks up a local interface by kernel ifindex.
func (l *Link) InterfaceByIndex(ifIndex int) (Interface, bool) {
	for _, i := range l.interfaces {
		if i.IfIndex == ifIndex {
			return i, true
		}
	}
	return Interface{}, false
}

// Frame is a received Ethernet frame plus the arrival interface index,
// which the kernel supplies as the recvmsg peer address rather than as
// part of the frame payload.
type Frame struct {
	Header    ethernet.Header
	Payload   []byte // the MIP PDU bytes following the Ethernet header
	RxIfIndex int
}

// Send transmits payload (a packed MIP PDU) as the body of an Ethernet
// frame addressed to dst, out the interface ifIndex with source srcMAC.
// The Ethernet header and the payload are copied into one frame buffer,
// which is handed to sendto in a single call.
func (l *Link) Send(ifIndex int, srcMAC ethernet.MAC, dst ethernet.MAC, payload []byte) error {
	hdr := ethernet.Header{Dst: dst, Src: srcMAC, EtherType: ethernet.EtherType}.Pack()
	frame := make([]byte, 0, len(hdr)+len(payload))
	frame = append(frame, hdr...)
	frame = append(frame, payload...)

	to := &unix.SockaddrLinklayer{
		Protocol: htons(ethernet.EtherType),
		Ifindex:  ifIndex,
		Halen:    6,
	}
	copy(to.Addr[:6], dst[:])

	if err := unix.Sendto(l.fd, frame, 0, to); err != nil {
		return fmt.Errorf("link: sendto: %w", err)
	}
	return nil
}

// Receive blocks until one frame whose destination is this node's MAC
// (on the interface it arrived on) or the broadcast MAC, with EtherType
// 0x88B5, is available. Frames failing the acceptance filter are
// silently dropped and Receive keeps reading. The arrival interface
// index comes from the recvmsg peer address, matching spec.md §4.1's
// "kernel supplies the arriving interface index via the auxiliary
// address".
func (l *Link) Receive() (Frame, error) {
	buf := make([]byte, ethernet.HeaderLen+520)

	for {
		n, _, _, from, err := unix.Recvmsg(l.fd, buf, nil, 0)
		if err != nil {
			return Frame{}, fmt.Errorf("link: recvmsg: %w", err)
		}
		if n < ethernet.HeaderLen {
			continue
		}

		h, err := ethernet.ParseHeader(buf[:n])
		if err != nil {
			continue
		}

		sll, ok := from.(*unix.SockaddrLinklayer)
		if !ok {
			continue
		}
		rxIf := sll.Ifindex
		local, ok := l.InterfaceByIndex(rxIf)
		if !ok {
			continue
		}
		if !ethernet.AcceptedBy(h.Dst, local.MAC) {
			continue
		}

		payload := make([]byte, n-ethernet.HeaderLen)
		copy(payload, buf[ethernet.HeaderLen:n])

		return Frame{Header: h, Payload: payload, RxIfIndex: rxIf}, nil
	}
}
