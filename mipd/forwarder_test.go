package mipd

import (
	"log/slog"
	"net"
	"testing"

	"github.com/vfaergestad/mipd/arp"
	"github.com/vfaergestad/mipd/ethernet"
	"github.com/vfaergestad/mipd/ipc"
	"github.com/vfaergestad/mipd/link"
	"github.com/vfaergestad/mipd/pdu"
	"github.com/vfaergestad/mipd/routing"
)

func pipeConn() (net.Conn, net.Conn) { return net.Pipe() }

type sentFrame struct {
	ifIndex int
	dst     ethernet.MAC
	payload []byte
}

type fakeLink struct {
	ifaces []link.Interface
	sent   []sentFrame
}

func newFakeLink() *fakeLink {
	return &fakeLink{ifaces: []link.Interface{
		{MAC: ethernet.MAC{1, 2, 3, 4, 5, 6}, IfIndex: 1, Name: "eth0"},
	}}
}

func (f *fakeLink) Send(ifIndex int, srcMAC, dst ethernet.MAC, payload []byte) error {
	f.sent = append(f.sent, sentFrame{ifIndex: ifIndex, dst: dst, payload: payload})
	return nil
}

func (f *fakeLink) Interfaces() []link.Interface { return f.ifaces }

func (f *fakeLink) InterfaceByIndex(ifIndex int) (link.Interface, bool) {
	for _, i := range f.ifaces {
		if i.IfIndex == ifIndex {
			return i, true
		}
	}
	return link.Interface{}, false
}

type fakeAsker struct{ asked []byte }

func (a *fakeAsker) AskRoute(lookup byte) error {
	a.asked = append(a.asked, lookup)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nopWriter{}, nil))
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestHandleARPRequestAnswersAndCachesRequester(t *testing.T) {
	fl := newFakeLink()
	fwd := NewForwarder(10, fl, discardLogger())

	req := arp.Message{Type: arp.Request, MIPAddr: 10}
	p, err := pdu.New(pdu.Broadcast, 20, pdu.MaxTTL, pdu.ARP, req.Pack())
	if err != nil {
		t.Fatal(err)
	}
	wire, _ := p.Pack()
	frame := link.Frame{
		Header:    ethernet.Header{Dst: ethernet.Broadcast, Src: ethernet.MAC{9, 9, 9, 9, 9, 9}, EtherType: ethernet.EtherType},
		Payload:   wire,
		RxIfIndex: 1,
	}

	if err := fwd.HandleInboundFrame(frame, nil); err != nil {
		t.Fatal(err)
	}
	if len(fl.sent) != 1 {
		t.Fatalf("got %d sent frames, want 1", len(fl.sent))
	}
	if fl.sent[0].dst != (ethernet.MAC{9, 9, 9, 9, 9, 9}) {
		t.Fatalf("ARP response sent to wrong MAC: %v", fl.sent[0].dst)
	}
	if e, ok := fwd.cache.Get(20); !ok || e.MAC != (ethernet.MAC{9, 9, 9, 9, 9, 9}) || e.IfIndex != 1 {
		t.Fatalf("expected requester 20 cached at its source MAC on ifindex 1, got %+v ok=%v", e, ok)
	}
}

func TestForwardQueuesOnMissingRouteAndAsks(t *testing.T) {
	fl := newFakeLink()
	fwd := NewForwarder(10, fl, discardLogger())
	asker := &fakeAsker{}

	p, _ := pdu.New(30, 10, pdu.MaxTTL, pdu.PING, []byte("PING:hi"))
	if err := fwd.Forward(p, asker); err != nil {
		t.Fatal(err)
	}
	if len(asker.asked) != 1 || asker.asked[0] != 30 {
		t.Fatalf("got %v, want a single ask for 30", asker.asked)
	}
	if len(fl.sent) != 0 {
		t.Fatalf("expected no frames sent before route resolves, got %d", len(fl.sent))
	}
}

func TestForwardDoesNotAskTwiceForSameLookup(t *testing.T) {
	fl := newFakeLink()
	fwd := NewForwarder(10, fl, discardLogger())
	asker := &fakeAsker{}

	p1, _ := pdu.New(30, 10, pdu.MaxTTL, pdu.PING, []byte("a"))
	p2, _ := pdu.New(30, 10, pdu.MaxTTL, pdu.PING, []byte("b"))
	fwd.Forward(p1, asker)
	fwd.Forward(p2, asker)

	if len(asker.asked) != 1 {
		t.Fatalf("got %d asks, want 1 (serialized behind one outstanding REQUEST)", len(asker.asked))
	}
}

func TestHandleRouteResponseDrainsInFIFOOrderAndQueuesARP(t *testing.T) {
	fl := newFakeLink()
	fwd := NewForwarder(10, fl, discardLogger())
	asker := &fakeAsker{}

	p1, _ := pdu.New(30, 10, pdu.MaxTTL, pdu.PING, []byte("first"))
	p2, _ := pdu.New(30, 10, pdu.MaxTTL, pdu.PING, []byte("second"))
	fwd.Forward(p1, asker)
	fwd.Forward(p2, asker)

	fwd.HandleRouteResponse(routing.Response{NextHop: 30, Valid: true}, 30)

	// Next hop 30 is not yet ARP-resolved, so both PDUs should be queued
	// behind an ARP request rather than sent immediately.
	if len(fl.sent) == 0 {
		t.Fatal("expected an ARP request broadcast while resolving next hop 30")
	}
	for _, s := range fl.sent {
		if s.dst != ethernet.Broadcast {
			t.Fatalf("expected only ARP broadcasts before resolution, got unicast to %v", s.dst)
		}
	}
	if got := fwd.arpPending.DequeueKey(30); got == nil || string(got.SDU) != "first" {
		t.Fatalf("expected \"first\" at the head of the ARP pending queue, got %+v", got)
	}
	if got := fwd.arpPending.DequeueKey(30); got == nil || string(got.SDU) != "second" {
		t.Fatalf("expected \"second\" next in the ARP pending queue, got %+v", got)
	}
}

func TestForwardFloodsBroadcastOnAllInterfaces(t *testing.T) {
	fl := &fakeLink{ifaces: []link.Interface{
		{MAC: ethernet.MAC{1, 1, 1, 1, 1, 1}, IfIndex: 1, Name: "eth0"},
		{MAC: ethernet.MAC{2, 2, 2, 2, 2, 2}, IfIndex: 2, Name: "eth1"},
	}}
	fwd := NewForwarder(10, fl, discardLogger())

	p, _ := pdu.New(pdu.Broadcast, 10, pdu.MaxTTL, pdu.ROUTING, []byte("hello"))
	if err := fwd.Forward(p, nil); err != nil {
		t.Fatal(err)
	}
	if len(fl.sent) != 2 {
		t.Fatalf("got %d sent frames, want 2 (one per interface)", len(fl.sent))
	}
	for _, s := range fl.sent {
		if s.dst != ethernet.Broadcast {
			t.Fatalf("expected broadcast MAC destination, got %v", s.dst)
		}
	}
}

func TestDeliverUpwardToRoutingRewritesSenderToPDUSrc(t *testing.T) {
	fl := newFakeLink()
	fwd := NewForwarder(10, fl, discardLogger())

	srvConn, cliConn := pipeConn()
	go cliConn.Write([]byte{byte(pdu.ROUTING)})
	if _, err := fwd.Upper().Accept(srvConn); err != nil {
		t.Fatalf("Accept setup: %v", err)
	}

	// A HELLO packs the broadcast sentinel as its header MIPAddr (see
	// routing.Engine), so the PDU source (30) is the only place the
	// true sender is recorded.
	hello := routing.Hello{Header: routing.Header{MIPAddr: pdu.Broadcast, TTL: 1, Tag: routing.TagHello}}
	p, _ := pdu.New(pdu.Broadcast, 30, pdu.MaxTTL, pdu.ROUTING, hello.Pack())
	wire, _ := p.Pack()
	frame := link.Frame{
		Header:    ethernet.Header{Dst: ethernet.Broadcast, Src: ethernet.MAC{9, 9, 9, 9, 9, 9}, EtherType: ethernet.EtherType},
		Payload:   wire,
		RxIfIndex: 1,
	}
	// net.Pipe is unbuffered: the delivery write blocks until read, so
	// the reader must already be waiting.
	readDone := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 64)
		n, err := cliConn.Read(buf)
		if err != nil {
			t.Error(err)
		}
		readDone <- buf[:n]
	}()
	if err := fwd.HandleInboundFrame(frame, nil); err != nil {
		t.Fatal(err)
	}

	dec, err := routing.Decode(<-readDone)
	if err != nil {
		t.Fatal(err)
	}
	if dec.Hello == nil {
		t.Fatal("expected a decoded HELLO")
	}
	if dec.Header.MIPAddr != 30 {
		t.Fatalf("got sender %d, want 30 (the PDU source)", dec.Header.MIPAddr)
	}
}

func TestHandleARPResponseRejectsUnaddressedBroadcast(t *testing.T) {
	fl := newFakeLink()
	fwd := NewForwarder(10, fl, discardLogger())

	// A RESPONSE naming some other node, broadcast rather than unicast
	// to us: neither arp.mip_addr nor pdu.dest is local, so it must be
	// dropped rather than cached.
	resp := arp.Message{Type: arp.Response, MIPAddr: 40}
	p, _ := pdu.New(pdu.Broadcast, 40, pdu.MaxTTL, pdu.ARP, resp.Pack())
	wire, _ := p.Pack()
	frame := link.Frame{
		Header:    ethernet.Header{Dst: ethernet.Broadcast, Src: ethernet.MAC{4, 4, 4, 4, 4, 4}, EtherType: ethernet.EtherType},
		Payload:   wire,
		RxIfIndex: 1,
	}
	if err := fwd.HandleInboundFrame(frame, nil); err != nil {
		t.Fatal(err)
	}
	if _, ok := fwd.cache.Get(40); ok {
		t.Fatal("expected unaddressed broadcast RESPONSE to be ignored, not cached")
	}
}

func TestDeliverUpwardToPingConnection(t *testing.T) {
	fl := newFakeLink()
	fwd := NewForwarder(10, fl, discardLogger())

	srvConn, cliConn := pipeConn()
	go cliConn.Write([]byte{byte(pdu.PING)})
	if _, err := fwd.Upper().Accept(srvConn); err != nil {
		t.Fatalf("Accept setup: %v", err)
	}

	p, _ := pdu.New(10, 20, pdu.MaxTTL, pdu.PING, []byte("PING:hi"))
	wire, _ := p.Pack()
	frame := link.Frame{
		Header:    ethernet.Header{Dst: ethernet.MAC{1, 2, 3, 4, 5, 6}, Src: ethernet.MAC{9, 9, 9, 9, 9, 9}, EtherType: ethernet.EtherType},
		Payload:   wire,
		RxIfIndex: 1,
	}
	readDone := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 64)
		n, err := cliConn.Read(buf)
		if err != nil {
			t.Error(err)
		}
		readDone <- buf[:n]
	}()
	if err := fwd.HandleInboundFrame(frame, nil); err != nil {
		t.Fatal(err)
	}

	got, err := ipc.UnpackUpperMessage(<-readDone)
	if err != nil {
		t.Fatal(err)
	}
	if string(got.SDU) != "PING:hi" || got.MIPAddr != 20 {
		t.Fatalf("got %+v", got)
	}
}
