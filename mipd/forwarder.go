// Package mipd implements the MIP daemon: the process that owns the raw
// link-layer socket, the ARP cache, and the rendezvous between forwarded
// packets and the two asynchronous lookups (ARP resolution, routing
// next-hop resolution) a forwarding decision may need.
package mipd

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/vfaergestad/mipd/arp"
	"github.com/vfaergestad/mipd/counter"
	"github.com/vfaergestad/mipd/ethernet"
	"github.com/vfaergestad/mipd/ipc"
	"github.com/vfaergestad/mipd/link"
	"github.com/vfaergestad/mipd/pdu"
	"github.com/vfaergestad/mipd/queue"
	"github.com/vfaergestad/mipd/routing"
)

// Counters tallies forwarding diagnostics: one counter.Counter per event
// of interest, logged periodically by Daemon.Run via Snapshot.
type Counters struct {
	Forwarded  *counter.Counter
	Delivered  *counter.Counter
	Dropped    *counter.Counter
	ARPSent    *counter.Counter
	ARPHits    *counter.Counter
	RouteReqs  *counter.Counter
	TTLExpired *counter.Counter
}

func newCounters() Counters {
	return Counters{
		Forwarded:  counter.New(),
		Delivered:  counter.New(),
		Dropped:    counter.New(),
		ARPSent:    counter.New(),
		ARPHits:    counter.New(),
		RouteReqs:  counter.New(),
		TTLExpired: counter.New(),
	}
}

// Linker is the subset of *link.Link the forwarder needs, broken out so
// the forwarding logic can be exercised against a fake in tests without
// a real AF_PACKET socket.
type Linker interface {
	Send(ifIndex int, srcMAC, dst ethernet.MAC, payload []byte) error
	Interfaces() []link.Interface
	InterfaceByIndex(ifIndex int) (link.Interface, bool)
}

// Forwarder implements spec.md §4.3: the local/broadcast dispatch
// decision, TTL handling, and the two-stage ARP+routing rendezvous that
// resolves a destination MIP address to a (MAC, ifindex) pair before a
// packet reaches the wire.
type Forwarder struct {
	local byte
	lk    Linker
	cache *arp.Cache

	upper *ipc.Table

	// routePending holds PDUs waiting on a routing-daemon RESPONSE,
	// FIFO per spec.md's ordering invariant.
	routePending *queue.Queue
	// routeOutstanding holds one entry per lookup destination with a
	// REQUEST currently in flight to routingd; a second PDU to the same
	// destination is queued behind the existing REQUEST rather than
	// firing a duplicate. RESPONSE matching is by content (the RESPONSE's
	// own Lookup field, see routing.Response), not by queue position, so
	// multiple concurrent distinct lookups never risk the FIFO race
	// spec.md's design notes flag.
	routeOutstanding []byte

	// arpPending holds PDUs waiting on ARP resolution, keyed by the
	// next-hop MIP address they are waiting to resolve.
	arpPending *queue.Keyed
	// arpOutstanding mirrors routeOutstanding: at most one ARP request
	// per target is in flight at a time.
	arpOutstanding []byte

	counters Counters
	log      *slog.Logger
}

// RouteAsker issues a next-hop lookup to the routing daemon.
type RouteAsker interface {
	AskRoute(lookup byte) error
}

// NewForwarder creates a Forwarder for the local MIP address, using lk
// for raw I/O.
func NewForwarder(local byte, lk Linker, log *slog.Logger) *Forwarder {
	if log == nil {
		log = slog.Default()
	}
	return &Forwarder{
		local:        local,
		lk:           lk,
		cache:        arp.NewCache(),
		upper:        ipc.NewTable(),
		routePending: queue.New(queue.DefaultCapacity),
		arpPending:   queue.NewKeyed(queue.DefaultCapacity),
		counters:     newCounters(),
		log:          log,
	}
}

// Upper exposes the accepted-connection table for the daemon's IPC
// listener loop.
func (f *Forwarder) Upper() *ipc.Table { return f.upper }

// Counters exposes the diagnostics tallies.
func (f *Forwarder) Counters() *Counters { return &f.counters }

// Snapshot renders the counters as a name/value map for periodic
// diagnostic logging, decoupled from the counter.Counter type so
// callers outside this package don't need to import it.
func (c *Counters) Snapshot() map[string]uint64 {
	return map[string]uint64{
		"forwarded":   c.Forwarded.Value(),
		"delivered":   c.Delivered.Value(),
		"dropped":     c.Dropped.Value(),
		"arp_sent":    c.ARPSent.Value(),
		"arp_hits":    c.ARPHits.Value(),
		"route_reqs":  c.RouteReqs.Value(),
		"ttl_expired": c.TTLExpired.Value(),
	}
}

var errNoRoute = errors.New("mipd: no route and no routing daemon connected")

// HandleInboundFrame processes one frame read off the raw link, per
// spec.md §4.3: ARP messages are answered directly; ROUTING/PING SDUs
// addressed to this node or to the broadcast address are delivered
// upward and not relayed; everything else is
// forwarded toward its destination, decrementing TTL and dropping at
// zero per §4.3's edge case.
func (f *Forwarder) HandleInboundFrame(frame link.Frame, asker RouteAsker) error {
	p, err := pdu.Unpack(frame.Payload)
	if err != nil {
		f.counters.Dropped.Increment()
		return fmt.Errorf("mipd: unpack inbound PDU: %w", err)
	}

	if p.SDUType == pdu.ARP {
		return f.handleARP(frame, p)
	}

	if p.Dest == f.local || p.Dest == pdu.Broadcast {
		f.counters.Delivered.Increment()
		f.deliverUpward(p)
		return nil
	}

	dec, ok := p.DecrementTTL()
	if !ok {
		f.counters.TTLExpired.Increment()
		return nil
	}
	return f.Forward(dec, asker)
}

func (f *Forwarder) handleARP(frame link.Frame, p *pdu.PDU) error {
	msg, err := arp.Unpack(p.SDU)
	if err != nil {
		f.counters.Dropped.Increment()
		return fmt.Errorf("mipd: unpack ARP message: %w", err)
	}

	local, ok := f.lk.InterfaceByIndex(frame.RxIfIndex)
	if !ok {
		return fmt.Errorf("mipd: arrival interface %d not found", frame.RxIfIndex)
	}

	switch msg.Type {
	case arp.Request:
		if msg.MIPAddr != f.local {
			return nil
		}
		f.cache.Add(arp.CacheEntry{MIP: p.Src, MAC: frame.Header.Src, IfIndex: frame.RxIfIndex})
		resp := arp.Message{Type: arp.Response, MIPAddr: f.local}
		respPDU, err := pdu.New(p.Src, f.local, pdu.MaxTTL, pdu.ARP, resp.Pack())
		if err != nil {
			return err
		}
		wire, err := respPDU.Pack()
		if err != nil {
			return err
		}
		return f.lk.Send(frame.RxIfIndex, local.MAC, frame.Header.Src, wire)

	case arp.Response:
		if msg.MIPAddr != f.local && p.Dest != f.local {
			return nil
		}
		f.cache.Add(arp.CacheEntry{MIP: msg.MIPAddr, MAC: frame.Header.Src, IfIndex: frame.RxIfIndex})
		f.counters.ARPHits.Increment()
		return f.drainARPPending(msg.MIPAddr)

	default:
		return fmt.Errorf("mipd: unknown ARP message type %d", msg.Type)
	}
}

// Forward resolves dec's next hop and places it on the wire, queuing it
// behind an ARP or routing lookup if resolution is not immediate. A
// broadcast destination bypasses both lookups entirely and floods every
// interface, per spec.md §4.3's send_mip_packet.
func (f *Forwarder) Forward(dec *pdu.PDU, asker RouteAsker) error {
	if dec.Dest == pdu.Broadcast {
		return f.floodBroadcast(dec)
	}
	nextHop, ok := f.nextHopFor(dec.Dest)
	if !ok {
		if asker == nil {
			f.counters.Dropped.Increment()
			return errNoRoute
		}
		return f.queueForRoute(dec, dec.Dest, asker)
	}
	return f.sendResolved(dec, nextHop)
}

func (f *Forwarder) floodBroadcast(p *pdu.PDU) error {
	wire, err := p.Pack()
	if err != nil {
		return err
	}
	f.counters.Forwarded.Increment()
	for _, i := range f.lk.Interfaces() {
		if err := f.lk.Send(i.IfIndex, i.MAC, ethernet.Broadcast, wire); err != nil {
			f.log.Warn("broadcast flood failed on interface", "interface", i.Name, "error", err)
		}
	}
	return nil
}

func (f *Forwarder) nextHopFor(dest byte) (byte, bool) {
	// mipd has no routing table of its own: every forwarding decision
	// either hits the ARP cache directly (dest already known as a
	// neighbor MIP, i.e. next_hop == dest) or must ask routingd.
	if _, ok := f.cache.Get(dest); ok {
		return dest, true
	}
	return 0, false
}

func (f *Forwarder) queueForRoute(p *pdu.PDU, lookup byte, asker RouteAsker) error {
	if err := f.routePending.Push(p); err != nil {
		f.counters.Dropped.Increment()
		return fmt.Errorf("mipd: route pending queue: %w", err)
	}
	for _, l := range f.routeOutstanding {
		if l == lookup {
			return nil // a REQUEST for this lookup is already in flight
		}
	}
	f.routeOutstanding = append(f.routeOutstanding, lookup)
	f.counters.RouteReqs.Increment()
	return asker.AskRoute(lookup)
}

// HandleRouteResponse applies a RESPONSE from routingd for lookup,
// draining every pending PDU whose destination is lookup, in arrival
// order, and keeping the others queued in their original order. PDUs are
// matched by destination rather than by queue position, so the order in
// which RESPONSEs for different lookups arrive does not matter.
func (f *Forwarder) HandleRouteResponse(resp routing.Response, lookup byte) {
	for i, l := range f.routeOutstanding {
		if l == lookup {
			f.routeOutstanding = append(f.routeOutstanding[:i], f.routeOutstanding[i+1:]...)
			break
		}
	}
	// Pull every pending PDU addressed to this lookup's destination: drop
	// it if routingd found no route, otherwise attempt delivery now that
	// the next hop is known.
	var requeue []*pdu.PDU
	for {
		p := f.routePending.Pop()
		if p == nil {
			break
		}
		if p.Dest != lookup {
			requeue = append(requeue, p)
			continue
		}
		if !resp.Valid {
			f.counters.Dropped.Increment()
			continue
		}
		if err := f.sendResolved(p, resp.NextHop); err != nil {
			if err := f.queueARP(p, resp.NextHop); err != nil {
				f.log.Error("queue for ARP after route response", "error", err)
			}
		}
	}
	for _, p := range requeue {
		_ = f.routePending.Push(p)
	}
}

func (f *Forwarder) sendResolved(p *pdu.PDU, nextHop byte) error {
	entry, ok := f.cache.Get(nextHop)
	if !ok {
		return f.queueARP(p, nextHop)
	}
	wire, err := p.Pack()
	if err != nil {
		return err
	}
	local, ok := f.lk.InterfaceByIndex(entry.IfIndex)
	if !ok {
		return fmt.Errorf("mipd: cached interface %d vanished", entry.IfIndex)
	}
	f.counters.Forwarded.Increment()
	return f.lk.Send(entry.IfIndex, local.MAC, entry.MAC, wire)
}

func (f *Forwarder) queueARP(p *pdu.PDU, nextHop byte) error {
	if err := f.arpPending.Push(nextHop, p); err != nil {
		f.counters.Dropped.Increment()
		return fmt.Errorf("mipd: arp pending queue: %w", err)
	}
	for _, t := range f.arpOutstanding {
		if t == nextHop {
			return nil // an ARP request for this target is already in flight
		}
	}
	f.arpOutstanding = append(f.arpOutstanding, nextHop)
	return f.sendARPRequest(nextHop)
}

func (f *Forwarder) sendARPRequest(target byte) error {
	req := arp.Message{Type: arp.Request, MIPAddr: target}
	p, err := pdu.New(pdu.Broadcast, f.local, pdu.MaxTTL, pdu.ARP, req.Pack())
	if err != nil {
		return err
	}
	wire, err := p.Pack()
	if err != nil {
		return err
	}
	f.counters.ARPSent.Increment()
	for _, i := range f.lk.Interfaces() {
		if err := f.lk.Send(i.IfIndex, i.MAC, ethernet.Broadcast, wire); err != nil {
			f.log.Warn("arp broadcast failed on interface", "interface", i.Name, "error", err)
		}
	}
	return nil
}

func (f *Forwarder) drainARPPending(resolved byte) error {
	for i, t := range f.arpOutstanding {
		if t == resolved {
			f.arpOutstanding = append(f.arpOutstanding[:i], f.arpOutstanding[i+1:]...)
			break
		}
	}
	for {
		p := f.arpPending.DequeueKey(resolved)
		if p == nil {
			return nil
		}
		if err := f.sendResolved(p, resolved); err != nil {
			f.log.Error("send after arp resolution", "error", err)
		}
	}
}

// deliverUpward hands a PDU addressed to this node to the matching
// accepted upper connection (ping client/server), per spec.md §4.4.
func (f *Forwarder) deliverUpward(p *pdu.PDU) {
	switch p.SDUType {
	case pdu.PING:
		c, ok := f.upper.PingConn()
		if !ok {
			f.log.Debug("no ping client connected, dropping PING SDU")
			return
		}
		msg := ipc.UpperMessage{MIPAddr: p.Src, TTL: p.TTL, SDU: p.SDU}
		if _, err := c.NC.Write(msg.Pack()); err != nil {
			f.log.Warn("deliver to ping client", "error", err)
		}
	case pdu.ROUTING:
		c, ok := f.upper.RoutingConn()
		if !ok {
			f.log.Debug("no routing daemon connected, dropping ROUTING SDU")
			return
		}
		// Inbound wire ROUTING SDUs are only HELLO/UPDATE, whose packed
		// header MIPAddr byte is unused on receipt (HELLO leaves it as
		// the broadcast sentinel, UPDATE as the recipient) — routingd's
		// only way to learn who actually sent the message is the
		// enclosing PDU's source address, so rewrite the header's first
		// byte to it before handing the message upward.
		msg := make([]byte, len(p.SDU))
		copy(msg, p.SDU)
		if len(msg) > 0 {
			msg[0] = p.Src
		}
		if _, err := c.NC.Write(msg); err != nil {
			f.log.Warn("deliver to routing daemon", "error", err)
		}
	default:
		f.log.Warn("unexpected SDU type for local delivery", "type", p.SDUType)
	}
}

// SendFromUpper accepts a PDU originated by a local upper client (ping
// client or server) and forwards it exactly as an inbound-from-wire PDU
// would be, minus the ARP/TTL-decrement steps that only apply to
// relayed, already-in-flight traffic. A zero ttl substitutes
// pdu.MaxTTL, matching what an upper client gets when it doesn't care
// to set one.
func (f *Forwarder) SendFromUpper(dest byte, ttl byte, sduType pdu.SDUType, sdu []byte, asker RouteAsker) error {
	if dest == f.local {
		return fmt.Errorf("mipd: refusing to forward to self")
	}
	if ttl == 0 {
		ttl = pdu.MaxTTL
	}
	p, err := pdu.New(dest, f.local, ttl, sduType, sdu)
	if err != nil {
		return err
	}
	return f.Forward(p, asker)
}
