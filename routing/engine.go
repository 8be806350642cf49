package routing

import (
	"sync"
	"time"

	"github.com/vfaergestad/mipd/route"
)

// HelloInterval is how often a HELLO beacon is broadcast.
const HelloInterval = 5 * time.Second

// CheckinTimeout is the window within which a neighbor must have sent a
// HELLO to remain considered reachable.
const CheckinTimeout = 10 * time.Second

// Emitter sends a fully-packed HELLO or UPDATE message out; the caller
// (the routing daemon's IPC loop) decides how it reaches the wire. mipd
// wraps each in a MIP PDU addressed to the header's MIP address: the
// broadcast address for HELLO, the single neighbour for UPDATE. UPDATEs
// are not broadcast.
type Emitter interface {
	Emit(msg []byte)
}

// Engine is the distance-vector routing protocol engine: it owns the
// routing table, the neighbor check-in state, and the HELLO/timeout
// clocks. It produces HELLO/UPDATE messages via an Emitter and returns
// RESPONSEs from HandleRequest.
//
// Engine's mutex guards only its clocks and check-in vector, and
// route.Table locks each of its own calls; a handler as a whole is not
// atomic. routingd drives it from one event loop goroutine, matching
// spec.md's single-threaded-daemon concurrency model.
type Engine struct {
	mu      sync.Mutex
	local   byte
	table   *route.Table
	emit    Emitter
	checkin [route.NumAddrs]bool

	lastHello   time.Time
	lastTimeout time.Time
}

// NewEngine creates a routing engine for local, emitting messages via e.
func NewEngine(local byte, e Emitter) *Engine {
	now := time.Now()
	return &Engine{
		local:       local,
		table:       route.New(),
		emit:        e,
		lastHello:   now,
		lastTimeout: now,
	}
}

// Table exposes the underlying routing table, e.g. for diagnostics.
func (g *Engine) Table() *route.Table { return g.table }

// Local returns the MIP address this engine was created for. The
// distance-vector protocol itself never needs to know this: senders are
// identified by the enclosing MIP PDU's source address, not by anything
// carried in the routing message body. Local exists for diagnostics.
func (g *Engine) Local() byte { return g.local }

// Tick drives the HELLO and neighbor-timeout clocks; the caller polls
// this at an interval no coarser than 100ms so timer resolution stays
// bounded, per spec.md's single-wait-call event loop model.
func (g *Engine) Tick(now time.Time) {
	g.mu.Lock()
	dueHello := now.Sub(g.lastHello) >= HelloInterval
	dueTimeout := now.Sub(g.lastTimeout) >= CheckinTimeout
	g.mu.Unlock()

	if dueHello {
		g.sendHello(now)
	}
	if dueTimeout {
		g.checkNeighborTimeouts(now)
	}
}

func (g *Engine) sendHello(now time.Time) {
	g.mu.Lock()
	g.lastHello = now
	g.mu.Unlock()
	hello := Hello{Header: Header{MIPAddr: route.Unreachable, TTL: 1, Tag: TagHello}}
	g.emit.Emit(hello.Pack())
}

// HandleHello processes a HELLO received from sender.
func (g *Engine) HandleHello(sender byte) {
	g.mu.Lock()
	g.checkin[sender] = true
	g.mu.Unlock()

	if e, ok := g.table.FindFastestRoute(sender); !ok || e.Cost != 1 {
		g.table.AddUpdateRoute(sender, sender, 1)
	}
	g.broadcastUpdates()
}

// HandleUpdate processes an UPDATE received from sender carrying vector.
func (g *Engine) HandleUpdate(sender byte, vector [route.NumAddrs]byte) {
	prev := g.table.GetAllFastestRoutes()
	changed := false

	if e, ok := g.table.FindFastestRoute(sender); !ok || e.Cost != 1 {
		g.table.AddUpdateRoute(sender, sender, 1)
		changed = true
	}

	for d := 0; d < route.NumAddrs; d++ {
		dest := byte(d)
		if dest == sender {
			continue
		}
		cost := vector[dest]
		if cost == route.Unreachable {
			if g.table.RouteExists(dest, sender) {
				g.table.DeleteRoute(dest, sender)
				changed = true
			}
			continue
		}
		newCost := cost
		if newCost < route.Unreachable-1 {
			newCost++
		} else {
			newCost = route.Unreachable
		}
		g.table.AddUpdateRoute(dest, sender, newCost)
	}

	next := g.table.GetAllFastestRoutes()
	if next != prev {
		changed = true
	}
	if changed {
		g.broadcastUpdates()
	}
}

// checkNeighborTimeouts runs once per CheckinTimeout window: any neighbor
// that did not check in during the window is marked unreachable; those
// that did have their check-in flag cleared for the next window.
func (g *Engine) checkNeighborTimeouts(now time.Time) {
	g.mu.Lock()
	g.lastTimeout = now
	g.mu.Unlock()

	neighbours := g.table.GetAllNeighbours()
	changed := false
	for n := 0; n < route.NumAddrs; n++ {
		if neighbours[n] != 1 {
			continue
		}
		nb := byte(n)
		g.mu.Lock()
		checkedIn := g.checkin[nb]
		g.checkin[nb] = false
		g.mu.Unlock()
		if !checkedIn {
			g.table.SetHopUnreachable(nb)
			changed = true
		}
	}
	if changed {
		g.broadcastUpdates()
	}
}

// broadcastUpdates sends one UPDATE per current neighbor, each poisoned
// against that neighbor.
func (g *Engine) broadcastUpdates() {
	neighbours := g.table.GetAllNeighbours()
	for n := 0; n < route.NumAddrs; n++ {
		if neighbours[n] != 1 {
			continue
		}
		nbr := byte(n)
		u := Update{
			Header: Header{MIPAddr: nbr, TTL: 1, Tag: TagUpdate},
			Vector: g.table.GetAllFastestRoutesForNeighbour(nbr),
		}
		g.emit.Emit(u.Pack())
	}
}

// HandleRequest answers a next-hop lookup, echoing the requester's header
// MIP address into the response per spec.md §4.6.
func (g *Engine) HandleRequest(req Request) Response {
	e, ok := g.table.FindFastestRoute(req.Lookup)
	resp := Response{Header: Header{MIPAddr: req.Header.MIPAddr, TTL: 1, Tag: TagResponse}, Lookup: req.Lookup}
	if ok {
		resp.NextHop = e.NextHop
		resp.Valid = true
	}
	return resp
}
