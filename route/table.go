// Package route implements the distance-vector routing table: per
// destination, a small list of known next hops and their advertised cost.
//
// This replaces the routing daemon's conceptual RIB split (Adj-RIBs-In /
// Loc-RIB / Adj-RIBs-Out) with the single flat table spec.md calls for:
// one list per destination, one entry per next hop, cost 255 meaning
// unreachable.
package route

import "sync"

// Unreachable is the cost sentinel meaning "no route" / "infinity".
const Unreachable byte = 255

// NumAddrs is the size of the MIP address space (one slot per possible
// destination byte).
const NumAddrs = 256

// Entry is one known path to a destination.
type Entry struct {
	NextHop byte
	Cost    byte
	Valid   bool
}

// Table is a per-destination list of route entries, one per known next
// hop, indexed by destination address.
type Table struct {
	mu   sync.Mutex
	rows [NumAddrs][]Entry
}

// New creates an empty routing table.
func New() *Table {
	return &Table{}
}

// AddUpdateRoute finds the entry for (dest, nextHop); if absent it is
// inserted, otherwise its cost is overwritten and it is marked valid.
func (t *Table) AddUpdateRoute(dest, nextHop, cost byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	row := t.rows[dest]
	for i := range row {
		if row[i].NextHop == nextHop {
			row[i].Cost = cost
			row[i].Valid = true
			return
		}
	}
	t.rows[dest] = append(row, Entry{NextHop: nextHop, Cost: cost, Valid: true})
}

// RouteExists reports whether an entry for (dest, nextHop) is present.
func (t *Table) RouteExists(dest, nextHop byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.rows[dest] {
		if e.NextHop == nextHop {
			return true
		}
	}
	return false
}

// DeleteRoute removes the entry for (dest, nextHop), if present.
func (t *Table) DeleteRoute(dest, nextHop byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	row := t.rows[dest]
	for i := range row {
		if row[i].NextHop == nextHop {
			t.rows[dest] = append(row[:i], row[i+1:]...)
			return
		}
	}
}

// SetHopUnreachable marks every entry across all destinations whose next
// hop is nextHop as cost Unreachable. It does not delete the entries: an
// UPDATE later reporting the destination as unreachable does that.
func (t *Table) SetHopUnreachable(nextHop byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for d := range t.rows {
		for i := range t.rows[d] {
			if t.rows[d][i].NextHop == nextHop {
				t.rows[d][i].Cost = Unreachable
			}
		}
	}
}

// FindFastestRoute returns the minimum-cost valid entry for dest. ok is
// false if there is no valid entry, in which case the caller must treat
// the destination as having no route (never infer "no route" from the
// zero value of NextHop, since 0 is a legal MIP address).
func (t *Table) FindFastestRoute(dest byte) (e Entry, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	best := Entry{Cost: Unreachable}
	found := false
	for _, c := range t.rows[dest] {
		if !c.Valid {
			continue
		}
		if !found || c.Cost < best.Cost {
			best = c
			found = true
		}
	}
	if !found || best.Cost == Unreachable {
		return Entry{}, false
	}
	return best, true
}

// GetAllFastestRoutes fills out[n] with the best cost to reach n (or
// Unreachable if there is none), for every destination 0..255.
func (t *Table) GetAllFastestRoutes() (out [NumAddrs]byte) {
	for n := 0; n < NumAddrs; n++ {
		if e, ok := t.FindFastestRoute(byte(n)); ok {
			out[n] = e.Cost
		} else {
			out[n] = Unreachable
		}
	}
	return out
}

// GetAllFastestRoutesForNeighbour is GetAllFastestRoutes with poisoned
// reverse applied against nbr: any destination whose best route currently
// goes via nbr is reported as Unreachable, so that neighbour never hears
// about a route that would loop back through it.
func (t *Table) GetAllFastestRoutesForNeighbour(nbr byte) (out [NumAddrs]byte) {
	for n := 0; n < NumAddrs; n++ {
		e, ok := t.FindFastestRoute(byte(n))
		if !ok {
			out[n] = Unreachable
			continue
		}
		if e.NextHop == nbr {
			out[n] = Unreachable
			continue
		}
		out[n] = e.Cost
	}
	return out
}

// GetAllNeighbours fills out[n] with 1 for every destination reachable at
// cost 1 (a direct neighbor), 0 otherwise.
func (t *Table) GetAllNeighbours() (out [NumAddrs]byte) {
	for n := 0; n < NumAddrs; n++ {
		if e, ok := t.FindFastestRoute(byte(n)); ok && e.Cost == 1 {
			out[n] = 1
		}
	}
	return out
}
