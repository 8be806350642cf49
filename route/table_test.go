package route

import "testing"

func TestAddUpdateRouteIsIdempotent(t *testing.T) {
	tbl := New()
	tbl.AddUpdateRoute(30, 20, 2)
	tbl.AddUpdateRoute(30, 20, 2)
	if !tbl.RouteExists(30, 20) {
		t.Fatal("expected route to exist")
	}
	e, ok := tbl.FindFastestRoute(30)
	if !ok || e.Cost != 2 || e.NextHop != 20 {
		t.Fatalf("got %+v ok=%v, want cost=2 nexthop=20", e, ok)
	}
	count := 0
	tbl.mu.Lock()
	count = len(tbl.rows[30])
	tbl.mu.Unlock()
	if count != 1 {
		t.Fatalf("expected a single entry after repeated add, got %d", count)
	}
}

func TestAddUpdateRouteOverwritesCost(t *testing.T) {
	tbl := New()
	tbl.AddUpdateRoute(30, 20, 5)
	tbl.AddUpdateRoute(30, 20, 2)
	e, _ := tbl.FindFastestRoute(30)
	if e.Cost != 2 {
		t.Fatalf("got cost %d, want 2", e.Cost)
	}
}

func TestFindFastestRoutePicksMinCost(t *testing.T) {
	tbl := New()
	tbl.AddUpdateRoute(30, 20, 5)
	tbl.AddUpdateRoute(30, 40, 2)
	e, ok := tbl.FindFastestRoute(30)
	if !ok || e.NextHop != 40 || e.Cost != 2 {
		t.Fatalf("got %+v ok=%v, want nexthop=40 cost=2", e, ok)
	}
}

func TestFindFastestRouteNoRoute(t *testing.T) {
	tbl := New()
	if _, ok := tbl.FindFastestRoute(99); ok {
		t.Fatal("expected no route")
	}
}

func TestSetHopUnreachableIsIdempotent(t *testing.T) {
	tbl := New()
	tbl.AddUpdateRoute(30, 20, 2)
	tbl.AddUpdateRoute(40, 20, 3)
	tbl.AddUpdateRoute(50, 60, 1) // different next hop, unaffected

	tbl.SetHopUnreachable(20)
	tbl.SetHopUnreachable(20)

	for _, d := range []byte{30, 40} {
		if _, ok := tbl.FindFastestRoute(d); ok {
			t.Fatalf("destination %d should be unreachable", d)
		}
		if !tbl.RouteExists(d, 20) {
			t.Fatalf("entry for %d via 20 should still exist (invalidated, not deleted)", d)
		}
	}
	if _, ok := tbl.FindFastestRoute(50); !ok {
		t.Fatal("destination 50 via a different next hop should be unaffected")
	}
}

func TestPoisonedReverse(t *testing.T) {
	tbl := New()
	// A's best route to 30 goes via neighbor 20 (B).
	tbl.AddUpdateRoute(30, 20, 2)
	tbl.AddUpdateRoute(40, 99, 3) // unrelated destination via a different neighbor

	out := tbl.GetAllFastestRoutesForNeighbour(20)
	if out[30] != Unreachable {
		t.Fatalf("expected poisoned reverse cost 255 for dest 30 toward neighbour 20, got %d", out[30])
	}
	if out[40] != 3 {
		t.Fatalf("expected unaffected dest 40 to keep cost 3, got %d", out[40])
	}
}

func TestGetAllNeighbours(t *testing.T) {
	tbl := New()
	tbl.AddUpdateRoute(20, 20, 1)
	tbl.AddUpdateRoute(30, 20, 2)
	out := tbl.GetAllNeighbours()
	if out[20] != 1 {
		t.Fatalf("expected 20 to be a neighbour")
	}
	if out[30] != 0 {
		t.Fatalf("expected 30 to not be a neighbour")
	}
}

func TestDeleteRoute(t *testing.T) {
	tbl := New()
	tbl.AddUpdateRoute(30, 20, 2)
	tbl.DeleteRoute(30, 20)
	if tbl.RouteExists(30, 20) {
		t.Fatal("expected route to be deleted")
	}
}
