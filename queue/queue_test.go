package queue

import "github.com/vfaergestad/mipd/pdu"
import "testing"

func mustPDU(dest byte) *pdu.PDU {
	p, err := pdu.New(dest, 1, 8, pdu.PING, nil)
	if err != nil {
		panic(err)
	}
	return p
}

func TestQueueFIFOOrder(t *testing.T) {
	q := New(0)
	for i := byte(0); i < 5; i++ {
		if err := q.Push(mustPDU(i)); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	for i := byte(0); i < 5; i++ {
		p := q.Pop()
		if p == nil || p.Dest != i {
			t.Fatalf("Pop %d: got %v, want dest %d", i, p, i)
		}
	}
	if p := q.Pop(); p != nil {
		t.Fatalf("Pop on empty queue returned %v, want nil", p)
	}
}

func TestQueueCapacity(t *testing.T) {
	q := New(2)
	if err := q.Push(mustPDU(1)); err != nil {
		t.Fatal(err)
	}
	if err := q.Push(mustPDU(2)); err != nil {
		t.Fatal(err)
	}
	if err := q.Push(mustPDU(3)); err != ErrFull {
		t.Fatalf("got %v, want ErrFull", err)
	}
}

func TestKeyedDequeuesOldestMatchingKey(t *testing.T) {
	k := NewKeyed(0)
	k.Push(20, mustPDU(100))
	k.Push(30, mustPDU(200))
	k.Push(20, mustPDU(101))

	got := k.DequeueKey(20)
	if got == nil || got.Dest != 100 {
		t.Fatalf("first dequeue for key 20: got %v, want dest 100", got)
	}
	got2 := k.DequeueKey(20)
	if got2 == nil || got2.Dest != 101 {
		t.Fatalf("second dequeue for key 20: got %v, want dest 101", got2)
	}
	if k.DequeueKey(20) != nil {
		t.Fatal("expected no more entries for key 20")
	}
	got3 := k.DequeueKey(30)
	if got3 == nil || got3.Dest != 200 {
		t.Fatalf("dequeue for key 30: got %v, want dest 200", got3)
	}
}

func TestKeyedCapacity(t *testing.T) {
	k := NewKeyed(1)
	if err := k.Push(1, mustPDU(1)); err != nil {
		t.Fatal(err)
	}
	if err := k.Push(1, mustPDU(2)); err != ErrFull {
		t.Fatalf("got %v, want ErrFull", err)
	}
}
