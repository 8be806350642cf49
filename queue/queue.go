// Package queue provides the two bounded FIFO pending queues the MIP
// daemon uses while a packet awaits an asynchronous resolution: the ARP
// pending queue (keyed by next-hop MIP address) and the route pending
// queue (a single unkeyed FIFO).
package queue

import (
	"errors"
	"sync"

	"github.com/vfaergestad/mipd/pdu"
)

// DefaultCapacity bounds each queue so a stuck resolution cannot grow
// memory without limit; spec.md's §5 suggests 1024 as a reasonable cap.
const DefaultCapacity = 1024

// ErrFull is returned by Push when a queue is already at capacity. The
// caller is expected to drop the packet and bump a diagnostic counter.
var ErrFull = errors.New("queue: at capacity")

// Queue is an unkeyed FIFO of pending PDUs, used for packets awaiting a
// routing daemon RESPONSE. Entries are always dequeued in arrival order,
// regardless of which RESPONSE caused the dequeue.
type Queue struct {
	mu    sync.Mutex
	items []*pdu.PDU
	cap   int
}

// New creates an empty Queue bounded at capacity entries.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{items: make([]*pdu.PDU, 0, 16), cap: capacity}
}

// Push appends p to the tail of the queue.
func (q *Queue) Push(p *pdu.PDU) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.cap {
		return ErrFull
	}
	q.items = append(q.items, p)
	return nil
}

// Pop removes and returns the head of the queue, or nil if empty.
func (q *Queue) Pop() *pdu.PDU {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	p := q.items[0]
	q.items = q.items[1:]
	return p
}

// Len reports the number of pending entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// entry pairs a pending PDU with the next-hop key it is waiting on.
type entry struct {
	key byte
	pdu *pdu.PDU
}

// Keyed is a FIFO of (next_hop, pdu) pairs. Multiple entries may share a
// key; DequeueKey returns the first (oldest) entry matching that key,
// preserving arrival order within the key.
type Keyed struct {
	mu      sync.Mutex
	entries []entry
	cap     int
}

// NewKeyed creates an empty Keyed queue bounded at capacity entries total.
func NewKeyed(capacity int) *Keyed {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Keyed{entries: make([]entry, 0, 16), cap: capacity}
}

// Push enqueues p, keyed by the next-hop MIP address being resolved.
func (k *Keyed) Push(key byte, p *pdu.PDU) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if len(k.entries) >= k.cap {
		return ErrFull
	}
	k.entries = append(k.entries, entry{key: key, pdu: p})
	return nil
}

// DequeueKey removes and returns the oldest entry queued under key, or nil
// if none is pending.
func (k *Keyed) DequeueKey(key byte) *pdu.PDU {
	k.mu.Lock()
	defer k.mu.Unlock()
	for i, e := range k.entries {
		if e.key == key {
			p := e.pdu
			k.entries = append(k.entries[:i], k.entries[i+1:]...)
			return p
		}
	}
	return nil
}

// Len reports the number of pending entries across all keys.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
