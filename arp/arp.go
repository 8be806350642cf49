// Package arp implements the MIP address resolution subsystem: the
// REQUEST/RESPONSE message codec and the bounded MIP-to-MAC cache.
//
// The cache and message codec here are pure data structures; the daemon
// package wires them to link I/O and the pending-packet queues, since
// that orchestration spans multiple subsystems (see mipd.Daemon).
package arp

import (
	"errors"
	"sync"

	"github.com/vfaergestad/mipd/ethernet"
)

// Type distinguishes an ARP REQUEST from a RESPONSE.
type Type byte

const (
	Request Type = 0
	Response Type = 1
)

func (t Type) String() string {
	if t == Response {
		return "RESPONSE"
	}
	return "REQUEST"
}

// MessageLen is the fixed 4-byte wire size of an ARP message.
const MessageLen = 4

// Message is the 32-bit ARP payload carried inside a MIP PDU of type ARP:
// a 1-bit type, an 8-bit MIP address, and 23 bits of padding. This
// implementation byte-aligns the type and address fields for a simple,
// internally-consistent encoding (any consistent choice is valid between
// peers of the same implementation).
type Message struct {
	Type    Type
	MIPAddr byte
}

var ErrTooShort = errors.New("arp: message shorter than 4 bytes")

// Pack encodes the message to MessageLen bytes.
func (m Message) Pack() []byte {
	buf := make([]byte, MessageLen)
	if m.Type == Response {
		buf[0] = 0x80
	}
	buf[1] = m.MIPAddr
	return buf
}

// Unpack decodes an ARP message from its first MessageLen bytes.
func Unpack(buf []byte) (Message, error) {
	if len(buf) < MessageLen {
		return Message{}, ErrTooShort
	}
	t := Request
	if buf[0]&0x80 != 0 {
		t = Response
	}
	return Message{Type: t, MIPAddr: buf[1]}, nil
}

// MaxCacheEntries bounds the ARP cache, per spec.md's resource ceiling.
const MaxCacheEntries = 256

// CacheEntry binds a MIP address to the MAC address and interface it was
// last seen on.
type CacheEntry struct {
	MIP     byte
	MAC     ethernet.MAC
	IfIndex int
}

// Cache is a linear, insertion-ordered vector of bindings, bounded at
// MaxCacheEntries. Add appends without deduplicating (matching spec.md
// §4.2, which tolerates duplicate bindings because the RESPONSE-drain path
// is what keeps the cache converged with reality); once the cache is full,
// Add evicts the oldest entry to make room.
type Cache struct {
	mu      sync.Mutex
	entries []CacheEntry
}

// NewCache creates an empty ARP cache.
func NewCache() *Cache {
	return &Cache{entries: make([]CacheEntry, 0, 16)}
}

// Add appends a binding, dropping the oldest entry first if the cache is
// already full.
func (c *Cache) Add(e CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= MaxCacheEntries {
		c.entries = c.entries[1:]
	}
	c.entries = append(c.entries, e)
}

// Get returns the first binding for mip, if any.
func (c *Cache) Get(mip byte) (CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if e.MIP == mip {
			return e, true
		}
	}
	return CacheEntry{}, false
}

// Remove deletes the first binding for mip by swapping it with the tail
// entry, and reports whether anything was removed.
func (c *Cache) Remove(mip byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, e := range c.entries {
		if e.MIP == mip {
			last := len(c.entries) - 1
			c.entries[i] = c.entries[last]
			c.entries = c.entries[:last]
			return true
		}
	}
	return false
}

// Len reports the number of bindings currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
