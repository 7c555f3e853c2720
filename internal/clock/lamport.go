// Package clock implements the Lamport logical clock shared by a peer's
// progress thread and receiver thread.
package clock

import "sync"

// Lamport is a scalar Lamport logical clock. It is safe for concurrent use.
type Lamport struct {
	mu   sync.Mutex
	time uint64
}

// New creates a Lamport clock starting at zero.
func New() *Lamport {
	return &Lamport{}
}

// Tick records a local event, incrementing the clock, and returns the new
// value.
func (c *Lamport) Tick() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.time++
	return c.time
}

// Observe records the receipt of a message stamped with t: the clock is set
// to max(time, t) + 1, per Lamport's second rule.
func (c *Lamport) Observe(t uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t > c.time {
		c.time = t
	}
	c.time++
	return c.time
}

// Now reads the current value without advancing it.
func (c *Lamport) Now() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.time
}
