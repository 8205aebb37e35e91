// Package clock implements a Lamport logical clock shared across all
// local activity on a peer: requester loop, request handler, and
// printer service alike.
package clock

import "sync"

// Clock is a thread-safe, monotonically non-decreasing Lamport counter.
// The zero value starts at 0 and is ready to use.
type Clock struct {
	mu   sync.Mutex
	time int64
}

// New returns a Clock starting at 0.
func New() *Clock {
	return &Clock{}
}

// Tick advances the clock by 1 and returns the new value. Call it
// before any local event that causes an outgoing message or a state
// transition.
func (c *Clock) Tick() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.time++
	return c.time
}

// Merge applies the receive rule: clock <- max(clock, received) + 1.
// Call it on every inbound message before any decision logic runs.
func (c *Clock) Merge(received int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if received > c.time {
		c.time = received
	}
	c.time++
	return c.time
}

// Peek returns the current value without advancing the clock.
func (c *Clock) Peek() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.time
}
