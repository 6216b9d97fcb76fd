package testutil

import (
	"sync"
	"time"
)

// Clock provides a thread-safe deterministic time source for tests.
//
// Unlike time.Now, the clock only moves when a test advances it, so
// timestamp-sensitive behavior (latest-wins selection, strict result
// ordering) can be pinned exactly.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

// NewClock creates a clock pinned to the given instant.
func NewClock(start time.Time) *Clock {
	return &Clock{t: start}
}

// Now returns the current instant without advancing.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Advance moves the clock forward by d and returns the new instant.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	return c.t
}

// Set pins the clock to an exact instant.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}
