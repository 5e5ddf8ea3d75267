package testutil

import (
	"sync"
	"time"
)

// WallClock is a settable wall clock for tests that render timestamps.
//
// Safe for concurrent use.
type WallClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewWallClock returns a clock frozen at start.
func NewWallClock(start time.Time) *WallClock {
	return &WallClock{now: start}
}

// Now returns the current time. Pass the method value where a
// func() time.Time is expected.
func (c *WallClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *WallClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t.
func (c *WallClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
