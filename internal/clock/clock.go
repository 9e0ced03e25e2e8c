// Package clock provides a virtual clock for deterministic trigger testing.
// The clock only moves when Advance is called, so expire and trigger
// evaluation are reproducible regardless of wall time.
package clock

import (
	"sync"
	"time"
)

// VirtualClock is a monotonic clock that advances only on explicit calls.
type VirtualClock struct {
	mu  sync.RWMutex
	now time.Time
}

// New creates a virtual clock anchored at the given instant.
func New(start time.Time) *VirtualClock {
	return &VirtualClock{now: start.UTC()}
}

// NewAtWallClock creates a virtual clock anchored at the current wall time.
func NewAtWallClock() *VirtualClock {
	return New(time.Now())
}

// Now returns the clock's current instant.
func (c *VirtualClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new instant.
func (c *VirtualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// AdvanceISO moves the clock forward by an ISO-8601 duration string.
func (c *VirtualClock) AdvanceISO(iso string) (time.Time, error) {
	d, err := ParseISODuration(iso)
	if err != nil {
		return c.Now(), err
	}
	return c.Advance(d), nil
}

// NowFunc returns a closure suitable for injecting into components that
// read "current time".
func (c *VirtualClock) NowFunc() func() time.Time {
	return c.Now
}
