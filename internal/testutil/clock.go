package testutil

import (
	"sync"
	"time"
)

// DefaultEpoch is the first instant a WallClock reports by default.
var DefaultEpoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// WallClock is a deterministic wall clock for tests: every call to Now
// advances it by a fixed step.
//
// Thread-safety: all methods are safe for concurrent use.
type WallClock struct {
	mu    sync.Mutex
	start time.Time
	step  time.Duration
	ticks int64
}

// NewWallClock creates a clock whose first Now returns start+step.
func NewWallClock(start time.Time, step time.Duration) *WallClock {
	return &WallClock{start: start, step: step}
}

// NewDefaultWallClock starts at DefaultEpoch and steps one second.
func NewDefaultWallClock() *WallClock {
	return NewWallClock(DefaultEpoch, time.Second)
}

// Now advances the clock by one step and returns the new instant.
func (c *WallClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks++
	return c.start.Add(time.Duration(c.ticks) * c.step)
}

// Current returns the last instant returned by Now without advancing.
func (c *WallClock) Current() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.start.Add(time.Duration(c.ticks) * c.step)
}

// Reset rewinds the clock to its start.
func (c *WallClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks = 0
}
