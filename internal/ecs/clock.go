package ecs

import "sync/atomic"

// Clock is the world's monotonic event counter.
//
// Every top-level emission and every cascade step takes the next value, so
// each logical notification pass carries a unique, strictly increasing
// stamp. The counter never decreases within a world's lifetime.
//
// Writes happen only on the world's single writer. The value is atomic so
// that readers on other goroutines (metrics, diagnostics) see a consistent
// number.
type Clock struct {
	seq atomic.Uint64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next increments the clock and returns the new value.
func (c *Clock) Next() uint64 {
	return c.seq.Add(1)
}

// Current returns the current value without incrementing.
func (c *Clock) Current() uint64 {
	return c.seq.Load()
}
