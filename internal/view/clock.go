package view

import "sync/atomic"

// Clock is the monotonically increasing tick counter stamping every
// tree store mutation batch. It is the sole total order over observed
// changes; it never decreases.
type Clock struct {
	tick atomic.Uint64
}

// Current returns the latest stamped tick.
func (c *Clock) Current() uint64 {
	return c.tick.Load()
}

// advance increments the tick and returns the new value. Called only
// from the store's mutation critical section, so there is exactly one
// increment per mutation batch.
func (c *Clock) advance() uint64 {
	return c.tick.Add(1)
}
