package testutil

import "sync/atomic"

// Concurrency is a concurrency source whose reading tests can change
// between ticks.
//
// Thread-safety: All methods are safe for concurrent use.
type Concurrency struct {
	n atomic.Int64
}

// NewConcurrency creates a source that reports n.
func NewConcurrency(n int) *Concurrency {
	c := &Concurrency{}
	c.n.Store(int64(n))
	return c
}

// Set changes the reported value. The engine adopts it at the start of its
// next tick.
func (c *Concurrency) Set(n int) {
	c.n.Store(int64(n))
}

// Get returns the current reading. It matches engine.ConcurrencyFunc.
func (c *Concurrency) Get() int {
	return int(c.n.Load())
}
