package engine

import (
	"context"
	"sync"
)

// pendingOps counts mutations accepted into the node set but not yet
// folded into the partition.
//
// Waiters block on a channel that is closed and replaced whenever the
// count drops, so a wait can also end on context cancellation.
type pendingOps struct {
	mu      sync.Mutex
	n       int
	changed chan struct{}
}

func newPendingOps() *pendingOps {
	return &pendingOps{changed: make(chan struct{})}
}

// Add records k newly accepted mutations.
func (p *pendingOps) Add(k int) {
	p.mu.Lock()
	p.n += k
	p.mu.Unlock()
}

// Done records that a rebuild absorbed k mutations.
func (p *pendingOps) Done(k int) {
	p.mu.Lock()
	p.n -= k
	if p.n < 0 {
		p.n = 0
	}
	close(p.changed)
	p.changed = make(chan struct{})
	p.mu.Unlock()
}

// Load returns the current count.
func (p *pendingOps) Load() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.n
}

// Wait blocks until the count is zero or ctx ends.
func (p *pendingOps) Wait(ctx context.Context) error {
	for {
		p.mu.Lock()
		if p.n == 0 {
			p.mu.Unlock()
			return nil
		}
		ch := p.changed
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}
