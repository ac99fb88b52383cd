package engine

import (
	"context"
	"sync"
)

// Barrier is a cyclic rendezvous point for a fixed number of parties.
//
// Await blocks until all parties have called it, then releases them
// together and re-arms for the next round. A barrier that is broken, by
// Break or by a party abandoning its wait, stays broken: every current and
// future Await returns ErrBarrierBroken.
type Barrier struct {
	parties int

	mu      sync.Mutex
	arrived int
	gen     *generation
}

// generation is one round of the barrier. done is closed when the round
// trips or breaks; broken is written before done is closed.
type generation struct {
	done   chan struct{}
	broken bool
}

// NewBarrier creates a barrier for parties participants. parties must be
// positive.
func NewBarrier(parties int) *Barrier {
	if parties < 1 {
		panic("engine: barrier needs at least one party")
	}
	return &Barrier{
		parties: parties,
		gen:     &generation{done: make(chan struct{})},
	}
}

// Parties returns the number of participants needed to trip the barrier.
func (b *Barrier) Parties() int { return b.parties }

// Await waits for every party to arrive.
//
// If ctx ends first the barrier is broken, so the other parties are not
// left waiting for an arrival that will never come, and ctx.Err() is
// returned.
func (b *Barrier) Await(ctx context.Context) error {
	b.mu.Lock()
	g := b.gen
	if g.broken {
		b.mu.Unlock()
		return ErrBarrierBroken
	}
	b.arrived++
	if b.arrived == b.parties {
		b.arrived = 0
		b.gen = &generation{done: make(chan struct{})}
		close(g.done)
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	select {
	case <-g.done:
		if g.broken {
			return ErrBarrierBroken
		}
		return nil
	case <-ctx.Done():
		b.mu.Lock()
		defer b.mu.Unlock()
		if g != b.gen {
			// Tripped while we were giving up.
			if g.broken {
				return ErrBarrierBroken
			}
			return nil
		}
		b.breakLocked()
		return ctx.Err()
	}
}

// Break releases every waiting party with ErrBarrierBroken.
func (b *Barrier) Break() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.breakLocked()
}

// Broken reports whether the barrier has been broken.
func (b *Barrier) Broken() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gen.broken
}

func (b *Barrier) breakLocked() {
	if b.gen.broken {
		return
	}
	b.gen.broken = true
	close(b.gen.done)
}
