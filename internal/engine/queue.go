package engine

import (
	"sync"

	"github.com/roach88/lockstep/internal/node"
)

// MutationKind distinguishes structural notifications.
type MutationKind int

const (
	// MutationAdded records a single node joining the node set.
	MutationAdded MutationKind = iota + 1
	// MutationRemoved records a single node leaving the node set.
	MutationRemoved
	// MutationGroupAdded records a group of nodes joining together.
	MutationGroupAdded
	// MutationGroupRemoved records a group of nodes leaving together.
	MutationGroupRemoved
)

func (k MutationKind) String() string {
	switch k {
	case MutationAdded:
		return "added"
	case MutationRemoved:
		return "removed"
	case MutationGroupAdded:
		return "group_added"
	case MutationGroupRemoved:
		return "group_removed"
	default:
		return "unknown"
	}
}

// Mutation is one accepted structural notification. Each mutation counts
// as one pending operation until a partition rebuild absorbs it.
type Mutation struct {
	Kind  MutationKind
	Group string
	Nodes []*node.Node
}

// mutationQueue collects mutations for the collector goroutine.
//
// Producers append and raise a single-slot signal; a burst of mutations
// coalesces into one wakeup. The collector drains everything queued in one
// call, so each mutation is absorbed by exactly one rebuild.
type mutationQueue struct {
	mu      sync.Mutex
	pending []Mutation
	closed  bool
	signal  chan struct{} // buffered, size 1
}

func newMutationQueue() *mutationQueue {
	return &mutationQueue{
		pending: make([]Mutation, 0, 64),
		signal:  make(chan struct{}, 1),
	}
}

// Enqueue appends m and wakes the collector.
// Returns false if the queue is closed.
func (q *mutationQueue) Enqueue(m Mutation) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.pending = append(q.pending, m)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// Drain removes and returns every queued mutation.
func (q *mutationQueue) Drain() []Mutation {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil
	}
	out := q.pending
	q.pending = make([]Mutation, 0, cap(out))
	return out
}

// Wait returns a channel that signals when mutations may be queued. It is
// closed when the queue is closed.
func (q *mutationQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued mutations.
func (q *mutationQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close rejects further mutations and wakes the collector.
func (q *mutationQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
