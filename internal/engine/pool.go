package engine

import (
	"context"
	"runtime/debug"
	"sync/atomic"

	"github.com/roach88/lockstep/internal/node"
)

// worker is one member of the pool. Its barrier pointer is swapped by the
// orchestrator during a resize while the worker is parked.
type worker struct {
	id      int
	barrier atomic.Pointer[Barrier]
	retired atomic.Bool
}

// pool is the elastic set of workers and the barrier they share with the
// orchestrator. It is owned by the orchestrator: only Tick and Shutdown
// touch it, and only between ticks.
type pool struct {
	barrier *Barrier
	workers []*worker
	nextID  int
	start   func(w *worker)
}

func newPool(size int, start func(w *worker)) *pool {
	p := &pool{
		barrier: NewBarrier(size + 1),
		start:   start,
	}
	for i := 0; i < size; i++ {
		p.spawn()
	}
	return p
}

// Size returns the number of live workers.
func (p *pool) Size() int { return len(p.workers) }

func (p *pool) spawn() {
	w := &worker{id: p.nextID}
	p.nextID++
	w.barrier.Store(p.barrier)
	p.workers = append(p.workers, w)
	p.start(w)
}

// resize moves the pool to n workers and a barrier of n+1 parties.
//
// Kept workers are rebound to the new barrier and excess workers are
// retired before the old barrier is tripped once more. Some workers may
// still be on their way back from the previous drain rendezvous; they
// arrive on the old barrier regardless, because workers only read their
// binding after that trip. On release every old worker either exits or
// re-parks on the new barrier. New workers start directly on it.
func (p *pool) resize(ctx context.Context, n int) error {
	old := p.barrier
	next := NewBarrier(n + 1)

	keep := len(p.workers)
	if n < keep {
		keep = n
	}
	for i, w := range p.workers {
		if i < keep {
			w.barrier.Store(next)
		} else {
			w.retired.Store(true)
		}
	}

	if err := old.Await(ctx); err != nil {
		return err
	}

	p.workers = p.workers[:keep]
	p.barrier = next
	for len(p.workers) < n {
		p.spawn()
	}
	return nil
}

// runWorker is the loop of a single worker goroutine.
//
// Each round the worker meets the orchestrator twice (release, then start),
// drains the partition, and meets it a third time once nothing is left to
// take. Any failed wait means the engine is going away and the worker exits.
func (e *Engine) runWorker(w *worker) {
	defer e.wg.Done()
	defer e.workers.Done()
	log := e.logger.With("worker", w.id)
	log.Debug("worker started")
	defer log.Debug("worker stopped")

	// The binding is only re-read after rendezvous #1 has tripped. A resize
	// writes it before that trip, and a worker that read it any earlier
	// could park on the next barrier while the old one is still short.
	b := w.barrier.Load()
	for {
		if err := b.Await(e.ctx); err != nil {
			return
		}
		if w.retired.Load() {
			return
		}
		if nb := w.barrier.Load(); nb != b {
			// Rebound during a resize; park on the new barrier.
			b = nb
			continue
		}

		if err := b.Await(e.ctx); err != nil {
			return
		}
		if e.stopping {
			return
		}

		if err := e.dispense(w); err != nil {
			log.Error("node update failed", "error", err)
			e.recordFailure(err)
			b.Break()
			return
		}

		if err := b.Await(e.ctx); err != nil {
			return
		}
	}
}

// dispense takes tasks until the partition is exhausted, updating every
// node into its buffer. A panicking rule is converted into an error so the
// orchestrator can surface it instead of waiting on a dead worker.
func (e *Engine) dispense(w *worker) (err error) {
	var current *node.Node
	defer func() {
		if r := recover(); r != nil {
			id := ""
			if current != nil {
				id = current.ID()
			}
			err = newNodePanicError(id, w.id, r, debug.Stack())
		}
	}()

	for {
		task, ok := e.partition.Take()
		if !ok {
			return nil
		}
		for _, n := range task.Nodes() {
			current = n
			n.Update()
		}
	}
}
