package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/lockstep/internal/node"
	"github.com/roach88/lockstep/internal/partition"
)

// ConcurrencyFunc reports how many workers the engine should run.
type ConcurrencyFunc func() int

// BeforeTickHook runs on the orchestrator before workers are released.
// tick is the number the tick will carry once committed.
type BeforeTickHook func(ctx context.Context, tick int64) error

// Commit describes a committed tick to AfterCommitHooks. Nodes is the
// settled partition's snapshot and must be treated as read-only.
type Commit struct {
	Tick  int64
	Nodes []*node.Node
}

// AfterCommitHook runs on the orchestrator after a tick's buffers became
// current values, before Tick returns.
type AfterCommitHook func(ctx context.Context, c Commit) error

// Engine advances a dynamic node set with synchronous buffered semantics,
// computing each tick in parallel on an elastic worker pool.
//
// One tick runs these phases on the calling goroutine:
//
//  1. resize check: adopt a changed concurrency reading
//  2. rendezvous #1 with every parked worker
//  3. partition reset
//  4. rendezvous #2, which releases workers onto the partition
//  5. drain rendezvous once every task of the tick is done
//  6. settle: wait until no structural mutation is pending
//  7. commit every node of the settled partition
//
// Thread-safety model:
//   - Tick(): one call at a time; concurrent calls are serialized
//   - Notify*(): safe from any goroutine
//   - Shutdown(): safe from any goroutine; waits for an in-flight tick
type Engine struct {
	logger      *slog.Logger
	chunkCount  int
	quiescence  time.Duration
	concurrency ConcurrencyFunc
	registerer  prometheus.Registerer
	beforeTick  []BeforeTickHook
	afterCommit []AfterCommitHook

	nodes     *node.Set
	partition *partition.Partition
	mutations *mutationQueue
	pending   *pendingOps
	metrics   *metrics

	// dispenseMu keeps partition rebuilds out of the window between reset
	// and the drain rendezvous, and out of the commit walk.
	dispenseMu sync.Mutex

	// tickMu serializes Tick and Shutdown.
	tickMu sync.Mutex
	pool   *pool
	ticks  atomic.Int64
	dead   bool

	// stopping is latched by the orchestrator before rendezvous #2 and read
	// by workers right after it.
	stopping          bool
	shutdownRequested atomic.Bool

	failMu  sync.Mutex
	failure error

	rebuilds atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// workers counts live worker goroutines only.
	workers sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithChunkCount sets the number of tasks the partition aims for.
//
// Default: 128 (partition.DefaultChunkCount)
func WithChunkCount(n int) Option {
	return func(e *Engine) { e.chunkCount = n }
}

// WithQuiescence sets how long the collector batches mutations before a
// rebuild. Zero rebuilds as soon as the collector wakes.
//
// Default: 1s (DefaultQuiescence)
func WithQuiescence(d time.Duration) Option {
	return func(e *Engine) { e.quiescence = d }
}

// WithConcurrency sets the source of the worker count, re-read every tick.
//
// Default: runtime.GOMAXPROCS(0)
func WithConcurrency(fn ConcurrencyFunc) Option {
	return func(e *Engine) { e.concurrency = fn }
}

// WithWorkers fixes the worker count.
func WithWorkers(n int) Option {
	return WithConcurrency(func() int { return n })
}

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithRegisterer registers the engine's metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(e *Engine) { e.registerer = reg }
}

// WithBeforeTick appends a hook run before each tick's workers start.
func WithBeforeTick(h BeforeTickHook) Option {
	return func(e *Engine) { e.beforeTick = append(e.beforeTick, h) }
}

// WithAfterCommit appends a hook run after each commit.
func WithAfterCommit(h AfterCommitHook) Option {
	return func(e *Engine) { e.afterCommit = append(e.afterCommit, h) }
}

// New creates an engine over nodes and starts its workers and collector.
// The initial partition is built synchronously, so the first tick already
// covers every node passed here.
func New(nodes []*node.Node, opts ...Option) (*Engine, error) {
	e := &Engine{
		logger:      slog.Default(),
		chunkCount:  partition.DefaultChunkCount,
		quiescence:  DefaultQuiescence,
		concurrency: func() int { return runtime.GOMAXPROCS(0) },
		nodes:       node.NewSet(nodes...),
		mutations:   newMutationQueue(),
		pending:     newPendingOps(),
	}
	for _, opt := range opts {
		opt(e)
	}

	size := e.concurrency()
	if size < 1 {
		return nil, newInvalidConcurrencyError(size)
	}

	e.metrics = newMetrics(e.registerer)
	e.partition = partition.New(e.chunkCount)
	e.partition.Rebuild(e.nodes.Snapshot())
	e.ctx, e.cancel = context.WithCancel(context.Background())

	e.pool = newPool(size, e.startWorker)
	e.wg.Add(1)
	go e.runCollector()

	e.metrics.workers.Set(float64(size))
	e.metrics.nodes.Set(float64(e.partition.Size()))
	e.logger.Info("engine started",
		"workers", size,
		"nodes", e.partition.Size(),
		"tasks", e.partition.Len(),
		"quiescence", e.quiescence,
	)
	return e, nil
}

func (e *Engine) startWorker(w *worker) {
	e.wg.Add(1)
	e.workers.Add(1)
	go e.runWorker(w)
}

// unlockAfterWorkers releases dispenseMu once every worker has left the
// broken barrier. Until then a straggler may still be taking tasks, so the
// collector must not rebuild the partition under it. Tick returns without
// waiting because a straggler can be stuck in a node rule.
func (e *Engine) unlockAfterWorkers() {
	go func() {
		e.workers.Wait()
		e.dispenseMu.Unlock()
	}()
}

// Description returns a short name for listings.
func (e *Engine) Description() string {
	return "Parallel Buffered Update"
}

// LongDescription returns the full name for listings.
func (e *Engine) LongDescription() string {
	return "Parallel Buffered Update (All Nodes)"
}

// Tick advances every scheduled node by exactly one update.
//
// A cancelled ctx during a rendezvous breaks the barrier and leaves the
// engine failed; a cancelled ctx during the settle wait abandons only this
// tick's commit. Either way the error is returned. If a shutdown has been
// requested, Tick releases the workers for the last time and returns nil
// without advancing.
func (e *Engine) Tick(ctx context.Context) error {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	if e.dead {
		return ErrShutdown
	}
	if err := e.loadFailure(); err != nil {
		return fmt.Errorf("%w: %w", ErrEngineFailed, err)
	}

	start := time.Now()
	tick := e.ticks.Load() + 1

	for _, h := range e.beforeTick {
		if err := h(ctx, tick); err != nil {
			return fmt.Errorf("before tick %d: %w", tick, err)
		}
	}

	if err := e.resizeIfChanged(ctx, tick); err != nil {
		return err
	}

	b := e.pool.barrier
	if err := e.await(ctx, b, tick, "rendezvous"); err != nil {
		return err
	}

	e.dispenseMu.Lock()
	e.partition.Reset()
	e.stopping = e.shutdownRequested.Load()
	if err := e.await(ctx, b, tick, "release"); err != nil {
		e.unlockAfterWorkers()
		return err
	}
	if e.stopping {
		e.dispenseMu.Unlock()
		e.dead = true
		e.logger.Info("engine stopped", "ticks", tick-1)
		return nil
	}
	if err := e.await(ctx, b, tick, "drain"); err != nil {
		e.unlockAfterWorkers()
		return err
	}
	e.dispenseMu.Unlock()

	if err := e.pending.Wait(ctx); err != nil {
		return newInterruptedError(tick, "settle", err)
	}

	// The settled layout's arena is never mutated after a rebuild, so it can
	// be handed to hooks once the lock is released.
	e.dispenseMu.Lock()
	committed := e.partition.Nodes()
	for _, n := range committed {
		n.Commit()
	}
	e.dispenseMu.Unlock()

	e.ticks.Store(tick)
	e.metrics.ticks.Inc()
	e.metrics.tickDuration.Observe(time.Since(start).Seconds())

	for _, h := range e.afterCommit {
		if err := h(ctx, Commit{Tick: tick, Nodes: committed}); err != nil {
			return fmt.Errorf("after commit %d: %w", tick, err)
		}
	}
	return nil
}

// await joins a rendezvous. A failed wait poisons the barrier for every
// other party and marks the engine failed; a recorded node panic takes
// precedence over the interruption it caused.
func (e *Engine) await(ctx context.Context, b *Barrier, tick int64, phase string) error {
	err := b.Await(ctx)
	if err == nil {
		return nil
	}
	b.Break()
	if cause := e.failureAt(tick); cause != nil {
		return cause
	}
	ierr := newInterruptedError(tick, phase, err)
	e.recordFailure(ierr)
	e.logger.Error("tick interrupted", "tick", tick, "phase", phase, "error", err)
	return ierr
}

// resizeIfChanged adopts a new concurrency reading. Readings below one
// are rejected and the current pool is kept.
func (e *Engine) resizeIfChanged(ctx context.Context, tick int64) error {
	n := e.concurrency()
	current := e.pool.Size()
	if n == current {
		return nil
	}
	if n < 1 {
		e.logger.Warn("ignoring concurrency reading",
			"error", newInvalidConcurrencyError(n),
			"workers", current,
		)
		return nil
	}

	if err := e.pool.resize(ctx, n); err != nil {
		e.pool.barrier.Break()
		ierr := newInterruptedError(tick, "resize", err)
		e.recordFailure(ierr)
		return ierr
	}
	e.metrics.workers.Set(float64(n))
	e.logger.Info("worker pool resized", "from", current, "to", n, "tick", tick)
	return nil
}

// Shutdown permanently stops the engine.
//
// It waits for an in-flight tick, releases parked workers with the
// shutdown flag set, stops the collector, and waits for every goroutine
// to exit or ctx to end. Calling it more than once is safe.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.shutdownRequested.Store(true)

	e.tickMu.Lock()
	if !e.dead && e.loadFailure() == nil {
		b := e.pool.barrier
		if err := b.Await(ctx); err == nil {
			e.stopping = true
			if err := b.Await(ctx); err != nil {
				b.Break()
			}
		} else {
			b.Break()
		}
	}
	e.dead = true
	e.tickMu.Unlock()

	e.mutations.Close()
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		e.logger.Info("engine shut down", "ticks", e.ticks.Load())
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Settle blocks until every accepted mutation has been folded into the
// partition.
func (e *Engine) Settle(ctx context.Context) error {
	return e.pending.Wait(ctx)
}

// Nodes returns a snapshot of the live node set.
func (e *Engine) Nodes() []*node.Node {
	return e.nodes.Snapshot()
}

// Stats is a point-in-time view of the engine.
type Stats struct {
	Ticks          int64
	Workers        int
	Parties        int
	Tasks          int
	PartitionNodes int
	LiveNodes      int
	Pending        int
	Rebuilds       int64
}

// Stats samples the engine. Pool and partition figures are read under the
// same locks Tick uses, so the call waits for an in-flight tick.
func (e *Engine) Stats() Stats {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()
	e.dispenseMu.Lock()
	defer e.dispenseMu.Unlock()

	return Stats{
		Ticks:          e.ticks.Load(),
		Workers:        e.pool.Size(),
		Parties:        e.pool.barrier.Parties(),
		Tasks:          e.partition.Len(),
		PartitionNodes: e.partition.Size(),
		LiveNodes:      e.nodes.Len(),
		Pending:        e.pending.Load(),
		Rebuilds:       e.rebuilds.Load(),
	}
}

// Layout describes the current partition.
func (e *Engine) Layout() string {
	e.dispenseMu.Lock()
	defer e.dispenseMu.Unlock()
	return e.partition.String()
}

func (e *Engine) recordFailure(err error) {
	e.failMu.Lock()
	defer e.failMu.Unlock()
	if e.failure == nil {
		e.failure = err
	}
}

// failureAt returns the recorded failure, stamping node panics, which are
// raised on workers that do not know the tick number, with tick.
func (e *Engine) failureAt(tick int64) error {
	e.failMu.Lock()
	defer e.failMu.Unlock()
	var ee *EngineError
	if errors.As(e.failure, &ee) && ee.Code == ErrCodeNodePanic && ee.Tick == 0 {
		ee.Tick = tick
	}
	return e.failure
}

func (e *Engine) loadFailure() error {
	e.failMu.Lock()
	defer e.failMu.Unlock()
	return e.failure
}
