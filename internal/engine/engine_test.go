package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lockstep/internal/node"
	"github.com/roach88/lockstep/internal/testutil"
)

func newTestEngine(t *testing.T, nodes []*node.Node, opts ...Option) *Engine {
	t.Helper()
	base := []Option{
		WithLogger(slog.New(slog.DiscardHandler)),
		WithQuiescence(time.Millisecond),
		WithWorkers(4),
	}
	e, err := New(nodes, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, e.Shutdown(ctx))
	})
	return e
}

// tickTimeout bounds every tick a test drives, so a stalled rendezvous
// fails the test instead of hanging it.
const tickTimeout = 10 * time.Second

func tickN(t *testing.T, e *Engine, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), tickTimeout)
		err := e.Tick(ctx)
		cancel()
		require.NoError(t, err, "tick %d", i+1)
	}
}

// countingRule counts how often its node is updated.
type countingRule struct {
	updates *atomic.Int64
}

func (r countingRule) Next(n *node.Node) float64 {
	r.updates.Add(1)
	return n.Value() + 1
}

// blockingRule holds its worker until release is closed.
type blockingRule struct {
	release chan struct{}
}

func (r blockingRule) Next(n *node.Node) float64 {
	<-r.release
	return n.Value()
}

func TestEngine_NewRejectsInvalidConcurrency(t *testing.T) {
	for _, n := range []int{0, -2} {
		e, err := New(nil, WithWorkers(n), WithLogger(slog.New(slog.DiscardHandler)))
		require.Error(t, err)
		assert.Nil(t, e)

		var ee *EngineError
		require.True(t, errors.As(err, &ee))
		assert.Equal(t, ErrCodeInvalidConcurrency, ee.Code)
	}
}

func TestEngine_TickMatchesSerialSweep(t *testing.T) {
	parallel := testutil.Ring("n", 257)
	serial := testutil.Ring("n", 257)

	e := newTestEngine(t, parallel, WithChunkCount(16))

	for k := 1; k <= 10; k++ {
		require.NoError(t, e.Tick(context.Background()))
		node.SerialStep(serial)
		require.Equal(t, testutil.Values(serial), testutil.Values(parallel), "tick %d", k)
	}
}

func TestEngine_KTicksApplyRuleKTimes(t *testing.T) {
	nodes := testutil.Counters("c", 1000)
	e := newTestEngine(t, nodes, WithWorkers(8))

	tickN(t, e, 25)

	for id, v := range testutil.Values(nodes) {
		assert.Equal(t, 25.0, v, id)
	}
	assert.Equal(t, int64(25), e.Stats().Ticks)
}

func TestEngine_EmptyNodeSetTicks(t *testing.T) {
	e := newTestEngine(t, nil)
	tickN(t, e, 3)

	stats := e.Stats()
	assert.Equal(t, 0, stats.Tasks)
	assert.Equal(t, int64(3), stats.Ticks)
}

func TestEngine_BurstOfAddsRebuildsOnce(t *testing.T) {
	initial := testutil.Counters("a", 10)
	// The collector parks in its quiescence sleep; reconcile is driven by
	// the test instead.
	e := newTestEngine(t, initial, WithQuiescence(time.Hour))

	added := testutil.Counters("b", 20)
	for _, n := range added {
		require.NoError(t, e.NotifyAdded(n))
	}
	assert.Equal(t, 20, e.pending.Load())
	assert.Equal(t, 30, e.Stats().LiveNodes)
	assert.Equal(t, 10, e.Stats().PartitionNodes, "partition catches up only on rebuild")

	assert.Equal(t, 20, e.reconcile())

	stats := e.Stats()
	assert.Equal(t, int64(1), stats.Rebuilds)
	assert.Equal(t, 0, stats.Pending)
	assert.Equal(t, 30, stats.PartitionNodes)

	tickN(t, e, 1)
	for id, v := range testutil.Values(append(initial, added...)) {
		assert.Equal(t, 1.0, v, id)
	}
}

func TestEngine_CollectorBatchesWithinWindow(t *testing.T) {
	e := newTestEngine(t, nil, WithQuiescence(100*time.Millisecond))

	nodes := testutil.Counters("b", 50)
	for _, n := range nodes {
		require.NoError(t, e.NotifyAdded(n))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Settle(ctx))

	stats := e.Stats()
	assert.Equal(t, int64(1), stats.Rebuilds)
	assert.Equal(t, 0, stats.Pending)
	assert.Equal(t, 50, stats.PartitionNodes)
}

func TestEngine_GroupNotificationIsOneOperation(t *testing.T) {
	e := newTestEngine(t, nil, WithQuiescence(time.Hour))

	group := testutil.Counters("g", 12)
	require.NoError(t, e.NotifyGroupAdded("g", group))
	assert.Equal(t, 1, e.pending.Load())
	assert.Equal(t, 1, e.reconcile())
	assert.Equal(t, 12, e.Stats().PartitionNodes)

	require.NoError(t, e.NotifyGroupRemoved("g", group[:5]))
	assert.Equal(t, 1, e.reconcile())
	assert.Equal(t, 7, e.Stats().PartitionNodes)
}

func TestEngine_NotifyRejectsBadMembership(t *testing.T) {
	n := node.New("x", 0, nil)
	e := newTestEngine(t, []*node.Node{n}, WithQuiescence(time.Hour))

	assert.ErrorIs(t, e.NotifyAdded(n), node.ErrDuplicate)
	assert.ErrorIs(t, e.NotifyRemoved(node.New("y", 0, nil)), node.ErrNotMember)
	assert.Equal(t, 0, e.pending.Load())
}

func TestEngine_RemovedNodeIsNeverDispensed(t *testing.T) {
	var updates atomic.Int64
	gone := node.New("gone", 0, countingRule{updates: &updates})
	nodes := append(testutil.Counters("k", 40), gone)

	e := newTestEngine(t, nodes)
	tickN(t, e, 2)
	require.Equal(t, int64(2), updates.Load())

	require.NoError(t, e.NotifyRemoved(gone))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Settle(ctx))

	tickN(t, e, 5)
	assert.Equal(t, int64(2), updates.Load())
	assert.Equal(t, 2.0, gone.Value())
	assert.Equal(t, 7.0, nodes[0].Value())
}

func TestEngine_CommitWaitsForPendingMutations(t *testing.T) {
	nodes := testutil.Counters("c", 10)
	e := newTestEngine(t, nodes, WithQuiescence(time.Hour))

	require.NoError(t, e.NotifyAdded(node.New("late", 0, testutil.Increment{})))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := e.Tick(ctx)
	require.Error(t, err)
	assert.True(t, IsInterrupted(err))

	var ee *EngineError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, "settle", ee.Phase)
	assert.Equal(t, 0.0, nodes[0].Value(), "abandoned tick must not commit")

	// An abandoned settle wait does not fail the engine.
	e.reconcile()
	tickN(t, e, 1)
	assert.Equal(t, 1.0, nodes[0].Value())
	assert.Equal(t, int64(1), e.Stats().Ticks)
}

func TestEngine_ResizeTracksConcurrency(t *testing.T) {
	nodes := testutil.Counters("c", 300)
	conc := testutil.NewConcurrency(8)
	e := newTestEngine(t, nodes, WithConcurrency(conc.Get))

	tickN(t, e, 2)
	stats := e.Stats()
	assert.Equal(t, 8, stats.Workers)
	assert.Equal(t, 9, stats.Parties)

	conc.Set(3)
	tickN(t, e, 2)
	stats = e.Stats()
	assert.Equal(t, 3, stats.Workers)
	assert.Equal(t, 4, stats.Parties)

	conc.Set(6)
	tickN(t, e, 2)
	stats = e.Stats()
	assert.Equal(t, 6, stats.Workers)
	assert.Equal(t, 7, stats.Parties)

	for id, v := range testutil.Values(nodes) {
		assert.Equal(t, 6.0, v, id)
	}
}

func TestEngine_ResizeEveryTickNeverStalls(t *testing.T) {
	nodes := testutil.Counters("c", 64)
	conc := testutil.NewConcurrency(8)
	e := newTestEngine(t, nodes, WithConcurrency(conc.Get))

	// Workers released by a drain rendezvous race the next tick's resize.
	sizes := []int{7, 8, 3, 1, 5, 8}
	const ticks = 3000
	for i := 0; i < ticks; i++ {
		conc.Set(sizes[i%len(sizes)])
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := e.Tick(ctx)
		cancel()
		require.NoError(t, err, "tick %d", i+1)
	}

	want := sizes[(ticks-1)%len(sizes)]
	stats := e.Stats()
	assert.Equal(t, want, stats.Workers)
	assert.Equal(t, want+1, stats.Parties)
	for id, v := range testutil.Values(nodes) {
		assert.Equal(t, float64(ticks), v, id)
	}
}

func TestEngine_RemovedNodeDropsUncommittedBuffer(t *testing.T) {
	nodes := testutil.Counters("c", 10)
	x := node.New("x", 0, testutil.Increment{})
	e := newTestEngine(t, append(nodes, x), WithQuiescence(time.Hour))
	tickN(t, e, 2)
	require.Equal(t, 2.0, x.Value())

	// x is still in the layout, so this tick computes its buffer; the
	// pending removal keeps the tick from committing.
	require.NoError(t, e.NotifyRemoved(x))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	require.True(t, IsInterrupted(e.Tick(ctx)))
	require.Equal(t, 3.0, x.Buffered())
	e.reconcile()

	// Added back and folded in between a drain and a commit: the commit
	// must not publish the buffer from before the removal.
	require.NoError(t, e.NotifyAdded(x))
	e.reconcile()
	for _, n := range e.partition.Nodes() {
		n.Commit()
	}
	assert.Equal(t, 2.0, x.Value())

	tickN(t, e, 1)
	assert.Equal(t, 3.0, x.Value())
}

func TestEngine_FailedTickHoldsRebuildsUntilWorkersExit(t *testing.T) {
	release := make(chan struct{})
	nodes := append(testutil.Counters("c", 10), node.New("slow", 0, blockingRule{release: release}))
	e := newTestEngine(t, nodes, WithWorkers(2))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	require.True(t, IsInterrupted(e.Tick(ctx)))

	// A worker is still inside the slow rule and may take more tasks, so
	// the collector must not rebuild yet.
	require.NoError(t, e.NotifyAdded(node.New("late", 0, nil)))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer waitCancel()
	assert.Error(t, e.Settle(waitCtx))

	close(release)
	settleCtx, settleCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer settleCancel()
	require.NoError(t, e.Settle(settleCtx))
	assert.Equal(t, 12, e.Stats().PartitionNodes)
}

func TestEngine_IgnoresNonPositiveConcurrency(t *testing.T) {
	nodes := testutil.Counters("c", 20)
	conc := testutil.NewConcurrency(2)
	e := newTestEngine(t, nodes, WithConcurrency(conc.Get))

	conc.Set(0)
	tickN(t, e, 1)
	assert.Equal(t, 2, e.Stats().Workers)

	conc.Set(-1)
	tickN(t, e, 1)
	assert.Equal(t, 2, e.Stats().Workers)
	assert.Equal(t, 2.0, nodes[0].Value())
}

func TestEngine_ShutdownDuringTicks(t *testing.T) {
	nodes := testutil.Counters("c", 500)
	e := newTestEngine(t, nodes)

	loopDone := make(chan error, 1)
	go func() {
		for {
			err := e.Tick(context.Background())
			if errors.Is(err, ErrShutdown) {
				loopDone <- nil
				return
			}
			if err != nil {
				loopDone <- err
				return
			}
		}
	}()

	time.Sleep(20 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Shutdown(ctx))

	select {
	case err := <-loopDone:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("tick loop did not observe shutdown")
	}

	assert.ErrorIs(t, e.Tick(context.Background()), ErrShutdown)
	assert.ErrorIs(t, e.NotifyAdded(node.New("late", 0, nil)), ErrShutdown)
}

func TestEngine_ShutdownIsIdempotent(t *testing.T) {
	e := newTestEngine(t, testutil.Counters("c", 4))
	tickN(t, e, 1)

	ctx := context.Background()
	require.NoError(t, e.Shutdown(ctx))
	require.NoError(t, e.Shutdown(ctx))
}

func TestEngine_NodePanicFailsEngine(t *testing.T) {
	nodes := append(testutil.Counters("c", 50), node.New("bad", 0, testutil.Panic{Value: "boom"}))
	e := newTestEngine(t, nodes)

	err := e.Tick(context.Background())
	require.Error(t, err)
	assert.True(t, IsNodePanic(err))

	var ee *EngineError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, "bad", ee.Details["node"])
	assert.Equal(t, int64(1), ee.Tick)
	assert.Contains(t, ee.Message, "boom")

	err = e.Tick(context.Background())
	assert.ErrorIs(t, err, ErrEngineFailed)
	assert.True(t, IsNodePanic(err), "failure keeps its cause")
	assert.Equal(t, 0.0, nodes[0].Value(), "failed tick must not commit")
}

func TestEngine_InterruptedRendezvousFailsEngine(t *testing.T) {
	release := make(chan struct{})
	nodes := append(testutil.Counters("c", 10), node.New("slow", 0, blockingRule{release: release}))
	e := newTestEngine(t, nodes, WithWorkers(2))
	t.Cleanup(func() { close(release) })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := e.Tick(ctx)
	require.Error(t, err)
	assert.True(t, IsInterrupted(err))

	var ee *EngineError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, "drain", ee.Phase)
	assert.Equal(t, int64(1), ee.Tick)

	assert.ErrorIs(t, e.Tick(context.Background()), ErrEngineFailed)
}

func TestEngine_Hooks(t *testing.T) {
	var before []int64
	var commits []Commit

	nodes := testutil.Counters("c", 7)
	e := newTestEngine(t, nodes,
		WithBeforeTick(func(_ context.Context, tick int64) error {
			before = append(before, tick)
			return nil
		}),
		WithAfterCommit(func(_ context.Context, c Commit) error {
			commits = append(commits, c)
			return nil
		}),
	)

	tickN(t, e, 3)

	assert.Equal(t, []int64{1, 2, 3}, before)
	require.Len(t, commits, 3)
	assert.Equal(t, int64(3), commits[2].Tick)
	assert.Len(t, commits[2].Nodes, 7)
}

func TestEngine_HookErrorStopsTick(t *testing.T) {
	boom := errors.New("boom")
	nodes := testutil.Counters("c", 3)
	e := newTestEngine(t, nodes,
		WithBeforeTick(func(context.Context, int64) error { return boom }),
	)

	err := e.Tick(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0.0, nodes[0].Value())
}

func TestEngine_MetricsRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := newTestEngine(t, testutil.Counters("c", 5), WithRegisterer(reg))
	tickN(t, e, 3)

	families, err := reg.Gather()
	require.NoError(t, err)

	got := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				got[mf.GetName()] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				got[mf.GetName()] = m.GetGauge().GetValue()
			}
		}
	}
	assert.Equal(t, 3.0, got["lockstep_ticks_total"])
	assert.Equal(t, 4.0, got["lockstep_workers"])
	assert.Equal(t, 5.0, got["lockstep_partition_nodes"])
}

func TestEngine_LayoutAndDescriptions(t *testing.T) {
	e := newTestEngine(t, testutil.Counters("c", 10), WithChunkCount(4))

	assert.Contains(t, e.Layout(), "partition holds 10 nodes across 4 tasks (chunk count 4)")
	assert.Equal(t, "Parallel Buffered Update", e.Description())
	assert.Equal(t, "Parallel Buffered Update (All Nodes)", e.LongDescription())
}
