package harness

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/roach88/lockstep/internal/config"
	"github.com/roach88/lockstep/internal/engine"
	"github.com/roach88/lockstep/internal/testutil"
)

// Harness drives one engine through a scenario.
type Harness struct {
	engine      *engine.Engine
	network     *config.Topology
	concurrency *testutil.Concurrency
	logger      *slog.Logger
}

// Run executes a scenario and returns its result.
//
// Each scenario runs against a freshly built network and engine, which is
// shut down before Run returns. An error is returned when the scenario
// cannot be executed at all; expectation mismatches are reported in the
// result instead.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	cfg, err := config.Load(scenario.Config)
	if err != nil {
		return nil, err
	}
	net, err := config.Build(cfg)
	if err != nil {
		return nil, err
	}

	workers := scenario.Workers
	if workers == 0 {
		workers = cfg.Engine.Workers
	}
	if workers == 0 {
		workers = 2
	}
	quiescence := scenario.Quiescence
	if quiescence == 0 {
		quiescence = cfg.Engine.Quiescence
	}
	if quiescence == 0 {
		quiescence = time.Millisecond
	}

	h := &Harness{
		network:     net,
		concurrency: testutil.NewConcurrency(workers),
		logger:      slog.New(slog.DiscardHandler), // Suppress logs in tests
	}
	h.engine, err = engine.New(net.Nodes(),
		engine.WithChunkCount(cfg.Engine.ChunkCount),
		engine.WithQuiescence(quiescence),
		engine.WithConcurrency(h.concurrency.Get),
		engine.WithLogger(h.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("start engine: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = h.engine.Shutdown(shutdownCtx)
	}()

	result := NewResult()
	result.AddTrace(fmt.Sprintf("scenario %s", scenario.Name))
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i+1, step, result); err != nil {
			return result, fmt.Errorf("step %d (%s): %w", i+1, step.kind(), err)
		}
	}
	return result, nil
}

func (h *Harness) executeStep(ctx context.Context, n int, step Step, result *Result) error {
	switch step.kind() {
	case "tick":
		for i := 0; i < step.Tick; i++ {
			// Settling first pins down which nodes the tick dispenses.
			if err := h.engine.Settle(ctx); err != nil {
				return err
			}
			if err := h.engine.Tick(ctx); err != nil {
				return err
			}
		}
		result.AddTrace(h.snapshot(n, fmt.Sprintf("tick %d", step.Tick)))

	case "add_group":
		g := *step.AddGroup
		nodes, err := h.network.AddGroup(g)
		if err != nil {
			return err
		}
		for _, c := range step.Connect {
			if err := h.network.Connect(c); err != nil {
				return err
			}
		}
		if err := h.engine.NotifyGroupAdded(g.Name, nodes); err != nil {
			return err
		}
		result.AddTrace(fmt.Sprintf("step %d add_group %s size=%d", n, g.Name, len(nodes)))

	case "remove_group":
		nodes, err := h.network.RemoveGroup(step.RemoveGroup)
		if err != nil {
			return err
		}
		if err := h.engine.NotifyGroupRemoved(step.RemoveGroup, nodes); err != nil {
			return err
		}
		result.AddTrace(fmt.Sprintf("step %d remove_group %s size=%d", n, step.RemoveGroup, len(nodes)))

	case "set_concurrency":
		h.concurrency.Set(*step.SetConcurrency)
		result.AddTrace(fmt.Sprintf("step %d set_concurrency %d", n, *step.SetConcurrency))

	case "settle":
		if err := h.engine.Settle(ctx); err != nil {
			return err
		}
		result.AddTrace(h.snapshot(n, "settle"))

	case "expect":
		errs := checkExpect(step.Expect, h.engine.Stats())
		for _, e := range errs {
			result.AddError(fmt.Sprintf("step %d: %s", n, e))
		}
		status := "ok"
		if len(errs) > 0 {
			status = "failed"
		}
		result.AddTrace(fmt.Sprintf("step %d expect %s", n, status))
	}
	return nil
}

// snapshot formats the engine state after step n.
func (h *Harness) snapshot(n int, op string) string {
	s := h.engine.Stats()

	nodes := h.engine.Nodes()
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID() < nodes[j].ID() })
	var sum float64
	for _, nd := range nodes {
		sum += nd.Value()
	}

	return fmt.Sprintf("step %d %s ticks=%d workers=%d parties=%d tasks=%d nodes=%d live=%d pending=%d rebuilds=%d sum=%.4f",
		n, op, s.Ticks, s.Workers, s.Parties, s.Tasks, s.PartitionNodes, s.LiveNodes, s.Pending, s.Rebuilds, sum)
}

func checkExpect(e *Expect, s engine.Stats) []string {
	var errs []string
	check := func(name string, want *int, got int) {
		if want != nil && *want != got {
			errs = append(errs, fmt.Sprintf("%s: expected %d, got %d", name, *want, got))
		}
	}
	check64 := func(name string, want *int64, got int64) {
		if want != nil && *want != got {
			errs = append(errs, fmt.Sprintf("%s: expected %d, got %d", name, *want, got))
		}
	}

	check64("ticks", e.Ticks, s.Ticks)
	check("workers", e.Workers, s.Workers)
	check("parties", e.Parties, s.Parties)
	check("tasks", e.Tasks, s.Tasks)
	check("nodes", e.Nodes, s.PartitionNodes)
	check("live", e.Live, s.LiveNodes)
	check("pending", e.Pending, s.Pending)
	check64("rebuilds", e.Rebuilds, s.Rebuilds)
	return errs
}
