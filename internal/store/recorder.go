package store

import (
	"context"

	"github.com/roach88/lockstep/internal/node"
)

// Recorder writes committed ticks of one run.
//
// Recorder is used from the engine's after-commit hook, which runs on the
// goroutine driving Tick, so it needs no locking of its own.
type Recorder struct {
	store  *Store
	run    Run
	groups map[string]bool
}

// NewRecorder records into run. When groups is non-empty only nodes of
// those groups are sampled; the tick itself is always recorded.
func NewRecorder(s *Store, run Run, groups []string) *Recorder {
	r := &Recorder{store: s, run: run}
	if len(groups) > 0 {
		r.groups = make(map[string]bool, len(groups))
		for _, g := range groups {
			r.groups[g] = true
		}
	}
	return r
}

// Run returns the run being recorded.
func (r *Recorder) Run() Run { return r.run }

// Record samples nodes as committed at tick.
func (r *Recorder) Record(ctx context.Context, tick int64, nodes []*node.Node) error {
	samples := make([]Sample, 0, len(nodes))
	for _, n := range nodes {
		if r.groups != nil && !r.groups[n.Group()] {
			continue
		}
		samples = append(samples, Sample{
			RunID:  r.run.ID,
			Tick:   tick,
			NodeID: n.ID(),
			Value:  n.Value(),
		})
	}
	return r.store.WriteTick(ctx, r.run.ID, tick, len(nodes), samples)
}
