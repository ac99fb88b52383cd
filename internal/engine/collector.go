package engine

import (
	"time"

	"github.com/roach88/lockstep/internal/node"
)

// DefaultQuiescence is how long the collector lets a burst of structural
// edits accumulate before rebuilding the partition.
const DefaultQuiescence = time.Second

// NotifyAdded adds n to the node set. The node is live immediately and is
// dispensed to workers once the collector has rebuilt the partition.
func (e *Engine) NotifyAdded(n *node.Node) error {
	if e.shutdownRequested.Load() {
		return ErrShutdown
	}
	if err := e.nodes.Add(n); err != nil {
		return err
	}
	return e.accept(Mutation{Kind: MutationAdded, Nodes: []*node.Node{n}})
}

// NotifyRemoved removes n from the node set. A removal that races with
// dispensing may still see n computed, but never committed, in the current
// tick.
func (e *Engine) NotifyRemoved(n *node.Node) error {
	if e.shutdownRequested.Load() {
		return ErrShutdown
	}
	if err := e.nodes.Remove(n); err != nil {
		return err
	}
	return e.accept(Mutation{Kind: MutationRemoved, Nodes: []*node.Node{n}})
}

// NotifyGroupAdded adds every node of a group as a single mutation. Nodes
// already in the set are skipped.
func (e *Engine) NotifyGroupAdded(group string, nodes []*node.Node) error {
	if e.shutdownRequested.Load() {
		return ErrShutdown
	}
	for _, n := range nodes {
		_ = e.nodes.Add(n)
	}
	return e.accept(Mutation{Kind: MutationGroupAdded, Group: group, Nodes: nodes})
}

// NotifyGroupRemoved removes every node of a group as a single mutation.
// Nodes not in the set are skipped.
func (e *Engine) NotifyGroupRemoved(group string, nodes []*node.Node) error {
	if e.shutdownRequested.Load() {
		return ErrShutdown
	}
	for _, n := range nodes {
		_ = e.nodes.Remove(n)
	}
	return e.accept(Mutation{Kind: MutationGroupRemoved, Group: group, Nodes: nodes})
}

// accept counts the mutation as pending before handing it to the
// collector, so a rebuild can never absorb more than was counted.
func (e *Engine) accept(m Mutation) error {
	e.pending.Add(1)
	if !e.mutations.Enqueue(m) {
		e.pending.Done(1)
		return ErrShutdown
	}
	e.metrics.pending.Set(float64(e.pending.Load()))
	e.logger.Debug("mutation accepted", "kind", m.Kind.String(), "group", m.Group, "nodes", len(m.Nodes))
	return nil
}

// runCollector folds bursts of mutations into partition rebuilds.
//
// After a wakeup it sleeps for the quiescence window, then drains every
// queued mutation and rebuilds once from the live node set. Mutations that
// arrive after the drain raise the signal again and get their own round.
func (e *Engine) runCollector() {
	defer e.wg.Done()
	e.logger.Debug("collector started", "quiescence", e.quiescence)
	defer e.logger.Debug("collector stopped")

	for {
		select {
		case <-e.ctx.Done():
			return
		case _, ok := <-e.mutations.Wait():
			if !ok {
				return
			}
		}

		if e.quiescence > 0 {
			timer := time.NewTimer(e.quiescence)
			select {
			case <-e.ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		e.reconcile()
	}
}

// reconcile rebuilds the partition from the node set and releases the
// pending operations the rebuild absorbed. It returns the number absorbed.
func (e *Engine) reconcile() int {
	absorbed := e.mutations.Drain()
	if len(absorbed) == 0 {
		return 0
	}

	// Drain before snapshot: every drained mutation is already reflected in
	// the set, because notifications apply to the set before enqueueing.
	snapshot := e.nodes.Snapshot()

	e.dispenseMu.Lock()
	e.partition.Rebuild(snapshot)
	tasks := e.partition.Len()
	discardUnscheduled(absorbed, snapshot)
	e.dispenseMu.Unlock()

	e.rebuilds.Add(1)
	e.pending.Done(len(absorbed))
	e.metrics.rebuilds.Inc()
	e.metrics.nodes.Set(float64(len(snapshot)))
	e.metrics.pending.Set(float64(e.pending.Load()))

	e.logger.Debug("partition rebuilt",
		"mutations", len(absorbed),
		"nodes", len(snapshot),
		"tasks", tasks,
	)
	return len(absorbed)
}

// discardUnscheduled drops the buffers of removed nodes that the new
// layout no longer schedules. Such a node may have been updated in its
// last tick without being committed; if it is added back later, that
// buffer must not be published. Must run while no worker dispenses.
func discardUnscheduled(absorbed []Mutation, snapshot []*node.Node) {
	var scheduled map[*node.Node]struct{}
	for _, m := range absorbed {
		if m.Kind != MutationRemoved && m.Kind != MutationGroupRemoved {
			continue
		}
		if scheduled == nil {
			scheduled = make(map[*node.Node]struct{}, len(snapshot))
			for _, n := range snapshot {
				scheduled[n] = struct{}{}
			}
		}
		for _, n := range m.Nodes {
			if _, ok := scheduled[n]; !ok {
				n.Discard()
			}
		}
	}
}
