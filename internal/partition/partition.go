package partition

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/roach88/lockstep/internal/node"
)

// DefaultChunkCount is the number of tasks a partition aims for.
const DefaultChunkCount = 128

// Task is a fixed run of nodes executed by one worker in one tick.
//
// A Task borrows a window of the partition's snapshot slice; it never
// copies node references.
type Task struct {
	nodes []*node.Node
}

// Nodes returns the nodes of the task. Callers must not modify the slice.
func (t Task) Nodes() []*node.Node { return t.nodes }

// Len returns the number of nodes in the task.
func (t Task) Len() int { return len(t.nodes) }

// Run updates every node of the task into its buffer.
func (t Task) Run() {
	for _, n := range t.nodes {
		n.Update()
	}
}

// Partition divides a node snapshot into near-equal tasks and dispenses
// them through a single atomic cursor.
//
// Take is safe for any number of concurrent callers. Rebuild and Reset are
// not synchronized with Take: the caller must guarantee that no worker is
// dispensing while they run.
type Partition struct {
	chunkCount int
	arena      []*node.Node
	tasks      []Task
	cursor     atomic.Int64
}

// New creates an empty partition. A chunkCount below 1 selects
// DefaultChunkCount.
func New(chunkCount int) *Partition {
	if chunkCount < 1 {
		chunkCount = DefaultChunkCount
	}
	return &Partition{chunkCount: chunkCount}
}

// ChunkCount returns the target number of tasks.
func (p *Partition) ChunkCount() int { return p.chunkCount }

// Rebuild replaces the layout with one built from nodes. The partition
// takes ownership of the slice.
//
// The snapshot is cut into min(chunkCount, len(nodes)) tasks. The first
// len(nodes) mod k tasks hold one extra node, so task sizes differ by at
// most one and every node appears in exactly one task. The cursor is left
// exhausted until Reset.
func (p *Partition) Rebuild(nodes []*node.Node) {
	k := p.chunkCount
	if len(nodes) < k {
		k = len(nodes)
	}
	tasks := make([]Task, 0, k)
	if k > 0 {
		size, extra := len(nodes)/k, len(nodes)%k
		start := 0
		for i := 0; i < k; i++ {
			end := start + size
			if i < extra {
				end++
			}
			tasks = append(tasks, Task{nodes: nodes[start:end:end]})
			start = end
		}
	}
	p.arena = nodes
	p.tasks = tasks
	p.cursor.Store(int64(len(tasks)))
}

// Reset rewinds the cursor so every task can be dispensed again.
func (p *Partition) Reset() {
	p.cursor.Store(0)
}

// Take dispenses the next task. It returns false once every task of the
// current round has been handed out; the caller should then wait.
func (p *Partition) Take() (Task, bool) {
	i := p.cursor.Add(1) - 1
	if i < 0 || i >= int64(len(p.tasks)) {
		return Task{}, false
	}
	return p.tasks[i], true
}

// Tasks returns the current layout. Callers must not modify it.
func (p *Partition) Tasks() []Task { return p.tasks }

// Len returns the number of tasks.
func (p *Partition) Len() int { return len(p.tasks) }

// Size returns the number of nodes referenced by the layout.
func (p *Partition) Size() int { return len(p.arena) }

// Nodes returns the snapshot the layout was built from, in task order.
// Callers must not modify it.
func (p *Partition) Nodes() []*node.Node { return p.arena }

// Each calls fn for every node referenced by the layout, in task order.
func (p *Partition) Each(fn func(*node.Node)) {
	for _, n := range p.arena {
		fn(n)
	}
}

// String describes the layout, one line per task.
func (p *Partition) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "partition holds %d nodes across %d tasks (chunk count %d)\n",
		p.Size(), p.Len(), p.chunkCount)
	for i, t := range p.tasks {
		fmt.Fprintf(&b, "task %d handles %d nodes\n", i+1, t.Len())
	}
	return b.String()
}
