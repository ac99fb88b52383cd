package node

import (
	"golang.org/x/text/unicode/norm"
)

// Rule computes a node's next value.
//
// Implementations read only Value() of any node (their own included) and
// must not write shared state. The engine calls Next from many goroutines
// during a tick, so a Rule that holds its own mutable state must keep that
// state private to the node it is attached to.
type Rule interface {
	Next(n *Node) float64
}

// Edge is a weighted fan-in connection from Source to the owning node.
type Edge struct {
	Source *Node
	Weight float64
}

// Node is a unit advanced once per tick with buffered semantics.
//
// The current value is read by everyone during a tick and written only by
// Commit. The buffer is written only by Update, by exactly one worker per
// tick.
type Node struct {
	id      string
	group   string
	current float64
	buffer  float64
	dirty   bool
	rule    Rule
	edges   []Edge
}

// New creates a node with an initial value. The ID is NFC-normalized so
// labels that differ only in Unicode composition address the same node.
func New(id string, initial float64, rule Rule) *Node {
	return &Node{
		id:      norm.NFC.String(id),
		current: initial,
		buffer:  initial,
		rule:    rule,
	}
}

// ID returns the node's normalized label.
func (n *Node) ID() string { return n.id }

// Group returns the name of the group the node was built in, if any.
func (n *Node) Group() string { return n.group }

// SetGroup records the owning group name. Only valid before the node is
// handed to an engine.
func (n *Node) SetGroup(g string) { n.group = g }

// Value returns the committed value.
func (n *Node) Value() float64 { return n.current }

// Buffered returns the pending value computed by the last Update.
func (n *Node) Buffered() float64 { return n.buffer }

// Edges returns the fan-in connections.
func (n *Node) Edges() []Edge { return n.edges }

// Connect adds a fan-in edge from src. Only valid while the node is not
// being updated.
func (n *Node) Connect(src *Node, weight float64) {
	n.edges = append(n.edges, Edge{Source: src, Weight: weight})
}

// Rule returns the node's update rule.
func (n *Node) Rule() Rule { return n.rule }

// Update computes the next value into the buffer.
func (n *Node) Update() {
	if n.rule == nil {
		n.buffer = n.current
	} else {
		n.buffer = n.rule.Next(n)
	}
	n.dirty = true
}

// Commit publishes the buffer. A node whose buffer was not written since
// the last commit keeps its value, so a commit is never applied twice.
func (n *Node) Commit() {
	if !n.dirty {
		return
	}
	n.current = n.buffer
	n.dirty = false
}

// Discard drops an uncommitted buffer. A node leaving the schedule calls
// it so a later commit cannot publish a value computed while it was
// still scheduled.
func (n *Node) Discard() {
	n.buffer = n.current
	n.dirty = false
}

// NetInput returns the weighted sum of the committed values of all sources.
func (n *Node) NetInput() float64 {
	var sum float64
	for _, e := range n.edges {
		sum += e.Source.current * e.Weight
	}
	return sum
}

// SerialStep advances nodes by one tick on the calling goroutine: every
// node is updated from committed values, then every node is committed.
func SerialStep(nodes []*Node) {
	for _, n := range nodes {
		n.Update()
	}
	for _, n := range nodes {
		n.Commit()
	}
}
