package testutil

import (
	"fmt"

	"github.com/roach88/lockstep/internal/node"
)

// Ring builds n nodes named prefix-0 .. prefix-(n-1), each summing its
// predecessor with weight 1 plus the node's own index as bias. Initial
// values are the indices.
//
// The ring is the smallest network in which every node reads a neighbour,
// so any update that leaks into another node's read shows up as a
// divergence from node.SerialStep.
func Ring(prefix string, n int) []*node.Node {
	nodes := make([]*node.Node, n)
	for i := range nodes {
		rule := node.WeightedSum{Squash: node.Tanh, Bias: float64(i) / float64(n)}
		nodes[i] = node.New(fmt.Sprintf("%s-%d", prefix, i), float64(i)/float64(n), rule)
		nodes[i].SetGroup(prefix)
	}
	for i, nd := range nodes {
		nd.Connect(nodes[(i+n-1)%n], 1)
	}
	return nodes
}

// Counters builds n nodes whose rule adds one to their own value. After k
// ticks every scheduled node holds exactly k.
func Counters(prefix string, n int) []*node.Node {
	nodes := make([]*node.Node, n)
	for i := range nodes {
		nodes[i] = node.New(fmt.Sprintf("%s-%d", prefix, i), 0, Increment{})
		nodes[i].SetGroup(prefix)
	}
	return nodes
}

// Values returns the current value of every node, keyed by ID.
func Values(nodes []*node.Node) map[string]float64 {
	out := make(map[string]float64, len(nodes))
	for _, n := range nodes {
		out[n.ID()] = n.Value()
	}
	return out
}

// Increment is a rule that counts updates.
type Increment struct{}

// Next implements node.Rule.
func (Increment) Next(n *node.Node) float64 { return n.Value() + 1 }

// Panic is a rule that panics with Value on every update.
type Panic struct {
	Value any
}

// Next implements node.Rule.
func (p Panic) Next(*node.Node) float64 { panic(p.Value) }
