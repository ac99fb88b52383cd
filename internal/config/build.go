package config

import (
	"fmt"
	"math/rand"

	"github.com/roach88/lockstep/internal/node"
)

// Topology is a built node network. Groups keep their nodes in
// construction order, and Nodes lists every live node group by group.
type Topology struct {
	rng    *rand.Rand
	order  []string
	groups map[string][]*node.Node
}

// Build constructs the network described by cfg. The same config always
// yields the same nodes, edges and weights.
func Build(cfg *Config) (*Topology, error) {
	n := &Topology{
		rng:    rand.New(rand.NewSource(cfg.Network.Seed)),
		groups: make(map[string][]*node.Node, len(cfg.Network.Groups)),
	}
	for _, g := range cfg.Network.Groups {
		if _, err := n.AddGroup(g); err != nil {
			return nil, err
		}
	}
	for _, c := range cfg.Network.Connections {
		if err := n.Connect(c); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// AddGroup creates the nodes of g and adds them to the network. Nodes are
// named "<group>/<index>".
func (n *Topology) AddGroup(g Group) ([]*node.Node, error) {
	if _, ok := n.groups[g.Name]; ok {
		return nil, fmt.Errorf("group %q already exists", g.Name)
	}

	nodes := make([]*node.Node, g.Size)
	for i := range nodes {
		rule, err := newRule(g)
		if err != nil {
			return nil, fmt.Errorf("group %q: %w", g.Name, err)
		}
		nodes[i] = node.New(fmt.Sprintf("%s/%d", g.Name, i), g.Initial, rule)
		nodes[i].SetGroup(g.Name)
	}
	n.groups[g.Name] = nodes
	n.order = append(n.order, g.Name)
	return nodes, nil
}

// RemoveGroup drops the group name and returns its nodes. Edges from the
// removed nodes into surviving nodes are left in place; they keep reading
// the last committed values.
func (n *Topology) RemoveGroup(name string) ([]*node.Node, error) {
	nodes, ok := n.groups[name]
	if !ok {
		return nil, fmt.Errorf("unknown group %q", name)
	}
	delete(n.groups, name)
	for i, g := range n.order {
		if g == name {
			n.order = append(n.order[:i], n.order[i+1:]...)
			break
		}
	}
	return nodes, nil
}

// Connect wires c.From into c.To.
func (n *Topology) Connect(c Connection) error {
	from, ok := n.groups[c.From]
	if !ok {
		return fmt.Errorf("unknown source group %q", c.From)
	}
	to, ok := n.groups[c.To]
	if !ok {
		return fmt.Errorf("unknown target group %q", c.To)
	}

	density, weight := c.Density, c.Weight
	if density == 0 {
		density = 1
	}
	if weight == 0 {
		weight = 1
	}
	for _, dst := range to {
		for _, src := range from {
			if n.rng.Float64() >= density {
				continue
			}
			dst.Connect(src, weight*(2*n.rng.Float64()-1))
		}
	}
	return nil
}

// Group returns the nodes of the named group.
func (n *Topology) Group(name string) ([]*node.Node, bool) {
	nodes, ok := n.groups[name]
	return nodes, ok
}

// Groups returns the group names in construction order.
func (n *Topology) Groups() []string {
	return append([]string(nil), n.order...)
}

// Nodes returns every node of the network, group by group.
func (n *Topology) Nodes() []*node.Node {
	var out []*node.Node
	for _, name := range n.order {
		out = append(out, n.groups[name]...)
	}
	return out
}

// Rand returns the network's random source, so that edits made after Build
// stay reproducible from the seed.
func (n *Topology) Rand() *rand.Rand { return n.rng }

func newRule(g Group) (node.Rule, error) {
	switch g.Rule {
	case RuleWeightedSum, "":
		sq, err := node.SquashByName(g.Squash)
		if err != nil {
			return nil, err
		}
		return node.WeightedSum{Squash: sq, Bias: g.Bias}, nil
	case RuleDecay:
		return node.Decay{Rate: g.Rate}, nil
	case RuleInput:
		return &node.Input{Series: g.Series}, nil
	case RuleHold:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown rule %q", g.Rule)
	}
}
