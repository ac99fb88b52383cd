package node

import (
	"fmt"
	"math"
)

// Squash maps a net input onto an activation.
type Squash func(x float64) float64

// Squashing functions accepted by WeightedSum.
var (
	Linear  Squash = func(x float64) float64 { return x }
	Sigmoid Squash = func(x float64) float64 { return 1 / (1 + math.Exp(-x)) }
	Tanh    Squash = math.Tanh
	Clamp   Squash = func(x float64) float64 { return math.Max(-1, math.Min(1, x)) }
)

// SquashByName resolves a squashing function from its config name.
func SquashByName(name string) (Squash, error) {
	switch name {
	case "", "linear":
		return Linear, nil
	case "sigmoid":
		return Sigmoid, nil
	case "tanh":
		return Tanh, nil
	case "clamp":
		return Clamp, nil
	default:
		return nil, fmt.Errorf("unknown squash function %q", name)
	}
}

// WeightedSum sets the node to Squash(bias + sum of weighted inputs).
type WeightedSum struct {
	Squash Squash
	Bias   float64
}

func (r WeightedSum) Next(n *Node) float64 {
	sq := r.Squash
	if sq == nil {
		sq = Linear
	}
	return sq(r.Bias + n.NetInput())
}

// Decay moves the node toward its net input at the given rate.
type Decay struct {
	Rate float64
}

func (r Decay) Next(n *Node) float64 {
	return n.current + r.Rate*(n.NetInput()-n.current)
}

// Input replays an external series, one value per tick, wrapping at the end.
// Each Input must be attached to a single node.
type Input struct {
	Series []float64
	pos    int
}

func (r *Input) Next(n *Node) float64 {
	if len(r.Series) == 0 {
		return n.current
	}
	v := r.Series[r.pos%len(r.Series)]
	r.pos++
	return v
}
