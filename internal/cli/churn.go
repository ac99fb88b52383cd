package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/lockstep/internal/config"
	"github.com/roach88/lockstep/internal/engine"
)

// churner edits the network between ticks: with probability rate it either
// adds a decay group fed by the first configured group, or removes the
// oldest group it added. It runs as a before-tick hook, so the engine sees
// each edit as a pending mutation that the tick has to settle.
type churner struct {
	engine *engine.Engine
	net    *config.Topology
	source string
	rate   float64
	size   int
	logger *slog.Logger

	live  []string
	added int
}

func newChurner(net *config.Topology, cfg *config.Config, rate float64, size int, logger *slog.Logger) *churner {
	c := &churner{net: net, rate: rate, size: size, logger: logger}
	if len(cfg.Network.Groups) > 0 {
		c.source = cfg.Network.Groups[0].Name
	}
	return c
}

func (c *churner) beforeTick(_ context.Context, tick int64) error {
	if c.rate <= 0 || c.size < 1 {
		return nil
	}
	rng := c.net.Rand()
	if rng.Float64() >= c.rate {
		return nil
	}
	if len(c.live) > 0 && rng.Intn(2) == 0 {
		return c.remove()
	}
	return c.add(tick)
}

func (c *churner) add(tick int64) error {
	g := config.Group{
		Name:    fmt.Sprintf("churn-%d", tick),
		Size:    c.size,
		Rule:    config.RuleDecay,
		Rate:    0.5,
		Initial: 1,
	}
	nodes, err := c.net.AddGroup(g)
	if err != nil {
		return err
	}
	if c.source != "" {
		if err := c.net.Connect(config.Connection{From: c.source, To: g.Name, Density: 0.5, Weight: 1}); err != nil {
			return err
		}
	}
	if err := c.engine.NotifyGroupAdded(g.Name, nodes); err != nil {
		return err
	}
	c.live = append(c.live, g.Name)
	c.added++
	c.logger.Debug("churn added group", "group", g.Name, "nodes", len(nodes))
	return nil
}

func (c *churner) remove() error {
	name := c.live[0]
	nodes, err := c.net.RemoveGroup(name)
	if err != nil {
		return err
	}
	if err := c.engine.NotifyGroupRemoved(name, nodes); err != nil {
		return err
	}
	c.live = c.live[1:]
	c.logger.Debug("churn removed group", "group", name, "nodes", len(nodes))
	return nil
}
