package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"
)

// Rule names accepted in a group definition.
const (
	RuleWeightedSum = "weighted_sum"
	RuleDecay       = "decay"
	RuleInput       = "input"
	RuleHold        = "hold"
)

// Config is a complete lockstep configuration.
type Config struct {
	Engine  Engine  `yaml:"engine"`
	Network Network `yaml:"network"`
	Run     Run     `yaml:"run"`
}

// Engine holds engine tuning. Zero values select engine defaults.
type Engine struct {
	ChunkCount int           `yaml:"chunk_count"`
	Quiescence time.Duration `yaml:"quiescence"`
	Workers    int           `yaml:"workers"`
}

// Network describes the groups of nodes and how they are wired.
type Network struct {
	Seed        int64        `yaml:"seed"`
	Groups      []Group      `yaml:"groups"`
	Connections []Connection `yaml:"connections"`
}

// Group is a named block of nodes sharing one rule.
type Group struct {
	Name    string    `yaml:"name"`
	Size    int       `yaml:"size"`
	Rule    string    `yaml:"rule"`
	Squash  string    `yaml:"squash"`
	Bias    float64   `yaml:"bias"`
	Rate    float64   `yaml:"rate"`
	Initial float64   `yaml:"initial"`
	Series  []float64 `yaml:"series"`
}

// Connection wires every node of From into a random share of To.
//
// Each candidate edge exists with probability Density (default 1) and
// carries a weight drawn uniformly from [-Weight, Weight] (default 1).
type Connection struct {
	From    string  `yaml:"from"`
	To      string  `yaml:"to"`
	Density float64 `yaml:"density"`
	Weight  float64 `yaml:"weight"`
}

// Run controls the CLI's run command.
type Run struct {
	Ticks  int    `yaml:"ticks"`
	Record Record `yaml:"record"`
}

// Record selects what the run command persists. An empty Groups list
// records every node.
type Record struct {
	DB     string   `yaml:"db"`
	Groups []string `yaml:"groups"`
}

// Error is a configuration problem, positioned when the schema check
// found it.
type Error struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

// Load reads and parses the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(path, data)
}

// Parse validates data against the schema, decodes it, fills defaults and
// checks cross references. name is used in error positions.
func Parse(name string, data []byte) (*Config, error) {
	if err := validateSchema(name, data); err != nil {
		return nil, err
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", name, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	for i := range c.Network.Groups {
		if c.Network.Groups[i].Rule == "" {
			c.Network.Groups[i].Rule = RuleWeightedSum
		}
	}
	for i := range c.Network.Connections {
		conn := &c.Network.Connections[i]
		if conn.Density == 0 {
			conn.Density = 1
		}
		if conn.Weight == 0 {
			conn.Weight = 1
		}
	}
}

// Validate checks what the schema cannot: unique group names, references
// between sections, and rule-specific requirements.
func (c *Config) Validate() error {
	groups := make(map[string]bool, len(c.Network.Groups))
	for i, g := range c.Network.Groups {
		field := fmt.Sprintf("network.groups[%d]", i)
		if groups[g.Name] {
			return &Error{Field: field, Message: fmt.Sprintf("duplicate group %q", g.Name)}
		}
		groups[g.Name] = true
		if g.Rule == RuleInput && len(g.Series) == 0 {
			return &Error{Field: field, Message: fmt.Sprintf("input group %q needs a series", g.Name)}
		}
	}

	for i, conn := range c.Network.Connections {
		field := fmt.Sprintf("network.connections[%d]", i)
		if !groups[conn.From] {
			return &Error{Field: field, Message: fmt.Sprintf("unknown source group %q", conn.From)}
		}
		if !groups[conn.To] {
			return &Error{Field: field, Message: fmt.Sprintf("unknown target group %q", conn.To)}
		}
	}

	for i, name := range c.Run.Record.Groups {
		if !groups[name] {
			return &Error{
				Field:   fmt.Sprintf("run.record.groups[%d]", i),
				Message: fmt.Sprintf("unknown group %q", name),
			}
		}
	}
	return nil
}

// Group returns the definition named name.
func (c *Config) Group(name string) (Group, bool) {
	for _, g := range c.Network.Groups {
		if g.Name == name {
			return g, true
		}
	}
	return Group{}, false
}
