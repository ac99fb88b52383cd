package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/lockstep/internal/config"
)

// Scenario is a scripted run of the engine.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario exercises.
	Description string `yaml:"description"`

	// Config is the path of the network config. Relative paths are resolved
	// against the scenario file's directory by LoadScenario.
	Config string `yaml:"config"`

	// Workers is the initial concurrency reading. Zero uses the config's
	// engine.workers, or 2 if that is zero too.
	Workers int `yaml:"workers,omitempty"`

	// Quiescence overrides the config's collector window. Zero uses the
	// config's value, or 1ms if that is zero too.
	Quiescence time.Duration `yaml:"quiescence,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`
}

// Step is one scenario action. Exactly one action field must be set;
// Connect may accompany AddGroup.
type Step struct {
	Tick           int                 `yaml:"tick,omitempty"`
	AddGroup       *config.Group       `yaml:"add_group,omitempty"`
	Connect        []config.Connection `yaml:"connect,omitempty"`
	RemoveGroup    string              `yaml:"remove_group,omitempty"`
	SetConcurrency *int                `yaml:"set_concurrency,omitempty"`
	Settle         bool                `yaml:"settle,omitempty"`
	Expect         *Expect             `yaml:"expect,omitempty"`
}

// Expect lists engine statistics to check. Unset fields are not checked.
type Expect struct {
	Ticks    *int64 `yaml:"ticks,omitempty"`
	Workers  *int   `yaml:"workers,omitempty"`
	Parties  *int   `yaml:"parties,omitempty"`
	Tasks    *int   `yaml:"tasks,omitempty"`
	Nodes    *int   `yaml:"nodes,omitempty"`
	Live     *int   `yaml:"live,omitempty"`
	Pending  *int   `yaml:"pending,omitempty"`
	Rebuilds *int64 `yaml:"rebuilds,omitempty"`
}

// kind names the action a step performs.
func (s Step) kind() string {
	var kinds []string
	if s.Tick != 0 {
		kinds = append(kinds, "tick")
	}
	if s.AddGroup != nil {
		kinds = append(kinds, "add_group")
	}
	if s.RemoveGroup != "" {
		kinds = append(kinds, "remove_group")
	}
	if s.SetConcurrency != nil {
		kinds = append(kinds, "set_concurrency")
	}
	if s.Settle {
		kinds = append(kinds, "settle")
	}
	if s.Expect != nil {
		kinds = append(kinds, "expect")
	}
	if len(kinds) != 1 {
		return ""
	}
	return kinds[0]
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "step:" vs "steps:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Config != "" && !filepath.IsAbs(scenario.Config) {
		scenario.Config = filepath.Join(filepath.Dir(path), scenario.Config)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Config == "" {
		return fmt.Errorf("config is required")
	}
	if _, err := os.Stat(s.Config); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", s.Config)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		kind := step.kind()
		if kind == "" {
			return fmt.Errorf("steps[%d]: exactly one action is required", i)
		}
		if len(step.Connect) > 0 && kind != "add_group" {
			return fmt.Errorf("steps[%d]: connect is only valid with add_group", i)
		}
		if step.Tick < 0 {
			return fmt.Errorf("steps[%d]: tick count must be positive", i)
		}
		if step.AddGroup != nil && (step.AddGroup.Name == "" || step.AddGroup.Size < 1) {
			return fmt.Errorf("steps[%d]: add_group needs a name and a positive size", i)
		}
	}
	return nil
}
