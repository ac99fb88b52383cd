package harness

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
)

// scenarioTimeout bounds a golden run, so a stalled engine fails the test
// instead of hanging it.
const scenarioTimeout = 30 * time.Second

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if trace doesn't match golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), scenarioTimeout)
	defer cancel()
	result, err := Run(ctx, scenario)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares the given result's trace against a golden file.
// This is useful when you've already run a scenario and want to compare
// the result against a golden file without re-running.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, TraceBytes(result))
}

// TraceBytes renders a result's trace in golden file form: one line per
// entry, newline terminated.
func TraceBytes(result *Result) []byte {
	return []byte(strings.Join(result.Trace, "\n") + "\n")
}
