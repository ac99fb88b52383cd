package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const holdConfig = `network:
  groups:
    - {name: still, size: 3, rule: hold, initial: 2}
`

const holdScenario = `name: hold
description: "Held values survive ticks"
config: ../configs/hold.yaml
workers: 2
steps:
  - tick: 2
  - expect: {ticks: 2, nodes: 3}
`

// writeScenarioTree lays out scenarios/ and configs/ under a temp dir and
// returns the scenarios directory.
func writeScenarioTree(t *testing.T, scenario string) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "scenarios"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "configs"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "configs", "hold.yaml"), []byte(holdConfig), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "scenarios", "hold.yaml"), []byte(scenario), 0644))
	return filepath.Join(root, "scenarios")
}

func executeTest(t *testing.T, format string, args ...string) (*bytes.Buffer, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	return buf, cmd.Execute()
}

func TestTestCommandMissingArgs(t *testing.T) {
	_, err := executeTest(t, "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommandNonExistentScenariosDir(t *testing.T) {
	_, err := executeTest(t, "text", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")
}

func TestTestCommandEmptyScenariosDirJSON(t *testing.T) {
	buf, err := executeTest(t, "json", t.TempDir())
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 0, resp.Data.Total)
}

func TestTestCommandHarnessScenarios(t *testing.T) {
	scenarios := filepath.Join("..", "harness", "testdata", "scenarios")

	buf, err := executeTest(t, "json", scenarios)
	require.NoError(t, err, buf.String())

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 3, resp.Data.Total)
	assert.Equal(t, 3, resp.Data.Passed)
}

func TestTestCommandUpdateThenCompare(t *testing.T) {
	scenarios := writeScenarioTree(t, holdScenario)
	goldenPath := filepath.Join(filepath.Dir(scenarios), "golden", "hold.golden")

	buf, err := executeTest(t, "text", "--update", scenarios)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "✓ hold (golden updated)")

	golden, err := os.ReadFile(goldenPath)
	require.NoError(t, err)
	assert.Equal(t, "scenario hold\n"+
		"step 1 tick 2 ticks=2 workers=2 parties=3 tasks=3 nodes=3 live=3 pending=0 rebuilds=0 sum=6.0000\n"+
		"step 2 expect ok\n", string(golden))

	buf, err = executeTest(t, "text", scenarios)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "✓ All scenarios passed")

	require.NoError(t, os.WriteFile(goldenPath, []byte("scenario hold\n"), 0644))
	buf, err = executeTest(t, "text", scenarios)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), "trace does not match golden file")
}

func TestTestCommandFailedExpectation(t *testing.T) {
	scenario := `name: hold
description: "Wrong tick count"
config: ../configs/hold.yaml
steps:
  - tick: 1
  - expect: {ticks: 5}
`
	scenarios := writeScenarioTree(t, scenario)

	buf, err := executeTest(t, "text", scenarios)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), "✗ hold")
	assert.Contains(t, buf.String(), "Test Summary: 0 passed, 1 failed, 1 total")
}

func TestFindScenarioFilesWithFilter(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"churn.yaml", "churn-burst.yml", "steady.yaml", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}

	files, err := findScenarioFiles(dir, "")
	require.NoError(t, err)
	assert.Len(t, files, 3)

	files, err = findScenarioFiles(dir, "churn*")
	require.NoError(t, err)
	assert.Len(t, files, 2)

	_, err = findScenarioFiles(dir, "[")
	require.Error(t, err)
}

func TestGoldenFilePath(t *testing.T) {
	assert.Equal(t, filepath.Join("testdata", "golden"), defaultGoldenDir(filepath.Join("testdata", "scenarios")))
	assert.Equal(t, filepath.Join("g", "churn.golden"), goldenFilePath("g", filepath.Join("s", "churn.yaml")))
}
