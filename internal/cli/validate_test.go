package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func executeValidate(t *testing.T, format, path string) (*bytes.Buffer, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{path})
	return buf, cmd.Execute()
}

func TestValidateValidConfig(t *testing.T) {
	buf, err := executeValidate(t, "text", filepath.Join("testdata", "network.yaml"))
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "✓ Config valid: 3 groups, 31 nodes")
}

func TestValidateValidConfigJSON(t *testing.T) {
	buf, err := executeValidate(t, "json", filepath.Join("testdata", "network.yaml"))
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, 31, resp.Data.Nodes)
}

func TestValidateNonExistentFile(t *testing.T) {
	buf, err := executeValidate(t, "text", "/nonexistent/network.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeNotFound)
	assert.Contains(t, buf.String(), "not found")
}

func TestValidateSchemaErrorHasPosition(t *testing.T) {
	buf, err := executeValidate(t, "json", filepath.Join("testdata", "bad_schema.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Data.Valid)
	require.Len(t, resp.Data.Errors, 1)
	assert.Equal(t, ErrCodeInvalidConfig, resp.Data.Errors[0].Code)
	assert.Positive(t, resp.Data.Errors[0].Line)
}

func TestValidateUnknownReference(t *testing.T) {
	buf, err := executeValidate(t, "text", filepath.Join("testdata", "bad_reference.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	output := buf.String()
	assert.Contains(t, output, "✗ Validation failed")
	assert.Contains(t, output, "network.connections[0]")
	assert.Contains(t, output, `unknown target group "missing"`)
}
