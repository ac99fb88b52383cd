package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartitionText(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewPartitionCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{filepath.Join("testdata", "network.yaml")})

	require.NoError(t, cmd.Execute())
	output := buf.String()
	assert.Contains(t, output, "partition holds 31 nodes across 8 tasks (chunk count 8)")
	assert.Contains(t, output, "task 1 handles 4 nodes")
	assert.Contains(t, output, "task 8 handles 3 nodes")
}

func TestPartitionJSONWithChunks(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewPartitionCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--chunks", "5", filepath.Join("testdata", "network.yaml")})

	require.NoError(t, cmd.Execute())

	var resp struct {
		Status string          `json:"status"`
		Data   PartitionResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, 31, resp.Data.Nodes)
	assert.Equal(t, 5, resp.Data.ChunkCount)
	assert.Equal(t, []int{7, 6, 6, 6, 6}, resp.Data.Sizes)
}

func TestPartitionMoreChunksThanNodes(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewPartitionCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--chunks", "100", filepath.Join("testdata", "network.yaml")})

	require.NoError(t, cmd.Execute())

	var resp struct {
		Data PartitionResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, 31, resp.Data.Tasks)
	for _, size := range resp.Data.Sizes {
		assert.Equal(t, 1, size)
	}
}

func TestPartitionInvalidConfig(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewPartitionCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{filepath.Join("testdata", "bad_reference.yaml")})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, buf.String(), "Error ["+ErrCodeInvalidConfig+"]")
}
