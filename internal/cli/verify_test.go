package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyMatchesSerialSweep(t *testing.T) {
	for _, workers := range []string{"1", "3", "8"} {
		t.Run("workers="+workers, func(t *testing.T) {
			buf := &bytes.Buffer{}
			cmd := NewVerifyCommand(&RootOptions{Format: "json"})
			cmd.SetOut(buf)
			cmd.SetErr(&bytes.Buffer{})
			cmd.SetArgs([]string{"--ticks", "12", "--workers", workers, filepath.Join("testdata", "network.yaml")})

			require.NoError(t, cmd.Execute())

			var resp struct {
				Status string       `json:"status"`
				Data   VerifyResult `json:"data"`
			}
			require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
			assert.Equal(t, "ok", resp.Status)
			assert.True(t, resp.Data.Match)
			assert.Equal(t, int64(12), resp.Data.Ticks)
			assert.Equal(t, 31, resp.Data.Nodes)
			assert.Empty(t, resp.Data.Diff)
		})
	}
}

func TestVerifyTextDefaultsToConfigTicks(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewVerifyCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{filepath.Join("testdata", "network.yaml")})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "✓ 31 nodes matched the serial sweep for 5 ticks on 3 workers")
}

func TestVerifyMissingConfig(t *testing.T) {
	cmd := NewVerifyCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"/nonexistent/network.yaml"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestVerifyResultString(t *testing.T) {
	r := VerifyResult{Match: false, DivergedAt: 3, Diff: "-a\n+b"}
	assert.Contains(t, r.String(), "diverged from the serial sweep at tick 3")
	assert.Contains(t, r.String(), "+b")
}
