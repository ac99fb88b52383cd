package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lockstep/internal/cli"
)

func TestRun_Validate(t *testing.T) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	config := filepath.Join("..", "..", "internal", "cli", "testdata", "network.yaml")

	require.NoError(t, run(out, errOut, []string{"validate", config}))
	assert.Contains(t, out.String(), "Config valid")
}

func TestRun_ExitCodes(t *testing.T) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}

	err := run(out, errOut, []string{"validate", "/nonexistent/network.yaml"})
	require.Error(t, err)
	assert.Equal(t, cli.ExitCommandError, cli.GetExitCode(err))

	err = run(out, errOut, []string{"no-such-command"})
	require.Error(t, err)
	assert.Equal(t, cli.ExitFailure, cli.GetExitCode(err))
}
