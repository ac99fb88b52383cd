package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/spf13/cobra"

	"github.com/roach88/lockstep/internal/config"
	"github.com/roach88/lockstep/internal/engine"
	"github.com/roach88/lockstep/internal/node"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	Ticks     int
	Workers   int
	Tolerance float64
}

// VerifyResult reports whether the engine matched a serial sweep.
type VerifyResult struct {
	Match      bool   `json:"match"`
	Ticks      int64  `json:"ticks"`
	Nodes      int    `json:"nodes"`
	Workers    int    `json:"workers"`
	DivergedAt int64  `json:"diverged_at,omitempty"`
	Diff       string `json:"diff,omitempty"`
}

func (r VerifyResult) String() string {
	if r.Match {
		return fmt.Sprintf("✓ %d nodes matched the serial sweep for %d ticks on %d workers",
			r.Nodes, r.Ticks, r.Workers)
	}
	return fmt.Sprintf("✗ diverged from the serial sweep at tick %d (-serial +parallel):\n%s",
		r.DivergedAt, r.Diff)
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify <config>",
		Short: "Check the parallel engine against a serial sweep",
		Long: `Build the network twice from the same config and seed. Advance one copy
on the parallel engine and the other with a single-threaded update-then-
commit sweep, comparing every node's committed value after each tick.

Exit codes:
  0 - Values matched on every tick
  1 - Values diverged
  2 - Command error (invalid config, etc.)

Example:
  lockstep verify ./network.yaml --ticks 50 --workers 16`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(opts, args[0], cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Ticks, "ticks", 0, "ticks to compare (default from config, then 10)")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "worker count (default from config, then GOMAXPROCS)")
	cmd.Flags().Float64Var(&opts.Tolerance, "tolerance", 0, "absolute difference allowed between values")

	return cmd
}

func runVerify(opts *VerifyOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	cfg, err := config.Load(path)
	if err != nil {
		_ = formatter.Error(ErrCodeInvalidConfig, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid config", err)
	}
	parallel, err := config.Build(cfg)
	if err != nil {
		_ = formatter.Error(ErrCodeBuildFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to build network", err)
	}
	serial, err := config.Build(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build network", err)
	}

	ticks := opts.Ticks
	if ticks <= 0 {
		ticks = cfg.Run.Ticks
	}
	if ticks <= 0 {
		ticks = 10
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = cfg.Engine.Workers
	}

	engineOpts := []engine.Option{
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	if opts.Verbose {
		engineOpts[0] = engine.WithLogger(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil)))
	}
	if cfg.Engine.ChunkCount > 0 {
		engineOpts = append(engineOpts, engine.WithChunkCount(cfg.Engine.ChunkCount))
	}
	if workers > 0 {
		engineOpts = append(engineOpts, engine.WithWorkers(workers))
	}

	eng, err := engine.New(parallel.Nodes(), engineOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start engine", err)
	}
	defer func() { _ = eng.Shutdown(context.Background()) }()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	result := VerifyResult{Match: true, Nodes: len(parallel.Nodes()), Workers: eng.Stats().Workers}
	opt := cmpopts.EquateApprox(0, opts.Tolerance)
	serialNodes := serial.Nodes()
	for i := int64(1); i <= int64(ticks); i++ {
		if err := eng.Tick(ctx); err != nil {
			_ = formatter.Error(ErrCodeEngineFailed, err.Error(), nil)
			return WrapExitError(ExitFailure, "engine error", err)
		}
		node.SerialStep(serialNodes)
		result.Ticks = i

		if diff := cmp.Diff(valuesByID(serialNodes), valuesByID(parallel.Nodes()), opt); diff != "" {
			result.Match = false
			result.DivergedAt = i
			result.Diff = diff
			break
		}
		formatter.VerboseLog("tick %d matched", i)
	}

	if !result.Match {
		if opts.Format == "json" {
			_ = formatter.Error(ErrCodeDiverged, fmt.Sprintf("diverged at tick %d", result.DivergedAt), result)
		} else {
			fmt.Fprintln(formatter.Writer, result)
		}
		return NewExitError(ExitFailure, fmt.Sprintf("%s: diverged at tick %d", ErrCodeDiverged, result.DivergedAt))
	}
	return formatter.Success(result)
}

func valuesByID(nodes []*node.Node) map[string]float64 {
	out := make(map[string]float64, len(nodes))
	for _, n := range nodes {
		out[n.ID()] = n.Value()
	}
	return out
}
