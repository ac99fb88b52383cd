package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/lockstep/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	RunID    string
	Tick     int64  // optional - samples of one tick
	Node     string // optional - one node's series
}

// TraceRun is one run in a listing.
type TraceRun struct {
	ID          string    `json:"id"`
	StartedAt   time.Time `json:"started_at"`
	Description string    `json:"description"`
	Ticks       int64     `json:"ticks"`
}

// TracePoint is one recorded value.
type TracePoint struct {
	Tick   int64   `json:"tick"`
	NodeID string  `json:"node_id"`
	Value  float64 `json:"value"`
}

// TraceResult holds the trace output. Exactly one of Runs or Points is
// filled, depending on the query.
type TraceResult struct {
	Run    *TraceRun    `json:"run,omitempty"`
	Runs   []TraceRun   `json:"runs,omitempty"`
	Points []TracePoint `json:"points,omitempty"`
	Stats  TraceStats   `json:"stats"`
}

// TraceStats summarises the returned points.
type TraceStats struct {
	Points int     `json:"points"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect recorded runs",
		Long: `Read values recorded by "lockstep run --db".

Without --run, lists every recorded run. With --run and --node, prints the
node's committed value at every recorded tick. With --run and --tick,
prints every sampled node at that tick. With --run alone, prints the last
recorded tick.

Examples:
  lockstep trace --db ./runs.db
  lockstep trace --db ./runs.db --run 0190c1e2-... --node out/0
  lockstep trace --db ./runs.db --run 0190c1e2-... --tick 10 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run ID to inspect")
	cmd.Flags().Int64Var(&opts.Tick, "tick", 0, "tick to show")
	cmd.Flags().StringVar(&opts.Node, "node", "", "node ID whose series to show")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := os.Stat(opts.Database); err != nil {
		return NewExitError(ExitCommandError, fmt.Sprintf("%s: database not found: %s", ErrCodeNotFound, opts.Database))
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	result, err := queryTrace(ctx, st, opts)
	if err != nil {
		if errors.Is(err, store.ErrRunNotFound) {
			return WrapExitError(ExitCommandError, ErrCodeNotFound, err)
		}
		return WrapExitError(ExitCommandError, ErrCodeStoreFailed, err)
	}

	if opts.Format == "json" {
		return outputTraceJSON(cmd, result)
	}
	return outputTraceText(cmd, result, opts)
}

func queryTrace(ctx context.Context, st *store.Store, opts *TraceOptions) (TraceResult, error) {
	if opts.RunID == "" {
		runs, err := st.Runs(ctx)
		if err != nil {
			return TraceResult{}, err
		}
		result := TraceResult{Runs: make([]TraceRun, 0, len(runs))}
		for _, r := range runs {
			result.Runs = append(result.Runs, toTraceRun(r))
		}
		return result, nil
	}

	run, err := st.ReadRun(ctx, opts.RunID)
	if err != nil {
		return TraceResult{}, err
	}
	tr := toTraceRun(run)
	result := TraceResult{Run: &tr}

	var samples []store.Sample
	switch {
	case opts.Node != "":
		samples, err = st.Series(ctx, run.ID, opts.Node)
	case opts.Tick > 0:
		samples, err = st.Samples(ctx, run.ID, opts.Tick)
	case run.Ticks > 0:
		samples, err = st.Samples(ctx, run.ID, run.Ticks)
	}
	if err != nil {
		return TraceResult{}, err
	}

	result.Points = make([]TracePoint, 0, len(samples))
	for _, s := range samples {
		result.Points = append(result.Points, TracePoint{Tick: s.Tick, NodeID: s.NodeID, Value: s.Value})
	}
	result.Stats = computeStats(result.Points)
	return result, nil
}

func toTraceRun(r store.Run) TraceRun {
	return TraceRun{
		ID:          r.ID,
		StartedAt:   r.StartedAt,
		Description: r.Description,
		Ticks:       r.Ticks,
	}
}

func computeStats(points []TracePoint) TraceStats {
	stats := TraceStats{Points: len(points)}
	if len(points) == 0 {
		return stats
	}
	stats.Min, stats.Max = points[0].Value, points[0].Value
	var sum float64
	for _, p := range points {
		stats.Min = min(stats.Min, p.Value)
		stats.Max = max(stats.Max, p.Value)
		sum += p.Value
	}
	stats.Mean = sum / float64(len(points))
	return stats
}

// outputTraceJSON outputs the trace as JSON.
func outputTraceJSON(cmd *cobra.Command, result TraceResult) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
	}
	if result.Run != nil {
		response.RunID = result.Run.ID
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}

// outputTraceText outputs the trace in human-readable form.
func outputTraceText(cmd *cobra.Command, result TraceResult, opts *TraceOptions) error {
	w := cmd.OutOrStdout()

	if result.Run == nil {
		if len(result.Runs) == 0 {
			fmt.Fprintln(w, "No runs recorded.")
			return nil
		}
		fmt.Fprintf(w, "%-36s  %-20s  %6s  %s\n", "RUN", "STARTED", "TICKS", "DESCRIPTION")
		for _, r := range result.Runs {
			fmt.Fprintf(w, "%-36s  %-20s  %6d  %s\n",
				r.ID, r.StartedAt.Format(time.DateTime), r.Ticks, r.Description)
		}
		return nil
	}

	fmt.Fprintf(w, "Run: %s\n", result.Run.ID)
	fmt.Fprintf(w, "Engine: %s\n", result.Run.Description)
	fmt.Fprintf(w, "Ticks: %d\n", result.Run.Ticks)
	fmt.Fprintln(w, strings.Repeat("─", 50))

	if len(result.Points) == 0 {
		fmt.Fprintln(w, "No samples.")
		return nil
	}
	for _, p := range result.Points {
		if opts.Node != "" {
			fmt.Fprintf(w, "tick %-6d %12.6f\n", p.Tick, p.Value)
		} else {
			fmt.Fprintf(w, "%-24s %12.6f\n", p.NodeID, p.Value)
		}
	}

	if opts.Verbose {
		fmt.Fprintln(w, strings.Repeat("─", 50))
		fmt.Fprintf(w, "points=%d min=%.6f max=%.6f mean=%.6f\n",
			result.Stats.Points, result.Stats.Min, result.Stats.Max, result.Stats.Mean)
	}
	return nil
}
