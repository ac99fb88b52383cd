package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/lockstep/internal/config"
	"github.com/roach88/lockstep/internal/engine"
	"github.com/roach88/lockstep/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database    string
	Ticks       int
	Workers     int
	ChurnRate   float64
	ChurnSize   int
	MetricsAddr string
}

// RunSummary is the result of a run.
type RunSummary struct {
	RunID     string  `json:"run_id,omitempty"`
	Ticks     int64   `json:"ticks"`
	Workers   int     `json:"workers"`
	Nodes     int     `json:"nodes"`
	Tasks     int     `json:"tasks"`
	Rebuilds  int64   `json:"rebuilds"`
	Churned   int     `json:"churned_groups"`
	Seconds   float64 `json:"seconds"`
	Cancelled bool    `json:"cancelled,omitempty"`
}

func (s RunSummary) String() string {
	out := fmt.Sprintf("%d ticks on %d workers: %d nodes in %d tasks, %d rebuilds, %.3fs",
		s.Ticks, s.Workers, s.Nodes, s.Tasks, s.Rebuilds, s.Seconds)
	if s.Churned > 0 {
		out += fmt.Sprintf(", %d churn groups", s.Churned)
	}
	if s.RunID != "" {
		out += "\nrecorded as run " + s.RunID
	}
	if s.Cancelled {
		out += "\nstopped by signal"
	}
	return out
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <config>",
		Short: "Run a network for a number of ticks",
		Long: `Build the network described by a config file and advance it tick by tick
on the parallel engine.

Flags override the config's engine and run sections. With zero ticks the
engine runs until interrupted. Committed values can be recorded to SQLite
for later inspection with "lockstep trace".

Churn adds and removes small decay groups between ticks, which exercises
the collector while the engine is running.

Example:
  lockstep run ./network.yaml --ticks 100
  lockstep run ./network.yaml --db ./runs.db --workers 8
  lockstep run ./network.yaml --ticks 0 --churn 0.2 --metrics-addr :9090`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "record committed values to this SQLite database")
	cmd.Flags().IntVar(&opts.Ticks, "ticks", -1, "ticks to run, 0 runs until interrupted (default from config)")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "worker count (default from config, then GOMAXPROCS)")
	cmd.Flags().Float64Var(&opts.ChurnRate, "churn", 0, "probability per tick of adding or removing a churn group")
	cmd.Flags().IntVar(&opts.ChurnSize, "churn-size", 16, "nodes per churn group")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	return cmd
}

func runEngine(opts *RunOptions, path string, cmd *cobra.Command) error {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: logLevel,
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	formatter := newFormatter(opts.RootOptions, cmd)

	raw, err := os.ReadFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read config", err)
	}
	cfg, err := config.Parse(path, raw)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid config", err)
	}
	net, err := config.Build(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build network", err)
	}

	ticks := cfg.Run.Ticks
	if opts.Ticks >= 0 {
		ticks = opts.Ticks
	}
	workers := cfg.Engine.Workers
	if opts.Workers > 0 {
		workers = opts.Workers
	}
	dbPath := cfg.Run.Record.DB
	if opts.Database != "" {
		dbPath = opts.Database
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	var recorder *store.Recorder
	churn := newChurner(net, cfg, opts.ChurnRate, opts.ChurnSize, logger)

	engineOpts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithRegisterer(reg),
		engine.WithBeforeTick(churn.beforeTick),
		engine.WithAfterCommit(func(ctx context.Context, c engine.Commit) error {
			if recorder == nil {
				return nil
			}
			return recorder.Record(ctx, c.Tick, c.Nodes)
		}),
	}
	if cfg.Engine.ChunkCount > 0 {
		engineOpts = append(engineOpts, engine.WithChunkCount(cfg.Engine.ChunkCount))
	}
	if cfg.Engine.Quiescence > 0 {
		engineOpts = append(engineOpts, engine.WithQuiescence(cfg.Engine.Quiescence))
	}
	if workers > 0 {
		engineOpts = append(engineOpts, engine.WithWorkers(workers))
	}

	eng, err := engine.New(net.Nodes(), engineOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start engine", err)
	}
	churn.engine = eng

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if dbPath != "" {
		logger.Info("opening database", "path", dbPath)
		st, err := store.Open(dbPath)
		if err != nil {
			_ = eng.Shutdown(context.Background())
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing database", "error", closeErr)
			}
		}()
		run, err := st.BeginRun(ctx, eng.LongDescription(), string(raw))
		if err != nil {
			_ = eng.Shutdown(context.Background())
			return WrapExitError(ExitCommandError, "failed to begin run", err)
		}
		recorder = store.NewRecorder(st, run, cfg.Run.Record.Groups)
		logger.Info("recording run", "run_id", run.ID)
	}

	start := time.Now()
	tickErr := driveEngine(ctx, eng, ticks, reg, opts.MetricsAddr, logger)
	elapsed := time.Since(start)
	stats := eng.Stats()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := eng.Shutdown(shutdownCtx); err != nil {
		logger.Error("engine shutdown incomplete", "error", err)
	}

	if tickErr != nil {
		return formatter.Fail(ExitFailure, "engine error", tickErr)
	}

	summary := RunSummary{
		Ticks:     stats.Ticks,
		Workers:   stats.Workers,
		Nodes:     stats.PartitionNodes,
		Tasks:     stats.Tasks,
		Rebuilds:  stats.Rebuilds,
		Churned:   churn.added,
		Seconds:   elapsed.Seconds(),
		Cancelled: ctx.Err() != nil,
	}
	if recorder != nil {
		summary.RunID = recorder.Run().ID
	}
	return formatter.SuccessForRun(summary.RunID, summary)
}

// driveEngine ticks eng until ticks are done or ctx ends, serving metrics
// alongside when addr is set. A cancelled ctx is a clean stop.
func driveEngine(ctx context.Context, eng *engine.Engine, ticks int, reg *prometheus.Registry, addr string, logger *slog.Logger) error {
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		defer stop()
		for i := 0; ticks == 0 || i < ticks; i++ {
			if gctx.Err() != nil {
				return nil
			}
			if err := eng.Tick(gctx); err != nil {
				if ctx.Err() != nil && engine.IsInterrupted(err) {
					return nil
				}
				return err
			}
		}
		return nil
	})

	if addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			logger.Info("serving metrics", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}
