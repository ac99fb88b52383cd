package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/lockstep/internal/config"
	"github.com/roach88/lockstep/internal/partition"
)

// PartitionOptions holds flags for the partition command.
type PartitionOptions struct {
	*RootOptions
	Chunks int
}

// PartitionResult describes a task layout.
type PartitionResult struct {
	Nodes      int   `json:"nodes"`
	Tasks      int   `json:"tasks"`
	ChunkCount int   `json:"chunk_count"`
	Sizes      []int `json:"sizes"`

	layout string
}

func (r PartitionResult) String() string { return strings.TrimSuffix(r.layout, "\n") }

// NewPartitionCommand creates the partition command.
func NewPartitionCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PartitionOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "partition <config>",
		Short: "Show how a network is split into tasks",
		Long: `Build the network described by a config file and print the task layout
the engine would dispense, one line per task.

Example:
  lockstep partition ./network.yaml
  lockstep partition ./network.yaml --chunks 8 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPartition(opts, args[0], cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Chunks, "chunks", 0, "target task count (default from config, then 128)")

	return cmd
}

func runPartition(opts *PartitionOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	cfg, err := config.Load(path)
	if err != nil {
		_ = formatter.Error(ErrCodeInvalidConfig, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid config", err)
	}
	net, err := config.Build(cfg)
	if err != nil {
		_ = formatter.Error(ErrCodeBuildFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to build network", err)
	}

	chunks := opts.Chunks
	if chunks <= 0 {
		chunks = cfg.Engine.ChunkCount
	}
	p := partition.New(chunks)
	p.Rebuild(net.Nodes())

	result := PartitionResult{
		Nodes:      p.Size(),
		Tasks:      p.Len(),
		ChunkCount: p.ChunkCount(),
		Sizes:      make([]int, 0, p.Len()),
		layout:     p.String(),
	}
	for _, t := range p.Tasks() {
		result.Sizes = append(result.Sizes, t.Len())
	}
	return formatter.Success(result)
}
