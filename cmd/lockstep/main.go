package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/roach88/lockstep/internal/cli"
)

func main() {
	// Commands that log replace this with their own configured handler.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if err := run(os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}

// run executes the root command with args, writing to outW and errW.
func run(outW, errW io.Writer, args []string) error {
	root := cli.NewRootCommand()
	root.SilenceUsage = true
	root.SilenceErrors = true
	root.SetOut(outW)
	root.SetErr(errW)
	root.SetArgs(args)
	return root.Execute()
}
