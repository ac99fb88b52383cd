package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/lockstep/internal/config"
)

// ValidationError is one config problem, positioned when the schema check
// could place it.
type ValidationError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Groups int               `json:"groups,omitempty"`
	Nodes  int               `json:"nodes,omitempty"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <config>",
		Short: "Validate a network config without running it",
		Long: `Check a config file against the schema, resolve group references, and
build the network once to catch rule parameters the schema cannot see.

Exit codes:
  0 - Config is valid
  1 - Config has errors
  2 - Command error (file not found, etc.)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	if _, err := os.Stat(path); err != nil {
		return outputValidateError(formatter, ErrCodeNotFound, fmt.Sprintf("config not found: %s", path), nil)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return outputValidationErrors(formatter, []ValidationError{toValidationError(err, ErrCodeInvalidConfig)})
	}
	formatter.VerboseLog("Schema and references valid: %d group(s), %d connection(s)",
		len(cfg.Network.Groups), len(cfg.Network.Connections))

	net, err := config.Build(cfg)
	if err != nil {
		return outputValidationErrors(formatter, []ValidationError{toValidationError(err, ErrCodeBuildFailed)})
	}

	result := ValidationResult{
		Valid:  true,
		Groups: len(net.Groups()),
		Nodes:  len(net.Nodes()),
	}
	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ Config valid: %d groups, %d nodes\n", result.Groups, result.Nodes)
	return nil
}

func toValidationError(err error, code string) ValidationError {
	var cfgErr *config.Error
	if !errors.As(err, &cfgErr) {
		return ValidationError{Message: err.Error(), Code: code}
	}
	ve := ValidationError{Field: cfgErr.Field, Message: cfgErr.Message, Code: code}
	if cfgErr.Pos.IsValid() {
		ve.Line = cfgErr.Pos.Line()
		ve.Column = cfgErr.Pos.Column()
	}
	return ve
}

// outputValidateError outputs a single command-level error.
func outputValidateError(formatter *OutputFormatter, code, message string, details interface{}) error {
	_ = formatter.Error(code, message, details)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs config errors.
func outputValidationErrors(formatter *OutputFormatter, errs []ValidationError) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: errs},
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		switch {
		case err.Line > 0:
			fmt.Fprintf(formatter.Writer, "line %d, column %d\n", err.Line, err.Column)
		case err.Field != "":
			fmt.Fprintf(formatter.Writer, "%s\n", err.Field)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", err.Code, err.Message)
	}

	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
