package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/mlrng/internal/recorder"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	Source LogSource
}

// VerifyResult is the outcome of checking one event log against its trace.
type VerifyResult struct {
	Valid      bool     `json:"valid"`
	Events     int      `json:"events"`
	Substreams int      `json:"substreams"`
	TraceRows  int      `json:"trace_rows"`
	Issues     []string `json:"issues,omitempty"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check an event log against its trace",
		Long: `Check that every event envelope is consistent, that draws of each
substream continue where the previous draw ended, that no two substreams
overlap and that the final trace totals equal the summed events.

Exit codes:
  0 - Logs are consistent
  1 - Inconsistencies found
  2 - Command error (missing files, database not found, etc.)

Examples:
  mlrng verify --root ./out --run run-1
  mlrng verify --events a.jsonl --events b.jsonl --trace trace.jsonl
  mlrng verify --db ./out/mlrng.db --run run-1 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(opts, cmd)
		},
	}
	opts.Source.addFlags(cmd)

	return cmd
}

func runVerify(opts *VerifyOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	logs, err := opts.Source.load(ctx)
	if err != nil {
		return err
	}
	formatter.VerboseLog("read %d event(s) and %d trace row(s)", len(logs.Events), len(logs.Traces))

	rep, verr := recorder.Verify(logs.Events, logs.Traces)
	result := VerifyResult{
		Valid:      verr == nil,
		Events:     rep.Events,
		Substreams: rep.Substreams,
		TraceRows:  rep.TraceRows,
		Issues:     issueList(verr),
	}

	if opts.Format == "json" {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		w := cmd.OutOrStdout()
		if result.Valid {
			fmt.Fprintf(w, "✓ %d event(s) in %d substream(s) consistent with %d trace row(s)\n",
				result.Events, result.Substreams, result.TraceRows)
		} else {
			fmt.Fprintf(w, "✗ %d issue(s):\n", len(result.Issues))
			for _, issue := range result.Issues {
				fmt.Fprintf(w, "  %s\n", issue)
			}
		}
	}

	if verr != nil {
		return WrapExitError(ExitFailure, "logs inconsistent", verr)
	}
	return nil
}

// issueList flattens a joined error into one message per issue.
func issueList(err error) []string {
	if err == nil {
		return nil
	}
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		var out []string
		for _, e := range joined.Unwrap() {
			out = append(out, e.Error())
		}
		return out
	}
	return strings.Split(err.Error(), "\n")
}
