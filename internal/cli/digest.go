package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/mlrng/internal/ir"
	"github.com/roach88/mlrng/internal/recorder"
)

// DigestOptions holds flags for the digest command.
type DigestOptions struct {
	*RootOptions
	Source LogSource
}

// DigestResult holds timestamp-free digests of a run's logs.
type DigestResult struct {
	Events     string `json:"events"`
	EventCount int    `json:"event_count"`
	Trace      string `json:"trace,omitempty"`
	TraceRows  int    `json:"trace_rows"`
}

// NewDigestCommand creates the digest command.
func NewDigestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DigestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Hash a run's logs for replay comparison",
		Long: `Compute SHA-256 digests of an event log and its trace log. Timestamps
and write order are excluded, so two replays of the same run print the same
digests.

Examples:
  mlrng digest --root ./out --run run-1
  mlrng digest --events events.jsonl
  mlrng digest --db ./out/mlrng.db --run run-1 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDigest(opts, cmd)
		},
	}
	opts.Source.addFlags(cmd)

	return cmd
}

func runDigest(opts *DigestOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	logs, err := opts.Source.load(ctx)
	if err != nil {
		return err
	}

	result := DigestResult{EventCount: len(logs.Events), TraceRows: len(logs.Traces)}
	result.Events, err = recorder.DigestEvents(logs.Events)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to digest events", err)
	}
	if len(logs.Traces) > 0 {
		result.Trace, err = recorder.DigestTraces(finalRows(logs))
		if err != nil {
			return WrapExitError(ExitFailure, "failed to digest trace", err)
		}
	}

	if f := newFormatter(opts.RootOptions, cmd); f.JSON() {
		return f.Success(result)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "events %s (%d)\n", result.Events, result.EventCount)
	if result.Trace != "" {
		fmt.Fprintf(w, "trace  %s (%d)\n", result.Trace, result.TraceRows)
	}
	return nil
}

// finalRows keeps the last trace row of every substream, so a JSONL trace
// (every snapshot) and the SQLite index (latest totals) digest alike.
func finalRows(logs *Logs) []ir.TraceRow {
	last := make(map[recorder.TraceKey]int)
	var out []ir.TraceRow
	for _, tr := range logs.Traces {
		key := recorder.TraceKey{RunID: tr.Identity.RunID, Module: tr.Module, SubstreamLabel: tr.SubstreamLabel}
		if i, ok := last[key]; ok {
			out[i] = tr
			continue
		}
		last[key] = len(out)
		out = append(out, tr)
	}
	return out
}
