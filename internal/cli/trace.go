package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/mlrng/internal/ir"
	"github.com/roach88/mlrng/internal/rng"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Source    LogSource
	Module    string // optional - filter to one module
	Substream string // optional - filter to one substream label
}

// TraceEvent is one draw in the timeline.
type TraceEvent struct {
	TsUTC     string          `json:"ts_utc"`
	Module    string          `json:"module"`
	Substream string          `json:"substream_label"`
	Before    string          `json:"counter_before"`
	After     string          `json:"counter_after"`
	Draws     uint64          `json:"draws"`
	Blocks    uint32          `json:"blocks"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// TraceResult holds the timeline and its totals.
type TraceResult struct {
	RunID    string       `json:"run_id"`
	Timeline []TraceEvent `json:"timeline"`
	Stats    TraceStats   `json:"stats"`
}

// TraceStats holds summary statistics for the timeline.
type TraceStats struct {
	Events     int    `json:"events"`
	Substreams int    `json:"substreams"`
	Draws      uint64 `json:"draws"`
	Blocks     uint64 `json:"blocks"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the draw timeline of a run",
		Long: `Show every recorded draw of a run with its counter span and payload.

Examples:
  mlrng trace --db ./out/mlrng.db --run run-1
  mlrng trace --root ./out --run run-1 --module 1A.gumbel_foreign
  mlrng trace --root ./out --run run-1 --substream "mlr:1A|hurdle|7" --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}
	opts.Source.addFlags(cmd)
	cmd.Flags().StringVar(&opts.Module, "module", "", "filter to one module")
	cmd.Flags().StringVar(&opts.Substream, "substream", "", "filter to one substream label")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	logs, err := opts.Source.load(ctx)
	if err != nil {
		return err
	}

	result, err := buildTimeline(logs.Events, opts.Module, opts.Substream)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to render timeline", err)
	}
	result.RunID = opts.Source.RunID

	if opts.Format == "json" {
		return newFormatter(opts.RootOptions, cmd).Respond(CLIResponse{Status: "ok", Data: result, RunID: result.RunID})
	}

	w := cmd.OutOrStdout()
	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "No events found.")
		return nil
	}
	for _, ev := range result.Timeline {
		fmt.Fprintf(w, "%s %-20s %s\n", ev.TsUTC, ev.Module, ev.Substream)
		fmt.Fprintf(w, "    %s -> %s draws=%d blocks=%d\n", ev.Before, ev.After, ev.Draws, ev.Blocks)
		if len(ev.Payload) > 0 {
			fmt.Fprintf(w, "    %s\n", ev.Payload)
		}
	}
	fmt.Fprintf(w, "\n%d event(s) in %d substream(s), %d draw(s), %d block(s)\n",
		result.Stats.Events, result.Stats.Substreams, result.Stats.Draws, result.Stats.Blocks)
	return nil
}

// buildTimeline filters events and renders them in log order.
func buildTimeline(events []ir.RngEvent, module, substream string) (TraceResult, error) {
	result := TraceResult{Timeline: []TraceEvent{}}
	seen := make(map[string]bool)
	for _, ev := range events {
		if module != "" && ev.Module != module {
			continue
		}
		if substream != "" && ev.SubstreamLabel != substream {
			continue
		}

		var payload json.RawMessage
		if len(ev.Payload) > 0 {
			b, err := ir.MarshalCanonical(ev.Payload)
			if err != nil {
				return result, fmt.Errorf("event %s: %w", ev.SubstreamLabel, err)
			}
			payload = b
		}

		result.Timeline = append(result.Timeline, TraceEvent{
			TsUTC:     ev.TsUTC,
			Module:    ev.Module,
			Substream: ev.SubstreamLabel,
			Before:    rng.Counter{Hi: ev.CounterBeforeHi, Lo: ev.CounterBeforeLo}.String(),
			After:     rng.Counter{Hi: ev.CounterAfterHi, Lo: ev.CounterAfterLo}.String(),
			Draws:     ev.Draws,
			Blocks:    ev.Blocks,
			Payload:   payload,
		})
		result.Stats.Events++
		result.Stats.Draws += ev.Draws
		result.Stats.Blocks += uint64(ev.Blocks)
		key := ev.Module + "\x00" + ev.SubstreamLabel
		if !seen[key] {
			seen[key] = true
			result.Stats.Substreams++
		}
	}
	return result, nil
}
