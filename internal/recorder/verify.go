package recorder

import (
	"errors"
	"fmt"

	"github.com/roach88/mlrng/internal/ir"
	"github.com/roach88/mlrng/internal/rng"
)

// Report summarizes a verified log.
type Report struct {
	Events     int
	Substreams int
	TraceRows  int
}

// maxIssues bounds how many problems Verify collects before giving up.
const maxIssues = 20

type chain struct {
	after  rng.Counter
	totals Totals
}

// Verify checks an event log and its trace log against each other:
//   - every envelope satisfies after == before + blocks
//   - repeated events of one substream continue where the previous ended
//   - no substream starts at a counter another substream ended on
//   - the last trace row of every substream matches the summed events
//
// Events must be in emission order. All problems found (up to a bound)
// are joined into the returned error.
func Verify(events []ir.RngEvent, traces []ir.TraceRow) (Report, error) {
	var issues []error
	add := func(err error) bool {
		issues = append(issues, err)
		return len(issues) < maxIssues
	}

	chains := make(map[TraceKey]*chain)
	endedBy := make(map[rng.Counter]TraceKey)

	for i, ev := range events {
		key := TraceKey{RunID: ev.Identity.RunID, Module: ev.Module, SubstreamLabel: ev.SubstreamLabel}
		env := rng.Envelope{
			Before: rng.Counter{Hi: ev.CounterBeforeHi, Lo: ev.CounterBeforeLo},
			After:  rng.Counter{Hi: ev.CounterAfterHi, Lo: ev.CounterAfterLo},
			Blocks: ev.Blocks,
			Draws:  ev.Draws,
		}
		if err := env.Check(); err != nil {
			if !add(fmt.Errorf("event %d (%s): %w", i, ev.SubstreamLabel, NewEnvelopeError(ev.SubstreamLabel, env, err))) {
				break
			}
			continue
		}

		if other, ok := endedBy[env.Before]; ok && other != key {
			if !add(fmt.Errorf("event %d (%s): starts at %s where substream %s ended", i, ev.SubstreamLabel, env.Before, other.SubstreamLabel)) {
				break
			}
		}

		c, seen := chains[key]
		if seen && c.after != env.Before {
			if !add(fmt.Errorf("event %d (%s): starts at %s, previous draw ended at %s", i, ev.SubstreamLabel, env.Before, c.after)) {
				break
			}
		}
		if !seen {
			c = &chain{}
			chains[key] = c
		}
		c.after = env.After
		c.totals.Draws = saturatingAdd(c.totals.Draws, ev.Draws)
		c.totals.Blocks = saturatingAdd(c.totals.Blocks, uint64(ev.Blocks))
		c.totals.Events = saturatingAdd(c.totals.Events, 1)
		endedBy[env.After] = key
	}

	last := make(map[TraceKey]ir.TraceRow)
	for _, tr := range traces {
		last[TraceKey{RunID: tr.Identity.RunID, Module: tr.Module, SubstreamLabel: tr.SubstreamLabel}] = tr
	}
	for key, c := range chains {
		if len(issues) >= maxIssues {
			break
		}
		tr, ok := last[key]
		if !ok {
			add(fmt.Errorf("substream %s/%s: no trace row", key.Module, key.SubstreamLabel))
			continue
		}
		got := Totals{Draws: tr.DrawsTotal, Blocks: tr.BlocksTotal, Events: tr.EventsTotal}
		if got != c.totals {
			add(fmt.Errorf("substream %s/%s: trace totals %+v, events sum to %+v", key.Module, key.SubstreamLabel, got, c.totals))
		}
	}
	for key := range last {
		if len(issues) >= maxIssues {
			break
		}
		if _, ok := chains[key]; !ok {
			add(fmt.Errorf("substream %s/%s: trace row without events", key.Module, key.SubstreamLabel))
		}
	}

	rep := Report{Events: len(events), Substreams: len(chains), TraceRows: len(traces)}
	return rep, errors.Join(issues...)
}
