package recorder

import (
	"math/bits"
	"slices"
	"strings"
	"sync"

	"github.com/roach88/mlrng/internal/ir"
)

// TraceKey identifies one running total.
type TraceKey struct {
	RunID          string
	Module         string
	SubstreamLabel string
}

// Totals are the running sums of one trace key. Each field saturates at
// the maximum uint64 instead of wrapping.
type Totals struct {
	Draws  uint64
	Blocks uint64
	Events uint64
}

type traceState struct {
	identity ir.RunIdentity
	totals   Totals
	last     ir.TraceRow
}

// TraceAccumulator maintains per-(run, module, substream) totals.
// It is safe for concurrent use, but totals are only meaningful when events
// for one substream arrive in emission order.
type TraceAccumulator struct {
	mu     sync.Mutex
	states map[TraceKey]*traceState
}

// NewTraceAccumulator creates an empty accumulator.
func NewTraceAccumulator() *TraceAccumulator {
	return &TraceAccumulator{states: make(map[TraceKey]*traceState)}
}

// Append folds ev into its running totals and returns the snapshot row.
// The run identity is latched on the first event of a key.
func (t *TraceAccumulator) Append(ev ir.RngEvent) ir.TraceRow {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := TraceKey{RunID: ev.Identity.RunID, Module: ev.Module, SubstreamLabel: ev.SubstreamLabel}
	st, ok := t.states[key]
	if !ok {
		st = &traceState{identity: ev.Identity}
		t.states[key] = st
	}

	st.totals.Draws = saturatingAdd(st.totals.Draws, ev.Draws)
	st.totals.Blocks = saturatingAdd(st.totals.Blocks, uint64(ev.Blocks))
	st.totals.Events = saturatingAdd(st.totals.Events, 1)

	st.last = ir.TraceRow{
		TsUTC:           ev.TsUTC,
		Identity:        st.identity,
		Module:          ev.Module,
		SubstreamLabel:  ev.SubstreamLabel,
		CounterBeforeHi: ev.CounterBeforeHi,
		CounterBeforeLo: ev.CounterBeforeLo,
		CounterAfterHi:  ev.CounterAfterHi,
		CounterAfterLo:  ev.CounterAfterLo,
		DrawsTotal:      st.totals.Draws,
		BlocksTotal:     st.totals.Blocks,
		EventsTotal:     st.totals.Events,
	}
	return st.last
}

// Totals returns the running totals for key.
func (t *TraceAccumulator) Totals(key TraceKey) (Totals, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.states[key]
	if !ok {
		return Totals{}, false
	}
	return st.totals, true
}

// Final returns the latest row of every key, sorted by key.
func (t *TraceAccumulator) Final() []ir.TraceRow {
	t.mu.Lock()
	defer t.mu.Unlock()

	rows := make([]ir.TraceRow, 0, len(t.states))
	for _, st := range t.states {
		rows = append(rows, st.last)
	}
	slices.SortFunc(rows, func(a, b ir.TraceRow) int {
		if c := strings.Compare(a.Identity.RunID, b.Identity.RunID); c != 0 {
			return c
		}
		if c := strings.Compare(a.Module, b.Module); c != 0 {
			return c
		}
		return strings.Compare(a.SubstreamLabel, b.SubstreamLabel)
	})
	return rows
}

// Len returns the number of tracked keys.
func (t *TraceAccumulator) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.states)
}

func saturatingAdd(a, b uint64) uint64 {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return ^uint64(0)
	}
	return sum
}
