package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mlrng/internal/ir"
)

func fixtureResult() *Result {
	r := NewResult()
	r.Events = []ir.RngEvent{
		{Module: "1A.hurdle", SubstreamLabel: "mlr:1A|hurdle|7", Draws: 1, Blocks: 1},
		{Module: "2B.alias_routing", SubstreamLabel: "mlr:2B|alias_group|1|2024-03-01|0", Draws: 1, Blocks: 1},
	}
	r.Final = []ir.TraceRow{
		{Module: "1A.hurdle", SubstreamLabel: "mlr:1A|hurdle|7", DrawsTotal: 1, BlocksTotal: 1, EventsTotal: 1},
	}
	return r
}

func TestEvaluateAssertions_EventCount(t *testing.T) {
	r := fixtureResult()

	failures := EvaluateAssertions(r, []Assertion{
		{Type: AssertEventCount, Count: 2},
		{Type: AssertEventCount, Module: "1A.hurdle", Count: 1},
	}, nil)
	assert.Empty(t, failures)

	failures = EvaluateAssertions(r, []Assertion{
		{Type: AssertEventCount, Module: "1B.in_cell_jitter", Count: 1},
	}, nil)
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0], "1 events in 1B.in_cell_jitter")
	assert.Contains(t, failures[0], "Modules in log: 1A.hurdle, 2B.alias_routing")
}

func TestEvaluateAssertions_TraceTotals(t *testing.T) {
	r := fixtureResult()

	ok := Assertion{Type: AssertTraceTotals, Module: "1A.hurdle", Substream: "mlr:1A|hurdle|7", Draws: 1, Blocks: 1, Events: 1}
	assert.Empty(t, EvaluateAssertions(r, []Assertion{ok}, nil))

	wrong := ok
	wrong.Draws = 2
	failures := EvaluateAssertions(r, []Assertion{wrong}, nil)
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0], "draws=2 blocks=1 events=1")

	missing := ok
	missing.Substream = "mlr:1A|hurdle|8"
	failures = EvaluateAssertions(r, []Assertion{missing}, nil)
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0], "not found")
}

func TestEvaluateAssertions_NeedsContext(t *testing.T) {
	r := fixtureResult()

	failures := EvaluateAssertions(r, []Assertion{
		{Type: AssertRunComplete},
		{Type: AssertReplayDigest},
		{Type: "bogus"},
	}, &AssertionContext{Ctx: context.Background()})
	require.Len(t, failures, 3)
	assert.Contains(t, failures[0], "requires a store")
	assert.Contains(t, failures[1], "requires the scenario")
	assert.Contains(t, failures[2], `unknown assertion type "bogus"`)
}

func TestAssertionError_Format(t *testing.T) {
	err := &AssertionError{
		Type:     AssertVerify,
		Expected: "consistent logs",
		Actual:   "E_EVENT_MISMATCH",
	}
	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: verify")
	assert.Contains(t, msg, "Expected: consistent logs")
	assert.Contains(t, msg, "Actual: E_EVENT_MISMATCH")
	assert.NotContains(t, msg, "Modules in log")
}

func TestMatchValue(t *testing.T) {
	tests := []struct {
		name string
		want any
		got  any
		ok   bool
	}{
		{"int vs uint64", 22, uint64(22), true},
		{"int vs float", 1, 1.0, true},
		{"float mismatch", 0.5, 0.25, false},
		{"number vs string", 1, "1", false},
		{"string", "OK", "OK", true},
		{"bool", true, true, true},
		{"bool mismatch", true, false, false},
		{"list", []any{"B"}, []any{"B"}, true},
		{"list order", []any{"A", "B"}, []any{"B", "A"}, false},
		{"list length", []any{"A"}, []any{}, false},
		{"nested list", []any{[]any{"B"}, []any{}}, []any{[]any{"B"}, []any{}}, true},
		{"map subset", map[string]any{"a": 1}, map[string]any{"a": 1.0, "b": 2}, true},
		{"map missing", map[string]any{"c": 1}, map[string]any{"a": 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.ok, matchValue(tt.want, tt.got))
		})
	}
}

func TestMatchExpect_Messages(t *testing.T) {
	msgs := matchExpect(
		map[string]any{"outcome": "OK", "site_id": 10, "missing": true},
		map[string]any{"outcome": "SHORTFALL", "site_id": uint64(10)},
	)
	assert.Equal(t, []string{
		"expect.missing: no such output",
		"expect.outcome: want OK, got SHORTFALL",
	}, msgs)
}
