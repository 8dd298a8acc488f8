package harness

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/roach88/mlrng/internal/recorder"
	"github.com/roach88/mlrng/internal/store"
	"github.com/roach88/mlrng/internal/testutil"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
	Modules  []string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if len(e.Modules) > 0 {
		fmt.Fprintf(&buf, "  Modules in log: %s\n", strings.Join(e.Modules, ", "))
	}
	return buf.String()
}

// AssertionContext carries what assertions need beyond the result.
type AssertionContext struct {
	Scenario *Scenario
	Store    *store.Store
	Ctx      context.Context
}

// EvaluateAssertions evaluates all assertions and returns failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var failures []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertEventCount:
			err = assertEventCount(result, a)
		case AssertTraceTotals:
			err = assertTraceTotals(result, a)
		case AssertVerify:
			err = assertVerify(result)
		case AssertRunComplete:
			err = assertRunComplete(result, actx)
		case AssertReplayDigest:
			err = assertReplayDigest(result, actx)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

func modulesOf(result *Result) []string {
	seen := make(map[string]bool)
	for _, ev := range result.Events {
		seen[ev.Module] = true
	}
	out := make([]string, 0, len(seen))
	for m := range seen {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

func assertEventCount(result *Result, a Assertion) error {
	n := 0
	for _, ev := range result.Events {
		if a.Module == "" || ev.Module == a.Module {
			n++
		}
	}
	if n != a.Count {
		scope := "all modules"
		if a.Module != "" {
			scope = a.Module
		}
		return &AssertionError{
			Type:     AssertEventCount,
			Expected: fmt.Sprintf("%d events in %s", a.Count, scope),
			Actual:   fmt.Sprintf("%d events", n),
			Modules:  modulesOf(result),
		}
	}
	return nil
}

func assertTraceTotals(result *Result, a Assertion) error {
	for _, row := range result.Final {
		if row.Module != a.Module || row.SubstreamLabel != a.Substream {
			continue
		}
		if row.DrawsTotal != a.Draws || row.BlocksTotal != a.Blocks || row.EventsTotal != a.Events {
			return &AssertionError{
				Type:     AssertTraceTotals,
				Expected: fmt.Sprintf("draws=%d blocks=%d events=%d", a.Draws, a.Blocks, a.Events),
				Actual:   fmt.Sprintf("draws=%d blocks=%d events=%d", row.DrawsTotal, row.BlocksTotal, row.EventsTotal),
			}
		}
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceTotals,
		Expected: fmt.Sprintf("trace row for %s %s", a.Module, a.Substream),
		Actual:   "not found",
		Modules:  modulesOf(result),
	}
}

func assertVerify(result *Result) error {
	if _, err := recorder.Verify(result.Events, result.Traces); err != nil {
		return &AssertionError{Type: AssertVerify, Expected: "consistent event and trace logs", Actual: err.Error()}
	}
	return nil
}

func assertRunComplete(result *Result, actx *AssertionContext) error {
	if actx == nil || actx.Store == nil {
		return fmt.Errorf("run_complete requires a store")
	}
	runID := Config(actx.Scenario).Run.RunID
	sum, err := actx.Store.GetRunSummary(actx.Ctx, runID)
	if err != nil {
		return fmt.Errorf("run summary: %w", err)
	}

	var events int64
	for _, m := range sum.Modules {
		events += m.Events
	}
	if !sum.Complete || events != int64(len(result.Events)) {
		return &AssertionError{
			Type:     AssertRunComplete,
			Expected: fmt.Sprintf("audit row and %d traced events indexed", len(result.Events)),
			Actual:   fmt.Sprintf("audit rows=%d events=%d untraced=%d", len(sum.Audit), events, sum.Untraced),
		}
	}
	return nil
}

// assertReplayDigest replays the flow with a shifted clock and compares
// timestamp-free digests.
func assertReplayDigest(result *Result, actx *AssertionContext) error {
	if actx == nil || actx.Scenario == nil {
		return fmt.Errorf("replay_digest requires the scenario")
	}
	clock := testutil.NewStepClockAt(testutil.Epoch.AddDate(0, 0, 1), time.Second)
	replay, err := execute(actx.Ctx, actx.Scenario, clock, nil)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}

	want, err := recorder.DigestEvents(result.Events)
	if err != nil {
		return err
	}
	got, err := recorder.DigestEvents(replay.Events)
	if err != nil {
		return err
	}
	if want != got {
		return &AssertionError{Type: AssertReplayDigest, Expected: "events digest " + want, Actual: got}
	}

	want, err = recorder.DigestTraces(result.Final)
	if err != nil {
		return err
	}
	got, err = recorder.DigestTraces(replay.Final)
	if err != nil {
		return err
	}
	if want != got {
		return &AssertionError{Type: AssertReplayDigest, Expected: "trace digest " + want, Actual: got}
	}
	return nil
}

// matchExpect compares expect against got with subset semantics: every
// expected key must be present and equal. Numbers compare by value.
func matchExpect(expect, got map[string]any) []string {
	keys := make([]string, 0, len(expect))
	for k := range expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var msgs []string
	for _, k := range keys {
		v, ok := got[k]
		if !ok {
			msgs = append(msgs, fmt.Sprintf("expect.%s: no such output", k))
			continue
		}
		if !matchValue(expect[k], v) {
			msgs = append(msgs, fmt.Sprintf("expect.%s: want %v, got %v", k, expect[k], v))
		}
	}
	return msgs
}

func matchValue(want, got any) bool {
	if wf, ok := toFloat(want); ok {
		gf, ok := toFloat(got)
		return ok && wf == gf
	}
	switch w := want.(type) {
	case []any:
		g, ok := got.([]any)
		if !ok || len(g) != len(w) {
			return false
		}
		for i := range w {
			if !matchValue(w[i], g[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		g, ok := got.(map[string]any)
		return ok && len(matchExpect(w, g)) == 0
	}
	return reflect.DeepEqual(want, got)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
