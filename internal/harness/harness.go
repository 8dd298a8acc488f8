package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/mlrng/internal/config"
	"github.com/roach88/mlrng/internal/engine"
	"github.com/roach88/mlrng/internal/gumbel"
	"github.com/roach88/mlrng/internal/recorder"
	"github.com/roach88/mlrng/internal/rng"
	"github.com/roach88/mlrng/internal/store"
	"github.com/roach88/mlrng/internal/substream"
	"github.com/roach88/mlrng/internal/testutil"
)

// Harness executes one scenario against a fresh engine.Run.
type Harness struct {
	scenario *Scenario
	run      *engine.Run
	logger   *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory SQLite index and in-memory
// event sinks, with a step clock so logs are byte-reproducible.
//
// Execution flow:
// 1. Open in-memory database
// 2. Start an engine.Run (writes the audit row)
// 3. Execute flow steps with expect validation
// 4. Close the run and evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	result, err := execute(ctx, scenario, testutil.NewStepClock(), st)
	if err != nil {
		return nil, err
	}

	actx := &AssertionContext{
		Scenario: scenario,
		Store:    st,
		Ctx:      ctx,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// Config builds the run config of a scenario. Nothing is written to disk:
// the harness always supplies its own sinks.
func Config(s *Scenario) *config.Config {
	runID := s.Run.RunID
	if runID == "" {
		runID = testutil.NewFixedIDGenerator("").Generate()
	}
	parallelism := s.Parallelism
	if parallelism == 0 {
		parallelism = config.DefaultParallelism
	}
	return &config.Config{
		Run: config.Run{
			RunID:               runID,
			Seed:                s.Run.Seed,
			ParameterHash:       s.Run.ParameterHash,
			ManifestFingerprint: s.Run.ManifestFingerprint,
			OutputRoot:          "memory",
			MasterTag:           substream.DefaultMasterTag,
		},
		Sampling: s.Sampling,
		AliasCache: config.AliasCache{
			GroupTables: config.DefaultGroupTables,
			SiteTables:  config.DefaultSiteTables,
		},
		Parallelism: parallelism,
	}
}

// execute runs the flow once. st may be nil.
func execute(ctx context.Context, s *Scenario, clock recorder.Clock, st *store.Store) (*Result, error) {
	sink := testutil.NewMemorySink()
	sinks := []recorder.Sink{sink}
	auditors := []recorder.Auditor{&testutil.MemoryAuditor{}}
	if st != nil {
		ss := st.Sink(ctx)
		sinks = append(sinks, ss)
		auditors = append(auditors, ss)
	}

	opts := []engine.Option{
		engine.WithClock(clock),
		engine.WithSinks(sinks...),
		engine.WithAuditors(auditors...),
		engine.WithProvenance("harness", "harness"),
	}
	if s.Weights != nil {
		opts = append(opts, engine.WithWeightSource(s.Weights))
	}

	run, err := engine.New(Config(s), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	if err := run.Start(); err != nil {
		return nil, fmt.Errorf("failed to start run: %w", err)
	}

	h := &Harness{
		scenario: s,
		run:      run,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	result := NewResult()
	h.executeFlow(ctx, result)

	if err := run.Close(); err != nil {
		return nil, fmt.Errorf("failed to close run: %w", err)
	}
	result.Events = sink.Events()
	result.Traces = sink.Traces()
	result.Final = run.Trace().Final()
	return result, nil
}

// Drive executes the flow of s against run, which must already be started.
// Expect clauses are checked as in Run; assertions are not evaluated and the
// run is left open for the caller to close.
func Drive(ctx context.Context, s *Scenario, run *engine.Run) *Result {
	h := &Harness{scenario: s, run: run, logger: slog.Default()}
	result := NewResult()
	h.executeFlow(ctx, result)
	return result
}

// executeFlow runs all flow steps and validates expect clauses.
// A step that fails unexpectedly stops the flow: the run is no longer
// replayable past that point.
func (h *Harness) executeFlow(ctx context.Context, result *Result) {
	for i, step := range h.scenario.Flow {
		values, err := h.executeStep(ctx, step)
		out := StepOutput{Index: i, Op: step.Op, Values: values}

		switch {
		case err != nil && step.Error != "":
			out.Error = err.Error()
			if !rng.IsCode(err, rng.ErrorCode(step.Error)) {
				result.AddError(fmt.Sprintf("flow[%d] %s: expected error %s, got: %v", i, step.Op, step.Error, err))
			}
		case err != nil:
			out.Error = err.Error()
			result.Outputs = append(result.Outputs, out)
			result.AddError(fmt.Sprintf("flow[%d] %s: %v", i, step.Op, err))
			return
		case step.Error != "":
			result.AddError(fmt.Sprintf("flow[%d] %s: expected error %s, got success", i, step.Op, step.Error))
		default:
			for _, msg := range matchExpect(step.Expect, values) {
				result.AddError(fmt.Sprintf("flow[%d] %s: %s", i, step.Op, msg))
			}
		}

		result.Outputs = append(result.Outputs, out)
		h.logger.Debug("step executed", "index", i, "op", step.Op)
	}
}

// executeStep performs one operation and returns its outputs in the
// generic form YAML expect clauses decode to.
func (h *Harness) executeStep(ctx context.Context, step Step) (map[string]any, error) {
	switch step.Op {
	case OpHurdle:
		res, err := h.run.Hurdle(step.MerchantID, *step.P)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"is_multi":      res.IsMulti,
			"deterministic": res.Deterministic,
			"u":             res.U,
		}, nil

	case OpSelectCountries:
		sel, err := h.run.SelectCountries(engine.CountryRequest{
			MerchantID: step.MerchantID,
			K:          step.K,
			Candidates: toCandidates(step.Candidates),
		})
		if err != nil {
			return nil, err
		}
		return selectionValues(sel), nil

	case OpSelectBatch:
		reqs := make([]engine.CountryRequest, len(step.Requests))
		for i, r := range step.Requests {
			reqs[i] = engine.CountryRequest{MerchantID: r.MerchantID, K: r.K, Candidates: toCandidates(r.Candidates)}
		}
		sels, err := h.run.SelectCountriesBatch(ctx, reqs)
		if err != nil {
			return nil, err
		}
		countries := make([]any, len(sels))
		for i, sel := range sels {
			countries[i] = selectionValues(sel)["countries"]
		}
		return map[string]any{"countries": countries}, nil

	case OpJitter:
		res, err := h.run.Jitter(step.MerchantID, step.CountryISO, step.SiteOrder, step.Attempt)
		if err != nil {
			return nil, err
		}
		return map[string]any{"u_lon": res.ULon, "u_lat": res.ULat}, nil

	case OpRoute:
		res, err := h.run.Route(step.MerchantID, step.UTCDay, step.ArrivalSeq)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"tz_group_id": res.GroupID,
			"site_id":     res.SiteID,
			"group_u":     res.GroupDraw.U,
			"site_u":      res.SiteDraw.U,
		}, nil
	}
	return nil, errors.New("unknown op " + step.Op)
}

func toCandidates(cs []Candidate) []gumbel.Candidate {
	out := make([]gumbel.Candidate, len(cs))
	for i, c := range cs {
		out[i] = gumbel.Candidate{ID: c.ID, Weight: c.Weight, Rank: c.Rank, SecondaryKey: c.SecondaryKey}
	}
	return out
}

func selectionValues(sel *engine.CountrySelection) map[string]any {
	countries := make([]any, 0, sel.K)
	for _, iso := range sel.Countries() {
		countries = append(countries, iso)
	}
	return map[string]any{
		"countries": countries,
		"outcome":   string(sel.Outcome),
		"capped":    sel.Capped,
		"eligible":  sel.Eligible(),
		"events":    len(sel.Events),
	}
}
