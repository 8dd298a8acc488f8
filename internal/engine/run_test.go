package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mlrng/internal/alias"
	"github.com/roach88/mlrng/internal/config"
	"github.com/roach88/mlrng/internal/gumbel"
	"github.com/roach88/mlrng/internal/ir"
	"github.com/roach88/mlrng/internal/recorder"
	"github.com/roach88/mlrng/internal/rng"
	"github.com/roach88/mlrng/internal/store"
	"github.com/roach88/mlrng/internal/testutil"
)

func testFingerprint() string {
	sum := sha256.Sum256([]byte("manifest"))
	return hex.EncodeToString(sum[:])
}

// testConfig parses a run config rooted in a temp dir. extra is appended
// verbatim as top-level YAML.
func testConfig(t *testing.T, extra string) *config.Config {
	t.Helper()
	doc := fmt.Sprintf(`run:
  run_id: run-1
  seed: 42
  parameter_hash: %s
  manifest_fingerprint: %s
  output_root: %s
%s`, strings.Repeat("ab", 32), testFingerprint(), t.TempDir(), extra)
	cfg, err := config.Parse([]byte(doc), nil)
	require.NoError(t, err)
	return cfg
}

// memoryRun starts a run writing to memory.
func memoryRun(t *testing.T, cfg *config.Config, opts ...Option) (*Run, *testutil.MemorySink) {
	t.Helper()
	sink := testutil.NewMemorySink()
	opts = append([]Option{
		WithClock(testutil.NewStepClock()),
		WithSinks(sink),
		WithAuditors(&testutil.MemoryAuditor{}),
	}, opts...)
	r, err := New(cfg, opts...)
	require.NoError(t, err)
	require.NoError(t, r.Start())
	t.Cleanup(func() { r.Close() })
	return r, sink
}

type staticSource struct{}

func (staticSource) GroupWeights(uint64, string) ([]alias.Group, error) {
	return []alias.Group{{ID: "Europe/Berlin", Weight: 0.6}, {ID: "Europe/Paris", Weight: 0.4}}, nil
}

func (staticSource) SiteWeights(_ uint64, group string) ([]alias.Site, error) {
	switch group {
	case "Europe/Berlin":
		return []alias.Site{{ID: 10, Weight: 1}, {ID: 11, Weight: 3}}, nil
	case "Europe/Paris":
		return []alias.Site{{ID: 20, Weight: 2}, {ID: 21, Weight: 2}, {ID: 22, Weight: 1}}, nil
	}
	return nil, fmt.Errorf("unknown group %q", group)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.Run.ManifestFingerprint = "abc"
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestRun_Lifecycle(t *testing.T) {
	cfg := testConfig(t, "")
	auditor := &testutil.MemoryAuditor{}
	r, err := New(cfg, WithSinks(testutil.NewMemorySink()), WithAuditors(auditor), WithProvenance("host-a", "linux/arm64"))
	require.NoError(t, err)

	_, err = r.Hurdle(7, 0.5)
	assert.ErrorIs(t, err, ErrNotStarted)

	require.NoError(t, r.Start())
	require.NoError(t, r.Start())
	entries := auditor.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, ir.Algorithm, entries[0].Algorithm)
	assert.Equal(t, "host-a", entries[0].Hostname)
	assert.Equal(t, "linux/arm64", entries[0].Platform)
	assert.Equal(t, r.Identity(), entries[0].Identity)
	assert.Equal(t, "94a511f6f6b3a477008bea21702d204a2d12284252f931a246ecdde6a1e71e80", r.Deriver().Master().Hex())

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	_, err = r.Hurdle(7, 0.5)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, r.Start(), ErrClosed)
}

func TestHurdle_Regression(t *testing.T) {
	r, sink := memoryRun(t, testConfig(t, ""))

	res, err := r.Hurdle(7, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 0.42631625006892004, res.U)
	assert.True(t, res.IsMulti)
	assert.False(t, res.Deterministic)

	ev := res.Event
	assert.Equal(t, ModuleHurdle, ev.Module)
	assert.Equal(t, "mlr:1A|hurdle|7", ev.SubstreamLabel)
	assert.Equal(t, uint64(1206108442436044267), ev.CounterBeforeHi)
	assert.Equal(t, uint64(13000630965787451573), ev.CounterBeforeLo)
	assert.Equal(t, uint64(13000630965787451574), ev.CounterAfterLo)
	assert.Equal(t, uint32(1), ev.Blocks)
	assert.Equal(t, uint64(1), ev.Draws)
	assert.Equal(t, ir.Float(0.5), ev.Payload["pi"])
	assert.Equal(t, ir.Bool(true), ev.Payload["is_multi"])

	// a lower probability flips the outcome with the same uniform
	res, err = r.Hurdle(7, 0.4)
	require.NoError(t, err)
	assert.Equal(t, 0.42631625006892004, res.U)
	assert.False(t, res.IsMulti)

	assert.Len(t, sink.Events(), 2)
}

func TestHurdle_DeterministicProbabilities(t *testing.T) {
	r, _ := memoryRun(t, testConfig(t, ""))

	tests := []struct {
		p     float64
		multi bool
	}{
		{0, false},
		{1, true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.p), func(t *testing.T) {
			res, err := r.Hurdle(9, tt.p)
			require.NoError(t, err)
			assert.True(t, res.Deterministic)
			assert.Equal(t, tt.multi, res.IsMulti)
			assert.Equal(t, uint32(0), res.Event.Blocks)
			assert.Equal(t, uint64(0), res.Event.Draws)
			assert.Equal(t, res.Event.CounterBeforeLo, res.Event.CounterAfterLo)
			assert.NotContains(t, res.Event.Payload, "u")
		})
	}
}

func TestHurdle_RejectsBadProbability(t *testing.T) {
	r, sink := memoryRun(t, testConfig(t, ""))
	for _, p := range []float64{-0.1, 1.5} {
		_, err := r.Hurdle(7, p)
		assert.Error(t, err, "p=%v", p)
	}
	assert.Empty(t, sink.Events())
}

func TestSelectCountries_Regression(t *testing.T) {
	r, sink := memoryRun(t, testConfig(t, ""))

	sel, err := r.SelectCountries(CountryRequest{
		MerchantID: 7,
		K:          1,
		Candidates: []gumbel.Candidate{{ID: "A", Weight: 0.7}, {ID: "B", Weight: 0.3}},
	})
	require.NoError(t, err)
	assert.Equal(t, gumbel.OutcomeOK, sel.Outcome)
	assert.Equal(t, []string{"B"}, sel.Countries())

	// selected-only logging by default
	require.Len(t, sel.Events, 1)
	ev := sel.Events[0]
	assert.Equal(t, ModuleCountries, ev.Module)
	assert.Equal(t, "mlr:1A|gumbel_foreign|7|B", ev.SubstreamLabel)
	assert.Equal(t, uint64(15531181706157647450), ev.CounterBeforeHi)
	assert.Equal(t, uint64(9211724072727079928), ev.CounterBeforeLo)
	assert.Equal(t, ir.String("B"), ev.Payload["country_iso"])
	assert.Equal(t, ir.Int(1), ev.Payload["selection_order"])
	key, ok := ir.AsFloat(ev.Payload["key"])
	require.True(t, ok)
	assert.InDelta(t, 1.090759408116076, key, 1e-12)
	assert.Len(t, sink.Events(), 1)
}

func TestSelectCountries_LogAllCandidates(t *testing.T) {
	cfg := testConfig(t, `sampling:
  overrides:
    1A.gumbel_foreign:
      log_all_candidates: true
`)
	r, _ := memoryRun(t, cfg)

	sel, err := r.SelectCountries(CountryRequest{
		MerchantID: 7,
		K:          1,
		Candidates: []gumbel.Candidate{{ID: "A", Weight: 0.7}, {ID: "B", Weight: 0.3}, {ID: "Z", Weight: 0}},
	})
	require.NoError(t, err)
	require.Len(t, sel.Events, 3)

	// ranked order: B, A, then the ineligible Z without a key
	assert.Equal(t, ir.String("B"), sel.Events[0].Payload["country_iso"])
	assert.Equal(t, ir.String("A"), sel.Events[1].Payload["country_iso"])
	assert.Equal(t, ir.Bool(false), sel.Events[1].Payload["selected"])
	assert.NotContains(t, sel.Events[1].Payload, "selection_order")
	assert.Equal(t, ir.String("Z"), sel.Events[2].Payload["country_iso"])
	assert.NotContains(t, sel.Events[2].Payload, "key")
	assert.Equal(t, uint32(1), sel.Events[2].Blocks)
}

func TestSelectCountries_ZeroWeightDomainLogsEveryDraw(t *testing.T) {
	r, sink := memoryRun(t, testConfig(t, ""))

	sel, err := r.SelectCountries(CountryRequest{
		MerchantID: 10,
		K:          1,
		Candidates: []gumbel.Candidate{{ID: "DE", Weight: 0}, {ID: "FR", Weight: 0}},
	})
	require.NoError(t, err)
	assert.Equal(t, gumbel.OutcomeZeroWeightDomain, sel.Selection.Outcome)
	assert.Empty(t, sel.Countries())
	require.Len(t, sel.Events, 2)
	for _, ev := range sel.Events {
		assert.Equal(t, uint32(1), ev.Blocks)
		assert.Equal(t, ir.Bool(false), ev.Payload["selected"])
		assert.NotContains(t, ev.Payload, "key")
	}
	assert.Len(t, sink.Events(), 2)

	events, traces := sink.Events(), sink.Traces()
	_, err = recorder.Verify(events, traces)
	assert.NoError(t, err)
}

func TestSelectCountries_ExtremeWeightsRecord(t *testing.T) {
	cfg := testConfig(t, `sampling:
  defaults:
    log_all_candidates: true
`)
	r, sink := memoryRun(t, cfg)

	sel, err := r.SelectCountries(CountryRequest{
		MerchantID: 21,
		K:          1,
		Candidates: []gumbel.Candidate{{ID: "A", Weight: 1e308}, {ID: "B", Weight: 1e308}, {ID: "C", Weight: 5e-324}},
	})
	require.NoError(t, err)
	require.Len(t, sel.Events, 3)
	assert.Len(t, sink.Events(), 3)
	assert.Equal(t, 3, r.Trace().Len())
	for _, ev := range sel.Events {
		_, err := ev.MarshalLine()
		assert.NoError(t, err)
	}
}

func TestSelectCountries_FailOnDegrade(t *testing.T) {
	cfg := testConfig(t, `sampling:
  defaults:
    fail_on_degrade: true
`)
	r, sink := memoryRun(t, cfg)

	_, err := r.SelectCountries(CountryRequest{
		MerchantID: 12,
		K:          3,
		Candidates: []gumbel.Candidate{{ID: "A", Weight: 1}, {ID: "B", Weight: 1}},
	})
	require.Error(t, err)
	assert.True(t, rng.IsCode(err, rng.ErrCodeDegraded))
	var re *rng.Error
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "12", re.Entity)
	assert.Empty(t, sink.Events())
}

func batchRequests(n int) []CountryRequest {
	reqs := make([]CountryRequest, n)
	for i := range reqs {
		reqs[i] = CountryRequest{
			MerchantID: uint64(i + 1),
			K:          2,
			Candidates: []gumbel.Candidate{
				{ID: "DE", Weight: 0.4},
				{ID: "FR", Weight: 0.3},
				{ID: "GB", Weight: 0.2},
				{ID: "IT", Weight: 0.1},
			},
		}
	}
	return reqs
}

func TestSelectCountriesBatch_MatchesSerial(t *testing.T) {
	reqs := batchRequests(50)

	serial, serialSink := memoryRun(t, testConfig(t, "parallelism: 1\n"))
	for _, req := range reqs {
		_, err := serial.SelectCountries(req)
		require.NoError(t, err)
	}

	batch, batchSink := memoryRun(t, testConfig(t, "parallelism: 8\n"))
	sels, err := batch.SelectCountriesBatch(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, sels, len(reqs))
	for i, s := range sels {
		assert.Equal(t, reqs[i].MerchantID, s.MerchantID)
		assert.Len(t, s.Countries(), 2)
	}

	assert.Equal(t, serialSink.Events(), batchSink.Events())
	assert.Equal(t, serialSink.Traces(), batchSink.Traces())
}

func TestSelectCountriesBatch_Cancelled(t *testing.T) {
	r, sink := memoryRun(t, testConfig(t, ""))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.SelectCountriesBatch(ctx, batchRequests(10))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, sink.Events())
}

func TestSelectCountriesBatch_ErrorRecordsNothing(t *testing.T) {
	r, sink := memoryRun(t, testConfig(t, ""))
	reqs := batchRequests(10)
	reqs[6].Candidates[1].Weight = -1

	_, err := r.SelectCountriesBatch(context.Background(), reqs)
	require.Error(t, err)
	assert.True(t, rng.IsCode(err, rng.ErrCodeGumbelWeightInvalid))
	assert.Contains(t, err.Error(), "merchant 7")
	assert.Empty(t, sink.Events())
}

func TestJitter_Regression(t *testing.T) {
	r, _ := memoryRun(t, testConfig(t, ""))

	res, err := r.Jitter(7, "DE", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 0.5430282973236223, res.ULon)
	assert.Equal(t, 0.47252713821032855, res.ULat)
	assert.Equal(t, "mlr:1B|in_cell_jitter|7|DE|1|1", res.Event.SubstreamLabel)
	assert.Equal(t, uint64(3086041272460704067), res.Event.CounterBeforeHi)
	assert.Equal(t, uint64(1532302319143547099), res.Event.CounterBeforeLo)
	assert.Equal(t, uint64(2), res.Event.Draws)
	assert.Equal(t, uint32(1), res.Event.Blocks)

	next, err := r.Jitter(7, "DE", 1, 2)
	require.NoError(t, err)
	assert.NotEqual(t, res.ULon, next.ULon)

	_, err = r.Jitter(7, "DE", 1, 0)
	assert.Error(t, err)
}

func TestRoute_Regression(t *testing.T) {
	r, sink := memoryRun(t, testConfig(t, ""), WithWeightSource(staticSource{}))

	tests := []struct {
		seq   uint64
		group string
		gu    float64
		site  uint64
		su    float64
	}{
		{0, "Europe/Paris", 0.6313925465202342, 22, 0.7122476542098909},
		{1, "Europe/Paris", 0.6024965365091132, 21, 0.4800361730499275},
		{2, "Europe/Berlin", 0.2852506591004552, 10, 0.1914628438026017},
	}
	for _, tt := range tests {
		res, err := r.Route(1, "2024-03-01", tt.seq)
		require.NoError(t, err)
		assert.Equal(t, tt.group, res.GroupID, "seq %d", tt.seq)
		assert.Equal(t, tt.gu, res.GroupDraw.U, "seq %d", tt.seq)
		assert.Equal(t, tt.site, res.SiteID, "seq %d", tt.seq)
		assert.Equal(t, tt.su, res.SiteDraw.U, "seq %d", tt.seq)

		assert.Equal(t, ir.String(tt.group), res.SiteEvent.Payload["tz_group_id"])
		assert.Equal(t, ir.Uint(tt.site), res.SiteEvent.Payload["site_id"])
		assert.NotContains(t, res.GroupEvent.Payload, "site_id")
	}
	assert.Len(t, sink.Events(), 6)

	groups, sites := r.CacheStats()
	assert.Equal(t, 1, groups.Tables)
	assert.Equal(t, 2, sites.Tables)
}

func TestRoute_RequiresWeightSource(t *testing.T) {
	r, _ := memoryRun(t, testConfig(t, ""))
	_, err := r.Route(1, "2024-03-01", 0)
	assert.ErrorIs(t, err, ErrNoWeightSource)
}

// workload drives every segment operation once.
func workload(t *testing.T, r *Run) {
	t.Helper()
	for m := uint64(1); m <= 5; m++ {
		_, err := r.Hurdle(m, 0.3)
		require.NoError(t, err)
		_, err = r.Jitter(m, "DE", 1, 1)
		require.NoError(t, err)
		_, err = r.Route(m, "2024-03-01", 0)
		require.NoError(t, err)
	}
	_, err := r.SelectCountriesBatch(context.Background(), batchRequests(5))
	require.NoError(t, err)
}

func readEvents(t *testing.T, root string) []ir.RngEvent {
	t.Helper()
	var all []ir.RngEvent
	for _, module := range []string{ModuleHurdle, ModuleCountries, ModuleJitter, ModuleRouting} {
		f, err := os.Open(recorder.EventsPath(root, "run-1", module))
		require.NoError(t, err)
		events, err := recorder.ReadEvents(f)
		f.Close()
		require.NoError(t, err)
		all = append(all, events...)
	}
	return all
}

func readTraces(t *testing.T, root string) []ir.TraceRow {
	t.Helper()
	f, err := os.Open(recorder.TracePath(root, "run-1"))
	require.NoError(t, err)
	defer f.Close()
	rows, err := recorder.ReadTraces(f)
	require.NoError(t, err)
	return rows
}

func TestRun_ReplayIsIdempotent(t *testing.T) {
	db := filepath.Join(t.TempDir(), "rng.db")

	replay := func(start time.Time) (string, string) {
		cfg := testConfig(t, "")
		cfg.Run.Database = db
		r, err := New(cfg,
			WithClock(testutil.NewStepClockAt(start, time.Second)),
			WithWeightSource(staticSource{}),
		)
		require.NoError(t, err)
		require.NoError(t, r.Start())
		workload(t, r)
		require.NoError(t, r.Close())

		events := readEvents(t, cfg.Run.OutputRoot)
		traces := readTraces(t, cfg.Run.OutputRoot)
		_, err = recorder.Verify(events, traces)
		require.NoError(t, err)

		ed, err := recorder.DigestEvents(events)
		require.NoError(t, err)
		td, err := recorder.DigestTraces(traces)
		require.NoError(t, err)
		return ed, td
	}

	e1, t1 := replay(testutil.Epoch)
	e2, t2 := replay(testutil.Epoch.Add(48 * time.Hour))
	assert.Equal(t, e1, e2)
	assert.Equal(t, t1, t2)

	s, err := store.Open(db)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	audits, err := s.ReadAudit(ctx)
	require.NoError(t, err)
	assert.Len(t, audits, 1)

	stored, err := s.ReadEvents(ctx, "run-1")
	require.NoError(t, err)
	// 5 hurdles, 5 jitters, 10 routing picks, 10 selected countries
	assert.Len(t, stored, 30)

	sum, err := s.GetRunSummary(ctx, "run-1")
	require.NoError(t, err)
	assert.True(t, sum.Complete)
}
