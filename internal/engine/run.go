package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"

	"github.com/roach88/mlrng/internal/alias"
	"github.com/roach88/mlrng/internal/config"
	"github.com/roach88/mlrng/internal/ir"
	"github.com/roach88/mlrng/internal/recorder"
	"github.com/roach88/mlrng/internal/rng"
	"github.com/roach88/mlrng/internal/store"
	"github.com/roach88/mlrng/internal/substream"
)

var (
	// ErrNotStarted is returned by segment operations called before Start.
	ErrNotStarted = errors.New("run not started")

	// ErrClosed is returned by operations called after Close.
	ErrClosed = errors.New("run closed")

	// ErrNoWeightSource is returned by Route when the run has no WeightSource.
	ErrNoWeightSource = errors.New("routing requires a weight source")
)

// Run is the per-run context shared by every segment operation.
//
// Thread-safety model:
//   - segment operations: safe from any goroutine (recording is serialized)
//   - Start, Close: call once each, from one goroutine
type Run struct {
	cfg      *config.Config
	identity ir.RunIdentity
	deriver  substream.Deriver
	clock    recorder.Clock

	sinks    []recorder.Sink
	auditors []recorder.Auditor
	source   alias.WeightSource
	hostname string
	platform string

	rec    *recorder.Recorder
	router *alias.Router
	files  *recorder.JSONLWriter
	db     *store.Store

	mu      sync.Mutex
	started bool
	closed  bool
}

// Option configures a Run.
type Option func(*Run)

// WithClock sets the clock that stamps event timestamps.
// Default: recorder.SystemClock.
func WithClock(c recorder.Clock) Option {
	return func(r *Run) {
		r.clock = c
	}
}

// WithSinks replaces the JSONL event and trace writers.
// A configured database is still written.
func WithSinks(sinks ...recorder.Sink) Option {
	return func(r *Run) {
		r.sinks = sinks
	}
}

// WithAuditors replaces the JSONL audit log.
// A configured database is still written.
func WithAuditors(auditors ...recorder.Auditor) Option {
	return func(r *Run) {
		r.auditors = auditors
	}
}

// WithWeightSource enables Route with weights from src.
func WithWeightSource(src alias.WeightSource) Option {
	return func(r *Run) {
		r.source = src
	}
}

// WithProvenance overrides the hostname and platform recorded in the audit row.
func WithProvenance(hostname, platform string) Option {
	return func(r *Run) {
		r.hostname = hostname
		r.platform = platform
	}
}

// New creates a Run for cfg. Nothing is written until Start.
func New(cfg *config.Config, opts ...Option) (*Run, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d, err := substream.NewDeriverFor(cfg.Run.MasterTag, cfg.Run.ManifestFingerprint, cfg.Run.Seed)
	if err != nil {
		return nil, fmt.Errorf("master material: %w", err)
	}

	r := &Run{
		cfg:      cfg,
		identity: cfg.Run.Identity(),
		deriver:  d,
		platform: runtime.GOOS + "/" + runtime.GOARCH,
	}
	if host, err := os.Hostname(); err == nil {
		r.hostname = host
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.sinks == nil {
		r.files = recorder.NewJSONLWriter(cfg.Run.OutputRoot)
		r.sinks = []recorder.Sink{r.files}
	}
	if r.auditors == nil {
		r.auditors = []recorder.Auditor{recorder.NewAuditLog(cfg.Run.OutputRoot)}
	}
	if cfg.Run.Database != "" {
		db, err := store.Open(cfg.Run.Database)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		r.db = db
		sink := db.Sink(context.Background())
		r.sinks = append(r.sinks, sink)
		r.auditors = append(r.auditors, sink)
	}

	r.rec = recorder.New(r.identity, r.clock, r.sinks...)

	if r.source != nil {
		router, err := alias.NewRouter(d, r.source, cfg.AliasCache.GroupTables, cfg.AliasCache.SiteTables)
		if err != nil {
			r.closeStorage()
			return nil, fmt.Errorf("router: %w", err)
		}
		r.router = router
	}

	slog.Debug("run created",
		"run_id", r.identity.RunID,
		"seed", r.identity.Seed,
		"master", d.Master().Hex(),
		"sinks", len(r.sinks),
		"auditors", len(r.auditors),
	)
	return r, nil
}

// Identity returns the run identity stamped on every record.
func (r *Run) Identity() ir.RunIdentity {
	return r.identity
}

// Deriver returns the run's substream deriver.
func (r *Run) Deriver() substream.Deriver {
	return r.deriver
}

// Trace returns the running per-substream totals.
func (r *Run) Trace() *recorder.TraceAccumulator {
	return r.rec.Trace()
}

// Start writes the audit row to every auditor. Replays of the same run key
// leave existing rows untouched. Calling Start twice is a no-op.
func (r *Run) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if r.started {
		return nil
	}

	entry := ir.AuditEntry{
		Identity:    r.identity,
		Algorithm:   ir.Algorithm,
		BuildCommit: r.cfg.Run.BuildCommit,
		Hostname:    r.hostname,
		Platform:    r.platform,
	}
	for _, a := range r.auditors {
		added, err := a.EnsureAudit(entry)
		if err != nil {
			return fmt.Errorf("start run %s: %w", r.identity.RunID, err)
		}
		if added {
			slog.Info("audit row written", "run_id", r.identity.RunID, "seed", r.identity.Seed)
		} else {
			slog.Debug("audit row exists", "run_id", r.identity.RunID)
		}
	}

	r.started = true
	return nil
}

// Close flushes and closes the run's own writers. Sinks passed through
// WithSinks are left to the caller.
func (r *Run) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	err := r.closeStorage()
	if r.router != nil {
		groups, sites := r.router.CacheStats()
		slog.Debug("alias cache",
			"group_tables", groups.Tables, "group_hits", groups.Hits, "group_misses", groups.Misses,
			"site_tables", sites.Tables, "site_hits", sites.Hits, "site_misses", sites.Misses,
		)
	}
	slog.Info("run closed", "run_id", r.identity.RunID, "substreams", r.rec.Trace().Len())
	return err
}

func (r *Run) closeStorage() error {
	var errs []error
	if r.files != nil {
		if err := r.files.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close logs: %w", err))
		}
	}
	if r.db != nil {
		if err := r.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	return errors.Join(errs...)
}

// ready reports whether segment operations may run.
func (r *Run) ready() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.closed:
		return ErrClosed
	case !r.started:
		return ErrNotStarted
	}
	return nil
}

// record writes one event through the recorder.
func (r *Run) record(module, label string, env rng.Envelope, payload ir.Object) (ir.RngEvent, error) {
	ev, _, err := r.rec.Record(module, label, env, payload)
	if err != nil {
		return ir.RngEvent{}, err
	}
	return ev, nil
}
