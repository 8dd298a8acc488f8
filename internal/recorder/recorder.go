package recorder

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/mlrng/internal/ir"
	"github.com/roach88/mlrng/internal/rng"
)

// Clock supplies event timestamps. Timestamps are descriptive only and
// never feed a digest.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// EventSink persists events.
type EventSink interface {
	WriteEvent(ev ir.RngEvent) error
}

// TraceSink persists trace rows.
type TraceSink interface {
	WriteTrace(tr ir.TraceRow) error
}

// Sink persists both events and trace rows.
type Sink interface {
	EventSink
	TraceSink
}

// Auditor persists the once-per-run audit entry. EnsureAudit reports
// whether a new row was written.
type Auditor interface {
	EnsureAudit(ae ir.AuditEntry) (bool, error)
}

// Recorder emits events for one run.
type Recorder struct {
	mu       sync.Mutex
	identity ir.RunIdentity
	clock    Clock
	trace    *TraceAccumulator
	sinks    []Sink
}

// New creates a recorder for identity. A nil clock uses SystemClock.
func New(identity ir.RunIdentity, clock Clock, sinks ...Sink) *Recorder {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Recorder{
		identity: identity,
		clock:    clock,
		trace:    NewTraceAccumulator(),
		sinks:    sinks,
	}
}

// Identity returns the run identity stamped on every event.
func (r *Recorder) Identity() ir.RunIdentity {
	return r.identity
}

// Trace returns the recorder's trace accumulator.
func (r *Recorder) Trace() *TraceAccumulator {
	return r.trace
}

// Record validates env, builds the event, updates the trace and writes
// both to every sink. An invalid envelope is a fatal E_RNG_ENVELOPE and
// nothing is written.
func (r *Recorder) Record(module, label string, env rng.Envelope, payload ir.Object) (ir.RngEvent, ir.TraceRow, error) {
	if err := env.Check(); err != nil {
		return ir.RngEvent{}, ir.TraceRow{}, NewEnvelopeError(label, env, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ev := ir.RngEvent{
		TsUTC:           ir.FormatTimestamp(r.clock.Now()),
		Identity:        r.identity,
		Module:          module,
		SubstreamLabel:  label,
		CounterBeforeHi: env.Before.Hi,
		CounterBeforeLo: env.Before.Lo,
		CounterAfterHi:  env.After.Hi,
		CounterAfterLo:  env.After.Lo,
		Draws:           env.Draws,
		Blocks:          env.Blocks,
		Payload:         payload,
	}
	// an event that cannot be serialized leaves the trace untouched
	if _, err := ev.MarshalLine(); err != nil {
		return ir.RngEvent{}, ir.TraceRow{}, fmt.Errorf("record %s %s: invalid payload: %w", module, label, err)
	}

	row := r.trace.Append(ev)
	for _, s := range r.sinks {
		if err := s.WriteEvent(ev); err != nil {
			return ev, row, fmt.Errorf("record %s: write event: %w", module, err)
		}
		if err := s.WriteTrace(row); err != nil {
			return ev, row, fmt.Errorf("record %s: write trace: %w", module, err)
		}
	}
	return ev, row, nil
}

// NewEnvelopeError wraps an envelope check failure as E_RNG_ENVELOPE.
func NewEnvelopeError(label string, env rng.Envelope, cause error) error {
	re := rng.NewEnvelopeError(label, env)
	if cause != nil {
		var inner *rng.Error
		if errors.As(cause, &inner) {
			re.Details["cause"] = string(inner.Code)
		} else {
			re.Details["cause"] = cause.Error()
		}
	}
	return re
}
