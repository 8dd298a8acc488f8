package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/roach88/mlrng/internal/ir"
	"github.com/roach88/mlrng/internal/recorder"
	"github.com/roach88/mlrng/internal/rng"
)

// EnsureAudit inserts the audit row for ae's run key unless one exists.
// Returns true if a row was written. An existing row recording a different
// algorithm is E_AUDIT_MISMATCH.
func (s *Store) EnsureAudit(ctx context.Context, ae ir.AuditEntry) (bool, error) {
	record, err := ae.MarshalLine()
	if err != nil {
		return false, fmt.Errorf("ensure audit: %w", err)
	}

	id := ae.Identity
	seed := strconv.FormatUint(id.Seed, 10)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO rng_audit
		(run_id, seed, parameter_hash, manifest_fingerprint, algorithm, build_commit, hostname, platform, record)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		id.RunID,
		seed,
		id.ParameterHash,
		id.ManifestFingerprint,
		ae.Algorithm,
		ae.BuildCommit,
		ae.Hostname,
		ae.Platform,
		string(record),
	)
	if err != nil {
		return false, fmt.Errorf("ensure audit: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return true, nil
	}

	var existing ir.AuditEntry
	existing.Identity = id
	err = s.db.QueryRowContext(ctx, `
		SELECT algorithm, build_commit, hostname, platform
		FROM rng_audit
		WHERE run_id = ? AND seed = ? AND parameter_hash = ? AND manifest_fingerprint = ?
	`, id.RunID, seed, id.ParameterHash, id.ManifestFingerprint).Scan(
		&existing.Algorithm, &existing.BuildCommit, &existing.Hostname, &existing.Platform,
	)
	if err != nil {
		return false, fmt.Errorf("ensure audit: read existing: %w", err)
	}
	if existing.Algorithm != ae.Algorithm {
		return false, recorder.NewAuditMismatchError(existing, ae)
	}
	return false, nil
}

// WriteEvent inserts ev. Rewriting an event with the same key and the same
// content is a no-op; different content is E_EVENT_MISMATCH.
func (s *Store) WriteEvent(ctx context.Context, ev ir.RngEvent) error {
	record, err := ev.MarshalLine()
	if err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	hash, err := ir.EventContentHash(ev)
	if err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	before := rng.Counter{Hi: ev.CounterBeforeHi, Lo: ev.CounterBeforeLo}.String()
	after := rng.Counter{Hi: ev.CounterAfterHi, Lo: ev.CounterAfterLo}.String()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO rng_events
		(run_id, module, substream_label, counter_before, counter_after, draws, blocks, content_hash, record)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		ev.Identity.RunID,
		ev.Module,
		ev.SubstreamLabel,
		before,
		after,
		strconv.FormatUint(ev.Draws, 10),
		int64(ev.Blocks),
		hash,
		string(record),
	)
	if err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	var stored string
	err = s.db.QueryRowContext(ctx, `
		SELECT content_hash FROM rng_events
		WHERE run_id = ? AND module = ? AND substream_label = ? AND counter_before = ?
	`, ev.Identity.RunID, ev.Module, ev.SubstreamLabel, before).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("write event: insert ignored but no row found for %s", ev.SubstreamLabel)
	}
	if err != nil {
		return fmt.Errorf("write event: read existing: %w", err)
	}
	if stored != hash {
		return &rng.Error{
			Code:      rng.ErrCodeEventMismatch,
			Message:   "replayed event differs from the stored event",
			Substream: ev.SubstreamLabel,
			Entity:    ev.Module,
			Details: map[string]string{
				"counter_before": before,
				"stored":         stored,
				"replayed":       hash,
			},
		}
	}
	return nil
}

// WriteTrace upserts the latest running totals for tr's substream.
func (s *Store) WriteTrace(ctx context.Context, tr ir.TraceRow) error {
	record, err := tr.MarshalLine()
	if err != nil {
		return fmt.Errorf("write trace: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rng_trace
		(run_id, module, substream_label, draws_total, blocks_total, events_total, record)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, module, substream_label) DO UPDATE SET
			draws_total = excluded.draws_total,
			blocks_total = excluded.blocks_total,
			events_total = excluded.events_total,
			record = excluded.record
	`,
		tr.Identity.RunID,
		tr.Module,
		tr.SubstreamLabel,
		strconv.FormatUint(tr.DrawsTotal, 10),
		strconv.FormatUint(tr.BlocksTotal, 10),
		strconv.FormatUint(tr.EventsTotal, 10),
		string(record),
	)
	if err != nil {
		return fmt.Errorf("write trace: %w", err)
	}
	return nil
}

// Sink binds the store to ctx so it can serve as a recorder sink and auditor.
type Sink struct {
	s   *Store
	ctx context.Context
}

// Sink returns a recorder sink writing through s with ctx.
func (s *Store) Sink(ctx context.Context) *Sink {
	return &Sink{s: s, ctx: ctx}
}

// WriteEvent implements recorder.EventSink.
func (k *Sink) WriteEvent(ev ir.RngEvent) error {
	return k.s.WriteEvent(k.ctx, ev)
}

// WriteTrace implements recorder.TraceSink.
func (k *Sink) WriteTrace(tr ir.TraceRow) error {
	return k.s.WriteTrace(k.ctx, tr)
}

// EnsureAudit implements recorder.Auditor.
func (k *Sink) EnsureAudit(ae ir.AuditEntry) (bool, error) {
	return k.s.EnsureAudit(k.ctx, ae)
}

var (
	_ recorder.Sink    = (*Sink)(nil)
	_ recorder.Auditor = (*Sink)(nil)
)
