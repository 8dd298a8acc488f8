package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/roach88/mlrng/internal/ir"
)

// ModuleSummary aggregates one module of a run.
type ModuleSummary struct {
	Module     string
	Events     int64
	Substreams int64
	Blocks     int64
	Draws      uint64
}

// RunSummary describes what a run has persisted.
type RunSummary struct {
	RunID   string
	Audit   []ir.AuditEntry
	Modules []ModuleSummary
	// Complete is true when an audit row exists and every substream with
	// events has a trace row.
	Complete bool
	// Untraced counts substreams that have events but no trace row.
	Untraced int64
}

// GetRunSummary summarizes runID for the audit command and for replay checks.
func (s *Store) GetRunSummary(ctx context.Context, runID string) (RunSummary, error) {
	sum := RunSummary{RunID: runID}

	audit, err := s.ReadAudit(ctx)
	if err != nil {
		return sum, fmt.Errorf("get run summary: %w", err)
	}
	for _, ae := range audit {
		if ae.Identity.RunID == runID {
			sum.Audit = append(sum.Audit, ae)
		}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT module, COUNT(*), COUNT(DISTINCT substream_label), SUM(blocks)
		FROM rng_events
		WHERE run_id = ?
		GROUP BY module
		ORDER BY module COLLATE BINARY
	`, runID)
	if err != nil {
		return sum, fmt.Errorf("get run summary: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var m ModuleSummary
		if err := rows.Scan(&m.Module, &m.Events, &m.Substreams, &m.Blocks); err != nil {
			return sum, fmt.Errorf("get run summary: %w", err)
		}
		sum.Modules = append(sum.Modules, m)
	}
	if err := rows.Err(); err != nil {
		return sum, fmt.Errorf("get run summary: %w", err)
	}

	// draws are TEXT to hold the full uint64 range, so sum in Go
	for i := range sum.Modules {
		draws, err := s.sumDraws(ctx, runID, sum.Modules[i].Module)
		if err != nil {
			return sum, fmt.Errorf("get run summary: %w", err)
		}
		sum.Modules[i].Draws = draws
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM (
			SELECT DISTINCT e.module, e.substream_label
			FROM rng_events e
			LEFT JOIN rng_trace t
				ON t.run_id = e.run_id AND t.module = e.module AND t.substream_label = e.substream_label
			WHERE e.run_id = ? AND t.run_id IS NULL
		)
	`, runID).Scan(&sum.Untraced)
	if err != nil {
		return sum, fmt.Errorf("get run summary: %w", err)
	}

	sum.Complete = len(sum.Audit) > 0 && sum.Untraced == 0
	return sum, nil
}

func (s *Store) sumDraws(ctx context.Context, runID, module string) (uint64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT draws FROM rng_events WHERE run_id = ? AND module = ?
	`, runID, module)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var total uint64
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return 0, err
		}
		n, err := strconv.ParseUint(d, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("draws %q: %w", d, err)
		}
		if total+n < total {
			total = ^uint64(0)
		} else {
			total += n
		}
	}
	return total, rows.Err()
}
