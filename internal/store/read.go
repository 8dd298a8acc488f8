package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/mlrng/internal/ir"
)

// ReadEvents returns every event of runID, ordered by module, substream
// label and starting counter.
func (s *Store) ReadEvents(ctx context.Context, runID string) ([]ir.RngEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT record FROM rng_events
		WHERE run_id = ?
		ORDER BY module COLLATE BINARY, substream_label COLLATE BINARY, counter_before COLLATE BINARY
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	defer rows.Close()

	var events []ir.RngEvent
	err = scanRecords(rows, func(record []byte) error {
		ev, err := ir.ParseEvent(record)
		if err != nil {
			return err
		}
		events = append(events, ev)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return events, nil
}

// ReadTrace returns the latest trace row of every substream of runID,
// ordered by module and substream label.
func (s *Store) ReadTrace(ctx context.Context, runID string) ([]ir.TraceRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT record FROM rng_trace
		WHERE run_id = ?
		ORDER BY module COLLATE BINARY, substream_label COLLATE BINARY
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}
	defer rows.Close()

	var out []ir.TraceRow
	err = scanRecords(rows, func(record []byte) error {
		tr, err := ir.ParseTraceRow(record)
		if err != nil {
			return err
		}
		out = append(out, tr)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}
	return out, nil
}

// ReadAudit returns every audit row ordered by run key.
func (s *Store) ReadAudit(ctx context.Context) ([]ir.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT record FROM rng_audit
		ORDER BY run_id COLLATE BINARY, seed COLLATE BINARY,
			parameter_hash COLLATE BINARY, manifest_fingerprint COLLATE BINARY
	`)
	if err != nil {
		return nil, fmt.Errorf("read audit: %w", err)
	}
	defer rows.Close()

	var out []ir.AuditEntry
	err = scanRecords(rows, func(record []byte) error {
		ae, err := ir.ParseAuditEntry(record)
		if err != nil {
			return err
		}
		out = append(out, ae)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read audit: %w", err)
	}
	return out, nil
}

func scanRecords(rows *sql.Rows, fn func(record []byte) error) error {
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			return err
		}
		if err := fn([]byte(record)); err != nil {
			return err
		}
	}
	return rows.Err()
}
