package testutil

import (
	"errors"
	"sync"

	"github.com/roach88/mlrng/internal/ir"
)

// MemorySink captures events and trace rows in memory.
//
// Implements recorder.Sink. Set FailAfter to make writes fail once that
// many events have been accepted.
type MemorySink struct {
	mu        sync.Mutex
	events    []ir.RngEvent
	traces    []ir.TraceRow
	FailAfter int
}

// ErrSinkFull is returned once a MemorySink reaches FailAfter.
var ErrSinkFull = errors.New("memory sink full")

// NewMemorySink creates an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// WriteEvent records ev.
func (s *MemorySink) WriteEvent(ev ir.RngEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailAfter > 0 && len(s.events) >= s.FailAfter {
		return ErrSinkFull
	}
	s.events = append(s.events, ev)
	return nil
}

// WriteTrace records tr.
func (s *MemorySink) WriteTrace(tr ir.TraceRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.traces = append(s.traces, tr)
	return nil
}

// Events returns a copy of the captured events in write order.
func (s *MemorySink) Events() []ir.RngEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ir.RngEvent(nil), s.events...)
}

// Traces returns a copy of the captured trace rows in write order.
func (s *MemorySink) Traces() []ir.TraceRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ir.TraceRow(nil), s.traces...)
}

// MemoryAuditor keeps audit entries in memory with the same write-once
// semantics as the file and SQLite auditors, minus the mismatch check.
type MemoryAuditor struct {
	mu      sync.Mutex
	entries []ir.AuditEntry
}

// EnsureAudit appends ae unless an entry for the same run exists.
func (a *MemoryAuditor) EnsureAudit(ae ir.AuditEntry) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range a.entries {
		if e.SameRun(ae) {
			return false, nil
		}
	}
	a.entries = append(a.entries, ae)
	return true, nil
}

// Entries returns a copy of the stored entries.
func (a *MemoryAuditor) Entries() []ir.AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]ir.AuditEntry(nil), a.entries...)
}
