package recorder

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/roach88/mlrng/internal/ir"
	"github.com/roach88/mlrng/internal/rng"
)

// AuditLog is the append-only JSONL audit file. It holds at most one row
// per run key (run_id, seed, parameter_hash, manifest_fingerprint).
type AuditLog struct {
	path string
	mu   sync.Mutex
}

// NewAuditLog opens the audit log under root. The file is created on the
// first append.
func NewAuditLog(root string) *AuditLog {
	return &AuditLog{path: AuditPath(root)}
}

// Path returns the audit file path.
func (a *AuditLog) Path() string {
	return a.path
}

// EnsureAudit appends ae unless a row for the same run key exists.
// An existing row with a different algorithm is E_AUDIT_MISMATCH.
func (a *AuditLog) EnsureAudit(ae ir.AuditEntry) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	existing, err := a.readLocked()
	if err != nil {
		return false, err
	}
	for _, e := range existing {
		if !e.SameRun(ae) {
			continue
		}
		if e.Algorithm != ae.Algorithm {
			return false, NewAuditMismatchError(e, ae)
		}
		return false, nil
	}

	line, err := ae.MarshalLine()
	if err != nil {
		return false, fmt.Errorf("marshal audit entry: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		return false, fmt.Errorf("create audit dir: %w", err)
	}
	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return false, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return false, fmt.Errorf("append audit log: %w", err)
	}
	return true, f.Sync()
}

// Entries returns every audit row in file order.
func (a *AuditLog) Entries() ([]ir.AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.readLocked()
}

func (a *AuditLog) readLocked() ([]ir.AuditEntry, error) {
	f, err := os.Open(a.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()
	return ReadAudit(f)
}

// NewAuditMismatchError reports a conflicting audit row for one run key.
func NewAuditMismatchError(existing, attempted ir.AuditEntry) *rng.Error {
	return &rng.Error{
		Code:    rng.ErrCodeAuditMismatch,
		Message: "audit row for this run records a different algorithm",
		Entity:  existing.Identity.RunID,
		Details: map[string]string{
			"existing":  existing.Algorithm,
			"attempted": attempted.Algorithm,
		},
	}
}

// ReadAudit parses an audit JSONL stream.
func ReadAudit(r io.Reader) ([]ir.AuditEntry, error) {
	var out []ir.AuditEntry
	err := scanLines(r, func(n int, line []byte) error {
		ae, err := ir.ParseAuditEntry(line)
		if err != nil {
			return fmt.Errorf("line %d: %w", n, err)
		}
		out = append(out, ae)
		return nil
	})
	return out, err
}

// ReadEvents parses an event JSONL stream.
func ReadEvents(r io.Reader) ([]ir.RngEvent, error) {
	var out []ir.RngEvent
	err := scanLines(r, func(n int, line []byte) error {
		ev, err := ir.ParseEvent(line)
		if err != nil {
			return fmt.Errorf("line %d: %w", n, err)
		}
		out = append(out, ev)
		return nil
	})
	return out, err
}

// ReadTraces parses a trace JSONL stream.
func ReadTraces(r io.Reader) ([]ir.TraceRow, error) {
	var out []ir.TraceRow
	err := scanLines(r, func(n int, line []byte) error {
		tr, err := ir.ParseTraceRow(line)
		if err != nil {
			return fmt.Errorf("line %d: %w", n, err)
		}
		out = append(out, tr)
		return nil
	})
	return out, err
}

const maxLine = 1 << 20

func scanLines(r io.Reader, fn func(n int, line []byte) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLine)
	n := 0
	for sc.Scan() {
		n++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := fn(n, line); err != nil {
			return err
		}
	}
	return sc.Err()
}
