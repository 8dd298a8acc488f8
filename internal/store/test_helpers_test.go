package store

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/roach88/mlrng/internal/ir"
)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var testIdentity = ir.RunIdentity{
	RunID:               "run-1",
	Seed:                18446744073709551615,
	ParameterHash:       strings.Repeat("ab", 32),
	ManifestFingerprint: strings.Repeat("cd", 32),
}

// createTestEvent creates an event with one block consumed at (hi, lo).
func createTestEvent(module, label string, hi, lo uint64) ir.RngEvent {
	return ir.RngEvent{
		TsUTC:           "2024-01-01T00:00:00.000000Z",
		Identity:        testIdentity,
		Module:          module,
		SubstreamLabel:  label,
		CounterBeforeHi: hi,
		CounterBeforeLo: lo,
		CounterAfterHi:  hi,
		CounterAfterLo:  lo + 1,
		Draws:           1,
		Blocks:          1,
		Payload:         ir.NewObject(ir.O("merchant_id", ir.Uint(7)), ir.O("u", ir.Float(0.125))),
	}
}

// createTestAudit creates an audit entry for testIdentity.
func createTestAudit() ir.AuditEntry {
	return ir.AuditEntry{
		Identity:    testIdentity,
		Algorithm:   ir.Algorithm,
		BuildCommit: "abc123",
		Hostname:    "host",
		Platform:    "linux/amd64",
	}
}
