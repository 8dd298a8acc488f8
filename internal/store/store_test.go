package store

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_ReopenKeepsSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rng.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "open %d", i)
		version, err := s.pragma("user_version")
		require.NoError(t, err)
		assert.Equal(t, "1", version)
		require.NoError(t, s.Close())
	}

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()
	for _, table := range []string{"rng_audit", "rng_events", "rng_trace"} {
		var name string
		err := s.DB().QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		assert.NoError(t, err, table)
	}
}

func TestOpen_InMemory(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	mode, err := s.pragma("journal_mode")
	require.NoError(t, err)
	assert.Equal(t, "memory", mode)

	var count int
	require.NoError(t, s.DB().QueryRow("SELECT COUNT(*) FROM rng_events").Scan(&count))
	assert.Zero(t, count)
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/rng.db")
	assert.Error(t, err)
}

func TestClose(t *testing.T) {
	assert.NoError(t, (&Store{}).Close())

	s, err := Open(filepath.Join(t.TempDir(), "rng.db"))
	require.NoError(t, err)
	assert.NoError(t, s.Close())
	assert.NotPanics(t, func() { _ = s.Close() })
}

func TestPragmas(t *testing.T) {
	s := createTestStore(t)

	mode, err := s.pragma("journal_mode")
	require.NoError(t, err)
	assert.Equal(t, "wal", mode)

	for _, p := range pragmas {
		if p.name == "" {
			continue
		}
		got, err := s.pragma(p.name)
		require.NoError(t, err)
		assert.Equal(t, p.value, got, p.name)
	}
}

func TestSchema_Columns(t *testing.T) {
	s := createTestStore(t)

	tests := map[string][]string{
		"rng_audit":  {"run_id", "seed", "parameter_hash", "manifest_fingerprint", "algorithm", "build_commit", "hostname", "platform", "record"},
		"rng_events": {"seq", "run_id", "module", "substream_label", "counter_before", "counter_after", "draws", "blocks", "content_hash", "record"},
		"rng_trace":  {"run_id", "module", "substream_label", "draws_total", "blocks_total", "events_total", "record"},
	}
	for table, want := range tests {
		assert.ElementsMatch(t, want, tableColumns(t, s.DB(), table), table)
	}
}

func TestSchema_Keys(t *testing.T) {
	tests := []struct {
		name   string
		insert string
	}{
		{"event counter", `INSERT INTO rng_events
			(run_id, module, substream_label, counter_before, counter_after, draws, blocks, content_hash, record)
			VALUES ('r', 'm', 's', '0000000000000000:0000000000000001', '0000000000000000:0000000000000002', '1', 1, 'h', '{}')`},
		{"audit run key", `INSERT INTO rng_audit
			(run_id, seed, parameter_hash, manifest_fingerprint, algorithm, build_commit, hostname, platform, record)
			VALUES ('r', '1', 'p', 'f', 'a', 'b', 'h', 'x', '{}')`},
		{"trace substream", `INSERT INTO rng_trace
			(run_id, module, substream_label, draws_total, blocks_total, events_total, record)
			VALUES ('r', 'm', 's', '1', '1', '1', '{}')`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := createTestStore(t)
			_, err := s.DB().Exec(tt.insert)
			require.NoError(t, err)
			_, err = s.DB().Exec(tt.insert)
			assert.Error(t, err, "duplicate key accepted")
		})
	}
}

func TestMigrate_FromV0(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rng.db")

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(schemaSQL)
	require.NoError(t, err)
	_, err = db.Exec("PRAGMA user_version = 0")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	version, err := s.pragma("user_version")
	require.NoError(t, err)
	assert.Equal(t, "1", version)
	assert.Contains(t, tableIndexes(t, s.DB(), "rng_events"), "idx_rng_events_run_module")
}

func tableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()
	rows, err := db.Query("SELECT name FROM pragma_table_info(?)", table)
	require.NoError(t, err)
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		cols = append(cols, name)
	}
	require.NoError(t, rows.Err())
	return cols
}

func tableIndexes(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()
	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='index' AND tbl_name=?", table)
	require.NoError(t, err)
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names = append(names, name)
	}
	require.NoError(t, rows.Err())
	return names
}
