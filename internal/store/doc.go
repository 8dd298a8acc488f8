// Package store provides SQLite-backed storage for RNG audit, event and
// trace records.
//
// The store mirrors the JSONL logs in queryable form:
//   - rng_audit: one row per run key, write-once
//   - rng_events: one row per draw, keyed by (run, module, substream,
//     counter_before)
//   - rng_trace: the latest running totals per (run, module, substream)
//
// # Idempotency
//
// Replaying a run writes the same events again. An event whose key already
// exists is accepted when its content hash (everything but ts_utc) matches
// and rejected with E_EVENT_MISMATCH otherwise. Audit rows follow the same
// rule keyed on the run identity, with the algorithm as the compared field.
//
// # Deterministic Query Results
//
// All queries order by key columns with COLLATE BINARY so results are
// identical across replays.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
