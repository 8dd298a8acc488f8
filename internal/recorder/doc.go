// Package recorder turns RNG envelopes into persisted records.
//
// A Recorder stamps each draw with the run identity and a wall-clock
// timestamp, checks its counter envelope, folds it into the running trace
// totals and hands the event and trace row to its sinks. Recording is
// single-writer: concurrent callers are serialized, so sampling can run in
// parallel while emission stays ordered.
//
// The JSONL layout is:
//
//	<root>/rng_events/run_id=<id>/module=<module>/events.jsonl
//	<root>/rng_trace/run_id=<id>/trace.jsonl
//	<root>/rng_audit/audit.jsonl
//
// Every line is canonical JSON with sorted keys.
package recorder
