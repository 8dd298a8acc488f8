// Package engine binds the sampling core to one run.
//
// A Run holds the run identity, the master material every substream derives
// from, the event recorder and the audit sinks. Segment operations (hurdle,
// country selection, in-cell jitter, arrival routing) open their substreams
// through the Run and record exactly one event per RNG consumption.
//
// ARCHITECTURE:
//
// Pure core, serialized writes:
// Sampling is pure given (master material, context fields). Only recording
// is stateful, and the recorder serializes every append. Batch operations
// compute in parallel and then record serially in request order, so the
// event log of a batch is identical for any parallelism.
//
// Lifecycle:
//  1. New validates the config and derives the master material
//  2. Start writes the audit row (write-once per run key)
//  3. Segment operations draw and record events
//  4. Close flushes the event and trace logs
//
// Replaying a run with the same config yields the same events, the same
// trace totals and no second audit row.
package engine
