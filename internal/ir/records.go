package ir

import (
	"fmt"
	"strconv"
	"time"
)

// TimestampLayout is the fixed UTC layout for ts_utc fields (microsecond precision).
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// FormatTimestamp renders t in UTC with TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// RunIdentity is the tuple that identifies one pipeline run.
type RunIdentity struct {
	RunID               string `json:"run_id" yaml:"run_id"`
	Seed                uint64 `json:"seed" yaml:"seed"`
	ParameterHash       string `json:"parameter_hash" yaml:"parameter_hash"`
	ManifestFingerprint string `json:"manifest_fingerprint" yaml:"manifest_fingerprint"`
}

// envelopeKeys are reserved by the event envelope; payloads may not reuse them.
var envelopeKeys = map[string]bool{
	"ts_utc": true, "run_id": true, "seed": true, "parameter_hash": true,
	"manifest_fingerprint": true, "module": true, "substream_label": true,
	"rng_counter_before_lo": true, "rng_counter_before_hi": true,
	"rng_counter_after_lo": true, "rng_counter_after_hi": true,
	"draws": true, "blocks": true,
	"draws_total": true, "blocks_total": true, "events_total": true,
}

// IsEnvelopeKey reports whether key is reserved by the record envelope.
func IsEnvelopeKey(key string) bool {
	return envelopeKeys[key]
}

// RngEvent is one immutable record per sampling draw.
type RngEvent struct {
	TsUTC          string
	Identity       RunIdentity
	Module         string
	SubstreamLabel string

	CounterBeforeHi uint64
	CounterBeforeLo uint64
	CounterAfterHi  uint64
	CounterAfterLo  uint64

	// Draws is the number of uniforms consumed; serialized as a decimal string.
	Draws uint64
	// Blocks is the number of Philox blocks (counter increments) consumed.
	Blocks uint32

	// Payload holds algorithm-specific fields (merchant_id, u, key, ...).
	Payload Object
}

// Object flattens the event into a single record: envelope fields plus payload.
// Returns an error if a payload key collides with an envelope key.
func (ev RngEvent) Object() (Object, error) {
	obj := make(Object, 13+len(ev.Payload))
	for k, v := range ev.Payload {
		if IsEnvelopeKey(k) {
			return nil, fmt.Errorf("payload key %q collides with envelope", k)
		}
		obj[k] = v
	}
	obj["ts_utc"] = String(ev.TsUTC)
	putIdentity(obj, ev.Identity)
	obj["module"] = String(ev.Module)
	obj["substream_label"] = String(ev.SubstreamLabel)
	obj["rng_counter_before_hi"] = Uint(ev.CounterBeforeHi)
	obj["rng_counter_before_lo"] = Uint(ev.CounterBeforeLo)
	obj["rng_counter_after_hi"] = Uint(ev.CounterAfterHi)
	obj["rng_counter_after_lo"] = Uint(ev.CounterAfterLo)
	obj["draws"] = String(strconv.FormatUint(ev.Draws, 10))
	obj["blocks"] = Uint(ev.Blocks)
	return obj, nil
}

// MarshalLine renders the event as one canonical JSON line (no trailing newline).
func (ev RngEvent) MarshalLine() ([]byte, error) {
	obj, err := ev.Object()
	if err != nil {
		return nil, err
	}
	return MarshalCanonical(obj)
}

// TraceRow is the running-total snapshot appended after every event.
type TraceRow struct {
	TsUTC          string
	Identity       RunIdentity
	Module         string
	SubstreamLabel string

	CounterBeforeHi uint64
	CounterBeforeLo uint64
	CounterAfterHi  uint64
	CounterAfterLo  uint64

	DrawsTotal  uint64
	BlocksTotal uint64
	EventsTotal uint64
}

// Object flattens the trace row into a record.
func (tr TraceRow) Object() Object {
	obj := Object{
		"ts_utc":                String(tr.TsUTC),
		"module":                String(tr.Module),
		"substream_label":       String(tr.SubstreamLabel),
		"rng_counter_before_hi": Uint(tr.CounterBeforeHi),
		"rng_counter_before_lo": Uint(tr.CounterBeforeLo),
		"rng_counter_after_hi":  Uint(tr.CounterAfterHi),
		"rng_counter_after_lo":  Uint(tr.CounterAfterLo),
		"draws_total":           Uint(tr.DrawsTotal),
		"blocks_total":          Uint(tr.BlocksTotal),
		"events_total":          Uint(tr.EventsTotal),
	}
	putIdentity(obj, tr.Identity)
	return obj
}

// MarshalLine renders the trace row as one canonical JSON line.
func (tr TraceRow) MarshalLine() ([]byte, error) {
	return MarshalCanonical(tr.Object())
}

// AuditEntry is the one-row-per-run provenance record.
type AuditEntry struct {
	Identity    RunIdentity
	Algorithm   string
	BuildCommit string
	Hostname    string
	Platform    string
}

// Object flattens the audit entry into a record.
func (ae AuditEntry) Object() Object {
	obj := Object{
		"algorithm":    String(ae.Algorithm),
		"build_commit": String(ae.BuildCommit),
		"hostname":     String(ae.Hostname),
		"platform":     String(ae.Platform),
	}
	putIdentity(obj, ae.Identity)
	return obj
}

// MarshalLine renders the audit entry as one canonical JSON line.
func (ae AuditEntry) MarshalLine() ([]byte, error) {
	return MarshalCanonical(ae.Object())
}

// SameRun reports whether two audit entries describe the same run key
// (run_id, seed, parameter_hash, manifest_fingerprint).
func (ae AuditEntry) SameRun(other AuditEntry) bool {
	return ae.Identity == other.Identity
}

func putIdentity(obj Object, id RunIdentity) {
	obj["run_id"] = String(id.RunID)
	obj["seed"] = Uint(id.Seed)
	obj["parameter_hash"] = String(id.ParameterHash)
	obj["manifest_fingerprint"] = String(id.ManifestFingerprint)
}
