package ir

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ParseEvent decodes one event log line. Envelope keys populate the typed
// fields; every other key lands in Payload.
func ParseEvent(line []byte) (RngEvent, error) {
	obj, err := parseObject(line)
	if err != nil {
		return RngEvent{}, fmt.Errorf("parse event: %w", err)
	}

	r := fieldReader{obj: obj}
	ev := RngEvent{
		TsUTC:           r.str("ts_utc"),
		Identity:        r.identity(),
		Module:          r.str("module"),
		SubstreamLabel:  r.str("substream_label"),
		CounterBeforeHi: r.uint("rng_counter_before_hi"),
		CounterBeforeLo: r.uint("rng_counter_before_lo"),
		CounterAfterHi:  r.uint("rng_counter_after_hi"),
		CounterAfterLo:  r.uint("rng_counter_after_lo"),
	}

	// draws is a decimal string on the wire
	draws := r.str("draws")
	if r.err == nil {
		ev.Draws, err = strconv.ParseUint(draws, 10, 64)
		if err != nil {
			r.err = fmt.Errorf("field draws: %w", err)
		}
	}
	blocks := r.uint("blocks")
	if r.err == nil && blocks > uint64(^uint32(0)) {
		r.err = fmt.Errorf("field blocks: %d overflows uint32", blocks)
	}
	ev.Blocks = uint32(blocks)
	if r.err != nil {
		return RngEvent{}, fmt.Errorf("parse event: %w", r.err)
	}

	ev.Payload = make(Object)
	for k, v := range obj {
		if !IsEnvelopeKey(k) {
			ev.Payload[k] = v
		}
	}
	return ev, nil
}

// ParseTraceRow decodes one trace log line.
func ParseTraceRow(line []byte) (TraceRow, error) {
	obj, err := parseObject(line)
	if err != nil {
		return TraceRow{}, fmt.Errorf("parse trace row: %w", err)
	}

	r := fieldReader{obj: obj}
	tr := TraceRow{
		TsUTC:           r.str("ts_utc"),
		Identity:        r.identity(),
		Module:          r.str("module"),
		SubstreamLabel:  r.str("substream_label"),
		CounterBeforeHi: r.uint("rng_counter_before_hi"),
		CounterBeforeLo: r.uint("rng_counter_before_lo"),
		CounterAfterHi:  r.uint("rng_counter_after_hi"),
		CounterAfterLo:  r.uint("rng_counter_after_lo"),
		DrawsTotal:      r.uint("draws_total"),
		BlocksTotal:     r.uint("blocks_total"),
		EventsTotal:     r.uint("events_total"),
	}
	if r.err != nil {
		return TraceRow{}, fmt.Errorf("parse trace row: %w", r.err)
	}
	return tr, nil
}

// ParseAuditEntry decodes one audit log line.
func ParseAuditEntry(line []byte) (AuditEntry, error) {
	obj, err := parseObject(line)
	if err != nil {
		return AuditEntry{}, fmt.Errorf("parse audit entry: %w", err)
	}

	r := fieldReader{obj: obj}
	ae := AuditEntry{
		Identity:    r.identity(),
		Algorithm:   r.str("algorithm"),
		BuildCommit: r.str("build_commit"),
		Hostname:    r.str("hostname"),
		Platform:    r.str("platform"),
	}
	if r.err != nil {
		return AuditEntry{}, fmt.Errorf("parse audit entry: %w", r.err)
	}
	return ae, nil
}

func parseObject(line []byte) (Object, error) {
	var obj Object
	if err := json.Unmarshal(line, &obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// fieldReader extracts typed fields and keeps the first error.
type fieldReader struct {
	obj Object
	err error
}

func (r *fieldReader) str(key string) string {
	if r.err != nil {
		return ""
	}
	v, ok := r.obj[key]
	if !ok {
		r.err = fmt.Errorf("missing field %s", key)
		return ""
	}
	s, ok := AsString(v)
	if !ok {
		r.err = fmt.Errorf("field %s: expected string, got %T", key, v)
	}
	return s
}

func (r *fieldReader) uint(key string) uint64 {
	if r.err != nil {
		return 0
	}
	v, ok := r.obj[key]
	if !ok {
		r.err = fmt.Errorf("missing field %s", key)
		return 0
	}
	u, ok := AsUint(v)
	if !ok {
		r.err = fmt.Errorf("field %s: expected unsigned integer, got %T", key, v)
	}
	return u
}

func (r *fieldReader) identity() RunIdentity {
	return RunIdentity{
		RunID:               r.str("run_id"),
		Seed:                r.uint("seed"),
		ParameterHash:       r.str("parameter_hash"),
		ManifestFingerprint: r.str("manifest_fingerprint"),
	}
}
