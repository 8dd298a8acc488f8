package recorder

import (
	"bytes"
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/mlrng/internal/ir"
)

// DigestEvents hashes an event log independently of timestamps and of
// the order events were written in. Two replays of the same run produce
// the same digest.
func DigestEvents(events []ir.RngEvent) (string, error) {
	sorted := slices.Clone(events)
	slices.SortStableFunc(sorted, compareEvents)

	var buf bytes.Buffer
	for _, ev := range sorted {
		h, err := ir.EventContentHash(ev)
		if err != nil {
			return "", fmt.Errorf("digest events: %w", err)
		}
		buf.WriteString(h)
		buf.WriteByte('\n')
	}
	return ir.HashWithDomain(ir.DomainLog, buf.Bytes()), nil
}

// DigestTraces hashes a trace log without timestamps, sorted by primary key.
func DigestTraces(rows []ir.TraceRow) (string, error) {
	lines := make([][]byte, 0, len(rows))
	for _, tr := range rows {
		obj := tr.Object()
		delete(obj, "ts_utc")
		line, err := ir.MarshalCanonical(obj)
		if err != nil {
			return "", fmt.Errorf("digest traces: %w", err)
		}
		lines = append(lines, line)
	}
	return DigestLines(lines), nil
}

// DigestLines hashes raw lines after sorting them bytewise.
func DigestLines(lines [][]byte) string {
	sorted := slices.Clone(lines)
	slices.SortFunc(sorted, bytes.Compare)

	var buf bytes.Buffer
	for _, l := range sorted {
		buf.Write(l)
		buf.WriteByte('\n')
	}
	return ir.HashWithDomain(ir.DomainLog, buf.Bytes())
}

// compareEvents orders events by (run, module, substream, counter before).
func compareEvents(a, b ir.RngEvent) int {
	if c := strings.Compare(a.Identity.RunID, b.Identity.RunID); c != 0 {
		return c
	}
	if c := strings.Compare(a.Module, b.Module); c != 0 {
		return c
	}
	if c := strings.Compare(a.SubstreamLabel, b.SubstreamLabel); c != 0 {
		return c
	}
	if c := cmp.Compare(a.CounterBeforeHi, b.CounterBeforeHi); c != 0 {
		return c
	}
	return cmp.Compare(a.CounterBeforeLo, b.CounterBeforeLo)
}
