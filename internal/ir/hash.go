package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content digests.
// Version suffix enables future algorithm migration.
const (
	DomainEvent      = "mlrng/event/v1"
	DomainAliasTable = "mlrng/alias-table/v1"
	DomainWeights    = "mlrng/alias-weights/v1"
	DomainLog        = "mlrng/log/v1"
)

// HashWithDomain computes a SHA-256 digest with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func HashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// EventContentHash digests everything in an event except its timestamp.
// Two replays of the same run produce the same content hash even though
// their ts_utc values differ.
func EventContentHash(ev RngEvent) (string, error) {
	obj, err := ev.Object()
	if err != nil {
		return "", fmt.Errorf("EventContentHash: %w", err)
	}
	delete(obj, "ts_utc")

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("EventContentHash: failed to marshal: %w", err)
	}
	return HashWithDomain(DomainEvent, canonical), nil
}

// MustEventContentHash is like EventContentHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustEventContentHash(ev RngEvent) string {
	h, err := EventContentHash(ev)
	if err != nil {
		panic(err)
	}
	return h
}
