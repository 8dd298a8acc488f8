package rng

import (
	"errors"
	"fmt"
	"strconv"
)

// Error represents a failure raised by the sampling core.
//
// Errors fall into two classes:
//   - Fatal: counter wrap, envelope mismatch, invalid weights, content
//     mismatch on a supposedly identical artifact. The run must abort.
//   - Degraded: zero-weight domain, shortfall, K=0 when the caller asked for
//     fail-on-degrade. These are policy outcomes upgraded to errors.
//
// Error carries structured fields so the calling segment runner can convert
// it into its own failure-record format.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Substream is the substream label the failure occurred in, if any.
	Substream string

	// Entity identifies the business entity (merchant id, table key, ...).
	Entity string

	// Details contains additional context such as counter values.
	Details map[string]string
}

// ErrorCode categorizes sampling-core errors.
type ErrorCode string

const (
	// ErrCodeCounterWrap indicates a counter would pass 2^128-1.
	ErrCodeCounterWrap ErrorCode = "E_RNG_COUNTER_WRAP"

	// ErrCodeEnvelope indicates counter_after != counter_before + blocks.
	ErrCodeEnvelope ErrorCode = "E_RNG_ENVELOPE"

	// ErrCodeAliasWeightInvalid indicates an alias weight vector is empty,
	// non-finite, negative or sums to zero.
	ErrCodeAliasWeightInvalid ErrorCode = "E_ALIAS_WEIGHT_INVALID"

	// ErrCodeAliasCacheMismatch indicates a cached alias table was requested
	// with weights different from the ones it was built from.
	ErrCodeAliasCacheMismatch ErrorCode = "E_ALIAS_CACHE_MISMATCH"

	// ErrCodeGumbelWeightInvalid indicates a candidate weight is non-finite or negative.
	ErrCodeGumbelWeightInvalid ErrorCode = "E_GUMBEL_WEIGHT_INVALID"

	// ErrCodeDegraded indicates a degenerate sampling outcome under fail-on-degrade.
	ErrCodeDegraded ErrorCode = "E_SAMPLING_DEGRADED"

	// ErrCodeManifestFingerprint indicates a malformed manifest fingerprint.
	ErrCodeManifestFingerprint ErrorCode = "E_MANIFEST_FINGERPRINT"

	// ErrCodeAuditMismatch indicates an audit row exists for the run key
	// with conflicting content.
	ErrCodeAuditMismatch ErrorCode = "E_AUDIT_MISMATCH"

	// ErrCodeEventMismatch indicates a replayed event differs from the
	// persisted event with the same primary key.
	ErrCodeEventMismatch ErrorCode = "E_EVENT_MISMATCH"
)

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Substream != "" && e.Entity != "":
		return fmt.Sprintf("%s: %s (substream=%s, entity=%s)", e.Code, e.Message, e.Substream, e.Entity)
	case e.Substream != "":
		return fmt.Sprintf("%s: %s (substream=%s)", e.Code, e.Message, e.Substream)
	case e.Entity != "":
		return fmt.Sprintf("%s: %s (entity=%s)", e.Code, e.Message, e.Entity)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Fatal reports whether the error must abort the run. Only degraded
// outcomes are non-fatal, and only because the caller opted into them.
func (e *Error) Fatal() bool {
	return e.Code != ErrCodeDegraded
}

// IsCode returns true if err wraps an *Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsFatal returns true if err wraps a fatal *Error.
func IsFatal(err error) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Fatal()
	}
	return false
}

// NewCounterWrapError creates an Error for a counter that would wrap.
func NewCounterWrapError(c Counter, n uint64) *Error {
	return &Error{
		Code:    ErrCodeCounterWrap,
		Message: "counter would wrap past 2^128-1",
		Details: map[string]string{
			"counter_hi": strconv.FormatUint(c.Hi, 10),
			"counter_lo": strconv.FormatUint(c.Lo, 10),
			"increment":  strconv.FormatUint(n, 10),
		},
	}
}

// NewEnvelopeError creates an Error for an envelope whose counters do not
// account for its block count.
func NewEnvelopeError(substream string, env Envelope) *Error {
	return &Error{
		Code:      ErrCodeEnvelope,
		Message:   "counter_after != counter_before + blocks",
		Substream: substream,
		Details: map[string]string{
			"counter_before": env.Before.String(),
			"counter_after":  env.After.String(),
			"blocks":         strconv.FormatUint(uint64(env.Blocks), 10),
		},
	}
}
