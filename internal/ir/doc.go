// Package ir provides the record types shared by every RNG-consuming package.
//
// This package contains type definitions and serialization only. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Records serialize through MarshalCanonical: sorted keys, no HTML escaping,
//     NFC-normalized strings, so that digests of log files are deterministic
//   - Floats must be finite; NaN and ±Inf are rejected at serialization time
//   - 64-bit counters are emitted as exact decimal integers, draws as a decimal string
//   - Timestamps are descriptive only and never take part in identity hashing
//   - All JSON keys use snake_case
package ir
