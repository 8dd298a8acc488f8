// Package rng implements the counter-based generator every sampling stage
// draws from.
//
// The generator is Philox-2x64-10: a keyed bijection from a 128-bit counter
// to two 64-bit words. A Stream couples one key with a counter cursor; each
// block consumed advances the counter by exactly one. Counters never wrap:
// running past 2^128-1 is a fatal E_RNG_COUNTER_WRAP error.
//
// Nothing in this package holds global state. Two Streams with different
// keys or counters can be driven from different goroutines without
// coordination; a single Stream must not.
package rng
