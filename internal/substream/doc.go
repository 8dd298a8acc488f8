// Package substream derives independent (key, counter) pairs for business
// entities.
//
// Derivation is two-step. MasterMaterial hashes the run identity once:
//
//	master = SHA256(uer(domain_tag) || fingerprint_bytes || LE64(seed))
//
// Derive then hashes the master material with an ordered Context:
//
//	d       = SHA256(master || enc(field_1) || ... || enc(field_n))
//	key     = BE64(d[0:8])
//	counter = (BE64(d[8:16]), BE64(d[16:24]))
//
// Strings are encoded as a big-endian u32 length followed by UTF-8 bytes;
// integers as 8 little-endian bytes. Length prefixes keep field boundaries
// unambiguous, so contexts that differ in any field hash differently.
// Field kinds are not encoded: each domain tag fixes the kinds of the
// fields that follow it.
package substream
