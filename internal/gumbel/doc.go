// Package gumbel implements weighted sampling without replacement with the
// Gumbel-max trick.
//
// Every considered candidate draws exactly one uniform from its own
// substream, so a selection is independent of candidate order and of how
// candidates are spread across goroutines. The eligible candidates are
// ranked by key = ln(w) - ln(-ln(u)); exact key ties fall back to the
// candidate's rank, then its secondary key, then its ID.
package gumbel
