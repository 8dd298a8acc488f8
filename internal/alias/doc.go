// Package alias implements Vose's alias method for O(1) weighted sampling
// with replacement, plus the cached two-stage router built on it.
//
// A Table is built once per distinct weight vector and is immutable
// afterwards, so it may be cached and shared between goroutines. Each Pick
// consumes exactly one uniform.
package alias
