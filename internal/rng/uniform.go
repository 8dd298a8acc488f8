package rng

import "math"

// u01Scale is 2^-52.
const u01Scale = 1.0 / (1 << 52)

// U01 maps a raw 64-bit word to the open interval (0, 1).
//
// The top 52 bits select one of 2^52 equal cells and the result is the cell
// midpoint: (k + 0.5) * 2^-52. Every output is exactly representable, the
// smallest is 2^-53 and the largest 1-2^-53, so log(u) and log(-log(u)) are
// always finite.
func U01(word uint64) float64 {
	return (float64(word>>12) + 0.5) * u01Scale
}

// Normal turns two open-interval uniforms into one standard normal deviate
// with the Box-Muller transform.
func Normal(u1, u2 float64) float64 {
	r := math.Sqrt(-2 * math.Log(u1))
	return r * math.Cos(2*math.Pi*u2)
}
