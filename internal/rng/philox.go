package rng

import "math/bits"

// Philox-2x64 constants from Salmon et al., "Parallel Random Numbers: As Easy
// as 1, 2, 3" (SC11), matching the Random123 reference implementation.
const (
	philoxM2x64 uint64 = 0xD2B74407B1CE6E93
	philoxW64   uint64 = 0x9E3779B97F4A7C15

	// PhiloxRounds is the round count of the generator.
	PhiloxRounds = 10
)

// Philox2x64 applies the 10-round Philox-2x64 bijection to ctr under key.
// Word order follows Random123: ctr[0] is multiplied, ctr[1] is mixed in.
func Philox2x64(ctr [2]uint64, key uint64) [2]uint64 {
	c0, c1 := ctr[0], ctr[1]
	k := key
	for r := 0; r < PhiloxRounds; r++ {
		if r > 0 {
			k += philoxW64
		}
		hi, lo := bits.Mul64(philoxM2x64, c0)
		c0, c1 = hi^k^c1, lo
	}
	return [2]uint64{c0, c1}
}

// Permute maps (counter, key) to two pseudorandom words. The low counter
// word is Random123 lane 0 and the high word lane 1.
func Permute(c Counter, key uint64) (uint64, uint64) {
	out := Philox2x64([2]uint64{c.Lo, c.Hi}, key)
	return out[0], out[1]
}
