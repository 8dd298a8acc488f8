package rng

import (
	"fmt"
	"math/bits"
)

// Counter is a 128-bit unsigned counter held as two 64-bit words.
type Counter struct {
	Hi uint64
	Lo uint64
}

// Add returns c+n. Carry from Lo propagates into Hi; a carry out of Hi is
// reported as E_RNG_COUNTER_WRAP instead of wrapping.
func (c Counter) Add(n uint64) (Counter, error) {
	lo, carry := bits.Add64(c.Lo, n, 0)
	hi, overflow := bits.Add64(c.Hi, 0, carry)
	if overflow != 0 {
		return c, NewCounterWrapError(c, n)
	}
	return Counter{Hi: hi, Lo: lo}, nil
}

// Less reports whether c < other.
func (c Counter) Less(other Counter) bool {
	if c.Hi != other.Hi {
		return c.Hi < other.Hi
	}
	return c.Lo < other.Lo
}

// Sub returns c-other as a 64-bit distance. ok is false when other > c or
// the distance does not fit in 64 bits.
func (c Counter) Sub(other Counter) (n uint64, ok bool) {
	lo, borrow := bits.Sub64(c.Lo, other.Lo, 0)
	hi, under := bits.Sub64(c.Hi, other.Hi, borrow)
	if under != 0 || hi != 0 {
		return 0, false
	}
	return lo, true
}

// String renders the counter as hi:lo in fixed-width hex.
func (c Counter) String() string {
	return fmt.Sprintf("%016x:%016x", c.Hi, c.Lo)
}
