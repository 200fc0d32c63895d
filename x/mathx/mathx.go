// Package mathx holds the integer helpers the duty paths share.
package mathx

import "golang.org/x/exp/constraints"

// Clamp limits v to [lo, hi]. If lo > hi, the bounds are swapped.
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if hi < lo {
		lo, hi = hi, lo
	}
	return min(max(v, lo), hi)
}

// RoundDiv divides a by b rounding to nearest, with exact halves rounded
// down: (a + (b-1)/2) / b. A zero divisor yields zero.
func RoundDiv[T constraints.Unsigned](a, b T) T {
	if b == 0 {
		return 0
	}
	return (a + (b-1)/2) / b
}

// MaxForBits returns 2^bits - 1, saturating at 32 bits.
func MaxForBits(bits uint8) uint32 {
	if bits == 0 {
		return 0
	}
	if bits >= 32 {
		return ^uint32(0)
	}
	return uint32(1)<<bits - 1
}

// ScalePct returns pct percent of top, rounded with RoundDiv. pct above 100
// is treated as 100.
func ScalePct(pct, top uint32) uint32 {
	pct = min(pct, 100)
	return uint32(RoundDiv(uint64(pct)*uint64(top), 100))
}
