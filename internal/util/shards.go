package util

import "runtime"

// ReasonableConcurrency picks a practical default concurrency level based on
// CPU parallelism. Heuristic: nextPow2(2*GOMAXPROCS), clamped to [1..256].
func ReasonableConcurrency() int {
	p := runtime.GOMAXPROCS(0)
	if p < 1 {
		p = 1
	}
	n := int(NextPow2(uint64(p * 2)))
	if n < 1 {
		n = 1
	}
	if n > 256 {
		n = 256
	}
	return n
}

// StripeCount derives the number of stripes from a requested concurrency
// level and an optional total capacity. It is the smallest power of two
// >= concurrencyLevel, further bounded so that each stripe holds at least
// 20 entries when capacity > 0 (the heuristic Guava's LocalCache uses to
// avoid degenerating into many near-empty stripes for small caches).
func StripeCount(concurrencyLevel int, capacity int64) int {
	if concurrencyLevel < 1 {
		concurrencyLevel = 1
	}
	n := NextPow2(uint64(concurrencyLevel))

	if capacity > 0 {
		const minEntriesPerStripe = 20
		for n > 1 && capacity/int64(n) < minEntriesPerStripe {
			n >>= 1
		}
		if n < 1 {
			n = 1
		}
	}
	if n > 1<<16 {
		n = 1 << 16
	}
	return int(n)
}

// StripeBits returns log2(n) for a power-of-two n (as produced by StripeCount).
func StripeBits(n int) uint {
	bits := uint(0)
	for (1 << bits) < n {
		bits++
	}
	return bits
}
