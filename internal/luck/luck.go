// Package luck provides the deterministic pseudo-random source used for
// procedural cache generation.
//
// Luck is a pure function of its key: the same key yields the same value in
// every process, so generated caches are reproducible across restarts without
// storing anything.
package luck

import "github.com/cespare/xxhash/v2"

// Luck maps key to a value in [0, 1). The top 53 bits of the xxhash64 digest
// are used so every result is exactly representable as a float64.
func Luck(key string) float64 {
	return float64(xxhash.Sum64String(key)>>11) / (1 << 53)
}

// Below reports whether Luck(key) <= chance.
func Below(key string, chance float64) bool {
	return Luck(key) <= chance
}

// Intn returns floor(Luck(key) * n), a deterministic integer in [0, n).
func Intn(key string, n int) int {
	if n <= 0 {
		return 0
	}
	return int(Luck(key) * float64(n))
}
