package tokenseq

import "inferd/pkg/types"

// Polynomial rolling hash parameters (Rabin-Karp).
const (
	hashBase uint64 = 31
	hashMod  uint64 = 1_000_000_007
)

// verifySamples is the number of evenly spaced positions checked for
// exact equality after a hash match.
const verifySamples = 16

// prefixHash computes the rolling hash of tokens[0:n].
func prefixHash(tokens []types.Token, n int) uint64 {
	var hash, power uint64 = 0, 1
	if n > len(tokens) {
		n = len(tokens)
	}
	for i := 0; i < n; i++ {
		hash = (hash + (uint64(uint32(tokens[i]))%hashMod)*power) % hashMod
		power = (power * hashBase) % hashMod
	}
	return hash
}

// CommonPrefixLen returns the length of the longest common prefix of a
// and b. It binary-searches candidate lengths, comparing rolling hashes
// and confirming a match by sampling ~16 evenly spaced positions. A
// hash match that fails the sampled check is treated as a mismatch, so
// the result can undershoot in rare sampling-miss scenarios; this is a
// deliberate approximation, not an exactness guarantee.
func CommonPrefixLen(a, b []types.Token) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if a[0] != b[0] {
		return 0
	}
	maxLen := len(a)
	if len(b) < maxLen {
		maxLen = len(b)
	}

	lo, hi, result := 1, maxLen, 0
	for lo <= hi {
		mid := lo + (hi-lo)/2
		if prefixHash(a, mid) == prefixHash(b, mid) && sampledEqual(a, b, mid) {
			result = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return result
}

// sampledEqual spot-checks a[0:n] == b[0:n] at evenly spaced indices.
func sampledEqual(a, b []types.Token, n int) bool {
	step := n / verifySamples
	if step < 1 {
		step = 1
	}
	for i := 0; i < n; i += step {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
