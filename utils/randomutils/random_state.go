package randomutils

import (
	"math/big"
	"math/bits"
)

// RandomState is an explicit, immutable pseudo-random generator state. Every draw returns the value along with the
// successor state, so callers thread the state through their own code and a whole generation process can be replayed
// from its initial seed. The generator is splitmix64.
type RandomState struct {
	state uint64
}

// NewRandomState creates a RandomState from the provided seed.
func NewRandomState(seed int64) RandomState {
	return RandomState{state: uint64(seed)}
}

// DeriveSeed deterministically derives a child seed from a parent seed and an index, e.g. a run index within a
// campaign. Distinct indices yield well separated seeds.
func DeriveSeed(seed int64, index uint64) int64 {
	s := NewRandomState(seed ^ int64(mix(index+0x632be59bd9b4e019)))
	v, _ := s.Uint64()
	return int64(v)
}

// mix is the splitmix64 finalizer.
func mix(z uint64) uint64 {
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// Uint64 draws a uniformly random 64-bit value.
func (r RandomState) Uint64() (uint64, RandomState) {
	next := r.state + 0x9e3779b97f4a7c15
	return mix(next), RandomState{state: next}
}

// Intn draws a uniformly random integer in [0, n). It panics if n <= 0.
func (r RandomState) Intn(n int) (int, RandomState) {
	if n <= 0 {
		panic("randomutils: Intn called with non-positive bound")
	}

	// Lemire's multiply-shift with rejection to avoid modulo bias.
	bound := uint64(n)
	threshold := -bound % bound
	for {
		var v uint64
		v, r = r.Uint64()
		hi, lo := bits.Mul64(v, bound)
		if lo >= threshold {
			return int(hi), r
		}
	}
}

// Bool draws a uniformly random boolean.
func (r RandomState) Bool() (bool, RandomState) {
	v, next := r.Uint64()
	return v&1 == 1, next
}

// Chance returns true with probability numerator/denominator.
func (r RandomState) Chance(numerator int, denominator int) (bool, RandomState) {
	if numerator <= 0 {
		return false, r
	}
	if numerator >= denominator {
		return true, r
	}
	v, next := r.Intn(denominator)
	return v < numerator, next
}

// Bytes draws n uniformly random bytes.
func (r RandomState) Bytes(n int) ([]byte, RandomState) {
	b := make([]byte, n)
	for i := 0; i < n; i += 8 {
		var v uint64
		v, r = r.Uint64()
		for j := 0; j < 8 && i+j < n; j++ {
			b[i+j] = byte(v >> (8 * j))
		}
	}
	return b, r
}

// BigIntInRange draws a uniformly random integer in the inclusive range [min, max].
func (r RandomState) BigIntInRange(min *big.Int, max *big.Int) (*big.Int, RandomState) {
	span := new(big.Int).Sub(max, min)
	span.Add(span, big.NewInt(1))
	if span.Sign() <= 0 {
		return new(big.Int).Set(min), r
	}

	// Draw bitLen bits, masking the excess, and reject values outside the span.
	bitLen := span.BitLen()
	byteLen := (bitLen + 7) / 8
	excessBits := uint(byteLen*8 - bitLen)
	for {
		var b []byte
		b, r = r.Bytes(byteLen)
		b[0] &= byte(0xFF) >> excessBits
		v := new(big.Int).SetBytes(b)
		if v.Cmp(span) < 0 {
			return v.Add(v, min), r
		}
	}
}

// Weighted selects an index from weights, where each index is chosen with probability weight / sum(weights). Indices
// with a zero weight are never selected. Returns -1 if every weight is zero.
func (r RandomState) Weighted(weights []uint64) (int, RandomState) {
	var total uint64
	for _, w := range weights {
		total += w
	}
	if total == 0 {
		return -1, r
	}

	v, next := r.Uint64()
	hi, _ := bits.Mul64(v, total)
	for i, w := range weights {
		if hi < w {
			return i, next
		}
		hi -= w
	}
	return len(weights) - 1, next
}
