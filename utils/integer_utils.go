package utils

import (
	"math/big"
)

// ConstrainIntegerToBounds takes a provided big integer and minimum/maximum bounds (inclusive) and ensures
// that the provided integer is represented in those bounds. In effect, this simulates overflow and underflow.
// Returns the constrained integer.
func ConstrainIntegerToBounds(b *big.Int, min *big.Int, max *big.Int) *big.Int {
	boundingRange := new(big.Int).Sub(max, min)
	boundingRange.Add(boundingRange, big.NewInt(1))

	// Values outside the bounds wrap around by as many ranges as needed.
	if b.Cmp(min) < 0 || b.Cmp(max) > 0 {
		offset := new(big.Int).Sub(b, min)
		offset.Mod(offset, boundingRange)
		return offset.Add(offset, min)
	}

	// b is in range, return a copy of it
	return new(big.Int).Set(b)
}

// ConstrainIntegerToBitLength takes a provided big integer, signed indicator, and bit length and ensures that the
// provided integer is represented in those bounds.
func ConstrainIntegerToBitLength(b *big.Int, signed bool, bitLength int) *big.Int {
	min, max := GetIntegerConstraints(signed, bitLength)
	return ConstrainIntegerToBounds(b, min, max)
}

// GetIntegerConstraints takes a given signed indicator and bit length for a prospective integer and determines the
// minimum/maximum value boundaries.
// Returns the minimum and maximum value for the provided integer properties. Minimums and maximums are inclusive.
func GetIntegerConstraints(signed bool, bitLength int) (*big.Int, *big.Int) {
	var min, max *big.Int
	if signed {
		// max = 2^(bitLen - 1) - 1, min = -(2^(bitLen - 1))
		max = new(big.Int).Lsh(big.NewInt(1), uint(bitLength-1))
		min = new(big.Int).Neg(max)
		max.Sub(max, big.NewInt(1))
	} else {
		// max = 2^bitLen - 1, min = 0
		max = new(big.Int).Lsh(big.NewInt(1), uint(bitLength))
		max.Sub(max, big.NewInt(1))
		min = big.NewInt(0)
	}
	return min, max
}
