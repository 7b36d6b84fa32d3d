package memutils

import (
	"math/bits"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"
)

type Number interface {
	constraints.Integer
}

func CheckPow2[T Number](number T, name string) error {
	if number <= 0 || number&(number-1) != 0 {
		return errors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

// AlignUp rounds value up to the next multiple of alignment, which must be a power of two
func AlignUp[T Number](value T, alignment T) T {
	return (value + alignment - 1) &^ (alignment - 1)
}

// AlignDown rounds value down to a multiple of alignment, which must be a power of two
func AlignDown[T Number](value T, alignment T) T {
	return value &^ (alignment - 1)
}

// RoundUp rounds value up to the next multiple of unit. Unlike AlignUp, unit does not need to be
// a power of two.
func RoundUp(value, unit int) int {
	if unit <= 0 {
		return value
	}
	return ((value + unit - 1) / unit) * unit
}

// Log2 returns floor(log2(value)) for positive values and -1 otherwise
func Log2(value int) int {
	if value <= 0 {
		return -1
	}
	return bits.Len(uint(value)) - 1
}
