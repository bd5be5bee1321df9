// Package fixedpoint provides 1e18-scaled integer arithmetic on math/big.Int.
//
// All engine values (collateral amounts, USD values, health factors) share a
// single 18-decimal fixed-point scale. Intermediate products are kept at
// arbitrary width and divided last, so an 18-decimal price times an
// 18-decimal amount never overflows or loses precision before the final
// floor division.
//
// Subtraction is checked, never wrapping: silently clamping a debit would
// corrupt the solvency accounting, so going below zero is a loud error.
package fixedpoint

import (
	"errors"
	"math/big"

	"github.com/shopspring/decimal"
)

// Decimals is the engine-wide fixed-point scale.
const Decimals = 18

var (
	// Wad is the fixed-point unit, 1e18.
	Wad = new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)

	// ErrUnderflow is returned when a checked subtraction would go below zero.
	ErrUnderflow = errors.New("fixedpoint: arithmetic underflow")

	// ErrNotInteger is returned when a decimal amount has more than 18
	// fractional digits and cannot be represented exactly.
	ErrNotInteger = errors.New("fixedpoint: amount has more than 18 decimal places")

	// ErrNegative is returned when a decimal amount is negative.
	ErrNegative = errors.New("fixedpoint: amount must not be negative")
)

// MulDiv returns a*b/den with the multiplication performed first at full
// width, flooring the final division. den must be non-zero.
func MulDiv(a, b, den *big.Int) *big.Int {
	product := new(big.Int).Mul(a, b)
	return product.Quo(product, den)
}

// CheckedSub returns a-b, or ErrUnderflow if b > a.
func CheckedSub(a, b *big.Int) (*big.Int, error) {
	if a.Cmp(b) < 0 {
		return nil, ErrUnderflow
	}
	return new(big.Int).Sub(a, b), nil
}

// Pow10 returns 10^n as a big integer.
func Pow10(n uint) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), new(big.Int).SetUint64(uint64(n)), nil)
}

// FromDecimal converts a human-readable decimal amount ("10", "0.5") into a
// wad-scaled integer. Amounts finer than 18 decimal places are rejected
// rather than silently truncated.
func FromDecimal(d decimal.Decimal) (*big.Int, error) {
	if d.IsNegative() {
		return nil, ErrNegative
	}
	shifted := d.Shift(Decimals)
	if !shifted.IsInteger() {
		return nil, ErrNotInteger
	}
	return shifted.BigInt(), nil
}

// ToDecimal converts a wad-scaled integer back to a display decimal.
func ToDecimal(v *big.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -Decimals)
}
