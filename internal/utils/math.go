/*
Fixed point helpers for share accounting. Every helper names its rounding direction;
callers pick the direction that favours the vault.
*/

package utils

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
)

// BpsDenominator is 100% expressed in basis points.
const BpsDenominator = 10_000

var (
	ErrDivisionByZero = errors.New("division by zero")
	ErrDecimalsRange  = errors.New("decimals out of range")
)

// Ray is 1e27, the scale used for exact share prices.
var Ray = sdkmath.NewIntWithDecimal(1, 27)

// Pow10 returns 10^n as an Int.
func Pow10(n uint32) sdkmath.Int {
	return sdkmath.NewIntWithDecimal(1, int(n))
}

// MulDivDown computes x*y/d rounding toward zero.
func MulDivDown(x, y, d sdkmath.Int) (sdkmath.Int, error) {
	if d.IsZero() {
		return sdkmath.ZeroInt(), ErrDivisionByZero
	}
	return x.Mul(y).Quo(d), nil
}

// MulDivUp computes x*y/d rounding away from zero for non-negative operands.
func MulDivUp(x, y, d sdkmath.Int) (sdkmath.Int, error) {
	if d.IsZero() {
		return sdkmath.ZeroInt(), ErrDivisionByZero
	}
	num := x.Mul(y)
	q := num.Quo(d)
	if !num.Mod(d).IsZero() {
		q = q.AddRaw(1)
	}
	return q, nil
}

// ApplyBps returns amount*bps/1e4 rounded down.
func ApplyBps(amount sdkmath.Int, bps uint32) sdkmath.Int {
	return amount.MulRaw(int64(bps)).QuoRaw(BpsDenominator)
}

// ChangeDecimals rescales an amount between two decimal precisions, truncating when shrinking.
func ChangeDecimals(amount sdkmath.Int, from, to uint32) (sdkmath.Int, error) {
	if from > 36 || to > 36 {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %d -> %d", ErrDecimalsRange, from, to)
	}
	switch {
	case from == to:
		return amount, nil
	case from < to:
		return amount.Mul(Pow10(to - from)), nil
	default:
		return amount.Quo(Pow10(from - to)), nil
	}
}

// MinInt returns the smaller of a and b.
func MinInt(a, b sdkmath.Int) sdkmath.Int {
	if a.LT(b) {
		return a
	}
	return b
}
