/*
This file contains common utility functions for converting between base unit integers and
human readable floats, used for metrics, logs and deployment files.
*/

package utils

import (
	"errors"
	"fmt"
	"math"

	sdkmath "cosmossdk.io/math"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidPrecision = errors.New("precision is invalid")
	ErrAmountNil        = errors.New("amount is nil")
	ErrAmountNegative   = errors.New("amount is negative")
	ErrNotFinite        = errors.New("value is not finite")
	ErrConversionFailed = errors.New("conversion failed")
)

// maxPrecision covers the 27 decimal share price scale.
const maxPrecision = 27

// SDKIntToFloat64 converts base units to a float with the given number of decimals.
// Lossy by nature; never feed the result back into accounting.
func SDKIntToFloat64(amount sdkmath.Int, precision int) (float64, error) {
	if precision < 0 || precision > maxPrecision {
		return 0, fmt.Errorf("%w: %d (must be between 0 and %d)", ErrInvalidPrecision, precision, maxPrecision)
	}
	if amount.IsNil() {
		return 0, ErrAmountNil
	}
	if amount.IsNegative() {
		return 0, ErrAmountNegative
	}

	decAmount := sdkmath.LegacyNewDecFromInt(amount)
	result := decAmount.Quo(sdkmath.LegacyNewDecFromInt(Pow10(uint32(precision))))
	resultFloat, err := result.Float64()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrConversionFailed, err)
	}

	if math.IsNaN(resultFloat) || math.IsInf(resultFloat, 0) {
		return 0, fmt.Errorf("%w: result is %f", ErrNotFinite, resultFloat)
	}

	return resultFloat, nil
}

// DecimalStringToSDKInt parses a human amount such as "1500.25" into base units, truncating extra digits.
func DecimalStringToSDKInt(amount string, precision int) (sdkmath.Int, error) {
	if precision < 0 || precision > 18 {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %d (must be between 0 and 18)", ErrInvalidPrecision, precision)
	}
	decAmount, err := sdkmath.LegacyNewDecFromStr(amount)
	if err != nil {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: failed to create decimal from string: %w", ErrConversionFailed, err)
	}
	if decAmount.IsNegative() {
		return sdkmath.ZeroInt(), ErrAmountNegative
	}
	return decAmount.MulInt(Pow10(uint32(precision))).TruncateInt(), nil
}
