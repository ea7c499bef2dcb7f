/*
This file contains common utility functions for converting engine amounts,
particularly micro-USD values and native token amounts, into display units.
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
	ErrNotFinite        = errors.New("value is not finite")
	ErrConversionFailed = errors.New("conversion failed")
)

const usdMicroPerDollar = 1_000_000

// UsdMicroToDollars converts a micro-USD amount to whole dollars for display.
// Display only; engine math never runs on floats.
func UsdMicroToDollars(usdMicro int64) float64 {
	return float64(usdMicro) / usdMicroPerDollar
}

// NativeToDisplay converts a native token amount to its display value with
// proper precision handling.
func NativeToDisplay(amount uint64, decimals uint8) (float64, error) {
	if decimals > 18 {
		return 0, fmt.Errorf("%w: %d (must be between 0 and 18)", ErrInvalidPrecision, decimals)
	}

	decAmount := sdkmath.LegacyNewDecFromInt(sdkmath.NewIntFromUint64(amount))
	factor := sdkmath.LegacyNewDec(10).Power(uint64(decimals))

	result, err := decAmount.Quo(factor).Float64()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrConversionFailed, err)
	}
	if math.IsNaN(result) || math.IsInf(result, 0) {
		return 0, fmt.Errorf("%w: result is %f", ErrNotFinite, result)
	}
	return result, nil
}
