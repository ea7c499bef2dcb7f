/*

This file contains the price normalizer: it converts raw oracle quotes of the
form price x 10^expo into a canonical 6-decimal USD representation, and the
inverse helpers between USD-micro values and an asset's native minor units.

All scaling uses checked 64-bit arithmetic. Overflow or a non-positive result
on a supposedly positive price fails the operation; nothing is ever clamped or
silently truncated.

*/

package pricing

import (
	"fmt"

	"github.com/basketlabs/bvm/internal/types"
)

const (
	// UsdDecimals is the canonical USD precision: values are micro-dollars.
	UsdDecimals = 6

	// maxDecimals bounds native asset precision.
	maxDecimals = 18
)

// NormalizedPrice is a price expressed in micro-dollars regardless of the
// source exponent. Ephemeral: computed per valuation call, never persisted.
type NormalizedPrice struct {
	UsdMicro int64 `json:"usd_micro"`
	RawPrice int64 `json:"raw_price"`
	RawExpo  int32 `json:"raw_expo"`
}

// Normalize converts rawPrice x 10^rawExpo into micro-dollars. If the source
// exponent carries more precision than 6 decimals the value divides down,
// losing trailing precision; with less it multiplies up.
func Normalize(rawPrice int64, rawExpo int32) (NormalizedPrice, error) {
	if rawPrice <= 0 {
		return NormalizedPrice{}, fmt.Errorf("%w: raw price %d", types.ErrInvalidPrice, rawPrice)
	}

	var usdMicro int64
	var err error
	switch {
	case rawExpo < -UsdDecimals:
		divisor, perr := pow10(uint32(-rawExpo - UsdDecimals))
		if perr != nil {
			return NormalizedPrice{}, perr
		}
		usdMicro, err = checkedDiv(rawPrice, divisor)
	case rawExpo > -UsdDecimals:
		factor, perr := pow10(uint32(rawExpo + UsdDecimals))
		if perr != nil {
			return NormalizedPrice{}, perr
		}
		usdMicro, err = checkedMul(rawPrice, factor)
	default:
		usdMicro = rawPrice
	}
	if err != nil {
		return NormalizedPrice{}, err
	}
	if usdMicro <= 0 {
		return NormalizedPrice{}, fmt.Errorf("%w: %d x 10^%d normalizes to %d",
			types.ErrInvalidPrice, rawPrice, rawExpo, usdMicro)
	}

	return NormalizedPrice{UsdMicro: usdMicro, RawPrice: rawPrice, RawExpo: rawExpo}, nil
}

// UsdToTokens converts a micro-dollar value into the asset's native minor
// units: usdMicro x 10^decimals / price.
func (p NormalizedPrice) UsdToTokens(usdMicro int64, decimals uint8) (int64, error) {
	if decimals > maxDecimals {
		return 0, fmt.Errorf("%w: decimals %d out of range", types.ErrMathOverflow, decimals)
	}
	factor, err := pow10(uint32(decimals))
	if err != nil {
		return 0, err
	}
	scaled, err := checkedMul(usdMicro, factor)
	if err != nil {
		return 0, err
	}
	return checkedDiv(scaled, p.UsdMicro)
}

// TokensToUsd converts an amount in native minor units into micro-dollars:
// amount x price / 10^decimals.
func (p NormalizedPrice) TokensToUsd(amount uint64, decimals uint8) (int64, error) {
	if decimals > maxDecimals {
		return 0, fmt.Errorf("%w: decimals %d out of range", types.ErrMathOverflow, decimals)
	}
	if amount > uint64(maxInt64) {
		return 0, fmt.Errorf("%w: amount %d exceeds signed range", types.ErrMathOverflow, amount)
	}
	scaled, err := checkedMul(int64(amount), p.UsdMicro)
	if err != nil {
		return 0, err
	}
	divisor, err := pow10(uint32(decimals))
	if err != nil {
		return 0, err
	}
	return checkedDiv(scaled, divisor)
}
