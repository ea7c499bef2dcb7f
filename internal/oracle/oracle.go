/*

This file contains the price oracle layer: the provider interface the vault
engine consumes, quote freshness and sanity validation, and the binary feed
account decoder for externally published price feeds.

All providers hand back raw mantissa/exponent pairs; normalization to USD
micro-units happens in the pricing package so every consumer shares one code
path.

*/

package oracle

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/basketlabs/bvm/internal/pricing"
	"github.com/basketlabs/bvm/internal/types"
)

const (
	// DefaultMaxQuoteAge is the staleness bound on the main valuation path.
	DefaultMaxQuoteAge = 120 * time.Second

	// MaxPriceUsdMicro caps any normalized quote at $10M per unit. Anything
	// above is treated as a corrupt or manipulated feed.
	MaxPriceUsdMicro = int64(10_000_000_000_000)
)

// Quote is one raw price observation before normalization.
type Quote struct {
	Denom      string
	RawPrice   int64
	RawExpo    int32
	ObservedAt time.Time
}

// Provider serves raw quotes for the assets it covers.
type Provider interface {
	GetQuote(ctx context.Context, denom string) (Quote, error)
}

// ValidateQuote enforces the freshness and sanity bounds on a quote and
// returns its normalized price. Failing quotes abort the caller's operation;
// the vault never values assets on stale or absurd data.
func ValidateQuote(q Quote, now time.Time, maxAge time.Duration) (pricing.NormalizedPrice, error) {
	if q.ObservedAt.IsZero() {
		return pricing.NormalizedPrice{}, fmt.Errorf("%w: %s quote has no timestamp", types.ErrInvalidQuote, q.Denom)
	}
	age := now.Sub(q.ObservedAt)
	if age < 0 || age > maxAge {
		return pricing.NormalizedPrice{}, fmt.Errorf("%w: %s quote is %s old, limit %s", types.ErrStaleQuote, q.Denom, age, maxAge)
	}

	price, err := pricing.Normalize(q.RawPrice, q.RawExpo)
	if err != nil {
		return pricing.NormalizedPrice{}, fmt.Errorf("%s: %w", q.Denom, err)
	}
	if price.UsdMicro > MaxPriceUsdMicro {
		return pricing.NormalizedPrice{}, fmt.Errorf("%w: %s normalized price %d exceeds ceiling", types.ErrInvalidQuote, q.Denom, price.UsdMicro)
	}
	return price, nil
}

// FetchPrices resolves and validates quotes for every asset of a composition,
// in composition order. One bad quote fails the whole fetch.
func FetchPrices(ctx context.Context, p Provider, comp *types.VaultComposition, now time.Time, maxAge time.Duration) ([]pricing.NormalizedPrice, error) {
	prices := make([]pricing.NormalizedPrice, len(comp.Assets))
	for i, asset := range comp.Assets {
		quote, err := p.GetQuote(ctx, asset.Denom)
		if err != nil {
			return nil, fmt.Errorf("quote for %s: %w", asset.Denom, err)
		}
		price, err := ValidateQuote(quote, now, maxAge)
		if err != nil {
			return nil, err
		}
		prices[i] = price
	}
	return prices, nil
}

// Feed account layout constants. The feed publishes an i128 little-endian
// mantissa and an i32 scale at fixed offsets inside the account blob.
const (
	feedMinLen         = 100
	feedMantissaOffset = 72
	feedScaleOffset    = 88

	feedMaxRawPrice = int64(10_000_000)
)

var feedMantissaCeiling = sdkmath.NewIntWithDecimal(1, 18)

// DecodeFeedAccount extracts a raw quote from a feed account blob.
//
// The mantissa must be positive and below 10^18, and the descaled price must
// stay under the raw ceiling before the standard -8 exponent applies.
func DecodeFeedAccount(denom string, data []byte, observedAt time.Time) (Quote, error) {
	if len(data) < feedMinLen {
		return Quote{}, fmt.Errorf("%w: %s feed account is %d bytes, need %d", types.ErrInvalidQuote, denom, len(data), feedMinLen)
	}

	mantissa := decodeI128LE(data[feedMantissaOffset : feedMantissaOffset+16])
	if !mantissa.IsPositive() || mantissa.GTE(feedMantissaCeiling) {
		return Quote{}, fmt.Errorf("%w: %s feed mantissa out of range", types.ErrInvalidQuote, denom)
	}

	scale := int32(binary.LittleEndian.Uint32(data[feedScaleOffset : feedScaleOffset+4]))
	if scale < 0 || scale > 18 {
		return Quote{}, fmt.Errorf("%w: %s feed scale %d out of range", types.ErrInvalidQuote, denom, scale)
	}

	// Descale to 8 fractional digits so every feed lands on expo -8.
	raw := mantissa
	switch {
	case scale > 8:
		raw = raw.Quo(sdkmath.NewIntWithDecimal(1, int(scale-8)))
	case scale < 8:
		raw = raw.Mul(sdkmath.NewIntWithDecimal(1, int(8-scale)))
	}
	if !raw.IsInt64() || raw.Int64() <= 0 {
		return Quote{}, fmt.Errorf("%w: %s descaled feed price out of range", types.ErrInvalidQuote, denom)
	}
	rawPrice := raw.Int64()
	if rawPrice/100_000_000 >= feedMaxRawPrice {
		return Quote{}, fmt.Errorf("%w: %s feed price %d exceeds raw ceiling", types.ErrInvalidQuote, denom, rawPrice)
	}

	return Quote{
		Denom:      denom,
		RawPrice:   rawPrice,
		RawExpo:    -8,
		ObservedAt: observedAt,
	}, nil
}

// decodeI128LE reads a little-endian signed 128-bit integer.
func decodeI128LE(b []byte) sdkmath.Int {
	lo := binary.LittleEndian.Uint64(b[0:8])
	hi := int64(binary.LittleEndian.Uint64(b[8:16]))

	result := sdkmath.NewInt(hi).Mul(sdkmath.NewIntFromUint64(1 << 63).MulRaw(2))
	return result.Add(sdkmath.NewIntFromUint64(lo))
}
