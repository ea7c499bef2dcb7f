/*

This file contains the valuation engine: per-asset USD values, total value
locked, and the share price derived from them. Share prices are computed with
9 extra decimals internally and truncated toward zero, so rounding dust stays
in the pool rather than leaking to the protocol.

*/

package valuation

import (
	"fmt"
	"math"

	"github.com/basketlabs/bvm/internal/pricing"
	"github.com/basketlabs/bvm/internal/types"
)

const (
	// BootstrapSharePrice is the share price when no shares exist: $1.00.
	BootstrapSharePrice = 1_000_000

	// shareDecimalsScale lifts TVL to 9-decimal share precision.
	shareDecimalsScale = 1_000_000_000
	// microAdjust scales the 9-decimal result back to micro-dollars.
	microAdjust = 1_000
)

// Snapshot is the ephemeral result of one valuation pass.
type Snapshot struct {
	AssetUsdMicro   []int64 `json:"asset_usd_micro"`
	TvlUsdMicro     int64   `json:"tvl_usd_micro"`
	SharePriceMicro int64   `json:"share_price_micro"`
	TotalShares     uint64  `json:"total_shares"`
}

// ComputeTVL sums the USD value of every asset balance plus the current value
// of any delegated strategy position. Addition is checked; overflow fails.
func ComputeTVL(balances []uint64, prices []pricing.NormalizedPrice, decimals []uint8, strategyValueUsd int64) (int64, error) {
	if len(balances) != len(prices) || len(balances) != len(decimals) {
		return 0, fmt.Errorf("%w: %d balances, %d prices, %d decimals",
			types.ErrInputMismatch, len(balances), len(prices), len(decimals))
	}

	total := strategyValueUsd
	for i := range balances {
		value, err := prices[i].TokensToUsd(balances[i], decimals[i])
		if err != nil {
			return 0, fmt.Errorf("asset %d: %w", i, err)
		}
		total, err = pricing.CheckedAdd(total, value)
		if err != nil {
			return 0, fmt.Errorf("asset %d: %w", i, err)
		}
	}
	return total, nil
}

// AssetValues returns the per-asset USD values alongside their checked sum.
func AssetValues(balances []uint64, prices []pricing.NormalizedPrice, decimals []uint8) ([]int64, int64, error) {
	if len(balances) != len(prices) || len(balances) != len(decimals) {
		return nil, 0, fmt.Errorf("%w: %d balances, %d prices, %d decimals",
			types.ErrInputMismatch, len(balances), len(prices), len(decimals))
	}

	values := make([]int64, len(balances))
	var total int64
	for i := range balances {
		value, err := prices[i].TokensToUsd(balances[i], decimals[i])
		if err != nil {
			return nil, 0, fmt.Errorf("asset %d: %w", i, err)
		}
		values[i] = value
		total, err = pricing.CheckedAdd(total, value)
		if err != nil {
			return nil, 0, fmt.Errorf("asset %d: %w", i, err)
		}
	}
	return values, total, nil
}

// ComputeSharePrice returns the micro-dollar price of one share unit.
//
// With no shares outstanding the price is exactly $1.00 regardless of TVL
// (bootstrap case). A non-positive TVL while shares exist means assets were
// lost or undercounted; that surfaces as ErrUndefinedSharePrice instead of a
// fallback price.
func ComputeSharePrice(tvlUsdMicro int64, totalShares uint64) (int64, error) {
	if totalShares == 0 {
		return BootstrapSharePrice, nil
	}
	if tvlUsdMicro <= 0 {
		return 0, fmt.Errorf("%w: tvl=%d shares=%d", types.ErrUndefinedSharePrice, tvlUsdMicro, totalShares)
	}
	if totalShares > math.MaxInt64 {
		return 0, fmt.Errorf("%w: share supply %d exceeds signed range", types.ErrMathOverflow, totalShares)
	}

	scaled, err := pricing.CheckedMul(tvlUsdMicro, shareDecimalsScale)
	if err != nil {
		return 0, err
	}
	perShare, err := pricing.CheckedDiv(scaled, int64(totalShares))
	if err != nil {
		return 0, err
	}
	return pricing.CheckedDiv(perShare, microAdjust)
}

// ComputeSnapshot runs a full valuation pass for one vault state.
func ComputeSnapshot(balances []uint64, prices []pricing.NormalizedPrice, decimals []uint8, strategyValueUsd int64, totalShares uint64) (Snapshot, error) {
	values, sum, err := AssetValues(balances, prices, decimals)
	if err != nil {
		return Snapshot{}, err
	}
	tvl, err := pricing.CheckedAdd(sum, strategyValueUsd)
	if err != nil {
		return Snapshot{}, err
	}
	sharePrice, err := ComputeSharePrice(tvl, totalShares)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		AssetUsdMicro:   values,
		TvlUsdMicro:     tvl,
		SharePriceMicro: sharePrice,
		TotalShares:     totalShares,
	}, nil
}
