/*

This file contains the drift rebalancer: per-asset weight drift against
targets, the decision of whether rebalancing is required, and the greedy
generation of a bounded swap plan that corrects the drift.

Both entry points are pure functions over a snapshot. Computing a plan twice
on the same inputs yields the same plan, which is what lets the confidential
execution path produce the identical decision.

*/

package rebalancer

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/basketlabs/bvm/internal/pricing"
	"github.com/basketlabs/bvm/internal/types"
	"github.com/basketlabs/bvm/internal/valuation"
)

const (
	// MaxSwapsPerPlan bounds plan size for a single rebalance attempt.
	MaxSwapsPerPlan = 6

	// DustFloorUsdMicro is the smallest correction worth a swap: $1.
	DustFloorUsdMicro = 1_000_000

	// Slippage tolerance on expected output: min_amount_out is 99% of the
	// output implied by current prices. Policy constant, not derived.
	slippageNumerator   = 99
	slippageDenominator = 100
)

// leg is one side of a drift correction during plan construction.
type leg struct {
	index        int
	remainingUsd int64
}

// EvaluateDrift computes each asset's deviation from its target weight.
//
// An empty pool short-circuits: every weight reports as zero and no rebalance
// is triggered, so a fresh vault never divides by zero.
func EvaluateDrift(balances []uint64, prices []pricing.NormalizedPrice, comp *types.VaultComposition, decimals []uint8, thresholdPercent int64) (types.DriftReport, error) {
	if len(balances) != len(comp.Assets) || len(prices) != len(comp.Assets) || len(decimals) != len(comp.Assets) {
		return types.DriftReport{}, fmt.Errorf("%w: composition has %d assets", types.ErrInputMismatch, len(comp.Assets))
	}

	values, totalUsd, err := valuation.AssetValues(balances, prices, decimals)
	if err != nil {
		return types.DriftReport{}, err
	}

	report := types.DriftReport{
		TotalUsdMicro: totalUsd,
		Entries:       make([]types.DriftEntry, len(comp.Assets)),
	}

	for i, asset := range comp.Assets {
		entry := types.DriftEntry{
			Denom:           asset.Denom,
			CurrentUsdMicro: values[i],
			TargetWeight:    asset.TargetWeight,
		}

		if totalUsd > 0 {
			targetUsd, err := pricing.CheckedMul(totalUsd, asset.TargetWeight)
			if err != nil {
				return types.DriftReport{}, err
			}
			entry.TargetUsdMicro = targetUsd / types.WeightScale

			weighted, err := pricing.CheckedMul(values[i], types.WeightScale)
			if err != nil {
				return types.DriftReport{}, err
			}
			entry.CurrentWeight = weighted / totalUsd
			entry.Drift = entry.CurrentWeight - entry.TargetWeight
			// Strict comparison: drift exactly at the threshold stays put.
			if abs64(entry.Drift) > thresholdPercent {
				entry.ExceedsThreshold = true
				report.NeedsRebalance = true
			}
		}

		report.Entries[i] = entry
	}

	return report, nil
}

// PlanRebalance turns a drift report into a bounded sequence of swap
// instructions. Excess assets are matched greedily against deficit assets in
// encounter order; each pair swaps min(remaining excess, remaining deficit)
// of USD value, converted to the excess asset's native amount at current
// prices.
func PlanRebalance(report types.DriftReport, prices []pricing.NormalizedPrice, comp *types.VaultComposition, decimals []uint8) (types.SwapPlan, error) {
	if len(prices) != len(report.Entries) || len(decimals) != len(report.Entries) {
		return types.SwapPlan{}, fmt.Errorf("%w: report has %d entries", types.ErrInputMismatch, len(report.Entries))
	}

	plan := types.SwapPlan{}
	if !report.NeedsRebalance || report.TotalUsdMicro <= 0 {
		return plan, nil
	}

	var excess, deficit []leg
	for i, entry := range report.Entries {
		delta := entry.CurrentUsdMicro - entry.TargetUsdMicro
		switch {
		case delta > 0:
			excess = append(excess, leg{index: i, remainingUsd: delta})
		case delta < 0:
			deficit = append(deficit, leg{index: i, remainingUsd: -delta})
		}
	}

	for e := range excess {
		for d := range deficit {
			if len(plan.Swaps) >= MaxSwapsPerPlan {
				return plan, nil
			}
			swapUsd := min64(excess[e].remainingUsd, deficit[d].remainingUsd)
			if swapUsd <= DustFloorUsdMicro {
				continue
			}

			from := report.Entries[excess[e].index]
			to := report.Entries[deficit[d].index]

			amountIn, err := prices[excess[e].index].UsdToTokens(swapUsd, decimals[excess[e].index])
			if err != nil {
				return types.SwapPlan{}, fmt.Errorf("%s: %w", from.Denom, err)
			}
			expectedOut, err := expectedSwapOutput(
				uint64(amountIn),
				prices[excess[e].index], prices[deficit[d].index],
				decimals[excess[e].index], decimals[deficit[d].index],
			)
			if err != nil {
				return types.SwapPlan{}, fmt.Errorf("%s->%s: %w", from.Denom, to.Denom, err)
			}

			minOut := sdkmath.NewIntFromUint64(expectedOut).
				MulRaw(slippageNumerator).QuoRaw(slippageDenominator)

			plan.Swaps = append(plan.Swaps, types.SwapInstruction{
				FromDenom:    from.Denom,
				ToDenom:      to.Denom,
				AmountIn:     uint64(amountIn),
				MinAmountOut: minOut.Uint64(),
				UsdMicro:     swapUsd,
			})

			excess[e].remainingUsd -= swapUsd
			deficit[d].remainingUsd -= swapUsd
			if excess[e].remainingUsd <= 0 {
				break
			}
		}
	}

	return plan, nil
}

// expectedSwapOutput converts an input amount of one asset into the expected
// output of another at current prices:
//
//	out = in * fromPrice * 10^toDecimals / (toPrice * 10^fromDecimals)
//
// Intermediates exceed 64 bits for high-decimal assets, so the math runs on
// sdkmath.Int and is bounds-checked back into uint64.
func expectedSwapOutput(amountIn uint64, fromPrice, toPrice pricing.NormalizedPrice, fromDecimals, toDecimals uint8) (uint64, error) {
	if toPrice.UsdMicro <= 0 {
		return 0, fmt.Errorf("%w: output asset price %d", types.ErrInvalidPrice, toPrice.UsdMicro)
	}

	value := sdkmath.NewIntFromUint64(amountIn).MulRaw(fromPrice.UsdMicro)

	diff := int(toDecimals) - int(fromDecimals)
	if diff > 0 {
		value = value.Mul(sdkmath.NewIntWithDecimal(1, diff))
	} else if diff < 0 {
		value = value.Quo(sdkmath.NewIntWithDecimal(1, -diff))
	}

	out := value.QuoRaw(toPrice.UsdMicro)
	if out.IsNegative() || !out.IsUint64() {
		return 0, fmt.Errorf("%w: swap output out of range", types.ErrMathOverflow)
	}
	return out.Uint64(), nil
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
