/*

This file contains the issuance/redemption calculator: how many shares a
deposit mints, how a deposit splits across the basket by target weight, and
the proportional per-asset amounts a share burn releases, including the
delegated-strategy unwind and its yield attribution.

*/

package shares

import (
	"fmt"
	"math"

	sdkmath "cosmossdk.io/math"
	"github.com/basketlabs/bvm/internal/pricing"
	"github.com/basketlabs/bvm/internal/types"
)

const (
	// shareDecimalsScale lifts deposit value to 9-decimal share precision.
	shareDecimalsScale = 1_000_000_000
	// microAdjust scales the 9-decimal result back against micro-dollars.
	microAdjust = 1_000

	// FractionScale is the precision of withdrawal fractions.
	FractionScale = 1_000_000
)

// Allocation is one asset's slice of a deposit.
type Allocation struct {
	Asset  types.AssetAllocation
	Amount uint64 // settlement-asset native units allotted to this asset
}

// WithdrawalPlan is the computed release for a share burn. All amounts are
// derived from a single withdrawal fraction so a 100% burn drains every
// balance exactly.
type WithdrawalPlan struct {
	Fraction       uint64   // shares * FractionScale / totalShares
	AssetAmounts   []uint64 // per asset, composition order
	StrategyUnwind uint64   // strategy native units to unstake
	PrincipalSlice uint64   // delegated principal covered by this burn
	FullRedemption bool
}

// SharesToMint computes issuance for a deposit value at the given share
// price: deposit x 10^9 / price / 10^3, all checked, truncating toward zero.
func SharesToMint(depositUsdMicro, sharePriceUsdMicro int64) (uint64, error) {
	if sharePriceUsdMicro <= 0 {
		return 0, fmt.Errorf("%w: share price %d", types.ErrInvalidPrice, sharePriceUsdMicro)
	}
	if depositUsdMicro <= 0 {
		return 0, fmt.Errorf("%w: deposit value %d", types.ErrInvalidAmount, depositUsdMicro)
	}

	scaled, err := pricing.CheckedMul(depositUsdMicro, shareDecimalsScale)
	if err != nil {
		return 0, err
	}
	shares, err := pricing.CheckedDiv(scaled, sharePriceUsdMicro)
	if err != nil {
		return 0, err
	}
	shares, err = pricing.CheckedDiv(shares, microAdjust)
	if err != nil {
		return 0, err
	}
	return uint64(shares), nil
}

// AllocateDeposit splits a settlement-asset deposit across the basket in
// proportion to target weight, integer truncation per asset. The staked-role
// asset's slice is flagged for strategy delegation by the caller.
func AllocateDeposit(amount uint64, comp *types.VaultComposition) ([]Allocation, error) {
	if amount == 0 {
		return nil, types.ErrInvalidAmount
	}
	if amount > math.MaxInt64 {
		return nil, fmt.Errorf("%w: deposit %d exceeds signed range", types.ErrMathOverflow, amount)
	}

	allocations := make([]Allocation, 0, len(comp.Assets))
	for _, asset := range comp.Assets {
		scaled, err := pricing.CheckedMul(int64(amount), asset.TargetWeight)
		if err != nil {
			return nil, fmt.Errorf("asset %s: %w", asset.Denom, err)
		}
		slice, err := pricing.CheckedDiv(scaled, types.WeightScale)
		if err != nil {
			return nil, fmt.Errorf("asset %s: %w", asset.Denom, err)
		}
		allocations = append(allocations, Allocation{Asset: asset, Amount: uint64(slice)})
	}
	return allocations, nil
}

// PlanWithdrawal computes the proportional release for burning sharesToBurn
// out of totalShares. delegatedValue and delegatedPrincipal describe the
// yield strategy position; both are zero when no strategy is set.
func PlanWithdrawal(sharesToBurn, totalShares, holderShares uint64, balances []uint64, delegatedValue, delegatedPrincipal uint64) (WithdrawalPlan, error) {
	if sharesToBurn == 0 {
		return WithdrawalPlan{}, types.ErrInvalidAmount
	}
	if sharesToBurn > totalShares {
		return WithdrawalPlan{}, fmt.Errorf("%w: burning %d of %d outstanding", types.ErrInsufficientShares, sharesToBurn, totalShares)
	}
	if sharesToBurn > holderShares {
		return WithdrawalPlan{}, fmt.Errorf("%w: holder owns %d, burning %d", types.ErrInsufficientShares, holderShares, sharesToBurn)
	}

	full := sharesToBurn == totalShares

	// Fraction and per-asset amounts use wide intermediates: balance and
	// share counts are u64, so balance * fraction needs 128 bits.
	burn := sdkmath.NewIntFromUint64(sharesToBurn)
	supply := sdkmath.NewIntFromUint64(totalShares)
	scale := sdkmath.NewInt(FractionScale)
	fraction := burn.Mul(scale).Quo(supply)

	plan := WithdrawalPlan{
		Fraction:       fraction.Uint64(),
		AssetAmounts:   make([]uint64, len(balances)),
		FullRedemption: full,
	}

	for i, balance := range balances {
		if full {
			// 100% burns release the exact balance; the fraction path
			// would strand truncation dust in the pool.
			plan.AssetAmounts[i] = balance
			continue
		}
		amount := sdkmath.NewIntFromUint64(balance).Mul(fraction).Quo(scale)
		plan.AssetAmounts[i] = amount.Uint64()
	}

	if delegatedValue > 0 {
		if full {
			plan.StrategyUnwind = delegatedValue
			plan.PrincipalSlice = delegatedPrincipal
		} else {
			plan.StrategyUnwind = sdkmath.NewIntFromUint64(delegatedValue).Mul(fraction).Quo(scale).Uint64()
			plan.PrincipalSlice = sdkmath.NewIntFromUint64(delegatedPrincipal).Mul(fraction).Quo(scale).Uint64()
		}
	}

	return plan, nil
}

// YieldComponent attributes the strategy yield in a withdrawal: the amount
// actually received minus the principal slice the burn covered. A strategy
// that lost value yields a negative number, which is reported as-is.
func YieldComponent(received, principalSlice uint64) (int64, error) {
	if received > math.MaxInt64 || principalSlice > math.MaxInt64 {
		return 0, fmt.Errorf("%w: yield inputs exceed signed range", types.ErrMathOverflow)
	}
	return int64(received) - int64(principalSlice), nil
}
