package rebalancer

import (
	"errors"
	"reflect"
	"testing"

	"github.com/basketlabs/bvm/internal/pricing"
	"github.com/basketlabs/bvm/internal/types"
)

func testComposition(t *testing.T, weights ...int64) *types.VaultComposition {
	t.Helper()
	symbols := []string{"USDC", "BTC", "SOL", "ETH"}
	denoms := []string{"uusdc", "ubtc", "usol", "ueth"}
	assets := make([]types.AssetAllocation, len(weights))
	for i, w := range weights {
		assets[i] = types.AssetAllocation{
			Symbol:       symbols[i],
			Denom:        denoms[i],
			TargetWeight: w,
			Decimals:     6,
			Role:         types.RoleSwapped,
		}
	}
	assets[0].Role = types.RoleSettlement
	comp, err := types.NewVaultComposition("owner", "test-basket", "share", assets)
	if err != nil {
		t.Fatalf("composition: %v", err)
	}
	return comp
}

func dollarPrices(n int) []pricing.NormalizedPrice {
	prices := make([]pricing.NormalizedPrice, n)
	for i := range prices {
		prices[i] = pricing.NormalizedPrice{UsdMicro: 1_000_000}
	}
	return prices
}

func sixDecimals(n int) []uint8 {
	decimals := make([]uint8, n)
	for i := range decimals {
		decimals[i] = 6
	}
	return decimals
}

func TestEvaluateDrift(t *testing.T) {
	comp := testComposition(t, 50, 50)
	prices := dollarPrices(2)
	decimals := sixDecimals(2)

	t.Run("EmptyPoolShortCircuits", func(t *testing.T) {
		report, err := EvaluateDrift([]uint64{0, 0}, prices, comp, decimals, 5)
		if err != nil {
			t.Fatalf("EvaluateDrift() unexpected error: %v", err)
		}
		if report.NeedsRebalance {
			t.Error("empty pool flagged for rebalance")
		}
		for i, entry := range report.Entries {
			if entry.CurrentWeight != 0 || entry.Drift != 0 {
				t.Errorf("entry %d has nonzero weight on empty pool: %+v", i, entry)
			}
		}
	})

	t.Run("BalancedPoolBelowThreshold", func(t *testing.T) {
		report, err := EvaluateDrift([]uint64{50_000_000, 50_000_000}, prices, comp, decimals, 5)
		if err != nil {
			t.Fatalf("EvaluateDrift() unexpected error: %v", err)
		}
		if report.NeedsRebalance {
			t.Error("balanced pool flagged for rebalance")
		}
	})

	t.Run("DriftAtThresholdNotFlagged", func(t *testing.T) {
		// 55/45 split is exactly 5 points of drift.
		report, err := EvaluateDrift([]uint64{55_000_000, 45_000_000}, prices, comp, decimals, 5)
		if err != nil {
			t.Fatalf("EvaluateDrift() unexpected error: %v", err)
		}
		if report.NeedsRebalance {
			t.Error("drift equal to threshold was flagged")
		}
	})

	t.Run("DriftBeyondThresholdFlagged", func(t *testing.T) {
		report, err := EvaluateDrift([]uint64{56_000_000, 44_000_000}, prices, comp, decimals, 5)
		if err != nil {
			t.Fatalf("EvaluateDrift() unexpected error: %v", err)
		}
		if !report.NeedsRebalance {
			t.Fatal("6 points of drift not flagged")
		}
		if !report.Entries[0].ExceedsThreshold {
			t.Error("over-weight entry not marked")
		}
		if report.Entries[0].Drift != 6 || report.Entries[1].Drift != -6 {
			t.Errorf("drifts = %d, %d, want 6, -6", report.Entries[0].Drift, report.Entries[1].Drift)
		}
	})

	t.Run("LengthMismatch", func(t *testing.T) {
		if _, err := EvaluateDrift([]uint64{1}, prices, comp, decimals, 5); !errors.Is(err, types.ErrInputMismatch) {
			t.Errorf("mismatched inputs = %v, want ErrInputMismatch", err)
		}
	})
}

func TestPlanRebalance(t *testing.T) {
	comp := testComposition(t, 50, 50)
	prices := dollarPrices(2)
	decimals := sixDecimals(2)

	t.Run("NoRebalanceNoSwaps", func(t *testing.T) {
		report, err := EvaluateDrift([]uint64{50_000_000, 50_000_000}, prices, comp, decimals, 5)
		if err != nil {
			t.Fatalf("EvaluateDrift(): %v", err)
		}
		plan, err := PlanRebalance(report, prices, comp, decimals)
		if err != nil {
			t.Fatalf("PlanRebalance() unexpected error: %v", err)
		}
		if len(plan.Swaps) != 0 {
			t.Errorf("balanced pool produced %d swaps", len(plan.Swaps))
		}
	})

	t.Run("ExcessMovesToDeficit", func(t *testing.T) {
		report, err := EvaluateDrift([]uint64{70_000_000, 30_000_000}, prices, comp, decimals, 5)
		if err != nil {
			t.Fatalf("EvaluateDrift(): %v", err)
		}
		plan, err := PlanRebalance(report, prices, comp, decimals)
		if err != nil {
			t.Fatalf("PlanRebalance() unexpected error: %v", err)
		}
		if len(plan.Swaps) != 1 {
			t.Fatalf("got %d swaps, want 1", len(plan.Swaps))
		}
		swap := plan.Swaps[0]
		if swap.FromDenom != "uusdc" || swap.ToDenom != "ubtc" {
			t.Errorf("swap direction %s->%s, want uusdc->ubtc", swap.FromDenom, swap.ToDenom)
		}
		if swap.UsdMicro != 20_000_000 {
			t.Errorf("swap moves %d micro, want 20000000", swap.UsdMicro)
		}
		if swap.AmountIn != 20_000_000 {
			t.Errorf("AmountIn = %d, want 20000000 at $1", swap.AmountIn)
		}
		wantMinOut := uint64(20_000_000) * 99 / 100
		if swap.MinAmountOut != wantMinOut {
			t.Errorf("MinAmountOut = %d, want %d", swap.MinAmountOut, wantMinOut)
		}
	})

	t.Run("DustCorrectionsSkipped", func(t *testing.T) {
		comp4 := testComposition(t, 40, 30, 20, 10)
		prices4 := dollarPrices(4)
		decimals4 := sixDecimals(4)

		// Fourth asset is short by less than a dollar; the big imbalance
		// sits between the first two.
		balances := []uint64{10_000_000, 500_000, 4_600_000, 900_000}
		report, err := EvaluateDrift(balances, prices4, comp4, decimals4, 5)
		if err != nil {
			t.Fatalf("EvaluateDrift(): %v", err)
		}
		plan, err := PlanRebalance(report, prices4, comp4, decimals4)
		if err != nil {
			t.Fatalf("PlanRebalance() unexpected error: %v", err)
		}
		for _, swap := range plan.Swaps {
			if swap.UsdMicro <= DustFloorUsdMicro {
				t.Errorf("swap of %d micro is at or below the dust floor", swap.UsdMicro)
			}
		}
	})

	t.Run("Deterministic", func(t *testing.T) {
		comp4 := testComposition(t, 40, 30, 20, 10)
		prices4 := dollarPrices(4)
		decimals4 := sixDecimals(4)
		balances := []uint64{80_000_000, 10_000_000, 5_000_000, 5_000_000}

		report1, err := EvaluateDrift(balances, prices4, comp4, decimals4, 5)
		if err != nil {
			t.Fatalf("EvaluateDrift(): %v", err)
		}
		plan1, err := PlanRebalance(report1, prices4, comp4, decimals4)
		if err != nil {
			t.Fatalf("PlanRebalance(): %v", err)
		}

		report2, err := EvaluateDrift(balances, prices4, comp4, decimals4, 5)
		if err != nil {
			t.Fatalf("EvaluateDrift(): %v", err)
		}
		plan2, err := PlanRebalance(report2, prices4, comp4, decimals4)
		if err != nil {
			t.Fatalf("PlanRebalance(): %v", err)
		}

		if !reflect.DeepEqual(plan1, plan2) {
			t.Errorf("same snapshot produced different plans:\n%+v\n%+v", plan1, plan2)
		}
	})
}

func TestPlanRebalanceSwapCap(t *testing.T) {
	// Ten assets, nine deficits against one big excess: the plan stops at
	// the cap.
	assets := make([]types.AssetAllocation, 10)
	for i := range assets {
		assets[i] = types.AssetAllocation{
			Symbol:       "A",
			Denom:        "denom" + string(rune('a'+i)),
			TargetWeight: 10,
			Decimals:     6,
			Role:         types.RoleSwapped,
		}
	}
	comp, err := types.NewVaultComposition("owner", "wide-basket", "share", assets)
	if err != nil {
		t.Fatalf("composition: %v", err)
	}

	balances := make([]uint64, 10)
	balances[0] = 1_000_000_000 // everything in the first asset
	prices := dollarPrices(10)
	decimals := sixDecimals(10)

	report, err := EvaluateDrift(balances, prices, comp, decimals, 5)
	if err != nil {
		t.Fatalf("EvaluateDrift(): %v", err)
	}
	if !report.NeedsRebalance {
		t.Fatal("fully concentrated pool not flagged")
	}

	plan, err := PlanRebalance(report, prices, comp, decimals)
	if err != nil {
		t.Fatalf("PlanRebalance(): %v", err)
	}
	if len(plan.Swaps) != MaxSwapsPerPlan {
		t.Errorf("plan has %d swaps, want cap of %d", len(plan.Swaps), MaxSwapsPerPlan)
	}
}
