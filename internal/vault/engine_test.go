package vault

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/basketlabs/bvm/internal/confidential"
	"github.com/basketlabs/bvm/internal/oracle"
	"github.com/basketlabs/bvm/internal/pricing"
	"github.com/basketlabs/bvm/internal/simulations"
	"github.com/basketlabs/bvm/internal/strategy"
	"github.com/basketlabs/bvm/internal/types"
)

var testClock = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

const testAuthority = "vault-operator"

type engineHarness struct {
	engine   *Engine
	balances *simulations.MemoryBalances
	exchange *simulations.SimulatedExchange
	provider *oracle.ManualProvider
	ledger   *strategy.Ledger
}

// newHarness wires an engine over in-memory collaborators. priceDollars maps
// denom to a whole-dollar quote published on the manual provider and mirrored
// on the simulated exchange.
func newHarness(t *testing.T, comp *types.VaultComposition, priceDollars map[string]int64, ledger *strategy.Ledger, withConfidential bool) *engineHarness {
	t.Helper()

	balances := simulations.NewMemoryBalances()
	exchange := simulations.NewSimulatedExchange(nil, nil, 0)
	provider := oracle.NewManualProvider(testAuthority)

	for _, asset := range comp.Assets {
		dollars, ok := priceDollars[asset.Denom]
		require.True(t, ok, "missing price for %s", asset.Denom)
		require.NoError(t, provider.SetQuote(testAuthority, asset.Denom, dollars, 0, testClock))
		exchange.SetPrice(asset.Denom, pricing.NormalizedPrice{UsdMicro: dollars * 1_000_000}, asset.Decimals)
	}

	var sealer *confidential.Sealer
	var computer confidential.Computer
	if withConfidential {
		var err error
		sealer, err = confidential.NewSealer(bytes.Repeat([]byte{0x17}, 32))
		require.NoError(t, err)
		computer = confidential.NewSealedComputer(sealer)
	}

	engine := NewEngine(comp, balances, exchange, provider, ledger, sealer, computer, Policy{
		DriftThresholdPercent: 5,
		MaxQuoteAge:           oracle.DefaultMaxQuoteAge,
	})
	engine.now = func() time.Time { return testClock }

	return &engineHarness{
		engine:   engine,
		balances: balances,
		exchange: exchange,
		provider: provider,
		ledger:   ledger,
	}
}

func twoAssetComposition(t *testing.T) *types.VaultComposition {
	t.Helper()
	comp, err := types.NewVaultComposition(testAuthority, "pair-basket", "bvshare", []types.AssetAllocation{
		{Symbol: "USDC", Denom: "uusdc", TargetWeight: 50, Decimals: 6, Role: types.RoleSettlement},
		{Symbol: "BTC", Denom: "ubtc", TargetWeight: 50, Decimals: 6, Role: types.RoleSwapped},
	})
	require.NoError(t, err)
	return comp
}

func stakedComposition(t *testing.T) *types.VaultComposition {
	t.Helper()
	comp, err := types.NewVaultComposition(testAuthority, "staked-basket", "bvshare", []types.AssetAllocation{
		{Symbol: "USDC", Denom: "uusdc", TargetWeight: 50, Decimals: 6, Role: types.RoleSettlement},
		{Symbol: "ATOM", Denom: "uatom", TargetWeight: 50, Decimals: 6, Role: types.RoleStaked},
	})
	require.NoError(t, err)
	return comp
}

func TestDepositBootstrapMintsAtFixedPrice(t *testing.T) {
	h := newHarness(t, twoAssetComposition(t), map[string]int64{"uusdc": 1, "ubtc": 2}, nil, false)

	// One thousand dollars of the settlement asset into an empty pool.
	receipt, err := h.engine.Deposit(context.Background(), "alice", 1_000_000_000)
	require.NoError(t, err)

	require.Equal(t, uint64(1_000_000_000), receipt.SharesMinted)
	require.Equal(t, int64(1_000_000), receipt.SharePriceMicro)
	require.Equal(t, int64(1_000_000_000), receipt.DepositUsdMicro)
	require.Equal(t, int64(1_000_000_000), receipt.TvlUsdMicro)
	require.Equal(t, uint64(1_000_000_000), h.engine.TotalShares())
	require.Equal(t, uint64(1_000_000_000), h.engine.HolderShares("alice"))

	// Half stays in the settlement asset, half is converted at $2.
	usdc, err := h.balances.Balance("uusdc")
	require.NoError(t, err)
	require.Equal(t, uint64(500_000_000), usdc)
	btc, err := h.balances.Balance("ubtc")
	require.NoError(t, err)
	require.Equal(t, uint64(250_000_000), btc)
}

func TestDepositSecondHolderMintsProportionally(t *testing.T) {
	h := newHarness(t, twoAssetComposition(t), map[string]int64{"uusdc": 1, "ubtc": 2}, nil, false)
	ctx := context.Background()

	_, err := h.engine.Deposit(ctx, "alice", 1_000_000_000)
	require.NoError(t, err)

	receipt, err := h.engine.Deposit(ctx, "bob", 500_000_000)
	require.NoError(t, err)

	// Prices unchanged, so the share price held at one dollar.
	require.Equal(t, int64(1_000_000), receipt.SharePriceMicro)
	require.Equal(t, uint64(500_000_000), receipt.SharesMinted)
	require.Equal(t, uint64(1_500_000_000), h.engine.TotalShares())
	require.Equal(t, uint64(500_000_000), h.engine.HolderShares("bob"))
}

func TestDepositEnforcesSlippageOnHighDecimalAssets(t *testing.T) {
	comp, err := types.NewVaultComposition(testAuthority, "meme-basket", "bvshare", []types.AssetAllocation{
		{Symbol: "USDC", Denom: "uusdc", TargetWeight: 50, Decimals: 6, Role: types.RoleSettlement},
		{Symbol: "SHIB", Denom: "ushib", TargetWeight: 50, Decimals: 18, Role: types.RoleSwapped},
	})
	require.NoError(t, err)

	balances := simulations.NewMemoryBalances()
	// 5% fee: fills land at 95% of the quoted output, under the 99% floor.
	exchange := simulations.NewSimulatedExchange(nil, nil, 500)
	exchange.SetPrice("uusdc", pricing.NormalizedPrice{UsdMicro: 1_000_000}, 6)
	exchange.SetPrice("ushib", pricing.NormalizedPrice{UsdMicro: 1}, 18)

	provider := oracle.NewManualProvider(testAuthority)
	require.NoError(t, provider.SetQuote(testAuthority, "uusdc", 1, 0, testClock))
	require.NoError(t, provider.SetQuote(testAuthority, "ushib", 1, -6, testClock))

	engine := NewEngine(comp, balances, exchange, provider, nil, nil, nil, Policy{DriftThresholdPercent: 5})
	engine.now = func() time.Time { return testClock }

	// Half the deposit converts into about 9e18 SHIB units, so the minimum
	// output sits near the top of the uint64 range and any wrap in the
	// slippage math would let the under-filled swap through.
	_, err = engine.Deposit(context.Background(), "alice", 18)
	require.Error(t, err)
	require.ErrorContains(t, err, "below minimum output")
	require.Equal(t, uint64(0), engine.TotalShares())
}

func TestDepositRejectsZeroAmount(t *testing.T) {
	h := newHarness(t, twoAssetComposition(t), map[string]int64{"uusdc": 1, "ubtc": 2}, nil, false)

	_, err := h.engine.Deposit(context.Background(), "alice", 0)
	require.ErrorIs(t, err, types.ErrInvalidAmount)
}

func TestDepositRejectsStaleQuote(t *testing.T) {
	h := newHarness(t, twoAssetComposition(t), map[string]int64{"uusdc": 1, "ubtc": 2}, nil, false)
	stale := testClock.Add(-oracle.DefaultMaxQuoteAge - time.Second)
	require.NoError(t, h.provider.SetQuote(testAuthority, "ubtc", 2, 0, stale))

	_, err := h.engine.Deposit(context.Background(), "alice", 1_000_000_000)
	require.ErrorIs(t, err, types.ErrStaleQuote)
}

func TestWithdrawHalfReleasesProportionalSlice(t *testing.T) {
	h := newHarness(t, twoAssetComposition(t), map[string]int64{"uusdc": 1, "ubtc": 2}, nil, false)
	ctx := context.Background()

	_, err := h.engine.Deposit(ctx, "alice", 1_000_000_000)
	require.NoError(t, err)

	receipt, err := h.engine.Withdraw(ctx, "alice", 500_000_000)
	require.NoError(t, err)

	require.Equal(t, []uint64{250_000_000, 125_000_000}, receipt.AmountsReleased)
	require.Equal(t, int64(500_000_000), receipt.ValueUsdMicro)
	require.Equal(t, uint64(500_000_000), receipt.SettlementAmount)
	require.Equal(t, int64(500_000_000), receipt.TvlUsdMicro)
	require.Equal(t, uint64(500_000_000), h.engine.TotalShares())

	usdc, err := h.balances.Balance("uusdc")
	require.NoError(t, err)
	require.Equal(t, uint64(250_000_000), usdc)
	btc, err := h.balances.Balance("ubtc")
	require.NoError(t, err)
	require.Equal(t, uint64(125_000_000), btc)
}

func TestWithdrawFullRedemptionDrainsPool(t *testing.T) {
	h := newHarness(t, twoAssetComposition(t), map[string]int64{"uusdc": 1, "ubtc": 2}, nil, false)
	ctx := context.Background()

	_, err := h.engine.Deposit(ctx, "alice", 1_000_000_000)
	require.NoError(t, err)

	receipt, err := h.engine.Withdraw(ctx, "alice", 1_000_000_000)
	require.NoError(t, err)

	require.Equal(t, []uint64{500_000_000, 250_000_000}, receipt.AmountsReleased)
	require.Equal(t, int64(0), receipt.TvlUsdMicro)
	require.Equal(t, uint64(0), h.engine.TotalShares())
	require.Equal(t, uint64(0), h.engine.HolderShares("alice"))

	for _, denom := range []string{"uusdc", "ubtc"} {
		bal, err := h.balances.Balance(denom)
		require.NoError(t, err)
		require.Equal(t, uint64(0), bal, "residual %s after full redemption", denom)
	}
}

func TestWithdrawRejectsExcessBurn(t *testing.T) {
	h := newHarness(t, twoAssetComposition(t), map[string]int64{"uusdc": 1, "ubtc": 2}, nil, false)
	ctx := context.Background()

	_, err := h.engine.Deposit(ctx, "alice", 1_000_000_000)
	require.NoError(t, err)

	_, err = h.engine.Withdraw(ctx, "alice", 2_000_000_000)
	require.ErrorIs(t, err, types.ErrInsufficientShares)

	_, err = h.engine.Withdraw(ctx, "mallory", 1)
	require.ErrorIs(t, err, types.ErrInsufficientShares)
}

func TestRebalanceBelowThresholdIsNoop(t *testing.T) {
	h := newHarness(t, twoAssetComposition(t), map[string]int64{"uusdc": 1, "ubtc": 2}, nil, false)
	ctx := context.Background()

	_, err := h.engine.Deposit(ctx, "alice", 1_000_000_000)
	require.NoError(t, err)

	receipt, err := h.engine.Rebalance(ctx)
	require.NoError(t, err)

	require.False(t, receipt.Report.NeedsRebalance)
	require.False(t, receipt.Executed)
	require.Empty(t, receipt.Plan.Swaps)
	require.Empty(t, receipt.Results)
}

func TestRebalanceCorrectsDrift(t *testing.T) {
	h := newHarness(t, twoAssetComposition(t), map[string]int64{"uusdc": 1, "ubtc": 2}, nil, false)
	ctx := context.Background()

	// Seed a 70/30 split against a 50/50 target.
	require.NoError(t, h.balances.Credit("uusdc", 700_000_000))
	require.NoError(t, h.balances.Credit("ubtc", 150_000_000))

	receipt, err := h.engine.Rebalance(ctx)
	require.NoError(t, err)

	require.True(t, receipt.Report.NeedsRebalance)
	require.True(t, receipt.Executed)
	require.Len(t, receipt.Results, 1)
	require.NotEmpty(t, receipt.CycleID)
	require.NotEmpty(t, receipt.Plan.PlanID)

	usdc, err := h.balances.Balance("uusdc")
	require.NoError(t, err)
	require.Equal(t, uint64(500_000_000), usdc)
	btc, err := h.balances.Balance("ubtc")
	require.NoError(t, err)
	require.Equal(t, uint64(250_000_000), btc)
}

func TestRebalanceConfidentialMatchesPlaintext(t *testing.T) {
	ctx := context.Background()
	prices := map[string]int64{"uusdc": 1, "ubtc": 2}

	plain := newHarness(t, twoAssetComposition(t), prices, nil, false)
	sealed := newHarness(t, twoAssetComposition(t), prices, nil, true)

	for _, h := range []*engineHarness{plain, sealed} {
		require.NoError(t, h.balances.Credit("uusdc", 700_000_000))
		require.NoError(t, h.balances.Credit("ubtc", 150_000_000))
	}

	plainReceipt, err := plain.engine.Rebalance(ctx)
	require.NoError(t, err)
	sealedReceipt, err := sealed.engine.RebalanceConfidential(ctx)
	require.NoError(t, err)

	require.True(t, sealedReceipt.Confidential)
	require.False(t, plainReceipt.Confidential)
	require.Equal(t, plainReceipt.Report, sealedReceipt.Report)
	require.Equal(t, plainReceipt.Plan.Swaps, sealedReceipt.Plan.Swaps)
	require.Equal(t, plainReceipt.Executed, sealedReceipt.Executed)

	for _, denom := range []string{"uusdc", "ubtc"} {
		pb, err := plain.balances.Balance(denom)
		require.NoError(t, err)
		sb, err := sealed.balances.Balance(denom)
		require.NoError(t, err)
		require.Equal(t, pb, sb, "post-rebalance %s balance diverged", denom)
	}
}

func TestRebalanceConfidentialRequiresConfiguration(t *testing.T) {
	h := newHarness(t, twoAssetComposition(t), map[string]int64{"uusdc": 1, "ubtc": 2}, nil, false)

	_, err := h.engine.RebalanceConfidential(context.Background())
	require.ErrorIs(t, err, types.ErrUnauthorized)
}

func TestDepositDelegatesStakedSlice(t *testing.T) {
	ledger := strategy.NewLedger(strategy.NewSimulatedStrategy("sim-staking", 0))
	h := newHarness(t, stakedComposition(t), map[string]int64{"uusdc": 1, "uatom": 1}, ledger, false)
	ctx := context.Background()

	receipt, err := h.engine.Deposit(ctx, "alice", 1_000_000_000)
	require.NoError(t, err)
	require.Equal(t, uint64(500_000_000), receipt.StakedAmount)

	// The staked slice left the balance store for the strategy venue.
	atom, err := h.balances.Balance("uatom")
	require.NoError(t, err)
	require.Equal(t, uint64(0), atom)

	delegation, err := h.engine.Delegation(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(500_000_000), delegation.Principal)
	require.Equal(t, uint64(500_000_000), delegation.CurrentValue)

	// The delegated value still counts toward the pool.
	snap, _, err := h.engine.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000_000), snap.TvlUsdMicro)
	require.Equal(t, int64(1_000_000), snap.SharePriceMicro)
}

// brokenStrategy refuses every stake call.
type brokenStrategy struct{}

func (brokenStrategy) Name() string { return "broken" }
func (brokenStrategy) Stake(context.Context, uint64) error {
	return errVenueDown
}
func (brokenStrategy) Unstake(context.Context, uint64) (uint64, error) {
	return 0, errVenueDown
}
func (brokenStrategy) CurrentValue(context.Context) (uint64, error) {
	return 0, nil
}

var errVenueDown = fmt.Errorf("staking venue unavailable")

func TestDepositStakeFailureMintsNoShares(t *testing.T) {
	ledger := strategy.NewLedger(brokenStrategy{})
	h := newHarness(t, stakedComposition(t), map[string]int64{"uusdc": 1, "uatom": 1}, ledger, false)

	_, err := h.engine.Deposit(context.Background(), "alice", 1_000_000_000)
	require.ErrorIs(t, err, errVenueDown)

	require.Equal(t, uint64(0), h.engine.TotalShares())
	require.Equal(t, uint64(0), h.engine.HolderShares("alice"))
	require.Equal(t, uint64(0), ledger.Principal())

	// The staked slice went back to the pool instead of being stranded.
	atom, err := h.balances.Balance("uatom")
	require.NoError(t, err)
	require.Equal(t, uint64(500_000_000), atom)
}

func TestWithdrawUnwindsStrategyPosition(t *testing.T) {
	ledger := strategy.NewLedger(strategy.NewSimulatedStrategy("sim-staking", 0))
	h := newHarness(t, stakedComposition(t), map[string]int64{"uusdc": 1, "uatom": 1}, ledger, false)
	ctx := context.Background()

	_, err := h.engine.Deposit(ctx, "alice", 1_000_000_000)
	require.NoError(t, err)

	receipt, err := h.engine.Withdraw(ctx, "alice", 1_000_000_000)
	require.NoError(t, err)

	require.Equal(t, uint64(500_000_000), receipt.StrategyReceived)
	require.Equal(t, int64(0), receipt.YieldMicro)
	require.Equal(t, int64(1_000_000_000), receipt.ValueUsdMicro)
	require.Equal(t, uint64(0), h.engine.TotalShares())
	require.Equal(t, uint64(0), ledger.Principal())

	usdc, err := h.balances.Balance("uusdc")
	require.NoError(t, err)
	require.Equal(t, uint64(0), usdc)
}

func TestSnapshotReportsBalancesByDenom(t *testing.T) {
	h := newHarness(t, twoAssetComposition(t), map[string]int64{"uusdc": 1, "ubtc": 2}, nil, false)
	ctx := context.Background()

	_, err := h.engine.Deposit(ctx, "alice", 1_000_000_000)
	require.NoError(t, err)

	snap, byDenom, err := h.engine.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000_000), snap.TvlUsdMicro)
	require.Equal(t, uint64(1_000_000_000), snap.TotalShares)
	require.Equal(t, map[string]uint64{"uusdc": 500_000_000, "ubtc": 250_000_000}, byDenom)
}
