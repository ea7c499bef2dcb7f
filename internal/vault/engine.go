/*

This file contains the vault engine: the orchestration layer that wires the
oracle, valuation, share accounting, rebalancer, and strategy ledger into the
exposed operations (Deposit, Withdraw, Rebalance, RebalanceConfidential).

Every operation follows validate-then-mutate: quotes, valuation, and share
math are all computed and checked before the first balance moves. A mutex per
engine serializes the mutating operations; there is no cross-vault state.

*/

package vault

import (
	"context"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/basketlabs/bvm/internal/confidential"
	"github.com/basketlabs/bvm/internal/logger"
	"github.com/basketlabs/bvm/internal/oracle"
	"github.com/basketlabs/bvm/internal/pricing"
	"github.com/basketlabs/bvm/internal/rebalancer"
	"github.com/basketlabs/bvm/internal/shares"
	"github.com/basketlabs/bvm/internal/strategy"
	"github.com/basketlabs/bvm/internal/types"
	"github.com/basketlabs/bvm/internal/valuation"
)

// Policy carries the tunable knobs of one engine instance.
type Policy struct {
	DriftThresholdPercent int64
	MaxQuoteAge           time.Duration
}

// Engine executes vault operations against one composition.
type Engine struct {
	comp     *types.VaultComposition
	balances BalanceStore
	swaps    SwapExecutor
	oracle   oracle.Provider
	ledger   *strategy.Ledger
	sealer   *confidential.Sealer
	computer confidential.Computer
	policy   Policy
	now      func() time.Time
	log      zerolog.Logger

	mu          sync.Mutex
	totalShares uint64
	holders     map[string]uint64
}

// NewEngine wires an engine. The sealer and computer may be nil when the
// confidential path is not configured; RebalanceConfidential then fails.
func NewEngine(comp *types.VaultComposition, balances BalanceStore, swaps SwapExecutor, provider oracle.Provider, ledger *strategy.Ledger, sealer *confidential.Sealer, computer confidential.Computer, policy Policy) *Engine {
	if policy.MaxQuoteAge <= 0 {
		policy.MaxQuoteAge = oracle.DefaultMaxQuoteAge
	}
	return &Engine{
		comp:     comp,
		balances: balances,
		swaps:    swaps,
		oracle:   provider,
		ledger:   ledger,
		sealer:   sealer,
		computer: computer,
		policy:   policy,
		now:      time.Now,
		log:      logger.GetForComponent("vault_engine"),
		holders:  make(map[string]uint64),
	}
}

func (e *Engine) Composition() *types.VaultComposition { return e.comp }

// TotalShares returns the outstanding share supply.
func (e *Engine) TotalShares() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalShares
}

// HolderShares returns one holder's share balance.
func (e *Engine) HolderShares(holder string) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.holders[holder]
}

// snapshotInputs gathers the current prices, balances, and strategy value.
// Callers hold the engine lock.
func (e *Engine) snapshotInputs(ctx context.Context) ([]pricing.NormalizedPrice, []uint64, int64, uint64, error) {
	now := e.now()
	prices, err := oracle.FetchPrices(ctx, e.oracle, e.comp, now, e.policy.MaxQuoteAge)
	if err != nil {
		return nil, nil, 0, 0, err
	}

	balances := make([]uint64, len(e.comp.Assets))
	for i, asset := range e.comp.Assets {
		balances[i], err = e.balances.Balance(asset.Denom)
		if err != nil {
			return nil, nil, 0, 0, fmt.Errorf("balance of %s: %w", asset.Denom, err)
		}
	}

	var strategyNative uint64
	var strategyUsd int64
	if e.ledger != nil {
		strategyNative, err = e.ledger.CurrentValue(ctx)
		if err != nil {
			return nil, nil, 0, 0, err
		}
		if strategyNative > 0 {
			idx := e.stakedIndex()
			if idx < 0 {
				return nil, nil, 0, 0, fmt.Errorf("%w: delegated position with no staked asset", types.ErrInputMismatch)
			}
			strategyUsd, err = prices[idx].TokensToUsd(strategyNative, e.comp.Assets[idx].Decimals)
			if err != nil {
				return nil, nil, 0, 0, err
			}
		}
	}

	return prices, balances, strategyUsd, strategyNative, nil
}

func (e *Engine) stakedIndex() int {
	for i, asset := range e.comp.Assets {
		if asset.Role == types.RoleStaked {
			return i
		}
	}
	return -1
}

func (e *Engine) settlementIndex() int {
	for i, asset := range e.comp.Assets {
		if asset.Role == types.RoleSettlement {
			return i
		}
	}
	return 0
}

func (e *Engine) decimals() []uint8 {
	out := make([]uint8, len(e.comp.Assets))
	for i, asset := range e.comp.Assets {
		out[i] = asset.Decimals
	}
	return out
}

// Deposit accepts amount native units of the settlement asset from holder,
// mints shares at the pre-deposit share price, spreads the deposit across the
// basket by target weight, and delegates the staked-role slice.
func (e *Engine) Deposit(ctx context.Context, holder string, amount uint64) (types.DepositReceipt, error) {
	if amount == 0 {
		return types.DepositReceipt{}, fmt.Errorf("%w: deposit is zero", types.ErrInvalidAmount)
	}
	if holder == "" {
		return types.DepositReceipt{}, fmt.Errorf("%w: holder is empty", types.ErrInvalidName)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	prices, balances, strategyUsd, _, err := e.snapshotInputs(ctx)
	if err != nil {
		return types.DepositReceipt{}, err
	}

	tvl, err := valuation.ComputeTVL(balances, prices, e.decimals(), strategyUsd)
	if err != nil {
		return types.DepositReceipt{}, err
	}
	sharePrice, err := valuation.ComputeSharePrice(tvl, e.totalShares)
	if err != nil {
		return types.DepositReceipt{}, err
	}

	settlement := e.settlementIndex()
	depositUsd, err := prices[settlement].TokensToUsd(amount, e.comp.Assets[settlement].Decimals)
	if err != nil {
		return types.DepositReceipt{}, err
	}
	minted, err := shares.SharesToMint(depositUsd, sharePrice)
	if err != nil {
		return types.DepositReceipt{}, err
	}
	if e.totalShares+minted < e.totalShares {
		return types.DepositReceipt{}, types.ErrMathOverflow
	}
	postTvl, err := pricing.CheckedAdd(tvl, depositUsd)
	if err != nil {
		return types.DepositReceipt{}, err
	}

	allocations, err := shares.AllocateDeposit(amount, e.comp)
	if err != nil {
		return types.DepositReceipt{}, err
	}

	// All checks passed; balances move from here on.
	if err := e.balances.Credit(e.comp.Assets[settlement].Denom, amount); err != nil {
		return types.DepositReceipt{}, fmt.Errorf("credit deposit: %w", err)
	}

	var stakedAmount uint64
	for i, alloc := range allocations {
		if i == settlement || alloc.Amount == 0 {
			continue
		}
		received, err := e.convert(ctx, settlement, i, alloc.Amount, prices)
		if err != nil {
			return types.DepositReceipt{}, err
		}
		if alloc.Asset.Role == types.RoleStaked && e.ledger != nil {
			if err := e.balances.Debit(alloc.Asset.Denom, received); err != nil {
				return types.DepositReceipt{}, fmt.Errorf("debit for delegation: %w", err)
			}
			if err := e.ledger.Delegate(ctx, received); err != nil {
				// Return the slice to the pool so a failed stake does not
				// strand funds outside the balance store. No shares were
				// minted yet.
				if creditErr := e.balances.Credit(alloc.Asset.Denom, received); creditErr != nil {
					e.log.Error().Err(creditErr).
						Str("denom", alloc.Asset.Denom).
						Uint64("amount", received).
						Msg("Failed to restore staked slice after delegation failure")
				}
				return types.DepositReceipt{}, err
			}
			stakedAmount = received
		}
	}

	e.totalShares += minted
	e.holders[holder] += minted

	e.log.Info().
		Str("holder", holder).
		Uint64("amount", amount).
		Uint64("shares_minted", minted).
		Int64("share_price_micro", sharePrice).
		Int64("tvl_usd_micro", postTvl).
		Msg("Deposit completed")

	return types.DepositReceipt{
		Holder:          holder,
		AmountDeposited: amount,
		DepositUsdMicro: depositUsd,
		SharesMinted:    minted,
		SharePriceMicro: sharePrice,
		TvlUsdMicro:     postTvl,
		StakedAmount:    stakedAmount,
		Timestamp:       e.now(),
	}, nil
}

// convert swaps amountIn of asset from into asset to at current prices and
// credits the output. The balance of from is debited first.
func (e *Engine) convert(ctx context.Context, from, to int, amountIn uint64, prices []pricing.NormalizedPrice) (uint64, error) {
	fromAsset := e.comp.Assets[from]
	toAsset := e.comp.Assets[to]

	usd, err := prices[from].TokensToUsd(amountIn, fromAsset.Decimals)
	if err != nil {
		return 0, err
	}
	expected, err := prices[to].UsdToTokens(usd, toAsset.Decimals)
	if err != nil {
		return 0, err
	}

	// Wide intermediate: expected * 99 can exceed 64 bits for high-decimal
	// assets, and a wrapped product would gut the slippage floor.
	minOut := sdkmath.NewInt(expected).MulRaw(99).QuoRaw(100)

	instruction := types.SwapInstruction{
		FromDenom:    fromAsset.Denom,
		ToDenom:      toAsset.Denom,
		AmountIn:     amountIn,
		MinAmountOut: minOut.Uint64(),
		UsdMicro:     usd,
	}

	if err := e.balances.Debit(fromAsset.Denom, amountIn); err != nil {
		return 0, fmt.Errorf("debit %s: %w", fromAsset.Denom, err)
	}
	result, err := e.swaps.ExecuteSwap(ctx, instruction)
	if err != nil {
		return 0, fmt.Errorf("swap %s->%s: %w", fromAsset.Denom, toAsset.Denom, err)
	}
	if err := e.balances.Credit(toAsset.Denom, result.AmountOut); err != nil {
		return 0, fmt.Errorf("credit %s: %w", toAsset.Denom, err)
	}
	return result.AmountOut, nil
}

// Withdraw burns sharesToBurn of holder's shares and releases the
// proportional slice of every asset, unwinding the strategy position as
// needed. The released value is converted into the settlement asset and the
// yield component of the strategy return is attributed on the receipt.
func (e *Engine) Withdraw(ctx context.Context, holder string, sharesToBurn uint64) (types.WithdrawReceipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	prices, balances, _, strategyNative, err := e.snapshotInputs(ctx)
	if err != nil {
		return types.WithdrawReceipt{}, err
	}

	var principal uint64
	if e.ledger != nil {
		principal = e.ledger.Principal()
	}

	plan, err := shares.PlanWithdrawal(sharesToBurn, e.totalShares, e.holders[holder], balances, strategyNative, principal)
	if err != nil {
		return types.WithdrawReceipt{}, err
	}

	decimals := e.decimals()
	settlement := e.settlementIndex()
	stakedIdx := e.stakedIndex()

	// Unwind the strategy slice first so its proceeds join the release.
	var received uint64
	var principalSlice uint64
	if e.ledger != nil && plan.StrategyUnwind > 0 {
		fraction := plan.Fraction
		if plan.FullRedemption {
			fraction = shares.FractionScale
		}
		received, principalSlice, err = e.ledger.Undelegate(ctx, fraction, shares.FractionScale)
		if err != nil {
			return types.WithdrawReceipt{}, err
		}
	}
	yieldNative, err := shares.YieldComponent(received, principalSlice)
	if err != nil {
		return types.WithdrawReceipt{}, err
	}

	// Value everything being released at current prices.
	var valueUsd int64
	for i, amount := range plan.AssetAmounts {
		if amount == 0 {
			continue
		}
		usd, err := prices[i].TokensToUsd(amount, decimals[i])
		if err != nil {
			return types.WithdrawReceipt{}, err
		}
		valueUsd, err = pricing.CheckedAdd(valueUsd, usd)
		if err != nil {
			return types.WithdrawReceipt{}, err
		}
	}
	var yieldUsd int64
	if received > 0 && stakedIdx >= 0 {
		usd, err := prices[stakedIdx].TokensToUsd(received, decimals[stakedIdx])
		if err != nil {
			return types.WithdrawReceipt{}, err
		}
		valueUsd, err = pricing.CheckedAdd(valueUsd, usd)
		if err != nil {
			return types.WithdrawReceipt{}, err
		}
	}
	if stakedIdx >= 0 {
		yieldUsd, err = signedTokensToUsd(yieldNative, prices[stakedIdx], decimals[stakedIdx])
		if err != nil {
			return types.WithdrawReceipt{}, err
		}
	}

	settlementAmount, err := prices[settlement].UsdToTokens(valueUsd, decimals[settlement])
	if err != nil {
		return types.WithdrawReceipt{}, err
	}

	// Checks done; release the balances and burn the shares.
	for i, amount := range plan.AssetAmounts {
		if amount == 0 {
			continue
		}
		if err := e.balances.Debit(e.comp.Assets[i].Denom, amount); err != nil {
			return types.WithdrawReceipt{}, fmt.Errorf("release %s: %w", e.comp.Assets[i].Denom, err)
		}
	}
	e.holders[holder] -= sharesToBurn
	if e.holders[holder] == 0 {
		delete(e.holders, holder)
	}
	e.totalShares -= sharesToBurn

	postBalances := make([]uint64, len(balances))
	for i := range balances {
		postBalances[i] = balances[i] - plan.AssetAmounts[i]
	}
	postStrategyUsd := int64(0)
	if e.ledger != nil && stakedIdx >= 0 {
		remaining, err := e.ledger.CurrentValue(ctx)
		if err != nil {
			return types.WithdrawReceipt{}, err
		}
		if remaining > 0 {
			postStrategyUsd, err = prices[stakedIdx].TokensToUsd(remaining, decimals[stakedIdx])
			if err != nil {
				return types.WithdrawReceipt{}, err
			}
		}
	}
	postTvl, err := valuation.ComputeTVL(postBalances, prices, decimals, postStrategyUsd)
	if err != nil {
		return types.WithdrawReceipt{}, err
	}

	e.log.Info().
		Str("holder", holder).
		Uint64("shares_burned", sharesToBurn).
		Int64("value_usd_micro", valueUsd).
		Int64("yield_micro", yieldUsd).
		Bool("full_redemption", plan.FullRedemption).
		Msg("Withdrawal completed")

	return types.WithdrawReceipt{
		Holder:           holder,
		SharesBurned:     sharesToBurn,
		AmountsReleased:  plan.AssetAmounts,
		SettlementAmount: uint64(settlementAmount),
		ValueUsdMicro:    valueUsd,
		StrategyReceived: received,
		YieldMicro:       yieldUsd,
		TvlUsdMicro:      postTvl,
		Timestamp:        e.now(),
	}, nil
}

// signedTokensToUsd values a possibly negative native amount in USD micro.
func signedTokensToUsd(amount int64, price pricing.NormalizedPrice, decimals uint8) (int64, error) {
	if amount >= 0 {
		return price.TokensToUsd(uint64(amount), decimals)
	}
	usd, err := price.TokensToUsd(uint64(-amount), decimals)
	if err != nil {
		return 0, err
	}
	return -usd, nil
}

// Rebalance evaluates drift and, when any asset exceeds the threshold,
// executes the correcting swap plan. Below threshold nothing moves.
func (e *Engine) Rebalance(ctx context.Context) (types.RebalanceReceipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	prices, balances, _, _, err := e.snapshotInputs(ctx)
	if err != nil {
		return types.RebalanceReceipt{}, err
	}

	report, err := rebalancer.EvaluateDrift(balances, prices, e.comp, e.decimals(), e.policy.DriftThresholdPercent)
	if err != nil {
		return types.RebalanceReceipt{}, err
	}
	plan, err := rebalancer.PlanRebalance(report, prices, e.comp, e.decimals())
	if err != nil {
		return types.RebalanceReceipt{}, err
	}

	return e.executePlan(ctx, report, plan, false)
}

// RebalanceConfidential reaches the same decision as Rebalance, but the
// balance snapshot crosses into the computer sealed. Requires a configured
// sealer and computer.
func (e *Engine) RebalanceConfidential(ctx context.Context) (types.RebalanceReceipt, error) {
	if e.sealer == nil || e.computer == nil {
		return types.RebalanceReceipt{}, fmt.Errorf("%w: confidential path not configured", types.ErrUnauthorized)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	prices, balances, _, _, err := e.snapshotInputs(ctx)
	if err != nil {
		return types.RebalanceReceipt{}, err
	}

	sealed, err := e.sealer.Seal(confidential.RebalanceInput{
		Balances:         balances,
		Prices:           prices,
		Decimals:         e.decimals(),
		ThresholdPercent: e.policy.DriftThresholdPercent,
	})
	if err != nil {
		return types.RebalanceReceipt{}, err
	}

	report, plan, err := e.computer.ComputeRebalance(sealed, e.comp)
	if err != nil {
		return types.RebalanceReceipt{}, err
	}

	return e.executePlan(ctx, report, plan, true)
}

// executePlan runs each instruction of a plan through the swap executor,
// moving balances as results come back. Callers hold the engine lock.
func (e *Engine) executePlan(ctx context.Context, report types.DriftReport, plan types.SwapPlan, confidentialPath bool) (types.RebalanceReceipt, error) {
	receipt := types.RebalanceReceipt{
		CycleID:      uuid.NewString(),
		Report:       report,
		Plan:         plan,
		Confidential: confidentialPath,
		Timestamp:    e.now(),
	}

	if len(plan.Swaps) == 0 {
		e.log.Debug().
			Str("cycle_id", receipt.CycleID).
			Bool("needs_rebalance", report.NeedsRebalance).
			Msg("No swaps to execute")
		return receipt, nil
	}
	receipt.Plan.PlanID = uuid.NewString()

	for _, instruction := range plan.Swaps {
		if err := e.balances.Debit(instruction.FromDenom, instruction.AmountIn); err != nil {
			return receipt, fmt.Errorf("debit %s: %w", instruction.FromDenom, err)
		}
		result, err := e.swaps.ExecuteSwap(ctx, instruction)
		if err != nil {
			return receipt, fmt.Errorf("swap %s->%s: %w", instruction.FromDenom, instruction.ToDenom, err)
		}
		if err := e.balances.Credit(instruction.ToDenom, result.AmountOut); err != nil {
			return receipt, fmt.Errorf("credit %s: %w", instruction.ToDenom, err)
		}
		receipt.Results = append(receipt.Results, result)
	}
	receipt.Executed = true

	e.log.Info().
		Str("cycle_id", receipt.CycleID).
		Int("swaps", len(plan.Swaps)).
		Bool("confidential", confidentialPath).
		Msg("Rebalance executed")

	return receipt, nil
}

// Delegation reports the current strategy position.
func (e *Engine) Delegation(ctx context.Context) (strategy.Delegation, error) {
	if e.ledger == nil {
		return strategy.Delegation{VaultName: e.comp.Name}, nil
	}
	return e.ledger.Snapshot(ctx, e.comp.Name)
}

// Snapshot assembles the full valuation picture for reporting.
func (e *Engine) Snapshot(ctx context.Context) (valuation.Snapshot, map[string]uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	prices, balances, strategyUsd, _, err := e.snapshotInputs(ctx)
	if err != nil {
		return valuation.Snapshot{}, nil, err
	}
	snap, err := valuation.ComputeSnapshot(balances, prices, e.decimals(), strategyUsd, e.totalShares)
	if err != nil {
		return valuation.Snapshot{}, nil, err
	}

	byDenom := make(map[string]uint64, len(balances))
	for i, asset := range e.comp.Assets {
		byDenom[asset.Denom] = balances[i]
	}
	return snap, byDenom, nil
}
