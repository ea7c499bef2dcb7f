/*

This file contains the in-process collaborators used in local runs and tests:
an in-memory balance store and a simulated exchange that fills swap
instructions at quoted prices with a configurable fee.

*/

package simulations

import (
	"context"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"

	"github.com/basketlabs/bvm/internal/logger"
	"github.com/basketlabs/bvm/internal/pricing"
	"github.com/basketlabs/bvm/internal/types"
)

var exchangeLogger = logger.GetForComponent("simulated_exchange")

// MemoryBalances is an in-memory balance store. Safe for concurrent use.
type MemoryBalances struct {
	mu       sync.Mutex
	balances map[string]uint64
}

func NewMemoryBalances() *MemoryBalances {
	return &MemoryBalances{balances: make(map[string]uint64)}
}

func (m *MemoryBalances) Balance(denom string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[denom], nil
}

func (m *MemoryBalances) Credit(denom string, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.balances[denom] + amount
	if next < m.balances[denom] {
		return types.ErrMathOverflow
	}
	m.balances[denom] = next
	return nil
}

func (m *MemoryBalances) Debit(denom string, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if amount > m.balances[denom] {
		return fmt.Errorf("%w: %s balance %d, debit %d", types.ErrInsufficientBalance, denom, m.balances[denom], amount)
	}
	m.balances[denom] -= amount
	return nil
}

// SimulatedExchange fills swap instructions at the prices it was configured
// with, minus a fee in basis points. Fills below MinAmountOut fail the swap,
// matching live venue behavior.
type SimulatedExchange struct {
	prices   map[string]pricing.NormalizedPrice
	decimals map[string]uint8
	feeBps   int64
}

func NewSimulatedExchange(prices map[string]pricing.NormalizedPrice, decimals map[string]uint8, feeBps int64) *SimulatedExchange {
	if prices == nil {
		prices = make(map[string]pricing.NormalizedPrice)
	}
	if decimals == nil {
		decimals = make(map[string]uint8)
	}
	return &SimulatedExchange{prices: prices, decimals: decimals, feeBps: feeBps}
}

// SetPrice updates the fill price for one denom.
func (s *SimulatedExchange) SetPrice(denom string, price pricing.NormalizedPrice, decimals uint8) {
	s.prices[denom] = price
	s.decimals[denom] = decimals
}

func (s *SimulatedExchange) ExecuteSwap(_ context.Context, instruction types.SwapInstruction) (types.SwapResult, error) {
	fromPrice, ok := s.prices[instruction.FromDenom]
	if !ok {
		return types.SwapResult{}, fmt.Errorf("no market for %s", instruction.FromDenom)
	}
	toPrice, ok := s.prices[instruction.ToDenom]
	if !ok {
		return types.SwapResult{}, fmt.Errorf("no market for %s", instruction.ToDenom)
	}

	usd, err := fromPrice.TokensToUsd(instruction.AmountIn, s.decimals[instruction.FromDenom])
	if err != nil {
		return types.SwapResult{}, err
	}
	out, err := toPrice.UsdToTokens(usd, s.decimals[instruction.ToDenom])
	if err != nil {
		return types.SwapResult{}, err
	}

	filled := sdkmath.NewInt(out).
		MulRaw(10_000 - s.feeBps).
		QuoRaw(10_000)
	if !filled.IsUint64() {
		return types.SwapResult{}, types.ErrMathOverflow
	}
	amountOut := filled.Uint64()

	if amountOut < instruction.MinAmountOut {
		exchangeLogger.Warn().
			Str("from", instruction.FromDenom).
			Str("to", instruction.ToDenom).
			Uint64("filled", amountOut).
			Uint64("min_out", instruction.MinAmountOut).
			Msg("Fill below minimum output")
		return types.SwapResult{}, fmt.Errorf("fill %d below minimum output %d", amountOut, instruction.MinAmountOut)
	}

	return types.SwapResult{Instruction: instruction, AmountOut: amountOut}, nil
}
