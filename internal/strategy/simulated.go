package strategy

import (
	"context"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/basketlabs/bvm/internal/types"
)

// SimulatedStrategy is an in-process yield venue used in local runs and
// tests. It holds a balance and applies a fixed yield rate, in basis points,
// on every stake or unstake so positions visibly accrue.
type SimulatedStrategy struct {
	name     string
	balance  uint64
	yieldBps int64
}

// NewSimulatedStrategy builds a venue accruing yieldBps basis points of the
// current balance on each operation. A zero rate gives a flat venue.
func NewSimulatedStrategy(name string, yieldBps int64) *SimulatedStrategy {
	return &SimulatedStrategy{name: name, yieldBps: yieldBps}
}

func (s *SimulatedStrategy) Name() string { return s.name }

func (s *SimulatedStrategy) Stake(_ context.Context, amount uint64) error {
	s.accrue()
	next := s.balance + amount
	if next < s.balance {
		return types.ErrMathOverflow
	}
	s.balance = next
	return nil
}

func (s *SimulatedStrategy) Unstake(_ context.Context, amount uint64) (uint64, error) {
	s.accrue()
	if amount > s.balance {
		return 0, fmt.Errorf("%w: requested %d, position holds %d", types.ErrInsufficientBalance, amount, s.balance)
	}
	s.balance -= amount
	return amount, nil
}

func (s *SimulatedStrategy) CurrentValue(_ context.Context) (uint64, error) {
	return s.balance, nil
}

func (s *SimulatedStrategy) accrue() {
	if s.yieldBps == 0 || s.balance == 0 {
		return
	}
	gain := sdkmath.NewIntFromUint64(s.balance).MulRaw(s.yieldBps).QuoRaw(10_000)
	if !gain.IsUint64() {
		return
	}
	s.balance += gain.Uint64()
}
