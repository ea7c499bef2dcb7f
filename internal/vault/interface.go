package vault

import (
	"context"

	"github.com/basketlabs/bvm/internal/types"
)

// BalanceStore holds the vault's per-asset token balances. Implementations
// range from in-memory stores in tests to custody adapters in production;
// the engine treats them as the single source of balance truth.
type BalanceStore interface {
	// Balance returns the current balance for denom in native units.
	Balance(denom string) (uint64, error)

	// Credit adds amount to denom's balance.
	Credit(denom string, amount uint64) error

	// Debit removes amount from denom's balance. Debiting more than the
	// current balance must fail without changing state.
	Debit(denom string, amount uint64) error
}

// SwapExecutor carries out one swap instruction against a trading venue and
// reports the amount actually received. An execution returning less than
// MinAmountOut must fail instead.
type SwapExecutor interface {
	ExecuteSwap(ctx context.Context, instruction types.SwapInstruction) (types.SwapResult, error)
}
