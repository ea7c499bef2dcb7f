/*

This file contains the yield strategy delegation ledger. The vault routes the
staked asset's share of each deposit into an external yield strategy and
tracks the delegated principal, so that withdrawals can split what comes back
into a principal slice and a yield component.

The ledger records principal only. Current value always comes from the
strategy adapter, because yield accrues outside the vault's books.

*/

package strategy

import (
	"context"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/basketlabs/bvm/internal/types"
)

// YieldStrategy is the adapter to one external yield venue. Implementations
// own the actual position; the ledger only mirrors principal flows.
type YieldStrategy interface {
	// Stake moves amount native units of the staked asset into the strategy.
	Stake(ctx context.Context, amount uint64) error

	// Unstake releases amount native units back to the vault and returns the
	// amount actually received, which may differ from the request once the
	// venue applies its own rounding.
	Unstake(ctx context.Context, amount uint64) (uint64, error)

	// CurrentValue reports the strategy position in native units of the
	// staked asset, principal plus accrued yield.
	CurrentValue(ctx context.Context) (uint64, error)

	// Name identifies the venue in logs and snapshots.
	Name() string
}

// Delegation is a point-in-time view of one vault's strategy position.
type Delegation struct {
	VaultName    string `json:"vault_name"`
	Strategy     string `json:"strategy"`
	Principal    uint64 `json:"principal"`
	CurrentValue uint64 `json:"current_value"`
}

// Ledger tracks principal delegated to a single strategy. Not safe for
// concurrent use; the vault engine serializes access under its own lock.
type Ledger struct {
	strategy  YieldStrategy
	principal uint64
}

func NewLedger(s YieldStrategy) *Ledger {
	return &Ledger{strategy: s}
}

func (l *Ledger) Strategy() YieldStrategy { return l.strategy }

// Principal is the total delegated principal still outstanding.
func (l *Ledger) Principal() uint64 { return l.principal }

// CurrentValue asks the strategy for the live position value.
func (l *Ledger) CurrentValue(ctx context.Context) (uint64, error) {
	if l.strategy == nil {
		return 0, nil
	}
	return l.strategy.CurrentValue(ctx)
}

// Snapshot captures the delegation state for persistence and reporting.
func (l *Ledger) Snapshot(ctx context.Context, vaultName string) (Delegation, error) {
	d := Delegation{VaultName: vaultName, Principal: l.principal}
	if l.strategy == nil {
		return d, nil
	}
	d.Strategy = l.strategy.Name()
	value, err := l.strategy.CurrentValue(ctx)
	if err != nil {
		return Delegation{}, fmt.Errorf("strategy value: %w", err)
	}
	d.CurrentValue = value
	return d, nil
}

// Delegate stakes amount into the strategy and records it as principal.
func (l *Ledger) Delegate(ctx context.Context, amount uint64) error {
	if amount == 0 {
		return fmt.Errorf("%w: delegation amount is zero", types.ErrInvalidAmount)
	}
	if l.strategy == nil {
		return fmt.Errorf("%w: no strategy configured", types.ErrInvalidAmount)
	}
	next := l.principal + amount
	if next < l.principal {
		return types.ErrMathOverflow
	}
	if err := l.strategy.Stake(ctx, amount); err != nil {
		return fmt.Errorf("stake with %s: %w", l.strategy.Name(), err)
	}
	l.principal = next
	return nil
}

// Undelegate unstakes the position value covered by fraction (scaled by
// shares.FractionScale) and reduces principal by the same fraction. Returns
// the amount received and the principal slice retired.
//
// Yield above the retired principal stays with the position until later
// withdrawals claim it; a losing position can return less than the slice.
func (l *Ledger) Undelegate(ctx context.Context, fraction uint64, fractionScale uint64) (received, principalSlice uint64, err error) {
	if l.strategy == nil || l.principal == 0 {
		return 0, 0, nil
	}
	if fraction == 0 || fraction > fractionScale {
		return 0, 0, fmt.Errorf("%w: fraction %d of %d", types.ErrInvalidAmount, fraction, fractionScale)
	}

	value, err := l.strategy.CurrentValue(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("strategy value: %w", err)
	}

	var request uint64
	if fraction == fractionScale {
		// Full exit drains the position exactly, leaving no dust behind.
		request = value
		principalSlice = l.principal
	} else {
		request = mulFraction(value, fraction, fractionScale)
		principalSlice = mulFraction(l.principal, fraction, fractionScale)
	}

	if request == 0 {
		l.principal -= principalSlice
		return 0, principalSlice, nil
	}

	received, err = l.strategy.Unstake(ctx, request)
	if err != nil {
		return 0, 0, fmt.Errorf("unstake from %s: %w", l.strategy.Name(), err)
	}
	l.principal -= principalSlice
	return received, principalSlice, nil
}

// mulFraction computes v * fraction / scale without 64-bit overflow.
func mulFraction(v, fraction, scale uint64) uint64 {
	return sdkmath.NewIntFromUint64(v).
		MulRaw(int64(fraction)).
		QuoRaw(int64(scale)).
		Uint64()
}
