/*

This file contains the BVM service core: the ticker-driven loop that runs one
rebalance cycle at a time against the vault engine and persists the outcome.

Each cycle values the basket, lets the engine evaluate and correct drift, and
records a full snapshot plus the rebalance receipt. A failed cycle is logged
and skipped; the loop never dies on a single bad cycle.

*/

package bvm

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/basketlabs/bvm/internal/logger"
	"github.com/basketlabs/bvm/internal/state"
	"github.com/basketlabs/bvm/internal/types"
	"github.com/basketlabs/bvm/internal/vault"
)

// BVM is the Basket Vault Manager service with its dependencies.
type BVM struct {
	logger       zerolog.Logger
	engine       *vault.Engine
	vaultName    string
	confidential bool

	cycleCount int
}

// Config holds the configuration for creating a new BVM instance
type Config struct {
	Engine    *vault.Engine
	VaultName string

	// Confidential routes every cycle through the sealed rebalance path.
	Confidential bool
}

// NewBVM creates a new BVM instance with dependency injection
func NewBVM(cfg Config) (*BVM, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("vault engine cannot be nil")
	}
	if cfg.VaultName == "" {
		return nil, fmt.Errorf("vault name cannot be empty")
	}

	b := &BVM{
		logger:       logger.GetForComponent("bvm_core"),
		engine:       cfg.Engine,
		vaultName:    cfg.VaultName,
		confidential: cfg.Confidential,
	}

	b.logger.Info().
		Str("vault", b.vaultName).
		Bool("confidential", b.confidential).
		Msg("BVM instance created")

	return b, nil
}

// RunLoop starts the main BVM loop with the specified interval
func (b *BVM) RunLoop(ctx context.Context, interval time.Duration) {
	b.logger.Info().
		Dur("interval", interval).
		Msg("Starting BVM main loop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run first cycle immediately
	b.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			b.logger.Info().Msg("BVM loop stopped due to context cancellation")
			return
		case <-ticker.C:
			b.runOnce(ctx)
		}
	}
}

func (b *BVM) runOnce(ctx context.Context) {
	b.cycleCount++
	b.logger.Info().Int("cycle", b.cycleCount).Msg("Initiating BVM cycle")
	if err := b.RunCycle(ctx); err != nil {
		b.logger.Error().Err(err).Int("cycle", b.cycleCount).Msg("BVM cycle failed")
		return
	}
	b.logger.Info().Int("cycle", b.cycleCount).Msg("BVM cycle completed")
}

// RunCycle executes a complete BVM rebalancing cycle
func (b *BVM) RunCycle(ctx context.Context) error {
	cycleStartTime := time.Now()

	cycleNumber, err := state.IncrementCycleNumber()
	if err != nil {
		// The counter is bookkeeping; a DB hiccup should not stop the cycle.
		b.logger.Warn().Err(err).Msg("Failed to increment cycle counter, using local count")
		cycleNumber = b.cycleCount
	}

	var receipt types.RebalanceReceipt
	if b.confidential {
		receipt, err = b.engine.RebalanceConfidential(ctx)
	} else {
		receipt, err = b.engine.Rebalance(ctx)
	}
	if err != nil {
		return fmt.Errorf("rebalance: %w", err)
	}

	cycleLogger := b.logger.With().Str("cycle_id", receipt.CycleID).Logger()
	cycleLogger.Info().
		Int("cycleNumber", cycleNumber).
		Bool("needs_rebalance", receipt.Report.NeedsRebalance).
		Bool("executed", receipt.Executed).
		Int("swaps", len(receipt.Plan.Swaps)).
		Msg("Rebalance cycle evaluated")

	// Value the post-cycle state for the snapshot.
	valSnap, balances, err := b.engine.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("post-cycle snapshot: %w", err)
	}
	delegation, err := b.engine.Delegation(ctx)
	if err != nil {
		return fmt.Errorf("delegation snapshot: %w", err)
	}

	snapshot := types.CycleSnapshot{
		CycleID:       receipt.CycleID,
		CycleNumber:   cycleNumber,
		VaultName:     b.vaultName,
		Timestamp:     cycleStartTime,
		TvlUsdMicro:   valSnap.TvlUsdMicro,
		SharePrice:    valSnap.SharePriceMicro,
		TotalShares:   valSnap.TotalShares,
		Report:        receipt.Report,
		Plan:          receipt.Plan,
		Results:       receipt.Results,
		Executed:      receipt.Executed,
		Confidential:  receipt.Confidential,
		StrategyValue: delegation.CurrentValue,
		AssetBalances: balances,
	}

	if _, err := state.SaveCycleSnapshot(snapshot); err != nil {
		cycleLogger.Error().Err(err).Msg("Failed to persist cycle snapshot")
	}
	if err := state.SaveRebalanceReceipt(b.vaultName, receipt); err != nil {
		cycleLogger.Error().Err(err).Msg("Failed to persist rebalance receipt")
	}

	cycleLogger.Info().
		Dur("duration", time.Since(cycleStartTime)).
		Int64("tvl_usd_micro", valSnap.TvlUsdMicro).
		Int64("share_price_micro", valSnap.SharePriceMicro).
		Msg("--- BVM Cycle complete ---")

	return nil
}
