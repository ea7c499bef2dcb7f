// ./internal/state/receipt_store.go
package state

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/basketlabs/bvm/internal/types"
)

// Operation types recorded in operation_receipts.
const (
	OpDeposit   = "deposit"
	OpWithdraw  = "withdraw"
	OpRebalance = "rebalance"
)

// SaveDepositReceipt records a completed deposit.
func SaveDepositReceipt(vaultName string, receipt types.DepositReceipt) error {
	return saveReceipt(OpDeposit, vaultName, receipt.Holder, receipt.DepositUsdMicro, receipt.Timestamp, receipt)
}

// SaveWithdrawReceipt records a completed withdrawal.
func SaveWithdrawReceipt(vaultName string, receipt types.WithdrawReceipt) error {
	return saveReceipt(OpWithdraw, vaultName, receipt.Holder, receipt.ValueUsdMicro, receipt.Timestamp, receipt)
}

// SaveRebalanceReceipt records one rebalance attempt, executed or not.
func SaveRebalanceReceipt(vaultName string, receipt types.RebalanceReceipt) error {
	return saveReceipt(OpRebalance, vaultName, "", receipt.Report.TotalUsdMicro, receipt.Timestamp, receipt)
}

func saveReceipt(opType, vaultName, holder string, valueUsdMicro int64, ts time.Time, receipt any) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	receiptJSON, err := json.Marshal(receipt)
	if err != nil {
		return fmt.Errorf("failed to marshal %s receipt: %w", opType, err)
	}

	query := `
		INSERT INTO operation_receipts (
			operation_timestamp, operation_type, vault_name, holder, value_usd_micro, receipt
		) VALUES ($1, $2, $3, $4, $5, $6);
	`
	if _, err := DB.Exec(query, ts, opType, vaultName, holder, valueUsdMicro, receiptJSON); err != nil {
		return fmt.Errorf("failed to save %s receipt: %w", opType, err)
	}

	log.Debug().
		Str("operation", opType).
		Str("vault", vaultName).
		Int64("value_usd_micro", valueUsdMicro).
		Msg("Operation receipt saved")

	return nil
}
