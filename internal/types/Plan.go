/*

This file contains the ephemeral decision types produced by the valuation and
rebalancing engine: drift reports, swap plans, and the receipts returned by
the exposed vault operations.

*/

package types

import "time"

// DriftEntry is one asset's deviation from its target weight.
type DriftEntry struct {
	Denom            string `json:"denom"`
	CurrentUsdMicro  int64  `json:"current_usd_micro"`
	TargetUsdMicro   int64  `json:"target_usd_micro"`
	CurrentWeight    int64  `json:"current_weight"` // integer percent of TVL
	TargetWeight     int64  `json:"target_weight"`
	Drift            int64  `json:"drift"` // current - target
	ExceedsThreshold bool   `json:"exceeds_threshold"`
}

// DriftReport is the full per-asset drift picture for one snapshot. Consumed
// immediately by the rebalancer; never persisted as authoritative state.
type DriftReport struct {
	TotalUsdMicro  int64        `json:"total_usd_micro"`
	Entries        []DriftEntry `json:"entries"`
	NeedsRebalance bool         `json:"needs_rebalance"`
}

// SwapInstruction is a single asset-to-asset correction within a plan.
type SwapInstruction struct {
	FromDenom    string `json:"from_denom"`
	ToDenom      string `json:"to_denom"`
	AmountIn     uint64 `json:"amount_in"`      // from-asset native units
	MinAmountOut uint64 `json:"min_amount_out"` // 99% of expected output at current prices
	UsdMicro     int64  `json:"usd_micro"`      // USD value being moved
}

// SwapPlan is the ordered, all-or-nothing guidance for a single rebalance
// attempt. Computing a plan twice on the same snapshot yields the same plan.
type SwapPlan struct {
	PlanID string            `json:"plan_id"`
	Swaps  []SwapInstruction `json:"swaps"`
}

// SwapResult is what the swap executor reports back for one instruction.
type SwapResult struct {
	Instruction SwapInstruction `json:"instruction"`
	AmountOut   uint64          `json:"amount_out"`
}

// DepositReceipt summarizes a completed deposit.
type DepositReceipt struct {
	Holder          string    `json:"holder"`
	AmountDeposited uint64    `json:"amount_deposited"` // settlement-asset native units
	DepositUsdMicro int64     `json:"deposit_usd_micro"`
	SharesMinted    uint64    `json:"shares_minted"`
	SharePriceMicro int64     `json:"share_price_micro"` // price used for issuance
	TvlUsdMicro     int64     `json:"tvl_usd_micro"`     // post-deposit
	StakedAmount    uint64    `json:"staked_amount"`     // routed to the yield strategy
	Timestamp       time.Time `json:"timestamp"`
}

// WithdrawReceipt summarizes a completed withdrawal.
type WithdrawReceipt struct {
	Holder           string    `json:"holder"`
	SharesBurned     uint64    `json:"shares_burned"`
	AmountsReleased  []uint64  `json:"amounts_released"` // per asset, composition order
	SettlementAmount uint64    `json:"settlement_amount"`
	ValueUsdMicro    int64     `json:"value_usd_micro"`
	StrategyReceived uint64    `json:"strategy_received"`
	YieldMicro       int64     `json:"yield_micro"` // may be negative; never clamped
	TvlUsdMicro      int64     `json:"tvl_usd_micro"`
	Timestamp        time.Time `json:"timestamp"`
}

// RebalanceReceipt summarizes one rebalance attempt.
type RebalanceReceipt struct {
	CycleID      string       `json:"cycle_id"`
	Report       DriftReport  `json:"report"`
	Plan         SwapPlan     `json:"plan"`
	Results      []SwapResult `json:"results,omitempty"`
	Executed     bool         `json:"executed"`
	Confidential bool         `json:"confidential"`
	Timestamp    time.Time    `json:"timestamp"`
}

// CycleSnapshot is the persisted record of one service-loop cycle.
type CycleSnapshot struct {
	SnapshotID    int64             `json:"snapshot_id,omitempty"`
	CycleID       string            `json:"cycle_id"`
	CycleNumber   int               `json:"cycle_number"`
	VaultName     string            `json:"vault_name"`
	Timestamp     time.Time         `json:"timestamp"`
	TvlUsdMicro   int64             `json:"tvl_usd_micro"`
	SharePrice    int64             `json:"share_price"`
	TotalShares   uint64            `json:"total_shares"`
	Report        DriftReport       `json:"report"`
	Plan          SwapPlan          `json:"plan"`
	Results       []SwapResult      `json:"results,omitempty"`
	Executed      bool              `json:"executed"`
	Confidential  bool              `json:"confidential"`
	StrategyValue uint64            `json:"strategy_value"`
	AssetBalances map[string]uint64 `json:"asset_balances"`
}
