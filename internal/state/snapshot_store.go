// ./internal/state/snapshot_store.go
package state

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq" // PostgreSQL driver for array support
	"github.com/rs/zerolog/log"

	"github.com/basketlabs/bvm/internal/types"
)

// SaveCycleSnapshot saves a complete cycle snapshot to the database.
func SaveCycleSnapshot(snapshot types.CycleSnapshot) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	// Marshal all JSONB fields
	balancesJSON, err := json.Marshal(snapshot.AssetBalances)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal asset_balances: %w", err)
	}

	reportJSON, err := json.Marshal(snapshot.Report)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal drift_report: %w", err)
	}

	planJSON, err := json.Marshal(snapshot.Plan)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal swap_plan: %w", err)
	}

	resultsJSON, err := json.Marshal(snapshot.Results)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal swap_results: %w", err)
	}

	denoms := make([]string, 0, len(snapshot.AssetBalances))
	for denom := range snapshot.AssetBalances {
		denoms = append(denoms, denom)
	}

	query := `
		INSERT INTO cycle_snapshots (
			cycle_id, cycle_number, vault_name, snapshot_timestamp,
			tvl_usd_micro, share_price_micro, total_shares, strategy_value,
			asset_denoms, asset_balances, drift_report, swap_plan, swap_results,
			executed, confidential
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING snapshot_id;
	`

	var snapshotID int64
	err = DB.QueryRow(
		query,
		snapshot.CycleID, snapshot.CycleNumber, snapshot.VaultName, snapshot.Timestamp,
		snapshot.TvlUsdMicro, snapshot.SharePrice, snapshot.TotalShares, snapshot.StrategyValue,
		pq.Array(denoms), balancesJSON, reportJSON, planJSON, resultsJSON,
		snapshot.Executed, snapshot.Confidential,
	).Scan(&snapshotID)

	if err != nil {
		return 0, fmt.Errorf("failed to save cycle snapshot: %w", err)
	}

	log.Info().
		Int64("snapshot_id", snapshotID).
		Int("cycle_number", snapshot.CycleNumber).
		Int64("tvl_usd_micro", snapshot.TvlUsdMicro).
		Msg("Cycle snapshot saved to database")

	return snapshotID, nil
}

// GetLatestCycleSnapshot returns the most recent snapshot for a vault, or
// sql.ErrNoRows when none exists yet.
func GetLatestCycleSnapshot(vaultName string) (types.CycleSnapshot, error) {
	snapshots, err := GetRecentCycleSnapshots(vaultName, 1)
	if err != nil {
		return types.CycleSnapshot{}, err
	}
	if len(snapshots) == 0 {
		return types.CycleSnapshot{}, sql.ErrNoRows
	}
	return snapshots[0], nil
}

// GetRecentCycleSnapshots returns up to limit snapshots for a vault, newest
// first.
func GetRecentCycleSnapshots(vaultName string, limit int) ([]types.CycleSnapshot, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT snapshot_id, cycle_id, cycle_number, vault_name, snapshot_timestamp,
		       tvl_usd_micro, share_price_micro, total_shares, strategy_value,
		       asset_balances, drift_report, swap_plan, swap_results,
		       executed, confidential
		FROM cycle_snapshots
		WHERE vault_name = $1
		ORDER BY snapshot_timestamp DESC
		LIMIT $2;
	`

	rows, err := DB.Query(query, vaultName, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query cycle snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []types.CycleSnapshot
	for rows.Next() {
		var s types.CycleSnapshot
		var balancesJSON, reportJSON, planJSON, resultsJSON []byte

		err = rows.Scan(
			&s.SnapshotID, &s.CycleID, &s.CycleNumber, &s.VaultName, &s.Timestamp,
			&s.TvlUsdMicro, &s.SharePrice, &s.TotalShares, &s.StrategyValue,
			&balancesJSON, &reportJSON, &planJSON, &resultsJSON,
			&s.Executed, &s.Confidential,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cycle snapshot: %w", err)
		}

		if err := json.Unmarshal(balancesJSON, &s.AssetBalances); err != nil {
			return nil, fmt.Errorf("failed to unmarshal asset_balances: %w", err)
		}
		if err := json.Unmarshal(reportJSON, &s.Report); err != nil {
			return nil, fmt.Errorf("failed to unmarshal drift_report: %w", err)
		}
		if err := json.Unmarshal(planJSON, &s.Plan); err != nil {
			return nil, fmt.Errorf("failed to unmarshal swap_plan: %w", err)
		}
		if len(resultsJSON) > 0 {
			if err := json.Unmarshal(resultsJSON, &s.Results); err != nil {
				return nil, fmt.Errorf("failed to unmarshal swap_results: %w", err)
			}
		}

		snapshots = append(snapshots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cycle snapshots: %w", err)
	}

	return snapshots, nil
}
