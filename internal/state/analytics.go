package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// VaultSummary represents high-level vault statistics
type VaultSummary struct {
	VaultName       string `json:"vault_name"`
	TvlUsdMicro     int64  `json:"tvl_usd_micro"`
	SharePriceMicro int64  `json:"share_price_micro"`
	TotalShares     uint64 `json:"total_shares"`
	TotalCycles     int    `json:"total_cycles"`
	ExecutedCycles  int    `json:"executed_cycles"`
	LastUpdated     string `json:"last_updated"`
}

// PricePoint is one entry of the share price history series.
type PricePoint struct {
	Timestamp       time.Time `json:"timestamp"`
	SharePriceMicro int64     `json:"share_price_micro"`
	TvlUsdMicro     int64     `json:"tvl_usd_micro"`
}

// GetVaultSummary aggregates the latest snapshot with cycle totals.
func GetVaultSummary(vaultName string) (VaultSummary, error) {
	if DB == nil {
		return VaultSummary{}, fmt.Errorf("database not initialized")
	}

	summary := VaultSummary{VaultName: vaultName}

	latestQuery := `
		SELECT tvl_usd_micro, share_price_micro, total_shares, snapshot_timestamp
		FROM cycle_snapshots
		WHERE vault_name = $1
		ORDER BY snapshot_timestamp DESC
		LIMIT 1;
	`
	var lastUpdated time.Time
	err := DB.QueryRow(latestQuery, vaultName).Scan(
		&summary.TvlUsdMicro, &summary.SharePriceMicro, &summary.TotalShares, &lastUpdated,
	)
	if err != nil && err != sql.ErrNoRows {
		return VaultSummary{}, fmt.Errorf("failed to query latest snapshot: %w", err)
	}
	if err == nil {
		summary.LastUpdated = lastUpdated.Format(time.RFC3339)
	}

	countQuery := `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE executed)
		FROM cycle_snapshots
		WHERE vault_name = $1;
	`
	if err := DB.QueryRow(countQuery, vaultName).Scan(&summary.TotalCycles, &summary.ExecutedCycles); err != nil {
		return VaultSummary{}, fmt.Errorf("failed to count cycles: %w", err)
	}

	return summary, nil
}

// GetSharePriceHistory returns the share price series for a vault, oldest
// first, bounded by limit.
func GetSharePriceHistory(vaultName string, limit int) ([]PricePoint, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	if limit <= 0 || limit > 1000 {
		limit = 100 // Default limit
	}

	query := `
		SELECT snapshot_timestamp, share_price_micro, tvl_usd_micro
		FROM (
			SELECT snapshot_timestamp, share_price_micro, tvl_usd_micro
			FROM cycle_snapshots
			WHERE vault_name = $1
			ORDER BY snapshot_timestamp DESC
			LIMIT $2
		) recent
		ORDER BY snapshot_timestamp ASC;
	`

	rows, err := DB.Query(query, vaultName, limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to query share price history")
		return nil, fmt.Errorf("failed to query share price history: %w", err)
	}
	defer rows.Close()

	var points []PricePoint
	for rows.Next() {
		var p PricePoint
		if err := rows.Scan(&p.Timestamp, &p.SharePriceMicro, &p.TvlUsdMicro); err != nil {
			return nil, fmt.Errorf("failed to scan price point: %w", err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate price points: %w", err)
	}

	return points, nil
}
