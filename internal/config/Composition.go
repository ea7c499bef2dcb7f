package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/basketlabs/bvm/internal/types"
)

// compositionFile is the on-disk shape of a vault composition definition.
type compositionFile struct {
	Name   string `json:"name"`
	Owner  string `json:"owner"`
	Assets []struct {
		Symbol       string `json:"symbol"`
		Denom        string `json:"denom"`
		TargetWeight int64  `json:"target_weight"`
		Decimals     uint8  `json:"decimals"`
		Role         string `json:"role"`
		FeedAccount  string `json:"feed_account,omitempty"`
	} `json:"assets"`
	ShareDenom string `json:"share_denom"`
}

// LoadComposition reads and validates a vault composition definition. The
// returned feed map carries any configured feed account per denom.
func LoadComposition(path string) (*types.VaultComposition, map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read composition file: %w", err)
	}

	var file compositionFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, nil, fmt.Errorf("parse composition file: %w", err)
	}

	assets := make([]types.AssetAllocation, 0, len(file.Assets))
	feeds := make(map[string]string)
	for _, a := range file.Assets {
		role, err := parseRole(a.Role)
		if err != nil {
			return nil, nil, err
		}
		assets = append(assets, types.AssetAllocation{
			Symbol:       a.Symbol,
			Denom:        a.Denom,
			TargetWeight: a.TargetWeight,
			Decimals:     a.Decimals,
			Role:         role,
		})
		if a.FeedAccount != "" {
			feeds[a.Denom] = a.FeedAccount
		}
	}

	comp, err := types.NewVaultComposition(file.Owner, file.Name, file.ShareDenom, assets)
	if err != nil {
		return nil, nil, err
	}
	return comp, feeds, nil
}

func parseRole(role string) (types.AssetRole, error) {
	switch role {
	case "swapped", "SWAPPED", "":
		return types.RoleSwapped, nil
	case "staked", "STAKED":
		return types.RoleStaked, nil
	case "settlement", "SETTLEMENT":
		return types.RoleSettlement, nil
	default:
		return "", fmt.Errorf("unknown asset role %q", role)
	}
}
