/*

This file contains the vault composition types: the per-vault asset basket
with target weights, and the validation rules that hold for every vault.

*/

package types

// AssetRole tags how an asset's slice of the basket is handled. Assets are
// resolved by identity and role, never by weight value: two assets may share
// a weight without being confused for one another.
type AssetRole string

const (
	// RoleSwapped assets are acquired through the swap executor.
	RoleSwapped AssetRole = "SWAPPED"
	// RoleStaked marks the single asset whose deposit sub-allocation is
	// routed to the yield strategy instead of a direct swap.
	RoleStaked AssetRole = "STAKED"
	// RoleSettlement marks the asset deposits arrive in and withdrawals
	// settle to.
	RoleSettlement AssetRole = "SETTLEMENT"
)

// AssetAllocation is one entry in a vault's basket.
type AssetAllocation struct {
	Symbol       string    `json:"symbol"`        // e.g. "BTC"
	Denom        string    `json:"denom"`         // balance-store handle, e.g. "ubtc"
	TargetWeight int64     `json:"target_weight"` // integer percent, all weights sum to 100
	Decimals     uint8     `json:"decimals"`      // native minor-unit decimals, 0-18
	Role         AssetRole `json:"role"`
}

// VaultComposition describes one pool instance. Created once at pool-creation
// time; weights only change via an explicit, authorized recomposition.
type VaultComposition struct {
	Owner      string            `json:"owner"`
	Name       string            `json:"name"`
	Assets     []AssetAllocation `json:"assets"`
	ShareDenom string            `json:"share_denom"`
}

const (
	maxNameLen = 32
	minAssets  = 1
	maxAssets  = 10

	// WeightScale is the denominator for target weights.
	WeightScale = 100
)

// NewVaultComposition validates and builds a composition. Validation precedes
// any use: an invalid composition is never constructed.
func NewVaultComposition(owner, name, shareDenom string, assets []AssetAllocation) (*VaultComposition, error) {
	if len(name) == 0 || len(name) > maxNameLen {
		return nil, ErrInvalidName
	}
	if len(assets) < minAssets || len(assets) > maxAssets {
		return nil, ErrInvalidAssetCount
	}

	var totalWeight int64
	var stakedCount int
	for _, a := range assets {
		if a.TargetWeight <= 0 {
			return nil, ErrInvalidWeights
		}
		totalWeight += a.TargetWeight
		if a.Role == RoleStaked {
			stakedCount++
		}
	}
	if totalWeight != WeightScale {
		return nil, ErrInvalidWeights
	}
	// At most one asset routes to the yield strategy.
	if stakedCount > 1 {
		return nil, ErrInvalidAssetCount
	}

	comp := &VaultComposition{
		Owner:      owner,
		Name:       name,
		ShareDenom: shareDenom,
		Assets:     append([]AssetAllocation(nil), assets...),
	}
	return comp, nil
}

// AssetByDenom looks up an allocation by its balance-store handle.
func (c *VaultComposition) AssetByDenom(denom string) (AssetAllocation, bool) {
	for _, a := range c.Assets {
		if a.Denom == denom {
			return a, true
		}
	}
	return AssetAllocation{}, false
}

// StakedAsset returns the allocation routed to the yield strategy, if any.
func (c *VaultComposition) StakedAsset() (AssetAllocation, bool) {
	for _, a := range c.Assets {
		if a.Role == RoleStaked {
			return a, true
		}
	}
	return AssetAllocation{}, false
}

// SettlementAsset returns the asset deposits arrive in. Falls back to the
// first asset when none is tagged explicitly.
func (c *VaultComposition) SettlementAsset() AssetAllocation {
	for _, a := range c.Assets {
		if a.Role == RoleSettlement {
			return a
		}
	}
	return c.Assets[0]
}
