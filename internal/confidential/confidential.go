/*

This file contains the confidential rebalancing path. Vault balances are
sealed with AES-GCM before leaving the engine, the drift decision runs inside
the Computer boundary, and only the resulting plan comes back in the clear.

The sealed computer delegates to the exact same drift and planning functions
as the plaintext path, so for any snapshot both paths produce the same plan.

*/

package confidential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"

	"github.com/basketlabs/bvm/internal/pricing"
	"github.com/basketlabs/bvm/internal/rebalancer"
	"github.com/basketlabs/bvm/internal/types"
)

// RebalanceInput is the cleartext payload sealed for the computer.
type RebalanceInput struct {
	Balances         []uint64                  `json:"balances"`
	Prices           []pricing.NormalizedPrice `json:"prices"`
	Decimals         []uint8                   `json:"decimals"`
	ThresholdPercent int64                     `json:"threshold_percent"`
}

// Computer evaluates a sealed rebalance decision and returns the plan in the
// clear. Implementations never see who is asking, only the sealed snapshot.
type Computer interface {
	ComputeRebalance(sealed []byte, comp *types.VaultComposition) (types.DriftReport, types.SwapPlan, error)
}

// Sealer encrypts rebalance inputs for a Computer sharing the same key.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer builds a sealer over a 32-byte AES-256 key.
func NewSealer(key []byte) (*Sealer, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("sealing cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("sealing mode: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal serializes and encrypts an input. The nonce is prepended so the
// computer can open the payload without shared state.
func (s *Sealer) Seal(input RebalanceInput) ([]byte, error) {
	plaintext, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("encode rebalance input: %w", err)
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("sealing nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *Sealer) open(sealed []byte) (RebalanceInput, error) {
	ns := s.aead.NonceSize()
	if len(sealed) < ns {
		return RebalanceInput{}, fmt.Errorf("%w: sealed payload too short", types.ErrInvalidQuote)
	}
	plaintext, err := s.aead.Open(nil, sealed[:ns], sealed[ns:], nil)
	if err != nil {
		return RebalanceInput{}, fmt.Errorf("open sealed payload: %w", err)
	}
	var input RebalanceInput
	if err := json.Unmarshal(plaintext, &input); err != nil {
		return RebalanceInput{}, fmt.Errorf("decode rebalance input: %w", err)
	}
	return input, nil
}

// SealedComputer runs the drift decision in-process over sealed inputs. It
// shares its Sealer's key, opening payloads only inside ComputeRebalance.
type SealedComputer struct {
	sealer *Sealer
}

func NewSealedComputer(sealer *Sealer) *SealedComputer {
	return &SealedComputer{sealer: sealer}
}

// ComputeRebalance opens the sealed snapshot and runs the shared drift and
// planning functions over it.
func (c *SealedComputer) ComputeRebalance(sealed []byte, comp *types.VaultComposition) (types.DriftReport, types.SwapPlan, error) {
	input, err := c.sealer.open(sealed)
	if err != nil {
		return types.DriftReport{}, types.SwapPlan{}, err
	}

	report, err := rebalancer.EvaluateDrift(input.Balances, input.Prices, comp, input.Decimals, input.ThresholdPercent)
	if err != nil {
		return types.DriftReport{}, types.SwapPlan{}, err
	}
	plan, err := rebalancer.PlanRebalance(report, input.Prices, comp, input.Decimals)
	if err != nil {
		return types.DriftReport{}, types.SwapPlan{}, err
	}
	return report, plan, nil
}
