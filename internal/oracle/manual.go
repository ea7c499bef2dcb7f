package oracle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/basketlabs/bvm/internal/types"
)

// ManualMaxQuoteAge is the looser staleness bound on authority-pushed quotes,
// which update on a slower cadence than live feeds.
const ManualMaxQuoteAge = 300 * time.Second

// ManualProvider serves quotes pushed by a trusted authority. Used for assets
// with no live feed and in local runs. Safe for concurrent use.
type ManualProvider struct {
	authority string

	mu     sync.RWMutex
	quotes map[string]Quote
}

func NewManualProvider(authority string) *ManualProvider {
	return &ManualProvider{
		authority: authority,
		quotes:    make(map[string]Quote),
	}
}

// SetQuote stores a quote for denom. Only the configured authority may push;
// the price must normalize and pass the sanity ceiling before it is accepted.
func (m *ManualProvider) SetQuote(caller, denom string, rawPrice int64, rawExpo int32, observedAt time.Time) error {
	if caller != m.authority {
		return fmt.Errorf("%w: %s is not the quote authority", types.ErrUnauthorized, caller)
	}
	q := Quote{Denom: denom, RawPrice: rawPrice, RawExpo: rawExpo, ObservedAt: observedAt}
	if _, err := ValidateQuote(q, observedAt, ManualMaxQuoteAge); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotes[denom] = q
	return nil
}

func (m *ManualProvider) GetQuote(_ context.Context, denom string) (Quote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	q, ok := m.quotes[denom]
	if !ok {
		return Quote{}, fmt.Errorf("%w: no quote for %s", types.ErrInvalidQuote, denom)
	}
	return q, nil
}
