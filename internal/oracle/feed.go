package oracle

import (
	"context"
	"fmt"
	"time"
)

// AccountReader fetches the raw bytes of a published feed account together
// with the time the account was last updated.
type AccountReader interface {
	ReadAccount(ctx context.Context, address string) ([]byte, time.Time, error)
}

// FeedProvider resolves denoms to feed account addresses and decodes their
// published prices.
type FeedProvider struct {
	reader AccountReader
	feeds  map[string]string // denom -> account address
}

func NewFeedProvider(reader AccountReader, feeds map[string]string) *FeedProvider {
	return &FeedProvider{reader: reader, feeds: feeds}
}

func (f *FeedProvider) GetQuote(ctx context.Context, denom string) (Quote, error) {
	address, ok := f.feeds[denom]
	if !ok {
		return Quote{}, fmt.Errorf("no feed configured for %s", denom)
	}
	data, updatedAt, err := f.reader.ReadAccount(ctx, address)
	if err != nil {
		return Quote{}, fmt.Errorf("read feed %s: %w", address, err)
	}
	return DecodeFeedAccount(denom, data, updatedAt)
}
