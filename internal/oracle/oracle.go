// Package oracle defines the price-feed collaborator consumed by the engine.
//
// A feed reports the USD price of one collateral asset at its own decimal
// precision together with the time it was last updated. The engine normalizes
// prices to its 18-decimal scale and refuses to act on stale or non-positive
// quotes, so a dead feed halts operations instead of silently valuing
// collateral at zero.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"
)

var (
	// ErrUnknownFeed is returned when no price has ever been published for
	// the requested feed.
	ErrUnknownFeed = errors.New("oracle: unknown feed")

	// ErrUnavailable is returned when a quote exists but is unusable:
	// non-positive price or older than the allowed maximum age.
	ErrUnavailable = errors.New("oracle: price unavailable")
)

// Price is one feed observation.
type Price struct {
	Value     *big.Int  // price in feed units, e.g. 2000e8 for $2000 at 8 decimals
	Decimals  uint8     // feed decimal precision
	UpdatedAt time.Time // when the feed last published
}

// PriceOracle is the capability interface the engine consumes.
type PriceOracle interface {
	// LatestPrice returns the most recent observation for a feed.
	LatestPrice(ctx context.Context, feedID string) (Price, error)
}

// Fresh validates a quote against the staleness window. A zero maxAge
// disables the age check (price sign is always checked).
func Fresh(p Price, maxAge time.Duration, now time.Time) error {
	if p.Value == nil || p.Value.Sign() <= 0 {
		return fmt.Errorf("%w: non-positive price", ErrUnavailable)
	}
	if maxAge > 0 && now.Sub(p.UpdatedAt) > maxAge {
		return fmt.Errorf("%w: quote is %s old", ErrUnavailable, now.Sub(p.UpdatedAt).Round(time.Second))
	}
	return nil
}

// Manual is an in-process oracle whose prices are set explicitly. Used for
// development, tests, and the admin price endpoint.
type Manual struct {
	mu     sync.RWMutex
	quotes map[string]Price
}

// NewManual creates an empty manual oracle.
func NewManual() *Manual {
	return &Manual{quotes: make(map[string]Price)}
}

// Set publishes a price for a feed.
func (m *Manual) Set(feedID string, value *big.Int, decimals uint8, updatedAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotes[feedID] = Price{
		Value:     new(big.Int).Set(value),
		Decimals:  decimals,
		UpdatedAt: updatedAt,
	}
}

// LatestPrice implements PriceOracle.
func (m *Manual) LatestPrice(_ context.Context, feedID string) (Price, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.quotes[feedID]
	if !ok {
		return Price{}, fmt.Errorf("%w: %s", ErrUnknownFeed, feedID)
	}
	return Price{Value: new(big.Int).Set(q.Value), Decimals: q.Decimals, UpdatedAt: q.UpdatedAt}, nil
}
