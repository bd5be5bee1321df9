package store

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/syndollar/dsc-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache of positions. Writes go to the primary store and invalidate the
// cache; reads check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func (s *CachedStore) GetPosition(ctx context.Context, account string) (*model.Position, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, positionKey(account)).Bytes()
	if err == nil {
		var p model.Position
		if json.Unmarshal(data, &p) == nil && p.Debt != nil {
			if p.Collateral == nil {
				p.Collateral = make(map[string]*big.Int)
			}
			return &p, nil
		}
	}

	// Cache miss: read from primary.
	p, err := s.primary.GetPosition(ctx, account)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, positionKey(account), data, s.ttl)
	}
	return p, nil
}

// Apply writes through to the primary and invalidates every touched account.
func (s *CachedStore) Apply(ctx context.Context, cs *ChangeSet) error {
	if err := s.primary.Apply(ctx, cs); err != nil {
		return err
	}
	for _, p := range cs.Positions {
		s.rdb.Del(ctx, positionKey(p.Account))
	}
	return nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListPositions(ctx context.Context) ([]*model.Position, error) {
	return s.primary.ListPositions(ctx)
}

func (s *CachedStore) LedgerEntriesByAccount(ctx context.Context, account string) ([]model.LedgerEntry, error) {
	return s.primary.LedgerEntriesByAccount(ctx, account)
}

func positionKey(account string) string { return fmt.Sprintf("position:%s", account) }
