package store

import (
	"context"
	"sync"

	"github.com/syndollar/dsc-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	positions map[string]*model.Position
	ledger    []model.LedgerEntry
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		positions: make(map[string]*model.Position),
	}
}

func (s *MemoryStore) GetPosition(_ context.Context, account string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[account]
	if !ok {
		return model.NewPosition(account), nil
	}
	return p.Clone(), nil
}

func (s *MemoryStore) ListPositions(_ context.Context) ([]*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	positions := make([]*model.Position, 0, len(s.positions))
	for _, p := range s.positions {
		positions = append(positions, p.Clone())
	}
	return positions, nil
}

func (s *MemoryStore) Apply(_ context.Context, cs *ChangeSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store clones so callers cannot mutate committed state.
	for _, p := range cs.Positions {
		s.positions[p.Account] = p.Clone()
	}
	s.ledger = append(s.ledger, cs.Entries...)
	return nil
}

func (s *MemoryStore) LedgerEntriesByAccount(_ context.Context, account string) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.LedgerEntry
	for _, e := range s.ledger {
		if e.Account == account {
			result = append(result, e)
		}
	}
	return result, nil
}
