// Package store defines the persistence interface for positions and the
// immutable event ledger. Implementations include PostgreSQL (source of
// truth), Redis (read-through cache), and in-memory (for testing).
package store

import (
	"context"

	"github.com/syndollar/dsc-engine/internal/model"
)

// ChangeSet is the unit of work produced by one engine operation: the full
// post-state of every touched position plus the ledger entries to append.
// A store applies the whole set atomically or not at all.
type ChangeSet struct {
	Positions []*model.Position
	Entries   []model.LedgerEntry
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// GetPosition retrieves the position for an account. Accounts with no
	// recorded activity return an empty position, never an error.
	GetPosition(ctx context.Context, account string) (*model.Position, error)

	// ListPositions returns every position with non-empty state.
	ListPositions(ctx context.Context) ([]*model.Position, error)

	// Apply commits a change set atomically.
	Apply(ctx context.Context, cs *ChangeSet) error

	// LedgerEntriesByAccount returns the event history for an account in
	// chronological order.
	LedgerEntriesByAccount(ctx context.Context, account string) ([]model.LedgerEntry, error)
}
