package store

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/syndollar/dsc-engine/internal/model"
)

func TestMemoryStore_GetPosition_UnknownAccountIsEmpty(t *testing.T) {
	s := NewMemoryStore()

	p, err := s.GetPosition(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Account != "nobody" {
		t.Errorf("expected account nobody, got %s", p.Account)
	}
	if p.Debt.Sign() != 0 {
		t.Errorf("expected zero debt, got %s", p.Debt)
	}
	if len(p.Collateral) != 0 {
		t.Errorf("expected empty collateral, got %v", p.Collateral)
	}
}

func TestMemoryStore_ApplyAndGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	pos := model.NewPosition("alice")
	pos.Collateral["WETH"] = big.NewInt(10)
	pos.Debt = big.NewInt(5)

	entry := model.LedgerEntry{
		ID:        "e1",
		Account:   "alice",
		Kind:      model.EntryDeposit,
		AssetID:   "WETH",
		Amount:    big.NewInt(10),
		Timestamp: time.Now().UTC(),
	}

	if err := s.Apply(ctx, &ChangeSet{
		Positions: []*model.Position{pos},
		Entries:   []model.LedgerEntry{entry},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := s.GetPosition(ctx, "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.CollateralOf("WETH").Cmp(big.NewInt(10)) != 0 {
		t.Errorf("expected WETH=10, got %s", got.CollateralOf("WETH"))
	}
	if got.Debt.Cmp(big.NewInt(5)) != 0 {
		t.Errorf("expected debt=5, got %s", got.Debt)
	}

	entries, err := s.LedgerEntriesByAccount(ctx, "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "e1" {
		t.Errorf("expected one entry e1, got %v", entries)
	}
}

func TestMemoryStore_CloneIsolation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	pos := model.NewPosition("alice")
	pos.Collateral["WETH"] = big.NewInt(10)
	s.Apply(ctx, &ChangeSet{Positions: []*model.Position{pos}})

	// Mutating what Apply saw must not change the committed state.
	pos.Collateral["WETH"].SetInt64(999)

	got, _ := s.GetPosition(ctx, "alice")
	if got.CollateralOf("WETH").Cmp(big.NewInt(10)) != 0 {
		t.Errorf("caller mutation leaked in, got %s", got.CollateralOf("WETH"))
	}

	// And mutating a read result must not either.
	got.Collateral["WETH"].SetInt64(777)
	again, _ := s.GetPosition(ctx, "alice")
	if again.CollateralOf("WETH").Cmp(big.NewInt(10)) != 0 {
		t.Errorf("read mutation leaked in, got %s", again.CollateralOf("WETH"))
	}
}

func TestMemoryStore_ApplyOverwritesPosition(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	pos := model.NewPosition("alice")
	pos.Debt = big.NewInt(5)
	s.Apply(ctx, &ChangeSet{Positions: []*model.Position{pos}})

	updated := model.NewPosition("alice")
	updated.Debt = big.NewInt(2)
	s.Apply(ctx, &ChangeSet{Positions: []*model.Position{updated}})

	got, _ := s.GetPosition(ctx, "alice")
	if got.Debt.Cmp(big.NewInt(2)) != 0 {
		t.Errorf("expected debt=2 after overwrite, got %s", got.Debt)
	}
}

func TestMemoryStore_ListPositions(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for _, name := range []string{"alice", "bob"} {
		p := model.NewPosition(name)
		p.Debt = big.NewInt(1)
		s.Apply(ctx, &ChangeSet{Positions: []*model.Position{p}})
	}

	all, err := s.ListPositions(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 positions, got %d", len(all))
	}
}

func TestMemoryStore_LedgerFiltersByAccount(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.Apply(ctx, &ChangeSet{Entries: []model.LedgerEntry{
		{ID: "e1", Account: "alice", Kind: model.EntryDeposit, Amount: big.NewInt(1)},
		{ID: "e2", Account: "bob", Kind: model.EntryMint, Amount: big.NewInt(2)},
		{ID: "e3", Account: "alice", Kind: model.EntryMint, Amount: big.NewInt(3)},
	}})

	entries, _ := s.LedgerEntriesByAccount(ctx, "alice")
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries for alice, got %d", len(entries))
	}
	if entries[0].ID != "e1" || entries[1].ID != "e3" {
		t.Errorf("expected e1,e3 in order, got %s,%s", entries[0].ID, entries[1].ID)
	}
}
