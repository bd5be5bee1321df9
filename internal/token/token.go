// Package token defines the fungible-ledger collaborators the engine moves
// value through: the synthetic dollar it mints and burns, and the collateral
// assets it takes into custody. The engine only ever sees these interfaces;
// Bank is the in-process implementation used for development and tests.
package token

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
)

var (
	// ErrInsufficientBalance is returned when a transfer or burn exceeds the
	// source account's balance.
	ErrInsufficientBalance = errors.New("token: insufficient balance")

	// ErrInvalidAmount is returned for nil or non-positive amounts.
	ErrInvalidAmount = errors.New("token: amount must be positive")
)

// SyntheticToken is the dollar-pegged token ledger. Mint and Burn are
// restricted to the engine by wiring: only the engine holds this reference.
type SyntheticToken interface {
	Mint(ctx context.Context, to string, amount *big.Int) error
	Burn(ctx context.Context, from string, amount *big.Int) error
	TotalSupply(ctx context.Context) (*big.Int, error)
}

// CollateralToken is a collateral asset ledger. Transfer moves funds out of
// the caller-chosen source via TransferFrom, or from the engine's own custody
// account via Transfer.
type CollateralToken interface {
	Transfer(ctx context.Context, from, to string, amount *big.Int) error
	BalanceOf(ctx context.Context, account string) (*big.Int, error)
}

// Bank is an in-memory fungible-balance ledger implementing both collaborator
// interfaces. Not suitable for production custody (no persistence).
type Bank struct {
	symbol   string
	mu       sync.RWMutex
	balances map[string]*big.Int
	supply   *big.Int
}

// NewBank creates an empty ledger for the named asset.
func NewBank(symbol string) *Bank {
	return &Bank{
		symbol:   symbol,
		balances: make(map[string]*big.Int),
		supply:   big.NewInt(0),
	}
}

// Symbol returns the asset symbol this ledger tracks.
func (b *Bank) Symbol() string { return b.symbol }

func (b *Bank) balanceLocked(account string) *big.Int {
	if bal, ok := b.balances[account]; ok {
		return bal
	}
	return big.NewInt(0)
}

// Mint credits freshly created units to an account.
func (b *Bank) Mint(_ context.Context, to string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[to] = new(big.Int).Add(b.balanceLocked(to), amount)
	b.supply = new(big.Int).Add(b.supply, amount)
	return nil
}

// Burn destroys units held by an account.
func (b *Bank) Burn(_ context.Context, from string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	bal := b.balanceLocked(from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s burn %s exceeds balance %s", ErrInsufficientBalance, b.symbol, amount, bal)
	}
	b.balances[from] = new(big.Int).Sub(bal, amount)
	b.supply = new(big.Int).Sub(b.supply, amount)
	return nil
}

// TotalSupply reports units in circulation.
func (b *Bank) TotalSupply(_ context.Context) (*big.Int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return new(big.Int).Set(b.supply), nil
}

// Transfer moves units between accounts.
func (b *Bank) Transfer(_ context.Context, from, to string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	bal := b.balanceLocked(from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s transfer %s exceeds balance %s", ErrInsufficientBalance, b.symbol, amount, bal)
	}
	b.balances[from] = new(big.Int).Sub(bal, amount)
	b.balances[to] = new(big.Int).Add(b.balanceLocked(to), amount)
	return nil
}

// BalanceOf returns the balance of an account, zero for unknown accounts.
func (b *Bank) BalanceOf(_ context.Context, account string) (*big.Int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return new(big.Int).Set(b.balanceLocked(account)), nil
}
