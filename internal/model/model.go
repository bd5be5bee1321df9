// Package model defines the core domain types shared across the engine.
// All amounts are 1e18-scaled integers held in math/big.Int, never float64.
// shopspring/decimal appears only at the API boundary.
package model

import (
	"math/big"
	"time"
)

// Asset describes one registered collateral asset and the price feed it is
// valued against. The registry is fixed at construction; there is no runtime
// reconfiguration.
type Asset struct {
	ID     string `json:"id"`      // e.g. "WETH"
	FeedID string `json:"feed_id"` // e.g. "eth-usd"
}

// Position is the per-account ledger entry: deposited collateral per asset
// plus outstanding synthetic-dollar debt. A position is created implicitly by
// the first deposit and never deleted; it becomes inert at zero/zero.
type Position struct {
	Account    string              `json:"account"`
	Collateral map[string]*big.Int `json:"collateral"` // assetID → raw units
	Debt       *big.Int            `json:"debt"`       // synthetic units minted
}

// NewPosition returns an empty position for the given account.
func NewPosition(account string) *Position {
	return &Position{
		Account:    account,
		Collateral: make(map[string]*big.Int),
		Debt:       big.NewInt(0),
	}
}

// Clone returns a deep copy. Engine operations mutate clones and commit them
// atomically, so stored positions are never half-updated.
func (p *Position) Clone() *Position {
	c := NewPosition(p.Account)
	if p.Debt != nil {
		c.Debt = new(big.Int).Set(p.Debt)
	}
	for asset, amt := range p.Collateral {
		c.Collateral[asset] = new(big.Int).Set(amt)
	}
	return c
}

// CollateralOf returns the recorded collateral for an asset, zero if none.
func (p *Position) CollateralOf(assetID string) *big.Int {
	if amt, ok := p.Collateral[assetID]; ok && amt != nil {
		return amt
	}
	return big.NewInt(0)
}

// Ledger entry kinds. One entry is appended per account affected by a
// successful mutation.
const (
	EntryDeposit     = "deposit"
	EntryMint        = "mint"
	EntryBurn        = "burn"
	EntryRedeem      = "redeem"
	EntryLiquidation = "liquidation" // victim side: debt repaid, collateral seized
	EntrySeizure     = "seizure"     // liquidator side: collateral received
)

// LedgerEntry is an immutable record of an executed operation.
// Once created, these are never modified or deleted.
type LedgerEntry struct {
	ID           string    `json:"id" db:"id"`
	Account      string    `json:"account" db:"account"`
	Kind         string    `json:"kind" db:"kind"`
	AssetID      string    `json:"asset_id,omitempty" db:"asset_id"`
	Amount       *big.Int  `json:"amount" db:"amount"`
	Counterparty string    `json:"counterparty,omitempty" db:"counterparty"`
	HealthFactor *big.Int  `json:"health_factor,omitempty" db:"health_factor"`
	Timestamp    time.Time `json:"timestamp" db:"timestamp"`
}

// AccountSummary is the read-only composite view of one account.
type AccountSummary struct {
	Account            string              `json:"account"`
	DebtMinted         *big.Int            `json:"debt_minted"`
	CollateralValueUsd *big.Int            `json:"collateral_value_usd"`
	HealthFactor       *big.Int            `json:"health_factor"`
	Collateral         map[string]*big.Int `json:"collateral"`
}
