// Package engine implements the position engine: the state-changing
// operations on the collateral/debt ledger and the health-factor gate that
// every one of them must pass.
//
// An account locks collateral and mints the synthetic dollar against it. The
// engine values collateral through the oracle collaborator at 18-decimal
// fixed point, counts 50% of that value toward solvency, and requires the
// resulting health factor to stay at or above 1e18 after any operation that
// can worsen a position. Positions below the minimum are open to permissionless
// liquidation at a 10% collateral bonus.
//
// A single mutex serializes all mutating operations; collaborator callbacks
// can never observe a half-updated ledger.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/syndollar/dsc-engine/internal/fixedpoint"
	"github.com/syndollar/dsc-engine/internal/model"
	"github.com/syndollar/dsc-engine/internal/oracle"
	"github.com/syndollar/dsc-engine/internal/store"
	"github.com/syndollar/dsc-engine/internal/token"
)

// Protocol constants. Threshold 50 over precision 100 counts half the
// collateral value toward solvency, i.e. 200% overcollateralization.
const (
	LiquidationThreshold = 50
	LiquidationPrecision = 100
	LiquidationBonus     = 10 // percent of the seized base amount
)

var (
	// Precision is the 1e18 fixed-point scale shared by USD values and
	// health factors.
	Precision = new(big.Int).Set(fixedpoint.Wad)

	// MinHealthFactor is the liveness threshold, 1e18. It shares the scale
	// of the computed factor, so the true minimum is a ratio of exactly 1.
	MinHealthFactor = new(big.Int).Set(fixedpoint.Wad)

	// InfiniteHealthFactor is the sentinel for zero-debt accounts: 2^256-1.
	// Division by zero never happens; zero-debt accounts are simply never
	// liquidatable and never fail the gate.
	InfiniteHealthFactor = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

// Config is the construction-time engine configuration. The asset registry
// and feed mapping are immutable once the engine is built.
type Config struct {
	Assets         []model.Asset
	CustodyAccount string        // account holding deposited collateral
	MaxPriceAge    time.Duration // 0 disables the staleness check
}

// Engine orchestrates every state transition on the collateral/debt ledger.
type Engine struct {
	store      store.Store
	oracle     oracle.PriceOracle
	dsc        token.SyntheticToken
	collateral map[string]token.CollateralToken
	assets     []model.Asset
	feeds      map[string]string
	custody    string
	maxAge     time.Duration
	now        func() time.Time

	// mu serializes mutating operations globally: one mutation at a time
	// across all accounts.
	mu sync.Mutex
}

// New builds an engine over the given store and collaborators. Every
// registered asset must name a feed and have a collateral-token ledger.
func New(st store.Store, po oracle.PriceOracle, dsc token.SyntheticToken,
	collateral map[string]token.CollateralToken, cfg Config) (*Engine, error) {

	if len(cfg.Assets) == 0 {
		return nil, fmt.Errorf("%w: empty asset registry", ErrConfig)
	}
	if cfg.CustodyAccount == "" {
		return nil, fmt.Errorf("%w: custody account required", ErrConfig)
	}

	feeds := make(map[string]string, len(cfg.Assets))
	for _, a := range cfg.Assets {
		if a.ID == "" || a.FeedID == "" {
			return nil, fmt.Errorf("%w: asset %q must map to exactly one feed", ErrConfig, a.ID)
		}
		if _, dup := feeds[a.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate asset %s", ErrConfig, a.ID)
		}
		if _, ok := collateral[a.ID]; !ok {
			return nil, fmt.Errorf("%w: no token ledger for asset %s", ErrConfig, a.ID)
		}
		feeds[a.ID] = a.FeedID
	}

	return &Engine{
		store:      st,
		oracle:     po,
		dsc:        dsc,
		collateral: collateral,
		assets:     append([]model.Asset(nil), cfg.Assets...),
		feeds:      feeds,
		custody:    cfg.CustodyAccount,
		maxAge:     cfg.MaxPriceAge,
		now:        time.Now,
	}, nil
}

// Assets returns the registered collateral assets in registry order.
func (e *Engine) Assets() []model.Asset {
	return append([]model.Asset(nil), e.assets...)
}

// Constants is the fixed protocol parameter set exposed on the query surface.
type Constants struct {
	LiquidationThreshold int64    `json:"liquidation_threshold"`
	LiquidationPrecision int64    `json:"liquidation_precision"`
	LiquidationBonus     int64    `json:"liquidation_bonus"`
	MinHealthFactor      *big.Int `json:"min_health_factor"`
	Precision            *big.Int `json:"precision"`
}

// ProtocolConstants returns the fixed parameters.
func (e *Engine) ProtocolConstants() Constants {
	return Constants{
		LiquidationThreshold: LiquidationThreshold,
		LiquidationPrecision: LiquidationPrecision,
		LiquidationBonus:     LiquidationBonus,
		MinHealthFactor:      new(big.Int).Set(MinHealthFactor),
		Precision:            new(big.Int).Set(Precision),
	}
}

// --- Price conversion ---

// normalizedPrice fetches a feed quote, enforces freshness, and scales the
// price to 18 decimals.
func (e *Engine) normalizedPrice(ctx context.Context, assetID string) (*big.Int, error) {
	feedID, ok := e.feeds[assetID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAsset, assetID)
	}
	p, err := e.oracle.LatestPrice(ctx, feedID)
	if err != nil {
		return nil, err
	}
	if err := oracle.Fresh(p, e.maxAge, e.now()); err != nil {
		return nil, fmt.Errorf("feed %s: %w", feedID, err)
	}

	switch {
	case uint(p.Decimals) == fixedpoint.Decimals:
		return new(big.Int).Set(p.Value), nil
	case uint(p.Decimals) < fixedpoint.Decimals:
		return new(big.Int).Mul(p.Value, fixedpoint.Pow10(fixedpoint.Decimals-uint(p.Decimals))), nil
	default:
		return new(big.Int).Quo(p.Value, fixedpoint.Pow10(uint(p.Decimals)-fixedpoint.Decimals)), nil
	}
}

// UsdValue converts a raw collateral amount into its 18-decimal USD value:
// normalizedPrice * amount / 1e18, multiplied at full width before dividing.
func (e *Engine) UsdValue(ctx context.Context, assetID string, amount *big.Int) (*big.Int, error) {
	price, err := e.normalizedPrice(ctx, assetID)
	if err != nil {
		return nil, err
	}
	return fixedpoint.MulDiv(price, amount, fixedpoint.Wad), nil
}

// TokenAmountFromUsd is the inverse conversion: usd * 1e18 / normalizedPrice.
// Round-trips with UsdValue up to integer-division truncation.
func (e *Engine) TokenAmountFromUsd(ctx context.Context, assetID string, usd *big.Int) (*big.Int, error) {
	price, err := e.normalizedPrice(ctx, assetID)
	if err != nil {
		return nil, err
	}
	return fixedpoint.MulDiv(usd, fixedpoint.Wad, price), nil
}

// --- Health factor ---

// CalculateHealthFactor is the standalone formula, usable for prospective
// "what if I minted X" checks: collateralUsd * threshold / precision,
// scaled by 1e18 and divided by debt. Zero debt yields the infinite sentinel.
func CalculateHealthFactor(debtMinted, collateralUsd *big.Int) *big.Int {
	if debtMinted == nil || debtMinted.Sign() == 0 {
		return new(big.Int).Set(InfiniteHealthFactor)
	}
	adjusted := fixedpoint.MulDiv(collateralUsd, big.NewInt(LiquidationThreshold), big.NewInt(LiquidationPrecision))
	return fixedpoint.MulDiv(adjusted, Precision, debtMinted)
}

// collateralValueUsd sums the USD value of every registered asset held by the
// position. Zero-amount assets contribute zero.
func (e *Engine) collateralValueUsd(ctx context.Context, pos *model.Position) (*big.Int, error) {
	total := big.NewInt(0)
	for _, a := range e.assets {
		amount := pos.CollateralOf(a.ID)
		if amount.Sign() == 0 {
			continue
		}
		usd, err := e.UsdValue(ctx, a.ID, amount)
		if err != nil {
			return nil, err
		}
		total.Add(total, usd)
	}
	return total, nil
}

// healthFactorOf computes the factor for an in-memory position state.
func (e *Engine) healthFactorOf(ctx context.Context, pos *model.Position) (*big.Int, error) {
	if pos.Debt.Sign() == 0 {
		return new(big.Int).Set(InfiniteHealthFactor), nil
	}
	collateralUsd, err := e.collateralValueUsd(ctx, pos)
	if err != nil {
		return nil, err
	}
	return CalculateHealthFactor(pos.Debt, collateralUsd), nil
}

// HealthFactor returns the current factor for an account. Never fails for an
// account with no activity: zero debt reports the infinite sentinel.
func (e *Engine) HealthFactor(ctx context.Context, account string) (*big.Int, error) {
	pos, err := e.store.GetPosition(ctx, account)
	if err != nil {
		return nil, err
	}
	return e.healthFactorOf(ctx, pos)
}

// AccountSummary returns the read-only composite view of one account.
func (e *Engine) AccountSummary(ctx context.Context, account string) (*model.AccountSummary, error) {
	pos, err := e.store.GetPosition(ctx, account)
	if err != nil {
		return nil, err
	}
	collateralUsd, err := e.collateralValueUsd(ctx, pos)
	if err != nil {
		return nil, err
	}
	return &model.AccountSummary{
		Account:            account,
		DebtMinted:         new(big.Int).Set(pos.Debt),
		CollateralValueUsd: collateralUsd,
		HealthFactor:       CalculateHealthFactor(pos.Debt, collateralUsd),
		Collateral:         pos.Clone().Collateral,
	}, nil
}

// LedgerEntries returns the event history for an account.
func (e *Engine) LedgerEntries(ctx context.Context, account string) ([]model.LedgerEntry, error) {
	return e.store.LedgerEntriesByAccount(ctx, account)
}

// SystemSnapshot reports the system-wide debt recorded in the ledger next to
// the synthetic token's total supply. The two must stay equal: the engine is
// the only authorized minter/burner.
func (e *Engine) SystemSnapshot(ctx context.Context) (totalDebt, totalSupply *big.Int, err error) {
	positions, err := e.store.ListPositions(ctx)
	if err != nil {
		return nil, nil, err
	}
	totalDebt = big.NewInt(0)
	for _, p := range positions {
		totalDebt.Add(totalDebt, p.Debt)
	}
	totalSupply, err = e.dsc.TotalSupply(ctx)
	if err != nil {
		return nil, nil, err
	}
	return totalDebt, totalSupply, nil
}

// --- helpers shared by the mutating operations ---

func validAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (e *Engine) newEntry(account, kind, assetID string, amount *big.Int, counterparty string, hf *big.Int) model.LedgerEntry {
	entry := model.LedgerEntry{
		ID:           uuid.New().String(),
		Account:      account,
		Kind:         kind,
		AssetID:      assetID,
		Amount:       new(big.Int).Set(amount),
		Counterparty: counterparty,
		Timestamp:    e.now().UTC(),
	}
	if hf != nil {
		entry.HealthFactor = new(big.Int).Set(hf)
	}
	return entry
}

func logCompensationFailure(op string, err error) {
	// A failed compensating transfer leaves custody out of sync with the
	// ledger; surface loudly for operator intervention.
	slog.Error("compensating transfer failed, manual reconciliation required",
		"op", op, "err", err)
}
