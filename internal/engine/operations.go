package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/syndollar/dsc-engine/internal/fixedpoint"
	"github.com/syndollar/dsc-engine/internal/model"
	"github.com/syndollar/dsc-engine/internal/store"
)

// OpResult reports a committed operation: the ledger entries appended and the
// acting account's health factor where the operation computed one. Liquidate
// additionally reports the collateral seized.
type OpResult struct {
	Entries      []model.LedgerEntry
	HealthFactor *big.Int
	Seized       *big.Int
}

// DepositCollateral credits the account's ledger entry for the asset and
// pulls the amount from the caller into engine custody. The bookkeeping is
// only committed once the pull succeeds; a failed commit refunds the pull.
func (e *Engine) DepositCollateral(ctx context.Context, account, assetID string, amount *big.Int) (*OpResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := validAmount(amount); err != nil {
		return nil, err
	}
	tok, ok := e.collateral[assetID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAsset, assetID)
	}

	pos, err := e.store.GetPosition(ctx, account)
	if err != nil {
		return nil, err
	}
	pos.Collateral[assetID] = new(big.Int).Add(pos.CollateralOf(assetID), amount)

	entry := e.newEntry(account, model.EntryDeposit, assetID, amount, "", nil)

	if err := tok.Transfer(ctx, account, e.custody, amount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	cs := &store.ChangeSet{Positions: []*model.Position{pos}, Entries: []model.LedgerEntry{entry}}
	if err := e.store.Apply(ctx, cs); err != nil {
		if rerr := tok.Transfer(ctx, e.custody, account, amount); rerr != nil {
			logCompensationFailure("deposit", rerr)
		}
		return nil, err
	}

	slog.Info("collateral deposited", "account", account, "asset", assetID, "amount", amount.String())
	return &OpResult{Entries: cs.Entries}, nil
}

// MintDsc increases the account's debt, gates on the post-mint health factor,
// and instructs the synthetic token to mint to the caller. Any failure leaves
// the ledger untouched.
func (e *Engine) MintDsc(ctx context.Context, account string, amount *big.Int) (*OpResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mintLocked(ctx, account, amount)
}

func (e *Engine) mintLocked(ctx context.Context, account string, amount *big.Int) (*OpResult, error) {
	if err := validAmount(amount); err != nil {
		return nil, err
	}

	pos, err := e.store.GetPosition(ctx, account)
	if err != nil {
		return nil, err
	}
	pos.Debt = new(big.Int).Add(pos.Debt, amount)

	hf, err := e.healthFactorOf(ctx, pos)
	if err != nil {
		return nil, err
	}
	if hf.Cmp(MinHealthFactor) < 0 {
		return nil, &HealthFactorError{Factor: hf}
	}

	entry := e.newEntry(account, model.EntryMint, "", amount, "", hf)

	if err := e.dsc.Mint(ctx, account, amount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMintFailed, err)
	}
	cs := &store.ChangeSet{Positions: []*model.Position{pos}, Entries: []model.LedgerEntry{entry}}
	if err := e.store.Apply(ctx, cs); err != nil {
		if rerr := e.dsc.Burn(ctx, account, amount); rerr != nil {
			logCompensationFailure("mint", rerr)
		}
		return nil, err
	}

	slog.Info("dsc minted", "account", account, "amount", amount.String(), "health_factor", hf.String())
	return &OpResult{Entries: cs.Entries, HealthFactor: hf}, nil
}

// DepositCollateralAndMintDsc performs deposit then mint as one atomic unit:
// any failure aborts the whole call with no ledger effect.
func (e *Engine) DepositCollateralAndMintDsc(ctx context.Context, account, assetID string, collateralAmount, mintAmount *big.Int) (*OpResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := validAmount(collateralAmount); err != nil {
		return nil, err
	}
	if err := validAmount(mintAmount); err != nil {
		return nil, err
	}
	tok, ok := e.collateral[assetID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAsset, assetID)
	}

	pos, err := e.store.GetPosition(ctx, account)
	if err != nil {
		return nil, err
	}
	pos.Collateral[assetID] = new(big.Int).Add(pos.CollateralOf(assetID), collateralAmount)
	pos.Debt = new(big.Int).Add(pos.Debt, mintAmount)

	hf, err := e.healthFactorOf(ctx, pos)
	if err != nil {
		return nil, err
	}
	if hf.Cmp(MinHealthFactor) < 0 {
		return nil, &HealthFactorError{Factor: hf}
	}

	entries := []model.LedgerEntry{
		e.newEntry(account, model.EntryDeposit, assetID, collateralAmount, "", nil),
		e.newEntry(account, model.EntryMint, "", mintAmount, "", hf),
	}

	if err := tok.Transfer(ctx, account, e.custody, collateralAmount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := e.dsc.Mint(ctx, account, mintAmount); err != nil {
		if rerr := tok.Transfer(ctx, e.custody, account, collateralAmount); rerr != nil {
			logCompensationFailure("deposit-and-mint", rerr)
		}
		return nil, fmt.Errorf("%w: %v", ErrMintFailed, err)
	}
	cs := &store.ChangeSet{Positions: []*model.Position{pos}, Entries: entries}
	if err := e.store.Apply(ctx, cs); err != nil {
		if rerr := e.dsc.Burn(ctx, account, mintAmount); rerr != nil {
			logCompensationFailure("deposit-and-mint", rerr)
		}
		if rerr := tok.Transfer(ctx, e.custody, account, collateralAmount); rerr != nil {
			logCompensationFailure("deposit-and-mint", rerr)
		}
		return nil, err
	}

	slog.Info("collateral deposited and dsc minted",
		"account", account, "asset", assetID,
		"collateral", collateralAmount.String(), "minted", mintAmount.String(),
		"health_factor", hf.String())
	return &OpResult{Entries: cs.Entries, HealthFactor: hf}, nil
}

// RedeemCollateral debits the asset and pushes it back to the caller. The
// health gate is evaluated on the post-redemption state before anything is
// transferred, so a broken factor aborts with no effect at all.
func (e *Engine) RedeemCollateral(ctx context.Context, account, assetID string, amount *big.Int) (*OpResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := validAmount(amount); err != nil {
		return nil, err
	}
	tok, ok := e.collateral[assetID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAsset, assetID)
	}

	pos, err := e.store.GetPosition(ctx, account)
	if err != nil {
		return nil, err
	}
	remaining, err := fixedpoint.CheckedSub(pos.CollateralOf(assetID), amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %s balance below redemption", ErrInsufficientCollateral, assetID)
	}
	pos.Collateral[assetID] = remaining

	hf, err := e.healthFactorOf(ctx, pos)
	if err != nil {
		return nil, err
	}
	if hf.Cmp(MinHealthFactor) < 0 {
		return nil, &HealthFactorError{Factor: hf}
	}

	entry := e.newEntry(account, model.EntryRedeem, assetID, amount, "", hf)

	if err := tok.Transfer(ctx, e.custody, account, amount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	cs := &store.ChangeSet{Positions: []*model.Position{pos}, Entries: []model.LedgerEntry{entry}}
	if err := e.store.Apply(ctx, cs); err != nil {
		if rerr := tok.Transfer(ctx, account, e.custody, amount); rerr != nil {
			logCompensationFailure("redeem", rerr)
		}
		return nil, err
	}

	slog.Info("collateral redeemed", "account", account, "asset", assetID,
		"amount", amount.String(), "health_factor", hf.String())
	return &OpResult{Entries: cs.Entries, HealthFactor: hf}, nil
}

// BurnDsc pulls synthetic tokens from the caller, burns them, and reduces the
// recorded debt. Burning more than the recorded debt is an arithmetic
// underflow, not a silent clamp.
func (e *Engine) BurnDsc(ctx context.Context, account string, amount *big.Int) (*OpResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := validAmount(amount); err != nil {
		return nil, err
	}

	pos, err := e.store.GetPosition(ctx, account)
	if err != nil {
		return nil, err
	}
	remaining, err := fixedpoint.CheckedSub(pos.Debt, amount)
	if err != nil {
		return nil, fmt.Errorf("burn exceeds recorded debt: %w", err)
	}
	pos.Debt = remaining

	entry := e.newEntry(account, model.EntryBurn, "", amount, "", nil)

	if err := e.dsc.Burn(ctx, account, amount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBurnFailed, err)
	}
	cs := &store.ChangeSet{Positions: []*model.Position{pos}, Entries: []model.LedgerEntry{entry}}
	if err := e.store.Apply(ctx, cs); err != nil {
		if rerr := e.dsc.Mint(ctx, account, amount); rerr != nil {
			logCompensationFailure("burn", rerr)
		}
		return nil, err
	}

	slog.Info("dsc burned", "account", account, "amount", amount.String())
	return &OpResult{Entries: cs.Entries}, nil
}

// RedeemCollateralForDsc burns debt first and then redeems collateral as one
// atomic unit, so the health gate during redemption sees the reduced debt.
func (e *Engine) RedeemCollateralForDsc(ctx context.Context, account, assetID string, collateralAmount, debtAmount *big.Int) (*OpResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := validAmount(collateralAmount); err != nil {
		return nil, err
	}
	if err := validAmount(debtAmount); err != nil {
		return nil, err
	}
	tok, ok := e.collateral[assetID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAsset, assetID)
	}

	pos, err := e.store.GetPosition(ctx, account)
	if err != nil {
		return nil, err
	}
	remainingDebt, err := fixedpoint.CheckedSub(pos.Debt, debtAmount)
	if err != nil {
		return nil, fmt.Errorf("burn exceeds recorded debt: %w", err)
	}
	remainingCollateral, err := fixedpoint.CheckedSub(pos.CollateralOf(assetID), collateralAmount)
	if err != nil {
		return nil, fmt.Errorf("%w: %s balance below redemption", ErrInsufficientCollateral, assetID)
	}
	pos.Debt = remainingDebt
	pos.Collateral[assetID] = remainingCollateral

	hf, err := e.healthFactorOf(ctx, pos)
	if err != nil {
		return nil, err
	}
	if hf.Cmp(MinHealthFactor) < 0 {
		return nil, &HealthFactorError{Factor: hf}
	}

	entries := []model.LedgerEntry{
		e.newEntry(account, model.EntryBurn, "", debtAmount, "", nil),
		e.newEntry(account, model.EntryRedeem, assetID, collateralAmount, "", hf),
	}

	if err := e.dsc.Burn(ctx, account, debtAmount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBurnFailed, err)
	}
	if err := tok.Transfer(ctx, e.custody, account, collateralAmount); err != nil {
		if rerr := e.dsc.Mint(ctx, account, debtAmount); rerr != nil {
			logCompensationFailure("redeem-for-dsc", rerr)
		}
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	cs := &store.ChangeSet{Positions: []*model.Position{pos}, Entries: entries}
	if err := e.store.Apply(ctx, cs); err != nil {
		if rerr := e.dsc.Mint(ctx, account, debtAmount); rerr != nil {
			logCompensationFailure("redeem-for-dsc", rerr)
		}
		if rerr := tok.Transfer(ctx, account, e.custody, collateralAmount); rerr != nil {
			logCompensationFailure("redeem-for-dsc", rerr)
		}
		return nil, err
	}

	slog.Info("collateral redeemed for dsc", "account", account, "asset", assetID,
		"collateral", collateralAmount.String(), "burned", debtAmount.String(),
		"health_factor", hf.String())
	return &OpResult{Entries: cs.Entries, HealthFactor: hf}, nil
}

// Liquidate lets a third party repay part or all of an unhealthy victim's
// debt in exchange for the USD-equivalent collateral plus a 10% bonus, both
// seized from the victim's ledger entry. A seizure larger than the victim's
// recorded collateral fails the call; nothing is clamped. The liquidator's
// own position, if indebted, must remain healthy.
func (e *Engine) Liquidate(ctx context.Context, liquidator, victim, assetID string, debtToCover *big.Int) (*OpResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := validAmount(debtToCover); err != nil {
		return nil, err
	}
	tok, ok := e.collateral[assetID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAsset, assetID)
	}

	victimPos, err := e.store.GetPosition(ctx, victim)
	if err != nil {
		return nil, err
	}
	startFactor, err := e.healthFactorOf(ctx, victimPos)
	if err != nil {
		return nil, err
	}
	if startFactor.Cmp(MinHealthFactor) >= 0 {
		return nil, fmt.Errorf("%w: health factor %s", ErrHealthFactorOK, startFactor)
	}

	remainingDebt, err := fixedpoint.CheckedSub(victimPos.Debt, debtToCover)
	if err != nil {
		return nil, fmt.Errorf("debt to cover exceeds victim debt: %w", err)
	}

	seizeBase, err := e.TokenAmountFromUsd(ctx, assetID, debtToCover)
	if err != nil {
		return nil, err
	}
	bonus := fixedpoint.MulDiv(seizeBase, big.NewInt(LiquidationBonus), big.NewInt(LiquidationPrecision))
	seize := new(big.Int).Add(seizeBase, bonus)

	remainingCollateral, err := fixedpoint.CheckedSub(victimPos.CollateralOf(assetID), seize)
	if err != nil {
		return nil, fmt.Errorf("%w: seizure %s exceeds victim %s balance", ErrInsufficientCollateral, seize, assetID)
	}
	victimPos.Debt = remainingDebt
	victimPos.Collateral[assetID] = remainingCollateral

	endFactor, err := e.healthFactorOf(ctx, victimPos)
	if err != nil {
		return nil, err
	}

	// The liquidator's own open position must not be left unhealthy.
	liquidatorPos, err := e.store.GetPosition(ctx, liquidator)
	if err != nil {
		return nil, err
	}
	if liquidatorPos.Debt.Sign() > 0 {
		lhf, err := e.healthFactorOf(ctx, liquidatorPos)
		if err != nil {
			return nil, err
		}
		if lhf.Cmp(MinHealthFactor) < 0 {
			return nil, &HealthFactorError{Factor: lhf}
		}
	}

	entries := []model.LedgerEntry{
		e.newEntry(victim, model.EntryLiquidation, assetID, debtToCover, liquidator, endFactor),
		e.newEntry(liquidator, model.EntrySeizure, assetID, seize, victim, nil),
	}

	if err := e.dsc.Burn(ctx, liquidator, debtToCover); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBurnFailed, err)
	}
	if err := tok.Transfer(ctx, e.custody, liquidator, seize); err != nil {
		if rerr := e.dsc.Mint(ctx, liquidator, debtToCover); rerr != nil {
			logCompensationFailure("liquidate", rerr)
		}
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	cs := &store.ChangeSet{Positions: []*model.Position{victimPos}, Entries: entries}
	if err := e.store.Apply(ctx, cs); err != nil {
		if rerr := e.dsc.Mint(ctx, liquidator, debtToCover); rerr != nil {
			logCompensationFailure("liquidate", rerr)
		}
		if rerr := tok.Transfer(ctx, liquidator, e.custody, seize); rerr != nil {
			logCompensationFailure("liquidate", rerr)
		}
		return nil, err
	}

	slog.Info("position liquidated",
		"victim", victim, "liquidator", liquidator, "asset", assetID,
		"debt_covered", debtToCover.String(), "seized", seize.String(),
		"start_factor", startFactor.String(), "end_factor", endFactor.String())
	return &OpResult{Entries: cs.Entries, HealthFactor: endFactor, Seized: seize}, nil
}
