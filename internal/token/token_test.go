package token

import (
	"context"
	"errors"
	"math/big"
	"testing"
)

func amt(n int64) *big.Int { return big.NewInt(n) }

func TestBank_MintIncreasesBalanceAndSupply(t *testing.T) {
	b := NewBank("DSC")
	ctx := context.Background()

	if err := b.Mint(ctx, "alice", amt(100)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bal, _ := b.BalanceOf(ctx, "alice")
	if bal.Cmp(amt(100)) != 0 {
		t.Errorf("expected balance 100, got %s", bal)
	}
	supply, _ := b.TotalSupply(ctx)
	if supply.Cmp(amt(100)) != 0 {
		t.Errorf("expected supply 100, got %s", supply)
	}
}

func TestBank_BurnDecreasesBalanceAndSupply(t *testing.T) {
	b := NewBank("DSC")
	ctx := context.Background()
	b.Mint(ctx, "alice", amt(100))

	if err := b.Burn(ctx, "alice", amt(40)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bal, _ := b.BalanceOf(ctx, "alice")
	if bal.Cmp(amt(60)) != 0 {
		t.Errorf("expected balance 60, got %s", bal)
	}
	supply, _ := b.TotalSupply(ctx)
	if supply.Cmp(amt(60)) != 0 {
		t.Errorf("expected supply 60, got %s", supply)
	}
}

func TestBank_BurnExceedsBalance(t *testing.T) {
	b := NewBank("DSC")
	ctx := context.Background()
	b.Mint(ctx, "alice", amt(10))

	err := b.Burn(ctx, "alice", amt(11))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
	// Nothing changed.
	bal, _ := b.BalanceOf(ctx, "alice")
	if bal.Cmp(amt(10)) != 0 {
		t.Errorf("failed burn must not change balance, got %s", bal)
	}
}

func TestBank_Transfer(t *testing.T) {
	b := NewBank("WETH")
	ctx := context.Background()
	b.Mint(ctx, "alice", amt(100))

	if err := b.Transfer(ctx, "alice", "custody", amt(30)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	aliceBal, _ := b.BalanceOf(ctx, "alice")
	custodyBal, _ := b.BalanceOf(ctx, "custody")
	if aliceBal.Cmp(amt(70)) != 0 {
		t.Errorf("expected alice=70, got %s", aliceBal)
	}
	if custodyBal.Cmp(amt(30)) != 0 {
		t.Errorf("expected custody=30, got %s", custodyBal)
	}
}

func TestBank_TransferInsufficient(t *testing.T) {
	b := NewBank("WETH")
	ctx := context.Background()

	err := b.Transfer(ctx, "alice", "custody", amt(1))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestBank_InvalidAmounts(t *testing.T) {
	b := NewBank("WETH")
	ctx := context.Background()

	for _, v := range []*big.Int{nil, amt(0), amt(-5)} {
		if err := b.Mint(ctx, "alice", v); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("Mint(%v): expected ErrInvalidAmount, got %v", v, err)
		}
		if err := b.Burn(ctx, "alice", v); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("Burn(%v): expected ErrInvalidAmount, got %v", v, err)
		}
		if err := b.Transfer(ctx, "alice", "bob", v); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("Transfer(%v): expected ErrInvalidAmount, got %v", v, err)
		}
	}
}

func TestBank_UnknownAccountHasZeroBalance(t *testing.T) {
	b := NewBank("WETH")
	bal, err := b.BalanceOf(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bal.Sign() != 0 {
		t.Errorf("expected 0, got %s", bal)
	}
}

func TestBank_BalanceOfReturnsCopy(t *testing.T) {
	b := NewBank("WETH")
	ctx := context.Background()
	b.Mint(ctx, "alice", amt(100))

	bal, _ := b.BalanceOf(ctx, "alice")
	bal.SetInt64(0)

	bal2, _ := b.BalanceOf(ctx, "alice")
	if bal2.Cmp(amt(100)) != 0 {
		t.Error("caller mutation leaked into the ledger")
	}
}
