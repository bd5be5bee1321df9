package asset

import (
	"errors"
	"testing"
)

func TestParseList_Valid(t *testing.T) {
	assets, err := ParseList("WETH:eth-usd,WBTC:btc-usd")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(assets) != 2 {
		t.Fatalf("expected 2 assets, got %d", len(assets))
	}
	if assets[0].ID != "WETH" || assets[0].FeedID != "eth-usd" {
		t.Errorf("unexpected first asset: %+v", assets[0])
	}
	if assets[1].ID != "WBTC" || assets[1].FeedID != "btc-usd" {
		t.Errorf("unexpected second asset: %+v", assets[1])
	}
}

func TestParseList_SingleAsset(t *testing.T) {
	assets, err := ParseList("WETH:eth-usd")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(assets) != 1 {
		t.Fatalf("expected 1 asset, got %d", len(assets))
	}
}

func TestParseList_TrimsWhitespace(t *testing.T) {
	assets, err := ParseList(" WETH:eth-usd , WBTC:btc-usd ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(assets) != 2 {
		t.Fatalf("expected 2 assets, got %d", len(assets))
	}
}

func TestParseList_Empty(t *testing.T) {
	for _, spec := range []string{"", "   ", ","} {
		_, err := ParseList(spec)
		if !errors.Is(err, ErrEmptyRegistry) {
			t.Errorf("ParseList(%q): expected ErrEmptyRegistry, got %v", spec, err)
		}
	}
}

func TestParseList_Malformed(t *testing.T) {
	tests := []string{
		"WETH",                // no feed
		"WETH:eth-usd:extra",  // too many fields
		"weth:eth-usd",        // lowercase symbol
		"WETH:ETH-USD",        // uppercase feed
		"W:eth-usd",           // symbol too short
		"TOOLONGSYMBOL123:eth-usd",
		"WETH:eth_usd", // underscore in feed
	}
	for _, spec := range tests {
		_, err := ParseList(spec)
		if !errors.Is(err, ErrInvalidSpec) {
			t.Errorf("ParseList(%q): expected ErrInvalidSpec, got %v", spec, err)
		}
	}
}

func TestParseList_Duplicate(t *testing.T) {
	_, err := ParseList("WETH:eth-usd,WETH:other-usd")
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
}
