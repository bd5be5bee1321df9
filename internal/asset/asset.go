// Package asset handles parsing and validation of the collateral-asset
// registry configured at startup.
package asset

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/syndollar/dsc-engine/internal/model"
)

var (
	ErrEmptyRegistry = errors.New("asset: at least one collateral asset is required")
	ErrInvalidSpec   = errors.New("asset: invalid asset spec")
	ErrDuplicate     = errors.New("asset: duplicate asset id")
)

// symbolRegex matches an asset symbol: uppercase alphanumeric, e.g. WETH.
var symbolRegex = regexp.MustCompile(`^[A-Z0-9]{2,12}$`)

// feedRegex matches a feed identifier, e.g. eth-usd.
var feedRegex = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// ParseList parses a comma-separated registry spec of the form
// "WETH:eth-usd,WBTC:btc-usd" into an ordered asset list. Every asset maps to
// exactly one feed; duplicates and malformed entries are rejected.
func ParseList(spec string) ([]model.Asset, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, ErrEmptyRegistry
	}

	seen := make(map[string]bool)
	var assets []model.Asset

	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ":")
		if len(fields) != 2 {
			return nil, fmt.Errorf("%w: %q (expected SYMBOL:feed-id)", ErrInvalidSpec, part)
		}
		symbol := strings.TrimSpace(fields[0])
		feed := strings.TrimSpace(fields[1])
		if !symbolRegex.MatchString(symbol) {
			return nil, fmt.Errorf("%w: bad symbol %q", ErrInvalidSpec, symbol)
		}
		if !feedRegex.MatchString(feed) {
			return nil, fmt.Errorf("%w: bad feed id %q", ErrInvalidSpec, feed)
		}
		if seen[symbol] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicate, symbol)
		}
		seen[symbol] = true
		assets = append(assets, model.Asset{ID: symbol, FeedID: feed})
	}

	if len(assets) == 0 {
		return nil, ErrEmptyRegistry
	}
	return assets, nil
}
