package engine

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/syndollar/dsc-engine/internal/fixedpoint"
)

var (
	// ErrInvalidAmount is returned for nil or non-positive operation amounts.
	ErrInvalidAmount = errors.New("engine: amount must be positive")

	// ErrUnsupportedAsset is returned when an operation names an asset that
	// is not in the registry fixed at construction.
	ErrUnsupportedAsset = errors.New("engine: collateral asset not registered")

	// ErrInsufficientCollateral is returned when a redemption or seizure
	// exceeds the account's recorded collateral for that asset.
	ErrInsufficientCollateral = errors.New("engine: insufficient collateral")

	// ErrHealthFactorOK is returned when liquidation targets an account
	// whose health factor is at or above the minimum.
	ErrHealthFactorOK = errors.New("engine: account is not liquidatable")

	// ErrTransferFailed wraps collateral-token collaborator failures.
	ErrTransferFailed = errors.New("engine: collateral transfer failed")

	// ErrMintFailed wraps synthetic-token mint collaborator failures.
	ErrMintFailed = errors.New("engine: synthetic mint failed")

	// ErrBurnFailed wraps synthetic-token burn collaborator failures.
	ErrBurnFailed = errors.New("engine: synthetic burn failed")

	// ErrConfig is returned for invalid construction-time configuration.
	ErrConfig = errors.New("engine: invalid configuration")

	// ErrUnderflow aliases the arithmetic underflow failure so callers can
	// match on the engine package alone.
	ErrUnderflow = fixedpoint.ErrUnderflow
)

// HealthFactorError reports a post-mutation health factor below the minimum.
// The offending computed factor is carried for diagnostics.
type HealthFactorError struct {
	Factor *big.Int
}

func (e *HealthFactorError) Error() string {
	return fmt.Sprintf("engine: health factor broken: %s (minimum %s)", e.Factor, MinHealthFactor)
}
