// Package position provides the HTTP handlers for depositing collateral,
// minting and burning the synthetic dollar, redeeming, liquidating, and
// querying accounts.
//
// Request amounts are human decimals ("10", "0.5"); the engine works in
// 1e18-scaled integers. Responses carry both the raw scaled value and a
// display decimal.
package position

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/syndollar/dsc-engine/internal/engine"
	"github.com/syndollar/dsc-engine/internal/fixedpoint"
	"github.com/syndollar/dsc-engine/internal/metrics"
	"github.com/syndollar/dsc-engine/internal/model"
	"github.com/syndollar/dsc-engine/internal/oracle"
)

// Service handles position operations over HTTP.
type Service struct {
	engine *engine.Engine
	manual *oracle.Manual // non-nil when the manual oracle is in use
	wsHub  *WSHub         // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new position service. Pass nil for manual if prices
// come from an external feed, and nil for hub if broadcasting is not needed.
func NewService(eng *engine.Engine, manual *oracle.Manual, hub *WSHub) *Service {
	return &Service{engine: eng, manual: manual, wsHub: hub}
}

// --- Request/Response types ---

// DepositRequest is the JSON body for POST /collateral/deposit.
type DepositRequest struct {
	Account string          `json:"account"`
	Asset   string          `json:"asset"`
	Amount  decimal.Decimal `json:"amount"`
}

// MintRequest is the JSON body for POST /dsc/mint.
type MintRequest struct {
	Account string          `json:"account"`
	Amount  decimal.Decimal `json:"amount"`
}

// DepositAndMintRequest is the JSON body for POST /collateral/deposit-and-mint.
type DepositAndMintRequest struct {
	Account          string          `json:"account"`
	Asset            string          `json:"asset"`
	CollateralAmount decimal.Decimal `json:"collateral_amount"`
	MintAmount       decimal.Decimal `json:"mint_amount"`
}

// RedeemRequest is the JSON body for POST /collateral/redeem.
type RedeemRequest struct {
	Account string          `json:"account"`
	Asset   string          `json:"asset"`
	Amount  decimal.Decimal `json:"amount"`
}

// BurnRequest is the JSON body for POST /dsc/burn.
type BurnRequest struct {
	Account string          `json:"account"`
	Amount  decimal.Decimal `json:"amount"`
}

// RedeemForDscRequest is the JSON body for POST /collateral/redeem-for-dsc.
type RedeemForDscRequest struct {
	Account          string          `json:"account"`
	Asset            string          `json:"asset"`
	CollateralAmount decimal.Decimal `json:"collateral_amount"`
	DebtAmount       decimal.Decimal `json:"debt_amount"`
}

// LiquidateRequest is the JSON body for POST /liquidate.
type LiquidateRequest struct {
	Liquidator  string          `json:"liquidator"`
	Victim      string          `json:"victim"`
	Asset       string          `json:"asset"`
	DebtToCover decimal.Decimal `json:"debt_to_cover"`
}

// SetPriceRequest is the JSON body for POST /oracle/price (manual oracle only).
type SetPriceRequest struct {
	Feed     string          `json:"feed"`
	Price    decimal.Decimal `json:"price"`
	Decimals uint8           `json:"decimals"`
}

// OperationResponse is returned from every mutating endpoint.
type OperationResponse struct {
	Entries      []EntryView `json:"entries"`
	HealthFactor string      `json:"health_factor,omitempty"`
	Seized       string      `json:"seized,omitempty"`
}

// EntryView is the JSON shape of one ledger entry.
type EntryView struct {
	ID            string `json:"id"`
	Account       string `json:"account"`
	Kind          string `json:"kind"`
	AssetID       string `json:"asset_id,omitempty"`
	Amount        string `json:"amount"`
	AmountDisplay string `json:"amount_display"`
	Counterparty  string `json:"counterparty,omitempty"`
	HealthFactor  string `json:"health_factor,omitempty"`
	Timestamp     string `json:"timestamp"`
}

// AccountView is the JSON shape of an account summary.
type AccountView struct {
	Account               string            `json:"account"`
	DebtMinted            string            `json:"debt_minted"`
	DebtMintedDisplay     string            `json:"debt_minted_display"`
	CollateralValueUsd    string            `json:"collateral_value_usd"`
	CollateralValueProper string            `json:"collateral_value_usd_display"`
	HealthFactor          string            `json:"health_factor"`
	HealthFactorDisplay   string            `json:"health_factor_display,omitempty"`
	Infinite              bool              `json:"infinite_health"`
	Collateral            map[string]string `json:"collateral"`
}

// --- HTTP Handlers ---

// Deposit handles POST /api/v1/collateral/deposit.
func (s *Service) Deposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Account == "" {
		writeError(w, "account is required", http.StatusBadRequest)
		return
	}
	amount, err := fixedpoint.FromDecimal(req.Amount)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := s.engine.DepositCollateral(r.Context(), req.Account, req.Asset, amount)
	if err != nil {
		s.writeEngineError(w, "deposit", err)
		return
	}
	s.finish(w, "deposit", res)
}

// Mint handles POST /api/v1/dsc/mint.
func (s *Service) Mint(w http.ResponseWriter, r *http.Request) {
	var req MintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Account == "" {
		writeError(w, "account is required", http.StatusBadRequest)
		return
	}
	amount, err := fixedpoint.FromDecimal(req.Amount)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := s.engine.MintDsc(r.Context(), req.Account, amount)
	if err != nil {
		s.writeEngineError(w, "mint", err)
		return
	}
	s.finish(w, "mint", res)
}

// DepositAndMint handles POST /api/v1/collateral/deposit-and-mint.
func (s *Service) DepositAndMint(w http.ResponseWriter, r *http.Request) {
	var req DepositAndMintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Account == "" {
		writeError(w, "account is required", http.StatusBadRequest)
		return
	}
	collateralAmount, err := fixedpoint.FromDecimal(req.CollateralAmount)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	mintAmount, err := fixedpoint.FromDecimal(req.MintAmount)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := s.engine.DepositCollateralAndMintDsc(r.Context(), req.Account, req.Asset, collateralAmount, mintAmount)
	if err != nil {
		s.writeEngineError(w, "deposit_and_mint", err)
		return
	}
	s.finish(w, "deposit_and_mint", res)
}

// Redeem handles POST /api/v1/collateral/redeem.
func (s *Service) Redeem(w http.ResponseWriter, r *http.Request) {
	var req RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Account == "" {
		writeError(w, "account is required", http.StatusBadRequest)
		return
	}
	amount, err := fixedpoint.FromDecimal(req.Amount)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := s.engine.RedeemCollateral(r.Context(), req.Account, req.Asset, amount)
	if err != nil {
		s.writeEngineError(w, "redeem", err)
		return
	}
	s.finish(w, "redeem", res)
}

// Burn handles POST /api/v1/dsc/burn.
func (s *Service) Burn(w http.ResponseWriter, r *http.Request) {
	var req BurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Account == "" {
		writeError(w, "account is required", http.StatusBadRequest)
		return
	}
	amount, err := fixedpoint.FromDecimal(req.Amount)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := s.engine.BurnDsc(r.Context(), req.Account, amount)
	if err != nil {
		s.writeEngineError(w, "burn", err)
		return
	}
	s.finish(w, "burn", res)
}

// RedeemForDsc handles POST /api/v1/collateral/redeem-for-dsc.
func (s *Service) RedeemForDsc(w http.ResponseWriter, r *http.Request) {
	var req RedeemForDscRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Account == "" {
		writeError(w, "account is required", http.StatusBadRequest)
		return
	}
	collateralAmount, err := fixedpoint.FromDecimal(req.CollateralAmount)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	debtAmount, err := fixedpoint.FromDecimal(req.DebtAmount)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := s.engine.RedeemCollateralForDsc(r.Context(), req.Account, req.Asset, collateralAmount, debtAmount)
	if err != nil {
		s.writeEngineError(w, "redeem_for_dsc", err)
		return
	}
	s.finish(w, "redeem_for_dsc", res)
}

// Liquidate handles POST /api/v1/liquidate.
func (s *Service) Liquidate(w http.ResponseWriter, r *http.Request) {
	var req LiquidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Liquidator == "" || req.Victim == "" {
		writeError(w, "liquidator and victim are required", http.StatusBadRequest)
		return
	}
	debtToCover, err := fixedpoint.FromDecimal(req.DebtToCover)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := s.engine.Liquidate(r.Context(), req.Liquidator, req.Victim, req.Asset, debtToCover)
	if err != nil {
		s.writeEngineError(w, "liquidate", err)
		return
	}
	metrics.LiquidationsTotal.Inc()
	s.finish(w, "liquidate", res)
}

// GetAccount handles GET /api/v1/accounts/{account}.
func (s *Service) GetAccount(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")

	summary, err := s.engine.AccountSummary(r.Context(), account)
	if err != nil {
		s.writeEngineError(w, "account_summary", err)
		return
	}
	writeJSON(w, http.StatusOK, accountView(summary))
}

// GetHealth handles GET /api/v1/accounts/{account}/health.
func (s *Service) GetHealth(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")

	hf, err := s.engine.HealthFactor(r.Context(), account)
	if err != nil {
		s.writeEngineError(w, "health_factor", err)
		return
	}
	resp := map[string]any{
		"account":         account,
		"health_factor":   hf.String(),
		"infinite_health": hf.Cmp(engine.InfiniteHealthFactor) == 0,
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetLedger handles GET /api/v1/accounts/{account}/ledger.
func (s *Service) GetLedger(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")

	entries, err := s.engine.LedgerEntries(r.Context(), account)
	if err != nil {
		writeError(w, "failed to load ledger", http.StatusInternalServerError)
		return
	}
	views := make([]EntryView, 0, len(entries))
	for i := range entries {
		views = append(views, entryView(&entries[i]))
	}
	writeJSON(w, http.StatusOK, views)
}

// ListAssets handles GET /api/v1/assets.
func (s *Service) ListAssets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Assets())
}

// GetConstants handles GET /api/v1/constants.
func (s *Service) GetConstants(w http.ResponseWriter, r *http.Request) {
	c := s.engine.ProtocolConstants()
	writeJSON(w, http.StatusOK, map[string]any{
		"liquidation_threshold": c.LiquidationThreshold,
		"liquidation_precision": c.LiquidationPrecision,
		"liquidation_bonus":     c.LiquidationBonus,
		"min_health_factor":     c.MinHealthFactor.String(),
		"precision":             c.Precision.String(),
	})
}

// SetPrice handles POST /api/v1/oracle/price. Only available when the
// service was wired with the manual oracle.
func (s *Service) SetPrice(w http.ResponseWriter, r *http.Request) {
	if s.manual == nil {
		writeError(w, "manual oracle not enabled", http.StatusNotFound)
		return
	}
	var req SetPriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Feed == "" {
		writeError(w, "feed is required", http.StatusBadRequest)
		return
	}
	scaled := req.Price.Shift(int32(req.Decimals))
	if !scaled.IsInteger() || scaled.Sign() <= 0 {
		writeError(w, "price must be positive and representable at the feed decimals", http.StatusBadRequest)
		return
	}
	s.manual.Set(req.Feed, scaled.BigInt(), req.Decimals, time.Now().UTC())

	slog.Info("oracle price set", "feed", req.Feed, "price", req.Price.String(), "decimals", req.Decimals)
	w.WriteHeader(http.StatusNoContent)
}

// --- helpers ---

func (s *Service) finish(w http.ResponseWriter, op string, res *engine.OpResult) {
	metrics.OperationsTotal.WithLabelValues(op).Inc()

	resp := OperationResponse{Entries: make([]EntryView, 0, len(res.Entries))}
	for i := range res.Entries {
		resp.Entries = append(resp.Entries, entryView(&res.Entries[i]))
	}
	if res.HealthFactor != nil {
		resp.HealthFactor = res.HealthFactor.String()
	}
	if res.Seized != nil {
		resp.Seized = res.Seized.String()
	}

	if s.wsHub != nil {
		for i := range res.Entries {
			e := &res.Entries[i]
			msg := WSMessage{
				Type:         e.Kind,
				Account:      e.Account,
				AssetID:      e.AssetID,
				Amount:       e.Amount.String(),
				Counterparty: e.Counterparty,
			}
			if e.HealthFactor != nil {
				msg.HealthFactor = e.HealthFactor.String()
			}
			s.wsHub.Broadcast(msg)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// writeEngineError maps engine failures onto HTTP statuses: validation 400,
// solvency and arithmetic conflicts 409, a dead oracle 503, collaborator
// failures 502.
func (s *Service) writeEngineError(w http.ResponseWriter, op string, err error) {
	var hfErr *engine.HealthFactorError
	switch {
	case errors.As(err, &hfErr):
		metrics.HealthGateRejections.Inc()
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":         hfErr.Error(),
			"health_factor": hfErr.Factor.String(),
		})
		return
	case errors.Is(err, engine.ErrInvalidAmount), errors.Is(err, engine.ErrUnsupportedAsset):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, engine.ErrHealthFactorOK),
		errors.Is(err, engine.ErrInsufficientCollateral),
		errors.Is(err, engine.ErrUnderflow):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, oracle.ErrUnavailable), errors.Is(err, oracle.ErrUnknownFeed):
		metrics.OracleFailures.Inc()
		writeError(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, engine.ErrTransferFailed),
		errors.Is(err, engine.ErrMintFailed),
		errors.Is(err, engine.ErrBurnFailed):
		writeError(w, err.Error(), http.StatusBadGateway)
	default:
		slog.Error("operation failed", "op", op, "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

func entryView(e *model.LedgerEntry) EntryView {
	v := EntryView{
		ID:            e.ID,
		Account:       e.Account,
		Kind:          e.Kind,
		AssetID:       e.AssetID,
		Amount:        e.Amount.String(),
		AmountDisplay: fixedpoint.ToDecimal(e.Amount).String(),
		Counterparty:  e.Counterparty,
		Timestamp:     e.Timestamp.Format(time.RFC3339Nano),
	}
	if e.HealthFactor != nil {
		v.HealthFactor = e.HealthFactor.String()
	}
	return v
}

func accountView(s *model.AccountSummary) AccountView {
	collateral := make(map[string]string, len(s.Collateral))
	for asset, amount := range s.Collateral {
		collateral[asset] = amount.String()
	}
	v := AccountView{
		Account:               s.Account,
		DebtMinted:            s.DebtMinted.String(),
		DebtMintedDisplay:     fixedpoint.ToDecimal(s.DebtMinted).String(),
		CollateralValueUsd:    s.CollateralValueUsd.String(),
		CollateralValueProper: fixedpoint.ToDecimal(s.CollateralValueUsd).String(),
		HealthFactor:          s.HealthFactor.String(),
		Infinite:              s.HealthFactor.Cmp(engine.InfiniteHealthFactor) == 0,
		Collateral:            collateral,
	}
	if !v.Infinite {
		v.HealthFactorDisplay = fixedpoint.ToDecimal(s.HealthFactor).String()
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
