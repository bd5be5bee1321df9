package position_test

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/syndollar/dsc-engine/internal/engine"
	"github.com/syndollar/dsc-engine/internal/fixedpoint"
	"github.com/syndollar/dsc-engine/internal/model"
	"github.com/syndollar/dsc-engine/internal/oracle"
	"github.com/syndollar/dsc-engine/internal/position"
	"github.com/syndollar/dsc-engine/internal/store"
	"github.com/syndollar/dsc-engine/internal/token"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func wad(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), fixedpoint.Wad)
}

func e8(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(100_000_000))
}

type testEnv struct {
	router chi.Router
	manual *oracle.Manual
	dsc    *token.Bank
	weth   *token.Bank
}

// newTestEnv wires a Service over in-memory collaborators with WETH at $2000.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	ms := store.NewMemoryStore()
	manual := oracle.NewManual()
	manual.Set("eth-usd", e8(2000), 8, time.Now().UTC())

	dsc := token.NewBank("DSC")
	weth := token.NewBank("WETH")

	eng, err := engine.New(ms, manual, dsc,
		map[string]token.CollateralToken{"WETH": weth},
		engine.Config{
			Assets:         []model.Asset{{ID: "WETH", FeedID: "eth-usd"}},
			CustodyAccount: "custody",
		})
	if err != nil {
		t.Fatalf("engine construction failed: %v", err)
	}

	svc := position.NewService(eng, manual, nil)

	r := chi.NewRouter()
	r.Post("/api/v1/collateral/deposit", svc.Deposit)
	r.Post("/api/v1/collateral/deposit-and-mint", svc.DepositAndMint)
	r.Post("/api/v1/collateral/redeem", svc.Redeem)
	r.Post("/api/v1/collateral/redeem-for-dsc", svc.RedeemForDsc)
	r.Post("/api/v1/dsc/mint", svc.Mint)
	r.Post("/api/v1/dsc/burn", svc.Burn)
	r.Post("/api/v1/liquidate", svc.Liquidate)
	r.Get("/api/v1/accounts/{account}", svc.GetAccount)
	r.Get("/api/v1/accounts/{account}/health", svc.GetHealth)
	r.Get("/api/v1/accounts/{account}/ledger", svc.GetLedger)
	r.Get("/api/v1/assets", svc.ListAssets)
	r.Get("/api/v1/constants", svc.GetConstants)
	r.Post("/api/v1/oracle/price", svc.SetPrice)

	return &testEnv{router: r, manual: manual, dsc: dsc, weth: weth}
}

func (e *testEnv) post(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, _ := json.Marshal(body)
	req := httptest.NewRequest("POST", path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// --- Deposit tests ---

func TestDeposit_Success(t *testing.T) {
	e := newTestEnv(t)
	e.weth.Mint(context.Background(), "alice", wad(10))

	w := e.post(t, "/api/v1/collateral/deposit", position.DepositRequest{
		Account: "alice", Asset: "WETH", Amount: d(10),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp position.OperationResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(resp.Entries))
	}
	if resp.Entries[0].Kind != model.EntryDeposit {
		t.Errorf("expected deposit entry, got %s", resp.Entries[0].Kind)
	}
	if resp.Entries[0].AmountDisplay != "10" {
		t.Errorf("expected display amount 10, got %s", resp.Entries[0].AmountDisplay)
	}
}

func TestDeposit_MissingAccount(t *testing.T) {
	e := newTestEnv(t)
	w := e.post(t, "/api/v1/collateral/deposit", position.DepositRequest{
		Asset: "WETH", Amount: d(10),
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestDeposit_NegativeAmount(t *testing.T) {
	e := newTestEnv(t)
	w := e.post(t, "/api/v1/collateral/deposit", position.DepositRequest{
		Account: "alice", Asset: "WETH", Amount: d(-1),
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestDeposit_UnsupportedAsset(t *testing.T) {
	e := newTestEnv(t)
	w := e.post(t, "/api/v1/collateral/deposit", position.DepositRequest{
		Account: "alice", Asset: "DOGE", Amount: d(1),
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestDeposit_InvalidBody(t *testing.T) {
	e := newTestEnv(t)
	req := httptest.NewRequest("POST", "/api/v1/collateral/deposit", bytes.NewReader([]byte("{")))
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestDeposit_InsufficientWalletBalance(t *testing.T) {
	e := newTestEnv(t)
	// No funding: the collateral pull fails at the token ledger.
	w := e.post(t, "/api/v1/collateral/deposit", position.DepositRequest{
		Account: "alice", Asset: "WETH", Amount: d(1),
	})
	if w.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d: %s", w.Code, w.Body.String())
	}
}

// --- Mint tests ---

func TestMint_Success(t *testing.T) {
	e := newTestEnv(t)
	e.weth.Mint(context.Background(), "alice", wad(10))
	e.post(t, "/api/v1/collateral/deposit", position.DepositRequest{
		Account: "alice", Asset: "WETH", Amount: d(10),
	})

	w := e.post(t, "/api/v1/dsc/mint", position.MintRequest{Account: "alice", Amount: d(2000)})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp position.OperationResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.HealthFactor != wad(5).String() {
		t.Errorf("expected health factor 5e18, got %s", resp.HealthFactor)
	}
}

func TestMint_BrokenGateReturnsConflict(t *testing.T) {
	e := newTestEnv(t)
	e.weth.Mint(context.Background(), "alice", wad(10))
	e.post(t, "/api/v1/collateral/deposit", position.DepositRequest{
		Account: "alice", Asset: "WETH", Amount: d(10),
	})

	w := e.post(t, "/api/v1/dsc/mint", position.MintRequest{Account: "alice", Amount: d(20000)})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["health_factor"] == "" {
		t.Error("expected the offending health factor in the response")
	}
}

func TestMint_UnknownFeedReturnsServiceUnavailable(t *testing.T) {
	ms := store.NewMemoryStore()
	manual := oracle.NewManual() // no prices published
	dsc := token.NewBank("DSC")
	weth := token.NewBank("WETH")
	eng, err := engine.New(ms, manual, dsc,
		map[string]token.CollateralToken{"WETH": weth},
		engine.Config{
			Assets:         []model.Asset{{ID: "WETH", FeedID: "eth-usd"}},
			CustodyAccount: "custody",
		})
	if err != nil {
		t.Fatalf("engine construction failed: %v", err)
	}
	svc := position.NewService(eng, manual, nil)
	r := chi.NewRouter()
	r.Post("/api/v1/collateral/deposit", svc.Deposit)
	r.Post("/api/v1/dsc/mint", svc.Mint)

	weth.Mint(context.Background(), "alice", wad(10))
	body, _ := json.Marshal(position.DepositRequest{Account: "alice", Asset: "WETH", Amount: d(10)})
	req := httptest.NewRequest("POST", "/api/v1/collateral/deposit", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("deposit should not need the oracle: %d %s", w.Code, w.Body.String())
	}

	body, _ = json.Marshal(position.MintRequest{Account: "alice", Amount: d(1)})
	req = httptest.NewRequest("POST", "/api/v1/dsc/mint", bytes.NewReader(body))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without a published price, got %d: %s", w.Code, w.Body.String())
	}
}

// --- Combined and redemption flows ---

func TestDepositAndMint_Success(t *testing.T) {
	e := newTestEnv(t)
	e.weth.Mint(context.Background(), "alice", wad(10))

	w := e.post(t, "/api/v1/collateral/deposit-and-mint", position.DepositAndMintRequest{
		Account: "alice", Asset: "WETH", CollateralAmount: d(10), MintAmount: d(2000),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp position.OperationResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Entries) != 2 {
		t.Errorf("expected 2 entries, got %d", len(resp.Entries))
	}
}

func TestRedeemForDsc_FullExit(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.weth.Mint(ctx, "alice", wad(10))
	e.post(t, "/api/v1/collateral/deposit-and-mint", position.DepositAndMintRequest{
		Account: "alice", Asset: "WETH", CollateralAmount: d(10), MintAmount: d(2000),
	})

	w := e.post(t, "/api/v1/collateral/redeem-for-dsc", position.RedeemForDscRequest{
		Account: "alice", Asset: "WETH", CollateralAmount: d(10), DebtAmount: d(2000),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	bal, _ := e.weth.BalanceOf(ctx, "alice")
	if bal.Cmp(wad(10)) != 0 {
		t.Errorf("expected full collateral back, got %s", bal)
	}
}

func TestBurn_ExceedsDebtReturnsConflict(t *testing.T) {
	e := newTestEnv(t)
	e.weth.Mint(context.Background(), "alice", wad(10))
	e.post(t, "/api/v1/collateral/deposit-and-mint", position.DepositAndMintRequest{
		Account: "alice", Asset: "WETH", CollateralAmount: d(10), MintAmount: d(100),
	})

	w := e.post(t, "/api/v1/dsc/burn", position.BurnRequest{Account: "alice", Amount: d(101)})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

// --- Liquidation ---

func TestLiquidate_HealthyVictimReturnsConflict(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.weth.Mint(ctx, "victim", wad(10))
	e.post(t, "/api/v1/collateral/deposit-and-mint", position.DepositAndMintRequest{
		Account: "victim", Asset: "WETH", CollateralAmount: d(10), MintAmount: d(2000),
	})
	e.dsc.Mint(ctx, "liquidator", wad(1000))

	w := e.post(t, "/api/v1/liquidate", position.LiquidateRequest{
		Liquidator: "liquidator", Victim: "victim", Asset: "WETH", DebtToCover: d(1000),
	})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestLiquidate_Success(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.weth.Mint(ctx, "victim", wad(10))
	e.post(t, "/api/v1/collateral/deposit-and-mint", position.DepositAndMintRequest{
		Account: "victim", Asset: "WETH", CollateralAmount: d(10), MintAmount: d(10000),
	})

	// Crash the price so the victim goes under.
	e.manual.Set("eth-usd", e8(1800), 8, time.Now().UTC())
	e.dsc.Mint(ctx, "liquidator", wad(5000))

	w := e.post(t, "/api/v1/liquidate", position.LiquidateRequest{
		Liquidator: "liquidator", Victim: "victim", Asset: "WETH", DebtToCover: d(5000),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp position.OperationResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Seized == "" {
		t.Error("expected seized amount in response")
	}
	if len(resp.Entries) != 2 {
		t.Errorf("expected 2 entries, got %d", len(resp.Entries))
	}
}

// --- Query endpoints ---

func TestGetAccount(t *testing.T) {
	e := newTestEnv(t)
	e.weth.Mint(context.Background(), "alice", wad(10))
	e.post(t, "/api/v1/collateral/deposit-and-mint", position.DepositAndMintRequest{
		Account: "alice", Asset: "WETH", CollateralAmount: d(10), MintAmount: d(2000),
	})

	w := e.get(t, "/api/v1/accounts/alice")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var view position.AccountView
	json.Unmarshal(w.Body.Bytes(), &view)
	if view.Account != "alice" {
		t.Errorf("expected account alice, got %s", view.Account)
	}
	if view.DebtMintedDisplay != "2000" {
		t.Errorf("expected debt display 2000, got %s", view.DebtMintedDisplay)
	}
	if view.CollateralValueProper != "20000" {
		t.Errorf("expected collateral value display 20000, got %s", view.CollateralValueProper)
	}
	if view.Infinite {
		t.Error("indebted account must not report infinite health")
	}
	if view.Collateral["WETH"] != wad(10).String() {
		t.Errorf("expected WETH collateral 10e18, got %s", view.Collateral["WETH"])
	}
}

func TestGetHealth_UnknownAccountIsInfinite(t *testing.T) {
	e := newTestEnv(t)

	w := e.get(t, "/api/v1/accounts/nobody/health")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["infinite_health"] != true {
		t.Errorf("expected infinite health for untouched account, got %v", resp)
	}
}

func TestGetLedger(t *testing.T) {
	e := newTestEnv(t)
	e.weth.Mint(context.Background(), "alice", wad(10))
	e.post(t, "/api/v1/collateral/deposit", position.DepositRequest{
		Account: "alice", Asset: "WETH", Amount: d(10),
	})

	w := e.get(t, "/api/v1/accounts/alice/ledger")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var entries []position.EntryView
	json.Unmarshal(w.Body.Bytes(), &entries)
	if len(entries) != 1 || entries[0].Kind != model.EntryDeposit {
		t.Errorf("expected one deposit entry, got %v", entries)
	}
}

func TestGetLedger_EmptyIsNotAnError(t *testing.T) {
	e := newTestEnv(t)
	w := e.get(t, "/api/v1/accounts/nobody/ledger")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var entries []position.EntryView
	json.Unmarshal(w.Body.Bytes(), &entries)
	if len(entries) != 0 {
		t.Errorf("expected empty ledger, got %v", entries)
	}
}

func TestListAssets(t *testing.T) {
	e := newTestEnv(t)
	w := e.get(t, "/api/v1/assets")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var assets []model.Asset
	json.Unmarshal(w.Body.Bytes(), &assets)
	if len(assets) != 1 || assets[0].ID != "WETH" {
		t.Errorf("unexpected assets: %v", assets)
	}
}

func TestGetConstants(t *testing.T) {
	e := newTestEnv(t)
	w := e.get(t, "/api/v1/constants")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["liquidation_threshold"] != float64(50) {
		t.Errorf("expected threshold 50, got %v", resp["liquidation_threshold"])
	}
	if resp["liquidation_bonus"] != float64(10) {
		t.Errorf("expected bonus 10, got %v", resp["liquidation_bonus"])
	}
}

// --- Oracle admin ---

func TestSetPrice_UpdatesManualOracle(t *testing.T) {
	e := newTestEnv(t)

	w := e.post(t, "/api/v1/oracle/price", position.SetPriceRequest{
		Feed: "eth-usd", Price: d(1500), Decimals: 8,
	})
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
	}

	p, err := e.manual.LatestPrice(context.Background(), "eth-usd")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Value.Cmp(e8(1500)) != 0 {
		t.Errorf("expected 1500e8, got %s", p.Value)
	}
}

func TestSetPrice_RejectsNonPositive(t *testing.T) {
	e := newTestEnv(t)
	w := e.post(t, "/api/v1/oracle/price", position.SetPriceRequest{
		Feed: "eth-usd", Price: d(0), Decimals: 8,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}
