package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/tradewire/order-engine/internal/engine"
	"github.com/tradewire/order-engine/internal/model"
	"github.com/tradewire/order-engine/internal/risk"
	"github.com/tradewire/order-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// fakeExchange backs both the market data reads and order submission.
type fakeExchange struct {
	rules    *model.SymbolRules
	balances map[string]decimal.Decimal
	price    decimal.Decimal
	position decimal.Decimal

	submitErr error
	submitted []*model.ValidatedOrder
}

func (f *fakeExchange) Balances(_ context.Context, _ model.MarketType) (map[string]decimal.Decimal, error) {
	return f.balances, nil
}

func (f *fakeExchange) SymbolRules(_ context.Context, _ string, _ model.MarketType) (*model.SymbolRules, error) {
	return f.rules, nil
}

func (f *fakeExchange) Price(_ context.Context, _ string, _ model.MarketType) (decimal.Decimal, error) {
	return f.price, nil
}

func (f *fakeExchange) OpenPosition(_ context.Context, _ string) (decimal.Decimal, error) {
	return f.position, nil
}

func (f *fakeExchange) SetLeverage(_ context.Context, _ string, _ int) error {
	return nil
}

func (f *fakeExchange) Submit(_ context.Context, order *model.ValidatedOrder) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = append(f.submitted, order)
	return "4077001", nil
}

type testEnv struct {
	exchange *fakeExchange
	store    *store.MemoryStore
	router   *chi.Mux
}

func newTestEnv() *testEnv {
	fe := &fakeExchange{
		rules: &model.SymbolRules{
			Symbol:      "BTCUSDT",
			BaseAsset:   "BTC",
			QuoteAsset:  "USDT",
			StepSize:    d(0.0001),
			MinQty:      d(0.0001),
			MaxQty:      d(1000),
			MinNotional: d(10),
			TickSize:    d(0.01),
			MinPrice:    d(0.01),
			MaxPrice:    d(1000000),
		},
		balances: map[string]decimal.Decimal{"USDT": d(1000), "BTC": d(0.5)},
		price:    d(50000),
	}
	st := store.NewMemoryStore()
	svc := NewService(engine.New(fe), fe, st, nil, nil)

	r := chi.NewRouter()
	r.Post("/api/v1/webhook", svc.HandleSignal)
	r.Get("/api/v1/orders", svc.ListOrders)
	r.Get("/api/v1/orders/{orderID}", svc.GetOrder)

	return &testEnv{exchange: fe, store: st, router: r}
}

func (env *testEnv) post(t *testing.T, body string) (*httptest.ResponseRecorder, SignalResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhook", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	var resp SignalResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response is not valid JSON: %v\n%s", err, w.Body.String())
	}
	return w, resp
}

func TestHandleSignal_SpotBuyExecuted(t *testing.T) {
	env := newTestEnv()

	w, resp := env.post(t, `{"symbol": "btcusdt", "action": "buy", "percentage": 10}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if resp.Status != "success" {
		t.Fatalf("expected success, got %q: %s", resp.Status, resp.Message)
	}
	if resp.ExchangeOrderID != "4077001" {
		t.Errorf("expected exchange order id from the submitter, got %q", resp.ExchangeOrderID)
	}
	if resp.Order == nil || resp.Order.Quantity != "0.0020" {
		t.Fatalf("expected order with quantity 0.0020, got %+v", resp.Order)
	}
	if resp.Order.Symbol != "BTCUSDT" {
		t.Errorf("symbol must be uppercased, got %q", resp.Order.Symbol)
	}

	if len(env.exchange.submitted) != 1 {
		t.Fatalf("expected exactly one submission, got %d", len(env.exchange.submitted))
	}

	rec, err := env.store.GetOrder(context.Background(), resp.OrderID)
	if err != nil {
		t.Fatalf("executed order must be recorded: %v", err)
	}
	if rec.Status != model.OrderStatusExecuted {
		t.Errorf("expected status executed, got %q", rec.Status)
	}
	if rec.ExchangeOrderID != "4077001" {
		t.Errorf("record should carry the exchange order id, got %q", rec.ExchangeOrderID)
	}
}

// Numeric fields arrive as strings from some charting platforms.
func TestHandleSignal_StringNumbersAccepted(t *testing.T) {
	env := newTestEnv()

	w, resp := env.post(t, `{"symbol": "BTCUSDT", "action": "buy", "quantity": "0.002"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, resp.Message)
	}
	if resp.Order == nil || resp.Order.Quantity != "0.0020" {
		t.Errorf("expected quantity 0.0020, got %+v", resp.Order)
	}
}

func TestHandleSignal_QtyAlias(t *testing.T) {
	env := newTestEnv()

	w, resp := env.post(t, `{"symbol": "BTCUSDT", "action": "buy", "qty": 0.002}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, resp.Message)
	}
	if resp.Order == nil || resp.Order.Quantity != "0.0020" {
		t.Errorf("expected quantity 0.0020, got %+v", resp.Order)
	}
}

func TestHandleSignal_RejectionRecordedWithReasons(t *testing.T) {
	env := newTestEnv()
	env.exchange.balances = map[string]decimal.Decimal{"BTC": d(0.001)}

	w, resp := env.post(t, `{"symbol": "BTCUSDT", "action": "sell", "quantity": 0.01}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if resp.Status != "error" || len(resp.Reasons) == 0 {
		t.Fatalf("expected rejection reasons, got %+v", resp)
	}
	if resp.Reasons[0].Kind != model.ReasonInsufficientFunds {
		t.Errorf("expected insufficient_funds, got %s", resp.Reasons[0].Kind)
	}
	if len(env.exchange.submitted) != 0 {
		t.Error("rejected signals must never reach the exchange")
	}

	rec, err := env.store.GetOrder(context.Background(), resp.OrderID)
	if err != nil {
		t.Fatalf("rejection must still be recorded: %v", err)
	}
	if rec.Status != model.OrderStatusRejected {
		t.Errorf("expected status rejected, got %q", rec.Status)
	}
}

func TestHandleSignal_SubmitFailureIsBadGateway(t *testing.T) {
	env := newTestEnv()
	env.exchange.submitErr = errors.New("binance: Account has insufficient balance (code -2019)")

	w, resp := env.post(t, `{"symbol": "BTCUSDT", "action": "buy", "percentage": 10}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
	if !strings.Contains(resp.Message, "-2019") {
		t.Errorf("exchange error must be passed through verbatim: %q", resp.Message)
	}

	rec, err := env.store.GetOrder(context.Background(), resp.OrderID)
	if err != nil {
		t.Fatalf("failed submission must be recorded: %v", err)
	}
	if rec.Status != model.OrderStatusFailed {
		t.Errorf("expected status failed, got %q", rec.Status)
	}
}

func TestHandleSignal_MalformedPayload(t *testing.T) {
	env := newTestEnv()

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"symbol": `},
		{"missing symbol", `{"action": "buy", "quantity": 1}`},
		{"unknown action", `{"symbol": "BTCUSDT", "action": "hodl", "quantity": 1}`},
		{"no sizing field", `{"symbol": "BTCUSDT", "action": "buy"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/webhook", bytes.NewBufferString(tt.body))
			w := httptest.NewRecorder()
			env.router.ServeHTTP(w, req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
	if len(env.exchange.submitted) != 0 {
		t.Error("malformed payloads must never reach the exchange")
	}
}

func TestHandleSignal_FuturesLeverageDefaultsToOne(t *testing.T) {
	env := newTestEnv()

	w, resp := env.post(t, `{"symbol": "BTCUSDT", "action": "long", "quantity": 0.002}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, resp.Message)
	}
	if resp.Order == nil || resp.Order.Leverage != 1 {
		t.Errorf("leverage should default to 1, got %+v", resp.Order)
	}
	if resp.Order.Market != model.MarketFutures {
		t.Errorf("long must trade futures, got %s", resp.Order.Market)
	}
}

func TestHandleSignal_FuturesClose(t *testing.T) {
	env := newTestEnv()
	env.exchange.position = d(0.05)

	w, resp := env.post(t,
		`{"symbol": "BTCUSDT", "action": "long", "close_position": true, "percentage": "50", "leverage": 10}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, resp.Message)
	}
	if resp.Order == nil || resp.Order.Quantity != "0.0250" {
		t.Fatalf("expected half of the 0.05 position, got %+v", resp.Order)
	}
	if resp.Order.Side != model.SideSell || resp.Order.PositionSide != model.PositionLong {
		t.Errorf("close long must be (SELL, LONG), got (%s, %s)", resp.Order.Side, resp.Order.PositionSide)
	}
	if !resp.Order.ClosePosition {
		t.Error("close flag must survive into the submitted order")
	}
}

func TestOrderEndpoints(t *testing.T) {
	env := newTestEnv()

	// Process two signals, one executed and one rejected.
	_, executed := env.post(t, `{"symbol": "BTCUSDT", "action": "buy", "percentage": 10}`)
	env.exchange.balances = map[string]decimal.Decimal{"BTC": d(0.001)}
	_, rejected := env.post(t, `{"symbol": "BTCUSDT", "action": "sell", "quantity": 0.01}`)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var records []model.OrderRecord
	if err := json.Unmarshal(w.Body.Bytes(), &records); err != nil {
		t.Fatalf("orders response is not valid JSON: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	// Newest first.
	if records[0].ID != rejected.OrderID || records[1].ID != executed.OrderID {
		t.Errorf("records must be newest first: %s, %s", records[0].ID, records[1].ID)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/orders/"+executed.OrderID, nil)
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/orders/no-such-id", nil)
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown order, got %d", w.Code)
	}
}

func TestHandleSignal_ExposureLimit(t *testing.T) {
	env := newTestEnv()
	limiter := risk.NewExposureLimiter(d(150), decimal.Zero)

	svc := NewService(engine.New(env.exchange), env.exchange, env.store, nil, limiter)
	r := chi.NewRouter()
	r.Post("/api/v1/webhook", svc.HandleSignal)
	env.router = r

	// First buy: 10% of 1000 USDT → 100 USDT notional, within the cap.
	w, _ := env.post(t, `{"symbol": "BTCUSDT", "action": "buy", "percentage": 10}`)
	if w.Code != http.StatusOK {
		t.Fatalf("first buy should pass, got %d: %s", w.Code, w.Body.String())
	}

	// Second identical buy would bring the symbol to 200 > 150.
	w, resp := env.post(t, `{"symbol": "BTCUSDT", "action": "buy", "percentage": 10}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected exposure rejection, got %d: %s", w.Code, w.Body.String())
	}
	if len(resp.Reasons) != 1 || resp.Reasons[0].Kind != model.ReasonExposureLimit {
		t.Fatalf("expected exposure_limit reason, got %+v", resp.Reasons)
	}
	if len(env.exchange.submitted) != 1 {
		t.Errorf("second order must not reach the exchange, got %d submissions", len(env.exchange.submitted))
	}

	// A sell releases exposure; the next buy fits again.
	w, _ = env.post(t, `{"symbol": "BTCUSDT", "action": "sell", "quantity": 0.002}`)
	if w.Code != http.StatusOK {
		t.Fatalf("sell should pass, got %d: %s", w.Code, w.Body.String())
	}
	w, _ = env.post(t, `{"symbol": "BTCUSDT", "action": "buy", "percentage": 10}`)
	if w.Code != http.StatusOK {
		t.Fatalf("buy after release should pass, got %d: %s", w.Code, w.Body.String())
	}
}

func TestNormalize_LeverageIgnoredForSpot(t *testing.T) {
	intent, problem := normalize(&SignalRequest{
		Symbol:   "BTCUSDT",
		Action:   "buy",
		Quantity: d(1),
		Leverage: d(20),
	})
	if problem != "" {
		t.Fatalf("unexpected problem: %s", problem)
	}
	if intent.Leverage != 0 {
		t.Errorf("spot intents must not carry leverage, got %d", intent.Leverage)
	}
}
