// Package webhook provides the HTTP ingress for external trading signals:
// it normalizes the raw payload into a trade intent, runs the validation
// engine, submits accepted orders to the exchange, records every outcome
// in the audit ledger, and broadcasts events to connected clients.
package webhook

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tradewire/order-engine/internal/engine"
	"github.com/tradewire/order-engine/internal/metrics"
	"github.com/tradewire/order-engine/internal/model"
	"github.com/tradewire/order-engine/internal/risk"
	"github.com/tradewire/order-engine/internal/store"
)

// Submitter places a validated order on the exchange. Invoked only after
// the engine accepts an intent; failures are reported verbatim, never
// retried here.
type Submitter interface {
	Submit(ctx context.Context, order *model.ValidatedOrder) (string, error)
}

// Service handles signal ingestion and order history queries.
type Service struct {
	engine    *engine.Engine
	submitter Submitter
	store     store.Store
	hub       *Hub                  // optional event hub for real-time broadcasts
	limiter   *risk.ExposureLimiter // optional exposure caps
}

// NewService creates a webhook service. Pass nil for hub if event
// broadcasting is not needed and nil for limiter to disable exposure caps.
func NewService(eng *engine.Engine, submitter Submitter, st store.Store, hub *Hub, limiter *risk.ExposureLimiter) *Service {
	return &Service{
		engine:    eng,
		submitter: submitter,
		store:     st,
		hub:       hub,
		limiter:   limiter,
	}
}

// SignalRequest is the raw JSON signal payload. Numeric fields accept both
// JSON numbers and quoted strings, matching what charting platforms send.
type SignalRequest struct {
	Symbol        string          `json:"symbol"`
	Action        string          `json:"action"`
	Quantity      decimal.Decimal `json:"quantity"`
	Qty           decimal.Decimal `json:"qty"` // alias for quantity
	Percentage    decimal.Decimal `json:"percentage"`
	USDTAmount    decimal.Decimal `json:"usdt_amount"`
	Price         decimal.Decimal `json:"price"`
	Leverage      decimal.Decimal `json:"leverage"`
	ClosePosition bool            `json:"close_position"`
}

// SignalResponse is the JSON body returned for every processed signal.
type SignalResponse struct {
	Status          string                `json:"status"` // "success" or "error"
	Message         string                `json:"message"`
	OrderID         string                `json:"order_id,omitempty"`
	ExchangeOrderID string                `json:"exchange_order_id,omitempty"`
	Order           *model.ValidatedOrder `json:"order,omitempty"`
	Reasons         []model.Reason        `json:"reasons,omitempty"`
}

const payloadHelp = "payload must contain 'symbol', 'action' (buy|sell|long|short) " +
	"and at least one of 'quantity', 'percentage' (0-100] or 'usdt_amount'; " +
	"'leverage' and 'close_position' apply to long/short only"

// normalize converts a raw payload into a TradeIntent, enforcing the
// intent invariants the engine relies on.
func normalize(req *SignalRequest) (*model.TradeIntent, string) {
	var problems []string

	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		problems = append(problems, "missing field: symbol")
	}

	direction, err := model.ParseDirection(req.Action)
	if err != nil {
		problems = append(problems, "invalid action "+strconv.Quote(req.Action)+": allowed values are buy, sell, long, short")
	}

	quantity := req.Quantity
	if !quantity.IsPositive() {
		quantity = req.Qty
	}

	intent := &model.TradeIntent{
		Symbol:        symbol,
		Direction:     direction,
		ClosePosition: req.ClosePosition,
		Quantity:      quantity,
		Percentage:    req.Percentage,
		QuoteAmount:   req.USDTAmount,
		Price:         req.Price,
	}

	if intent.SizingFields() == 0 {
		problems = append(problems, "no sizing field: one of quantity, percentage or usdt_amount is required")
	}

	if direction.Leveraged() {
		intent.Leverage = int(req.Leverage.IntPart())
		if intent.Leverage < 1 {
			intent.Leverage = 1
		}
	}

	if len(problems) > 0 {
		return nil, strings.Join(append(problems, payloadHelp), "\n")
	}
	return intent, ""
}

// HandleSignal handles POST /api/v1/webhook.
func (s *Service) HandleSignal(w http.ResponseWriter, r *http.Request) {
	var req SignalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	slog.Info("signal received", "symbol", req.Symbol, "action", req.Action)

	intent, problem := normalize(&req)
	if problem != "" {
		metrics.RejectionsTotal.WithLabelValues(string(model.ReasonMalformedIntent)).Inc()
		slog.Warn("malformed signal", "symbol", req.Symbol, "action", req.Action)
		writeJSON(w, http.StatusBadRequest, SignalResponse{Status: "error", Message: problem})
		return
	}

	metrics.SignalsTotal.WithLabelValues(string(intent.Direction)).Inc()

	ctx := r.Context()
	start := time.Now()
	outcome, err := s.engine.Validate(ctx, intent)
	metrics.ValidationLatency.WithLabelValues(string(intent.Direction.MarketType())).
		Observe(time.Since(start).Seconds())
	if err != nil {
		// Internal invariant violation — a bug, not a user error.
		slog.Error("validation aborted", "symbol", intent.Symbol, "err", err)
		writeError(w, "internal validation error", http.StatusInternalServerError)
		return
	}

	if outcome.Accepted {
		if reason := s.exposureReason(outcome.Order); reason != nil {
			outcome = model.Rejected(*reason)
		}
	}

	rec := s.newRecord(intent, outcome)

	if !outcome.Accepted {
		for _, reason := range outcome.Reasons {
			metrics.RejectionsTotal.WithLabelValues(string(reason.Kind)).Inc()
		}
		s.record(ctx, rec)
		s.broadcast(rec)
		writeJSON(w, http.StatusBadRequest, SignalResponse{
			Status:  "error",
			Message: outcome.ReasonText(),
			OrderID: rec.ID,
			Reasons: outcome.Reasons,
		})
		return
	}

	exchangeID, err := s.submitter.Submit(ctx, outcome.Order)
	if err != nil {
		metrics.ExecutionFailures.Inc()
		rec.Status = model.OrderStatusFailed
		rec.Detail = err.Error()
		s.record(ctx, rec)
		s.broadcast(rec)
		slog.Error("order submission failed", "symbol", intent.Symbol, "err", err)
		writeJSON(w, http.StatusBadGateway, SignalResponse{
			Status:  "error",
			Message: "order submission failed: " + err.Error(),
			OrderID: rec.ID,
			Order:   outcome.Order,
		})
		return
	}

	metrics.OrdersExecutedTotal.
		WithLabelValues(string(outcome.Order.Market), string(outcome.Order.Side)).Inc()
	s.applyExposure(outcome.Order)
	rec.ExchangeOrderID = exchangeID
	s.record(ctx, rec)
	s.broadcast(rec)

	slog.Info("order executed",
		"order_id", rec.ID,
		"exchange_order_id", exchangeID,
		"symbol", outcome.Order.Symbol,
		"market", string(outcome.Order.Market),
		"side", string(outcome.Order.Side),
		"qty", outcome.Order.Quantity,
	)

	writeJSON(w, http.StatusOK, SignalResponse{
		Status:          "success",
		Message:         outcome.Summary,
		OrderID:         rec.ID,
		ExchangeOrderID: exchangeID,
		Order:           outcome.Order,
	})
}

// ListOrders handles GET /api/v1/orders?limit=N.
func (s *Service) ListOrders(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	records, err := s.store.ListOrders(r.Context(), limit)
	if err != nil {
		writeError(w, "failed to list orders", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []model.OrderRecord{}
	}

	writeJSON(w, http.StatusOK, records)
}

// GetOrder handles GET /api/v1/orders/{orderID}.
func (s *Service) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "orderID")

	rec, err := s.store.GetOrder(r.Context(), id)
	if err != nil {
		writeError(w, "order not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// exposureReason checks an accepted order against the exposure limiter and
// returns the rejection reason when a cap would be breached. Only orders
// that add exposure (spot buys, futures opens) are checked; sells and
// closes always pass, they can only reduce it.
func (s *Service) exposureReason(order *model.ValidatedOrder) *model.Reason {
	if s.limiter == nil || !addsExposure(order) {
		return nil
	}
	if err := s.limiter.Check(order.Symbol, order.BaseAsset, orderNotional(order)); err != nil {
		slog.Warn("exposure limit breached", "symbol", order.Symbol, "err", err)
		return &model.Reason{Kind: model.ReasonExposureLimit, Message: err.Error()}
	}
	return nil
}

// applyExposure updates the limiter's running exposure after a successful
// exchange submission.
func (s *Service) applyExposure(order *model.ValidatedOrder) {
	if s.limiter == nil {
		return
	}
	notional := orderNotional(order)
	if addsExposure(order) {
		s.limiter.Record(order.Symbol, order.BaseAsset, notional)
	} else {
		s.limiter.Release(order.Symbol, notional)
	}
}

func addsExposure(order *model.ValidatedOrder) bool {
	if order.Market == model.MarketSpot {
		return order.Side == model.SideBuy
	}
	return !order.ClosePosition
}

func orderNotional(order *model.ValidatedOrder) decimal.Decimal {
	qty, err := decimal.NewFromString(order.Quantity)
	if err != nil {
		return decimal.Zero
	}
	return qty.Mul(order.Price)
}

// newRecord builds the audit record for one processed signal.
func (s *Service) newRecord(intent *model.TradeIntent, outcome *model.Outcome) *model.OrderRecord {
	rec := &model.OrderRecord{
		ID:            uuid.New().String(),
		Symbol:        intent.Symbol,
		Market:        intent.Direction.MarketType(),
		Direction:     intent.Direction,
		ClosePosition: intent.ClosePosition,
		Detail:        outcome.Summary,
		CreatedAt:     time.Now().UTC(),
	}
	if outcome.Accepted {
		rec.Status = model.OrderStatusExecuted
		rec.Side = outcome.Order.Side
		rec.PositionSide = outcome.Order.PositionSide
		rec.Quantity = outcome.Order.Quantity
		rec.Price = outcome.Order.Price
		rec.Leverage = outcome.Order.Leverage
	} else {
		rec.Status = model.OrderStatusRejected
	}
	return rec
}

func (s *Service) record(ctx context.Context, rec *model.OrderRecord) {
	if err := s.store.InsertOrder(ctx, rec); err != nil {
		// The ledger is an audit trail; a write failure must not turn an
		// executed order into a client-facing error.
		slog.Error("failed to record order", "order_id", rec.ID, "err", err)
	}
}

func (s *Service) broadcast(rec *model.OrderRecord) {
	if s.hub == nil {
		return
	}
	s.hub.Broadcast(Event{
		Type:     "signal_processed",
		OrderID:  rec.ID,
		Symbol:   rec.Symbol,
		Market:   string(rec.Market),
		Side:     string(rec.Side),
		Quantity: rec.Quantity,
		Status:   rec.Status,
		Detail:   rec.Detail,
	})
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
