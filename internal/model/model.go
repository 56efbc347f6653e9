// Package model defines the core domain types shared across the order engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MarketType selects which exchange market an intent trades on.
type MarketType string

const (
	MarketSpot    MarketType = "spot"
	MarketFutures MarketType = "futures"
)

// Direction is the canonical trade direction after normalization.
// Spot directions are buy/sell; leveraged directions are open_long/open_short,
// each with a close variant selected by TradeIntent.ClosePosition.
type Direction string

const (
	DirectionBuy       Direction = "buy"
	DirectionSell      Direction = "sell"
	DirectionOpenLong  Direction = "open_long"
	DirectionOpenShort Direction = "open_short"
)

// ErrUnknownDirection is returned when a direction string cannot be
// normalized to one of the four canonical values.
var ErrUnknownDirection = errors.New("model: unknown direction")

// ErrInvalidSideCombination signals an internal invariant violation:
// a direction/close combination that cannot map to an order side.
// This is a bug, not a user error.
var ErrInvalidSideCombination = errors.New("model: invalid side/positionSide combination")

// ParseDirection normalizes a raw action string into a Direction.
// Accepts the short aliases "long" and "short" used by signal payloads.
func ParseDirection(raw string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "buy":
		return DirectionBuy, nil
	case "sell":
		return DirectionSell, nil
	case "long", "open_long":
		return DirectionOpenLong, nil
	case "short", "open_short":
		return DirectionOpenShort, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDirection, raw)
}

// Leveraged reports whether the direction trades on the futures market.
func (d Direction) Leveraged() bool {
	return d == DirectionOpenLong || d == DirectionOpenShort
}

// MarketType returns the market this direction trades on.
func (d Direction) MarketType() MarketType {
	if d.Leveraged() {
		return MarketFutures
	}
	return MarketSpot
}

// Side is the exchange order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// PositionSide is the futures position side. Empty for spot orders.
type PositionSide string

const (
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
)

// OrderSides resolves (side, positionSide) for a leveraged direction.
// open_long → (BUY, LONG); open_short → (SELL, SHORT); closes invert the
// side while keeping the position side. Any other combination is an
// internal invariant violation and fails fast.
func OrderSides(d Direction, closePosition bool) (Side, PositionSide, error) {
	switch d {
	case DirectionOpenLong:
		if closePosition {
			return SideSell, PositionLong, nil
		}
		return SideBuy, PositionLong, nil
	case DirectionOpenShort:
		if closePosition {
			return SideBuy, PositionShort, nil
		}
		return SideSell, PositionShort, nil
	}
	return "", "", fmt.Errorf("%w: direction=%s close=%t", ErrInvalidSideCombination, d, closePosition)
}

// SymbolRules is the per-symbol exchange constraint set, resolved from the
// raw exchange filter payload by the rules adapter. It is fetched fresh per
// validation call and never cached — exchange rules can change and staleness
// must not silently persist.
type SymbolRules struct {
	Symbol      string          `json:"symbol"`
	BaseAsset   string          `json:"base_asset"`
	QuoteAsset  string          `json:"quote_asset"`
	StepSize    decimal.Decimal `json:"step_size"`
	MinQty      decimal.Decimal `json:"min_qty"`
	MaxQty      decimal.Decimal `json:"max_qty"`      // zero = unbounded
	MinNotional decimal.Decimal `json:"min_notional"` // zero = no notional floor
	TickSize    decimal.Decimal `json:"tick_size"`
	MinPrice    decimal.Decimal `json:"min_price"`
	MaxPrice    decimal.Decimal `json:"max_price"` // zero = unbounded
}

// TradeIntent is a normalized external trading signal. Exactly one of
// Quantity, Percentage, QuoteAmount must be positive; the webhook layer
// guarantees this before the engine runs, and the engine re-checks as
// defense in depth.
type TradeIntent struct {
	Symbol        string
	Direction     Direction
	ClosePosition bool
	Quantity      decimal.Decimal // explicit base-asset quantity
	Percentage    decimal.Decimal // (0, 100] of the relevant balance
	QuoteAmount   decimal.Decimal // fixed quote-currency amount
	Price         decimal.Decimal // optional; zero = use ticker price
	Leverage      int             // required for leveraged directions
}

// SizingFields counts how many sizing fields carry a positive value.
func (in *TradeIntent) SizingFields() int {
	n := 0
	if in.Quantity.IsPositive() {
		n++
	}
	if in.Percentage.IsPositive() {
		n++
	}
	if in.QuoteAmount.IsPositive() {
		n++
	}
	return n
}

// ValidatedOrder is the final, exchange-ready order description produced
// only once validation succeeds.
type ValidatedOrder struct {
	Symbol        string          `json:"symbol"`
	BaseAsset     string          `json:"base_asset"`
	Market        MarketType      `json:"market"`
	Side          Side            `json:"side"`
	PositionSide  PositionSide    `json:"position_side,omitempty"` // leveraged only
	Quantity      string          `json:"quantity"`                // truncated, fixed precision
	Price         decimal.Decimal `json:"price"`                   // price used for sizing
	Leverage      int             `json:"leverage,omitempty"`      // leveraged only
	ClosePosition bool            `json:"close_position,omitempty"`
}

// ReasonKind classifies why a signal was rejected.
type ReasonKind string

const (
	ReasonMalformedIntent      ReasonKind = "malformed_intent"
	ReasonMarketData           ReasonKind = "market_data_error"
	ReasonNoFunds              ReasonKind = "no_funds"
	ReasonPriceUnavailable     ReasonKind = "price_unavailable"
	ReasonInsufficientFunds    ReasonKind = "insufficient_funds"
	ReasonInsufficientPosition ReasonKind = "insufficient_position"
	ReasonNoOpenPosition       ReasonKind = "no_open_position"
	ReasonBelowMinimum         ReasonKind = "below_minimum"
	ReasonAboveMaximum         ReasonKind = "above_maximum"
	ReasonBelowNotional        ReasonKind = "below_notional"
	ReasonOutOfPriceBounds     ReasonKind = "out_of_price_bounds"
	ReasonStepMismatch         ReasonKind = "step_mismatch"
	ReasonInsufficientSizing   ReasonKind = "insufficient_sizing_spec"
	ReasonExposureLimit        ReasonKind = "exposure_limit"
)

// Reason is one rejection cause with its human-readable message.
type Reason struct {
	Kind    ReasonKind `json:"kind"`
	Message string     `json:"message"`
}

// Outcome is the result of validating one intent: exactly Accepted with an
// order, or Rejected with at least one reason. No partial shape exists.
type Outcome struct {
	Accepted bool            `json:"accepted"`
	Order    *ValidatedOrder `json:"order,omitempty"`
	Summary  string          `json:"summary"`
	Reasons  []Reason        `json:"reasons,omitempty"`
}

// ReasonText joins all rejection messages into one multi-line string.
func (o *Outcome) ReasonText() string {
	msgs := make([]string, 0, len(o.Reasons))
	for _, r := range o.Reasons {
		msgs = append(msgs, r.Message)
	}
	return strings.Join(msgs, "\n")
}

// Rejected builds a rejection outcome from accumulated reasons.
func Rejected(reasons ...Reason) *Outcome {
	o := &Outcome{Accepted: false, Reasons: reasons}
	o.Summary = o.ReasonText()
	return o
}

// Accepted builds a success outcome.
func Accepted(order *ValidatedOrder, summary string) *Outcome {
	return &Outcome{Accepted: true, Order: order, Summary: summary}
}

// Order record statuses.
const (
	OrderStatusExecuted = "executed"
	OrderStatusRejected = "rejected"
	OrderStatusFailed   = "failed" // accepted but exchange submission failed
)

// OrderRecord is the immutable audit record of one processed signal.
// Once created, these are never modified or deleted.
type OrderRecord struct {
	ID              string          `json:"id" db:"id"`
	Symbol          string          `json:"symbol" db:"symbol"`
	Market          MarketType      `json:"market" db:"market"`
	Direction       Direction       `json:"direction" db:"direction"`
	Side            Side            `json:"side,omitempty" db:"side"`
	PositionSide    PositionSide    `json:"position_side,omitempty" db:"position_side"`
	Quantity        string          `json:"quantity,omitempty" db:"quantity"`
	Price           decimal.Decimal `json:"price" db:"price"`
	Leverage        int             `json:"leverage,omitempty" db:"leverage"`
	ClosePosition   bool            `json:"close_position" db:"close_position"`
	Status          string          `json:"status" db:"status"`
	Detail          string          `json:"detail" db:"detail"` // summary or rejection text
	ExchangeOrderID string          `json:"exchange_order_id,omitempty" db:"exchange_order_id"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}
