// Package engine implements the order sizing and compliance validation
// core: it turns a normalized trade intent plus a fresh market snapshot
// into an exchange-ready order, or rejects it with every violated
// constraint spelled out.
//
// The validator is two sibling state machines sharing a truncation step:
// a spot branch for buy/sell and a leveraged branch for open/close of
// long/short positions. Rejections accumulate — a signal violating three
// rules reports all three, not just the first.
//
// All quantity and price arithmetic uses shopspring/decimal — never
// float64 for money.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/tradewire/order-engine/internal/marketdata"
	"github.com/tradewire/order-engine/internal/metrics"
	"github.com/tradewire/order-engine/internal/model"
	"github.com/tradewire/order-engine/internal/sizing"
)

// Engine validates trade intents against live exchange state. It owns no
// mutable state between calls; each validation fetches its own snapshot,
// so concurrent validations of different intents are fully independent.
type Engine struct {
	gateway *marketdata.Gateway
	market  marketdata.MarketData
}

// New creates an engine over the given market data source.
func New(source marketdata.MarketData) *Engine {
	return &Engine{
		gateway: marketdata.NewGateway(source),
		market:  source,
	}
}

// Validate runs the full pipeline for one intent: snapshot fetch, quantity
// resolution, compliance validation, order assembly. The returned error is
// non-nil only for internal invariant violations (a direction/side
// combination that cannot exist); every user-facing or market-data failure
// becomes a Rejected outcome instead.
func (e *Engine) Validate(ctx context.Context, intent *model.TradeIntent) (*model.Outcome, error) {
	if reasons := checkIntent(intent); len(reasons) > 0 {
		return model.Rejected(reasons...), nil
	}

	snap, err := e.gateway.Fetch(ctx, intent)
	if err != nil {
		kind := model.ReasonMarketData
		if errors.Is(err, marketdata.ErrPriceUnavailable) {
			kind = model.ReasonPriceUnavailable
		}
		slog.Warn("snapshot fetch failed", "symbol", intent.Symbol, "err", err)
		return model.Rejected(model.Reason{Kind: kind, Message: err.Error()}), nil
	}

	raw, serr := sizing.Resolve(intent, snap)
	if serr != nil {
		return model.Rejected(model.Reason{Kind: serr.Kind, Message: serr.Message}), nil
	}

	slog.Info("validating intent",
		"symbol", intent.Symbol,
		"direction", string(intent.Direction),
		"close", intent.ClosePosition,
		"raw_qty", raw.String(),
		"price", snap.Price.String(),
	)

	if intent.Direction.Leveraged() {
		return e.validateLeveraged(ctx, intent, snap, raw)
	}
	return e.validateSpot(intent, snap, raw), nil
}

// checkIntent applies defense-in-depth shape checks. The webhook layer
// guarantees these invariants; re-checking keeps the engine safe against
// other callers.
func checkIntent(intent *model.TradeIntent) []model.Reason {
	var reasons []model.Reason

	if intent.Symbol == "" {
		reasons = append(reasons, model.Reason{
			Kind:    model.ReasonMalformedIntent,
			Message: "symbol is required",
		})
	}
	switch intent.Direction {
	case model.DirectionBuy, model.DirectionSell, model.DirectionOpenLong, model.DirectionOpenShort:
	default:
		reasons = append(reasons, model.Reason{
			Kind:    model.ReasonMalformedIntent,
			Message: fmt.Sprintf("unknown direction %q", intent.Direction),
		})
	}
	if n := intent.SizingFields(); n > 1 {
		reasons = append(reasons, model.Reason{
			Kind:    model.ReasonMalformedIntent,
			Message: "ambiguous sizing: exactly one of quantity, percentage or quote amount must be set",
		})
	}
	if intent.Direction.Leveraged() && intent.Leverage < 1 {
		reasons = append(reasons, model.Reason{
			Kind:    model.ReasonMalformedIntent,
			Message: "leverage must be a positive integer for leveraged directions",
		})
	}
	if intent.ClosePosition && !intent.Direction.Leveraged() {
		reasons = append(reasons, model.Reason{
			Kind:    model.ReasonMalformedIntent,
			Message: "close_position applies only to long/short directions",
		})
	}
	return reasons
}

// --- Spot branch ---

func (e *Engine) validateSpot(intent *model.TradeIntent, snap *marketdata.Snapshot, raw decimal.Decimal) *model.Outcome {
	rules := snap.Rules
	price := snap.Price

	truncated, qtyStr, adjustment := truncateWithNote(raw, rules.StepSize, rules.BaseAsset)

	var reasons []model.Reason

	// Minimum quantity. The rejection spells out the quote amount (and,
	// when a balance is known, the balance percentage) that would satisfy it.
	if truncated.LessThan(rules.MinQty) {
		reasons = append(reasons, belowMinimumReason(intent, snap, truncated))
	}

	// The truncated quantity must sit on the step grid relative to minQty.
	if rules.StepSize.IsPositive() {
		if rem := truncated.Sub(rules.MinQty).Mod(rules.StepSize); !rem.IsZero() {
			reasons = append(reasons, model.Reason{
				Kind: model.ReasonStepMismatch,
				Message: fmt.Sprintf("quantity %s %s is not a valid multiple of step size %s",
					qtyStr, rules.BaseAsset, rules.StepSize),
			})
		}
	}

	notional := truncated.Mul(price)
	if rules.MinNotional.IsPositive() && notional.LessThan(rules.MinNotional) {
		reasons = append(reasons, model.Reason{
			Kind: model.ReasonBelowNotional,
			Message: fmt.Sprintf("order value %s %s is below the minimum notional %s %s",
				notional.StringFixed(2), rules.QuoteAsset, rules.MinNotional.StringFixed(2), rules.QuoteAsset),
		})
	}

	// Fund check: buys spend the quote asset, sells spend the base asset.
	if intent.Direction == model.DirectionBuy {
		if available := snap.Available(rules.QuoteAsset); available.LessThan(notional) {
			reasons = append(reasons, model.Reason{
				Kind: model.ReasonInsufficientFunds,
				Message: fmt.Sprintf("insufficient %s: required %s, available %s",
					rules.QuoteAsset, notional.StringFixed(2), available.StringFixed(2)),
			})
		}
	} else {
		if available := snap.Available(rules.BaseAsset); available.LessThan(truncated) {
			reasons = append(reasons, model.Reason{
				Kind: model.ReasonInsufficientFunds,
				Message: fmt.Sprintf("insufficient %s: required %s, available %s",
					rules.BaseAsset, truncated.StringFixed(8), available.StringFixed(8)),
			})
		}
	}

	if len(reasons) > 0 {
		slog.Warn("spot validation rejected", "symbol", intent.Symbol, "reasons", len(reasons))
		return model.Rejected(reasons...)
	}

	side := model.SideBuy
	if intent.Direction == model.DirectionSell {
		side = model.SideSell
	}

	order := &model.ValidatedOrder{
		Symbol:    intent.Symbol,
		BaseAsset: rules.BaseAsset,
		Market:    model.MarketSpot,
		Side:      side,
		Quantity:  qtyStr,
		Price:     price,
	}
	summary := fmt.Sprintf("%sSPOT %s %s %s at %s %s",
		adjustment, side, qtyStr, rules.BaseAsset, price, rules.QuoteAsset)

	slog.Info("spot order validated",
		"symbol", intent.Symbol, "side", string(side), "qty", qtyStr, "price", price.String())
	return model.Accepted(order, summary)
}

// --- Leveraged branch ---

func (e *Engine) validateLeveraged(ctx context.Context, intent *model.TradeIntent, snap *marketdata.Snapshot, raw decimal.Decimal) (*model.Outcome, error) {
	rules := snap.Rules
	price := snap.Price

	truncated, qtyStr, adjustment := truncateWithNote(raw, rules.StepSize, rules.BaseAsset)

	// An impossible direction/close combination is a bug in the caller,
	// not a user error; abort loudly instead of producing a rejection.
	side, positionSide, err := model.OrderSides(intent.Direction, intent.ClosePosition)
	if err != nil {
		return nil, err
	}

	var reasons []model.Reason

	if truncated.LessThan(rules.MinQty) {
		reasons = append(reasons, belowMinimumReason(intent, snap, truncated))
	}
	if rules.MaxQty.IsPositive() && truncated.GreaterThan(rules.MaxQty) {
		reasons = append(reasons, model.Reason{
			Kind: model.ReasonAboveMaximum,
			Message: fmt.Sprintf("quantity %s exceeds the maximum allowed %s",
				qtyStr, rules.MaxQty),
		})
	}

	if intent.ClosePosition {
		reasons = append(reasons, checkClosePosition(snap.Position, positionSide, truncated)...)
	} else {
		reasons = append(reasons, e.checkOpenPosition(intent, snap, truncated)...)

		// Best-effort leverage set, strictly after every other open check
		// passed and strictly before submission. A failure here is a
		// warning, not a rejection: the exchange may already be at the
		// requested leverage.
		if len(reasons) == 0 {
			if err := e.market.SetLeverage(ctx, intent.Symbol, intent.Leverage); err != nil {
				metrics.LeverageWarnings.Inc()
				slog.Warn("could not set leverage",
					"symbol", intent.Symbol, "leverage", intent.Leverage, "err", err)
			}
		}
	}

	if len(reasons) > 0 {
		slog.Warn("futures validation rejected", "symbol", intent.Symbol, "reasons", len(reasons))
		return model.Rejected(reasons...), nil
	}

	order := &model.ValidatedOrder{
		Symbol:        intent.Symbol,
		BaseAsset:     rules.BaseAsset,
		Market:        model.MarketFutures,
		Side:          side,
		PositionSide:  positionSide,
		Quantity:      qtyStr,
		Price:         price,
		Leverage:      intent.Leverage,
		ClosePosition: intent.ClosePosition,
	}
	verb := "OPEN"
	if intent.ClosePosition {
		verb = "CLOSE"
	}
	summary := fmt.Sprintf("%sFUTURES %s %s %s %s x%d at %s %s",
		adjustment, verb, positionSide, qtyStr, intent.Symbol, intent.Leverage, price, rules.QuoteAsset)

	slog.Info("futures order validated",
		"symbol", intent.Symbol,
		"side", string(side),
		"position_side", string(positionSide),
		"qty", qtyStr,
		"leverage", intent.Leverage,
		"close", intent.ClosePosition,
	)
	return model.Accepted(order, summary), nil
}

// checkClosePosition validates that an open position exists on the right
// side and is large enough to absorb the close quantity.
func checkClosePosition(position decimal.Decimal, positionSide model.PositionSide, quantity decimal.Decimal) []model.Reason {
	if position.IsZero() {
		return []model.Reason{{
			Kind:    model.ReasonNoOpenPosition,
			Message: "no open position to close",
		}}
	}

	// Long closes need a positive position, short closes a negative one.
	if positionSide == model.PositionLong && position.IsNegative() ||
		positionSide == model.PositionShort && position.IsPositive() {
		return []model.Reason{{
			Kind: model.ReasonInsufficientPosition,
			Message: fmt.Sprintf("open position %s does not match %s close",
				position, positionSide),
		}}
	}

	if quantity.GreaterThan(position.Abs()) {
		return []model.Reason{{
			Kind: model.ReasonInsufficientPosition,
			Message: fmt.Sprintf("cannot close %s of a %s position of %s",
				quantity.StringFixed(8), positionSide, position.Abs().StringFixed(8)),
		}}
	}
	return nil
}

// checkOpenPosition validates price bounds, minimum notional and margin
// sufficiency for a position-opening order.
func (e *Engine) checkOpenPosition(intent *model.TradeIntent, snap *marketdata.Snapshot, quantity decimal.Decimal) []model.Reason {
	rules := snap.Rules
	var reasons []model.Reason

	if rules.TickSize.IsPositive() {
		rounded := RoundToTick(snap.Price, rules.TickSize)
		belowMin := rules.MinPrice.IsPositive() && rounded.LessThan(rules.MinPrice)
		aboveMax := rules.MaxPrice.IsPositive() && rounded.GreaterThan(rules.MaxPrice)
		if belowMin || aboveMax {
			reasons = append(reasons, model.Reason{
				Kind: model.ReasonOutOfPriceBounds,
				Message: fmt.Sprintf("price %s is outside the allowed bounds [%s, %s]",
					rounded, rules.MinPrice, rules.MaxPrice),
			})
		}
	}

	notional := quantity.Mul(snap.Price)
	if rules.MinNotional.IsPositive() && notional.LessThan(rules.MinNotional) {
		reasons = append(reasons, model.Reason{
			Kind: model.ReasonBelowNotional,
			Message: fmt.Sprintf("order value %s %s is below the minimum notional %s %s",
				notional.StringFixed(2), rules.QuoteAsset, rules.MinNotional.StringFixed(2), rules.QuoteAsset),
		})
	}

	requiredMargin := notional.Div(decimal.NewFromInt(int64(intent.Leverage)))
	if available := snap.Available(rules.QuoteAsset); available.LessThan(requiredMargin) {
		reasons = append(reasons, model.Reason{
			Kind: model.ReasonInsufficientFunds,
			Message: fmt.Sprintf("insufficient margin for x%d: required %s %s, available %s %s",
				intent.Leverage, requiredMargin.StringFixed(2), rules.QuoteAsset,
				available.StringFixed(2), rules.QuoteAsset),
		})
	}

	return reasons
}

// belowMinimumReason builds the enriched minimum-quantity rejection: the
// minimum quote amount and, when a balance is known, the percentage of it
// that would satisfy the minimum.
func belowMinimumReason(intent *model.TradeIntent, snap *marketdata.Snapshot, truncated decimal.Decimal) model.Reason {
	rules := snap.Rules
	minQuote := rules.MinQty.Mul(snap.Price)

	balanceAsset := rules.QuoteAsset
	if intent.Direction == model.DirectionSell {
		balanceAsset = rules.BaseAsset
	}
	available := snap.Available(balanceAsset)

	msg := fmt.Sprintf("quantity %s %s is below the minimum %s %s (at least %s %s)",
		truncated, rules.BaseAsset, rules.MinQty, rules.BaseAsset,
		minQuote.StringFixed(2), rules.QuoteAsset)
	if available.IsPositive() {
		pct := minQuote.Div(available).Mul(decimal.NewFromInt(100))
		msg = fmt.Sprintf("%s, about %s%% of your available %s %s",
			msg, pct.StringFixed(2), available.StringFixed(2), balanceAsset)
	}

	return model.Reason{Kind: model.ReasonBelowMinimum, Message: msg}
}

// truncateWithNote truncates to the step grid and reports an informational
// adjustment note when truncation changed the quantity. The note feeds the
// success summary; it is never a rejection.
func truncateWithNote(raw, step decimal.Decimal, baseAsset string) (decimal.Decimal, string, string) {
	truncated, qtyStr := TruncateToStep(raw, step)
	if truncated.Equal(raw) {
		return truncated, qtyStr, ""
	}
	slog.Info("quantity adjusted to step size",
		"raw", raw.String(), "truncated", qtyStr, "step", step.String())
	note := fmt.Sprintf("quantity adjusted from %s to %s %s per step size %s; ",
		raw, qtyStr, baseAsset, step)
	return truncated, qtyStr, note
}
