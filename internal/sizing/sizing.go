// Package sizing converts a sizing intent (explicit quantity, percentage of
// balance, or fixed quote-currency amount) plus a market snapshot into the
// raw quantity the compliance validator will truncate and check.
package sizing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/tradewire/order-engine/internal/marketdata"
	"github.com/tradewire/order-engine/internal/model"
)

var hundred = decimal.NewFromInt(100)

// Error is a sizing failure with its rejection classification.
type Error struct {
	Kind    model.ReasonKind
	Message string
}

func (e *Error) Error() string { return e.Message }

func errf(kind model.ReasonKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Resolve computes the raw (pre-truncation) quantity for an intent.
//
// Explicit quantities pass through unchanged. Percentage sizing applies to
// the relevant balance: the quote asset (or margin wallet) for buys and
// opens, the base asset for sells, the open-position size for closes.
// Quote-amount sizing divides by the reference price and applies to buys,
// opens and closes.
func Resolve(intent *model.TradeIntent, snap *marketdata.Snapshot) (decimal.Decimal, *Error) {
	if intent.Quantity.IsPositive() {
		return intent.Quantity, nil
	}

	if intent.SizingFields() == 0 {
		return decimal.Zero, errf(model.ReasonInsufficientSizing,
			"no sizing field present: one of quantity, percentage or quote amount is required")
	}

	if intent.Percentage.IsPositive() && intent.Percentage.GreaterThan(hundred) {
		return decimal.Zero, errf(model.ReasonMalformedIntent,
			"percentage %s is out of range (0, 100]", intent.Percentage)
	}

	price := snap.Price
	needsPrice := intent.QuoteAmount.IsPositive() || sizesByValue(intent)
	if needsPrice && !price.IsPositive() {
		return decimal.Zero, errf(model.ReasonPriceUnavailable,
			"no usable price for %s", intent.Symbol)
	}

	available, asset := relevantBalance(intent, snap)
	if available.IsZero() {
		return decimal.Zero, errf(model.ReasonNoFunds,
			"no available balance in %s", asset)
	}

	var raw decimal.Decimal
	switch {
	case intent.Percentage.IsPositive():
		amount := available.Mul(intent.Percentage).Div(hundred)
		if sizesByValue(intent) {
			raw = amount.Div(price)
		} else {
			// Sells and closes size a fraction of the held asset directly.
			raw = amount
		}
	case intent.QuoteAmount.IsPositive():
		if intent.Direction == model.DirectionSell && !intent.ClosePosition {
			return decimal.Zero, errf(model.ReasonInsufficientSizing,
				"quote-amount sizing is not supported for spot sells; use quantity or percentage")
		}
		raw = intent.QuoteAmount.Div(price)
	}

	if !raw.IsPositive() {
		return decimal.Zero, errf(model.ReasonInsufficientSizing,
			"sizing resolved to a non-positive quantity (%s)", raw)
	}
	return raw, nil
}

// sizesByValue reports whether percentage sizing converts a quote-currency
// amount into base quantity via the price. True for buys and opens; sells
// and closes already hold the base asset (or position) being sized.
func sizesByValue(intent *model.TradeIntent) bool {
	if intent.ClosePosition {
		return false
	}
	return intent.Direction == model.DirectionBuy || intent.Direction.Leveraged()
}

// relevantBalance picks the balance the sizing computation draws on and
// the asset name used in failure messages.
func relevantBalance(intent *model.TradeIntent, snap *marketdata.Snapshot) (decimal.Decimal, string) {
	rules := snap.Rules
	switch {
	case intent.ClosePosition && intent.Direction.Leveraged():
		return snap.Position.Abs(), rules.BaseAsset + " position"
	case intent.Direction == model.DirectionSell:
		return snap.Available(rules.BaseAsset), rules.BaseAsset
	default:
		// Buys and leveraged opens draw on the quote / margin wallet.
		return snap.Available(rules.QuoteAsset), rules.QuoteAsset
	}
}
