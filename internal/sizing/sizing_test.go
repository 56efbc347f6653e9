package sizing

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/tradewire/order-engine/internal/marketdata"
	"github.com/tradewire/order-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func snapshot(price float64, balances map[string]decimal.Decimal, position float64) *marketdata.Snapshot {
	return &marketdata.Snapshot{
		Rules: &model.SymbolRules{
			Symbol:     "BTCUSDT",
			BaseAsset:  "BTC",
			QuoteAsset: "USDT",
		},
		Price:    d(price),
		Balances: balances,
		Position: d(position),
	}
}

func TestResolve_ExplicitQuantityPassesThrough(t *testing.T) {
	snap := snapshot(50000, map[string]decimal.Decimal{}, 0)
	raw, err := Resolve(&model.TradeIntent{
		Symbol:    "BTCUSDT",
		Direction: model.DirectionBuy,
		Quantity:  d(0.0042),
	}, snap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !raw.Equal(d(0.0042)) {
		t.Errorf("explicit quantity must pass through unchanged, got %s", raw)
	}
}

func TestResolve_PercentageBuyDividesByPrice(t *testing.T) {
	snap := snapshot(50000, map[string]decimal.Decimal{"USDT": d(1000)}, 0)
	raw, err := Resolve(&model.TradeIntent{
		Symbol:     "BTCUSDT",
		Direction:  model.DirectionBuy,
		Percentage: d(10),
	}, snap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 10% of 1000 USDT at 50000 → 0.002 BTC.
	if !raw.Equal(d(0.002)) {
		t.Errorf("expected 0.002, got %s", raw)
	}
}

func TestResolve_PercentageSellUsesBaseDirectly(t *testing.T) {
	snap := snapshot(50000, map[string]decimal.Decimal{"BTC": d(0.5)}, 0)
	raw, err := Resolve(&model.TradeIntent{
		Symbol:     "BTCUSDT",
		Direction:  model.DirectionSell,
		Percentage: d(50),
	}, snap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !raw.Equal(d(0.25)) {
		t.Errorf("expected 0.25 BTC, got %s", raw)
	}
}

func TestResolve_PercentageCloseUsesPositionSize(t *testing.T) {
	// A short position sizes by its absolute value.
	snap := snapshot(50000, map[string]decimal.Decimal{"USDT": d(1000)}, -0.04)
	raw, err := Resolve(&model.TradeIntent{
		Symbol:        "BTCUSDT",
		Direction:     model.DirectionOpenShort,
		ClosePosition: true,
		Percentage:    d(25),
		Leverage:      3,
	}, snap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !raw.Equal(d(0.01)) {
		t.Errorf("expected 0.01 BTC, got %s", raw)
	}
}

func TestResolve_QuoteAmountBuy(t *testing.T) {
	snap := snapshot(50000, map[string]decimal.Decimal{"USDT": d(1000)}, 0)
	raw, err := Resolve(&model.TradeIntent{
		Symbol:      "BTCUSDT",
		Direction:   model.DirectionBuy,
		QuoteAmount: d(100),
	}, snap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !raw.Equal(d(0.002)) {
		t.Errorf("expected 0.002, got %s", raw)
	}
}

func TestResolve_QuoteAmountSpotSellRejected(t *testing.T) {
	snap := snapshot(50000, map[string]decimal.Decimal{"BTC": d(1)}, 0)
	_, err := Resolve(&model.TradeIntent{
		Symbol:      "BTCUSDT",
		Direction:   model.DirectionSell,
		QuoteAmount: d(100),
	}, snap)
	if err == nil {
		t.Fatal("quote-amount sizing on a spot sell must be rejected")
	}
	if err.Kind != model.ReasonInsufficientSizing {
		t.Errorf("expected %s, got %s", model.ReasonInsufficientSizing, err.Kind)
	}
}

func TestResolve_ZeroBalanceIsNoFunds(t *testing.T) {
	snap := snapshot(50000, map[string]decimal.Decimal{}, 0)
	_, err := Resolve(&model.TradeIntent{
		Symbol:     "BTCUSDT",
		Direction:  model.DirectionBuy,
		Percentage: d(10),
	}, snap)
	if err == nil {
		t.Fatal("expected a sizing error")
	}
	if err.Kind != model.ReasonNoFunds {
		t.Errorf("expected %s, got %s", model.ReasonNoFunds, err.Kind)
	}
}

func TestResolve_NoSizingField(t *testing.T) {
	snap := snapshot(50000, map[string]decimal.Decimal{"USDT": d(1000)}, 0)
	_, err := Resolve(&model.TradeIntent{
		Symbol:    "BTCUSDT",
		Direction: model.DirectionBuy,
	}, snap)
	if err == nil || err.Kind != model.ReasonInsufficientSizing {
		t.Errorf("missing sizing field must be rejected, got %v", err)
	}
}

func TestResolve_PercentageOutOfRange(t *testing.T) {
	snap := snapshot(50000, map[string]decimal.Decimal{"USDT": d(1000)}, 0)
	_, err := Resolve(&model.TradeIntent{
		Symbol:     "BTCUSDT",
		Direction:  model.DirectionBuy,
		Percentage: d(150),
	}, snap)
	if err == nil || err.Kind != model.ReasonMalformedIntent {
		t.Errorf("percentage above 100 must be rejected, got %v", err)
	}
}

func TestResolve_MissingPriceForValueSizing(t *testing.T) {
	snap := snapshot(0, map[string]decimal.Decimal{"USDT": d(1000)}, 0)
	_, err := Resolve(&model.TradeIntent{
		Symbol:     "BTCUSDT",
		Direction:  model.DirectionBuy,
		Percentage: d(10),
	}, snap)
	if err == nil || err.Kind != model.ReasonPriceUnavailable {
		t.Errorf("value sizing without a price must be rejected, got %v", err)
	}
}

// Larger percentages never resolve to smaller quantities.
func TestResolve_PercentageMonotonic(t *testing.T) {
	snap := snapshot(50000, map[string]decimal.Decimal{"USDT": d(1234.56)}, 0)
	prev := decimal.Zero
	for _, pct := range []float64{1, 5, 10, 25, 50, 75, 100} {
		raw, err := Resolve(&model.TradeIntent{
			Symbol:     "BTCUSDT",
			Direction:  model.DirectionBuy,
			Percentage: d(pct),
		}, snap)
		if err != nil {
			t.Fatalf("pct %v: unexpected error: %v", pct, err)
		}
		if raw.LessThan(prev) {
			t.Fatalf("pct %v resolved to %s, below the previous %s", pct, raw, prev)
		}
		prev = raw
	}
}
