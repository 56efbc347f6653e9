// Package rules parses exchange-supplied symbol filter payloads into the
// typed per-symbol ruleset the validation engine consumes.
//
// Binance publishes trading constraints as a list of named filters per
// symbol (LOT_SIZE, PRICE_FILTER, MIN_NOTIONAL/NOTIONAL) with decimal
// values encoded as strings. The adapter resolves the historically
// inconsistent min-notional naming (filter MIN_NOTIONAL vs NOTIONAL,
// field minNotional vs notional) into a single MinNotional here, so the
// spot and futures validation branches never duplicate that fallback.
package rules

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/tradewire/order-engine/internal/model"
)

// Filter names used by the exchange.
const (
	FilterLotSize     = "LOT_SIZE"
	FilterPriceFilter = "PRICE_FILTER"
	FilterMinNotional = "MIN_NOTIONAL"
	FilterNotional    = "NOTIONAL"
)

// ErrSymbolNotFound is returned when the exchange info payload does not
// contain the requested symbol.
var ErrSymbolNotFound = errors.New("rules: symbol not found in exchange info")

// Filter is one raw exchange filter. Unknown fields are ignored.
type Filter struct {
	FilterType  string `json:"filterType"`
	StepSize    string `json:"stepSize,omitempty"`
	MinQty      string `json:"minQty,omitempty"`
	MaxQty      string `json:"maxQty,omitempty"`
	TickSize    string `json:"tickSize,omitempty"`
	MinPrice    string `json:"minPrice,omitempty"`
	MaxPrice    string `json:"maxPrice,omitempty"`
	MinNotional string `json:"minNotional,omitempty"`
	Notional    string `json:"notional,omitempty"`
}

// SymbolInfo is one symbol entry from the exchange info payload.
type SymbolInfo struct {
	Symbol     string   `json:"symbol"`
	Status     string   `json:"status"`
	BaseAsset  string   `json:"baseAsset"`
	QuoteAsset string   `json:"quoteAsset"`
	Filters    []Filter `json:"filters"`
}

// ExchangeInfo is the relevant subset of the exchange info response.
type ExchangeInfo struct {
	Symbols []SymbolInfo `json:"symbols"`
}

// Resolve finds a symbol in the exchange info payload and converts its
// filters into a typed ruleset.
func Resolve(info *ExchangeInfo, symbol string) (*model.SymbolRules, error) {
	for i := range info.Symbols {
		if info.Symbols[i].Symbol == symbol {
			return FromSymbolInfo(&info.Symbols[i])
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
}

// FromSymbolInfo converts one symbol's raw filter list into SymbolRules.
// Absent filters resolve to zero values, which the engine treats as
// "unconstrained" on that axis.
func FromSymbolInfo(s *SymbolInfo) (*model.SymbolRules, error) {
	r := &model.SymbolRules{
		Symbol:     s.Symbol,
		BaseAsset:  s.BaseAsset,
		QuoteAsset: s.QuoteAsset,
	}

	for i := range s.Filters {
		f := &s.Filters[i]
		switch f.FilterType {
		case FilterLotSize:
			var err error
			if r.StepSize, err = parseField(f.StepSize, "stepSize"); err != nil {
				return nil, err
			}
			if r.MinQty, err = parseField(f.MinQty, "minQty"); err != nil {
				return nil, err
			}
			if r.MaxQty, err = parseField(f.MaxQty, "maxQty"); err != nil {
				return nil, err
			}
		case FilterPriceFilter:
			var err error
			if r.TickSize, err = parseField(f.TickSize, "tickSize"); err != nil {
				return nil, err
			}
			if r.MinPrice, err = parseField(f.MinPrice, "minPrice"); err != nil {
				return nil, err
			}
			if r.MaxPrice, err = parseField(f.MaxPrice, "maxPrice"); err != nil {
				return nil, err
			}
		case FilterMinNotional, FilterNotional:
			// Spot uses MIN_NOTIONAL.minNotional, futures uses either
			// filter name with either field name. First positive value wins.
			if r.MinNotional.IsPositive() {
				continue
			}
			v, err := firstPositive(f.MinNotional, f.Notional)
			if err != nil {
				return nil, fmt.Errorf("rules: %s filter: %w", f.FilterType, err)
			}
			r.MinNotional = v
		}
	}

	return r, nil
}

func parseField(raw, name string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("rules: bad %s %q: %w", name, raw, err)
	}
	return v, nil
}

func firstPositive(raws ...string) (decimal.Decimal, error) {
	for _, raw := range raws {
		if raw == "" {
			continue
		}
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, fmt.Errorf("bad notional value %q: %w", raw, err)
		}
		if v.IsPositive() {
			return v, nil
		}
	}
	return decimal.Zero, nil
}
