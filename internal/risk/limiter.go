// Package risk enforces notional exposure limits across executed orders.
//
// Symbols trading the same underlying (BTCUSDT, BTCUSDC, BTCEUR) carry
// correlated risk: a signal source misfiring across all of them multiplies
// the real exposure. The limiter tracks executed notional per symbol and
// aggregates it per base asset to cap both.
package risk

import (
	"errors"
	"sync"

	"github.com/shopspring/decimal"
)

var (
	// ErrSymbolLimitExceeded is returned when an order would push a single
	// symbol's executed notional beyond the per-symbol maximum.
	ErrSymbolLimitExceeded = errors.New("risk: per-symbol exposure limit exceeded")

	// ErrCorrelatedLimitExceeded is returned when an order would push the
	// aggregate notional across symbols sharing a base asset beyond the
	// correlated maximum.
	ErrCorrelatedLimitExceeded = errors.New("risk: correlated exposure limit exceeded")
)

// ExposureLimiter caps the running notional exposure this process has
// submitted to the exchange. A zero limit disables that axis.
//
// Exposure is tracked in the quote currency and only grows; closing trades
// reduce it via Release. State is in-memory per process, a deliberate
// scope: the limiter guards against runaway signal sources, not against
// positions opened elsewhere.
type ExposureLimiter struct {
	// MaxPerSymbol is the maximum executed notional in any single symbol.
	MaxPerSymbol decimal.Decimal

	// MaxPerBase is the maximum aggregate notional across all symbols
	// sharing the same base asset.
	MaxPerBase decimal.Decimal

	mu       sync.Mutex
	bySymbol map[string]decimal.Decimal
	baseOf   map[string]string
}

// NewExposureLimiter creates a limiter with the given per-symbol and
// correlated exposure caps. Zero disables the corresponding cap.
func NewExposureLimiter(maxPerSymbol, maxPerBase decimal.Decimal) *ExposureLimiter {
	return &ExposureLimiter{
		MaxPerSymbol: maxPerSymbol,
		MaxPerBase:   maxPerBase,
		bySymbol:     make(map[string]decimal.Decimal),
		baseOf:       make(map[string]string),
	}
}

// Check reports whether adding notional exposure on the symbol stays
// within both limits. It does not record anything; call Record once the
// order is actually executed.
func (l *ExposureLimiter) Check(symbol, baseAsset string, notional decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	newInSymbol := l.bySymbol[symbol].Add(notional)
	if l.MaxPerSymbol.IsPositive() && newInSymbol.GreaterThan(l.MaxPerSymbol) {
		return ErrSymbolLimitExceeded
	}

	if l.MaxPerBase.IsPositive() {
		total := newInSymbol
		for sym, exposure := range l.bySymbol {
			if sym == symbol {
				continue // already counted via newInSymbol above
			}
			if l.baseOf[sym] == baseAsset {
				total = total.Add(exposure)
			}
		}
		if total.GreaterThan(l.MaxPerBase) {
			return ErrCorrelatedLimitExceeded
		}
	}

	return nil
}

// Record adds executed notional exposure on the symbol.
func (l *ExposureLimiter) Record(symbol, baseAsset string, notional decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.bySymbol[symbol] = l.bySymbol[symbol].Add(notional)
	l.baseOf[symbol] = baseAsset
}

// Release subtracts closed notional exposure on the symbol, flooring at
// zero so a close larger than the tracked exposure cannot go negative.
func (l *ExposureLimiter) Release(symbol string, notional decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	remaining := l.bySymbol[symbol].Sub(notional)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	l.bySymbol[symbol] = remaining
}

// Exposure returns the tracked notional for one symbol.
func (l *ExposureLimiter) Exposure(symbol string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bySymbol[symbol]
}
