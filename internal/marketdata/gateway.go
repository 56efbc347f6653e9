// Package marketdata collapses exchange-specific account, rule, price and
// position shapes into the uniform snapshot the validation engine consumes.
//
// Every snapshot is fetched fresh per validation call — symbol rules are
// never cached across requests, so a rule change on the exchange is picked
// up on the next signal rather than silently ignored.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/tradewire/order-engine/internal/model"
)

var (
	// ErrPriceUnavailable is returned when the exchange ticker has no
	// usable positive price for the symbol.
	ErrPriceUnavailable = errors.New("marketdata: price unavailable")
)

// MarketData is the consumer-side contract for exchange reads and the one
// ordering-sensitive side effect (set leverage). Implemented by the
// exchange client and by test fakes.
type MarketData interface {
	// Balances returns available balance per asset: free wallet balances
	// for spot, available margin balances for futures.
	Balances(ctx context.Context, market model.MarketType) (map[string]decimal.Decimal, error)

	// SymbolRules fetches the symbol's current trading constraints.
	SymbolRules(ctx context.Context, symbol string, market model.MarketType) (*model.SymbolRules, error)

	// Price returns the current ticker price for the symbol.
	Price(ctx context.Context, symbol string, market model.MarketType) (decimal.Decimal, error)

	// OpenPosition returns the signed open-position quantity for the
	// symbol (positive = long, negative = short, zero = none).
	OpenPosition(ctx context.Context, symbol string) (decimal.Decimal, error)

	// SetLeverage changes the symbol's leverage. Best effort: callers log
	// a failure as a warning instead of rejecting the order.
	SetLeverage(ctx context.Context, symbol string, leverage int) error
}

// Snapshot is one complete, consistent view of the market state an intent
// is validated against. No validation step ever observes a partial snapshot.
type Snapshot struct {
	Rules    *model.SymbolRules
	Price    decimal.Decimal
	Balances map[string]decimal.Decimal

	// Position is the signed open-position size. Populated only for
	// close-position intents.
	Position decimal.Decimal
}

// Available returns the available balance for one asset, zero if absent.
func (s *Snapshot) Available(asset string) decimal.Decimal {
	return s.Balances[asset]
}

// Gateway fetches snapshots from a MarketData source. The independent
// reads are issued concurrently and joined before the snapshot is returned.
type Gateway struct {
	source MarketData
}

// NewGateway creates a gateway over the given market data source.
func NewGateway(source MarketData) *Gateway {
	return &Gateway{source: source}
}

// Fetch assembles the snapshot for one intent: symbol rules, balances,
// reference price (skipped when the intent carries an explicit price) and,
// for closes, the open position. Any fetch failure fails the whole snapshot.
func (g *Gateway) Fetch(ctx context.Context, intent *model.TradeIntent) (*Snapshot, error) {
	market := intent.Direction.MarketType()
	snap := &Snapshot{Price: intent.Price}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs []error

	fail := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		r, err := g.source.SymbolRules(ctx, intent.Symbol, market)
		if err != nil {
			fail(fmt.Errorf("symbol rules for %s: %w", intent.Symbol, err))
			return
		}
		snap.Rules = r
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		b, err := g.source.Balances(ctx, market)
		if err != nil {
			fail(fmt.Errorf("%s balances: %w", market, err))
			return
		}
		snap.Balances = b
	}()

	if !intent.Price.IsPositive() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := g.source.Price(ctx, intent.Symbol, market)
			if err != nil {
				fail(fmt.Errorf("price for %s: %w", intent.Symbol, err))
				return
			}
			if !p.IsPositive() {
				fail(fmt.Errorf("%w: %s returned %s", ErrPriceUnavailable, intent.Symbol, p))
				return
			}
			snap.Price = p
		}()
	}

	if intent.ClosePosition && intent.Direction.Leveraged() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pos, err := g.source.OpenPosition(ctx, intent.Symbol)
			if err != nil {
				fail(fmt.Errorf("open position for %s: %w", intent.Symbol, err))
				return
			}
			snap.Position = pos
		}()
	}

	wg.Wait()

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return snap, nil
}
