package risk

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestCheck_WithinLimits(t *testing.T) {
	limiter := NewExposureLimiter(d(1000), d(5000))

	if err := limiter.Check("BTCUSDT", "BTC", d(100)); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCheck_PerSymbolExceeded(t *testing.T) {
	limiter := NewExposureLimiter(d(1000), d(5000))
	limiter.Record("BTCUSDT", "BTC", d(950))

	// Existing 950 + new 100 = 1050 > 1000.
	if err := limiter.Check("BTCUSDT", "BTC", d(100)); err != ErrSymbolLimitExceeded {
		t.Errorf("expected ErrSymbolLimitExceeded, got %v", err)
	}
}

func TestCheck_CorrelatedExceeded(t *testing.T) {
	// BTCUSDT and BTCUSDC share the BTC underlying.
	limiter := NewExposureLimiter(d(1000), d(1500))
	limiter.Record("BTCUSDT", "BTC", d(800))
	limiter.Record("BTCUSDC", "BTC", d(600))

	// 800 + 600 + 200 = 1600 > 1500.
	if err := limiter.Check("BTCEUR", "BTC", d(200)); err != ErrCorrelatedLimitExceeded {
		t.Errorf("expected ErrCorrelatedLimitExceeded, got %v", err)
	}
}

func TestCheck_OtherBaseAssetsIgnored(t *testing.T) {
	limiter := NewExposureLimiter(d(1000), d(1500))
	limiter.Record("BTCUSDT", "BTC", d(800))
	limiter.Record("ETHUSDT", "ETH", d(900))

	// BTC total = 800 + 500 = 1300 < 1500; the ETH exposure is unrelated.
	if err := limiter.Check("BTCUSDC", "BTC", d(500)); err != nil {
		t.Errorf("other base assets must be ignored, got %v", err)
	}
}

func TestCheck_ZeroLimitsDisabled(t *testing.T) {
	limiter := NewExposureLimiter(decimal.Zero, decimal.Zero)
	limiter.Record("BTCUSDT", "BTC", d(1000000))

	if err := limiter.Check("BTCUSDT", "BTC", d(1000000)); err != nil {
		t.Errorf("zero limits must disable the check, got %v", err)
	}
}

func TestRelease_FloorsAtZero(t *testing.T) {
	limiter := NewExposureLimiter(d(1000), d(5000))
	limiter.Record("BTCUSDT", "BTC", d(300))
	limiter.Release("BTCUSDT", d(500))

	if got := limiter.Exposure("BTCUSDT"); !got.IsZero() {
		t.Errorf("exposure must floor at zero, got %s", got)
	}

	// Headroom is fully restored.
	if err := limiter.Check("BTCUSDT", "BTC", d(1000)); err != nil {
		t.Errorf("expected full headroom after release, got %v", err)
	}
}

func TestRecordRelease_Roundtrip(t *testing.T) {
	limiter := NewExposureLimiter(d(1000), d(5000))

	limiter.Record("BTCUSDT", "BTC", d(600))
	if err := limiter.Check("BTCUSDT", "BTC", d(500)); err != ErrSymbolLimitExceeded {
		t.Fatalf("expected ErrSymbolLimitExceeded at 1100, got %v", err)
	}

	limiter.Release("BTCUSDT", d(200))
	if err := limiter.Check("BTCUSDT", "BTC", d(500)); err != nil {
		t.Errorf("expected 900 to pass after release, got %v", err)
	}
}
