package engine

import (
	"math"

	"github.com/shopspring/decimal"
)

// StepPrecision derives the number of decimal digits implied by an
// exchange step or tick value of the form 10^-k. Returns 0 for
// non-positive steps.
func StepPrecision(step decimal.Decimal) int32 {
	if !step.IsPositive() {
		return 0
	}
	f, _ := step.Float64()
	p := int32(math.Round(-math.Log10(f)))
	if p < 0 {
		p = 0
	}
	return p
}

// TruncateToStep floors a quantity onto the step grid and formats it with
// the step's implied precision. Always rounds toward zero, never up, so a
// truncated order can never exceed the funds the raw quantity was sized
// against. A non-positive step leaves the quantity untouched.
func TruncateToStep(quantity, step decimal.Decimal) (decimal.Decimal, string) {
	if !step.IsPositive() {
		return quantity, quantity.String()
	}
	truncated := quantity.Div(step).Floor().Mul(step)
	return truncated, truncated.StringFixed(StepPrecision(step))
}

// RoundToTick rounds a price to the precision implied by the tick size.
// Unknown ticks fall back to 8 decimals, the exchange maximum.
func RoundToTick(price, tick decimal.Decimal) decimal.Decimal {
	precision := int32(8)
	if tick.IsPositive() {
		precision = StepPrecision(tick)
	}
	return price.Round(precision)
}
