// Package sweep holds the pure predicates that decide whether a swing level
// has been breached and which bias a breach implies.
package sweep

import (
	"fmt"

	"SweepSentinel/internal/calculator"
	"SweepSentinel/internal/model"

	"github.com/shopspring/decimal"
)

// Breach reports whether price has swept level on the given side.
// Missing or non-positive inputs never breach.
func Breach(price, level decimal.Decimal, dir model.Direction) bool {
	if !price.IsPositive() || !level.IsPositive() {
		return false
	}
	switch dir {
	case model.DirectionHigh:
		return price.GreaterThan(calculator.Above(level))
	case model.DirectionLow:
		return price.LessThan(calculator.Below(level))
	default:
		return false
	}
}

// BiasFor maps a swept side to its bias. A sweep of highs is bearish, a sweep
// of lows bullish. Any other direction is a programming error upstream.
func BiasFor(dir model.Direction) model.Bias {
	switch dir {
	case model.DirectionHigh:
		return model.BiasBearish
	case model.DirectionLow:
		return model.BiasBullish
	}
	panic(fmt.Sprintf("sweep: unknown direction %q", dir))
}
