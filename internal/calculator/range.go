package calculator

import (
	"errors"

	"SweepSentinel/internal/model"

	"github.com/shopspring/decimal"
)

// Tolerance is the 0.1% band used by every breach and breakout rule.
var Tolerance = decimal.RequireFromString("0.001")

var one = decimal.NewFromInt(1)

// Above returns level·(1+Tolerance).
func Above(level decimal.Decimal) decimal.Decimal {
	return level.Mul(one.Add(Tolerance))
}

// Below returns level·(1-Tolerance).
func Below(level decimal.Decimal) decimal.Decimal {
	return level.Mul(one.Sub(Tolerance))
}

// RangeHighLow scans bars[start:end] and returns the highest high and lowest low.
func RangeHighLow(bars []model.Bar, start, end int) (high, low decimal.Decimal, err error) {
	if start < 0 || end > len(bars) || start >= end {
		return decimal.Zero, decimal.Zero, errors.New("empty bar range")
	}
	high = bars[start].High
	low = bars[start].Low
	for i := start + 1; i < end; i++ {
		if bars[i].High.GreaterThan(high) {
			high = bars[i].High
		}
		if bars[i].Low.LessThan(low) {
			low = bars[i].Low
		}
	}
	return high, low, nil
}

// Fraction returns diff/base, or zero when base is not positive.
func Fraction(diff, base decimal.Decimal) decimal.Decimal {
	if !base.IsPositive() {
		return decimal.Zero
	}
	return diff.Div(base)
}
