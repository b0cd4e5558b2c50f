// Package pattern holds the stateless fine-resolution detectors that drive the
// confirmation stages: change of character, 3-bar gap, gap fill and break of
// structure. Every detector takes bars oldest first.
package pattern

import (
	"time"

	"SweepSentinel/internal/calculator"
	"SweepSentinel/internal/model"

	"github.com/shopspring/decimal"
)

// ChangeLookback is the number of bars preceding the latest one that a change
// of character must clear.
const ChangeLookback = 5

// Change reports whether the latest bar's close breaks the extreme of the
// preceding ChangeLookback bars by more than the tolerance in the bias
// direction. The mark is the latest close.
func Change(bars []model.Bar, bias model.Bias) (model.Mark, bool) {
	n := len(bars)
	if n < ChangeLookback+1 {
		return model.Mark{}, false
	}
	high, low, err := calculator.RangeHighLow(bars, n-1-ChangeLookback, n-1)
	if err != nil {
		return model.Mark{}, false
	}
	last := bars[n-1]
	if crosses(last.Close, high, low, bias) {
		return model.Mark{Price: last.Close, Time: last.Time}, true
	}
	return model.Mark{}, false
}

// crosses is the shared breakout rule: BULLISH above up·(1+tol), BEARISH
// below down·(1-tol).
func crosses(price, up, down decimal.Decimal, bias model.Bias) bool {
	switch bias {
	case model.BiasBullish:
		return up.IsPositive() && price.GreaterThan(calculator.Above(up))
	case model.BiasBearish:
		return down.IsPositive() && price.LessThan(calculator.Below(down))
	}
	return false
}

// Gap finds the most recent qualifying 3-bar imbalance whose first bar is not
// before notBefore. BULLISH needs c1.high < c3.low, BEARISH c1.low > c3.high,
// and the gap must exceed the tolerance as a fraction of c1's edge.
func Gap(bars []model.Bar, bias model.Bias, notBefore time.Time) (model.GapZone, bool) {
	for i := len(bars) - 1; i >= 2; i-- {
		c1, c3 := bars[i-2], bars[i]
		if c1.Time.Before(notBefore) {
			break
		}
		switch bias {
		case model.BiasBullish:
			if c1.High.LessThan(c3.Low) && calculator.Fraction(c3.Low.Sub(c1.High), c1.High).GreaterThan(calculator.Tolerance) {
				return model.GapZone{Low: c1.High, High: c3.Low, FormedAt: c3.Time}, true
			}
		case model.BiasBearish:
			if c1.Low.GreaterThan(c3.High) && calculator.Fraction(c1.Low.Sub(c3.High), c1.Low).GreaterThan(calculator.Tolerance) {
				return model.GapZone{Low: c3.High, High: c1.Low, FormedAt: c3.Time}, true
			}
		}
	}
	return model.GapZone{}, false
}

// Fill finds the first bar after the zone formed that trades back into it: a
// low at or under the zone top for BULLISH, a high at or over the zone bottom
// for BEARISH. The mark is that low or high.
func Fill(bars []model.Bar, zone model.GapZone, bias model.Bias) (model.Mark, bool) {
	for _, b := range bars {
		if !b.Time.After(zone.FormedAt) {
			continue
		}
		switch bias {
		case model.BiasBullish:
			if b.Low.LessThanOrEqual(zone.High) {
				return model.Mark{Price: b.Low, Time: b.Time}, true
			}
		case model.BiasBearish:
			if b.High.GreaterThanOrEqual(zone.Low) {
				return model.Mark{Price: b.High, Time: b.Time}, true
			}
		}
	}
	return model.Mark{}, false
}

// Break reports whether the latest close crosses level by more than the
// tolerance in the bias direction. level is the change-stage price.
func Break(bars []model.Bar, bias model.Bias, level decimal.Decimal) (model.Mark, bool) {
	if len(bars) == 0 {
		return model.Mark{}, false
	}
	last := bars[len(bars)-1]
	if crosses(last.Close, level, level, bias) {
		return model.Mark{Price: last.Close, Time: last.Time}, true
	}
	return model.Mark{}, false
}
