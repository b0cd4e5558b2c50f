package pattern

import (
	"testing"
	"time"

	"SweepSentinel/internal/model"

	"github.com/shopspring/decimal"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type ohlc struct{ h, l, c float64 }

func makeBars(vals ...ohlc) []model.Bar {
	out := make([]model.Bar, len(vals))
	for i, v := range vals {
		out[i] = model.Bar{
			Resolution: model.Resolution5M,
			Time:       t0.Add(time.Duration(i) * 5 * time.Minute),
			Open:       decimal.NewFromFloat(v.c),
			High:       decimal.NewFromFloat(v.h),
			Low:        decimal.NewFromFloat(v.l),
			Close:      decimal.NewFromFloat(v.c),
		}
	}
	return out
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestChange_Bullish(t *testing.T) {
	bars := makeBars(
		ohlc{101, 99, 100}, ohlc{100.5, 99, 100}, ohlc{100.8, 99.5, 100}, ohlc{100.2, 99, 99.8}, ohlc{100.4, 99.2, 100},
		ohlc{101.5, 100, 101.3},
	)
	mark, ok := Change(bars, model.BiasBullish)
	if !ok {
		t.Fatal("expected bullish change: 101.3 > 101 * 1.001")
	}
	if !mark.Price.Equal(d("101.3")) || !mark.Time.Equal(bars[5].Time) {
		t.Errorf("unexpected mark %+v", mark)
	}
	if _, ok := Change(bars, model.BiasBearish); ok {
		t.Error("bearish change should not fire on an up-break")
	}
}

func TestChange_InsideTolerance(t *testing.T) {
	bars := makeBars(
		ohlc{101, 99, 100}, ohlc{100, 99, 100}, ohlc{100, 99, 100}, ohlc{100, 99, 100}, ohlc{100, 99, 100},
		ohlc{101.2, 100, 101.05},
	)
	if _, ok := Change(bars, model.BiasBullish); ok {
		t.Error("101.05 is inside 101 * 1.001 and must not count")
	}
}

func TestChange_Bearish(t *testing.T) {
	bars := makeBars(
		ohlc{101, 99, 100}, ohlc{101, 99.5, 100}, ohlc{101, 99.2, 100}, ohlc{101, 99.4, 100}, ohlc{101, 99.6, 100},
		ohlc{100, 98.5, 98.8},
	)
	mark, ok := Change(bars, model.BiasBearish)
	if !ok || !mark.Price.Equal(d("98.8")) {
		t.Fatalf("expected bearish change at 98.8, got %+v %v", mark, ok)
	}
}

func TestChange_NotEnoughBars(t *testing.T) {
	bars := makeBars(ohlc{101, 99, 100}, ohlc{100, 99, 100}, ohlc{110, 100, 109})
	if _, ok := Change(bars, model.BiasBullish); ok {
		t.Error("expected no change with fewer than 6 bars")
	}
}

func TestGap_BullishZone(t *testing.T) {
	bars := makeBars(ohlc{200, 198, 199}, ohlc{204, 199, 203.5}, ohlc{205, 203, 204})
	zone, ok := Gap(bars, model.BiasBullish, time.Time{})
	if !ok {
		t.Fatal("expected bullish gap")
	}
	if !zone.Low.Equal(d("200")) || !zone.High.Equal(d("203")) || !zone.FormedAt.Equal(bars[2].Time) {
		t.Errorf("expected zone [200,203] at bar 2, got %+v", zone)
	}
	if _, ok := Gap(bars, model.BiasBearish, time.Time{}); ok {
		t.Error("bearish gap should not be found")
	}
}

func TestGap_TooSmall(t *testing.T) {
	// 200.1 - 200 = 0.05% of 200
	bars := makeBars(ohlc{200, 198, 199}, ohlc{201, 199, 200.5}, ohlc{202, 200.1, 201})
	if _, ok := Gap(bars, model.BiasBullish, time.Time{}); ok {
		t.Error("gap under 0.1% must be ignored")
	}
}

func TestGap_BearishMostRecent(t *testing.T) {
	bars := makeBars(
		ohlc{102, 100, 100.5}, ohlc{100, 97, 97.5}, ohlc{98, 96, 96.5}, // older gap [98,100]
		ohlc{97, 95, 95.5}, ohlc{95, 92, 92.5}, ohlc{93, 91, 91.5}, // newer gap [93,95]
	)
	zone, ok := Gap(bars, model.BiasBearish, time.Time{})
	if !ok {
		t.Fatal("expected bearish gap")
	}
	if !zone.Low.Equal(d("93")) || !zone.High.Equal(d("95")) {
		t.Errorf("expected most recent zone [93,95], got [%s,%s]", zone.Low, zone.High)
	}
}

func TestGap_RespectsNotBefore(t *testing.T) {
	bars := makeBars(ohlc{200, 198, 199}, ohlc{204, 199, 203.5}, ohlc{205, 203, 204}, ohlc{205, 203.5, 204})
	if _, ok := Gap(bars, model.BiasBullish, bars[1].Time); ok {
		t.Error("gap whose first bar precedes notBefore must be ignored")
	}
}

func TestFill(t *testing.T) {
	bars := makeBars(ohlc{200, 198, 199}, ohlc{204, 199, 203.5}, ohlc{205, 203, 204}, ohlc{206, 204, 205}, ohlc{205, 202.5, 203})
	zone := model.GapZone{Low: d("200"), High: d("203"), FormedAt: bars[2].Time}
	mark, ok := Fill(bars, zone, model.BiasBullish)
	if !ok {
		t.Fatal("expected fill")
	}
	if !mark.Price.Equal(d("202.5")) || !mark.Time.Equal(bars[4].Time) {
		t.Errorf("expected fill at 202.5 on bar 4, got %+v", mark)
	}
	if _, ok := Fill(bars[:4], zone, model.BiasBullish); ok {
		t.Error("no bar after the zone entered it yet")
	}
}

func TestFill_Bearish(t *testing.T) {
	bars := makeBars(ohlc{97, 95, 95.5}, ohlc{95, 92, 92.5}, ohlc{93, 91, 91.5}, ohlc{94, 90, 93.5})
	zone := model.GapZone{Low: d("93"), High: d("95"), FormedAt: bars[2].Time}
	mark, ok := Fill(bars, zone, model.BiasBearish)
	if !ok || !mark.Price.Equal(d("94")) {
		t.Fatalf("expected bearish fill at 94, got %+v %v", mark, ok)
	}
}

func TestBreak(t *testing.T) {
	level := d("100")
	tests := []struct {
		name  string
		close float64
		bias  model.Bias
		want  bool
	}{
		{"bullish above band", 100.2, model.BiasBullish, true},
		{"bullish inside band", 100.1, model.BiasBullish, false},
		{"bearish below band", 99.8, model.BiasBearish, true},
		{"bearish inside band", 99.95, model.BiasBearish, false},
	}
	for _, tt := range tests {
		bars := makeBars(ohlc{tt.close + 1, tt.close - 1, tt.close})
		_, got := Break(bars, tt.bias, level)
		if got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
	if _, ok := Break(nil, model.BiasBullish, level); ok {
		t.Error("no bars must not break")
	}
}
