package calculator

import (
	"testing"
	"time"

	"SweepSentinel/internal/model"

	"github.com/shopspring/decimal"
)

func bar(h, l float64) model.Bar {
	return model.Bar{Time: time.Unix(0, 0), High: decimal.NewFromFloat(h), Low: decimal.NewFromFloat(l)}
}

func TestRangeHighLow(t *testing.T) {
	bars := []model.Bar{bar(10, 8), bar(12, 9), bar(11, 7), bar(15, 10)}
	h, l, err := RangeHighLow(bars, 0, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !h.Equal(decimal.NewFromInt(12)) || !l.Equal(decimal.NewFromInt(7)) {
		t.Errorf("expected 12/7, got %s/%s", h, l)
	}
	if _, _, err := RangeHighLow(bars, 2, 2); err == nil {
		t.Error("expected error for empty range")
	}
	if _, _, err := RangeHighLow(bars, 0, 5); err == nil {
		t.Error("expected error for out-of-bounds range")
	}
}

func TestToleranceBands(t *testing.T) {
	level := decimal.NewFromInt(105)
	if got := Above(level); !got.Equal(decimal.RequireFromString("105.105")) {
		t.Errorf("Above: expected 105.105, got %s", got)
	}
	if got := Below(level); !got.Equal(decimal.RequireFromString("104.895")) {
		t.Errorf("Below: expected 104.895, got %s", got)
	}
}

func TestFraction(t *testing.T) {
	got := Fraction(decimal.NewFromInt(3), decimal.NewFromInt(200))
	if !got.Equal(decimal.RequireFromString("0.015")) {
		t.Errorf("expected 0.015, got %s", got)
	}
	if !Fraction(decimal.NewFromInt(3), decimal.Zero).IsZero() {
		t.Error("expected zero for non-positive base")
	}
}
