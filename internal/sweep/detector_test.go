package sweep

import (
	"testing"

	"SweepSentinel/internal/model"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestBreach(t *testing.T) {
	tests := []struct {
		name  string
		price string
		level string
		dir   model.Direction
		want  bool
	}{
		{"high swept beyond tolerance", "105.2", "105", model.DirectionHigh, true},
		{"high exactly at threshold", "105.105", "105", model.DirectionHigh, false},
		{"high inside tolerance", "105.1", "105", model.DirectionHigh, false},
		{"low swept beyond tolerance", "104.8", "105", model.DirectionLow, true},
		{"low exactly at threshold", "104.895", "105", model.DirectionLow, false},
		{"low above level", "106", "105", model.DirectionLow, false},
		{"zero price", "0", "105", model.DirectionHigh, false},
		{"negative level", "105.2", "-1", model.DirectionHigh, false},
		{"unknown direction", "200", "105", model.Direction("SIDE"), false},
	}
	for _, tt := range tests {
		if got := Breach(d(tt.price), d(tt.level), tt.dir); got != tt.want {
			t.Errorf("%s: Breach(%s, %s, %s) = %v, want %v", tt.name, tt.price, tt.level, tt.dir, got, tt.want)
		}
	}
}

func TestBreach_ZeroValueDecimal(t *testing.T) {
	var missing decimal.Decimal
	if Breach(missing, d("100"), model.DirectionLow) {
		t.Error("missing price must not breach")
	}
}

func TestBiasFor(t *testing.T) {
	if BiasFor(model.DirectionHigh) != model.BiasBearish {
		t.Error("HIGH sweep should be bearish")
	}
	if BiasFor(model.DirectionLow) != model.BiasBullish {
		t.Error("LOW sweep should be bullish")
	}
}

func TestBiasFor_UnknownDirectionPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for unknown direction")
		}
	}()
	BiasFor(model.Direction("MID"))
}
