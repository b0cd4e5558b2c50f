package swing

import (
	"context"
	"testing"
	"time"

	"SweepSentinel/internal/clock"
	"SweepSentinel/internal/model"
	"SweepSentinel/internal/store"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var t0 = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

// makeBars builds 4H bars from (high, low) pairs.
func makeBars(hl ...[2]float64) []model.Bar {
	out := make([]model.Bar, len(hl))
	for i, v := range hl {
		out[i] = model.Bar{
			Resolution: model.Resolution4H,
			Time:       t0.Add(time.Duration(i) * 4 * time.Hour),
			High:       decimal.NewFromFloat(v[0]),
			Low:        decimal.NewFromFloat(v[1]),
			Close:      decimal.NewFromFloat((v[0] + v[1]) / 2),
		}
	}
	return out
}

func TestScan_HighFromFiveBars(t *testing.T) {
	bars := makeBars([2]float64{100, 95}, [2]float64{102, 96}, [2]float64{105, 97}, [2]float64{101, 96}, [2]float64{99, 95})
	levels := Scan(bars, model.Resolution4H)
	if len(levels) != 1 {
		t.Fatalf("expected 1 swing, got %d", len(levels))
	}
	got := levels[0]
	if got.Direction != model.DirectionHigh || !got.Price.Equal(decimal.NewFromInt(105)) || !got.Time.Equal(bars[2].Time) {
		t.Errorf("expected HIGH 105 at bar 2, got %+v", got)
	}
}

func TestScan_Low(t *testing.T) {
	bars := makeBars([2]float64{110, 100}, [2]float64{109, 99}, [2]float64{108, 96}, [2]float64{109, 98}, [2]float64{110, 99})
	levels := Scan(bars, model.Resolution4H)
	if len(levels) != 1 || levels[0].Direction != model.DirectionLow || !levels[0].Price.Equal(decimal.NewFromInt(96)) {
		t.Fatalf("expected LOW 96, got %+v", levels)
	}
}

func TestScan_ComparesOnlyTwoBarsAway(t *testing.T) {
	// bar 1 (104) exceeds bar 2 (103), but bar 2 still beats bars 0 and 4.
	bars := makeBars([2]float64{100, 90}, [2]float64{104, 91}, [2]float64{103, 92}, [2]float64{101, 91}, [2]float64{99, 90})
	levels := Scan(bars, model.Resolution4H)
	if len(levels) != 1 || !levels[0].Price.Equal(decimal.NewFromInt(103)) {
		t.Fatalf("expected HIGH 103, got %+v", levels)
	}
}

func TestScan_EqualHighIsNotSwing(t *testing.T) {
	bars := makeBars([2]float64{105, 95}, [2]float64{102, 96}, [2]float64{105, 97}, [2]float64{101, 96}, [2]float64{99, 95})
	for _, lvl := range Scan(bars, model.Resolution4H) {
		if lvl.Direction == model.DirectionHigh {
			t.Fatalf("equal high must not qualify, got %+v", lvl)
		}
	}
}

func TestScan_TooFewBars(t *testing.T) {
	bars := makeBars([2]float64{100, 95}, [2]float64{105, 96}, [2]float64{100, 95}, [2]float64{99, 94})
	if levels := Scan(bars, model.Resolution4H); levels != nil {
		t.Errorf("expected nil for 4 bars, got %+v", levels)
	}
	if levels := Scan(nil, model.Resolution4H); levels != nil {
		t.Errorf("expected nil for no bars, got %+v", levels)
	}
}

func newTracker() (*Tracker, *store.MemoryStore) {
	s := store.NewMemoryStore()
	return NewTracker(s, clock.NewManual(t0), zerolog.Nop()), s
}

func TestUpdate_KeepsMostRecentAndIsIdempotent(t *testing.T) {
	tr, s := newTracker()
	ctx := context.Background()
	bars := makeBars(
		[2]float64{100, 95}, [2]float64{102, 96}, [2]float64{105, 97}, [2]float64{101, 96},
		[2]float64{99, 94}, [2]float64{103, 97}, [2]float64{108, 98}, [2]float64{104, 97}, [2]float64{100, 96},
	)

	committed, err := tr.Update(ctx, bars, model.Resolution4H)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	high, _ := s.ActiveSwing(ctx, model.Resolution4H, model.DirectionHigh)
	if high == nil || !high.Price.Equal(decimal.NewFromInt(108)) {
		t.Fatalf("expected most recent HIGH 108 active, got %+v", high)
	}
	if len(committed) == 0 {
		t.Fatal("expected committed levels")
	}

	// Same window again: nothing new.
	again, err := tr.Update(ctx, bars, model.Resolution4H)
	if err != nil {
		t.Fatalf("second update: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("expected no commits on re-scan, got %d", len(again))
	}
	still, _ := s.ActiveSwing(ctx, model.Resolution4H, model.DirectionHigh)
	if still.ID != high.ID {
		t.Errorf("active HIGH should be unchanged, was %s now %s", high.ID, still.ID)
	}

	// An older window must not regress the active level.
	if _, err := tr.Update(ctx, bars[:5], model.Resolution4H); err != nil {
		t.Fatalf("older update: %v", err)
	}
	still, _ = s.ActiveSwing(ctx, model.Resolution4H, model.DirectionHigh)
	if still.ID != high.ID {
		t.Error("older scan replaced a newer active level")
	}
}

func TestUpdate_NotEnoughBarsIsNoop(t *testing.T) {
	tr, s := newTracker()
	ctx := context.Background()
	committed, err := tr.Update(ctx, makeBars([2]float64{100, 95}, [2]float64{105, 96}), model.Resolution4H)
	if err != nil || committed != nil {
		t.Fatalf("expected silent no-op, got %v / %v", committed, err)
	}
	if lvl, _ := s.ActiveSwing(ctx, model.Resolution4H, model.DirectionHigh); lvl != nil {
		t.Errorf("expected no level, got %+v", lvl)
	}
}
