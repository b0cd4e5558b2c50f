package bias

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"SweepSentinel/internal/clock"
	"SweepSentinel/internal/model"
	"SweepSentinel/internal/store"
	"SweepSentinel/internal/swing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var t0 = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeSource struct {
	bars     []model.Bar
	price    decimal.Decimal
	priceErr error
}

func (f *fakeSource) Bars(model.Resolution, int) ([]model.Bar, error) { return f.bars, nil }

func (f *fakeSource) CurrentPrice() (decimal.Decimal, error) { return f.price, f.priceErr }

func newScanner(st store.Store, src Source, clk clock.Clock) *Scanner {
	return NewScanner(st, src, swing.NewTracker(st, clk, zerolog.Nop()), clk, 0, zerolog.Nop())
}

func seedLevel(t *testing.T, st store.Store, id string, dir model.Direction, price string) *model.SwingLevel {
	t.Helper()
	lvl := &model.SwingLevel{
		ID:         id,
		Resolution: model.Resolution4H,
		Direction:  dir,
		Price:      d(price),
		Time:       t0.Add(-8 * time.Hour),
		CreatedAt:  t0.Add(-8 * time.Hour),
	}
	if err := st.ReplaceSwing(context.Background(), lvl); err != nil {
		t.Fatalf("seed level: %v", err)
	}
	return lvl
}

func TestTick_SweepOfHigh(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	old := seedLevel(t, st, "old-low", model.DirectionLow, "90")
	prior := &model.SweepEvent{ID: "prior", Direction: model.DirectionLow, Price: d("89"), Bias: model.BiasBullish, SwingID: old.ID, SwingPrice: old.Price, Time: t0.Add(-25 * time.Hour)}
	if err := st.OpenSweep(ctx, prior, model.NewSequence("prior-seq", "prior", model.BiasBullish, prior.Time)); err != nil {
		t.Fatalf("open prior: %v", err)
	}
	seedLevel(t, st, "h1", model.DirectionHigh, "105")

	s := newScanner(st, &fakeSource{price: d("105.2")}, clock.NewManual(t0))
	ev, err := s.Tick(ctx)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if ev == nil {
		t.Fatal("expected a sweep")
	}
	if ev.Direction != model.DirectionHigh || ev.Bias != model.BiasBearish || !ev.Price.Equal(d("105.2")) || ev.SwingID != "h1" {
		t.Errorf("unexpected sweep %+v", ev)
	}

	active, _ := st.ActiveSweep(ctx)
	if active == nil || active.ID != ev.ID {
		t.Fatalf("expected new sweep active, got %+v", active)
	}
	if p, _ := st.SweepByID(ctx, "prior"); p.Active {
		t.Error("prior sweep should be deactivated")
	}
	seqs, _ := st.ActiveSequences(ctx)
	var found bool
	for _, seq := range seqs {
		if seq.SweepID == ev.ID {
			found = true
			if seq.Stage != model.StageAwaitingChange || seq.Bias != model.BiasBearish {
				t.Errorf("unexpected sequence %+v", seq)
			}
		}
	}
	if !found {
		t.Error("no sequence opened for the sweep")
	}
}

func TestTick_Threshold(t *testing.T) {
	tests := []struct {
		price string
		want  bool
	}{
		{"105.105", false},
		{"105.1051", true},
		{"94.906", false},
		{"94.9", true},
	}
	for _, tt := range tests {
		st := store.NewMemoryStore()
		seedLevel(t, st, "h1", model.DirectionHigh, "105")
		seedLevel(t, st, "l1", model.DirectionLow, "95")
		ev, err := newScanner(st, &fakeSource{price: d(tt.price)}, clock.NewManual(t0)).Tick(context.Background())
		if err != nil {
			t.Fatalf("price %s: %v", tt.price, err)
		}
		if (ev != nil) != tt.want {
			t.Errorf("price %s: swept=%v, want %v", tt.price, ev != nil, tt.want)
		}
	}
}

func TestTick_LowSweepIsBullish(t *testing.T) {
	st := store.NewMemoryStore()
	seedLevel(t, st, "l1", model.DirectionLow, "95")
	ev, err := newScanner(st, &fakeSource{price: d("94")}, clock.NewManual(t0)).Tick(context.Background())
	if err != nil || ev == nil {
		t.Fatalf("expected sweep, got %v (err %v)", ev, err)
	}
	if ev.Bias != model.BiasBullish || ev.Direction != model.DirectionLow {
		t.Errorf("unexpected sweep %+v", ev)
	}
}

func TestTick_SkipsWhileSweepActive(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	seedLevel(t, st, "h1", model.DirectionHigh, "105")
	seedLevel(t, st, "l1", model.DirectionLow, "95")
	clk := clock.NewManual(t0)
	src := &fakeSource{price: d("106")}
	s := newScanner(st, src, clk)

	first, err := s.Tick(ctx)
	if err != nil || first == nil {
		t.Fatalf("expected first sweep, got %v (err %v)", first, err)
	}

	// A fresh breach of the other side is ignored while the sweep is young.
	clk.Advance(4 * time.Hour)
	src.price = d("90")
	if ev, err := s.Tick(ctx); err != nil || ev != nil {
		t.Fatalf("expected skip, got %v (err %v)", ev, err)
	}

	// The same level is never swept twice, even after the sweep ages out.
	clk.Advance(21 * time.Hour)
	src.price = d("106")
	if ev, err := s.Tick(ctx); err != nil || ev != nil {
		t.Fatalf("level re-swept: %v (err %v)", ev, err)
	}
	src.price = d("90")
	ev, err := s.Tick(ctx)
	if err != nil || ev == nil || ev.SwingID != "l1" {
		t.Fatalf("expected sweep of l1, got %+v (err %v)", ev, err)
	}
}

func TestTick_UpdatesCoarseSwings(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	highs := []string{"100", "102", "108", "103", "104", "105"}
	bars := make([]model.Bar, len(highs))
	for i, h := range highs {
		bars[i] = model.Bar{
			Resolution: model.Resolution4H,
			Time:       t0.Add(time.Duration(i-len(highs)) * 4 * time.Hour),
			Open:       d("99"),
			High:       d(h),
			Low:        d("98"),
			Close:      d("99"),
		}
	}
	s := newScanner(st, &fakeSource{bars: bars, price: d("108.2")}, clock.NewManual(t0))
	ev, err := s.Tick(ctx)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	lvl, _ := st.ActiveSwing(ctx, model.Resolution4H, model.DirectionHigh)
	if lvl == nil || !lvl.Price.Equal(d("108")) {
		t.Fatalf("expected 108 swing high, got %+v", lvl)
	}
	if ev == nil || ev.SwingID != lvl.ID {
		t.Errorf("expected sweep of the new level, got %+v", ev)
	}
}

// heldOpen parks OpenSweep until released so a second tick can overlap it.
type heldOpen struct {
	*store.MemoryStore
	entered chan struct{}
	release chan struct{}
}

func (h *heldOpen) OpenSweep(ctx context.Context, sw *model.SweepEvent, seq *model.Sequence) error {
	close(h.entered)
	<-h.release
	return h.MemoryStore.OpenSweep(ctx, sw, seq)
}

func TestTick_OverlappingTickSkipped(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	seedLevel(t, mem, "h1", model.DirectionHigh, "105")
	st := &heldOpen{MemoryStore: mem, entered: make(chan struct{}), release: make(chan struct{})}
	clk := clock.NewManual(t0)
	var logs bytes.Buffer
	s := NewScanner(st, &fakeSource{price: d("105.2")}, swing.NewTracker(st, clk, zerolog.Nop()), clk, 0, zerolog.New(&logs))

	type result struct {
		ev  *model.SweepEvent
		err error
	}
	first := make(chan result, 1)
	go func() {
		ev, err := s.Tick(ctx)
		first <- result{ev, err}
	}()

	<-st.entered
	ev, err := s.Tick(ctx)
	if err != nil || ev != nil {
		t.Fatalf("overlapping tick should be skipped, got %+v (err %v)", ev, err)
	}
	close(st.release)

	r := <-first
	if r.err != nil || r.ev == nil {
		t.Fatalf("first tick should open the sweep, got %+v (err %v)", r.ev, r.err)
	}
	seqs, _ := mem.ActiveSequences(ctx)
	if len(seqs) != 1 || seqs[0].SweepID != r.ev.ID {
		t.Errorf("expected one live sequence for %s, got %d", r.ev.ID, len(seqs))
	}

	// The lock is released once the tick returns.
	if ev, err := s.Tick(ctx); err != nil || ev != nil {
		t.Errorf("level already swept, got %+v (err %v)", ev, err)
	}
	if n := strings.Count(logs.String(), "coarse tick already running"); n != 1 {
		t.Errorf("expected exactly one skipped tick, got %d", n)
	}
}

func TestTick_PriceError(t *testing.T) {
	st := store.NewMemoryStore()
	seedLevel(t, st, "h1", model.DirectionHigh, "105")
	boom := errors.New("no quote")
	_, err := newScanner(st, &fakeSource{priceErr: boom}, clock.NewManual(t0)).Tick(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected price error, got %v", err)
	}
}

func TestExpireSweeps(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	seedLevel(t, st, "h1", model.DirectionHigh, "105")
	clk := clock.NewManual(t0)
	s := newScanner(st, &fakeSource{price: d("106")}, clk)
	if ev, err := s.Tick(ctx); err != nil || ev == nil {
		t.Fatalf("expected sweep, got %v (err %v)", ev, err)
	}

	if n, err := s.ExpireSweeps(ctx); err != nil || n != 0 {
		t.Fatalf("young sweep should survive, got %d (err %v)", n, err)
	}
	clk.Advance(SweepLifetime + time.Minute)
	if n, err := s.ExpireSweeps(ctx); err != nil || n != 1 {
		t.Fatalf("expected 1 expired, got %d (err %v)", n, err)
	}
}
