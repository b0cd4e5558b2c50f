package collector

import (
	"fmt"
	"sort"
	"time"

	"SweepSentinel/internal/clock"
	"SweepSentinel/internal/model"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// MockFetcher returns controllable fixed data for development and testing.
type MockFetcher struct {
	Price decimal.Decimal
	Data  map[model.Resolution][]model.Bar
	Err   error
	Clock clock.Clock // generated bars end before Clock.Now(); nil means the system clock
}

func (m *MockFetcher) Name() string { return "mock" }

func (m *MockFetcher) FetchBars(_ string, res model.Resolution, count int) ([]model.Bar, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if bars, ok := m.Data[res]; ok {
		return bars, nil
	}
	var clk clock.Clock = clock.System{}
	if m.Clock != nil {
		clk = m.Clock
	}
	return generateMockBars(m.Price, res, count, clk.Now()), nil
}

func (m *MockFetcher) FetchCurrentPrice(_ string) (decimal.Decimal, error) {
	if m.Err != nil {
		return decimal.Zero, m.Err
	}
	return m.Price, nil
}

// generateMockBars returns count closed bars ending before now, drifting
// gently around basePrice.
func generateMockBars(basePrice decimal.Decimal, res model.Resolution, count int, now time.Time) []model.Bar {
	step := res.Duration()
	last := now.Truncate(step).Add(-step)
	bars := make([]model.Bar, count)
	for i := 0; i < count; i++ {
		p := basePrice.Mul(decimal.NewFromFloat(1 + float64(i-count/2)*0.001))
		bars[i] = model.Bar{
			Resolution: res,
			Time:       last.Add(-time.Duration(count-1-i) * step),
			Open:       p.Mul(decimal.RequireFromString("0.999")),
			High:       p.Mul(decimal.RequireFromString("1.005")),
			Low:        p.Mul(decimal.RequireFromString("0.995")),
			Close:      p,
			Volume:     decimal.NewFromInt(1000000),
		}
	}
	return bars
}

// Collector wraps a Fetcher and hands the detectors clean, closed bars.
type Collector struct {
	Fetcher Fetcher
	Symbol  string
	Clock   clock.Clock

	log zerolog.Logger
}

// NewCollector creates a new Collector.
func NewCollector(fetcher Fetcher, symbol string, clk clock.Clock, log zerolog.Logger) *Collector {
	return &Collector{
		Fetcher: fetcher,
		Symbol:  symbol,
		Clock:   clk,
		log:     log.With().Str("component", "collector").Str("source", fetcher.Name()).Logger(),
	}
}

// Bars returns up to count closed bars, oldest first. Bars still forming,
// duplicates and malformed rows are dropped.
func (c *Collector) Bars(res model.Resolution, count int) ([]model.Bar, error) {
	if !res.Valid() {
		return nil, fmt.Errorf("unknown resolution %q", res)
	}
	// One extra bar covers the one still forming.
	raw, err := c.Fetcher.FetchBars(c.Symbol, res, count+1)
	if err != nil {
		return nil, fmt.Errorf("fetch %s bars: %w", res, err)
	}

	bars, dropped := clean(raw, res, c.Clock.Now())
	if dropped > 0 {
		c.log.Debug().Str("resolution", string(res)).Int("dropped", dropped).Msg("discarded unusable bars")
	}
	if len(bars) > count {
		bars = bars[len(bars)-count:]
	}
	return bars, nil
}

// CurrentPrice returns the latest traded price.
func (c *Collector) CurrentPrice() (decimal.Decimal, error) {
	p, err := c.Fetcher.FetchCurrentPrice(c.Symbol)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetch current price: %w", err)
	}
	if !p.IsPositive() {
		return decimal.Zero, fmt.Errorf("fetch current price: non-positive price %s", p)
	}
	return p, nil
}

// clean sorts bars, stamps the resolution and removes bars that have not
// closed at now, repeated timestamps and rows with impossible prices.
func clean(raw []model.Bar, res model.Resolution, now time.Time) ([]model.Bar, int) {
	sorted := make([]model.Bar, len(raw))
	copy(sorted, raw)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	out := sorted[:0]
	for _, b := range sorted {
		b.Resolution = res
		switch {
		case b.Time.Add(res.Duration()).After(now):
		case len(out) > 0 && out[len(out)-1].Time.Equal(b.Time):
		case !b.Low.IsPositive() || b.High.LessThan(b.Low):
		default:
			out = append(out, b)
		}
	}
	return out, len(raw) - len(out)
}

// aggregate folds bars into buckets of res, aligned to UTC. Input must be
// sorted oldest first. A leading bucket the input starts part way through is
// dropped.
func aggregate(bars []model.Bar, res model.Resolution) []model.Bar {
	if len(bars) == 0 {
		return nil
	}
	step := res.Duration()
	partialHead := !bars[0].Time.UTC().Truncate(step).Equal(bars[0].Time.UTC())
	var out []model.Bar
	var cur model.Bar
	started := false

	for _, b := range bars {
		key := b.Time.UTC().Truncate(step)
		if !started || !key.Equal(cur.Time) {
			if started {
				out = append(out, cur)
			}
			cur = model.Bar{Resolution: res, Time: key, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume}
			started = true
			continue
		}
		if b.High.GreaterThan(cur.High) {
			cur.High = b.High
		}
		if b.Low.LessThan(cur.Low) {
			cur.Low = b.Low
		}
		cur.Close = b.Close
		cur.Volume = cur.Volume.Add(b.Volume)
	}
	out = append(out, cur)
	if partialHead {
		out = out[1:]
	}
	return out
}
