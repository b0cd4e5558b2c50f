// Package swing finds 5-bar local extrema and keeps the single active level
// per (resolution, direction) current.
package swing

import (
	"context"
	"fmt"

	"SweepSentinel/internal/clock"
	"SweepSentinel/internal/metrics"
	"SweepSentinel/internal/model"
	"SweepSentinel/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// offset is the distance to the bars a candidate is compared against.
const offset = 2

// MinBars is the smallest window that can contain a swing.
const MinBars = 2*offset + 1

// Scan returns every swing in bars, in bar order. Bar i (2 <= i <= n-3) is a
// HIGH when its high exceeds the highs two bars before and after it, and a LOW
// symmetrically on lows. Fewer than MinBars bars yields nil.
func Scan(bars []model.Bar, res model.Resolution) []model.SwingLevel {
	if len(bars) < MinBars {
		return nil
	}
	var out []model.SwingLevel
	for i := offset; i < len(bars)-offset; i++ {
		c, before, after := bars[i], bars[i-offset], bars[i+offset]
		if c.High.GreaterThan(before.High) && c.High.GreaterThan(after.High) {
			out = append(out, model.SwingLevel{Resolution: res, Direction: model.DirectionHigh, Price: c.High, Time: c.Time})
		}
		if c.Low.LessThan(before.Low) && c.Low.LessThan(after.Low) {
			out = append(out, model.SwingLevel{Resolution: res, Direction: model.DirectionLow, Price: c.Low, Time: c.Time})
		}
	}
	return out
}

// Latest returns the most recent HIGH and LOW of a scan, either may be nil.
func Latest(levels []model.SwingLevel) (high, low *model.SwingLevel) {
	for i := range levels {
		switch levels[i].Direction {
		case model.DirectionHigh:
			if high == nil || levels[i].Time.After(high.Time) {
				high = &levels[i]
			}
		case model.DirectionLow:
			if low == nil || levels[i].Time.After(low.Time) {
				low = &levels[i]
			}
		}
	}
	return high, low
}

// Tracker commits scanned swings to the store.
type Tracker struct {
	Store store.SwingStore
	Clock clock.Clock
	log   zerolog.Logger
}

func NewTracker(s store.SwingStore, clk clock.Clock, log zerolog.Logger) *Tracker {
	return &Tracker{Store: s, Clock: clk, log: log.With().Str("component", "swing").Logger()}
}

// Commit persists the most recent HIGH and LOW of levels. A level is written
// only when it is newer than the active one, so overlapping re-scans are no-ops.
// It returns the levels that became active.
func (t *Tracker) Commit(ctx context.Context, levels []model.SwingLevel) ([]model.SwingLevel, error) {
	high, low := Latest(levels)
	var committed []model.SwingLevel
	for _, lvl := range []*model.SwingLevel{high, low} {
		if lvl == nil {
			continue
		}
		ok, err := t.commitOne(ctx, *lvl)
		if err != nil {
			return committed, err
		}
		if ok != nil {
			committed = append(committed, *ok)
		}
	}
	return committed, nil
}

func (t *Tracker) commitOne(ctx context.Context, lvl model.SwingLevel) (*model.SwingLevel, error) {
	current, err := t.Store.ActiveSwing(ctx, lvl.Resolution, lvl.Direction)
	if err != nil {
		return nil, fmt.Errorf("load active %s %s swing: %w", lvl.Resolution, lvl.Direction, err)
	}
	if current != nil && !lvl.Time.After(current.Time) {
		return nil, nil
	}

	lvl.ID = uuid.NewString()
	lvl.Active = true
	lvl.CreatedAt = t.Clock.Now()
	if err := t.Store.ReplaceSwing(ctx, &lvl); err != nil {
		return nil, fmt.Errorf("replace %s %s swing: %w", lvl.Resolution, lvl.Direction, err)
	}
	metrics.SwingsTotal.WithLabelValues(string(lvl.Resolution), string(lvl.Direction)).Inc()
	t.log.Info().
		Str("resolution", string(lvl.Resolution)).
		Str("direction", string(lvl.Direction)).
		Str("price", lvl.Price.String()).
		Time("bar_time", lvl.Time).
		Msg("swing level activated")
	return &lvl, nil
}

// Update scans bars and commits the result.
func (t *Tracker) Update(ctx context.Context, bars []model.Bar, res model.Resolution) ([]model.SwingLevel, error) {
	levels := Scan(bars, res)
	if len(levels) == 0 {
		return nil, nil
	}
	return t.Commit(ctx, levels)
}
