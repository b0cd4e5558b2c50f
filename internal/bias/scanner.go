// Package bias runs the coarse tick: it keeps the 4H swing levels current and
// opens a sweep, with its confirmation sequence, when price breaches one.
package bias

import (
	"context"
	"fmt"
	"sync"
	"time"

	"SweepSentinel/internal/clock"
	"SweepSentinel/internal/metrics"
	"SweepSentinel/internal/model"
	"SweepSentinel/internal/store"
	"SweepSentinel/internal/sweep"
	"SweepSentinel/internal/swing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// SweepLifetime is how long a sweep blocks new detections.
const SweepLifetime = 24 * time.Hour

// DefaultLookback is the number of coarse bars scanned per tick.
const DefaultLookback = 50

// Source supplies coarse bars and the latest traded price.
type Source interface {
	Bars(res model.Resolution, count int) ([]model.Bar, error)
	CurrentPrice() (decimal.Decimal, error)
}

// Scanner detects sweeps of the active coarse swing levels.
type Scanner struct {
	Store    store.Store
	Source   Source
	Swings   *swing.Tracker
	Clock    clock.Clock
	Lookback int

	mu  sync.Mutex
	log zerolog.Logger
}

func NewScanner(st store.Store, src Source, tracker *swing.Tracker, clk clock.Clock, lookback int, log zerolog.Logger) *Scanner {
	if lookback < swing.MinBars {
		lookback = DefaultLookback
	}
	return &Scanner{
		Store:    st,
		Source:   src,
		Swings:   tracker,
		Clock:    clk,
		Lookback: lookback,
		log:      log.With().Str("component", "bias").Logger(),
	}
}

// Tick refreshes coarse swings and checks the current price against them.
// It returns the opened sweep, or nil when nothing was swept. A call made
// while another tick is running is skipped.
func (s *Scanner) Tick(ctx context.Context) (*model.SweepEvent, error) {
	if !s.mu.TryLock() {
		s.log.Debug().Msg("coarse tick already running, skipping")
		return nil, nil
	}
	defer s.mu.Unlock()

	bars, err := s.Source.Bars(model.Resolution4H, s.Lookback)
	if err != nil {
		return nil, fmt.Errorf("fetch %s bars: %w", model.Resolution4H, err)
	}
	if _, err := s.Swings.Update(ctx, bars, model.Resolution4H); err != nil {
		return nil, fmt.Errorf("update %s swings: %w", model.Resolution4H, err)
	}

	now := s.Clock.Now()
	active, err := s.Store.ActiveSweep(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active sweep: %w", err)
	}
	if active != nil && now.Sub(active.Time) < SweepLifetime {
		s.log.Debug().Str("sweep", active.ID).Msg("active sweep in progress, skipping")
		return nil, nil
	}

	price, err := s.Source.CurrentPrice()
	if err != nil {
		return nil, fmt.Errorf("fetch current price: %w", err)
	}

	for _, dir := range []model.Direction{model.DirectionHigh, model.DirectionLow} {
		lvl, err := s.Store.ActiveSwing(ctx, model.Resolution4H, dir)
		if err != nil {
			return nil, fmt.Errorf("load active %s swing: %w", dir, err)
		}
		if lvl == nil || !sweep.Breach(price, lvl.Price, dir) {
			continue
		}
		swept, err := s.Store.LevelSwept(ctx, lvl.ID)
		if err != nil {
			return nil, fmt.Errorf("check level %s: %w", lvl.ID, err)
		}
		if swept {
			continue
		}
		return s.open(ctx, lvl, price, now)
	}
	return nil, nil
}

func (s *Scanner) open(ctx context.Context, lvl *model.SwingLevel, price decimal.Decimal, now time.Time) (*model.SweepEvent, error) {
	ev := &model.SweepEvent{
		ID:         uuid.NewString(),
		Direction:  lvl.Direction,
		Price:      price,
		Bias:       sweep.BiasFor(lvl.Direction),
		SwingID:    lvl.ID,
		SwingPrice: lvl.Price,
		Active:     true,
		Time:       now,
	}
	seq := model.NewSequence(uuid.NewString(), ev.ID, ev.Bias, now)
	if err := s.Store.OpenSweep(ctx, ev, seq); err != nil {
		return nil, fmt.Errorf("open sweep: %w", err)
	}
	metrics.SweepsTotal.WithLabelValues(string(ev.Bias)).Inc()
	s.log.Info().
		Str("sweep", ev.ID).
		Str("sequence", seq.ID).
		Str("direction", string(ev.Direction)).
		Str("bias", string(ev.Bias)).
		Str("price", price.String()).
		Str("level", lvl.Price.String()).
		Msg("liquidity sweep detected")
	return ev, nil
}

// ExpireSweeps deactivates sweeps older than SweepLifetime.
func (s *Scanner) ExpireSweeps(ctx context.Context) (int, error) {
	n, err := s.Store.ExpireSweeps(ctx, s.Clock.Now().Add(-SweepLifetime))
	if err != nil {
		return 0, fmt.Errorf("expire sweeps: %w", err)
	}
	if n > 0 {
		s.log.Info().Int("count", n).Msg("expired stale sweeps")
	}
	return n, nil
}
