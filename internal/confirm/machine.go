// Package confirm runs the fine-resolution confirmation sequences: the stage
// machine, the validator that guards completion, and startup recovery.
package confirm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"SweepSentinel/internal/clock"
	"SweepSentinel/internal/metrics"
	"SweepSentinel/internal/model"
	"SweepSentinel/internal/pattern"
	"SweepSentinel/internal/store"
	"SweepSentinel/internal/swing"

	"github.com/rs/zerolog"
)

// BarSource supplies ordered bars, oldest first.
type BarSource interface {
	Bars(res model.Resolution, count int) ([]model.Bar, error)
}

// Publisher receives each completed sequence exactly when it turns COMPLETE.
type Publisher interface {
	Publish(ctx context.Context, c *model.Confirmation) error
}

// Expiry causes, used as the metrics label.
const (
	causeAge        = "age"
	causeInvalid    = "invalid"
	causeValidation = "validation"
	causeOrphaned   = "orphaned"
)

// DefaultWindow is the number of fine bars loaded per tick.
const DefaultWindow = 60

// Machine advances every non-terminal sequence once per fine tick.
type Machine struct {
	Store     store.Store
	Source    BarSource
	Swings    *swing.Tracker // optional; refreshes fine swing levels
	Publisher Publisher      // optional
	Clock     clock.Clock
	Window    int

	mu  sync.Mutex
	log zerolog.Logger
}

// NewMachine creates a Machine reading window fine bars per tick.
func NewMachine(st store.Store, src BarSource, tracker *swing.Tracker, pub Publisher, clk clock.Clock, window int, log zerolog.Logger) *Machine {
	if window <= pattern.ChangeLookback {
		window = DefaultWindow
	}
	return &Machine{
		Store:     st,
		Source:    src,
		Swings:    tracker,
		Publisher: pub,
		Clock:     clk,
		Window:    window,
		log:       log.With().Str("component", "confirm").Logger(),
	}
}

// Tick processes all non-terminal sequences to completion. A bar-source
// failure still lets age and structure checks run, then is returned.
func (m *Machine) Tick(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.Clock.Now()
	seqs, err := m.Store.ActiveSequences(ctx)
	if err != nil {
		return fmt.Errorf("load active sequences: %w", err)
	}

	var errs []error
	bars, err := m.Source.Bars(model.Resolution5M, m.Window)
	if err != nil {
		errs = append(errs, fmt.Errorf("fetch %s bars: %w", model.Resolution5M, err))
		bars = nil
	}
	if m.Swings != nil && len(bars) > 0 {
		if _, err := m.Swings.Update(ctx, bars, model.Resolution5M); err != nil {
			errs = append(errs, fmt.Errorf("update %s swings: %w", model.Resolution5M, err))
		}
	}

	for _, seq := range seqs {
		if err := m.step(ctx, seq, bars, now); err != nil {
			errs = append(errs, fmt.Errorf("sequence %s: %w", seq.ID, err))
		}
	}
	m.log.Debug().Int("sequences", len(seqs)).Int("bars", len(bars)).Msg("fine tick done")
	return errors.Join(errs...)
}

func (m *Machine) step(ctx context.Context, seq *model.Sequence, bars []model.Bar, now time.Time) error {
	if age := seq.Age(now); age > model.SequenceTTL {
		return m.expire(ctx, seq, causeAge, fmt.Sprintf("age %s exceeds %s", age.Truncate(time.Second), model.SequenceTTL), now)
	}
	if res := Structural(seq); !res.Valid {
		return m.expire(ctx, seq, causeInvalid, strings.Join(res.Errors, "; "), now)
	}
	if len(bars) == 0 {
		return nil
	}

	switch seq.Stage {
	case model.StageAwaitingChange:
		return m.awaitChange(ctx, seq, bars, now)
	case model.StageAwaitingGap:
		return m.awaitGap(ctx, seq, bars, now)
	case model.StageAwaitingBreak:
		return m.awaitBreak(ctx, seq, bars, now)
	}
	return nil
}

func (m *Machine) awaitChange(ctx context.Context, seq *model.Sequence, bars []model.Bar, now time.Time) error {
	mark, ok := pattern.Change(bars, seq.Bias)
	if !ok {
		return nil
	}
	// A breakout bar that had already closed when the sweep opened belongs
	// to the old structure.
	if !mark.Time.Add(model.Resolution5M.Duration()).After(seq.CreatedAt) {
		return nil
	}
	seq.RecordChange(mark, now)
	if err := m.Store.UpdateSequence(ctx, seq); err != nil {
		return fmt.Errorf("record change: %w", err)
	}
	m.transitioned(seq, "change", mark)
	return nil
}

func (m *Machine) awaitGap(ctx context.Context, seq *model.Sequence, bars []model.Bar, now time.Time) error {
	if seq.Gap == nil {
		zone, ok := pattern.Gap(bars, seq.Bias, seq.Change.Time)
		if !ok {
			return nil
		}
		seq.RecordGap(zone, now)
		if err := m.Store.UpdateSequence(ctx, seq); err != nil {
			return fmt.Errorf("record gap zone: %w", err)
		}
		m.log.Info().
			Str("sequence", seq.ID).
			Str("zone_low", zone.Low.String()).
			Str("zone_high", zone.High.String()).
			Time("formed_at", zone.FormedAt).
			Msg("gap zone recorded")
	}

	mark, ok := pattern.Fill(bars, *seq.Gap, seq.Bias)
	if !ok {
		return nil
	}
	seq.RecordFill(mark, now)
	if err := m.Store.UpdateSequence(ctx, seq); err != nil {
		return fmt.Errorf("record gap fill: %w", err)
	}
	m.transitioned(seq, "fill", mark)
	return nil
}

func (m *Machine) awaitBreak(ctx context.Context, seq *model.Sequence, bars []model.Bar, now time.Time) error {
	mark, ok := pattern.Break(bars, seq.Bias, seq.Change.Price)
	if !ok || !mark.Time.After(seq.Fill.Time) {
		return nil
	}

	candidate := seq.Clone()
	candidate.RecordBreak(mark, now)
	if res := Validate(candidate, now); !res.Valid {
		return m.expire(ctx, seq, causeValidation, "completion rejected: "+strings.Join(res.Errors, "; "), now)
	}
	if err := m.Store.UpdateSequence(ctx, candidate); err != nil {
		return fmt.Errorf("record break: %w", err)
	}
	m.transitioned(candidate, "break", mark)

	if err := m.releaseSweep(ctx, candidate); err != nil {
		return err
	}
	return m.publish(ctx, candidate)
}

func (m *Machine) transitioned(seq *model.Sequence, what string, mark model.Mark) {
	metrics.TransitionsTotal.WithLabelValues(string(seq.Stage)).Inc()
	m.log.Info().
		Str("sequence", seq.ID).
		Str("bias", string(seq.Bias)).
		Str("stage", string(seq.Stage)).
		Str(what+"_price", mark.Price.String()).
		Time(what+"_time", mark.Time).
		Msg("sequence advanced")
}

func (m *Machine) expire(ctx context.Context, seq *model.Sequence, cause, reason string, now time.Time) error {
	seq.Expire(reason, now)
	if err := m.Store.UpdateSequence(ctx, seq); err != nil {
		return fmt.Errorf("expire: %w", err)
	}
	metrics.ExpiredTotal.WithLabelValues(cause).Inc()
	metrics.TransitionsTotal.WithLabelValues(string(model.StageExpired)).Inc()
	m.log.Warn().
		Str("sequence", seq.ID).
		Str("cause", cause).
		Str("reason", reason).
		Msg("sequence expired")
	return m.releaseSweep(ctx, seq)
}

// releaseSweep deactivates the sweep owned by a terminated sequence.
func (m *Machine) releaseSweep(ctx context.Context, seq *model.Sequence) error {
	err := m.Store.DeactivateSweep(ctx, seq.SweepID)
	if errors.Is(err, store.ErrNotFound) {
		m.log.Warn().Str("sequence", seq.ID).Str("sweep", seq.SweepID).Msg("owning sweep not found")
		return nil
	}
	if err != nil {
		return fmt.Errorf("release sweep: %w", err)
	}
	return nil
}

// Confirmation loads the sweep and swept level behind a completed sequence.
func (m *Machine) Confirmation(ctx context.Context, seq *model.Sequence) (*model.Confirmation, error) {
	sw, err := m.Store.SweepByID(ctx, seq.SweepID)
	if err != nil {
		return nil, fmt.Errorf("load sweep: %w", err)
	}
	c := &model.Confirmation{Sequence: seq, Sweep: sw}
	lvl, err := m.Store.SwingByID(ctx, sw.SwingID)
	if err != nil {
		m.log.Warn().Err(err).Str("swing", sw.SwingID).Msg("swept level unavailable")
	} else {
		c.Swing = lvl
	}
	return c, nil
}

func (m *Machine) publish(ctx context.Context, seq *model.Sequence) error {
	if m.Publisher == nil {
		return nil
	}
	c, err := m.Confirmation(ctx, seq)
	if err != nil {
		return fmt.Errorf("build confirmation: %w", err)
	}
	if err := m.Publisher.Publish(ctx, c); err != nil {
		return fmt.Errorf("publish confirmation: %w", err)
	}
	return nil
}
