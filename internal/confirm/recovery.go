package confirm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"SweepSentinel/internal/metrics"
	"SweepSentinel/internal/model"
	"SweepSentinel/internal/store"
)

// NearExpiryWindow flags sequences this close to their age limit in Health.
const NearExpiryWindow = time.Hour

// RecoveryReport summarizes a Recover run.
type RecoveryReport struct {
	Loaded         int
	Expired        int
	Resumed        int
	Unchecked      int // left as is after a store failure
	SweepsReleased int
}

// Recover reconciles persisted state after a restart: sequences past their age
// limit, structurally invalid, or whose sweep no longer exists are expired;
// an active sweep left without a live sequence is deactivated. Running it
// twice is a no-op.
func (m *Machine) Recover(ctx context.Context) (RecoveryReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var rep RecoveryReport
	now := m.Clock.Now()
	seqs, err := m.Store.ActiveSequences(ctx)
	if err != nil {
		return rep, fmt.Errorf("load active sequences: %w", err)
	}
	rep.Loaded = len(seqs)

	live := make(map[string]bool)
	var errs []error
	for _, seq := range seqs {
		cause, reason, err := m.recoveryVerdict(ctx, seq, now)
		if err != nil {
			// Left untouched and counted live; the next recovery or tick decides.
			errs = append(errs, fmt.Errorf("sequence %s: %w", seq.ID, err))
			live[seq.SweepID] = true
			rep.Unchecked++
			m.log.Error().Err(err).Str("sequence", seq.ID).Msg("recovery check failed")
			continue
		}
		if cause == "" {
			live[seq.SweepID] = true
			rep.Resumed++
			continue
		}
		if err := m.expire(ctx, seq, cause, "recovery: "+reason, now); err != nil {
			errs = append(errs, fmt.Errorf("sequence %s: %w", seq.ID, err))
			continue
		}
		rep.Expired++
	}

	active, err := m.Store.ActiveSweep(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("load active sweep: %w", err))
	} else if active != nil && !live[active.ID] {
		if err := m.Store.DeactivateSweep(ctx, active.ID); err != nil {
			errs = append(errs, fmt.Errorf("release orphaned sweep %s: %w", active.ID, err))
		} else {
			rep.SweepsReleased++
			m.log.Warn().Str("sweep", active.ID).Msg("released sweep without a live sequence")
		}
	}

	m.log.Info().
		Int("loaded", rep.Loaded).
		Int("expired", rep.Expired).
		Int("resumed", rep.Resumed).
		Int("unchecked", rep.Unchecked).
		Int("sweeps_released", rep.SweepsReleased).
		Msg("recovery finished")
	return rep, errors.Join(errs...)
}

// recoveryVerdict returns an empty cause when seq may resume. A store failure
// while checking the owning sweep is returned as an error.
func (m *Machine) recoveryVerdict(ctx context.Context, seq *model.Sequence, now time.Time) (cause, reason string, err error) {
	if age := seq.Age(now); age > model.SequenceTTL {
		return causeAge, fmt.Sprintf("age %s exceeds %s", age.Truncate(time.Second), model.SequenceTTL), nil
	}
	if res := Structural(seq); !res.Valid {
		return causeInvalid, strings.Join(res.Errors, "; "), nil
	}
	_, err = m.Store.SweepByID(ctx, seq.SweepID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return causeOrphaned, "owning sweep missing", nil
	case err != nil:
		return "", "", fmt.Errorf("load sweep %s: %w", seq.SweepID, err)
	}
	return "", "", nil
}

// ExpireStale expires every non-terminal sequence past its age limit and
// returns how many were expired.
func (m *Machine) ExpireStale(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.Clock.Now()
	seqs, err := m.Store.ActiveSequences(ctx)
	if err != nil {
		return 0, fmt.Errorf("load active sequences: %w", err)
	}
	n := 0
	var errs []error
	for _, seq := range seqs {
		age := seq.Age(now)
		if age <= model.SequenceTTL {
			continue
		}
		if err := m.expire(ctx, seq, causeAge, fmt.Sprintf("age %s exceeds %s", age.Truncate(time.Second), model.SequenceTTL), now); err != nil {
			errs = append(errs, fmt.Errorf("sequence %s: %w", seq.ID, err))
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// Health counts live sequences by stage and bias and lists those within
// NearExpiryWindow of their age limit.
func (m *Machine) Health(ctx context.Context) (model.Health, error) {
	now := m.Clock.Now()
	h := model.Health{
		ByStage:   make(map[model.Stage]int),
		ByBias:    make(map[model.Bias]int),
		CheckedAt: now,
	}
	seqs, err := m.Store.ActiveSequences(ctx)
	if err != nil {
		return h, fmt.Errorf("load active sequences: %w", err)
	}
	for _, seq := range seqs {
		h.Active++
		h.ByStage[seq.Stage]++
		h.ByBias[seq.Bias]++
		if seq.ExpiresAt().Sub(now) <= NearExpiryWindow {
			h.NearExpiry = append(h.NearExpiry, seq.ID)
		}
	}
	sw, err := m.Store.ActiveSweep(ctx)
	if err != nil {
		return h, fmt.Errorf("load active sweep: %w", err)
	}
	if sw != nil {
		h.ActiveSweepID = sw.ID
	}

	for _, st := range []model.Stage{model.StageAwaitingChange, model.StageAwaitingGap, model.StageAwaitingBreak} {
		metrics.ActiveSequences.WithLabelValues(string(st)).Set(float64(h.ByStage[st]))
	}
	return h, nil
}

// Status returns the monitoring view of one sequence.
func (m *Machine) Status(ctx context.Context, id string) (model.Status, error) {
	seq, err := m.Store.SequenceByID(ctx, id)
	if err != nil {
		return model.Status{}, err
	}
	return model.StatusOf(seq, m.Clock.Now()), nil
}
