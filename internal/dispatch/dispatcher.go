// Package dispatch delivers completed confirmations to the configured sinks
// at most once per sequence, and redelivers any that a crash left unsent.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"SweepSentinel/internal/clock"
	"SweepSentinel/internal/metrics"
	"SweepSentinel/internal/model"
	"SweepSentinel/internal/store"

	"github.com/rs/zerolog"
)

// DefaultCapacity bounds the ledger; the oldest ids are evicted first.
const DefaultCapacity = 256

// RedeliverWindow is how far back Redeliver looks for completed sequences.
const RedeliverWindow = 24 * time.Hour

// Sink is a delivery target for confirmations.
type Sink interface {
	Deliver(ctx context.Context, c *model.Confirmation) error
	Name() string
}

// Builder assembles the confirmation for a completed sequence.
type Builder interface {
	Confirmation(ctx context.Context, seq *model.Sequence) (*model.Confirmation, error)
}

// Dispatcher fans confirmations out to sinks with concurrency safety.
type Dispatcher struct {
	mu       sync.Mutex
	ledger   *Ledger
	seen     map[string]bool
	filePath string
	capacity int

	sinks   []Sink
	store   store.SequenceStore
	builder Builder
	clock   clock.Clock
	log     zerolog.Logger
}

// NewDispatcher creates a Dispatcher, loading the ledger from filePath. An
// empty filePath keeps the ledger in memory only.
func NewDispatcher(filePath string, capacity int, st store.SequenceStore, clk clock.Clock, log zerolog.Logger, sinks ...Sink) (*Dispatcher, error) {
	l, err := LoadLedger(filePath)
	if err != nil {
		return nil, err
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	d := &Dispatcher{
		ledger:   l,
		seen:     make(map[string]bool, len(l.IDs)),
		filePath: filePath,
		capacity: capacity,
		sinks:    sinks,
		store:    st,
		clock:    clk,
		log:      log.With().Str("component", "dispatch").Logger(),
	}
	d.trim()
	for _, id := range d.ledger.IDs {
		d.seen[id] = true
	}
	return d, nil
}

// SetBuilder wires the confirmation builder used by Redeliver.
func (d *Dispatcher) SetBuilder(b Builder) { d.builder = b }

// Dispatched reports whether id has already been delivered.
func (d *Dispatcher) Dispatched(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen[id]
}

// Publish delivers c to every sink unless its sequence was already
// dispatched. The id is recorded only when every sink accepted it, so a
// failed delivery is picked up by Redeliver.
func (d *Dispatcher) Publish(ctx context.Context, c *model.Confirmation) error {
	if c == nil || c.Sequence == nil {
		return errors.New("dispatch: empty confirmation")
	}
	id := c.Sequence.ID

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.seen[id] {
		d.log.Debug().Str("sequence", id).Msg("already dispatched, skipping")
		return nil
	}

	var errs []error
	for _, s := range d.sinks {
		if err := s.Deliver(ctx, c); err != nil {
			errs = append(errs, fmt.Errorf("sink %s: %w", s.Name(), err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	d.record(id)
	metrics.ConfirmationsTotal.WithLabelValues(string(c.Sequence.Bias)).Inc()
	d.log.Info().
		Str("sequence", id).
		Str("bias", string(c.Sequence.Bias)).
		Int("sinks", len(d.sinks)).
		Msg("confirmation dispatched")
	return nil
}

// Redeliver publishes completed sequences from the last RedeliverWindow that
// are missing from the ledger and returns how many were sent.
func (d *Dispatcher) Redeliver(ctx context.Context) (int, error) {
	if d.builder == nil {
		return 0, errors.New("dispatch: no confirmation builder")
	}
	seqs, err := d.store.CompletedSince(ctx, d.clock.Now().Add(-RedeliverWindow))
	if err != nil {
		return 0, fmt.Errorf("load completed sequences: %w", err)
	}
	n := 0
	var errs []error
	for _, seq := range seqs {
		if d.Dispatched(seq.ID) {
			continue
		}
		c, err := d.builder.Confirmation(ctx, seq)
		if err != nil {
			errs = append(errs, fmt.Errorf("sequence %s: %w", seq.ID, err))
			continue
		}
		if err := d.Publish(ctx, c); err != nil {
			errs = append(errs, fmt.Errorf("sequence %s: %w", seq.ID, err))
			continue
		}
		n++
	}
	if n > 0 {
		d.log.Warn().Int("count", n).Msg("redelivered undispatched confirmations")
	}
	return n, errors.Join(errs...)
}

func (d *Dispatcher) record(id string) {
	d.ledger.IDs = append(d.ledger.IDs, id)
	d.seen[id] = true
	d.trim()
	if err := SaveLedger(d.filePath, d.ledger, d.clock.Now()); err != nil {
		d.log.Error().Err(err).Msg("failed to save dispatch ledger")
	}
}

// trim evicts the oldest ids beyond capacity.
func (d *Dispatcher) trim() {
	if over := len(d.ledger.IDs) - d.capacity; over > 0 {
		for _, id := range d.ledger.IDs[:over] {
			delete(d.seen, id)
		}
		d.ledger.IDs = append([]string(nil), d.ledger.IDs[over:]...)
	}
}
