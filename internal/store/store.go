package store

import (
	"context"
	"errors"
	"time"

	"SweepSentinel/internal/model"
)

// ErrNotFound is returned by the by-id lookups.
var ErrNotFound = errors.New("store: not found")

// SwingStore persists swing levels.
type SwingStore interface {
	// ActiveSwing returns the active level for (res, dir), or nil when none.
	ActiveSwing(ctx context.Context, res model.Resolution, dir model.Direction) (*model.SwingLevel, error)
	SwingByID(ctx context.Context, id string) (*model.SwingLevel, error)
	// ReplaceSwing deactivates the current (res, dir) level and inserts lvl
	// as active in one atomic step.
	ReplaceSwing(ctx context.Context, lvl *model.SwingLevel) error
}

// SweepStore persists sweep events and opens their sequences.
type SweepStore interface {
	// ActiveSweep returns the active sweep, or nil when none.
	ActiveSweep(ctx context.Context) (*model.SweepEvent, error)
	SweepByID(ctx context.Context, id string) (*model.SweepEvent, error)
	// LevelSwept reports whether any sweep, active or not, references swingID.
	LevelSwept(ctx context.Context, swingID string) (bool, error)
	// OpenSweep deactivates every active sweep, then inserts sw and seq
	// atomically.
	OpenSweep(ctx context.Context, sw *model.SweepEvent, seq *model.Sequence) error
	DeactivateSweep(ctx context.Context, id string) error
	// ExpireSweeps deactivates active sweeps timestamped before cutoff.
	ExpireSweeps(ctx context.Context, cutoff time.Time) (int, error)
}

// SequenceStore persists confirmation sequences.
type SequenceStore interface {
	SequenceByID(ctx context.Context, id string) (*model.Sequence, error)
	// ActiveSequences returns every non-terminal sequence, oldest first.
	ActiveSequences(ctx context.Context) ([]*model.Sequence, error)
	// CompletedSince returns COMPLETE sequences updated at or after since.
	CompletedSince(ctx context.Context, since time.Time) ([]*model.Sequence, error)
	// UpdateSequence replaces the stored record whole.
	UpdateSequence(ctx context.Context, seq *model.Sequence) error
}

// Store is the full persistence surface of the engine.
type Store interface {
	SwingStore
	SweepStore
	SequenceStore
	Close() error
}
