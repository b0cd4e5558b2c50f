package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Stage is the position of a confirmation sequence.
type Stage string

const (
	StageAwaitingChange Stage = "AWAITING_CHANGE"
	StageAwaitingGap    Stage = "AWAITING_GAP"
	StageAwaitingBreak  Stage = "AWAITING_BREAK"
	StageComplete       Stage = "COMPLETE"
	StageExpired        Stage = "EXPIRED"
)

// SequenceTTL is the maximum age of a non-terminal sequence.
const SequenceTTL = 12 * time.Hour

func (s Stage) Valid() bool {
	switch s {
	case StageAwaitingChange, StageAwaitingGap, StageAwaitingBreak, StageComplete, StageExpired:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageExpired
}

// Mark is a detected price at a bar time.
type Mark struct {
	Price decimal.Decimal
	Time  time.Time
}

// GapZone is a 3-bar imbalance. FormedAt is the third bar's time.
type GapZone struct {
	Low      decimal.Decimal
	High     decimal.Decimal
	FormedAt time.Time
}

// Sequence is the ordered confirmation run bound to one sweep.
//
// Payload pointers are only ever set together with the stage that owns them:
// Change on leaving AWAITING_CHANGE, Gap while AWAITING_GAP, Fill on leaving
// AWAITING_GAP, Break on reaching COMPLETE.
type Sequence struct {
	ID            string
	SweepID       string
	Bias          Bias
	Stage         Stage
	Change        *Mark
	Gap           *GapZone
	Fill          *Mark
	Break         *Mark
	ExpiredReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewSequence returns a sequence awaiting its change stage.
func NewSequence(id, sweepID string, bias Bias, now time.Time) *Sequence {
	return &Sequence{
		ID:        id,
		SweepID:   sweepID,
		Bias:      bias,
		Stage:     StageAwaitingChange,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy.
func (s *Sequence) Clone() *Sequence {
	if s == nil {
		return nil
	}
	c := *s
	if s.Change != nil {
		m := *s.Change
		c.Change = &m
	}
	if s.Gap != nil {
		g := *s.Gap
		c.Gap = &g
	}
	if s.Fill != nil {
		m := *s.Fill
		c.Fill = &m
	}
	if s.Break != nil {
		m := *s.Break
		c.Break = &m
	}
	return &c
}

// Age is the time since creation.
func (s *Sequence) Age(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt)
}

// ExpiresAt is when the sequence ages out.
func (s *Sequence) ExpiresAt() time.Time {
	return s.CreatedAt.Add(SequenceTTL)
}

// RecordChange moves AWAITING_CHANGE to AWAITING_GAP.
func (s *Sequence) RecordChange(m Mark, now time.Time) {
	s.Change = &m
	s.Stage = StageAwaitingGap
	s.UpdatedAt = now
}

// RecordGap stores the zone; the stage stays AWAITING_GAP until it is filled.
func (s *Sequence) RecordGap(z GapZone, now time.Time) {
	s.Gap = &z
	s.UpdatedAt = now
}

// RecordFill moves AWAITING_GAP to AWAITING_BREAK.
func (s *Sequence) RecordFill(m Mark, now time.Time) {
	s.Fill = &m
	s.Stage = StageAwaitingBreak
	s.UpdatedAt = now
}

// RecordBreak moves AWAITING_BREAK to COMPLETE.
func (s *Sequence) RecordBreak(m Mark, now time.Time) {
	s.Break = &m
	s.Stage = StageComplete
	s.UpdatedAt = now
}

// Expire forces the terminal EXPIRED stage.
func (s *Sequence) Expire(reason string, now time.Time) {
	s.Stage = StageExpired
	s.ExpiredReason = reason
	s.UpdatedAt = now
}

// Status is the monitoring view of one sequence.
type Status struct {
	ID            string
	SweepID       string
	Bias          Bias
	Stage         Stage
	ChangeFound   bool
	GapFound      bool
	GapFilled     bool
	BreakFound    bool
	CreatedAt     time.Time
	ExpiresAt     time.Time
	TimeToExpiry  time.Duration // zero once terminal or past expiry
	ExpiredReason string
}

// StatusOf builds the monitoring view at now.
func StatusOf(s *Sequence, now time.Time) Status {
	st := Status{
		ID:            s.ID,
		SweepID:       s.SweepID,
		Bias:          s.Bias,
		Stage:         s.Stage,
		ChangeFound:   s.Change != nil,
		GapFound:      s.Gap != nil,
		GapFilled:     s.Fill != nil,
		BreakFound:    s.Break != nil,
		CreatedAt:     s.CreatedAt,
		ExpiresAt:     s.ExpiresAt(),
		ExpiredReason: s.ExpiredReason,
	}
	if !s.Stage.Terminal() {
		if left := st.ExpiresAt.Sub(now); left > 0 {
			st.TimeToExpiry = left
		}
	}
	return st
}

// Health summarizes in-flight sequences.
type Health struct {
	Active        int
	ByStage       map[Stage]int
	ByBias        map[Bias]int
	NearExpiry    []string // ids expiring within the next hour
	ActiveSweepID string
	CheckedAt     time.Time
}
