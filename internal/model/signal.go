package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the side of a swing extremum.
type Direction string

const (
	DirectionHigh Direction = "HIGH"
	DirectionLow  Direction = "LOW"
)

func (d Direction) Valid() bool {
	return d == DirectionHigh || d == DirectionLow
}

// Bias is the directional thesis implied by a sweep.
type Bias string

const (
	BiasBullish Bias = "BULLISH"
	BiasBearish Bias = "BEARISH"
)

func (b Bias) Valid() bool {
	return b == BiasBullish || b == BiasBearish
}

// SwingLevel is a confirmed local extremum. At most one is active per
// (resolution, direction).
type SwingLevel struct {
	ID         string
	Resolution Resolution
	Direction  Direction
	Price      decimal.Decimal
	Time       time.Time // open time of the extremum bar
	Active     bool
	CreatedAt  time.Time
}

// SweepEvent records a breach of a swing level. At most one is active.
type SweepEvent struct {
	ID         string
	Direction  Direction
	Price      decimal.Decimal // price that breached the level
	Bias       Bias
	SwingID    string
	SwingPrice decimal.Decimal
	Active     bool
	Time       time.Time
}

// Confirmation is the signal emitted when a sequence completes.
type Confirmation struct {
	Sequence *Sequence
	Sweep    *SweepEvent
	Swing    *SwingLevel // nil if the swept level could not be loaded
}
