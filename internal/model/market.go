package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Resolution identifies a bar interval.
type Resolution string

const (
	Resolution4H Resolution = "4H" // coarse, drives the bias scanner
	Resolution5M Resolution = "5M" // fine, drives the confirmation machine
)

// Duration returns the bar length for the resolution.
func (r Resolution) Duration() time.Duration {
	switch r {
	case Resolution4H:
		return 4 * time.Hour
	case Resolution5M:
		return 5 * time.Minute
	default:
		return 0
	}
}

// Valid reports whether r is a known resolution.
func (r Resolution) Valid() bool {
	return r.Duration() > 0
}

// ParseResolution maps a config string to a Resolution.
func ParseResolution(s string) (Resolution, error) {
	r := Resolution(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown resolution %q", s)
	}
	return r, nil
}

// Bar represents a single candlestick bar. Time is the bar open.
type Bar struct {
	Resolution Resolution
	Time       time.Time
	Open       decimal.Decimal
	High       decimal.Decimal
	Low        decimal.Decimal
	Close      decimal.Decimal
	Volume     decimal.Decimal
}
