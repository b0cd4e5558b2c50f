package collector

import (
	"SweepSentinel/internal/model"

	"github.com/shopspring/decimal"
)

// Fetcher defines the interface for fetching market data.
type Fetcher interface {
	FetchBars(symbol string, res model.Resolution, count int) ([]model.Bar, error)
	FetchCurrentPrice(symbol string) (decimal.Decimal, error)
	Name() string
}
