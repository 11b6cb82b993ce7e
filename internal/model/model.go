// Package model defines the core domain types shared across the portfolio engine.
// All monetary values use shopspring/decimal, never float64 for money.
package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidQuote is returned when a quote violates its non-negativity invariants.
var ErrInvalidQuote = errors.New("model: invalid quote")

// Quote is the latest known market data for one symbol.
// Upserted by symbol on every successful provider fetch, never deleted.
type Quote struct {
	Symbol        string          `json:"symbol" db:"symbol"`
	Name          string          `json:"name" db:"name"`
	Price         decimal.Decimal `json:"price" db:"price"`
	Change        decimal.Decimal `json:"change" db:"change"`
	ChangePercent string          `json:"changePercent" db:"change_percent"` // signed, two decimals, no "%"
	IsPositive    bool            `json:"isPositive" db:"is_positive"`
	Volume        int64           `json:"volume" db:"volume"`
	PreviousClose decimal.Decimal `json:"previousClose" db:"previous_close"`
	Open          decimal.Decimal `json:"open" db:"open"`
	High          decimal.Decimal `json:"high" db:"high"`
	Low           decimal.Decimal `json:"low" db:"low"`
	Source        string          `json:"source,omitempty" db:"source"`
	LastUpdated   time.Time       `json:"lastUpdated" db:"last_updated"`
}

// Normalize derives IsPositive from Change. Call after mapping a payload.
func (q *Quote) Normalize() {
	q.IsPositive = !q.Change.IsNegative()
}

// Validate enforces price, volume, high and low being non-negative.
func (q *Quote) Validate() error {
	switch {
	case q.Symbol == "":
		return errors.Join(ErrInvalidQuote, errors.New("empty symbol"))
	case q.Price.IsNegative():
		return errors.Join(ErrInvalidQuote, errors.New("negative price"))
	case q.Volume < 0:
		return errors.Join(ErrInvalidQuote, errors.New("negative volume"))
	case q.High.IsNegative(), q.Low.IsNegative():
		return errors.Join(ErrInvalidQuote, errors.New("negative high/low"))
	}
	return nil
}

// FormatPercent renders a percentage the way Quote.ChangePercent stores it.
func FormatPercent(pct decimal.Decimal) string {
	return pct.StringFixed(2)
}

// Holding is one user's position in one symbol.
// Quantity is always > 0; a fully sold holding is deleted.
// Version starts at 1 and increases by one on every write.
type Holding struct {
	UserID        string          `json:"userId" db:"user_id"`
	Symbol        string          `json:"symbol" db:"symbol"`
	Quantity      int64           `json:"quantity" db:"quantity"`
	AveragePrice  decimal.Decimal `json:"averagePrice" db:"average_price"`
	TotalInvested decimal.Decimal `json:"totalInvested" db:"total_invested"`
	CreatedAt     time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time       `json:"updatedAt" db:"updated_at"`
	Version       int64           `json:"version" db:"version"`
}

// Trade sides.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Trade is an immutable record of one executed buy or sell.
// Once created, trades are never modified or deleted.
type Trade struct {
	ID           string          `json:"id" db:"id"`
	UserID       string          `json:"userId" db:"user_id"`
	Symbol       string          `json:"symbol" db:"symbol"`
	Side         string          `json:"side" db:"side"`
	Quantity     int64           `json:"quantity" db:"quantity"`
	Price        decimal.Decimal `json:"price" db:"price"`
	Total        decimal.Decimal `json:"total" db:"total"`
	CostBasis    decimal.Decimal `json:"costBasis" db:"cost_basis"`
	RealizedGain decimal.Decimal `json:"realizedGain" db:"realized_gain"`
	Timestamp    time.Time       `json:"timestamp" db:"timestamp"`
}

// ChartPoint is one OHLCV bar. Not persisted.
type ChartPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
}

// ChartSeries is an ascending intraday series. Synthetic marks generated data.
type ChartSeries struct {
	Symbol    string       `json:"symbol"`
	Interval  string       `json:"interval"`
	Source    string       `json:"source"`
	Synthetic bool         `json:"synthetic"`
	Points    []ChartPoint `json:"points"`
}

// SearchResult is one symbol search match.
type SearchResult struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Region   string `json:"region"`
	Currency string `json:"currency"`
}
