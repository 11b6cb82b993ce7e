package model

import (
	"github.com/shopspring/decimal"
)

// Amount is a monetary value whose external form has exactly two decimals.
type Amount struct {
	decimal.Decimal
}

// NewAmount wraps d.
func NewAmount(d decimal.Decimal) Amount {
	return Amount{Decimal: d}
}

// String renders the value with two decimals.
func (a Amount) String() string {
	return a.Decimal.StringFixed(2)
}

// MarshalJSON renders a quoted two-decimal string, matching decimal's own
// quoted encoding.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON accepts both quoted and bare numbers.
func (a *Amount) UnmarshalJSON(b []byte) error {
	return a.Decimal.UnmarshalJSON(b)
}

// HoldingValuation is a holding joined with its current cached price.
type HoldingValuation struct {
	Symbol          string `json:"symbol"`
	Name            string `json:"name"`
	Quantity        int64  `json:"quantity"`
	AveragePrice    Amount `json:"averagePrice"`
	TotalInvested   Amount `json:"totalInvested"`
	CurrentPrice    Amount `json:"currentPrice"`
	CurrentValue    Amount `json:"currentValue"`
	GainLoss        Amount `json:"gainLoss"`
	GainLossPercent Amount `json:"gainLossPercent"`
	Priced          bool   `json:"priced"` // false when no cached quote existed
}

// PortfolioSummary aggregates all holdings of one user.
type PortfolioSummary struct {
	TotalValue           Amount `json:"totalValue"`
	TotalInvested        Amount `json:"totalInvested"`
	TotalGainLoss        Amount `json:"totalGainLoss"`
	TotalGainLossPercent Amount `json:"totalGainLossPercent"`
	HoldingsCount        int    `json:"holdingsCount"`
	Currency             string `json:"currency"`
	DisplayValue         string `json:"displayValue"`
	DisplayGainLoss      string `json:"displayGainLoss"`
}

// Portfolio is the valuation view returned to clients.
type Portfolio struct {
	UserID   string             `json:"userId"`
	Holdings []HoldingValuation `json:"holdings"`
	Summary  PortfolioSummary   `json:"summary"`
}
