// Package valuation joins ledger holdings with cached prices.
package valuation

import (
	"context"
	"fmt"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"github.com/stockdash/portfolio-engine/internal/model"
)

var hundred = decimal.NewFromInt(100)

// Holdings lists a user's holdings.
type Holdings interface {
	Holdings(ctx context.Context, userID string) ([]model.Holding, error)
}

// Prices reads cached quotes without refreshing them.
type Prices interface {
	Lookup(ctx context.Context, symbol string) (*model.Quote, bool, error)
}

// Valuator produces portfolio views.
type Valuator struct {
	holdings Holdings
	prices   Prices
	currency string
}

// NewValuator creates a valuator. Display strings use currency (ISO 4217).
func NewValuator(h Holdings, p Prices, currency string) *Valuator {
	if money.GetCurrency(currency) == nil {
		currency = money.USD
	}
	return &Valuator{holdings: h, prices: p, currency: currency}
}

// Valuate values every holding of userID at its cached price. A symbol with
// no cached quote is priced at zero rather than failing the view.
func (v *Valuator) Valuate(ctx context.Context, userID string) (*model.Portfolio, error) {
	holdings, err := v.holdings.Holdings(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list holdings: %w", err)
	}

	out := &model.Portfolio{
		UserID:   userID,
		Holdings: make([]model.HoldingValuation, 0, len(holdings)),
	}
	totalValue := decimal.Zero
	totalInvested := decimal.Zero

	for _, h := range holdings {
		price := decimal.Zero
		name := h.Symbol
		q, found, err := v.prices.Lookup(ctx, h.Symbol)
		if err != nil {
			return nil, fmt.Errorf("price %s: %w", h.Symbol, err)
		}
		if found {
			price = q.Price
			if q.Name != "" {
				name = q.Name
			}
		}

		value := price.Mul(decimal.NewFromInt(h.Quantity))
		gain := value.Sub(h.TotalInvested)

		out.Holdings = append(out.Holdings, model.HoldingValuation{
			Symbol:          h.Symbol,
			Name:            name,
			Quantity:        h.Quantity,
			AveragePrice:    model.NewAmount(h.AveragePrice),
			TotalInvested:   model.NewAmount(h.TotalInvested),
			CurrentPrice:    model.NewAmount(price),
			CurrentValue:    model.NewAmount(value),
			GainLoss:        model.NewAmount(gain),
			GainLossPercent: model.NewAmount(Percent(gain, h.TotalInvested)),
			Priced:          found,
		})
		totalValue = totalValue.Add(value)
		totalInvested = totalInvested.Add(h.TotalInvested)
	}

	totalGain := totalValue.Sub(totalInvested)
	out.Summary = model.PortfolioSummary{
		TotalValue:           model.NewAmount(totalValue),
		TotalInvested:        model.NewAmount(totalInvested),
		TotalGainLoss:        model.NewAmount(totalGain),
		TotalGainLossPercent: model.NewAmount(Percent(totalGain, totalInvested)),
		HoldingsCount:        len(holdings),
		Currency:             v.currency,
		DisplayValue:         Display(totalValue, v.currency),
		DisplayGainLoss:      Display(totalGain, v.currency),
	}
	return out, nil
}

// Percent is gain/invested*100 rounded to two places, or zero when nothing
// was invested.
func Percent(gain, invested decimal.Decimal) decimal.Decimal {
	if !invested.IsPositive() {
		return decimal.Zero
	}
	return gain.Div(invested).Mul(hundred).Round(2)
}

// Display formats amount in currency's minor units, e.g. "$3,000.00".
func Display(amount decimal.Decimal, currency string) string {
	cur := money.GetCurrency(currency)
	if cur == nil {
		return amount.StringFixed(2)
	}
	factor := decimal.New(1, int32(cur.Fraction))
	minor := amount.Mul(factor).Round(0).IntPart()
	return money.New(minor, currency).Display()
}
