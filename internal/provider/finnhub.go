package provider

import (
	"context"
	"net/url"

	"github.com/shopspring/decimal"

	"github.com/stockdash/portfolio-engine/internal/model"
	"github.com/stockdash/portfolio-engine/internal/symbol"
)

const (
	finnhubName = "finnhub"
	finnhubBase = "https://finnhub.io/api/v1"
	finnhubRate = 60
)

// Finnhub maps the /quote endpoint. It reports no volume.
type Finnhub struct {
	*client
}

// NewFinnhub creates a Finnhub provider.
func NewFinnhub(cfg Config) *Finnhub {
	return &Finnhub{client: newClient(finnhubName, finnhubBase, finnhubRate, cfg)}
}

func (p *Finnhub) FetchQuote(ctx context.Context, sym string) (*model.Quote, error) {
	doc, err := p.getJSON(ctx, "/quote", url.Values{"symbol": {sym}, "token": {p.apiKey}})
	if err != nil {
		return nil, err
	}
	if msg := stringAt(doc, `$.error`); msg != "" {
		return nil, fail(ErrUnavailable, "%s: %s", p.name, msg)
	}

	r := &fieldReader{doc: doc}
	price := r.dec(`$.c`)
	prev := r.dec(`$.pc`)
	if r.err != nil {
		return nil, fail(ErrUnavailable, "%s: %v", p.name, r.err)
	}
	// Unknown symbols come back as an all-zero quote.
	if price.IsZero() && prev.IsZero() {
		return nil, fail(ErrInvalidSymbol, "%s: no data found for symbol %s", p.name, sym)
	}

	q := &model.Quote{
		Symbol:        sym,
		Name:          symbol.CompanyName(sym),
		Price:         price,
		Change:        decimalOr(doc, `$.d`, decimal.Zero),
		ChangePercent: model.FormatPercent(decimalOr(doc, `$.dp`, decimal.Zero)),
		Volume:        0,
		PreviousClose: prev,
		Open:          decimalOr(doc, `$.o`, decimal.Zero),
		High:          decimalOr(doc, `$.h`, decimal.Zero),
		Low:           decimalOr(doc, `$.l`, decimal.Zero),
		Source:        p.name,
	}
	return finish(q, p.name)
}
