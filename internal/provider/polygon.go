package provider

import (
	"context"
	"net/url"

	"github.com/shopspring/decimal"

	"github.com/stockdash/portfolio-engine/internal/model"
	"github.com/stockdash/portfolio-engine/internal/symbol"
)

const (
	polygonName = "polygon"
	polygonBase = "https://api.polygon.io"
	polygonRate = 5
)

// Polygon maps the previous-day aggregate bar. Change is measured against
// the bar's open, which also stands in for previous close.
type Polygon struct {
	*client
}

// NewPolygon creates a Polygon.io provider.
func NewPolygon(cfg Config) *Polygon {
	return &Polygon{client: newClient(polygonName, polygonBase, polygonRate, cfg)}
}

func (p *Polygon) FetchQuote(ctx context.Context, sym string) (*model.Quote, error) {
	doc, err := p.getJSON(ctx, "/v2/aggs/ticker/"+url.PathEscape(sym)+"/prev",
		url.Values{"adjusted": {"true"}, "apikey": {p.apiKey}})
	if err != nil {
		return nil, err
	}
	if !has(doc, `$.results[0].c`) {
		return nil, fail(ErrInvalidSymbol, "%s: no data found for symbol %s", p.name, sym)
	}

	r := &fieldReader{doc: doc}
	closePx := r.dec(`$.results[0].c`)
	openPx := r.dec(`$.results[0].o`)
	high := r.dec(`$.results[0].h`)
	low := r.dec(`$.results[0].l`)
	if r.err != nil {
		return nil, fail(ErrUnavailable, "%s: %v", p.name, r.err)
	}

	change := closePx.Sub(openPx)
	pct := decimal.Zero
	if !openPx.IsZero() {
		pct = change.Div(openPx).Mul(hundred)
	}

	q := &model.Quote{
		Symbol:        sym,
		Name:          symbol.CompanyName(sym),
		Price:         closePx,
		Change:        change,
		ChangePercent: model.FormatPercent(pct),
		Volume:        int64At(doc, `$.results[0].v`),
		PreviousClose: openPx,
		Open:          openPx,
		High:          high,
		Low:           low,
		Source:        p.name,
	}
	return finish(q, p.name)
}
