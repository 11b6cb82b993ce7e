package provider

import (
	"context"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/stockdash/portfolio-engine/internal/model"
	"github.com/stockdash/portfolio-engine/internal/symbol"
)

const (
	iexName = "iex"
	iexBase = "https://cloud.iexapis.com/stable"
	iexRate = 100
)

var hundred = decimal.NewFromInt(100)

// IEX maps the /stock/{symbol}/quote endpoint. changePercent is a ratio.
type IEX struct {
	*client
}

// NewIEX creates an IEX Cloud provider.
func NewIEX(cfg Config) *IEX {
	return &IEX{client: newClient(iexName, iexBase, iexRate, cfg)}
}

func (p *IEX) FetchQuote(ctx context.Context, sym string) (*model.Quote, error) {
	doc, err := p.getJSON(ctx, "/stock/"+url.PathEscape(sym)+"/quote", url.Values{"token": {p.apiKey}})
	if err != nil {
		return nil, err
	}

	r := &fieldReader{doc: doc}
	q := &model.Quote{
		Symbol:        strings.ToUpper(stringAt(doc, `$.symbol`)),
		Name:          stringAt(doc, `$.companyName`),
		Price:         r.dec(`$.latestPrice`),
		Change:        decimalOr(doc, `$.change`, decimal.Zero),
		ChangePercent: model.FormatPercent(decimalOr(doc, `$.changePercent`, decimal.Zero).Mul(hundred)),
		Volume:        int64At(doc, `$.latestVolume`),
		PreviousClose: decimalOr(doc, `$.previousClose`, decimal.Zero),
		Open:          decimalOr(doc, `$.open`, decimal.Zero),
		High:          decimalOr(doc, `$.high`, decimal.Zero),
		Low:           decimalOr(doc, `$.low`, decimal.Zero),
		Source:        p.name,
	}
	if r.err != nil {
		return nil, fail(ErrUnavailable, "%s: %v", p.name, r.err)
	}
	if q.Symbol == "" {
		q.Symbol = sym
	}
	if q.Name == "" {
		q.Name = symbol.CompanyName(sym)
	}
	return finish(q, p.name)
}
