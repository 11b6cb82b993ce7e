package provider

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockdash/portfolio-engine/internal/model"
	"github.com/stockdash/portfolio-engine/internal/symbol"
)

const (
	alphaVantageName = "alphavantage"
	alphaVantageBase = "https://www.alphavantage.co"
	alphaVantageRate = 5

	maxSearchResults  = 10
	maxIntradayPoints = 100
)

// AlphaVantage serves quotes, symbol search and intraday series.
type AlphaVantage struct {
	*client
}

// NewAlphaVantage creates an Alpha Vantage provider.
func NewAlphaVantage(cfg Config) *AlphaVantage {
	return &AlphaVantage{client: newClient(alphaVantageName, alphaVantageBase, alphaVantageRate, cfg)}
}

func (p *AlphaVantage) query(ctx context.Context, params url.Values) (any, error) {
	params.Set("apikey", p.apiKey)
	doc, err := p.getJSON(ctx, "/query", params)
	if err != nil {
		return nil, err
	}
	// Alpha Vantage reports errors in-band with HTTP 200.
	if msg := stringAt(doc, `$["Error Message"]`); msg != "" {
		return nil, fail(ErrInvalidSymbol, "%s: %s", p.name, msg)
	}
	if msg := stringAt(doc, `$["Note"]`); msg != "" {
		return nil, fail(ErrRateLimited, "%s: %s", p.name, msg)
	}
	if msg := stringAt(doc, `$["Information"]`); msg != "" {
		return nil, fail(ErrRateLimited, "%s: %s", p.name, msg)
	}
	return doc, nil
}

// FetchQuote maps the GLOBAL_QUOTE payload.
func (p *AlphaVantage) FetchQuote(ctx context.Context, sym string) (*model.Quote, error) {
	doc, err := p.query(ctx, url.Values{"function": {"GLOBAL_QUOTE"}, "symbol": {sym}})
	if err != nil {
		return nil, err
	}
	if !has(doc, `$["Global Quote"]["05. price"]`) {
		return nil, fail(ErrInvalidSymbol, "%s: no data found for symbol %s", p.name, sym)
	}

	const gq = `$["Global Quote"]`
	r := &fieldReader{doc: doc}
	q := &model.Quote{
		Symbol:        strings.ToUpper(stringAt(doc, gq+`["01. symbol"]`)),
		Name:          symbol.CompanyName(sym),
		Price:         r.dec(gq + `["05. price"]`),
		Change:        r.dec(gq + `["09. change"]`),
		ChangePercent: model.FormatPercent(r.dec(gq + `["10. change percent"]`)),
		Volume:        int64At(doc, gq+`["06. volume"]`),
		PreviousClose: r.dec(gq + `["08. previous close"]`),
		Open:          r.dec(gq + `["02. open"]`),
		High:          r.dec(gq + `["03. high"]`),
		Low:           r.dec(gq + `["04. low"]`),
		Source:        p.name,
	}
	if r.err != nil {
		return nil, fail(ErrUnavailable, "%s: %v", p.name, r.err)
	}
	if q.Symbol == "" {
		q.Symbol = sym
	}
	return finish(q, p.name)
}

// Search maps SYMBOL_SEARCH best matches, keeping the top ten.
func (p *AlphaVantage) Search(ctx context.Context, query string) ([]model.SearchResult, error) {
	doc, err := p.query(ctx, url.Values{"function": {"SYMBOL_SEARCH"}, "keywords": {query}})
	if err != nil {
		return nil, err
	}
	matches, _ := lookup(doc, `$.bestMatches`)
	list, _ := matches.([]any)
	if m, ok := matches.(map[string]any); ok {
		list = []any{m}
	}

	results := make([]model.SearchResult, 0, min(len(list), maxSearchResults))
	for _, m := range list {
		if len(results) == maxSearchResults {
			break
		}
		results = append(results, model.SearchResult{
			Symbol:   stringAt(m, `$["1. symbol"]`),
			Name:     stringAt(m, `$["2. name"]`),
			Type:     stringAt(m, `$["3. type"]`),
			Region:   stringAt(m, `$["4. region"]`),
			Currency: stringAt(m, `$["8. currency"]`),
		})
	}
	return results, nil
}

// Intraday maps TIME_SERIES_INTRADAY into the most recent points, ascending.
func (p *AlphaVantage) Intraday(ctx context.Context, sym, interval string) ([]model.ChartPoint, error) {
	doc, err := p.query(ctx, url.Values{
		"function": {"TIME_SERIES_INTRADAY"},
		"symbol":   {sym},
		"interval": {interval},
	})
	if err != nil {
		return nil, err
	}
	raw, ok := lookup(doc, fmt.Sprintf(`$["Time Series (%s)"]`, interval))
	series, isMap := raw.(map[string]any)
	if !ok || !isMap || len(series) == 0 {
		return nil, fail(ErrInvalidSymbol, "%s: no intraday data for %s", p.name, sym)
	}

	stamps := make([]string, 0, len(series))
	for ts := range series {
		stamps = append(stamps, ts)
	}
	sort.Strings(stamps)
	if len(stamps) > maxIntradayPoints {
		stamps = stamps[len(stamps)-maxIntradayPoints:]
	}

	points := make([]model.ChartPoint, 0, len(stamps))
	for _, ts := range stamps {
		at, err := time.Parse(time.DateTime, ts)
		if err != nil {
			return nil, fail(ErrUnavailable, "%s: bad timestamp %q", p.name, ts)
		}
		bar := series[ts]
		points = append(points, model.ChartPoint{
			Timestamp: at.UTC(),
			Open:      decimalOr(bar, `$["1. open"]`, decimal.Zero).InexactFloat64(),
			High:      decimalOr(bar, `$["2. high"]`, decimal.Zero).InexactFloat64(),
			Low:       decimalOr(bar, `$["3. low"]`, decimal.Zero).InexactFloat64(),
			Close:     decimalOr(bar, `$["4. close"]`, decimal.Zero).InexactFloat64(),
			Volume:    int64At(bar, `$["5. volume"]`),
		})
	}
	return points, nil
}

// finish derives IsPositive, stamps the fetch time and validates the result.
func finish(q *model.Quote, name string) (*model.Quote, error) {
	q.Normalize()
	q.LastUpdated = time.Now().UTC()
	if err := q.Validate(); err != nil {
		return nil, fail(ErrUnavailable, "%s: %v", name, err)
	}
	return q, nil
}
