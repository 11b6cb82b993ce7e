package provider

import (
	"context"
	"encoding/json"
	"net/url"
	"sort"
	"time"

	"github.com/stockdash/portfolio-engine/internal/model"
)

const (
	yahooName = "yahoo"
	yahooBase = "https://query1.finance.yahoo.com"
	yahooRate = 60
)

// yahooIntervals maps our interval names to Yahoo's.
var yahooIntervals = map[string]string{
	"1min":  "1m",
	"5min":  "5m",
	"15min": "15m",
	"30min": "30m",
	"60min": "60m",
}

// Yahoo is a keyless intraday chart source backed by the v8 chart API.
type Yahoo struct {
	*client
}

// NewYahoo creates a Yahoo Finance chart source.
func NewYahoo(cfg Config) *Yahoo {
	return &Yahoo{client: newClient(yahooName, yahooBase, yahooRate, cfg)}
}

// yahooChart is the response structure from the chart API.
type yahooChart struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func at(vals []*float64, i int) float64 {
	if i >= len(vals) || vals[i] == nil {
		return 0
	}
	return *vals[i]
}

func (p *Yahoo) Intraday(ctx context.Context, sym, interval string) ([]model.ChartPoint, error) {
	yi, ok := yahooIntervals[interval]
	if !ok {
		return nil, fail(ErrUnavailable, "%s: unsupported interval %s", p.name, interval)
	}
	body, err := p.get(ctx, "/v8/finance/chart/"+url.PathEscape(sym),
		url.Values{"interval": {yi}, "range": {"1d"}})
	if err != nil {
		return nil, err
	}

	var chart yahooChart
	if err := json.Unmarshal(body, &chart); err != nil {
		return nil, fail(ErrUnavailable, "%s: decode: %v", p.name, err)
	}
	if chart.Chart.Error != nil {
		return nil, fail(ErrInvalidSymbol, "%s: %s", p.name, chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 || len(chart.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, fail(ErrInvalidSymbol, "%s: no data returned for %s", p.name, sym)
	}

	result := chart.Chart.Result[0]
	quote := result.Indicators.Quote[0]
	points := make([]model.ChartPoint, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		o, h, l, c := at(quote.Open, i), at(quote.High, i), at(quote.Low, i), at(quote.Close, i)
		if o == 0 && h == 0 && l == 0 && c == 0 {
			continue // null bars
		}
		points = append(points, model.ChartPoint{
			Timestamp: time.Unix(ts, 0).UTC(),
			Open:      o,
			High:      h,
			Low:       l,
			Close:     c,
			Volume:    int64(at(quote.Volume, i)),
		})
	}

	sort.Slice(points, func(i, j int) bool { return points[i].Timestamp.Before(points[j].Timestamp) })
	if len(points) > maxIntradayPoints {
		points = points[len(points)-maxIntradayPoints:]
	}
	return points, nil
}
