package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances only when slept on.
type fakeClock struct {
	now   time.Time
	slept []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 3, 14, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.slept = append(c.slept, d)
	c.now = c.now.Add(d)
	return nil
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// captured is the last request an upstream stub saw.
type captured struct {
	URL url.URL
}

// serve starts an upstream stub that records the last request.
func serve(t *testing.T, status int, body string) (*httptest.Server, *captured) {
	t.Helper()
	last := new(captured)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		last.URL = *r.URL
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, last
}

func cfgFor(srv *httptest.Server) Config {
	return Config{APIKey: "test-key", BaseURL: srv.URL, RatePerMinute: -1}
}

// --- Pacer ---

func TestPacer_SpacesRequestsByLimit(t *testing.T) {
	clock := newFakeClock()
	p := NewPacer(5, clock)
	ctx := context.Background()

	require.Equal(t, 12*time.Second, p.MinInterval())
	start := clock.Now()

	for i := 0; i < 3; i++ {
		require.NoError(t, p.Wait(ctx))
	}

	// First call is immediate, then one slot every 12s.
	assert.Equal(t, []time.Duration{12 * time.Second, 12 * time.Second}, clock.slept)
	assert.Equal(t, start.Add(24*time.Second), clock.Now())

	count, last := p.Snapshot()
	assert.EqualValues(t, 3, count)
	assert.Equal(t, clock.Now(), last)
}

func TestPacer_NoWaitAfterIntervalElapsed(t *testing.T) {
	clock := newFakeClock()
	p := NewPacer(60, clock)
	ctx := context.Background()

	require.NoError(t, p.Wait(ctx))
	clock.now = clock.now.Add(5 * time.Second)
	require.NoError(t, p.Wait(ctx))

	assert.Empty(t, clock.slept)
}

func TestPacer_CancelledContext(t *testing.T) {
	clock := newFakeClock()
	p := NewPacer(1, clock)

	require.NoError(t, p.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Wait(ctx)
	require.Error(t, err)
	assert.Equal(t, KindUnavailable, KindOf(err))

	count, _ := p.Snapshot()
	assert.EqualValues(t, 1, count)
}

func TestPacer_Disabled(t *testing.T) {
	clock := newFakeClock()
	p := NewPacer(0, clock)
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Wait(context.Background()))
	}
	assert.Empty(t, clock.slept)
	assert.Zero(t, p.MinInterval())
}

// --- Alpha Vantage ---

const globalQuote = `{
  "Global Quote": {
    "01. symbol": "AAPL",
    "02. open": "174.2000",
    "03. high": "176.5000",
    "04. low": "173.8000",
    "05. price": "175.4300",
    "06. volume": "52345678",
    "07. latest trading day": "2025-03-03",
    "08. previous close": "176.1000",
    "09. change": "-0.6700",
    "10. change percent": "-0.3805%"
  }
}`

func TestAlphaVantage_FetchQuote(t *testing.T) {
	srv, last := serve(t, http.StatusOK, globalQuote)
	p := NewAlphaVantage(cfgFor(srv))

	q, err := p.FetchQuote(context.Background(), "AAPL")
	require.NoError(t, err)

	assert.Equal(t, "/query", last.URL.Path)
	assert.Equal(t, "GLOBAL_QUOTE", last.URL.Query().Get("function"))
	assert.Equal(t, "test-key", last.URL.Query().Get("apikey"))

	assert.Equal(t, "AAPL", q.Symbol)
	assert.Equal(t, "Apple Inc.", q.Name)
	assert.True(t, q.Price.Equal(d("175.43")))
	assert.True(t, q.Change.Equal(d("-0.67")))
	assert.Equal(t, "-0.38", q.ChangePercent)
	assert.False(t, q.IsPositive)
	assert.EqualValues(t, 52345678, q.Volume)
	assert.True(t, q.PreviousClose.Equal(d("176.10")))
	assert.True(t, q.Open.Equal(d("174.20")))
	assert.True(t, q.High.Equal(d("176.50")))
	assert.True(t, q.Low.Equal(d("173.80")))
	assert.Equal(t, "alphavantage", q.Source)
	assert.False(t, q.LastUpdated.IsZero())
}

func TestAlphaVantage_InBandErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want Kind
	}{
		{"error message", `{"Error Message": "Invalid API call."}`, KindInvalidSymbol},
		{"note", `{"Note": "Thank you for using Alpha Vantage! Our standard API call frequency is 5 calls per minute"}`, KindRateLimited},
		{"information", `{"Information": "daily limit reached"}`, KindRateLimited},
		{"empty quote", `{"Global Quote": {}}`, KindInvalidSymbol},
		{"no quote", `{}`, KindInvalidSymbol},
		{"bad number", `{"Global Quote": {"05. price": "abc"}}`, KindUnavailable},
		{"not json", `<html>`, KindUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := serve(t, http.StatusOK, tt.body)
			_, err := NewAlphaVantage(cfgFor(srv)).FetchQuote(context.Background(), "ZZZZ")
			require.Error(t, err)
			assert.Equal(t, tt.want, KindOf(err))
		})
	}
}

func TestAlphaVantage_Search(t *testing.T) {
	body := `{"bestMatches": [`
	for i := 0; i < 12; i++ {
		if i > 0 {
			body += ","
		}
		body += `{"1. symbol": "TSLA", "2. name": "Tesla Inc", "3. type": "Equity", "4. region": "United States", "8. currency": "USD"}`
	}
	body += `]}`
	srv, last := serve(t, http.StatusOK, body)

	results, err := NewAlphaVantage(cfgFor(srv)).Search(context.Background(), "tes")
	require.NoError(t, err)
	assert.Equal(t, "SYMBOL_SEARCH", last.URL.Query().Get("function"))
	assert.Equal(t, "tes", last.URL.Query().Get("keywords"))
	require.Len(t, results, 10)
	assert.Equal(t, "TSLA", results[0].Symbol)
	assert.Equal(t, "Tesla Inc", results[0].Name)
	assert.Equal(t, "Equity", results[0].Type)
	assert.Equal(t, "United States", results[0].Region)
	assert.Equal(t, "USD", results[0].Currency)
}

func TestAlphaVantage_SearchNoMatches(t *testing.T) {
	srv, _ := serve(t, http.StatusOK, `{"bestMatches": []}`)
	results, err := NewAlphaVantage(cfgFor(srv)).Search(context.Background(), "qqqqq")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestAlphaVantage_Intraday(t *testing.T) {
	body := `{
  "Meta Data": {"1. Information": "Intraday (5min)"},
  "Time Series (5min)": {
    "2025-03-03 16:00:00": {"1. open": "175.0", "2. high": "175.5", "3. low": "174.9", "4. close": "175.4", "5. volume": "1000"},
    "2025-03-03 15:50:00": {"1. open": "174.0", "2. high": "174.5", "3. low": "173.9", "4. close": "174.4", "5. volume": "800"},
    "2025-03-03 15:55:00": {"1. open": "174.5", "2. high": "175.1", "3. low": "174.3", "4. close": "175.0", "5. volume": "900"}
  }
}`
	srv, last := serve(t, http.StatusOK, body)

	points, err := NewAlphaVantage(cfgFor(srv)).Intraday(context.Background(), "AAPL", "5min")
	require.NoError(t, err)
	assert.Equal(t, "5min", last.URL.Query().Get("interval"))
	require.Len(t, points, 3)

	for i := 1; i < len(points); i++ {
		assert.True(t, points[i-1].Timestamp.Before(points[i].Timestamp), "points must ascend")
	}
	assert.Equal(t, 174.0, points[0].Open)
	assert.Equal(t, 175.4, points[2].Close)
	assert.EqualValues(t, 1000, points[2].Volume)
}

func TestAlphaVantage_IntradayMissingSeries(t *testing.T) {
	srv, _ := serve(t, http.StatusOK, `{"Meta Data": {}}`)
	_, err := NewAlphaVantage(cfgFor(srv)).Intraday(context.Background(), "AAPL", "5min")
	require.Error(t, err)
	assert.Equal(t, KindInvalidSymbol, KindOf(err))
}

// --- Finnhub ---

func TestFinnhub_FetchQuote(t *testing.T) {
	srv, last := serve(t, http.StatusOK, `{"c": 261.74, "d": 3.1, "dp": 1.1985, "h": 263.31, "l": 260.68, "o": 261.07, "pc": 258.64, "t": 1740000000}`)
	q, err := NewFinnhub(cfgFor(srv)).FetchQuote(context.Background(), "AAPL")
	require.NoError(t, err)

	assert.Equal(t, "/quote", last.URL.Path)
	assert.Equal(t, "AAPL", last.URL.Query().Get("symbol"))
	assert.Equal(t, "test-key", last.URL.Query().Get("token"))

	assert.Equal(t, "AAPL", q.Symbol)
	assert.True(t, q.Price.Equal(d("261.74")))
	assert.True(t, q.Change.Equal(d("3.1")))
	assert.Equal(t, "1.20", q.ChangePercent)
	assert.True(t, q.IsPositive)
	assert.Zero(t, q.Volume)
	assert.True(t, q.PreviousClose.Equal(d("258.64")))
}

func TestFinnhub_UnknownSymbol(t *testing.T) {
	srv, _ := serve(t, http.StatusOK, `{"c": 0, "d": null, "dp": null, "h": 0, "l": 0, "o": 0, "pc": 0, "t": 0}`)
	_, err := NewFinnhub(cfgFor(srv)).FetchQuote(context.Background(), "ZZZZ")
	require.Error(t, err)
	assert.Equal(t, KindInvalidSymbol, KindOf(err))
}

func TestFinnhub_RateLimitedStatus(t *testing.T) {
	srv, _ := serve(t, http.StatusTooManyRequests, `{"error": "API limit reached"}`)
	_, err := NewFinnhub(cfgFor(srv)).FetchQuote(context.Background(), "AAPL")
	require.Error(t, err)
	assert.Equal(t, KindRateLimited, KindOf(err))
}

// --- IEX ---

func TestIEX_FetchQuote(t *testing.T) {
	srv, last := serve(t, http.StatusOK, `{
		"symbol": "MSFT", "companyName": "Microsoft Corp.", "latestPrice": 410.5,
		"change": -2.25, "changePercent": -0.00545, "latestVolume": 21000000,
		"previousClose": 412.75, "open": 411.0, "high": 413.2, "low": 409.8}`)
	q, err := NewIEX(cfgFor(srv)).FetchQuote(context.Background(), "MSFT")
	require.NoError(t, err)

	assert.Equal(t, "/stock/MSFT/quote", last.URL.Path)
	assert.Equal(t, "Microsoft Corp.", q.Name)
	assert.True(t, q.Price.Equal(d("410.5")))
	assert.Equal(t, "-0.55", q.ChangePercent)
	assert.False(t, q.IsPositive)
	assert.EqualValues(t, 21000000, q.Volume)
}

func TestIEX_NotFound(t *testing.T) {
	srv, _ := serve(t, http.StatusNotFound, `Unknown symbol`)
	_, err := NewIEX(cfgFor(srv)).FetchQuote(context.Background(), "ZZZZ")
	require.Error(t, err)
	assert.Equal(t, KindInvalidSymbol, KindOf(err))
}

func TestIEX_NegativePriceRejected(t *testing.T) {
	srv, _ := serve(t, http.StatusOK, `{"symbol": "MSFT", "latestPrice": -1, "change": 0}`)
	_, err := NewIEX(cfgFor(srv)).FetchQuote(context.Background(), "MSFT")
	require.Error(t, err)
	assert.Equal(t, KindUnavailable, KindOf(err))
}

// --- Polygon ---

func TestPolygon_FetchQuote(t *testing.T) {
	srv, last := serve(t, http.StatusOK, `{"ticker": "TSLA", "resultsCount": 1, "results": [{"T": "TSLA", "v": 9.5e7, "o": 200, "c": 210, "h": 212.5, "l": 198.1}]}`)
	q, err := NewPolygon(cfgFor(srv)).FetchQuote(context.Background(), "TSLA")
	require.NoError(t, err)

	assert.Equal(t, "/v2/aggs/ticker/TSLA/prev", last.URL.Path)
	assert.Equal(t, "true", last.URL.Query().Get("adjusted"))
	assert.True(t, q.Price.Equal(d("210")))
	assert.True(t, q.Change.Equal(d("10")))
	assert.Equal(t, "5.00", q.ChangePercent)
	assert.True(t, q.PreviousClose.Equal(d("200")))
	assert.EqualValues(t, 95000000, q.Volume)
	assert.Equal(t, "Tesla, Inc.", q.Name)
}

func TestPolygon_EmptyResults(t *testing.T) {
	srv, _ := serve(t, http.StatusOK, `{"ticker": "ZZZZ", "resultsCount": 0, "results": []}`)
	_, err := NewPolygon(cfgFor(srv)).FetchQuote(context.Background(), "ZZZZ")
	require.Error(t, err)
	assert.Equal(t, KindInvalidSymbol, KindOf(err))
}

// --- Yahoo ---

func TestYahoo_Intraday(t *testing.T) {
	srv, last := serve(t, http.StatusOK, `{"chart": {"result": [{
		"timestamp": [1740000600, 1740000000, 1740000300],
		"indicators": {"quote": [{
			"open": [101, 100, null], "high": [102, 101, null], "low": [100, 99, null],
			"close": [101.5, 100.5, null], "volume": [500, 400, null]}]}}], "error": null}}`)

	points, err := NewYahoo(cfgFor(srv)).Intraday(context.Background(), "AAPL", "5min")
	require.NoError(t, err)
	assert.Equal(t, "/v8/finance/chart/AAPL", last.URL.Path)
	assert.Equal(t, "5m", last.URL.Query().Get("interval"))

	require.Len(t, points, 2, "null bar is skipped")
	assert.Equal(t, 100.0, points[0].Open)
	assert.Equal(t, 101.5, points[1].Close)
}

func TestYahoo_APIError(t *testing.T) {
	srv, _ := serve(t, http.StatusOK, `{"chart": {"result": null, "error": {"code": "Not Found", "description": "No data found, symbol may be delisted"}}}`)
	_, err := NewYahoo(cfgFor(srv)).Intraday(context.Background(), "ZZZZ", "5min")
	require.Error(t, err)
	assert.Equal(t, KindInvalidSymbol, KindOf(err))
}

// --- Transport ---

func TestClient_ServerErrorIsUnavailable(t *testing.T) {
	srv, _ := serve(t, http.StatusBadGateway, `oops`)
	_, err := NewFinnhub(cfgFor(srv)).FetchQuote(context.Background(), "AAPL")
	require.Error(t, err)
	assert.Equal(t, KindUnavailable, KindOf(err))
}

func TestClient_TimeoutIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	t.Cleanup(srv.Close)

	cfg := cfgFor(srv)
	cfg.Timeout = 20 * time.Millisecond
	_, err := NewFinnhub(cfg).FetchQuote(context.Background(), "AAPL")
	require.Error(t, err)
	assert.Equal(t, KindUnavailable, KindOf(err))
	assert.NotContains(t, err.Error(), "test-key")
}

func TestStats_ReportsRequests(t *testing.T) {
	srv, _ := serve(t, http.StatusOK, globalQuote)
	p := NewAlphaVantage(Config{APIKey: "k", BaseURL: srv.URL, Clock: newFakeClock()})

	_, err := p.FetchQuote(context.Background(), "AAPL")
	require.NoError(t, err)

	st := p.Stats()
	assert.Equal(t, "alphavantage", st.Name)
	assert.Equal(t, 5, st.RateLimit)
	assert.EqualValues(t, 1, st.RequestCount)
	assert.False(t, st.LastRequest.IsZero())
}

func TestNew_Registry(t *testing.T) {
	for _, name := range Names() {
		p, err := New(name, Config{})
		require.NoError(t, err)
		assert.Equal(t, name, p.Name())
	}
	_, err := New("bloomberg", Config{})
	assert.ErrorIs(t, err, ErrUnknown)
}

// --- News ---

func TestNewsAPI_MarketNews(t *testing.T) {
	srv, last := serve(t, http.StatusOK, `{
		"status": "ok",
		"totalResults": 2,
		"articles": [
			{"source": {"id": null, "name": "Reuters"}, "title": "Stocks rally", "description": "Indexes rose.",
			 "url": "https://example.com/a", "urlToImage": "https://example.com/a.png", "publishedAt": "2026-03-10T12:00:00Z"},
			{"source": {"id": null, "name": "AP"}, "title": "Later story", "description": null,
			 "url": "https://example.com/b", "urlToImage": null, "publishedAt": "2026-03-10T13:30:00Z"}
		]
	}`)
	articles, err := NewNewsAPI(cfgFor(srv)).MarketNews(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, "/everything", last.URL.Path)
	assert.Equal(t, "10", last.URL.Query().Get("pageSize"))
	assert.Equal(t, "publishedAt", last.URL.Query().Get("sortBy"))
	assert.Equal(t, "test-key", last.URL.Query().Get("apiKey"))

	require.Len(t, articles, 2)
	assert.Equal(t, "Later story", articles[0].Title)
	assert.Empty(t, articles[0].Description)
	assert.Empty(t, articles[0].ImageURL)
	assert.Equal(t, "Stocks rally", articles[1].Title)
	assert.Equal(t, "Reuters", articles[1].Source)
	assert.Equal(t, "https://example.com/a.png", articles[1].ImageURL)
	assert.Equal(t, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC), articles[1].PublishedAt)
}

func TestNewsAPI_SingleArticle(t *testing.T) {
	srv, _ := serve(t, http.StatusOK, `{"status": "ok", "articles": [
		{"source": {"name": "Reuters"}, "title": "Only one", "url": "https://example.com/a", "publishedAt": "2026-03-10T12:00:00Z"}
	]}`)
	articles, err := NewNewsAPI(cfgFor(srv)).MarketNews(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, articles, 1)
	assert.Equal(t, "Only one", articles[0].Title)
}

func TestNewsAPI_InBandErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want Kind
	}{
		{"bad key", `{"status": "error", "code": "apiKeyInvalid", "message": "Your API key is invalid."}`, KindUnavailable},
		{"rate limited", `{"status": "error", "code": "rateLimited", "message": "Too many requests."}`, KindRateLimited},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := serve(t, http.StatusOK, tt.body)
			_, err := NewNewsAPI(cfgFor(srv)).MarketNews(context.Background(), 5)
			require.Error(t, err)
			assert.Equal(t, tt.want, KindOf(err))
		})
	}
}

func TestFinnhub_CompanyNews(t *testing.T) {
	srv, last := serve(t, http.StatusOK, `[
		{"category": "company", "datetime": 1773140000, "headline": "Older", "id": 1, "image": "",
		 "related": "AAPL", "source": "Yahoo", "summary": "s1", "url": "https://example.com/1"},
		{"category": "company", "datetime": 1773150000, "headline": "Newer", "id": 2, "image": "https://example.com/2.png",
		 "related": "AAPL", "source": "MarketWatch", "summary": "s2", "url": "https://example.com/2"},
		{"category": "company", "datetime": 1773100000, "headline": "Oldest", "id": 3, "image": "",
		 "related": "AAPL", "source": "Yahoo", "summary": "s3", "url": "https://example.com/3"}
	]`)
	to := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	articles, err := NewFinnhub(cfgFor(srv)).CompanyNews(context.Background(), "AAPL", to.Add(-7*24*time.Hour), to, 2)
	require.NoError(t, err)

	assert.Equal(t, "/company-news", last.URL.Path)
	assert.Equal(t, "AAPL", last.URL.Query().Get("symbol"))
	assert.Equal(t, "2026-03-03", last.URL.Query().Get("from"))
	assert.Equal(t, "2026-03-10", last.URL.Query().Get("to"))

	require.Len(t, articles, 2)
	assert.Equal(t, "Newer", articles[0].Title)
	assert.Equal(t, "s2", articles[0].Description)
	assert.Equal(t, "MarketWatch", articles[0].Source)
	assert.Equal(t, "company", articles[0].Category)
	assert.Equal(t, time.Unix(1773150000, 0).UTC(), articles[0].PublishedAt)
	assert.Equal(t, "Older", articles[1].Title)
}

func TestFinnhub_CompanyNewsError(t *testing.T) {
	srv, _ := serve(t, http.StatusOK, `{"error": "Invalid API key"}`)
	_, err := NewFinnhub(cfgFor(srv)).CompanyNews(context.Background(), "AAPL", time.Now().Add(-time.Hour), time.Now(), 5)
	require.Error(t, err)
	assert.Equal(t, KindUnavailable, KindOf(err))
}
