package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/shopspring/decimal"
)

// DefaultTimeout bounds every upstream HTTP call.
const DefaultTimeout = 10 * time.Second

// Config is shared by all HTTP-backed providers.
type Config struct {
	APIKey        string
	BaseURL       string // overrides the public endpoint; used by tests
	RatePerMinute int
	Timeout       time.Duration
	Clock         Clock
	HTTPClient    *http.Client
}

// client is the HTTP plumbing embedded by every provider.
type client struct {
	name    string
	baseURL string
	apiKey  string
	http    *http.Client
	pacer   *Pacer
}

func newClient(name, defaultBase string, defaultRate int, cfg Config) *client {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBase
	}
	rpm := cfg.RatePerMinute
	if rpm == 0 {
		rpm = defaultRate
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &client{
		name:    name,
		baseURL: strings.TrimRight(base, "/"),
		apiKey:  cfg.APIKey,
		http:    hc,
		pacer:   NewPacer(rpm, cfg.Clock),
	}
}

func (c *client) Name() string { return c.name }

// Stats implements StatsReporter.
func (c *client) Stats() Stats {
	count, last := c.pacer.Snapshot()
	return Stats{
		Name:         c.name,
		RateLimit:    c.pacer.perMinute,
		RequestCount: count,
		LastRequest:  last,
	}
}

// getJSON issues a GET and decodes the body into a generic document
// suitable for jsonpath lookups.
func (c *client) getJSON(ctx context.Context, path string, query url.Values) (any, error) {
	body, err := c.get(ctx, path, query)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fail(ErrUnavailable, "%s: decode: %v", c.name, err)
	}
	return doc, nil
}

// get paces, issues GET baseURL+path?query and maps the HTTP status onto
// the provider error kinds.
func (c *client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	if err := c.pacer.Wait(ctx); err != nil {
		return nil, err
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fail(ErrUnavailable, "%s: build request: %v", c.name, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "portfolio-engine/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fail(ErrUnavailable, "%s: %v", c.name, redact(err, c.apiKey))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fail(ErrUnavailable, "%s: read body: %v", c.name, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fail(ErrRateLimited, "%s: status 429", c.name)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fail(ErrInvalidSymbol, "%s: status 404", c.name)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fail(ErrUnavailable, "%s: status %d", c.name, resp.StatusCode)
	}
	return body, nil
}

// redact strips the API key from transport errors, which embed the URL.
func redact(err error, key string) string {
	msg := err.Error()
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Timeout() {
		msg = "request timed out"
	}
	if key != "" {
		msg = strings.ReplaceAll(msg, key, "REDACTED")
	}
	return msg
}

// --- jsonpath field extraction ---

// lookup evaluates path against doc. jsonpath may wrap single answers in a
// list, so a one-element list is unwrapped.
func lookup(doc any, path string) (any, bool) {
	v, err := jsonpath.Get(path, doc)
	if err != nil || v == nil {
		return nil, false
	}
	if list, ok := v.([]any); ok {
		if len(list) == 0 {
			return nil, false
		}
		if len(list) == 1 {
			return list[0], true
		}
	}
	return v, true
}

func has(doc any, path string) bool {
	_, ok := lookup(doc, path)
	return ok
}

func stringAt(doc any, path string) string {
	v, ok := lookup(doc, path)
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return decimal.NewFromFloat(s).String()
	default:
		return fmt.Sprint(s)
	}
}

// decimalAt reads a number or numeric string. A trailing "%" is stripped.
func decimalAt(doc any, path string) (decimal.Decimal, error) {
	v, ok := lookup(doc, path)
	if !ok {
		return decimal.Zero, fmt.Errorf("missing field %s", path)
	}
	switch n := v.(type) {
	case float64:
		return decimal.NewFromFloat(n), nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSuffix(strings.TrimSpace(n), "%"))
		if err != nil {
			return decimal.Zero, fmt.Errorf("field %s: %w", path, err)
		}
		return d, nil
	default:
		return decimal.Zero, fmt.Errorf("field %s: unexpected type %T", path, v)
	}
}

// decimalOr reads an optional numeric field.
func decimalOr(doc any, path string, def decimal.Decimal) decimal.Decimal {
	d, err := decimalAt(doc, path)
	if err != nil {
		return def
	}
	return d
}

func int64At(doc any, path string) int64 {
	d, err := decimalAt(doc, path)
	if err != nil {
		return 0
	}
	return d.IntPart()
}

// fieldReader reads several required decimals, keeping the first error.
type fieldReader struct {
	doc any
	err error
}

func (r *fieldReader) dec(path string) decimal.Decimal {
	if r.err != nil {
		return decimal.Zero
	}
	d, err := decimalAt(r.doc, path)
	if err != nil {
		r.err = err
	}
	return d
}
