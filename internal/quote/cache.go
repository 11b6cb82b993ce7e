package quote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/stockdash/portfolio-engine/internal/metrics"
	"github.com/stockdash/portfolio-engine/internal/model"
	"github.com/stockdash/portfolio-engine/internal/store"
	"github.com/stockdash/portfolio-engine/internal/symbol"
)

// DefaultMaxAge is the staleness threshold for single-symbol reads.
const DefaultMaxAge = 5 * time.Minute

// ErrUpstreamUnavailable is returned by List when a required refresh left
// the cache empty.
var ErrUpstreamUnavailable = errors.New("quote: upstream unavailable")

// Store is the slice of persistence the cache needs.
type Store interface {
	UpsertQuote(ctx context.Context, q *model.Quote) error
	GetQuote(ctx context.Context, symbol string) (*model.Quote, error)
	ListQuotes(ctx context.Context) ([]model.Quote, error)
}

// Source fetches quotes from upstream. *Aggregator implements it.
type Source interface {
	GetQuote(ctx context.Context, symbol string) (*model.Quote, error)
	GetMultipleQuotes(ctx context.Context, symbols []string) []model.Quote
}

// CacheConfig tunes a Cache. Zero values select defaults.
type CacheConfig struct {
	Universe []string         // symbols refreshed by bulk listing
	MaxAge   time.Duration    // single-symbol staleness threshold
	Now      func() time.Time // clock, for tests
	Pick     func(n int) int  // random index in [0, n), for tests
}

// Cache keeps the latest quote per symbol. Concurrent refreshes of the same
// symbol are not deduplicated; the last write wins.
type Cache struct {
	store    Store
	source   Source
	universe []string
	maxAge   time.Duration
	now      func() time.Time
	pick     func(n int) int
}

// NewCache creates a quote cache over st, refreshing from src.
func NewCache(st Store, src Source, cfg CacheConfig) *Cache {
	c := &Cache{
		store:    st,
		source:   src,
		universe: cfg.Universe,
		maxAge:   cfg.MaxAge,
		now:      cfg.Now,
		pick:     cfg.Pick,
	}
	if len(c.universe) == 0 {
		c.universe = symbol.Popular()
	}
	if c.maxAge <= 0 {
		c.maxAge = DefaultMaxAge
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.pick == nil {
		c.pick = rand.IntN
	}
	return c
}

// Get returns a quote no older than the default threshold.
func (c *Cache) Get(ctx context.Context, sym string) (*model.Quote, error) {
	return c.GetFresh(ctx, sym, c.maxAge)
}

// GetFresh returns the stored quote if younger than maxAge, otherwise
// refreshes it from upstream and stores the result.
func (c *Cache) GetFresh(ctx context.Context, sym string, maxAge time.Duration) (*model.Quote, error) {
	sym, err := symbol.Normalize(sym)
	if err != nil {
		return nil, err
	}

	cached, err := c.store.GetQuote(ctx, sym)
	switch {
	case err == nil && c.now().Sub(cached.LastUpdated) < maxAge:
		metrics.QuoteCacheLookups.WithLabelValues("hit").Inc()
		return cached, nil
	case err == nil:
		metrics.QuoteCacheLookups.WithLabelValues("stale").Inc()
	case errors.Is(err, store.ErrNotFound):
		metrics.QuoteCacheLookups.WithLabelValues("miss").Inc()
	default:
		return nil, fmt.Errorf("read cached quote %s: %w", sym, err)
	}

	return c.refresh(ctx, sym)
}

// refresh fetches sym upstream and upserts it stamped with the current time.
func (c *Cache) refresh(ctx context.Context, sym string) (*model.Quote, error) {
	q, err := c.source.GetQuote(ctx, sym)
	if err != nil {
		return nil, err
	}
	if err := c.put(ctx, sym, q); err != nil {
		return nil, err
	}
	return q, nil
}

func (c *Cache) put(ctx context.Context, sym string, q *model.Quote) error {
	q.Symbol = sym
	q.LastUpdated = c.now().UTC()
	if err := c.store.UpsertQuote(ctx, q); err != nil {
		return fmt.Errorf("store quote %s: %w", sym, err)
	}
	return nil
}

// List returns every stored quote. When the store is empty or refresh is
// set, the whole universe is fetched first. Per-row staleness is ignored.
func (c *Cache) List(ctx context.Context, refresh bool) ([]model.Quote, error) {
	quotes, err := c.store.ListQuotes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list quotes: %w", err)
	}
	if len(quotes) > 0 && !refresh {
		return quotes, nil
	}

	if err := c.refreshAll(ctx, c.universe); err != nil {
		return nil, err
	}

	quotes, err = c.store.ListQuotes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list quotes: %w", err)
	}
	if len(quotes) == 0 {
		return nil, ErrUpstreamUnavailable
	}
	return quotes, nil
}

func (c *Cache) refreshAll(ctx context.Context, symbols []string) error {
	fetched := c.source.GetMultipleQuotes(ctx, symbols)
	for i := range fetched {
		q := &fetched[i]
		if err := c.put(ctx, q.Symbol, q); err != nil {
			return err
		}
	}
	slog.Info("quotes refreshed", "requested", len(symbols), "stored", len(fetched))
	return nil
}

// All returns the stored quotes without touching upstream.
func (c *Cache) All(ctx context.Context) ([]model.Quote, error) {
	return c.store.ListQuotes(ctx)
}

// Lookup returns the stored quote without refreshing. ok is false when the
// symbol has never been cached.
func (c *Cache) Lookup(ctx context.Context, sym string) (q *model.Quote, ok bool, err error) {
	q, err = c.store.GetQuote(ctx, sym)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return q, true, nil
}

// Exists reports whether sym is part of the known quote universe.
func (c *Cache) Exists(ctx context.Context, sym string) (bool, error) {
	_, ok, err := c.Lookup(ctx, sym)
	return ok, err
}

// RefreshRandom refreshes one randomly chosen stored symbol. It returns
// (nil, nil) when nothing is stored yet.
func (c *Cache) RefreshRandom(ctx context.Context) (*model.Quote, error) {
	quotes, err := c.store.ListQuotes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list quotes: %w", err)
	}
	if len(quotes) == 0 {
		return nil, nil
	}
	sym := quotes[c.pick(len(quotes))].Symbol
	return c.refresh(ctx, sym)
}

// Seed loads the first n universe symbols when the store is empty.
func (c *Cache) Seed(ctx context.Context, n int) error {
	quotes, err := c.store.ListQuotes(ctx)
	if err != nil {
		return fmt.Errorf("list quotes: %w", err)
	}
	if len(quotes) > 0 {
		return nil
	}
	syms := c.universe
	if n > 0 && n < len(syms) {
		syms = syms[:n]
	}
	return c.refreshAll(ctx, syms)
}
