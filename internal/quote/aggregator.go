// Package quote resolves quotes through an ordered chain of providers and
// keeps the latest quote per symbol in the store.
package quote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/stockdash/portfolio-engine/internal/metrics"
	"github.com/stockdash/portfolio-engine/internal/model"
	"github.com/stockdash/portfolio-engine/internal/provider"
)

var (
	ErrAllProvidersFailed = errors.New("quote: all providers failed")
	ErrUnknownProvider    = errors.New("quote: unknown provider")
	ErrNoProviders        = errors.New("quote: no providers configured")
	ErrSearchUnsupported  = errors.New("quote: symbol search not configured")
)

// Attempt records one provider's failure inside an aggregated lookup.
type Attempt struct {
	Provider string        `json:"provider"`
	Kind     provider.Kind `json:"kind"`
	Message  string        `json:"message"`
}

// AllProvidersFailedError lists, in call order, why each provider failed.
type AllProvidersFailedError struct {
	Symbol   string
	Attempts []Attempt
}

func (e *AllProvidersFailedError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = a.Provider + ": " + a.Message
	}
	return fmt.Sprintf("quote: all providers failed for %s: %s", e.Symbol, strings.Join(parts, "; "))
}

// Is makes errors.Is(err, ErrAllProvidersFailed) match.
func (e *AllProvidersFailedError) Is(target error) bool {
	return target == ErrAllProvidersFailed
}

// Aggregator tries a primary provider, then each fallback in order, and
// returns the first success. It never retries within a provider.
type Aggregator struct {
	mu        sync.RWMutex
	providers []provider.Provider // index 0 is primary
	searcher  provider.Searcher
}

// NewAggregator creates an aggregator. providers[0] is the primary.
// searcher may be nil if symbol search is not needed.
func NewAggregator(providers []provider.Provider, searcher provider.Searcher) (*Aggregator, error) {
	if len(providers) == 0 {
		return nil, ErrNoProviders
	}
	return &Aggregator{
		providers: append([]provider.Provider(nil), providers...),
		searcher:  searcher,
	}, nil
}

func (a *Aggregator) chain() []provider.Provider {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]provider.Provider(nil), a.providers...)
}

// GetQuote returns the first provider's successful quote, or an
// *AllProvidersFailedError with one attempt per provider.
func (a *Aggregator) GetQuote(ctx context.Context, symbol string) (*model.Quote, error) {
	chain := a.chain()
	attempts := make([]Attempt, 0, len(chain))

	for i, p := range chain {
		start := time.Now()
		q, err := p.FetchQuote(ctx, symbol)
		metrics.ProviderLatency.WithLabelValues(p.Name()).Observe(time.Since(start).Seconds())

		if err == nil {
			metrics.ProviderRequests.WithLabelValues(p.Name(), "ok").Inc()
			if i > 0 {
				slog.Info("quote served by fallback", "symbol", symbol, "provider", p.Name(), "failed", len(attempts))
			}
			return q, nil
		}

		kind := provider.KindOf(err)
		metrics.ProviderRequests.WithLabelValues(p.Name(), string(kind)).Inc()
		slog.Warn("provider failed", "symbol", symbol, "provider", p.Name(), "kind", kind, "err", err)
		attempts = append(attempts, Attempt{Provider: p.Name(), Kind: kind, Message: err.Error()})
	}

	metrics.AggregationFailures.Inc()
	return nil, &AllProvidersFailedError{Symbol: symbol, Attempts: attempts}
}

// GetMultipleQuotes fetches symbols sequentially in input order. Symbols
// whose lookup fails are logged and skipped.
func (a *Aggregator) GetMultipleQuotes(ctx context.Context, symbols []string) []model.Quote {
	quotes := make([]model.Quote, 0, len(symbols))
	for i, sym := range symbols {
		if ctx.Err() != nil {
			slog.Warn("bulk quote fetch cancelled", "remaining", len(symbols)-i, "err", ctx.Err())
			break
		}
		q, err := a.GetQuote(ctx, sym)
		if err != nil {
			slog.Warn("skipping symbol", "symbol", sym, "err", err)
			continue
		}
		quotes = append(quotes, *q)
	}
	return quotes
}

// Search delegates to the configured searcher.
func (a *Aggregator) Search(ctx context.Context, query string) ([]model.SearchResult, error) {
	if a.searcher == nil {
		return nil, ErrSearchUnsupported
	}
	return a.searcher.Search(ctx, query)
}

// SetPrimary moves the named provider to the front, keeping the relative
// order of the others.
func (a *Aggregator) SetPrimary(name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i, p := range a.providers {
		if p.Name() != name {
			continue
		}
		reordered := make([]provider.Provider, 0, len(a.providers))
		reordered = append(reordered, p)
		reordered = append(reordered, a.providers[:i]...)
		reordered = append(reordered, a.providers[i+1:]...)
		a.providers = reordered
		slog.Info("primary provider switched", "provider", name)
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnknownProvider, name)
}

// ProviderStatus describes one provider in the chain.
type ProviderStatus struct {
	provider.Stats
	Primary  bool `json:"primary"`
	Position int  `json:"position"`
}

// Status reports each provider's position and pacing counters.
func (a *Aggregator) Status() []ProviderStatus {
	chain := a.chain()
	out := make([]ProviderStatus, len(chain))
	for i, p := range chain {
		st := provider.Stats{Name: p.Name()}
		if r, ok := p.(provider.StatsReporter); ok {
			st = r.Stats()
		}
		out[i] = ProviderStatus{Stats: st, Primary: i == 0, Position: i}
	}
	return out
}
