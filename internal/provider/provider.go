// Package provider wraps external market-data sources. Each provider maps its
// own payload into model.Quote and paces itself against its own rate budget.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stockdash/portfolio-engine/internal/model"
)

// Error kinds. Every provider error wraps exactly one of these.
var (
	ErrInvalidSymbol = errors.New("provider: invalid symbol")
	ErrRateLimited   = errors.New("provider: rate limited")
	ErrUnavailable   = errors.New("provider: unavailable")
)

// Kind names an error class for diagnostics and JSON output.
type Kind string

const (
	KindInvalidSymbol Kind = "InvalidSymbol"
	KindRateLimited   Kind = "RateLimited"
	KindUnavailable   Kind = "Unavailable"
)

// KindOf classifies err. Unclassified errors count as Unavailable.
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrInvalidSymbol):
		return KindInvalidSymbol
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	default:
		return KindUnavailable
	}
}

func fail(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// Provider fetches a single quote from one upstream source.
type Provider interface {
	Name() string
	FetchQuote(ctx context.Context, symbol string) (*model.Quote, error)
}

// Searcher resolves free-text queries to symbols.
type Searcher interface {
	Search(ctx context.Context, query string) ([]model.SearchResult, error)
}

// ChartSource returns an ascending intraday series.
type ChartSource interface {
	Name() string
	Intraday(ctx context.Context, symbol, interval string) ([]model.ChartPoint, error)
}

// Stats is the pacing snapshot a provider reports for status endpoints.
type Stats struct {
	Name         string    `json:"name"`
	RateLimit    int       `json:"rateLimit"` // requests per minute
	RequestCount int64     `json:"requestCount"`
	LastRequest  time.Time `json:"lastRequest"`
}

// StatsReporter is implemented by providers that pace themselves.
type StatsReporter interface {
	Stats() Stats
}
