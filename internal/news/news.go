// Package news serves market and company headlines. Upstream failures are
// logged and answered with an empty list.
package news

import (
	"context"
	"log/slog"
	"time"

	"github.com/stockdash/portfolio-engine/internal/metrics"
	"github.com/stockdash/portfolio-engine/internal/model"
	"github.com/stockdash/portfolio-engine/internal/provider"
	"github.com/stockdash/portfolio-engine/internal/symbol"
)

const (
	DefaultMarketLimit  = 10
	DefaultCompanyLimit = 5
	MaxLimit            = 50

	// Window is how far back company news reaches.
	Window = 7 * 24 * time.Hour
)

// Service fans requests out to the configured feeds. Either may be nil.
type Service struct {
	market  provider.MarketNewsSource
	company provider.CompanyNewsSource
	now     func() time.Time
}

// NewService creates a news service.
func NewService(market provider.MarketNewsSource, company provider.CompanyNewsSource) *Service {
	return &Service{market: market, company: company, now: time.Now}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// clamp maps a non-positive limit to def and caps it at MaxLimit.
func clamp(limit, def int) int {
	if limit <= 0 {
		return def
	}
	return min(limit, MaxLimit)
}

// Market returns up to limit general market headlines.
func (s *Service) Market(ctx context.Context, limit int) []model.Article {
	limit = clamp(limit, DefaultMarketLimit)
	if s.market == nil {
		return []model.Article{}
	}
	articles, err := s.market.MarketNews(ctx, limit)
	if err != nil {
		metrics.NewsFallbacks.WithLabelValues("market").Inc()
		slog.Warn("market news failed", "source", s.market.Name(), "err", err)
		return []model.Article{}
	}
	return articles
}

// Company returns up to limit headlines about sym from the last Window.
// Only a malformed symbol is an error.
func (s *Service) Company(ctx context.Context, sym string, limit int) (string, []model.Article, error) {
	norm, err := symbol.Normalize(sym)
	if err != nil {
		return "", nil, err
	}
	limit = clamp(limit, DefaultCompanyLimit)
	if s.company == nil {
		return norm, []model.Article{}, nil
	}

	to := s.now().UTC()
	articles, err := s.company.CompanyNews(ctx, norm, to.Add(-Window), to, limit)
	if err != nil {
		metrics.NewsFallbacks.WithLabelValues("company").Inc()
		slog.Warn("company news failed", "source", s.company.Name(), "symbol", norm, "err", err)
		return norm, []model.Article{}, nil
	}
	return norm, articles, nil
}
