// Package api provides the HTTP handlers for quotes, charts, portfolios and
// user profiles, plus the WebSocket push channel.
//
// All monetary values use shopspring/decimal, never float64 for money.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/stockdash/portfolio-engine/internal/ledger"
	"github.com/stockdash/portfolio-engine/internal/model"
	"github.com/stockdash/portfolio-engine/internal/profile"
	"github.com/stockdash/portfolio-engine/internal/quote"
	"github.com/stockdash/portfolio-engine/internal/store"
)

// Quotes serves cached quotes.
type Quotes interface {
	Get(ctx context.Context, symbol string) (*model.Quote, error)
	List(ctx context.Context, refresh bool) ([]model.Quote, error)
}

// Providers exposes the provider chain.
type Providers interface {
	Search(ctx context.Context, query string) ([]model.SearchResult, error)
	SetPrimary(name string) error
	Status() []quote.ProviderStatus
}

// Charts serves intraday series.
type Charts interface {
	Series(ctx context.Context, symbol, interval string) (*model.ChartSeries, error)
}

// Ledger executes trades.
type Ledger interface {
	Buy(ctx context.Context, userID, symbol string, qty int64, price decimal.Decimal) (*model.Holding, error)
	Sell(ctx context.Context, userID, symbol string, qty int64, price decimal.Decimal) (*ledger.SaleResult, error)
	Trades(ctx context.Context, userID string) ([]model.Trade, error)
}

// Valuator builds portfolio views.
type Valuator interface {
	Valuate(ctx context.Context, userID string) (*model.Portfolio, error)
}

// Profiles reads and patches user profiles.
type Profiles interface {
	Get(ctx context.Context, userID string) (*model.Profile, error)
	Update(ctx context.Context, userID string, patch *profile.Patch) (*model.Profile, error)
}

// News serves headlines. Upstream failures come back as empty lists.
type News interface {
	Market(ctx context.Context, limit int) []model.Article
	Company(ctx context.Context, symbol string, limit int) (string, []model.Article, error)
}

// Stats reports storage row counts.
type Stats interface {
	Stats(ctx context.Context) (*store.Stats, error)
}

// Service holds the handler dependencies.
type Service struct {
	quotes    Quotes
	providers Providers
	charts    Charts
	ledger    Ledger
	valuator  Valuator
	profiles  Profiles
	news      News
	stats     Stats
}

// Deps lists what NewService needs.
type Deps struct {
	Quotes    Quotes
	Providers Providers
	Charts    Charts
	Ledger    Ledger
	Valuator  Valuator
	Profiles  Profiles
	News      News
	Stats     Stats
}

// NewService creates the handler set.
func NewService(d Deps) *Service {
	return &Service{
		quotes:    d.Quotes,
		providers: d.Providers,
		charts:    d.Charts,
		ledger:    d.Ledger,
		valuator:  d.Valuator,
		profiles:  d.Profiles,
		news:      d.News,
		stats:     d.Stats,
	}
}

// minSearchLen is the shortest accepted search query.
const minSearchLen = 2

// --- Request/Response types ---

// TradeRequest is the JSON body for POST /portfolio/buy and /portfolio/sell.
type TradeRequest struct {
	Symbol   string          `json:"symbol"`
	Quantity int64           `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// BuyResponse is returned from POST /portfolio/buy.
type BuyResponse struct {
	Message string         `json:"message"`
	Holding *model.Holding `json:"holding"`
}

// SellResponse is returned from POST /portfolio/sell.
type SellResponse struct {
	Message string `json:"message"`
	*ledger.SaleResult
}

// StatusResponse is returned from GET /status.
type StatusResponse struct {
	Providers []quote.ProviderStatus `json:"providers"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewsResponse is returned from GET /news/market and /news/{symbol}.
type NewsResponse struct {
	Symbol string          `json:"symbol,omitempty"`
	Count  int             `json:"count"`
	News   []model.Article `json:"news"`
}

// StatsResponse is returned from GET /stats.
type StatsResponse struct {
	Database  *store.Stats `json:"database"`
	Timestamp time.Time    `json:"timestamp"`
}

// SetPrimaryRequest is the JSON body for PUT /status/primary.
type SetPrimaryRequest struct {
	Provider string `json:"provider"`
}

// --- Quote handlers ---

// ListStocks handles GET /api/v1/stocks
func (s *Service) ListStocks(w http.ResponseWriter, r *http.Request) {
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	quotes, err := s.quotes.List(r.Context(), refresh)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if quotes == nil {
		quotes = []model.Quote{}
	}
	writeJSON(w, http.StatusOK, quotes)
}

// SearchStocks handles GET /api/v1/stocks/search?q=
func (s *Service) SearchStocks(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if len(q) < minSearchLen {
		writeError(w, "search query must be at least 2 characters", http.StatusBadRequest)
		return
	}
	results, err := s.providers.Search(r.Context(), q)
	switch {
	case errors.Is(err, quote.ErrSearchUnsupported):
		writeDomainError(w, r, err)
		return
	case err != nil:
		writeError(w, "search failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	if results == nil {
		results = []model.SearchResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

// GetStock handles GET /api/v1/stocks/{symbol}
func (s *Service) GetStock(w http.ResponseWriter, r *http.Request) {
	q, err := s.quotes.Get(r.Context(), chi.URLParam(r, "symbol"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// GetChart handles GET /api/v1/stocks/{symbol}/chart?interval=
// Upstream failures are answered with a synthetic series, flagged in the
// X-Chart-Synthetic header.
func (s *Service) GetChart(w http.ResponseWriter, r *http.Request) {
	series, err := s.charts.Series(r.Context(), chi.URLParam(r, "symbol"), r.URL.Query().Get("interval"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.Header().Set("X-Chart-Synthetic", strconv.FormatBool(series.Synthetic))
	writeJSON(w, http.StatusOK, series)
}

// GetStatus handles GET /api/v1/status
func (s *Service) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Providers: s.providers.Status(),
		Timestamp: time.Now().UTC(),
	})
}

// GetStats handles GET /api/v1/stats
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.stats.Stats(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StatsResponse{Database: st, Timestamp: time.Now().UTC()})
}

// SetPrimary handles PUT /api/v1/status/primary
func (s *Service) SetPrimary(w http.ResponseWriter, r *http.Request) {
	var req SetPrimaryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Provider == "" {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.providers.SetPrimary(strings.ToLower(req.Provider)); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		Providers: s.providers.Status(),
		Timestamp: time.Now().UTC(),
	})
}
