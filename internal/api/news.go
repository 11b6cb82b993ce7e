package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// limitParam reads ?limit=. Absent means 0, which the news service maps to
// its default.
func limitParam(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	return n, err == nil
}

// GetMarketNews handles GET /api/v1/news/market
func (s *Service) GetMarketNews(w http.ResponseWriter, r *http.Request) {
	limit, ok := limitParam(r)
	if !ok {
		writeError(w, "limit must be an integer", http.StatusBadRequest)
		return
	}
	articles := s.news.Market(r.Context(), limit)
	writeJSON(w, http.StatusOK, NewsResponse{Count: len(articles), News: articles})
}

// GetCompanyNews handles GET /api/v1/news/{symbol}
func (s *Service) GetCompanyNews(w http.ResponseWriter, r *http.Request) {
	limit, ok := limitParam(r)
	if !ok {
		writeError(w, "limit must be an integer", http.StatusBadRequest)
		return
	}
	sym, articles, err := s.news.Company(r.Context(), chi.URLParam(r, "symbol"), limit)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NewsResponse{Symbol: sym, Count: len(articles), News: articles})
}
