package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stockdash/portfolio-engine/internal/auth"
	"github.com/stockdash/portfolio-engine/internal/model"
	"github.com/stockdash/portfolio-engine/internal/profile"
)

// ownPath rejects requests whose {userID} is not the caller.
func ownPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := chi.URLParam(r, "userID")
	if userID != auth.UserID(r.Context()) {
		writeError(w, "access denied", http.StatusForbidden)
		return "", false
	}
	return userID, true
}

func decodeTrade(w http.ResponseWriter, r *http.Request) (*TradeRequest, bool) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid input data", http.StatusBadRequest)
		return nil, false
	}
	return &req, true
}

// GetPortfolio handles GET /api/v1/portfolio/{userID}
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID, ok := ownPath(w, r)
	if !ok {
		return
	}
	p, err := s.valuator.Valuate(r.Context(), userID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetTrades handles GET /api/v1/portfolio/{userID}/trades
func (s *Service) GetTrades(w http.ResponseWriter, r *http.Request) {
	userID, ok := ownPath(w, r)
	if !ok {
		return
	}
	trades, err := s.ledger.Trades(r.Context(), userID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// Buy handles POST /api/v1/portfolio/buy
func (s *Service) Buy(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeTrade(w, r)
	if !ok {
		return
	}
	userID := auth.UserID(r.Context())

	h, err := s.ledger.Buy(r.Context(), userID, req.Symbol, req.Quantity, req.Price)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	slog.Info("stock bought",
		"user", userID,
		"symbol", h.Symbol,
		"qty", req.Quantity,
		"price", req.Price.String(),
		"avg_price", h.AveragePrice.String(),
	)
	writeJSON(w, http.StatusOK, BuyResponse{Message: "stock purchased successfully", Holding: h})
}

// Sell handles POST /api/v1/portfolio/sell
func (s *Service) Sell(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeTrade(w, r)
	if !ok {
		return
	}
	userID := auth.UserID(r.Context())

	res, err := s.ledger.Sell(r.Context(), userID, req.Symbol, req.Quantity, req.Price)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	slog.Info("stock sold",
		"user", userID,
		"symbol", res.Symbol,
		"qty", res.Quantity,
		"total", res.Total.String(),
		"realized_gain", res.RealizedGain.String(),
	)
	writeJSON(w, http.StatusOK, SellResponse{Message: "stock sold successfully", SaleResult: res})
}

// GetProfile handles GET /api/v1/users/profile
func (s *Service) GetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.profiles.Get(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// UpdateProfile handles PUT /api/v1/users/profile
func (s *Service) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	patch, err := profile.DecodePatch(r.Body)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	p, err := s.profiles.Update(r.Context(), auth.UserID(r.Context()), patch)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
