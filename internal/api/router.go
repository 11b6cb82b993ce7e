package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/stockdash/portfolio-engine/internal/auth"
	"github.com/stockdash/portfolio-engine/internal/metrics"
)

// NewRouter wires every route. hub may be nil, in which case /ws is not
// served.
func NewRouter(s *Service, hub *WSHub, authn *auth.Authenticator) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)
	r.Use(cors)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"portfolio-engine"}`))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if hub != nil {
			r.Get("/ws", hub.HandleWS)
		}

		r.Get("/stocks", s.ListStocks)
		r.Get("/stocks/search", s.SearchStocks)
		r.Get("/stocks/{symbol}", s.GetStock)
		r.Get("/stocks/{symbol}/chart", s.GetChart)
		r.Get("/status", s.GetStatus)
		r.Get("/stats", s.GetStats)

		r.Get("/news/market", s.GetMarketNews)
		r.Get("/news/{symbol}", s.GetCompanyNews)

		r.Group(func(r chi.Router) {
			r.Use(authn.Middleware)

			r.Put("/status/primary", s.SetPrimary)

			r.Get("/portfolio/{userID}", s.GetPortfolio)
			r.Get("/portfolio/{userID}/trades", s.GetTrades)
			r.Post("/portfolio/buy", s.Buy)
			r.Post("/portfolio/sell", s.Sell)

			r.Get("/users/profile", s.GetProfile)
			r.Put("/users/profile", s.UpdateProfile)
		})
	})
	return r
}

// cors allows the dashboard to call the API cross-origin.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
