// Package metrics provides Prometheus instrumentation for the portfolio engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ProviderRequests counts upstream quote fetches by provider and outcome
	// ("ok", "InvalidSymbol", "RateLimited", "Unavailable").
	ProviderRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_provider_requests_total",
		Help: "Upstream quote provider requests",
	}, []string{"provider", "outcome"})

	// ProviderLatency tracks upstream fetch latency per provider.
	ProviderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "portfolio_provider_latency_seconds",
		Help:    "Upstream quote provider latency in seconds, including pacing waits",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30},
	}, []string{"provider"})

	// AggregationFailures counts quote requests where every provider failed.
	AggregationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portfolio_quote_all_providers_failed_total",
		Help: "Quote requests for which every provider failed",
	})

	// QuoteCacheLookups counts quote cache reads by result ("hit", "stale", "miss").
	QuoteCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_quote_cache_lookups_total",
		Help: "Quote cache lookups by result",
	}, []string{"result"})

	// TradesTotal counts executed trades, partitioned by side.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_trades_total",
		Help: "Total number of trades executed",
	}, []string{"side"})

	// TradeConflicts counts compare-and-swap retries in the ledger.
	TradeConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portfolio_trade_conflicts_total",
		Help: "Ledger writes retried after a concurrent update",
	})

	// ChartSynthetic counts chart requests served from generated data.
	ChartSynthetic = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portfolio_chart_synthetic_total",
		Help: "Chart series served from the synthetic generator",
	})

	// NewsFallbacks counts news requests answered with an empty list after an
	// upstream failure, by feed ("market", "company").
	NewsFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_news_fallbacks_total",
		Help: "News requests served empty after an upstream failure",
	}, []string{"feed"})

	// RefreshRuns counts background refresh ticks by outcome.
	RefreshRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_refresh_runs_total",
		Help: "Background quote refresh runs",
	}, []string{"outcome"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "portfolio_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "portfolio_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 5.0, 30.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for the path label to avoid high cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack passes through to the underlying writer so WebSocket upgrades work
// behind this middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
