package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/stockdash/portfolio-engine/internal/chart"
	"github.com/stockdash/portfolio-engine/internal/ledger"
	"github.com/stockdash/portfolio-engine/internal/profile"
	"github.com/stockdash/portfolio-engine/internal/quote"
	"github.com/stockdash/portfolio-engine/internal/symbol"
)

// statusFor maps domain errors to HTTP status codes. Anything unrecognised
// is a 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, symbol.ErrInvalid),
		errors.Is(err, ledger.ErrInvalidTrade),
		errors.Is(err, ledger.ErrInsufficientShares),
		errors.Is(err, chart.ErrInvalidInterval),
		errors.Is(err, profile.ErrInvalidProfile),
		errors.Is(err, quote.ErrUnknownProvider):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrSymbolNotFound),
		errors.Is(err, ledger.ErrNoSuchHolding),
		errors.Is(err, quote.ErrAllProvidersFailed):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrConcurrentUpdate):
		return http.StatusConflict
	case errors.Is(err, quote.ErrUpstreamUnavailable),
		errors.Is(err, quote.ErrSearchUnsupported):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// messages for errors whose text is not meant for clients.
var publicMessages = map[error]string{
	ledger.ErrSymbolNotFound:     "stock not found",
	ledger.ErrNoSuchHolding:      "stock not found in portfolio",
	ledger.ErrInsufficientShares: "insufficient shares to sell",
	ledger.ErrConcurrentUpdate:   "holding changed concurrently, retry",
	quote.ErrUpstreamUnavailable: "quote data is temporarily unavailable",
	quote.ErrSearchUnsupported:   "symbol search is not configured",
}

// writeDomainError writes err with the status statusFor picks. Internal
// errors are logged and hidden from the client.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, "internal server error", status)
		return
	}

	var failed *quote.AllProvidersFailedError
	if errors.As(err, &failed) {
		writeJSON(w, status, map[string]any{
			"error":    "stock not found: all providers failed for " + failed.Symbol,
			"attempts": failed.Attempts,
		})
		return
	}

	msg := err.Error()
	for target, public := range publicMessages {
		if errors.Is(err, target) {
			msg = public
			break
		}
	}
	writeError(w, msg, status)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response encode failed", "err", err)
	}
}
