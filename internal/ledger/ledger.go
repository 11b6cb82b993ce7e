// Package ledger owns the buy/sell arithmetic and holding lifecycle.
//
// A holding moves absent -> held on the first buy and held -> absent when
// fully sold. Cost basis is the volume-weighted average purchase price; a
// partial sell removes cost at that average and leaves it unchanged.
//
// Every mutation is a conditional write keyed on the holding version that
// was read. Any intervening write bumps the version, so a stale trade
// retries instead of overwriting it.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stockdash/portfolio-engine/internal/metrics"
	"github.com/stockdash/portfolio-engine/internal/model"
	"github.com/stockdash/portfolio-engine/internal/store"
	"github.com/stockdash/portfolio-engine/internal/symbol"
)

var (
	ErrInvalidTrade       = errors.New("ledger: invalid trade")
	ErrSymbolNotFound     = errors.New("ledger: symbol not found")
	ErrNoSuchHolding      = errors.New("ledger: no such holding")
	ErrInsufficientShares = errors.New("ledger: insufficient shares")
	ErrConcurrentUpdate   = errors.New("ledger: holding changed concurrently, retry")
)

// maxAttempts bounds compare-and-swap retries per trade.
const maxAttempts = 5

// MaxQuantity caps the shares in a single trade.
const MaxQuantity int64 = 1_000_000_000

// Store is the slice of persistence the engine needs.
type Store interface {
	GetHolding(ctx context.Context, userID, symbol string) (*model.Holding, error)
	ListHoldings(ctx context.Context, userID string) ([]model.Holding, error)
	InsertHolding(ctx context.Context, h *model.Holding) error
	UpdateHolding(ctx context.Context, h *model.Holding, expectedQty int64) error
	DeleteHolding(ctx context.Context, userID, symbol string, expectedQty int64) error
	InsertTrade(ctx context.Context, t *model.Trade) error
	ListTrades(ctx context.Context, userID string) ([]model.Trade, error)
}

// Universe answers whether a symbol is tradable.
type Universe interface {
	Exists(ctx context.Context, symbol string) (bool, error)
}

// Engine executes trades against one store.
type Engine struct {
	store    Store
	universe Universe
	now      func() time.Time
}

// NewEngine creates a ledger engine.
func NewEngine(st Store, universe Universe) *Engine {
	return &Engine{store: st, universe: universe, now: time.Now}
}

// SetClock overrides the timestamp source.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// SaleResult is what a sell returns to the caller.
type SaleResult struct {
	Symbol       string          `json:"symbol"`
	Quantity     int64           `json:"soldQuantity"`
	Price        decimal.Decimal `json:"soldPrice"`
	Total        decimal.Decimal `json:"totalValue"`
	CostBasis    decimal.Decimal `json:"costBasis"`
	RealizedGain decimal.Decimal `json:"realizedGain"`
	Remaining    *model.Holding  `json:"remaining,omitempty"` // nil when fully sold
}

func validate(userID, sym string, qty int64, price decimal.Decimal) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("%w: missing user", ErrInvalidTrade)
	}
	if qty <= 0 {
		return "", fmt.Errorf("%w: quantity must be positive, got %d", ErrInvalidTrade, qty)
	}
	if qty > MaxQuantity {
		return "", fmt.Errorf("%w: quantity %d exceeds %d", ErrInvalidTrade, qty, MaxQuantity)
	}
	if !price.IsPositive() {
		return "", fmt.Errorf("%w: price must be positive, got %s", ErrInvalidTrade, price)
	}
	norm, err := symbol.Normalize(sym)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidTrade, err)
	}
	return norm, nil
}

// Buy adds qty shares at price, creating the holding or re-averaging it.
func (e *Engine) Buy(ctx context.Context, userID, sym string, qty int64, price decimal.Decimal) (*model.Holding, error) {
	sym, err := validate(userID, sym, qty, price)
	if err != nil {
		return nil, err
	}

	known, err := e.universe.Exists(ctx, sym)
	if err != nil {
		return nil, fmt.Errorf("check symbol %s: %w", sym, err)
	}
	if !known {
		return nil, fmt.Errorf("%w: %s", ErrSymbolNotFound, sym)
	}

	cost := price.Mul(decimal.NewFromInt(qty))

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		now := e.now().UTC()
		cur, err := e.store.GetHolding(ctx, userID, sym)

		var next *model.Holding
		switch {
		case errors.Is(err, store.ErrNotFound):
			next = &model.Holding{
				UserID:        userID,
				Symbol:        sym,
				Quantity:      qty,
				AveragePrice:  price,
				TotalInvested: cost,
				CreatedAt:     now,
				UpdatedAt:     now,
				Version:       1,
			}
			err = e.store.InsertHolding(ctx, next)
		case err != nil:
			return nil, fmt.Errorf("read holding %s: %w", sym, err)
		case qty > math.MaxInt64-cur.Quantity:
			return nil, fmt.Errorf("%w: holding %s would exceed %d shares", ErrInvalidTrade, sym, int64(math.MaxInt64))
		default:
			newQty := cur.Quantity + qty
			invested := cur.TotalInvested.Add(cost)
			next = &model.Holding{
				UserID:        userID,
				Symbol:        sym,
				Quantity:      newQty,
				AveragePrice:  invested.Div(decimal.NewFromInt(newQty)),
				TotalInvested: invested,
				CreatedAt:     cur.CreatedAt,
				UpdatedAt:     now,
				Version:       cur.Version + 1,
			}
			err = e.store.UpdateHolding(ctx, next, cur.Version)
		}

		if errors.Is(err, store.ErrConflict) {
			metrics.TradeConflicts.Inc()
			slog.Warn("holding changed during buy, retrying", "user", userID, "symbol", sym, "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("write holding %s: %w", sym, err)
		}

		e.record(ctx, &model.Trade{
			UserID:       userID,
			Symbol:       sym,
			Side:         model.SideBuy,
			Quantity:     qty,
			Price:        price,
			Total:        cost,
			CostBasis:    cost,
			RealizedGain: decimal.Zero,
			Timestamp:    now,
		})
		slog.Info("buy executed",
			"user", userID,
			"symbol", sym,
			"quantity", qty,
			"price", price.String(),
			"avg_price", next.AveragePrice.StringFixed(4),
		)
		return next, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrConcurrentUpdate, sym)
}

// Sell removes qty shares. Cost leaves at the average price; selling the
// whole position deletes the holding.
func (e *Engine) Sell(ctx context.Context, userID, sym string, qty int64, price decimal.Decimal) (*SaleResult, error) {
	sym, err := validate(userID, sym, qty, price)
	if err != nil {
		return nil, err
	}
	proceeds := price.Mul(decimal.NewFromInt(qty))

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		now := e.now().UTC()
		cur, err := e.store.GetHolding(ctx, userID, sym)
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNoSuchHolding, sym)
		}
		if err != nil {
			return nil, fmt.Errorf("read holding %s: %w", sym, err)
		}
		if qty > cur.Quantity {
			return nil, fmt.Errorf("%w: requested %d, held %d", ErrInsufficientShares, qty, cur.Quantity)
		}

		var remaining *model.Holding
		var basis decimal.Decimal
		if qty == cur.Quantity {
			// Full liquidation removes all remaining cost, avoiding rounding residue.
			basis = cur.TotalInvested
			err = e.store.DeleteHolding(ctx, userID, sym, cur.Version)
		} else {
			basis = cur.AveragePrice.Mul(decimal.NewFromInt(qty))
			remaining = &model.Holding{
				UserID:        userID,
				Symbol:        sym,
				Quantity:      cur.Quantity - qty,
				AveragePrice:  cur.AveragePrice,
				TotalInvested: cur.TotalInvested.Sub(basis),
				CreatedAt:     cur.CreatedAt,
				UpdatedAt:     now,
				Version:       cur.Version + 1,
			}
			err = e.store.UpdateHolding(ctx, remaining, cur.Version)
		}

		if errors.Is(err, store.ErrConflict) {
			metrics.TradeConflicts.Inc()
			slog.Warn("holding changed during sell, retrying", "user", userID, "symbol", sym, "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("write holding %s: %w", sym, err)
		}

		gain := proceeds.Sub(basis)
		e.record(ctx, &model.Trade{
			UserID:       userID,
			Symbol:       sym,
			Side:         model.SideSell,
			Quantity:     qty,
			Price:        price,
			Total:        proceeds,
			CostBasis:    basis,
			RealizedGain: gain,
			Timestamp:    now,
		})
		slog.Info("sell executed",
			"user", userID,
			"symbol", sym,
			"quantity", qty,
			"price", price.String(),
			"realized_gain", gain.StringFixed(2),
			"closed", remaining == nil,
		)
		return &SaleResult{
			Symbol:       sym,
			Quantity:     qty,
			Price:        price,
			Total:        proceeds,
			CostBasis:    basis,
			RealizedGain: gain,
			Remaining:    remaining,
		}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrConcurrentUpdate, sym)
}

// record appends to the trade log. The holding write has already
// committed, so a log failure is reported but does not fail the trade.
func (e *Engine) record(ctx context.Context, t *model.Trade) {
	t.ID = uuid.New().String()
	if err := e.store.InsertTrade(ctx, t); err != nil {
		slog.Error("trade log append failed", "trade_id", t.ID, "user", t.UserID, "symbol", t.Symbol, "err", err)
		return
	}
	metrics.TradesTotal.WithLabelValues(t.Side).Inc()
}

// Holdings lists a user's current holdings.
func (e *Engine) Holdings(ctx context.Context, userID string) ([]model.Holding, error) {
	return e.store.ListHoldings(ctx, userID)
}

// Trades lists a user's trade history, oldest first.
func (e *Engine) Trades(ctx context.Context, userID string) ([]model.Trade, error) {
	return e.store.ListTrades(ctx, userID)
}
