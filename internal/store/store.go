// Package store defines the persistence interface for the portfolio engine.
// Implementations include PostgreSQL and SQLite (sources of truth), Redis
// (read-through cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/stockdash/portfolio-engine/internal/model"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when a conditional holding write loses a race:
	// the row already exists on insert, or its version changed since it was read.
	ErrConflict = errors.New("store: conflicting update")
)

// Stats counts stored rows per entity.
type Stats struct {
	Backend  string `json:"backend"`
	Quotes   int64  `json:"quotes"`
	Holdings int64  `json:"holdings"`
	Trades   int64  `json:"trades"`
	Profiles int64  `json:"profiles"`
}

// Store is the persistence interface.
type Store interface {
	// --- Quotes (one row per symbol, upsert, never deleted) ---

	// UpsertQuote inserts or overwrites the quote for q.Symbol.
	UpsertQuote(ctx context.Context, q *model.Quote) error

	// GetQuote returns the stored quote or ErrNotFound.
	GetQuote(ctx context.Context, symbol string) (*model.Quote, error)

	// ListQuotes returns all stored quotes ordered by symbol.
	ListQuotes(ctx context.Context) ([]model.Quote, error)

	// --- Holdings (one row per user+symbol, quantity > 0) ---

	// GetHolding returns the holding or ErrNotFound.
	GetHolding(ctx context.Context, userID, symbol string) (*model.Holding, error)

	// ListHoldings returns a user's holdings ordered by symbol.
	ListHoldings(ctx context.Context, userID string) ([]model.Holding, error)

	// InsertHolding creates a holding; ErrConflict if one exists.
	InsertHolding(ctx context.Context, h *model.Holding) error

	// UpdateHolding overwrites quantity, prices and updatedAt only if the
	// stored version still equals expectedVersion, and bumps the version to
	// expectedVersion+1; otherwise ErrConflict.
	UpdateHolding(ctx context.Context, h *model.Holding, expectedVersion int64) error

	// DeleteHolding removes the holding only if the stored version still
	// equals expectedVersion; otherwise ErrConflict.
	DeleteHolding(ctx context.Context, userID, symbol string, expectedVersion int64) error

	// --- Immutable trade log ---

	// InsertTrade appends a trade record.
	InsertTrade(ctx context.Context, t *model.Trade) error

	// ListTrades returns a user's trades, oldest first.
	ListTrades(ctx context.Context, userID string) ([]model.Trade, error)

	// --- Profiles ---

	// GetProfile returns the profile or ErrNotFound.
	GetProfile(ctx context.Context, userID string) (*model.Profile, error)

	// SaveProfile inserts or overwrites a profile.
	SaveProfile(ctx context.Context, p *model.Profile) error

	// Stats reports row counts.
	Stats(ctx context.Context) (*Stats, error)
}
