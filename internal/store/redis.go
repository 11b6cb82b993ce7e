package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stockdash/portfolio-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL or SQLite) with a Redis
// read-through cache. Writes go to the primary store and invalidate the
// cache; reads check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) UpsertQuote(ctx context.Context, q *model.Quote) error {
	if err := s.primary.UpsertQuote(ctx, q); err != nil {
		return err
	}
	s.rdb.Del(ctx, quoteKey(q.Symbol), quotesKey)
	return nil
}

func (s *CachedStore) InsertHolding(ctx context.Context, h *model.Holding) error {
	if err := s.primary.InsertHolding(ctx, h); err != nil {
		return err
	}
	s.rdb.Del(ctx, holdingsKey(h.UserID))
	return nil
}

func (s *CachedStore) UpdateHolding(ctx context.Context, h *model.Holding, expectedVersion int64) error {
	if err := s.primary.UpdateHolding(ctx, h, expectedVersion); err != nil {
		return err
	}
	s.rdb.Del(ctx, holdingsKey(h.UserID))
	return nil
}

func (s *CachedStore) DeleteHolding(ctx context.Context, userID, symbol string, expectedVersion int64) error {
	if err := s.primary.DeleteHolding(ctx, userID, symbol, expectedVersion); err != nil {
		return err
	}
	s.rdb.Del(ctx, holdingsKey(userID))
	return nil
}

func (s *CachedStore) SaveProfile(ctx context.Context, p *model.Profile) error {
	if err := s.primary.SaveProfile(ctx, p); err != nil {
		return err
	}
	s.rdb.Del(ctx, profileKey(p.UserID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetQuote(ctx context.Context, symbol string) (*model.Quote, error) {
	var q model.Quote
	if s.cached(ctx, quoteKey(symbol), &q) {
		return &q, nil
	}

	// Cache miss: read from primary.
	got, err := s.primary.GetQuote(ctx, symbol)
	if err != nil {
		return nil, err
	}
	s.put(ctx, quoteKey(symbol), got)
	return got, nil
}

func (s *CachedStore) ListQuotes(ctx context.Context) ([]model.Quote, error) {
	var quotes []model.Quote
	if s.cached(ctx, quotesKey, &quotes) {
		return quotes, nil
	}

	quotes, err := s.primary.ListQuotes(ctx)
	if err != nil {
		return nil, err
	}
	s.put(ctx, quotesKey, quotes)
	return quotes, nil
}

func (s *CachedStore) ListHoldings(ctx context.Context, userID string) ([]model.Holding, error) {
	var holdings []model.Holding
	if s.cached(ctx, holdingsKey(userID), &holdings) {
		return holdings, nil
	}

	holdings, err := s.primary.ListHoldings(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.put(ctx, holdingsKey(userID), holdings)
	return holdings, nil
}

func (s *CachedStore) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	var p model.Profile
	if s.cached(ctx, profileKey(userID), &p) {
		return &p, nil
	}

	got, err := s.primary.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.put(ctx, profileKey(userID), got)
	return got, nil
}

// --- Passthrough (not cached) ---

// Stats always reads the primary.
func (s *CachedStore) Stats(ctx context.Context) (*Stats, error) {
	st, err := s.primary.Stats(ctx)
	if err != nil {
		return nil, err
	}
	st.Backend += "+redis"
	return st, nil
}

// GetHolding always reads the primary: the ledger's compare-and-swap must
// see the current version.
func (s *CachedStore) GetHolding(ctx context.Context, userID, symbol string) (*model.Holding, error) {
	return s.primary.GetHolding(ctx, userID, symbol)
}

func (s *CachedStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	return s.primary.InsertTrade(ctx, t)
}

func (s *CachedStore) ListTrades(ctx context.Context, userID string) ([]model.Trade, error) {
	return s.primary.ListTrades(ctx, userID)
}

// --- Cache helpers ---

func (s *CachedStore) cached(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) put(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

const quotesKey = "quotes:all"

func quoteKey(symbol string) string { return fmt.Sprintf("quote:%s", symbol) }
func holdingsKey(uid string) string { return fmt.Sprintf("holdings:%s", uid) }
func profileKey(uid string) string  { return fmt.Sprintf("profile:%s", uid) }
