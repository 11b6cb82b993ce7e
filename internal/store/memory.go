package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/stockdash/portfolio-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	quotes   map[string]*model.Quote
	holdings map[holdingKey]*model.Holding
	trades   []model.Trade
	profiles map[string]*model.Profile
}

type holdingKey struct {
	userID string
	symbol string
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		quotes:   make(map[string]*model.Quote),
		holdings: make(map[holdingKey]*model.Holding),
		profiles: make(map[string]*model.Profile),
	}
}

// --- Quotes ---

func (s *MemoryStore) UpsertQuote(_ context.Context, q *model.Quote) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation.
	cp := *q
	s.quotes[q.Symbol] = &cp
	return nil
}

func (s *MemoryStore) GetQuote(_ context.Context, symbol string) (*model.Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.quotes[symbol]
	if !ok {
		return nil, fmt.Errorf("quote %s: %w", symbol, ErrNotFound)
	}
	cp := *q
	return &cp, nil
}

func (s *MemoryStore) ListQuotes(_ context.Context) ([]model.Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	quotes := make([]model.Quote, 0, len(s.quotes))
	for _, q := range s.quotes {
		quotes = append(quotes, *q)
	}
	sort.Slice(quotes, func(i, j int) bool { return quotes[i].Symbol < quotes[j].Symbol })
	return quotes, nil
}

// --- Holdings ---

func (s *MemoryStore) GetHolding(_ context.Context, userID, symbol string) (*model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.holdings[holdingKey{userID, symbol}]
	if !ok {
		return nil, fmt.Errorf("holding %s/%s: %w", userID, symbol, ErrNotFound)
	}
	cp := *h
	return &cp, nil
}

func (s *MemoryStore) ListHoldings(_ context.Context, userID string) ([]model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var holdings []model.Holding
	for k, h := range s.holdings {
		if k.userID == userID {
			holdings = append(holdings, *h)
		}
	}
	sort.Slice(holdings, func(i, j int) bool { return holdings[i].Symbol < holdings[j].Symbol })
	return holdings, nil
}

func (s *MemoryStore) InsertHolding(_ context.Context, h *model.Holding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := holdingKey{h.UserID, h.Symbol}
	if _, ok := s.holdings[k]; ok {
		return fmt.Errorf("holding %s/%s exists: %w", h.UserID, h.Symbol, ErrConflict)
	}
	cp := *h
	s.holdings[k] = &cp
	return nil
}

func (s *MemoryStore) UpdateHolding(_ context.Context, h *model.Holding, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := holdingKey{h.UserID, h.Symbol}
	cur, ok := s.holdings[k]
	if !ok || cur.Version != expectedVersion {
		return fmt.Errorf("holding %s/%s changed: %w", h.UserID, h.Symbol, ErrConflict)
	}
	cp := *h
	cp.CreatedAt = cur.CreatedAt
	cp.Version = expectedVersion + 1
	s.holdings[k] = &cp
	return nil
}

func (s *MemoryStore) DeleteHolding(_ context.Context, userID, symbol string, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := holdingKey{userID, symbol}
	cur, ok := s.holdings[k]
	if !ok || cur.Version != expectedVersion {
		return fmt.Errorf("holding %s/%s changed: %w", userID, symbol, ErrConflict)
	}
	delete(s.holdings, k)
	return nil
}

// --- Trades ---

func (s *MemoryStore) InsertTrade(_ context.Context, t *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, *t)
	return nil
}

func (s *MemoryStore) ListTrades(_ context.Context, userID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var trades []model.Trade
	for _, t := range s.trades {
		if t.UserID == userID {
			trades = append(trades, t)
		}
	}
	return trades, nil
}

// --- Profiles ---

func (s *MemoryStore) GetProfile(_ context.Context, userID string) (*model.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[userID]
	if !ok {
		return nil, fmt.Errorf("profile %s: %w", userID, ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) SaveProfile(_ context.Context, p *model.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.profiles[p.UserID] = &cp
	return nil
}

func (s *MemoryStore) Stats(_ context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &Stats{
		Backend:  "memory",
		Quotes:   int64(len(s.quotes)),
		Holdings: int64(len(s.holdings)),
		Trades:   int64(len(s.trades)),
		Profiles: int64(len(s.profiles)),
	}, nil
}
