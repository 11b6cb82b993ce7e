package ledger_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockdash/portfolio-engine/internal/ledger"
	"github.com/stockdash/portfolio-engine/internal/model"
	"github.com/stockdash/portfolio-engine/internal/store"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// universe is a fixed set of tradable symbols.
type universe map[string]bool

func (u universe) Exists(_ context.Context, sym string) (bool, error) {
	return u[sym], nil
}

func newEngine(t *testing.T) (*ledger.Engine, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	e := ledger.NewEngine(ms, universe{"AAPL": true, "MSFT": true, "TSLA": true})
	e.SetClock(func() time.Time { return time.Date(2025, 3, 3, 15, 0, 0, 0, time.UTC) })
	return e, ms
}

func assertReconciled(t *testing.T, h *model.Holding) {
	t.Helper()
	want := h.AveragePrice.Mul(decimal.NewFromInt(h.Quantity))
	diff := want.Sub(h.TotalInvested).Abs()
	assert.True(t, diff.LessThan(d("0.000001")),
		"totalInvested %s != quantity %d * averagePrice %s", h.TotalInvested, h.Quantity, h.AveragePrice)
}

func TestBuy_CreatesHolding(t *testing.T) {
	e, _ := newEngine(t)

	h, err := e.Buy(context.Background(), "user1", "aapl", 10, d("150.00"))
	require.NoError(t, err)

	assert.Equal(t, "AAPL", h.Symbol)
	assert.EqualValues(t, 10, h.Quantity)
	assert.True(t, h.AveragePrice.Equal(d("150")))
	assert.True(t, h.TotalInvested.Equal(d("1500")))
	assertReconciled(t, h)
}

func TestBuy_WeightedAverage(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	_, err := e.Buy(ctx, "user1", "AAPL", 10, d("150.00"))
	require.NoError(t, err)
	h, err := e.Buy(ctx, "user1", "AAPL", 5, d("180.00"))
	require.NoError(t, err)

	// (10*150 + 5*180) / 15 = 160
	assert.EqualValues(t, 15, h.Quantity)
	assert.True(t, h.TotalInvested.Equal(d("2400")))
	assert.True(t, h.AveragePrice.Equal(d("160")))
}

func TestBuy_ReconciledAfterEveryOperation(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	buys := []struct {
		qty   int64
		price string
	}{
		{3, "101.37"}, {7, "99.99"}, {1, "250.01"}, {13, "0.07"}, {2, "33.33"},
	}
	var totalQty int64
	total := decimal.Zero
	for _, b := range buys {
		h, err := e.Buy(ctx, "user1", "MSFT", b.qty, d(b.price))
		require.NoError(t, err)
		totalQty += b.qty
		total = total.Add(d(b.price).Mul(decimal.NewFromInt(b.qty)))

		assertReconciled(t, h)
		assert.EqualValues(t, totalQty, h.Quantity)
		assert.True(t, h.TotalInvested.Equal(total))
	}
}

func TestBuy_Validation(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		user  string
		sym   string
		qty   int64
		price string
		want  error
	}{
		{"zero quantity", "u", "AAPL", 0, "1", ledger.ErrInvalidTrade},
		{"negative quantity", "u", "AAPL", -5, "1", ledger.ErrInvalidTrade},
		{"quantity over cap", "u", "AAPL", ledger.MaxQuantity + 1, "1", ledger.ErrInvalidTrade},
		{"max int quantity", "u", "AAPL", math.MaxInt64, "1", ledger.ErrInvalidTrade},
		{"zero price", "u", "AAPL", 1, "0", ledger.ErrInvalidTrade},
		{"negative price", "u", "AAPL", 1, "-10", ledger.ErrInvalidTrade},
		{"bad symbol", "u", "A A", 1, "10", ledger.ErrInvalidTrade},
		{"missing user", "", "AAPL", 1, "10", ledger.ErrInvalidTrade},
		{"unknown symbol", "u", "NFLX", 1, "10", ledger.ErrSymbolNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Buy(ctx, tt.user, tt.sym, tt.qty, d(tt.price))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSell_FullLiquidationRemovesHolding(t *testing.T) {
	e, ms := newEngine(t)
	ctx := context.Background()

	_, err := e.Buy(ctx, "user1", "AAPL", 10, d("150.00"))
	require.NoError(t, err)

	res, err := e.Sell(ctx, "user1", "AAPL", 10, d("170.00"))
	require.NoError(t, err)
	assert.Nil(t, res.Remaining)
	assert.True(t, res.Total.Equal(d("1700")))

	_, err = ms.GetHolding(ctx, "user1", "AAPL")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = e.Sell(ctx, "user1", "AAPL", 1, d("170.00"))
	assert.ErrorIs(t, err, ledger.ErrNoSuchHolding)
}

func TestSell_PartialKeepsAverage(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	_, err := e.Buy(ctx, "user1", "AAPL", 10, d("150.00"))
	require.NoError(t, err)
	before, err := e.Buy(ctx, "user1", "AAPL", 5, d("180.00"))
	require.NoError(t, err)

	res, err := e.Sell(ctx, "user1", "AAPL", 6, d("200.00"))
	require.NoError(t, err)
	require.NotNil(t, res.Remaining)

	after := res.Remaining
	assert.EqualValues(t, 9, after.Quantity)
	assert.True(t, after.AveragePrice.Equal(before.AveragePrice))
	// Cost leaves at average: 2400 - 6*160 = 1440.
	removed := before.TotalInvested.Sub(after.TotalInvested)
	assert.True(t, removed.Equal(before.AveragePrice.Mul(decimal.NewFromInt(6))))
	assert.True(t, after.TotalInvested.Equal(d("1440")))
	assertReconciled(t, after)

	assert.True(t, res.Total.Equal(d("1200")))
	assert.True(t, res.CostBasis.Equal(d("960")))
	assert.True(t, res.RealizedGain.Equal(d("240")))
}

func TestSell_InsufficientSharesLeavesHoldingUnchanged(t *testing.T) {
	e, ms := newEngine(t)
	ctx := context.Background()

	_, err := e.Buy(ctx, "user1", "TSLA", 4, d("250.00"))
	require.NoError(t, err)
	before, err := ms.GetHolding(ctx, "user1", "TSLA")
	require.NoError(t, err)

	_, err = e.Sell(ctx, "user1", "TSLA", 5, d("260.00"))
	assert.ErrorIs(t, err, ledger.ErrInsufficientShares)

	after, err := ms.GetHolding(ctx, "user1", "TSLA")
	require.NoError(t, err)
	assert.Equal(t, before, after)

	trades, err := e.Trades(ctx, "user1")
	require.NoError(t, err)
	assert.Len(t, trades, 1, "failed sell is not logged")
}

func TestSell_Validation(t *testing.T) {
	e, _ := newEngine(t)
	_, err := e.Sell(context.Background(), "user1", "AAPL", 0, d("1"))
	assert.ErrorIs(t, err, ledger.ErrInvalidTrade)
	_, err = e.Sell(context.Background(), "user1", "AAPL", 1, d("0"))
	assert.ErrorIs(t, err, ledger.ErrInvalidTrade)
	_, err = e.Sell(context.Background(), "user1", "AAPL", 1, d("1"))
	assert.ErrorIs(t, err, ledger.ErrNoSuchHolding)
}

func TestEndToEnd_BuyBuySellAll(t *testing.T) {
	e, ms := newEngine(t)
	ctx := context.Background()

	h, err := e.Buy(ctx, "user1", "AAPL", 10, d("150.00"))
	require.NoError(t, err)
	assert.EqualValues(t, 10, h.Quantity)
	assert.Equal(t, "150.00", h.AveragePrice.StringFixed(2))
	assert.Equal(t, "1500.00", h.TotalInvested.StringFixed(2))

	h, err = e.Buy(ctx, "user1", "AAPL", 5, d("180.00"))
	require.NoError(t, err)
	assert.EqualValues(t, 15, h.Quantity)
	assert.Equal(t, "2400.00", h.TotalInvested.StringFixed(2))
	assert.Equal(t, "160.00", h.AveragePrice.StringFixed(2))

	res, err := e.Sell(ctx, "user1", "AAPL", 15, d("170.00"))
	require.NoError(t, err)
	assert.Equal(t, "2550.00", res.Total.StringFixed(2))
	assert.Equal(t, "150.00", res.RealizedGain.StringFixed(2))

	holdings, err := ms.ListHoldings(ctx, "user1")
	require.NoError(t, err)
	assert.Empty(t, holdings)

	trades, err := e.Trades(ctx, "user1")
	require.NoError(t, err)
	require.Len(t, trades, 3)
	assert.Equal(t, model.SideBuy, trades[0].Side)
	assert.Equal(t, model.SideSell, trades[2].Side)
	assert.NotEmpty(t, trades[2].ID)
	assert.True(t, trades[2].CostBasis.Equal(d("2400")))
}

// conflictOnce makes the first conditional holding write lose a race.
type conflictOnce struct {
	*store.MemoryStore
	mu      sync.Mutex
	tripped bool
}

func (s *conflictOnce) trip() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tripped {
		return false
	}
	s.tripped = true
	return true
}

func (s *conflictOnce) UpdateHolding(ctx context.Context, h *model.Holding, expected int64) error {
	if s.trip() {
		// Another writer buys one share between our read and write.
		cur, _ := s.MemoryStore.GetHolding(ctx, h.UserID, h.Symbol)
		bumped := *cur
		bumped.Quantity++
		bumped.TotalInvested = bumped.TotalInvested.Add(bumped.AveragePrice)
		if err := s.MemoryStore.UpdateHolding(ctx, &bumped, cur.Version); err != nil {
			return err
		}
	}
	return s.MemoryStore.UpdateHolding(ctx, h, expected)
}

func TestBuy_RetriesOnConflict(t *testing.T) {
	cs := &conflictOnce{MemoryStore: store.NewMemoryStore()}
	e := ledger.NewEngine(cs, universe{"AAPL": true})
	ctx := context.Background()

	_, err := e.Buy(ctx, "user1", "AAPL", 10, d("100"))
	require.NoError(t, err)

	h, err := e.Buy(ctx, "user1", "AAPL", 10, d("100"))
	require.NoError(t, err)
	// 10 + 1 (concurrent) + 10; nothing lost.
	assert.EqualValues(t, 21, h.Quantity)
	assert.True(t, h.TotalInvested.Equal(d("2100")))
}

// alwaysConflict loses every conditional write.
type alwaysConflict struct {
	*store.MemoryStore
}

func (s alwaysConflict) UpdateHolding(context.Context, *model.Holding, int64) error {
	return store.ErrConflict
}

func TestBuy_GivesUpAfterRepeatedConflicts(t *testing.T) {
	ms := store.NewMemoryStore()
	e := ledger.NewEngine(alwaysConflict{ms}, universe{"AAPL": true})
	ctx := context.Background()

	_, err := e.Buy(ctx, "user1", "AAPL", 1, d("100"))
	require.NoError(t, err)

	_, err = e.Buy(ctx, "user1", "AAPL", 1, d("100"))
	assert.ErrorIs(t, err, ledger.ErrConcurrentUpdate)

	h, err := ms.GetHolding(ctx, "user1", "AAPL")
	require.NoError(t, err)
	assert.EqualValues(t, 1, h.Quantity)
}

func TestBuy_RejectsQuantityOverflow(t *testing.T) {
	e, ms := newEngine(t)
	ctx := context.Background()

	big := int64(math.MaxInt64 - 5)
	require.NoError(t, ms.InsertHolding(ctx, &model.Holding{
		UserID:        "user1",
		Symbol:        "AAPL",
		Quantity:      big,
		AveragePrice:  d("1"),
		TotalInvested: decimal.NewFromInt(big),
		Version:       1,
	}))

	_, err := e.Buy(ctx, "user1", "AAPL", 10, d("1"))
	assert.ErrorIs(t, err, ledger.ErrInvalidTrade)

	h, err := ms.GetHolding(ctx, "user1", "AAPL")
	require.NoError(t, err)
	assert.Equal(t, big, h.Quantity)
	assert.True(t, h.AveragePrice.Equal(d("1")))
	assert.EqualValues(t, 1, h.Version)
}

// roundTripAfterRead lets another engine buy and then sell the same number
// of shares right after the first holding read, so the quantity returns to
// what was read while the cost basis does not.
type roundTripAfterRead struct {
	*store.MemoryStore
	other *ledger.Engine
	once  sync.Once
	err   error
}

func (s *roundTripAfterRead) GetHolding(ctx context.Context, userID, sym string) (*model.Holding, error) {
	h, err := s.MemoryStore.GetHolding(ctx, userID, sym)
	if err != nil {
		return nil, err
	}
	s.once.Do(func() {
		if _, s.err = s.other.Buy(ctx, userID, sym, 5, d("200")); s.err != nil {
			return
		}
		_, s.err = s.other.Sell(ctx, userID, sym, 5, d("250"))
	})
	return h, nil
}

func TestBuy_SameQuantityAfterInterleavedTradesStillConflicts(t *testing.T) {
	ms := store.NewMemoryStore()
	u := universe{"AAPL": true}
	ctx := context.Background()

	_, err := ledger.NewEngine(ms, u).Buy(ctx, "user1", "AAPL", 10, d("100"))
	require.NoError(t, err)

	rs := &roundTripAfterRead{MemoryStore: ms, other: ledger.NewEngine(ms, u)}
	h, err := ledger.NewEngine(rs, u).Buy(ctx, "user1", "AAPL", 1, d("100"))
	require.NoError(t, err)
	require.NoError(t, rs.err)

	// Serial order: 10@100, +5@200 (avg 133.33), -5 at avg, +1@100.
	assert.EqualValues(t, 11, h.Quantity)
	assert.Equal(t, "1433.33", h.TotalInvested.StringFixed(2))
	assertReconciled(t, h)

	stored, err := ms.GetHolding(ctx, "user1", "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "1433.33", stored.TotalInvested.StringFixed(2))
	assert.EqualValues(t, 4, stored.Version)
}

func TestTrade_ConcurrentBuysAndSellsNoLostUpdates(t *testing.T) {
	e, ms := newEngine(t)
	ctx := context.Background()

	_, err := e.Buy(ctx, "user1", "AAPL", 10, d("100"))
	require.NoError(t, err)

	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	var net int64
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(sell bool) {
			defer wg.Done()
			var err error
			var delta int64
			if sell {
				_, err = e.Sell(ctx, "user1", "AAPL", 2, d("100"))
				delta = -2
			} else {
				_, err = e.Buy(ctx, "user1", "AAPL", 3, d("100"))
				delta = 3
			}
			if err == nil {
				mu.Lock()
				net += delta
				mu.Unlock()
				return
			}
			if !errors.Is(err, ledger.ErrConcurrentUpdate) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i%2 == 1)
	}
	wg.Wait()

	h, err := ms.GetHolding(ctx, "user1", "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 10+net, h.Quantity)
	assert.True(t, h.TotalInvested.Equal(decimal.NewFromInt(100*h.Quantity)))
	assertReconciled(t, h)

	trades, err := e.Trades(ctx, "user1")
	require.NoError(t, err)
	var logged int64
	for _, tr := range trades {
		if tr.Side == model.SideBuy {
			logged += tr.Quantity
		} else {
			logged -= tr.Quantity
		}
	}
	assert.Equal(t, h.Quantity, logged)
}

type brokenUniverse struct{}

func (brokenUniverse) Exists(context.Context, string) (bool, error) {
	return false, errors.New("store down")
}

func TestBuy_UniverseErrorIsNotSymbolNotFound(t *testing.T) {
	e := ledger.NewEngine(store.NewMemoryStore(), brokenUniverse{})
	_, err := e.Buy(context.Background(), "u", "AAPL", 1, d("1"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ledger.ErrSymbolNotFound))
}
