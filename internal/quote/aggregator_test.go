package quote

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockdash/portfolio-engine/internal/model"
	"github.com/stockdash/portfolio-engine/internal/provider"
)

// stubProvider returns a fixed quote, or fails with err for listed symbols.
type stubProvider struct {
	name  string
	price decimal.Decimal
	fail  map[string]error // symbol -> error; "*" fails everything
	calls []string
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) FetchQuote(_ context.Context, sym string) (*model.Quote, error) {
	p.calls = append(p.calls, sym)
	if err, ok := p.fail[sym]; ok {
		return nil, err
	}
	if err, ok := p.fail["*"]; ok {
		return nil, err
	}
	q := &model.Quote{Symbol: sym, Name: sym, Price: p.price, Change: decimal.NewFromInt(1), Source: p.name}
	q.Normalize()
	return q, nil
}

func failing(name string, err error) *stubProvider {
	return &stubProvider{name: name, fail: map[string]error{"*": err}}
}

func ok(name string, price int64) *stubProvider {
	return &stubProvider{name: name, price: decimal.NewFromInt(price)}
}

func unavailable(msg string) error {
	return fmt.Errorf("%w: %s", provider.ErrUnavailable, msg)
}

func newAgg(t *testing.T, ps ...provider.Provider) *Aggregator {
	t.Helper()
	a, err := NewAggregator(ps, nil)
	require.NoError(t, err)
	return a
}

func TestGetQuote_PrimarySuccessNeverCallsFallback(t *testing.T) {
	primary := ok("alphavantage", 175)
	fallback := ok("finnhub", 999)
	a := newAgg(t, primary, fallback)

	q, err := a.GetQuote(context.Background(), "AAPL")
	require.NoError(t, err)

	assert.Equal(t, "alphavantage", q.Source)
	assert.True(t, q.Price.Equal(decimal.NewFromInt(175)))
	assert.Equal(t, []string{"AAPL"}, primary.calls)
	assert.Empty(t, fallback.calls)
}

func TestGetQuote_FallsBackInOrder(t *testing.T) {
	p1 := failing("alphavantage", fmt.Errorf("%w: Note: frequency", provider.ErrRateLimited))
	p2 := failing("finnhub", unavailable("timeout"))
	p3 := ok("iex", 180)
	p4 := ok("polygon", 190)
	a := newAgg(t, p1, p2, p3, p4)

	q, err := a.GetQuote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "iex", q.Source)
	assert.Len(t, p1.calls, 1)
	assert.Len(t, p2.calls, 1)
	assert.Empty(t, p4.calls)
}

func TestGetQuote_AllFailedListsEveryProvider(t *testing.T) {
	names := []string{"alphavantage", "finnhub", "iex", "polygon"}
	var ps []provider.Provider
	for _, n := range names {
		ps = append(ps, failing(n, unavailable(n+" down")))
	}
	a := newAgg(t, ps...)

	_, err := a.GetQuote(context.Background(), "AAPL")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllProvidersFailed)

	var apf *AllProvidersFailedError
	require.True(t, errors.As(err, &apf))
	assert.Equal(t, "AAPL", apf.Symbol)
	require.Len(t, apf.Attempts, len(names))
	for i, n := range names {
		assert.Equal(t, n, apf.Attempts[i].Provider)
		assert.Equal(t, provider.KindUnavailable, apf.Attempts[i].Kind)
		assert.Contains(t, apf.Attempts[i].Message, n+" down")
	}
	assert.Contains(t, err.Error(), "finnhub: ")
}

func TestGetQuote_AttemptKinds(t *testing.T) {
	a := newAgg(t,
		failing("a", fmt.Errorf("%w: bad", provider.ErrInvalidSymbol)),
		failing("b", fmt.Errorf("%w: slow down", provider.ErrRateLimited)),
		failing("c", errors.New("unclassified")),
	)
	_, err := a.GetQuote(context.Background(), "ZZZZ")

	var apf *AllProvidersFailedError
	require.ErrorAs(t, err, &apf)
	assert.Equal(t, provider.KindInvalidSymbol, apf.Attempts[0].Kind)
	assert.Equal(t, provider.KindRateLimited, apf.Attempts[1].Kind)
	assert.Equal(t, provider.KindUnavailable, apf.Attempts[2].Kind)
}

func TestGetMultipleQuotes_SkipsFailuresKeepsOrder(t *testing.T) {
	p := ok("alphavantage", 100)
	p.fail = map[string]error{"BAD": unavailable("nope")}
	a := newAgg(t, p)

	quotes := a.GetMultipleQuotes(context.Background(), []string{"MSFT", "BAD", "AAPL"})
	require.Len(t, quotes, 2)
	assert.Equal(t, "MSFT", quotes[0].Symbol)
	assert.Equal(t, "AAPL", quotes[1].Symbol)
	assert.Equal(t, []string{"MSFT", "BAD", "AAPL"}, p.calls, "sequential, input order")
}

func TestGetMultipleQuotes_StopsOnCancel(t *testing.T) {
	p := ok("alphavantage", 100)
	a := newAgg(t, p)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Empty(t, a.GetMultipleQuotes(ctx, []string{"AAPL", "MSFT"}))
	assert.Empty(t, p.calls)
}

func TestSetPrimary(t *testing.T) {
	a := newAgg(t, ok("alphavantage", 1), ok("finnhub", 2), ok("iex", 3))

	require.NoError(t, a.SetPrimary("iex"))
	st := a.Status()
	require.Len(t, st, 3)
	assert.Equal(t, "iex", st[0].Name)
	assert.True(t, st[0].Primary)
	assert.Equal(t, "alphavantage", st[1].Name)
	assert.Equal(t, "finnhub", st[2].Name)
	assert.False(t, st[2].Primary)

	q, err := a.GetQuote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "iex", q.Source)

	assert.ErrorIs(t, a.SetPrimary("bloomberg"), ErrUnknownProvider)
}

func TestNewAggregator_RequiresProviders(t *testing.T) {
	_, err := NewAggregator(nil, nil)
	assert.ErrorIs(t, err, ErrNoProviders)
}

func TestSearch_Unconfigured(t *testing.T) {
	a := newAgg(t, ok("alphavantage", 1))
	_, err := a.Search(context.Background(), "apple")
	assert.ErrorIs(t, err, ErrSearchUnsupported)
}
