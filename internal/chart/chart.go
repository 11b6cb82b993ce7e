// Package chart serves intraday series, falling back to a deterministic
// synthetic series when no upstream source can answer.
package chart

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/stockdash/portfolio-engine/internal/metrics"
	"github.com/stockdash/portfolio-engine/internal/model"
	"github.com/stockdash/portfolio-engine/internal/provider"
	"github.com/stockdash/portfolio-engine/internal/symbol"
)

// ErrInvalidInterval is returned for an interval outside Intervals.
var ErrInvalidInterval = errors.New("chart: invalid interval")

// DefaultInterval is used when the caller names none.
const DefaultInterval = "5min"

// SyntheticSource names the generator in ChartSeries.Source.
const SyntheticSource = "synthetic"

const syntheticPoints = 50

var steps = map[string]time.Duration{
	"1min":  time.Minute,
	"5min":  5 * time.Minute,
	"15min": 15 * time.Minute,
	"30min": 30 * time.Minute,
	"60min": time.Hour,
}

var basePrices = map[string]float64{
	"AAPL":  175,
	"GOOGL": 2800,
	"MSFT":  340,
	"TSLA":  250,
	"AMZN":  3100,
}

const defaultBasePrice = 150

// Intervals lists the accepted interval names, shortest first.
func Intervals() []string {
	return []string{"1min", "5min", "15min", "30min", "60min"}
}

// Service tries each source in order.
type Service struct {
	sources []provider.ChartSource
	now     func() time.Time
}

// NewService creates a chart service over sources. With none, every series
// is synthetic.
func NewService(sources ...provider.ChartSource) *Service {
	return &Service{sources: sources, now: time.Now}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Series returns an ascending series for sym. Upstream failures are logged
// and answered with synthetic data, never returned.
func (s *Service) Series(ctx context.Context, sym, interval string) (*model.ChartSeries, error) {
	norm, err := symbol.Normalize(sym)
	if err != nil {
		return nil, err
	}
	if interval == "" {
		interval = DefaultInterval
	}
	if _, ok := steps[interval]; !ok {
		return nil, fmt.Errorf("%w: %q (want one of %s)", ErrInvalidInterval, interval, strings.Join(Intervals(), ", "))
	}

	for _, src := range s.sources {
		points, err := src.Intraday(ctx, norm, interval)
		if err != nil {
			slog.Warn("chart source failed", "source", src.Name(), "symbol", norm, "error", err)
			continue
		}
		if len(points) == 0 {
			slog.Debug("chart source returned no points", "source", src.Name(), "symbol", norm)
			continue
		}
		return &model.ChartSeries{
			Symbol:   norm,
			Interval: interval,
			Source:   src.Name(),
			Points:   points,
		}, nil
	}

	metrics.ChartSynthetic.Inc()
	return &model.ChartSeries{
		Symbol:    norm,
		Interval:  interval,
		Source:    SyntheticSource,
		Synthetic: true,
		Points:    Synthetic(norm, interval, s.now()),
	}, nil
}

// Synthetic generates a random walk that is stable for one symbol, interval
// and UTC day. The last point sits on the interval boundary at or before now.
func Synthetic(sym, interval string, now time.Time) []model.ChartPoint {
	step, ok := steps[interval]
	if !ok {
		step = steps[DefaultInterval]
	}
	now = now.UTC()

	h := fnv.New64a()
	h.Write([]byte(sym))
	h.Write([]byte(interval))
	h.Write([]byte(now.Format(time.DateOnly)))
	seed := h.Sum64()
	r := rand.New(rand.NewPCG(seed, seed>>1|1))

	base, ok := basePrices[sym]
	if !ok {
		base = defaultBasePrice
	}

	end := now.Truncate(step)
	points := make([]model.ChartPoint, syntheticPoints)
	price := base
	for i := range points {
		open := price
		closePrice := math.Max(0.01, open*(1+(r.Float64()-0.5)*0.02))
		high := math.Max(open, closePrice) * (1 + r.Float64()*0.005)
		low := math.Min(open, closePrice) * (1 - r.Float64()*0.005)
		points[i] = model.ChartPoint{
			Timestamp: end.Add(-time.Duration(syntheticPoints-1-i) * step),
			Open:      round2(open),
			High:      round2(high),
			Low:       round2(low),
			Close:     round2(closePrice),
			Volume:    100_000 + r.Int64N(900_000),
		}
		price = closePrice
	}
	return points
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
