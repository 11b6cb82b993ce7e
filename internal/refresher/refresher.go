// Package refresher periodically refreshes one random cached quote and
// pushes the full snapshot to WebSocket clients.
package refresher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/stockdash/portfolio-engine/internal/metrics"
	"github.com/stockdash/portfolio-engine/internal/model"
)

// DefaultInterval is the refresh period when none is configured.
const DefaultInterval = 30 * time.Second

// Cache is the quote cache the refresher drives.
type Cache interface {
	RefreshRandom(ctx context.Context) (*model.Quote, error)
	All(ctx context.Context) ([]model.Quote, error)
}

// Broadcaster pushes quote snapshots to clients.
type Broadcaster interface {
	BroadcastQuotes(quotes []model.Quote)
}

// Refresher runs Tick on a fixed schedule, at most one at a time.
type Refresher struct {
	cron     *cron.Cron
	cache    Cache
	hub      Broadcaster
	ctx      context.Context
	interval time.Duration
}

// New schedules a refresh every interval. ctx bounds every run.
func New(ctx context.Context, cache Cache, hub Broadcaster, interval time.Duration) (*Refresher, error) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	logger := slogLogger{}
	r := &Refresher{
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		cache:    cache,
		hub:      hub,
		ctx:      ctx,
		interval: interval,
	}
	if _, err := r.cron.AddFunc("@every "+interval.String(), r.Tick); err != nil {
		return nil, fmt.Errorf("schedule refresh: %w", err)
	}
	return r, nil
}

// Start starts the schedule in the background.
func (r *Refresher) Start() {
	r.cron.Start()
	slog.Info("quote refresher started", "interval", r.interval.String())
}

// Stop stops scheduling and waits for a running tick to finish.
func (r *Refresher) Stop() {
	<-r.cron.Stop().Done()
	slog.Info("quote refresher stopped")
}

// Tick refreshes one random stored symbol and, on success, broadcasts every
// stored quote. Failures are logged; the next tick tries again.
func (r *Refresher) Tick() {
	ctx, cancel := context.WithTimeout(r.ctx, r.interval)
	defer cancel()

	q, err := r.cache.RefreshRandom(ctx)
	switch {
	case err != nil:
		metrics.RefreshRuns.WithLabelValues("error").Inc()
		slog.Warn("background refresh failed", "err", err)
		return
	case q == nil:
		metrics.RefreshRuns.WithLabelValues("empty").Inc()
		slog.Debug("background refresh skipped, no cached quotes")
		return
	}

	quotes, err := r.cache.All(ctx)
	if err != nil {
		metrics.RefreshRuns.WithLabelValues("error").Inc()
		slog.Warn("background refresh snapshot failed", "err", err)
		return
	}
	metrics.RefreshRuns.WithLabelValues("ok").Inc()
	slog.Debug("background refresh", "symbol", q.Symbol, "price", q.Price.String(), "source", q.Source)
	r.hub.BroadcastQuotes(quotes)
}

// slogLogger adapts cron's logger to slog.
type slogLogger struct{}

func (slogLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (slogLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
