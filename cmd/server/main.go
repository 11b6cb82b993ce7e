package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/stockdash/portfolio-engine/internal/api"
	"github.com/stockdash/portfolio-engine/internal/auth"
	"github.com/stockdash/portfolio-engine/internal/chart"
	"github.com/stockdash/portfolio-engine/internal/config"
	"github.com/stockdash/portfolio-engine/internal/ledger"
	"github.com/stockdash/portfolio-engine/internal/news"
	"github.com/stockdash/portfolio-engine/internal/profile"
	"github.com/stockdash/portfolio-engine/internal/provider"
	"github.com/stockdash/portfolio-engine/internal/quote"
	"github.com/stockdash/portfolio-engine/internal/refresher"
	"github.com/stockdash/portfolio-engine/internal/store"
	"github.com/stockdash/portfolio-engine/internal/valuation"
)

func main() {
	configPath := flag.String("config", "config.yaml", "optional YAML config file")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	level, _ := cfg.SlogLevel()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	st, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("store initialization failed", "err", err)
		os.Exit(1)
	}
	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Quote providers ---
	var (
		providers []provider.Provider
		searcher  provider.Searcher
		charts    []provider.ChartSource
		market    provider.MarketNewsSource
		company   provider.CompanyNewsSource
	)
	for _, k := range cfg.ProviderKeys() {
		p, err := provider.New(k.Name, provider.Config{APIKey: k.APIKey})
		if err != nil {
			slog.Error("provider setup failed", "provider", k.Name, "err", err)
			os.Exit(1)
		}
		providers = append(providers, p)
		if s, ok := p.(provider.Searcher); ok && searcher == nil {
			searcher = s
		}
		if c, ok := p.(provider.ChartSource); ok {
			charts = append(charts, c)
		}
		if n, ok := p.(provider.CompanyNewsSource); ok && company == nil {
			company = n
		}
		slog.Info("quote provider enabled", "provider", k.Name)
	}
	if *cfg.Providers.YahooCharts {
		charts = append(charts, provider.NewYahoo(provider.Config{}))
	}
	if key := cfg.NewsAPIKey(); key != "" {
		market = provider.NewNewsAPI(provider.Config{APIKey: key})
	}
	slog.Info("news feeds", "market", market != nil, "company", company != nil)

	agg, err := quote.NewAggregator(providers, searcher)
	if err != nil {
		slog.Error("aggregator setup failed", "err", err)
		os.Exit(1)
	}
	if cfg.Providers.Primary != "" {
		if err := agg.SetPrimary(cfg.Providers.Primary); err != nil {
			slog.Error("primary provider", "err", err)
			os.Exit(1)
		}
	}

	cache := quote.NewCache(st, agg, quote.CacheConfig{
		Universe: cfg.Quotes.Popular,
		MaxAge:   cfg.Quotes.MaxAge,
	})
	go func() {
		if err := cache.Seed(ctx, cfg.Quotes.SeedCount); err != nil {
			slog.Warn("initial quote load failed", "err", err)
		}
	}()

	// --- Domain services ---
	engine := ledger.NewEngine(st, cache)
	svc := api.NewService(api.Deps{
		Quotes:    cache,
		Providers: agg,
		Charts:    chart.NewService(charts...),
		Ledger:    engine,
		Valuator:  valuation.NewValuator(engine, cache, "USD"),
		Profiles:  profile.NewService(st),
		News:      news.NewService(market, company),
		Stats:     st,
	})

	// --- WebSocket hub and background refresh ---
	wsHub := api.NewWSHub()
	go wsHub.Run(ctx)

	ref, err := refresher.New(ctx, cache, wsHub, cfg.Quotes.RefreshInterval)
	if err != nil {
		slog.Error("refresher setup failed", "err", err)
		os.Exit(1)
	}
	ref.Start()
	defer ref.Stop()

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewRouter(svc, wsHub, auth.New(cfg.JWTSecret)),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 40 * time.Second, // provider fallback can take several client timeouts
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("portfolio-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down portfolio-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("portfolio-engine stopped")
}

// openStore picks PostgreSQL (optionally behind Redis), then SQLite, then
// memory, in that order of preference.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, []func(), error) {
	var cleanup []func()

	switch {
	case cfg.DatabaseURL != "":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("database connection failed: %w", err)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		slog.Info("connected to PostgreSQL")

		var st store.Store = pg
		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				pool.Close()
				return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
		return st, cleanup, nil

	case cfg.SQLitePath != "":
		lite, err := store.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		cleanup = append(cleanup, func() { lite.Close() })
		slog.Info("using SQLite store", "path", cfg.SQLitePath)
		return lite, cleanup, nil

	default:
		slog.Warn("DATABASE_URL and SQLITE_PATH not set, using in-memory store (data will not persist)")
		return store.NewMemoryStore(), nil, nil
	}
}
