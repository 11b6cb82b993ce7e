// Package config loads service settings from an optional YAML file, the
// environment and a .env file, in increasing precedence after defaults.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/stockdash/portfolio-engine/internal/provider"
	"github.com/stockdash/portfolio-engine/internal/symbol"
)

// placeholderPrefix marks API keys copied from a sample file and never filled in.
const placeholderPrefix = "YOUR_"

// Config holds all service configuration.
type Config struct {
	Port        string `yaml:"port"`
	LogLevel    string `yaml:"log_level"`
	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`
	SQLitePath  string `yaml:"sqlite_path"`
	JWTSecret   string `yaml:"jwt_secret"`

	Providers struct {
		Primary      string `yaml:"primary"`
		AlphaVantage string `yaml:"alphavantage_key"`
		Finnhub      string `yaml:"finnhub_key"`
		IEX          string `yaml:"iex_key"`
		Polygon      string `yaml:"polygon_key"`
		NewsAPI      string `yaml:"newsapi_key"`
		YahooCharts  *bool  `yaml:"yahoo_charts"`
	} `yaml:"providers"`

	Quotes struct {
		MaxAge          time.Duration `yaml:"max_age"`
		RefreshInterval time.Duration `yaml:"refresh_interval"`
		Popular         []string      `yaml:"popular_symbols"`
		SeedCount       int           `yaml:"seed_count"`
	} `yaml:"quotes"`
}

// ProviderKey is one quote provider enabled by configuration.
type ProviderKey struct {
	Name   string
	APIKey string
}

// Load reads path (missing is fine), then .env and the environment.
func Load(path string) (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Port, "PORT")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.DatabaseURL, "DATABASE_URL")
	setString(&c.RedisURL, "REDIS_URL")
	setString(&c.SQLitePath, "SQLITE_PATH")
	setString(&c.JWTSecret, "JWT_SECRET")
	setString(&c.Providers.Primary, "PRIMARY_PROVIDER")
	setString(&c.Providers.AlphaVantage, "ALPHA_VANTAGE_KEY")
	setString(&c.Providers.Finnhub, "FINNHUB_KEY")
	setString(&c.Providers.IEX, "IEX_KEY")
	setString(&c.Providers.Polygon, "POLYGON_KEY")
	setString(&c.Providers.NewsAPI, "NEWS_API_KEY")

	if v := os.Getenv("YAHOO_CHARTS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("YAHOO_CHARTS: %w", err)
		}
		c.Providers.YahooCharts = &b
	}
	if err := setDuration(&c.Quotes.MaxAge, "QUOTE_MAX_AGE"); err != nil {
		return err
	}
	if err := setDuration(&c.Quotes.RefreshInterval, "REFRESH_INTERVAL"); err != nil {
		return err
	}
	if v := os.Getenv("POPULAR_SYMBOLS"); v != "" {
		c.Quotes.Popular = strings.Split(v, ",")
	}
	if v := os.Getenv("SEED_COUNT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SEED_COUNT: %w", err)
		}
		c.Quotes.SeedCount = n
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Port == "" {
		c.Port = "8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Providers.YahooCharts == nil {
		on := true
		c.Providers.YahooCharts = &on
	}
	if c.Quotes.MaxAge == 0 {
		c.Quotes.MaxAge = 5 * time.Minute
	}
	if c.Quotes.RefreshInterval == 0 {
		c.Quotes.RefreshInterval = 30 * time.Second
	}
	if len(c.Quotes.Popular) == 0 {
		c.Quotes.Popular = symbol.Popular()
	}
	if c.Quotes.SeedCount == 0 {
		c.Quotes.SeedCount = 5
	}
	c.Providers.Primary = strings.ToLower(strings.TrimSpace(c.Providers.Primary))
}

// Validate checks that the service can start with this configuration.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("jwt_secret is required")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	if c.Quotes.MaxAge < 0 || c.Quotes.RefreshInterval < time.Second {
		return fmt.Errorf("quotes.max_age must be >= 0 and quotes.refresh_interval >= 1s")
	}
	if c.Quotes.SeedCount < 0 {
		return fmt.Errorf("quotes.seed_count must not be negative")
	}
	popular, err := symbol.ParseList(strings.Join(c.Quotes.Popular, ","))
	if err != nil {
		return fmt.Errorf("quotes.popular_symbols: %w", err)
	}
	if len(popular) == 0 {
		return fmt.Errorf("quotes.popular_symbols must not be empty")
	}
	c.Quotes.Popular = popular

	keys := c.ProviderKeys()
	if len(keys) == 0 {
		return fmt.Errorf("at least one provider API key is required")
	}
	if c.Providers.Primary != "" && !slices.ContainsFunc(keys, func(k ProviderKey) bool {
		return k.Name == c.Providers.Primary
	}) {
		return fmt.Errorf("primary provider %q is not configured", c.Providers.Primary)
	}
	return nil
}

// ProviderKeys returns the providers with usable keys in default fallback
// order. Empty and placeholder keys are skipped.
func (c *Config) ProviderKeys() []ProviderKey {
	byName := map[string]string{
		"alphavantage": c.Providers.AlphaVantage,
		"finnhub":      c.Providers.Finnhub,
		"iex":          c.Providers.IEX,
		"polygon":      c.Providers.Polygon,
	}
	var out []ProviderKey
	for _, name := range provider.Names() {
		key := strings.TrimSpace(byName[name])
		if key == "" || strings.HasPrefix(key, placeholderPrefix) {
			continue
		}
		out = append(out, ProviderKey{Name: name, APIKey: key})
	}
	return out
}

// NewsAPIKey returns the market news key, or "" when unset or a placeholder.
func (c *Config) NewsAPIKey() string {
	key := strings.TrimSpace(c.Providers.NewsAPI)
	if strings.HasPrefix(key, placeholderPrefix) {
		return ""
	}
	return key
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return lvl, nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}
