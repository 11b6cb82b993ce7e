package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/stockdash/portfolio-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS quotes (
		symbol         TEXT PRIMARY KEY,
		name           TEXT NOT NULL,
		price          NUMERIC NOT NULL CHECK (price >= 0),
		change         NUMERIC NOT NULL,
		change_percent TEXT NOT NULL,
		is_positive    BOOLEAN NOT NULL,
		volume         BIGINT NOT NULL CHECK (volume >= 0),
		previous_close NUMERIC NOT NULL,
		open           NUMERIC NOT NULL,
		high           NUMERIC NOT NULL CHECK (high >= 0),
		low            NUMERIC NOT NULL CHECK (low >= 0),
		source         TEXT NOT NULL DEFAULT '',
		last_updated   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS holdings (
		user_id        TEXT NOT NULL,
		symbol         TEXT NOT NULL,
		quantity       BIGINT NOT NULL CHECK (quantity > 0),
		average_price  NUMERIC NOT NULL CHECK (average_price > 0),
		total_invested NUMERIC NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL,
		updated_at     TIMESTAMPTZ NOT NULL,
		version        BIGINT NOT NULL DEFAULT 1,
		PRIMARY KEY (user_id, symbol)
	)`,
	`ALTER TABLE holdings ADD COLUMN IF NOT EXISTS version BIGINT NOT NULL DEFAULT 1`,
	`CREATE TABLE IF NOT EXISTS trades (
		id            UUID PRIMARY KEY,
		user_id       TEXT NOT NULL,
		symbol        TEXT NOT NULL,
		side          TEXT NOT NULL,
		quantity      BIGINT NOT NULL,
		price         NUMERIC NOT NULL,
		total         NUMERIC NOT NULL,
		cost_basis    NUMERIC NOT NULL,
		realized_gain NUMERIC NOT NULL,
		timestamp     TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_user ON trades (user_id, timestamp)`,
	`CREATE TABLE IF NOT EXISTS profiles (
		user_id    TEXT PRIMARY KEY,
		data       JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// --- Quotes ---

func (s *PostgresStore) UpsertQuote(ctx context.Context, q *model.Quote) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO quotes (symbol, name, price, change, change_percent, is_positive, volume,
		                     previous_close, open, high, low, source, last_updated)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5, $6, $7, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11::NUMERIC, $12, $13)
		 ON CONFLICT (symbol) DO UPDATE SET
		   name = EXCLUDED.name, price = EXCLUDED.price, change = EXCLUDED.change,
		   change_percent = EXCLUDED.change_percent, is_positive = EXCLUDED.is_positive,
		   volume = EXCLUDED.volume, previous_close = EXCLUDED.previous_close,
		   open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low,
		   source = EXCLUDED.source, last_updated = EXCLUDED.last_updated`,
		q.Symbol, q.Name, q.Price.String(), q.Change.String(), q.ChangePercent, q.IsPositive, q.Volume,
		q.PreviousClose.String(), q.Open.String(), q.High.String(), q.Low.String(), q.Source, q.LastUpdated,
	)
	return err
}

const quoteColumns = `symbol, name, price::TEXT, change::TEXT, change_percent, is_positive, volume,
	previous_close::TEXT, open::TEXT, high::TEXT, low::TEXT, source, last_updated`

func (s *PostgresStore) GetQuote(ctx context.Context, symbol string) (*model.Quote, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+quoteColumns+` FROM quotes WHERE symbol = $1`, symbol)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	quotes, err := scanQuotes(rows)
	if err != nil {
		return nil, err
	}
	if len(quotes) == 0 {
		return nil, fmt.Errorf("quote %s: %w", symbol, ErrNotFound)
	}
	return &quotes[0], nil
}

func (s *PostgresStore) ListQuotes(ctx context.Context) ([]model.Quote, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+quoteColumns+` FROM quotes ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanQuotes(rows)
}

// --- Holdings ---

const holdingColumns = `user_id, symbol, quantity, average_price::TEXT, total_invested::TEXT, created_at, updated_at, version`

func (s *PostgresStore) GetHolding(ctx context.Context, userID, symbol string) (*model.Holding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+holdingColumns+` FROM holdings WHERE user_id = $1 AND symbol = $2`, userID, symbol)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	holdings, err := scanHoldings(rows)
	if err != nil {
		return nil, err
	}
	if len(holdings) == 0 {
		return nil, fmt.Errorf("holding %s/%s: %w", userID, symbol, ErrNotFound)
	}
	return &holdings[0], nil
}

func (s *PostgresStore) ListHoldings(ctx context.Context, userID string) ([]model.Holding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+holdingColumns+` FROM holdings WHERE user_id = $1 ORDER BY symbol`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanHoldings(rows)
}

func (s *PostgresStore) InsertHolding(ctx context.Context, h *model.Holding) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO holdings (user_id, symbol, quantity, average_price, total_invested, created_at, updated_at, version)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6, $7, $8)
		 ON CONFLICT (user_id, symbol) DO NOTHING`,
		h.UserID, h.Symbol, h.Quantity, h.AveragePrice.String(), h.TotalInvested.String(), h.CreatedAt, h.UpdatedAt, h.Version,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("holding %s/%s exists: %w", h.UserID, h.Symbol, ErrConflict)
	}
	return nil
}

func (s *PostgresStore) UpdateHolding(ctx context.Context, h *model.Holding, expectedVersion int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE holdings
		 SET quantity = $3, average_price = $4::NUMERIC, total_invested = $5::NUMERIC, updated_at = $6, version = version + 1
		 WHERE user_id = $1 AND symbol = $2 AND version = $7`,
		h.UserID, h.Symbol, h.Quantity, h.AveragePrice.String(), h.TotalInvested.String(), h.UpdatedAt, expectedVersion,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("holding %s/%s changed: %w", h.UserID, h.Symbol, ErrConflict)
	}
	return nil
}

func (s *PostgresStore) DeleteHolding(ctx context.Context, userID, symbol string, expectedVersion int64) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM holdings WHERE user_id = $1 AND symbol = $2 AND version = $3`,
		userID, symbol, expectedVersion,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("holding %s/%s changed: %w", userID, symbol, ErrConflict)
	}
	return nil
}

// --- Trades ---

func (s *PostgresStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO trades (id, user_id, symbol, side, quantity, price, total, cost_basis, realized_gain, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10)`,
		t.ID, t.UserID, t.Symbol, t.Side, t.Quantity,
		t.Price.String(), t.Total.String(), t.CostBasis.String(), t.RealizedGain.String(), t.Timestamp,
	)
	return err
}

func (s *PostgresStore) ListTrades(ctx context.Context, userID string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id::TEXT, user_id, symbol, side, quantity, price::TEXT, total::TEXT,
		        cost_basis::TEXT, realized_gain::TEXT, timestamp
		 FROM trades WHERE user_id = $1 ORDER BY timestamp ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrades(rows)
}

// --- Profiles ---

func (s *PostgresStore) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM profiles WHERE user_id = $1`, userID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("profile %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", userID, err)
	}
	var p model.Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", userID, err)
	}
	return &p, nil
}

func (s *PostgresStore) SaveProfile(ctx context.Context, p *model.Profile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO profiles (user_id, data, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		p.UserID, data, p.UpdatedAt,
	)
	return err
}

// --- Scan helpers ---

// rowScanner is satisfied by both pgx.Rows and *sql.Rows.
type rowScanner interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanQuotes(rows rowScanner) ([]model.Quote, error) {
	var quotes []model.Quote
	for rows.Next() {
		var q model.Quote
		var price, change, prev, open, high, low string
		if err := rows.Scan(&q.Symbol, &q.Name, &price, &change, &q.ChangePercent, &q.IsPositive, &q.Volume,
			&prev, &open, &high, &low, &q.Source, &q.LastUpdated); err != nil {
			return nil, err
		}
		q.Price, _ = decimal.NewFromString(price)
		q.Change, _ = decimal.NewFromString(change)
		q.PreviousClose, _ = decimal.NewFromString(prev)
		q.Open, _ = decimal.NewFromString(open)
		q.High, _ = decimal.NewFromString(high)
		q.Low, _ = decimal.NewFromString(low)
		quotes = append(quotes, q)
	}
	return quotes, rows.Err()
}

func scanHoldings(rows rowScanner) ([]model.Holding, error) {
	var holdings []model.Holding
	for rows.Next() {
		var h model.Holding
		var avg, invested string
		if err := rows.Scan(&h.UserID, &h.Symbol, &h.Quantity, &avg, &invested,
			&h.CreatedAt, &h.UpdatedAt, &h.Version); err != nil {
			return nil, err
		}
		h.AveragePrice, _ = decimal.NewFromString(avg)
		h.TotalInvested, _ = decimal.NewFromString(invested)
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}

func scanTrades(rows rowScanner) ([]model.Trade, error) {
	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var price, total, basis, gain string
		if err := rows.Scan(&t.ID, &t.UserID, &t.Symbol, &t.Side, &t.Quantity,
			&price, &total, &basis, &gain, &t.Timestamp); err != nil {
			return nil, err
		}
		t.Price, _ = decimal.NewFromString(price)
		t.Total, _ = decimal.NewFromString(total)
		t.CostBasis, _ = decimal.NewFromString(basis)
		t.RealizedGain, _ = decimal.NewFromString(gain)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{Backend: "postgres"}
	err := s.pool.QueryRow(ctx,
		`SELECT (SELECT COUNT(*) FROM quotes),
		        (SELECT COUNT(*) FROM holdings),
		        (SELECT COUNT(*) FROM trades),
		        (SELECT COUNT(*) FROM profiles)`,
	).Scan(&st.Quotes, &st.Holdings, &st.Trades, &st.Profiles)
	if err != nil {
		return nil, fmt.Errorf("count rows: %w", err)
	}
	return st, nil
}
