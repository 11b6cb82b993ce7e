package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/stockdash/portfolio-engine/internal/model"
)

// SQLiteStore implements Store on a single SQLite file. Decimals are stored
// as TEXT and timestamps as unix nanoseconds.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and runs migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; avoids SQLITE_BUSY under concurrent requests.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	slog.Info("sqlite store opened", "path", path)
	return s, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS quotes (
			symbol         TEXT PRIMARY KEY,
			name           TEXT NOT NULL,
			price          TEXT NOT NULL,
			change         TEXT NOT NULL,
			change_percent TEXT NOT NULL,
			is_positive    INTEGER NOT NULL,
			volume         INTEGER NOT NULL,
			previous_close TEXT NOT NULL,
			open           TEXT NOT NULL,
			high           TEXT NOT NULL,
			low            TEXT NOT NULL,
			source         TEXT NOT NULL DEFAULT '',
			last_updated   INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS holdings (
			user_id        TEXT NOT NULL,
			symbol         TEXT NOT NULL,
			quantity       INTEGER NOT NULL CHECK (quantity > 0),
			average_price  TEXT NOT NULL,
			total_invested TEXT NOT NULL,
			created_at     INTEGER NOT NULL,
			updated_at     INTEGER NOT NULL,
			version        INTEGER NOT NULL DEFAULT 1,
			PRIMARY KEY (user_id, symbol)
		)`,
		`CREATE TABLE IF NOT EXISTS trades (
			seq           INTEGER PRIMARY KEY AUTOINCREMENT,
			id            TEXT NOT NULL UNIQUE,
			user_id       TEXT NOT NULL,
			symbol        TEXT NOT NULL,
			side          TEXT NOT NULL,
			quantity      INTEGER NOT NULL,
			price         TEXT NOT NULL,
			total         TEXT NOT NULL,
			cost_basis    TEXT NOT NULL,
			realized_gain TEXT NOT NULL,
			timestamp     INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_user ON trades(user_id, seq)`,
		`CREATE TABLE IF NOT EXISTS profiles (
			user_id    TEXT PRIMARY KEY,
			data       TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// --- Quotes ---

func (s *SQLiteStore) UpsertQuote(ctx context.Context, q *model.Quote) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO quotes (symbol, name, price, change, change_percent, is_positive, volume,
		                     previous_close, open, high, low, source, last_updated)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (symbol) DO UPDATE SET
		   name = excluded.name, price = excluded.price, change = excluded.change,
		   change_percent = excluded.change_percent, is_positive = excluded.is_positive,
		   volume = excluded.volume, previous_close = excluded.previous_close,
		   open = excluded.open, high = excluded.high, low = excluded.low,
		   source = excluded.source, last_updated = excluded.last_updated`,
		q.Symbol, q.Name, q.Price.String(), q.Change.String(), q.ChangePercent, q.IsPositive, q.Volume,
		q.PreviousClose.String(), q.Open.String(), q.High.String(), q.Low.String(), q.Source,
		q.LastUpdated.UnixNano(),
	)
	return err
}

const sqliteQuoteColumns = `symbol, name, price, change, change_percent, is_positive, volume,
	previous_close, open, high, low, source, last_updated`

func (s *SQLiteStore) GetQuote(ctx context.Context, symbol string) (*model.Quote, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteQuoteColumns+` FROM quotes WHERE symbol = ?`, symbol)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	quotes, err := scanSQLiteQuotes(rows)
	if err != nil {
		return nil, err
	}
	if len(quotes) == 0 {
		return nil, fmt.Errorf("quote %s: %w", symbol, ErrNotFound)
	}
	return &quotes[0], nil
}

func (s *SQLiteStore) ListQuotes(ctx context.Context) ([]model.Quote, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteQuoteColumns+` FROM quotes ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSQLiteQuotes(rows)
}

// --- Holdings ---

const sqliteHoldingColumns = `user_id, symbol, quantity, average_price, total_invested, created_at, updated_at, version`

func (s *SQLiteStore) GetHolding(ctx context.Context, userID, symbol string) (*model.Holding, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteHoldingColumns+` FROM holdings WHERE user_id = ? AND symbol = ?`, userID, symbol)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	holdings, err := scanSQLiteHoldings(rows)
	if err != nil {
		return nil, err
	}
	if len(holdings) == 0 {
		return nil, fmt.Errorf("holding %s/%s: %w", userID, symbol, ErrNotFound)
	}
	return &holdings[0], nil
}

func (s *SQLiteStore) ListHoldings(ctx context.Context, userID string) ([]model.Holding, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteHoldingColumns+` FROM holdings WHERE user_id = ? ORDER BY symbol`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSQLiteHoldings(rows)
}

func (s *SQLiteStore) InsertHolding(ctx context.Context, h *model.Holding) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO holdings (user_id, symbol, quantity, average_price, total_invested, created_at, updated_at, version)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, symbol) DO NOTHING`,
		h.UserID, h.Symbol, h.Quantity, h.AveragePrice.String(), h.TotalInvested.String(),
		h.CreatedAt.UnixNano(), h.UpdatedAt.UnixNano(), h.Version,
	)
	return conditional(res, err, "holding %s/%s exists", h.UserID, h.Symbol)
}

func (s *SQLiteStore) UpdateHolding(ctx context.Context, h *model.Holding, expectedVersion int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE holdings SET quantity = ?, average_price = ?, total_invested = ?, updated_at = ?, version = version + 1
		 WHERE user_id = ? AND symbol = ? AND version = ?`,
		h.Quantity, h.AveragePrice.String(), h.TotalInvested.String(), h.UpdatedAt.UnixNano(),
		h.UserID, h.Symbol, expectedVersion,
	)
	return conditional(res, err, "holding %s/%s changed", h.UserID, h.Symbol)
}

func (s *SQLiteStore) DeleteHolding(ctx context.Context, userID, symbol string, expectedVersion int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM holdings WHERE user_id = ? AND symbol = ? AND version = ?`,
		userID, symbol, expectedVersion,
	)
	return conditional(res, err, "holding %s/%s changed", userID, symbol)
}

// conditional maps a zero-row conditional write onto ErrConflict.
func conditional(res sql.Result, err error, format string, args ...any) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrConflict)
	}
	return nil
}

// --- Trades ---

func (s *SQLiteStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trades (id, user_id, symbol, side, quantity, price, total, cost_basis, realized_gain, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.Symbol, t.Side, t.Quantity,
		t.Price.String(), t.Total.String(), t.CostBasis.String(), t.RealizedGain.String(),
		t.Timestamp.UnixNano(),
	)
	return err
}

func (s *SQLiteStore) ListTrades(ctx context.Context, userID string) ([]model.Trade, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, symbol, side, quantity, price, total, cost_basis, realized_gain, timestamp
		 FROM trades WHERE user_id = ? ORDER BY seq ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var price, total, basis, gain string
		var ts int64
		if err := rows.Scan(&t.ID, &t.UserID, &t.Symbol, &t.Side, &t.Quantity,
			&price, &total, &basis, &gain, &ts); err != nil {
			return nil, err
		}
		t.Price, _ = decimal.NewFromString(price)
		t.Total, _ = decimal.NewFromString(total)
		t.CostBasis, _ = decimal.NewFromString(basis)
		t.RealizedGain, _ = decimal.NewFromString(gain)
		t.Timestamp = fromNanos(ts)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// --- Profiles ---

func (s *SQLiteStore) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM profiles WHERE user_id = ?`, userID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("profile %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", userID, err)
	}
	var p model.Profile
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", userID, err)
	}
	return &p, nil
}

func (s *SQLiteStore) SaveProfile(ctx context.Context, p *model.Profile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO profiles (user_id, data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		p.UserID, string(data), p.UpdatedAt.UnixNano(),
	)
	return err
}

// --- Scan helpers ---

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func scanSQLiteQuotes(rows *sql.Rows) ([]model.Quote, error) {
	var quotes []model.Quote
	for rows.Next() {
		var q model.Quote
		var price, change, prev, open, high, low string
		var updated int64
		if err := rows.Scan(&q.Symbol, &q.Name, &price, &change, &q.ChangePercent, &q.IsPositive, &q.Volume,
			&prev, &open, &high, &low, &q.Source, &updated); err != nil {
			return nil, err
		}
		q.Price, _ = decimal.NewFromString(price)
		q.Change, _ = decimal.NewFromString(change)
		q.PreviousClose, _ = decimal.NewFromString(prev)
		q.Open, _ = decimal.NewFromString(open)
		q.High, _ = decimal.NewFromString(high)
		q.Low, _ = decimal.NewFromString(low)
		q.LastUpdated = fromNanos(updated)
		quotes = append(quotes, q)
	}
	return quotes, rows.Err()
}

func scanSQLiteHoldings(rows *sql.Rows) ([]model.Holding, error) {
	var holdings []model.Holding
	for rows.Next() {
		var h model.Holding
		var avg, invested string
		var created, updated int64
		if err := rows.Scan(&h.UserID, &h.Symbol, &h.Quantity, &avg, &invested, &created, &updated, &h.Version); err != nil {
			return nil, err
		}
		h.AveragePrice, _ = decimal.NewFromString(avg)
		h.TotalInvested, _ = decimal.NewFromString(invested)
		h.CreatedAt = fromNanos(created)
		h.UpdatedAt = fromNanos(updated)
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}

func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{Backend: "sqlite"}
	for table, dst := range map[string]*int64{
		"quotes":   &st.Quotes,
		"holdings": &st.Holdings,
		"trades":   &st.Trades,
		"profiles": &st.Profiles,
	} {
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(dst); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
	}
	return st, nil
}
