package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"polymarket-copytrader/api"
	"polymarket-copytrader/models"
	"polymarket-copytrader/utils"
)

// SQLiteStore wraps SQLite persistence for local single-process runs.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (and creates if needed) the SQLite database at dbPath.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("storage: db path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("storage: mkdir %s: %w", filepath.Dir(dbPath), err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}

	// modernc sqlite is single-writer
	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(0)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("[Storage] Opened sqlite database %s", dbPath)
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS traders (
		address TEXT PRIMARY KEY,
		alias TEXT NOT NULL DEFAULT '',
		total_trades INTEGER NOT NULL DEFAULT 0,
		winning_trades INTEGER NOT NULL DEFAULT 0,
		win_rate REAL NOT NULL DEFAULT 0,
		total_pnl REAL NOT NULL DEFAULT 0,
		is_active INTEGER NOT NULL DEFAULT 1,
		last_trade_time TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS copy_trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TIMESTAMP NOT NULL,
		trader_address TEXT NOT NULL,
		token_id TEXT NOT NULL,
		side TEXT NOT NULL,
		action TEXT NOT NULL,
		shares REAL NOT NULL,
		price REAL NOT NULL,
		amount_usd REAL NOT NULL,
		pnl REAL NOT NULL DEFAULT 0,
		tx_hash TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_copy_trades_timestamp ON copy_trades (timestamp);
	CREATE TABLE IF NOT EXISTS token_cache (
		token_id TEXT PRIMARY KEY,
		condition_id TEXT NOT NULL DEFAULT '',
		question TEXT NOT NULL DEFAULT '',
		outcome TEXT NOT NULL DEFAULT '',
		slug TEXT NOT NULL DEFAULT ''
	);`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("storage: init schema: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) LoadActiveTraders(ctx context.Context) ([]models.TraderRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT address, alias, total_trades, winning_trades, win_rate, total_pnl, is_active, last_trade_time
		FROM traders WHERE is_active = 1 ORDER BY address`)
	if err != nil {
		return nil, fmt.Errorf("storage: load traders: %w", err)
	}
	defer rows.Close()

	var traders []models.TraderRecord
	for rows.Next() {
		var t models.TraderRecord
		if err := rows.Scan(&t.Address, &t.Alias, &t.TotalTrades, &t.WinningTrades,
			&t.WinRate, &t.TotalPnl, &t.IsActive, &t.LastTradeTime); err != nil {
			return nil, fmt.Errorf("storage: scan trader: %w", err)
		}
		traders = append(traders, t)
	}
	return traders, rows.Err()
}

func (s *SQLiteStore) UpsertTrader(ctx context.Context, trader models.TraderRecord) error {
	addr := utils.NormalizeAddress(trader.Address)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO traders (address, alias, total_trades, winning_trades, win_rate, total_pnl, is_active, last_trade_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (address) DO UPDATE SET
			alias = excluded.alias,
			total_trades = excluded.total_trades,
			winning_trades = excluded.winning_trades,
			win_rate = excluded.win_rate,
			total_pnl = excluded.total_pnl,
			is_active = excluded.is_active,
			last_trade_time = excluded.last_trade_time`,
		addr, trader.Alias, trader.TotalTrades, trader.WinningTrades,
		trader.WinRate, trader.TotalPnl, trader.IsActive, trader.LastTradeTime)
	if err != nil {
		return fmt.Errorf("storage: upsert trader %s: %w", utils.ShortAddress(addr), err)
	}
	return nil
}

func (s *SQLiteStore) DeactivateTrader(ctx context.Context, address string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE traders SET is_active = 0 WHERE address = ?`, utils.NormalizeAddress(address))
	if err != nil {
		return fmt.Errorf("storage: deactivate trader: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) SaveCopyTrade(ctx context.Context, trade CopyTrade) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO copy_trades (timestamp, trader_address, token_id, side, action, shares, price, amount_usd, pnl, tx_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trade.Timestamp, utils.NormalizeAddress(trade.TraderAddress), trade.TokenID,
		trade.Side, trade.Action, trade.Shares, trade.Price, trade.AmountUsd, trade.Pnl, trade.TxHash)
	if err != nil {
		return fmt.Errorf("storage: save copy trade: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListCopyTrades(ctx context.Context, limit int) ([]CopyTrade, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, trader_address, token_id, side, action, shares, price, amount_usd, pnl, tx_hash
		FROM copy_trades ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list copy trades: %w", err)
	}
	defer rows.Close()

	var trades []CopyTrade
	for rows.Next() {
		var t CopyTrade
		if err := rows.Scan(&t.Timestamp, &t.TraderAddress, &t.TokenID, &t.Side, &t.Action,
			&t.Shares, &t.Price, &t.AmountUsd, &t.Pnl, &t.TxHash); err != nil {
			return nil, fmt.Errorf("storage: scan copy trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (s *SQLiteStore) GetTokenInfo(ctx context.Context, tokenID string) (*api.TokenInfo, error) {
	var info api.TokenInfo
	err := s.db.QueryRowContext(ctx, `
		SELECT token_id, condition_id, question, outcome, slug FROM token_cache WHERE token_id = ?`,
		tokenID).Scan(&info.TokenID, &info.ConditionID, &info.Question, &info.Outcome, &info.Slug)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get token info: %w", err)
	}
	return &info, nil
}

func (s *SQLiteStore) SaveTokenInfo(ctx context.Context, info api.TokenInfo) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO token_cache (token_id, condition_id, question, outcome, slug)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (token_id) DO UPDATE SET
			condition_id = excluded.condition_id,
			question = excluded.question,
			outcome = excluded.outcome,
			slug = excluded.slug`,
		info.TokenID, info.ConditionID, info.Question, info.Outcome, info.Slug)
	if err != nil {
		return fmt.Errorf("storage: save token info: %w", err)
	}
	return nil
}
