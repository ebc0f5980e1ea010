package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"polymarket-copytrader/api"
	"polymarket-copytrader/models"
	"polymarket-copytrader/utils"
)

const (
	tokenCacheTTL  = 24 * time.Hour
	traderCacheKey = "traders:active"
	traderCacheTTL = time.Minute
)

// PostgresStore wraps PostgreSQL persistence with Redis caching.
type PostgresStore struct {
	pool  *pgxpool.Pool
	redis *redis.Client
}

// NewPostgres creates a PostgreSQL store with connection pooling and a
// Redis cache, configured from the environment.
func NewPostgres() (*PostgresStore, error) {
	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	user := getEnv("POSTGRES_USER", "copytrader")
	password := getEnv("POSTGRES_PASSWORD", "copytrader")
	dbname := getEnv("POSTGRES_DB", "copytrader")

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, password, host, port, dbname)

	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute
	config.HealthCheckPeriod = 30 * time.Second
	config.ConnConfig.RuntimeParams["statement_timeout"] = "30000"
	config.ConnConfig.RuntimeParams["lock_timeout"] = "10000"

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	redisHost := getEnv("REDIS_HOST", "localhost")
	redisPort := getEnv("REDIS_PORT", "6379")

	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", redisHost, redisPort),
		Password:     getEnv("REDIS_PASSWORD", ""),
		DB:           0,
		PoolSize:     20,
		MinIdleConns: 2,
		MaxRetries:   3,
	})

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		pool.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	s := &PostgresStore{pool: pool, redis: rdb}
	if err := s.initSchema(context.Background()); err != nil {
		s.Close()
		return nil, err
	}

	log.Printf("[Storage] Connected to postgres %s:%s db=%s", host, port, dbname)
	return s, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS traders (
			address TEXT PRIMARY KEY,
			alias TEXT NOT NULL DEFAULT '',
			total_trades INT NOT NULL DEFAULT 0,
			winning_trades INT NOT NULL DEFAULT 0,
			win_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
			total_pnl DOUBLE PRECISION NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			last_trade_time TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS copy_trades (
			id BIGSERIAL PRIMARY KEY,
			timestamp TIMESTAMPTZ NOT NULL,
			trader_address TEXT NOT NULL,
			token_id TEXT NOT NULL,
			side TEXT NOT NULL,
			action TEXT NOT NULL,
			shares DOUBLE PRECISION NOT NULL,
			price DOUBLE PRECISION NOT NULL,
			amount_usd DOUBLE PRECISION NOT NULL,
			pnl DOUBLE PRECISION NOT NULL DEFAULT 0,
			tx_hash TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_copy_trades_timestamp ON copy_trades (timestamp DESC)`,
		`CREATE TABLE IF NOT EXISTS token_cache (
			token_id TEXT PRIMARY KEY,
			condition_id TEXT NOT NULL DEFAULT '',
			question TEXT NOT NULL DEFAULT '',
			outcome TEXT NOT NULL DEFAULT '',
			slug TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init schema: %w", err)
		}
	}
	return nil
}

// Close releases database connections.
func (s *PostgresStore) Close() error {
	if s.redis != nil {
		s.redis.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// LoadActiveTraders returns all active traders, served from Redis when the
// cached list is fresh.
func (s *PostgresStore) LoadActiveTraders(ctx context.Context) ([]models.TraderRecord, error) {
	if cached, err := s.redis.Get(ctx, traderCacheKey).Result(); err == nil {
		var traders []models.TraderRecord
		if json.Unmarshal([]byte(cached), &traders) == nil {
			return traders, nil
		}
	}

	rows, err := s.pool.Query(ctx, `
		SELECT address, alias, total_trades, winning_trades, win_rate, total_pnl, is_active, last_trade_time
		FROM traders WHERE is_active = TRUE ORDER BY address`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load traders: %w", err)
	}
	defer rows.Close()

	var traders []models.TraderRecord
	for rows.Next() {
		var t models.TraderRecord
		if err := rows.Scan(&t.Address, &t.Alias, &t.TotalTrades, &t.WinningTrades,
			&t.WinRate, &t.TotalPnl, &t.IsActive, &t.LastTradeTime); err != nil {
			return nil, fmt.Errorf("postgres: scan trader: %w", err)
		}
		traders = append(traders, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if data, err := json.Marshal(traders); err == nil {
		s.redis.Set(ctx, traderCacheKey, data, traderCacheTTL)
	}
	return traders, nil
}

// UpsertTrader inserts or updates a trader and invalidates the list cache.
func (s *PostgresStore) UpsertTrader(ctx context.Context, trader models.TraderRecord) error {
	addr := utils.NormalizeAddress(trader.Address)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO traders (address, alias, total_trades, winning_trades, win_rate, total_pnl, is_active, last_trade_time, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (address) DO UPDATE SET
			alias = EXCLUDED.alias,
			total_trades = EXCLUDED.total_trades,
			winning_trades = EXCLUDED.winning_trades,
			win_rate = EXCLUDED.win_rate,
			total_pnl = EXCLUDED.total_pnl,
			is_active = EXCLUDED.is_active,
			last_trade_time = EXCLUDED.last_trade_time,
			updated_at = NOW()`,
		addr, trader.Alias, trader.TotalTrades, trader.WinningTrades,
		trader.WinRate, trader.TotalPnl, trader.IsActive, trader.LastTradeTime)
	if err != nil {
		return fmt.Errorf("postgres: upsert trader %s: %w", utils.ShortAddress(addr), err)
	}

	s.redis.Del(ctx, traderCacheKey)
	return nil
}

// DeactivateTrader marks a trader inactive without deleting its history.
func (s *PostgresStore) DeactivateTrader(ctx context.Context, address string) error {
	addr := utils.NormalizeAddress(address)
	tag, err := s.pool.Exec(ctx,
		`UPDATE traders SET is_active = FALSE, updated_at = NOW() WHERE address = $1`, addr)
	if err != nil {
		return fmt.Errorf("postgres: deactivate trader: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	s.redis.Del(ctx, traderCacheKey)
	return nil
}

// SaveCopyTrade appends one executed trade to history.
func (s *PostgresStore) SaveCopyTrade(ctx context.Context, trade CopyTrade) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO copy_trades (timestamp, trader_address, token_id, side, action, shares, price, amount_usd, pnl, tx_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		trade.Timestamp, utils.NormalizeAddress(trade.TraderAddress), trade.TokenID,
		trade.Side, trade.Action, trade.Shares, trade.Price, trade.AmountUsd, trade.Pnl, trade.TxHash)
	if err != nil {
		return fmt.Errorf("postgres: save copy trade: %w", err)
	}
	return nil
}

// ListCopyTrades returns the most recent trades, newest first.
func (s *PostgresStore) ListCopyTrades(ctx context.Context, limit int) ([]CopyTrade, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT timestamp, trader_address, token_id, side, action, shares, price, amount_usd, pnl, tx_hash
		FROM copy_trades ORDER BY timestamp DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list copy trades: %w", err)
	}
	defer rows.Close()

	var trades []CopyTrade
	for rows.Next() {
		var t CopyTrade
		if err := rows.Scan(&t.Timestamp, &t.TraderAddress, &t.TokenID, &t.Side, &t.Action,
			&t.Shares, &t.Price, &t.AmountUsd, &t.Pnl, &t.TxHash); err != nil {
			return nil, fmt.Errorf("postgres: scan copy trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// GetTokenInfo reads token metadata, Redis first then the table.
func (s *PostgresStore) GetTokenInfo(ctx context.Context, tokenID string) (*api.TokenInfo, error) {
	key := "token:" + tokenID
	if cached, err := s.redis.Get(ctx, key).Result(); err == nil {
		var info api.TokenInfo
		if json.Unmarshal([]byte(cached), &info) == nil {
			return &info, nil
		}
	}

	var info api.TokenInfo
	err := s.pool.QueryRow(ctx, `
		SELECT token_id, condition_id, question, outcome, slug FROM token_cache WHERE token_id = $1`,
		tokenID).Scan(&info.TokenID, &info.ConditionID, &info.Question, &info.Outcome, &info.Slug)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get token info: %w", err)
	}

	if data, err := json.Marshal(info); err == nil {
		s.redis.Set(ctx, key, data, tokenCacheTTL)
	}
	return &info, nil
}

// SaveTokenInfo upserts token metadata and refreshes the Redis entry.
func (s *PostgresStore) SaveTokenInfo(ctx context.Context, info api.TokenInfo) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO token_cache (token_id, condition_id, question, outcome, slug, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (token_id) DO UPDATE SET
			condition_id = EXCLUDED.condition_id,
			question = EXCLUDED.question,
			outcome = EXCLUDED.outcome,
			slug = EXCLUDED.slug,
			updated_at = NOW()`,
		info.TokenID, info.ConditionID, info.Question, info.Outcome, info.Slug)
	if err != nil {
		return fmt.Errorf("postgres: save token info: %w", err)
	}

	if data, err := json.Marshal(info); err == nil {
		s.redis.Set(ctx, "token:"+info.TokenID, data, tokenCacheTTL)
	}
	return nil
}
