// Package storage persists the trader registry, executed copy trades and
// the token metadata cache. Postgres with Redis caching is the primary
// backend; SQLite covers local single-process runs.
package storage

import (
	"context"
	"errors"
	"time"

	"polymarket-copytrader/api"
	"polymarket-copytrader/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("storage: not found")

// CopyTrade is one executed copy trade as persisted to history.
type CopyTrade struct {
	Timestamp     time.Time `json:"timestamp"`
	TraderAddress string    `json:"trader_address"`
	TokenID       string    `json:"token_id"`
	Side          string    `json:"side"`
	Action        string    `json:"action"`
	Shares        float64   `json:"shares"`
	Price         float64   `json:"price"`
	AmountUsd     float64   `json:"amount_usd"`
	Pnl           float64   `json:"pnl"`
	TxHash        string    `json:"tx_hash"`
}

// TraderStore is the persistence interface for the copy trader.
type TraderStore interface {
	Close() error

	// Trader registry
	LoadActiveTraders(ctx context.Context) ([]models.TraderRecord, error)
	UpsertTrader(ctx context.Context, trader models.TraderRecord) error
	DeactivateTrader(ctx context.Context, address string) error

	// Trade history
	SaveCopyTrade(ctx context.Context, trade CopyTrade) error
	ListCopyTrades(ctx context.Context, limit int) ([]CopyTrade, error)

	// Token metadata cache
	GetTokenInfo(ctx context.Context, tokenID string) (*api.TokenInfo, error)
	SaveTokenInfo(ctx context.Context, info api.TokenInfo) error
}

var _ TraderStore = (*PostgresStore)(nil)
var _ TraderStore = (*SQLiteStore)(nil)
var _ TraderStore = (*MemoryStore)(nil)
