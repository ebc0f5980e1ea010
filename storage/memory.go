package storage

import (
	"context"
	"sync"

	"polymarket-copytrader/api"
	"polymarket-copytrader/models"
	"polymarket-copytrader/utils"
)

// MemoryStore keeps everything in process memory. Used in tests and as a
// last-resort backend when neither postgres nor sqlite is available.
type MemoryStore struct {
	mu      sync.RWMutex
	traders map[string]models.TraderRecord
	trades  []CopyTrade
	tokens  map[string]api.TokenInfo
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		traders: make(map[string]models.TraderRecord),
		tokens:  make(map[string]api.TokenInfo),
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) LoadActiveTraders(ctx context.Context) ([]models.TraderRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var traders []models.TraderRecord
	for _, t := range s.traders {
		if t.IsActive {
			traders = append(traders, t)
		}
	}
	return traders, nil
}

func (s *MemoryStore) UpsertTrader(ctx context.Context, trader models.TraderRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	trader.Address = utils.NormalizeAddress(trader.Address)
	s.traders[trader.Address] = trader
	return nil
}

func (s *MemoryStore) DeactivateTrader(ctx context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	addr := utils.NormalizeAddress(address)
	t, ok := s.traders[addr]
	if !ok {
		return ErrNotFound
	}
	t.IsActive = false
	s.traders[addr] = t
	return nil
}

func (s *MemoryStore) SaveCopyTrade(ctx context.Context, trade CopyTrade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, trade)
	return nil
}

func (s *MemoryStore) ListCopyTrades(ctx context.Context, limit int) ([]CopyTrade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.trades) {
		limit = len(s.trades)
	}
	// newest first
	out := make([]CopyTrade, 0, limit)
	for i := len(s.trades) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.trades[i])
	}
	return out, nil
}

func (s *MemoryStore) GetTokenInfo(ctx context.Context, tokenID string) (*api.TokenInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.tokens[tokenID]
	if !ok {
		return nil, ErrNotFound
	}
	return &info, nil
}

func (s *MemoryStore) SaveTokenInfo(ctx context.Context, info api.TokenInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[info.TokenID] = info
	return nil
}
