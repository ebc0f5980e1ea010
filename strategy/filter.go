// Package strategy decides whether and how much of a detected trade to
// mirror: filtering, risk gating, position sizing and the resulting
// copy/skip decision.
package strategy

import (
	"fmt"
	"sync"
	"time"

	"polymarket-copytrader/config"
	"polymarket-copytrader/models"
)

const (
	duplicateWindow = 5 * time.Minute
	recentRetention = time.Hour
)

type recordedSignal struct {
	trader    string
	side      models.Side
	timestamp time.Time
}

// SignalFilter rejects duplicate, low-quality-trader and low-quality-trade
// signals. Gates run in that order and the first failure wins.
type SignalFilter struct {
	cfg config.StrategyConfig

	mu     sync.Mutex
	recent map[string][]recordedSignal // market key -> accepted signals
}

func NewSignalFilter(cfg config.StrategyConfig) *SignalFilter {
	return &SignalFilter{
		cfg:    cfg,
		recent: make(map[string][]recordedSignal),
	}
}

// Evaluate runs all gates against the signal. trader is the profile of the
// originating trader, nil when unknown. A passing signal is recorded so a
// repeat within the duplicate window gets rejected.
func (f *SignalFilter) Evaluate(sig models.TradeSignal, trader *models.TraderRecord) (bool, string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pruneLocked(sig.Timestamp)

	if f.isDuplicateLocked(sig) {
		return false, "Duplicate signal"
	}

	if trader != nil {
		if trader.TotalTrades < f.cfg.MinTraderTrades || trader.WinRate < f.cfg.MinTraderProfitRate {
			return false, "Trader doesn't meet criteria"
		}
	}

	if sig.AmountUsd < f.cfg.MinTradeAmount {
		return false, fmt.Sprintf("Trade too small: $%.2f < $%.2f", sig.AmountUsd, f.cfg.MinTradeAmount)
	}
	if sig.HasPrice() && (sig.Price < config.MinMarketPrice || sig.Price > config.MaxMarketPrice) {
		return false, fmt.Sprintf("Price out of range: %.4f", sig.Price)
	}

	f.recordLocked(sig)
	return true, ""
}

func (f *SignalFilter) marketKey(sig models.TradeSignal) string {
	if sig.MarketID != "" {
		return sig.MarketID
	}
	return sig.TokenID
}

func (f *SignalFilter) isDuplicateLocked(sig models.TradeSignal) bool {
	for _, rec := range f.recent[f.marketKey(sig)] {
		if rec.trader != sig.TraderAddress || rec.side != sig.Side {
			continue
		}
		delta := sig.Timestamp.Sub(rec.timestamp)
		if delta < 0 {
			delta = -delta
		}
		if delta <= duplicateWindow {
			return true
		}
	}
	return false
}

func (f *SignalFilter) recordLocked(sig models.TradeSignal) {
	key := f.marketKey(sig)
	f.recent[key] = append(f.recent[key], recordedSignal{
		trader:    sig.TraderAddress,
		side:      sig.Side,
		timestamp: sig.Timestamp,
	})
}

// pruneLocked drops recorded signals older than the retention window so
// the map stays bounded.
func (f *SignalFilter) pruneLocked(now time.Time) {
	cutoff := now.Add(-recentRetention)
	for key, recs := range f.recent {
		kept := recs[:0]
		for _, rec := range recs {
			if rec.timestamp.After(cutoff) {
				kept = append(kept, rec)
			}
		}
		if len(kept) == 0 {
			delete(f.recent, key)
		} else {
			f.recent[key] = kept
		}
	}
}
