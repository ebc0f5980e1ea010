package strategy

import (
	"fmt"
	"log"
	"sync"
	"time"

	"polymarket-copytrader/config"
	"polymarket-copytrader/models"
)

// RiskManager tracks daily trade counters and gates new trades against
// exposure and rate limits. Daily counters key off the UTC date and reset
// lazily on the first read of a new day.
type RiskManager struct {
	cfg config.StrategyConfig

	mu             sync.Mutex
	dayKey         string
	dailyTrades    int
	dailyVolumeUsd float64
	dailyPnl       float64

	now func() time.Time // injectable clock
}

func NewRiskManager(cfg config.StrategyConfig) *RiskManager {
	rm := &RiskManager{
		cfg: cfg,
		now: time.Now,
	}
	rm.dayKey = rm.now().UTC().Format("2006-01-02")
	return rm
}

// CanTrade reports whether a new copy trade is allowed given current
// portfolio exposure.
func (r *RiskManager) CanTrade(exposureUsd float64) (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rolloverLocked()

	if exposureUsd >= r.cfg.MaxPositionSize {
		return false, fmt.Sprintf("Max exposure reached: $%.2f >= $%.2f", exposureUsd, r.cfg.MaxPositionSize)
	}
	if r.dailyTrades >= r.cfg.DailyTradeLimit {
		return false, fmt.Sprintf("Daily trade limit reached: %d", r.cfg.DailyTradeLimit)
	}
	return true, ""
}

// RecordTrade updates daily counters for one executed copy trade. Callers
// invoke this only after the execution sink confirms the trade.
func (r *RiskManager) RecordTrade(amountUsd, pnl float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rolloverLocked()

	r.dailyTrades++
	r.dailyVolumeUsd += amountUsd
	r.dailyPnl += pnl
}

// Metrics returns a snapshot combining daily counters with the caller's
// current exposure figures.
func (r *RiskManager) Metrics(exposureUsd float64, positionCount int) models.RiskMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rolloverLocked()

	return models.RiskMetrics{
		TotalExposureUsd: exposureUsd,
		PositionCount:    positionCount,
		DailyTrades:      r.dailyTrades,
		DailyVolumeUsd:   r.dailyVolumeUsd,
		DailyPnl:         r.dailyPnl,
		DayKey:           r.dayKey,
	}
}

func (r *RiskManager) rolloverLocked() {
	today := r.now().UTC().Format("2006-01-02")
	if today == r.dayKey {
		return
	}
	log.Printf("[Risk] Day rolled over %s -> %s, resetting daily counters (trades=%d volume=$%.2f pnl=$%.2f)",
		r.dayKey, today, r.dailyTrades, r.dailyVolumeUsd, r.dailyPnl)
	r.dayKey = today
	r.dailyTrades = 0
	r.dailyVolumeUsd = 0
	r.dailyPnl = 0
}
