package strategy

import (
	"fmt"

	"polymarket-copytrader/config"
	"polymarket-copytrader/models"
	"polymarket-copytrader/utils"
)

// SizeResult is the sizer's output for one signal.
type SizeResult struct {
	OK     bool
	Reason string

	Shares    float64 // copy size in outcome shares
	AmountUsd float64 // copy notional after all caps

	// PendingUsd is the notional before the capacity cap, used to decide
	// whether the copy had to be scaled down.
	PendingUsd float64
	Price      float64 // price used for share conversion
}

// PositionSizer converts a signal into a copy size bounded by per-trade
// and portfolio limits.
type PositionSizer struct {
	cfg config.StrategyConfig
}

func NewPositionSizer(cfg config.StrategyConfig) *PositionSizer {
	return &PositionSizer{cfg: cfg}
}

// Size computes the copy amount for a signal given current portfolio
// exposure. Rejections come back as a failed result, never an error.
func (s *PositionSizer) Size(sig models.TradeSignal, currentExposure float64) SizeResult {
	baseAmount := sig.AmountUsd * s.cfg.CopyRatio

	multiplier := sig.Confidence
	if multiplier <= 0 {
		multiplier = 0.5
	}
	scaled := baseAmount * multiplier

	pending := utils.MinFloat(scaled, s.cfg.MaxTradeAmount)
	remaining := s.cfg.MaxPositionSize - currentExposure
	final := utils.MinFloat(pending, remaining)

	if final < s.cfg.MinTradeAmount {
		return SizeResult{
			OK:     false,
			Reason: fmt.Sprintf("size below minimum: $%.2f < $%.2f", final, s.cfg.MinTradeAmount),
		}
	}

	price := sig.Price
	if price <= 0 {
		price = s.cfg.DefaultPrice
	}

	return SizeResult{
		OK:         true,
		Shares:     final / price,
		AmountUsd:  final,
		PendingUsd: pending,
		Price:      price,
	}
}

// ScaleDownFactor returns how much of a pending amount fits within the
// remaining portfolio capacity: 0 with no capacity, a fraction when the
// pending amount overshoots, 1 otherwise.
func (s *PositionSizer) ScaleDownFactor(currentExposure, pendingAmount float64) float64 {
	remaining := s.cfg.MaxPositionSize - currentExposure
	if remaining <= 0 {
		return 0
	}
	if pendingAmount > remaining {
		return remaining / pendingAmount
	}
	return 1.0
}
