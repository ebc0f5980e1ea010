// Package models holds the value types shared across the copy-trading pipeline.
package models

import "time"

// Side of a trade, from the tracked trader's point of view.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// SignalAction is the terminal outcome of evaluating a signal.
type SignalAction string

const (
	ActionCopy   SignalAction = "COPY"
	ActionSkip   SignalAction = "SKIP"
	ActionReduce SignalAction = "REDUCE" // copy with reduced size
)

// TransferEvent is a decoded CTF TransferSingle log. One is produced per
// matching log entry and consumed immediately by signal construction.
type TransferEvent struct {
	TxHash      string
	BlockNumber uint64
	Timestamp   time.Time
	TokenID     string
	Amount      float64 // outcome shares, already scaled from the 6-decimal raw value
	FromAddr    string  // lowercase 0x address
	ToAddr      string  // lowercase 0x address
}

// TraderRecord describes a tracked trader. Address is lowercase and unique.
type TraderRecord struct {
	Address       string     `json:"address"`
	Alias         string     `json:"alias,omitempty"`
	TotalTrades   int        `json:"total_trades"`
	WinningTrades int        `json:"winning_trades"`
	WinRate       float64    `json:"win_rate"`
	TotalPnl      float64    `json:"total_pnl"`
	IsActive      bool       `json:"is_active"`
	LastTradeTime *time.Time `json:"last_trade_time,omitempty"`
}

// TradeSignal is a candidate trade inferred from on-chain activity.
// Created once per unique tx hash; never mutated after construction.
type TradeSignal struct {
	TraderAddress  string    `json:"trader_address"`
	TraderAlias    string    `json:"trader_alias,omitempty"`
	TokenID        string    `json:"token_id"`
	MarketID       string    `json:"market_id,omitempty"`
	MarketQuestion string    `json:"market_question,omitempty"`
	Outcome        string    `json:"outcome,omitempty"`
	Side           Side      `json:"side"`
	Size           float64   `json:"size"` // shares detected on-chain
	Price          float64   `json:"price"`
	AmountUsd      float64   `json:"amount_usd"`
	Confidence     float64   `json:"confidence"` // 0-1 from the trader's track record
	TxHash         string    `json:"tx_hash"`
	BlockNumber    uint64    `json:"block_number"`
	Timestamp      time.Time `json:"timestamp"`
}

// HasPrice reports whether the signal carries a resolved price.
// On-chain detected signals usually do not; downstream sizing falls back
// to the configured default midpoint.
func (s TradeSignal) HasPrice() bool {
	return s.Price > 0
}

// SignalDecision is the terminal result of evaluating one signal.
type SignalDecision struct {
	Action        SignalAction `json:"action"`
	Signal        TradeSignal  `json:"signal"`
	CopySize      float64      `json:"copy_size"` // shares
	CopyAmountUsd float64      `json:"copy_amount_usd"`
	Reason        string       `json:"reason"`
	Confidence    float64      `json:"confidence"`
}

// RiskMetrics is a snapshot of portfolio risk state. Daily counters reset
// lazily when the UTC date rolls over.
type RiskMetrics struct {
	TotalExposureUsd float64 `json:"total_exposure_usd"`
	PositionCount    int     `json:"position_count"`
	DailyTrades      int     `json:"daily_trades"`
	DailyVolumeUsd   float64 `json:"daily_volume_usd"`
	DailyPnl         float64 `json:"daily_pnl"`
	DayKey           string  `json:"day_key"` // UTC date, YYYY-MM-DD
}

// ExecutionResult reports what an execution sink did with a decision.
// Rejections are results with Success=false and a reason, not errors.
type ExecutionResult struct {
	Success       bool    `json:"success"`
	ExecutedPrice float64 `json:"executed_price,omitempty"`
	ExecutedSize  float64 `json:"executed_size,omitempty"`
	Pnl           float64 `json:"pnl,omitempty"` // realized, SELL only
	Reason        string  `json:"reason,omitempty"`
}
