// Package executor applies accepted copy decisions. The paper wallet is
// a simulated execution sink; no real orders are placed.
package executor

import (
	"context"
	"log"
	"sync"
	"time"

	"polymarket-copytrader/models"
	"polymarket-copytrader/utils"
)

// Fraction of the balance a clamped buy may spend, leaving margin for
// later trades.
const balanceHeadroom = 0.95

// SimulatedPosition is an open holding in the paper wallet.
type SimulatedPosition struct {
	TokenID        string  `json:"token_id"`
	MarketQuestion string  `json:"market_question,omitempty"`
	Outcome        string  `json:"outcome,omitempty"`
	Shares         float64 `json:"shares"`
	AvgPrice       float64 `json:"avg_price"`
	TotalCostUsd   float64 `json:"total_cost_usd"`
}

// TradeRecord is one executed simulated trade.
type TradeRecord struct {
	Timestamp   time.Time           `json:"timestamp"`
	Action      models.SignalAction `json:"action"`
	Side        models.Side         `json:"side"`
	TokenID     string              `json:"token_id"`
	TraderAlias string              `json:"trader_alias,omitempty"`
	Shares      float64             `json:"shares"`
	Price       float64             `json:"price"`
	AmountUsd   float64             `json:"amount_usd"`
	Pnl         float64             `json:"pnl"`
	TxHash      string              `json:"tx_hash"`
}

// WalletSummary is a point-in-time snapshot for status reporting.
type WalletSummary struct {
	UsdcBalance    float64 `json:"usdc_balance"`
	PositionValue  float64 `json:"position_value"`
	PortfolioValue float64 `json:"portfolio_value"`
	RealizedPnl    float64 `json:"realized_pnl"`
	PositionCount  int     `json:"position_count"`
	TradeCount     int     `json:"trade_count"`
	WinningTrades  int     `json:"winning_trades"`
}

// PaperWallet simulates execution against a USDC balance and a set of
// outcome-share positions. All mutation goes through Execute.
type PaperWallet struct {
	defaultPrice float64

	mu            sync.RWMutex
	balance       float64
	positions     map[string]*SimulatedPosition
	history       []TradeRecord
	tradeCount    int
	winningTrades int
	realizedPnl   float64
}

func NewPaperWallet(initialBalance, defaultPrice float64) *PaperWallet {
	return &PaperWallet{
		defaultPrice: defaultPrice,
		balance:      initialBalance,
		positions:    make(map[string]*SimulatedPosition),
	}
}

// Execute applies a COPY or REDUCE decision to the simulated ledger.
// Rejections come back as a failed result with a reason, never an error.
func (w *PaperWallet) Execute(ctx context.Context, decision models.SignalDecision) models.ExecutionResult {
	sig := decision.Signal

	price := sig.Price
	if price <= 0 {
		price = w.defaultPrice
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	var result models.ExecutionResult
	if sig.Side == models.SideBuy {
		result = w.buyLocked(sig.TokenID, decision.CopySize, price)
	} else {
		result = w.sellLocked(sig.TokenID, decision.CopySize, price)
	}

	w.tradeCount++
	w.history = append(w.history, TradeRecord{
		Timestamp:   time.Now().UTC(),
		Action:      decision.Action,
		Side:        sig.Side,
		TokenID:     sig.TokenID,
		TraderAlias: sig.TraderAlias,
		Shares:      result.ExecutedSize,
		Price:       result.ExecutedPrice,
		AmountUsd:   result.ExecutedSize * result.ExecutedPrice,
		Pnl:         result.Pnl,
		TxHash:      sig.TxHash,
	})

	if result.Success {
		if pos, ok := w.positions[sig.TokenID]; ok && pos.MarketQuestion == "" {
			pos.MarketQuestion = sig.MarketQuestion
			pos.Outcome = sig.Outcome
		}
		log.Printf("[PaperWallet] %s %.2f shares of %s @ %.4f, balance $%.2f",
			sig.Side, result.ExecutedSize, utils.ShortHash(sig.TokenID), result.ExecutedPrice, w.balance)
	} else {
		log.Printf("[PaperWallet] Rejected %s of %s: %s", sig.Side, utils.ShortHash(sig.TokenID), result.Reason)
	}

	return result
}

func (w *PaperWallet) buyLocked(tokenID string, shares, price float64) models.ExecutionResult {
	cost := shares * price

	if cost > w.balance {
		shares = w.balance * balanceHeadroom / price
		cost = shares * price
		if shares < 1 {
			return models.ExecutionResult{Success: false, Reason: "insufficient balance"}
		}
	}

	w.balance -= cost

	pos, ok := w.positions[tokenID]
	if !ok {
		pos = &SimulatedPosition{TokenID: tokenID}
		w.positions[tokenID] = pos
	}
	pos.TotalCostUsd += cost
	pos.Shares += shares
	pos.AvgPrice = pos.TotalCostUsd / pos.Shares

	return models.ExecutionResult{
		Success:       true,
		ExecutedPrice: price,
		ExecutedSize:  shares,
	}
}

func (w *PaperWallet) sellLocked(tokenID string, shares, price float64) models.ExecutionResult {
	pos, ok := w.positions[tokenID]
	if !ok || pos.Shares <= 0 {
		return models.ExecutionResult{Success: false, Reason: "no position to sell"}
	}

	sellShares := utils.MinFloat(shares, pos.Shares)
	revenue := sellShares * price
	costBasis := sellShares * pos.AvgPrice
	pnl := revenue - costBasis

	w.balance += revenue
	w.realizedPnl += pnl
	pos.Shares -= sellShares
	pos.TotalCostUsd -= costBasis
	if pos.Shares <= 0 {
		delete(w.positions, tokenID)
	}

	if pnl > 0 {
		w.winningTrades++
	}

	return models.ExecutionResult{
		Success:       true,
		ExecutedPrice: price,
		ExecutedSize:  sellShares,
		Pnl:           pnl,
	}
}

// Exposure returns the cost basis of open positions and their count.
func (w *PaperWallet) Exposure() (float64, int) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	total := 0.0
	for _, pos := range w.positions {
		total += pos.TotalCostUsd
	}
	return total, len(w.positions)
}

// Balance returns the current USDC balance.
func (w *PaperWallet) Balance() float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.balance
}

// Summary returns a snapshot of the wallet. Position value uses cost
// basis since no live prices are tracked.
func (w *PaperWallet) Summary() WalletSummary {
	w.mu.RLock()
	defer w.mu.RUnlock()

	posValue := 0.0
	for _, pos := range w.positions {
		posValue += pos.TotalCostUsd
	}

	return WalletSummary{
		UsdcBalance:    w.balance,
		PositionValue:  posValue,
		PortfolioValue: w.balance + posValue,
		RealizedPnl:    w.realizedPnl,
		PositionCount:  len(w.positions),
		TradeCount:     w.tradeCount,
		WinningTrades:  w.winningTrades,
	}
}

// Positions returns a copy of all open positions.
func (w *PaperWallet) Positions() []SimulatedPosition {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]SimulatedPosition, 0, len(w.positions))
	for _, pos := range w.positions {
		out = append(out, *pos)
	}
	return out
}

// History returns the trade history, most recent last, capped at limit.
// limit <= 0 returns everything.
func (w *PaperWallet) History(limit int) []TradeRecord {
	w.mu.RLock()
	defer w.mu.RUnlock()

	records := w.history
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	out := make([]TradeRecord, len(records))
	copy(out, records)
	return out
}
