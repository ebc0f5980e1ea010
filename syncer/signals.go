package syncer

import (
	"polymarket-copytrader/api"
	"polymarket-copytrader/models"
	"polymarket-copytrader/utils"
)

// Confidence bounds for profitable traders. Unprofitable or unknown
// traders stay at the floor.
const (
	baseConfidence = 0.5
	maxConfidence  = 0.9
	pnlPerStep     = 10000.0
	stepWeight     = 0.1
)

// traderConfidence scales confidence with realized profit: each $10k of
// total pnl adds 0.1, capped at 0.9.
func traderConfidence(trader *models.TraderRecord) float64 {
	if trader == nil || trader.TotalPnl <= 0 {
		return baseConfidence
	}
	return utils.ClampFloat(baseConfidence+trader.TotalPnl/pnlPerStep*stepWeight, baseConfidence, maxConfidence)
}

// BuildSignal assembles a trade signal from a decoded transfer. On-chain
// transfers carry no execution price; price is what the resolver found, or
// zero, in which case the notional amount is estimated at defaultPrice.
func BuildSignal(ev models.TransferEvent, trader *models.TraderRecord, side models.Side, info api.TokenInfo, price, defaultPrice float64) models.TradeSignal {
	estPrice := price
	if estPrice <= 0 {
		estPrice = defaultPrice
	}

	sig := models.TradeSignal{
		TraderAddress:  trader.Address,
		TraderAlias:    trader.Alias,
		TokenID:        ev.TokenID,
		MarketID:       info.ConditionID,
		MarketQuestion: info.Question,
		Outcome:        info.Outcome,
		Side:           side,
		Size:           ev.Amount,
		Price:          price,
		AmountUsd:      ev.Amount * estPrice,
		Confidence:     traderConfidence(trader),
		TxHash:         ev.TxHash,
		BlockNumber:    ev.BlockNumber,
		Timestamp:      eventTime(ev),
	}
	return sig
}
