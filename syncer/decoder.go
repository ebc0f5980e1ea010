// Package syncer watches the Polygon chain for conditional token transfers
// made by followed traders and turns them into trade signals.
package syncer

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"polymarket-copytrader/models"
	"polymarket-copytrader/utils"
)

// Conditional tokens use 6 decimal fixed point, same as USDC.
var tokenDecimals = big.NewFloat(1e6)

const zeroAddress = "0x0000000000000000000000000000000000000000"

// DecodeError reports a log that does not carry a well-formed
// TransferSingle event. Malformed logs are skipped, never fatal.
type DecodeError struct {
	TxHash string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %s", utils.ShortHash(e.TxHash), e.Reason)
}

// DecodeTransferSingle extracts a TransferEvent from an ERC-1155
// TransferSingle log. Topics carry operator, from and to as left-padded
// addresses; data carries tokenId and value as two uint256 words.
func DecodeTransferSingle(lg types.Log) (models.TransferEvent, error) {
	txHash := lg.TxHash.Hex()

	if len(lg.Topics) < 4 {
		return models.TransferEvent{}, &DecodeError{TxHash: txHash, Reason: fmt.Sprintf("expected 4 topics, got %d", len(lg.Topics))}
	}
	if len(lg.Data) < 64 {
		return models.TransferEvent{}, &DecodeError{TxHash: txHash, Reason: fmt.Sprintf("expected 64 data bytes, got %d", len(lg.Data))}
	}

	fromAddr := common.BytesToAddress(lg.Topics[2].Bytes()[12:]).Hex()
	toAddr := common.BytesToAddress(lg.Topics[3].Bytes()[12:]).Hex()

	tokenID := new(big.Int).SetBytes(lg.Data[:32])
	rawAmount := new(big.Int).SetBytes(lg.Data[32:64])

	amountF := new(big.Float).Quo(new(big.Float).SetInt(rawAmount), tokenDecimals)
	amount, _ := amountF.Float64()

	return models.TransferEvent{
		TxHash:      txHash,
		BlockNumber: lg.BlockNumber,
		TokenID:     tokenID.String(),
		Amount:      amount,
		FromAddr:    utils.NormalizeAddress(fromAddr),
		ToAddr:      utils.NormalizeAddress(toAddr),
	}, nil
}

// TradeSide determines which way the trader traded from the transfer
// direction. Mints are buys, burns are sells; for wallet-to-wallet moves
// the trader receiving tokens bought them.
func TradeSide(ev models.TransferEvent, trader string) models.Side {
	switch {
	case ev.FromAddr == zeroAddress:
		return models.SideBuy
	case ev.ToAddr == zeroAddress:
		return models.SideSell
	case ev.ToAddr == utils.NormalizeAddress(trader):
		return models.SideBuy
	default:
		return models.SideSell
	}
}

// eventTime returns the event timestamp, falling back to now when the
// block timestamp could not be fetched.
func eventTime(ev models.TransferEvent) time.Time {
	if ev.Timestamp.IsZero() {
		return time.Now().UTC()
	}
	return ev.Timestamp
}
