// Package api holds clients for external services: the Polygon ledger,
// the Gamma metadata API and the newHeads websocket feed.
package api

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// TransferSingleTopic is keccak256("TransferSingle(address,address,address,uint256,uint256)").
const TransferSingleTopic = "0xc3d58168c5ae7397731d063d5bbf3d657854427343f4c083240f7aacaa2d0f62"

// LedgerClient is the slice of chain access the tracker needs.
type LedgerClient interface {
	// BlockNumber returns the current chain head.
	BlockNumber(ctx context.Context) (uint64, error)
	// BlockTime returns the timestamp of the given block.
	BlockTime(ctx context.Context, number uint64) (time.Time, error)
	// FilterTransferLogs returns TransferSingle logs for the contract in
	// the inclusive block range [from, to].
	FilterTransferLogs(ctx context.Context, from, to uint64) ([]types.Log, error)
}

// PolygonClient wraps an ethclient connection with per-call timeouts.
type PolygonClient struct {
	client   *ethclient.Client
	contract common.Address
	timeout  time.Duration
}

// NewPolygonClient dials the RPC endpoint and verifies it responds.
func NewPolygonClient(rpcURL, contractAddr string, timeout time.Duration) (*PolygonClient, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("polygon: dial %s: %w", rpcURL, err)
	}

	pc := &PolygonClient{
		client:   client,
		contract: common.HexToAddress(contractAddr),
		timeout:  timeout,
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if _, err := client.ChainID(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("polygon: chain id check: %w", err)
	}

	return pc, nil
}

func (c *PolygonClient) BlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	n, err := c.client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("polygon: block number: %w", err)
	}
	return n, nil
}

func (c *PolygonClient) BlockTime(ctx context.Context, number uint64) (time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	header, err := c.client.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return time.Time{}, fmt.Errorf("polygon: header %d: %w", number, err)
	}
	return time.Unix(int64(header.Time), 0).UTC(), nil
}

func (c *PolygonClient) FilterTransferLogs(ctx context.Context, from, to uint64) ([]types.Log, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{c.contract},
		Topics:    [][]common.Hash{{common.HexToHash(TransferSingleTopic)}},
	}

	logs, err := c.client.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("polygon: filter logs [%d, %d]: %w", from, to, err)
	}
	return logs, nil
}

// Close releases the underlying RPC connection.
func (c *PolygonClient) Close() {
	c.client.Close()
}
