package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ClobClient reads market data from the CLOB API. It is used to resolve a
// live price for detected trades; on-chain transfers alone carry none.
type ClobClient struct {
	baseURL    string
	httpClient *http.Client
}

// OrderBook is the resting book for a token.
type OrderBook struct {
	Market    string           `json:"market"`
	AssetID   string           `json:"asset_id"`
	Timestamp string           `json:"timestamp"`
	Bids      []OrderBookLevel `json:"bids"`
	Asks      []OrderBookLevel `json:"asks"`
}

// OrderBookLevel is a single price level.
type OrderBookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// ErrNoLiquidity means the book had no usable levels.
var ErrNoLiquidity = errors.New("clob: no liquidity")

// NewClobClient creates a market-data client. The timeout is deliberately
// short; price resolution is best effort and must not stall signal emission.
func NewClobClient(baseURL string, timeout time.Duration) *ClobClient {
	if baseURL == "" {
		baseURL = "https://clob.polymarket.com"
	}
	if timeout <= 0 {
		timeout = 800 * time.Millisecond
	}
	return &ClobClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// GetOrderBook fetches the order book for a token.
func (c *ClobClient) GetOrderBook(ctx context.Context, tokenID string) (*OrderBook, error) {
	values := url.Values{}
	values.Set("token_id", tokenID)

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/book?"+values.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("get order book failed: %d %s", resp.StatusCode, string(body))
	}

	var book OrderBook
	if err := json.NewDecoder(resp.Body).Decode(&book); err != nil {
		return nil, fmt.Errorf("failed to decode order book: %w", err)
	}

	return &book, nil
}

// Midpoint returns the mid of the best bid and ask. With a one-sided book
// it returns that side's best level. Prices at or beyond the probability
// bounds are reported as no liquidity.
func (c *ClobClient) Midpoint(ctx context.Context, tokenID string) (float64, error) {
	book, err := c.GetOrderBook(ctx, tokenID)
	if err != nil {
		return 0, err
	}

	bid := bestLevel(book.Bids)
	ask := bestLevel(book.Asks)

	var mid float64
	switch {
	case bid > 0 && ask > 0:
		mid = (bid + ask) / 2
	case bid > 0:
		mid = bid
	case ask > 0:
		mid = ask
	default:
		return 0, ErrNoLiquidity
	}

	if mid <= 0 || mid >= 1 {
		return 0, ErrNoLiquidity
	}
	return mid, nil
}

// bestLevel picks the most competitive price in a side of the book. Both
// book arrays converge toward the spread, so the last valid level wins.
func bestLevel(levels []OrderBookLevel) float64 {
	best := 0.0
	for _, level := range levels {
		price, err := strconv.ParseFloat(level.Price, 64)
		if err != nil || price <= 0 {
			continue
		}
		best = price
	}
	return best
}
