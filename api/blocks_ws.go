package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// HeadHandler is called when a new block header arrives.
type HeadHandler func(blockNumber uint64)

// BlocksWSClient subscribes to newHeads over a Polygon WebSocket RPC. It is
// a latency optimization only: the polling scanner stays correct without it,
// the feed just nudges scans forward between polls.
type BlocksWSClient struct {
	wsURL string

	conn   *websocket.Conn
	connMu sync.Mutex
	subID  string

	onHead HeadHandler

	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	headsSeen  int64
	reconnects int64
	statsMu    sync.RWMutex
}

// NewBlocksWSClient creates a newHeads monitor.
func NewBlocksWSClient(wsURL string, onHead HeadHandler) *BlocksWSClient {
	return &BlocksWSClient{
		wsURL:  wsURL,
		onHead: onHead,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start connects and subscribes to newHeads.
func (c *BlocksWSClient) Start(ctx context.Context) error {
	if c.running {
		return fmt.Errorf("BlocksWS client already running")
	}

	if err := c.connect(); err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}

	if err := c.subscribe(); err != nil {
		c.conn.Close()
		return fmt.Errorf("subscription failed: %w", err)
	}

	c.running = true
	go c.readLoop(ctx)

	log.Printf("[BlocksWS] Started - monitoring new block headers")
	return nil
}

// Stop gracefully shuts down the client.
func (c *BlocksWSClient) Stop() {
	if !c.running {
		return
	}

	c.running = false
	close(c.stopCh)

	c.connMu.Lock()
	if c.conn != nil {
		if c.subID != "" {
			unsubMsg := map[string]interface{}{
				"jsonrpc": "2.0",
				"method":  "eth_unsubscribe",
				"params":  []string{c.subID},
				"id":      2,
			}
			c.conn.WriteJSON(unsubMsg)
		}
		c.conn.Close()
	}
	c.connMu.Unlock()

	select {
	case <-c.doneCh:
	case <-time.After(5 * time.Second):
		log.Printf("[BlocksWS] Shutdown timeout")
	}

	log.Printf("[BlocksWS] Stopped")
}

// Stats returns heads seen and reconnect counts.
func (c *BlocksWSClient) Stats() (headsSeen, reconnects int64) {
	c.statsMu.RLock()
	defer c.statsMu.RUnlock()
	return c.headsSeen, c.reconnects
}

func (c *BlocksWSClient) connect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.Dial(c.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.wsURL, err)
	}

	c.conn = conn
	log.Printf("[BlocksWS] Connected to %s", c.wsURL)
	return nil
}

func (c *BlocksWSClient) subscribe() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("not connected")
	}

	subMsg := map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "eth_subscribe",
		"params":  []interface{}{"newHeads"},
		"id":      1,
	}

	if err := c.conn.WriteJSON(subMsg); err != nil {
		return fmt.Errorf("subscribe write failed: %w", err)
	}

	c.conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, msg, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("subscribe read failed: %w", err)
	}
	c.conn.SetReadDeadline(time.Time{})

	var resp struct {
		Result string `json:"result"`
		Error  *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(msg, &resp); err != nil {
		return fmt.Errorf("subscribe parse failed: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("subscribe error: %s", resp.Error.Message)
	}

	c.subID = resp.Result
	log.Printf("[BlocksWS] Subscribed to newHeads (sub_id=%s)", c.subID)
	return nil
}

func (c *BlocksWSClient) readLoop(ctx context.Context) {
	defer close(c.doneCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		default:
		}

		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			c.reconnect(ctx)
			continue
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			select {
			case <-c.stopCh:
				return
			default:
			}
			log.Printf("[BlocksWS] Read error: %v, reconnecting...", err)
			c.reconnect(ctx)
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *BlocksWSClient) reconnect(ctx context.Context) {
	c.statsMu.Lock()
	c.reconnects++
	c.statsMu.Unlock()

	log.Printf("[BlocksWS] Reconnecting in 2s...")

	select {
	case <-ctx.Done():
		return
	case <-c.stopCh:
		return
	case <-time.After(2 * time.Second):
	}

	if err := c.connect(); err != nil {
		log.Printf("[BlocksWS] Reconnection failed: %v", err)
		return
	}
	if err := c.subscribe(); err != nil {
		log.Printf("[BlocksWS] Resubscription failed: %v", err)
	}
}

func (c *BlocksWSClient) handleMessage(data []byte) {
	var notif struct {
		Method string `json:"method"`
		Params struct {
			Subscription string `json:"subscription"`
			Result       struct {
				Number string `json:"number"` // hex block number
			} `json:"result"`
		} `json:"params"`
	}

	if err := json.Unmarshal(data, &notif); err != nil {
		return
	}
	if notif.Method != "eth_subscription" || notif.Params.Subscription != c.subID {
		return
	}

	num, err := strconv.ParseUint(strings.TrimPrefix(notif.Params.Result.Number, "0x"), 16, 64)
	if err != nil || num == 0 {
		return
	}

	c.statsMu.Lock()
	c.headsSeen++
	count := c.headsSeen
	c.statsMu.Unlock()

	if count%1000 == 0 {
		log.Printf("[BlocksWS] Seen %d block headers, latest=%d", count, num)
	}

	if c.onHead != nil {
		c.onHead(num)
	}
}
