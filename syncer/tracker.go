package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"polymarket-copytrader/api"
	"polymarket-copytrader/models"
	"polymarket-copytrader/utils"
)

// SignalCallback receives every signal the tracker emits.
type SignalCallback func(signal models.TradeSignal)

// PriceResolver supplies a live market price for a token. Resolution is
// best effort; any error leaves the signal without a price.
type PriceResolver interface {
	Midpoint(ctx context.Context, tokenID string) (float64, error)
}

// TrackerConfig tunes the scan loop.
type TrackerConfig struct {
	PollInterval     time.Duration
	MaxCatchupBlocks uint64 // backlog above this triggers skip-forward
	SkipMargin       uint64 // blocks left behind head after a skip
	MaxBatchBlocks   uint64 // widest range per log query
	MaxSeenCache     int
	MinTradeSize     float64 // shares, cheap pre-filter before metadata lookup
	DefaultPrice     float64
}

// DefaultTrackerConfig returns conservative scan settings for Polygon's
// ~2s block time.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		PollInterval:     15 * time.Second,
		MaxCatchupBlocks: 50,
		SkipMargin:       5,
		MaxBatchBlocks:   5,
		MaxSeenCache:     10000,
		MinTradeSize:     50,
		DefaultPrice:     0.50,
	}
}

// TrackerMetrics is a snapshot of scan loop counters.
type TrackerMetrics struct {
	TicksRun       int64     `json:"ticks_run"`
	BlocksScanned  int64     `json:"blocks_scanned"`
	BlocksSkipped  int64     `json:"blocks_skipped"`
	EventsDecoded  int64     `json:"events_decoded"`
	DecodeErrors   int64     `json:"decode_errors"`
	QueryErrors    int64     `json:"query_errors"`
	SignalsEmitted int64     `json:"signals_emitted"`
	LastBlock      uint64    `json:"last_block"`
	LastTickAt     time.Time `json:"last_tick_at"`
}

// OnChainTracker polls the ledger for TransferSingle logs touching followed
// traders and emits trade signals. It keeps a single watermark of the last
// scanned block; the watermark never moves backwards, and it advances even
// when a query fails so one bad range cannot stall the pipeline.
type OnChainTracker struct {
	client api.LedgerClient
	gamma  *api.GammaClient
	prices PriceResolver
	config TrackerConfig

	traders   map[string]*models.TraderRecord
	tradersMu sync.RWMutex

	// last block scanned; 0 means cold start
	lastBlock uint64
	blockMu   sync.Mutex

	// processed log keys in insertion order, bounded
	seen      map[string]bool
	seenOrder []string
	seenMu    sync.Mutex

	callbacks   []SignalCallback
	callbacksMu sync.RWMutex

	metrics   TrackerMetrics
	metricsMu sync.RWMutex

	// nudged by the newHeads feed to scan without waiting out the poll
	headCh chan struct{}

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewOnChainTracker creates a tracker. gamma may be nil to skip market
// metadata resolution.
func NewOnChainTracker(client api.LedgerClient, gamma *api.GammaClient, config TrackerConfig) *OnChainTracker {
	if config.PollInterval <= 0 {
		config.PollInterval = 15 * time.Second
	}
	if config.MaxSeenCache <= 0 {
		config.MaxSeenCache = 10000
	}
	if config.MaxBatchBlocks == 0 {
		config.MaxBatchBlocks = 5
	}
	return &OnChainTracker{
		client:  client,
		gamma:   gamma,
		config:  config,
		traders: make(map[string]*models.TraderRecord),
		seen:    make(map[string]bool),
		headCh:  make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}
}

// AddTrader starts following an address. Stats may be zero for a fresh
// trader; the filter treats unknown history permissively.
func (t *OnChainTracker) AddTrader(trader models.TraderRecord) {
	addr := utils.NormalizeAddress(trader.Address)
	trader.Address = addr
	trader.IsActive = true

	t.tradersMu.Lock()
	t.traders[addr] = &trader
	count := len(t.traders)
	t.tradersMu.Unlock()

	log.Printf("[Tracker] Following %s (%s), %d traders total", trader.Alias, utils.ShortAddress(addr), count)
}

// RemoveTrader stops following an address.
func (t *OnChainTracker) RemoveTrader(address string) bool {
	addr := utils.NormalizeAddress(address)

	t.tradersMu.Lock()
	_, ok := t.traders[addr]
	delete(t.traders, addr)
	t.tradersMu.Unlock()

	if ok {
		log.Printf("[Tracker] Unfollowed %s", utils.ShortAddress(addr))
	}
	return ok
}

// LookupTrader returns the record for an address, or nil when unknown.
func (t *OnChainTracker) LookupTrader(address string) *models.TraderRecord {
	t.tradersMu.RLock()
	defer t.tradersMu.RUnlock()

	rec, ok := t.traders[utils.NormalizeAddress(address)]
	if !ok {
		return nil
	}
	cp := *rec
	return &cp
}

// Traders returns a snapshot of all followed traders.
func (t *OnChainTracker) Traders() []models.TraderRecord {
	t.tradersMu.RLock()
	defer t.tradersMu.RUnlock()

	out := make([]models.TraderRecord, 0, len(t.traders))
	for _, rec := range t.traders {
		out = append(out, *rec)
	}
	return out
}

// SetPriceResolver installs a market price source for emitted signals.
// Must be called before Start; nil leaves signals unpriced.
func (t *OnChainTracker) SetPriceResolver(resolver PriceResolver) {
	t.prices = resolver
}

// RegisterSignalCallback adds a consumer for emitted signals. Must be
// called before Start.
func (t *OnChainTracker) RegisterSignalCallback(cb SignalCallback) {
	t.callbacksMu.Lock()
	defer t.callbacksMu.Unlock()
	t.callbacks = append(t.callbacks, cb)
}

// NotifyHead nudges the scan loop. Safe to call from the websocket
// goroutine; extra nudges are dropped.
func (t *OnChainTracker) NotifyHead(blockNumber uint64) {
	select {
	case t.headCh <- struct{}{}:
	default:
	}
}

// Metrics returns a snapshot of scan counters.
func (t *OnChainTracker) Metrics() TrackerMetrics {
	t.metricsMu.RLock()
	defer t.metricsMu.RUnlock()
	return t.metrics
}

// Start launches the scan loop.
func (t *OnChainTracker) Start(ctx context.Context) error {
	if t.running {
		return errors.New("tracker already running")
	}
	t.running = true

	t.wg.Add(1)
	go t.run(ctx)

	log.Printf("[Tracker] Started, poll interval %s", t.config.PollInterval)
	return nil
}

// Stop shuts down the scan loop and waits for it to finish.
func (t *OnChainTracker) Stop() {
	if !t.running {
		return
	}
	t.running = false
	close(t.stopCh)
	t.wg.Wait()
	log.Printf("[Tracker] Stopped")
}

func (t *OnChainTracker) run(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopCh:
			return
		case <-ticker.C:
		case <-t.headCh:
		}

		if err := t.Tick(ctx); err != nil {
			log.Printf("[Tracker] Tick error: %v", err)
		}
	}
}

// Tick performs one bounded scan step. It is safe to call directly; the
// run loop is just Tick on a timer.
func (t *OnChainTracker) Tick(ctx context.Context) error {
	t.blockMu.Lock()
	defer t.blockMu.Unlock()

	t.metricsMu.Lock()
	t.metrics.TicksRun++
	t.metrics.LastTickAt = time.Now().UTC()
	t.metricsMu.Unlock()

	current, err := t.client.BlockNumber(ctx)
	if err != nil {
		t.countQueryError()
		return fmt.Errorf("tracker: head query: %w", err)
	}

	// Cold start: begin just behind the head rather than replaying history.
	if t.lastBlock == 0 {
		if current > 2 {
			t.lastBlock = current - 2
		}
		t.setLastBlockMetric(t.lastBlock)
		log.Printf("[Tracker] Cold start at block %d, watermark=%d", current, t.lastBlock)
		return nil
	}

	if current <= t.lastBlock {
		return nil
	}

	// Too far behind: jump close to the head and accept the gap. Stale
	// signals are worse than missed ones.
	backlog := current - t.lastBlock
	if backlog > t.config.MaxCatchupBlocks {
		skipTo := current - t.config.SkipMargin
		if skipTo <= t.lastBlock {
			// the margin covers the whole backlog; the watermark never
			// moves backward
			return nil
		}
		skipped := skipTo - t.lastBlock
		log.Printf("[Tracker] Backlog of %d blocks, skipping forward to %d", backlog, skipTo)
		t.lastBlock = skipTo

		t.metricsMu.Lock()
		t.metrics.BlocksSkipped += int64(skipped)
		t.metricsMu.Unlock()
		t.setLastBlockMetric(t.lastBlock)
		return nil
	}

	from := t.lastBlock + 1
	to := current
	if to-from+1 > t.config.MaxBatchBlocks {
		to = from + t.config.MaxBatchBlocks - 1
	}

	logs, err := t.client.FilterTransferLogs(ctx, from, to)
	if err != nil {
		// Fail forward: burn the range rather than retry it forever.
		t.lastBlock = to
		t.countQueryError()
		t.setLastBlockMetric(to)
		return fmt.Errorf("tracker: logs [%d, %d] skipped: %w", from, to, err)
	}

	t.lastBlock = to
	t.setLastBlockMetric(to)

	t.metricsMu.Lock()
	t.metrics.BlocksScanned += int64(to - from + 1)
	t.metricsMu.Unlock()

	if len(logs) == 0 {
		return nil
	}

	// Block timestamps are shared by every log in the block; fetch once.
	blockTimes := make(map[uint64]time.Time)

	for _, lg := range logs {
		key := fmt.Sprintf("%s:%d", lg.TxHash.Hex(), lg.Index)
		if t.alreadySeen(key) {
			continue
		}

		ev, err := DecodeTransferSingle(lg)
		if err != nil {
			t.metricsMu.Lock()
			t.metrics.DecodeErrors++
			t.metricsMu.Unlock()
			log.Printf("[Tracker] %v", err)
			continue
		}

		t.metricsMu.Lock()
		t.metrics.EventsDecoded++
		t.metricsMu.Unlock()

		trader := t.matchTrader(ev)
		if trader == nil {
			continue
		}

		// cheap size filter before any metadata or price lookup
		if ev.Amount < t.config.MinTradeSize {
			continue
		}

		if ts, ok := blockTimes[ev.BlockNumber]; ok {
			ev.Timestamp = ts
		} else if bt, err := t.client.BlockTime(ctx, ev.BlockNumber); err == nil {
			blockTimes[ev.BlockNumber] = bt
			ev.Timestamp = bt
		}

		t.emitSignal(ctx, ev, trader)
	}

	return nil
}

func (t *OnChainTracker) matchTrader(ev models.TransferEvent) *models.TraderRecord {
	t.tradersMu.RLock()
	defer t.tradersMu.RUnlock()

	if rec, ok := t.traders[ev.FromAddr]; ok {
		cp := *rec
		return &cp
	}
	if rec, ok := t.traders[ev.ToAddr]; ok {
		cp := *rec
		return &cp
	}
	return nil
}

func (t *OnChainTracker) emitSignal(ctx context.Context, ev models.TransferEvent, trader *models.TraderRecord) {
	side := TradeSide(ev, trader.Address)

	var info api.TokenInfo
	if t.gamma != nil {
		info = t.gamma.ResolveToken(ctx, ev.TokenID)
	}

	price := 0.0
	if t.prices != nil {
		if mid, err := t.prices.Midpoint(ctx, ev.TokenID); err == nil {
			price = mid
		}
	}

	sig := BuildSignal(ev, trader, side, info, price, t.config.DefaultPrice)

	t.metricsMu.Lock()
	t.metrics.SignalsEmitted++
	t.metricsMu.Unlock()

	log.Printf("[Tracker] Signal: %s %s %.2f shares of %s (conf %.2f) tx=%s",
		trader.Alias, side, sig.Size, utils.ShortHash(sig.TokenID), sig.Confidence, utils.ShortHash(sig.TxHash))

	t.touchTrader(trader.Address, sig.Timestamp)

	t.callbacksMu.RLock()
	cbs := t.callbacks
	t.callbacksMu.RUnlock()
	for _, cb := range cbs {
		cb(sig)
	}
}

// touchTrader records observed activity on a followed trader.
func (t *OnChainTracker) touchTrader(address string, ts time.Time) {
	t.tradersMu.Lock()
	defer t.tradersMu.Unlock()

	rec, ok := t.traders[address]
	if !ok {
		return
	}
	rec.TotalTrades++
	last := ts
	rec.LastTradeTime = &last
}

// alreadySeen records the key and reports whether it was present. The
// cache is bounded; when full the older half is dropped.
func (t *OnChainTracker) alreadySeen(key string) bool {
	t.seenMu.Lock()
	defer t.seenMu.Unlock()

	if t.seen[key] {
		return true
	}
	t.seen[key] = true
	t.seenOrder = append(t.seenOrder, key)

	if len(t.seenOrder) > t.config.MaxSeenCache {
		keep := len(t.seenOrder) / 2
		for _, old := range t.seenOrder[:len(t.seenOrder)-keep] {
			delete(t.seen, old)
		}
		t.seenOrder = append([]string(nil), t.seenOrder[len(t.seenOrder)-keep:]...)
		log.Printf("[Tracker] Trimmed seen cache to %d entries", keep)
	}
	return false
}

func (t *OnChainTracker) countQueryError() {
	t.metricsMu.Lock()
	t.metrics.QueryErrors++
	t.metricsMu.Unlock()
}

func (t *OnChainTracker) setLastBlockMetric(block uint64) {
	t.metricsMu.Lock()
	t.metrics.LastBlock = block
	t.metricsMu.Unlock()
}
