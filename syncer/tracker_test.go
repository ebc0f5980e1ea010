package syncer

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/core/types"

	"polymarket-copytrader/models"
)

type fakeLedger struct {
	head    uint64
	headErr error

	logs    []types.Log
	logsErr error
	queries [][2]uint64
}

func (f *fakeLedger) BlockNumber(ctx context.Context) (uint64, error) {
	return f.head, f.headErr
}

func (f *fakeLedger) BlockTime(ctx context.Context, number uint64) (time.Time, error) {
	return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), nil
}

func (f *fakeLedger) FilterTransferLogs(ctx context.Context, from, to uint64) ([]types.Log, error) {
	f.queries = append(f.queries, [2]uint64{from, to})
	if f.logsErr != nil {
		return nil, f.logsErr
	}
	return f.logs, nil
}

func newTestTracker(ledger *fakeLedger) *OnChainTracker {
	cfg := DefaultTrackerConfig()
	tr := NewOnChainTracker(ledger, nil, cfg)
	tr.AddTrader(models.TraderRecord{Address: traderAddr, Alias: "whale"})
	return tr
}

func TestTrackerColdStart(t *testing.T) {
	ledger := &fakeLedger{head: 1000}
	tr := newTestTracker(ledger)

	if err := tr.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if tr.lastBlock != 998 {
		t.Errorf("lastBlock = %d, want 998", tr.lastBlock)
	}
	if len(ledger.queries) != 0 {
		t.Errorf("cold start queried logs: %v", ledger.queries)
	}
}

func TestTrackerSkipForward(t *testing.T) {
	ledger := &fakeLedger{head: 500}
	tr := newTestTracker(ledger)
	tr.lastBlock = 100

	if err := tr.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if tr.lastBlock != 495 {
		t.Errorf("lastBlock = %d, want 495", tr.lastBlock)
	}
	if len(ledger.queries) != 0 {
		t.Errorf("skip-forward queried logs: %v", ledger.queries)
	}
	if got := tr.Metrics().BlocksSkipped; got != 395 {
		t.Errorf("blocksSkipped = %d, want 395", got)
	}
}

func TestTrackerSkipMarginHoldsWatermark(t *testing.T) {
	ledger := &fakeLedger{head: 160}
	tr := newTestTracker(ledger)
	tr.config.SkipMargin = 100
	tr.lastBlock = 100

	if err := tr.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if tr.lastBlock != 100 {
		t.Errorf("lastBlock = %d, want unchanged 100", tr.lastBlock)
	}
	if got := tr.Metrics().BlocksSkipped; got != 0 {
		t.Errorf("blocksSkipped = %d, want 0", got)
	}
}

func TestTrackerBatchCap(t *testing.T) {
	ledger := &fakeLedger{head: 520}
	tr := newTestTracker(ledger)
	tr.lastBlock = 495

	if err := tr.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if len(ledger.queries) != 1 {
		t.Fatalf("queries = %v, want one", ledger.queries)
	}
	if q := ledger.queries[0]; q != [2]uint64{496, 500} {
		t.Errorf("query range = %v, want [496 500]", q)
	}
	if tr.lastBlock != 500 {
		t.Errorf("lastBlock = %d, want 500", tr.lastBlock)
	}
}

func TestTrackerFailForward(t *testing.T) {
	ledger := &fakeLedger{head: 500, logsErr: errors.New("rate limited")}
	tr := newTestTracker(ledger)
	tr.lastBlock = 497

	if err := tr.Tick(context.Background()); err == nil {
		t.Fatal("expected error from failed query")
	}

	// the failing range is burned, not retried
	if tr.lastBlock != 500 {
		t.Errorf("lastBlock = %d, want 500", tr.lastBlock)
	}

	before := tr.lastBlock
	ledger.logsErr = nil
	if err := tr.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if tr.lastBlock < before {
		t.Errorf("watermark decreased: %d -> %d", before, tr.lastBlock)
	}
	if got := tr.Metrics().QueryErrors; got != 1 {
		t.Errorf("queryErrors = %d, want 1", got)
	}
}

func TestTrackerEmitsAndDeduplicates(t *testing.T) {
	tokenID := big.NewInt(7777)
	lg := transferLog(otherAddr, traderAddr, tokenID, big.NewInt(250_000_000))

	ledger := &fakeLedger{head: 500, logs: []types.Log{lg}}
	tr := newTestTracker(ledger)
	tr.lastBlock = 498

	var signals []models.TradeSignal
	tr.RegisterSignalCallback(func(sig models.TradeSignal) {
		signals = append(signals, sig)
	})

	if err := tr.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(signals) != 1 {
		t.Fatalf("signals = %d, want 1", len(signals))
	}

	sig := signals[0]
	if sig.Side != models.SideBuy {
		t.Errorf("side = %s, want BUY", sig.Side)
	}
	if !floatEquals(sig.Size, 250, 1e-9) {
		t.Errorf("size = %v, want 250", sig.Size)
	}
	if sig.TraderAddress != traderAddr {
		t.Errorf("trader = %s, want %s", sig.TraderAddress, traderAddr)
	}

	rec := tr.LookupTrader(traderAddr)
	if rec == nil || rec.TotalTrades != 1 || rec.LastTradeTime == nil {
		t.Errorf("trader activity not recorded: %+v", rec)
	}

	// same log seen again in a later range must not emit twice
	ledger.head = 505
	tr.lastBlock = 500
	if err := tr.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(signals) != 1 {
		t.Errorf("signals after replay = %d, want 1", len(signals))
	}
}

func TestTrackerSkipsTinyTransfers(t *testing.T) {
	// 10 shares, below the 50-share floor
	lg := transferLog(otherAddr, traderAddr, big.NewInt(7777), big.NewInt(10_000_000))
	ledger := &fakeLedger{head: 500, logs: []types.Log{lg}}
	tr := newTestTracker(ledger)
	tr.lastBlock = 498

	var signals []models.TradeSignal
	tr.RegisterSignalCallback(func(sig models.TradeSignal) {
		signals = append(signals, sig)
	})

	if err := tr.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(signals) != 0 {
		t.Errorf("signals = %d, want 0", len(signals))
	}
}

type fakePrices struct {
	mid float64
	err error
}

func (f *fakePrices) Midpoint(ctx context.Context, tokenID string) (float64, error) {
	return f.mid, f.err
}

func TestTrackerResolvesPrice(t *testing.T) {
	lg := transferLog(otherAddr, traderAddr, big.NewInt(7777), big.NewInt(100_000_000))
	ledger := &fakeLedger{head: 500, logs: []types.Log{lg}}
	tr := newTestTracker(ledger)
	tr.lastBlock = 498
	tr.SetPriceResolver(&fakePrices{mid: 0.40})

	var signals []models.TradeSignal
	tr.RegisterSignalCallback(func(sig models.TradeSignal) {
		signals = append(signals, sig)
	})

	if err := tr.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(signals) != 1 {
		t.Fatalf("signals = %d, want 1", len(signals))
	}
	if signals[0].Price != 0.40 {
		t.Errorf("price = %v, want 0.40", signals[0].Price)
	}
	if !floatEquals(signals[0].AmountUsd, 40, 1e-9) {
		t.Errorf("amountUsd = %v, want 40", signals[0].AmountUsd)
	}
}

func TestTrackerPriceResolverFailureLeavesUnpriced(t *testing.T) {
	lg := transferLog(otherAddr, traderAddr, big.NewInt(7777), big.NewInt(100_000_000))
	ledger := &fakeLedger{head: 500, logs: []types.Log{lg}}
	tr := newTestTracker(ledger)
	tr.lastBlock = 498
	tr.SetPriceResolver(&fakePrices{err: errors.New("timeout")})

	var signals []models.TradeSignal
	tr.RegisterSignalCallback(func(sig models.TradeSignal) {
		signals = append(signals, sig)
	})

	if err := tr.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(signals) != 1 {
		t.Fatalf("signals = %d, want 1", len(signals))
	}
	if signals[0].HasPrice() {
		t.Errorf("price = %v, want unpriced", signals[0].Price)
	}
	// notional still estimated at the default midpoint
	if !floatEquals(signals[0].AmountUsd, 50, 1e-9) {
		t.Errorf("amountUsd = %v, want 50", signals[0].AmountUsd)
	}
}

func TestTrackerIgnoresUntrackedAddresses(t *testing.T) {
	lg := transferLog(otherAddr, "0x3333333333333333333333333333333333333333", big.NewInt(1), big.NewInt(5_000_000))

	ledger := &fakeLedger{head: 500, logs: []types.Log{lg}}
	tr := newTestTracker(ledger)
	tr.lastBlock = 498

	emitted := 0
	tr.RegisterSignalCallback(func(models.TradeSignal) { emitted++ })

	if err := tr.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if emitted != 0 {
		t.Errorf("emitted = %d, want 0", emitted)
	}
	if got := tr.Metrics().EventsDecoded; got != 1 {
		t.Errorf("eventsDecoded = %d, want 1", got)
	}
}

func TestTrackerSeenCacheBounded(t *testing.T) {
	ledger := &fakeLedger{head: 1}
	tr := NewOnChainTracker(ledger, nil, TrackerConfig{MaxSeenCache: 10, PollInterval: time.Second})

	for i := 0; i < 25; i++ {
		key := string(rune('a' + i))
		if tr.alreadySeen(key) {
			t.Errorf("fresh key %q reported seen", key)
		}
	}
	if len(tr.seen) > 10 {
		t.Errorf("seen cache size = %d, want <= 10", len(tr.seen))
	}
	// the most recent key survives trimming
	if !tr.alreadySeen(string(rune('a' + 24))) {
		t.Error("most recent key evicted")
	}
}

func TestTrackerAddRemoveTrader(t *testing.T) {
	tr := newTestTracker(&fakeLedger{head: 100})

	if rec := tr.LookupTrader(traderAddr); rec == nil || rec.Alias != "whale" {
		t.Fatalf("lookup = %+v", rec)
	}
	if rec := tr.LookupTrader("0xUNKNOWN"); rec != nil {
		t.Errorf("unknown lookup = %+v, want nil", rec)
	}

	if !tr.RemoveTrader(traderAddr) {
		t.Error("remove returned false")
	}
	if tr.RemoveTrader(traderAddr) {
		t.Error("second remove returned true")
	}
	if rec := tr.LookupTrader(traderAddr); rec != nil {
		t.Errorf("lookup after remove = %+v, want nil", rec)
	}
}
