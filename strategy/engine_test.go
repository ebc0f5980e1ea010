package strategy

import (
	"context"
	"testing"
	"time"

	"polymarket-copytrader/config"
	"polymarket-copytrader/models"
)

type fakeDirectory map[string]*models.TraderRecord

func (d fakeDirectory) LookupTrader(address string) *models.TraderRecord {
	return d[address]
}

type fakeExposure struct {
	usd float64
	n   int
}

func (f *fakeExposure) Exposure() (float64, int) { return f.usd, f.n }

type fakeSink struct {
	result   models.ExecutionResult
	executed []models.SignalDecision
}

func (s *fakeSink) Execute(ctx context.Context, d models.SignalDecision) models.ExecutionResult {
	s.executed = append(s.executed, d)
	return s.result
}

func engineSignal() models.TradeSignal {
	return models.TradeSignal{
		TraderAddress: traderX,
		TokenID:       marketY,
		Side:          models.SideBuy,
		Size:          1000,
		AmountUsd:     500,
		Confidence:    0.7,
		Timestamp:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func newTestEngine(cfg config.StrategyConfig, dir fakeDirectory, exp *fakeExposure, sink *fakeSink) *DecisionEngine {
	e := NewDecisionEngine(cfg, dir, exp, sink)
	e.copyDelay = 0
	return e
}

func TestEngineCopyDecision(t *testing.T) {
	e := newTestEngine(config.Default().Strategy, fakeDirectory{}, &fakeExposure{}, &fakeSink{})

	d := e.Decide(engineSignal())
	if d.Action != models.ActionCopy {
		t.Fatalf("action = %s (%s), want COPY", d.Action, d.Reason)
	}
	if !floatEquals(d.CopyAmountUsd, 35, 1e-9) {
		t.Errorf("copyAmountUsd = %v, want 35", d.CopyAmountUsd)
	}
	if !floatEquals(d.CopySize, 70, 1e-9) {
		t.Errorf("copySize = %v, want 70", d.CopySize)
	}
}

func TestEngineReduceDecision(t *testing.T) {
	e := newTestEngine(config.Default().Strategy, fakeDirectory{}, &fakeExposure{usd: 950}, &fakeSink{})

	sig := engineSignal()
	sig.AmountUsd = 2000 // pending 2000*0.1*0.5 = 100, only 50 of capacity left
	sig.Confidence = 0.5

	d := e.Decide(sig)
	if d.Action != models.ActionReduce {
		t.Fatalf("action = %s (%s), want REDUCE", d.Action, d.Reason)
	}
	if !floatEquals(d.CopyAmountUsd, 50, 1e-9) {
		t.Errorf("copyAmountUsd = %v, want 50", d.CopyAmountUsd)
	}
	if !floatEquals(d.CopySize, 100, 1e-9) {
		t.Errorf("copySize = %v, want 100", d.CopySize)
	}
}

func TestEngineSkipReasons(t *testing.T) {
	weak := &models.TraderRecord{Address: traderX, TotalTrades: 3, WinRate: 0.9}

	tests := []struct {
		name     string
		dir      fakeDirectory
		exposure float64
		mutate   func(*models.TradeSignal)
		reason   string
	}{
		{
			name:   "unqualified trader",
			dir:    fakeDirectory{traderX: weak},
			reason: "Trader doesn't meet criteria",
		},
		{
			name:     "exposure limit",
			dir:      fakeDirectory{},
			exposure: 1000,
		},
		{
			name:   "tiny source trade",
			dir:    fakeDirectory{},
			mutate: func(s *models.TradeSignal) { s.AmountUsd = 10 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(config.Default().Strategy, tt.dir, &fakeExposure{usd: tt.exposure}, &fakeSink{})
			sig := engineSignal()
			if tt.mutate != nil {
				tt.mutate(&sig)
			}

			d := e.Decide(sig)
			if d.Action != models.ActionSkip {
				t.Fatalf("action = %s, want SKIP", d.Action)
			}
			if d.Reason == "" {
				t.Error("skip decision carries no reason")
			}
			if tt.reason != "" && d.Reason != tt.reason {
				t.Errorf("reason = %q, want %q", d.Reason, tt.reason)
			}
		})
	}
}

func TestEngineRecordsTradeOnlyOnSuccess(t *testing.T) {
	sink := &fakeSink{result: models.ExecutionResult{Success: true, ExecutedPrice: 0.5, ExecutedSize: 70}}
	e := newTestEngine(config.Default().Strategy, fakeDirectory{}, &fakeExposure{}, sink)

	var decisions []models.SignalDecision
	e.RegisterDecisionCallback(func(d models.SignalDecision) {
		decisions = append(decisions, d)
	})

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer e.Stop()

	e.HandleSignal(engineSignal())
	e.Drain()

	if len(sink.executed) != 1 {
		t.Fatalf("sink executions = %d, want 1", len(sink.executed))
	}
	if m := e.Risk().Metrics(0, 0); m.DailyTrades != 1 {
		t.Errorf("dailyTrades = %d, want 1", m.DailyTrades)
	}
	if len(decisions) != 1 || decisions[0].Action != models.ActionCopy {
		t.Errorf("decisions = %+v", decisions)
	}
}

func TestEngineSinkFailureBecomesSkip(t *testing.T) {
	sink := &fakeSink{result: models.ExecutionResult{Success: false, Reason: "insufficient balance"}}
	e := newTestEngine(config.Default().Strategy, fakeDirectory{}, &fakeExposure{}, sink)

	var decisions []models.SignalDecision
	e.RegisterDecisionCallback(func(d models.SignalDecision) {
		decisions = append(decisions, d)
	})

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer e.Stop()

	e.HandleSignal(engineSignal())
	e.Drain()

	if m := e.Risk().Metrics(0, 0); m.DailyTrades != 0 {
		t.Errorf("dailyTrades = %d, want 0 after failed execution", m.DailyTrades)
	}
	if len(decisions) != 1 {
		t.Fatalf("decisions = %d, want 1", len(decisions))
	}
	if decisions[0].Action != models.ActionSkip || decisions[0].Reason != "insufficient balance" {
		t.Errorf("decision = %+v", decisions[0])
	}
}

func TestEngineDispatchesInArrivalOrder(t *testing.T) {
	sink := &fakeSink{result: models.ExecutionResult{Success: true, ExecutedPrice: 0.5, ExecutedSize: 70}}
	e := newTestEngine(config.Default().Strategy, fakeDirectory{}, &fakeExposure{}, sink)
	e.copyDelay = 2 * time.Millisecond

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer e.Stop()

	tokens := []string{"0xaaa1", "0xaaa2", "0xaaa3", "0xaaa4"}
	for _, token := range tokens {
		for _, side := range []models.Side{models.SideBuy, models.SideSell} {
			sig := engineSignal()
			sig.TokenID = token
			sig.Side = side
			e.HandleSignal(sig)
		}
	}
	e.Drain()

	if len(sink.executed) != 2*len(tokens) {
		t.Fatalf("sink executions = %d, want %d", len(sink.executed), 2*len(tokens))
	}
	for i, token := range tokens {
		buy := sink.executed[2*i].Signal
		sell := sink.executed[2*i+1].Signal
		if buy.TokenID != token || buy.Side != models.SideBuy {
			t.Errorf("execution %d = %s %s, want BUY %s", 2*i, buy.Side, buy.TokenID, token)
		}
		if sell.TokenID != token || sell.Side != models.SideSell {
			t.Errorf("execution %d = %s %s, want SELL %s", 2*i+1, sell.Side, sell.TokenID, token)
		}
	}
}

func TestEngineAccountsExecutedFill(t *testing.T) {
	// the wallet clamped the 70-share decision down to 40 shares
	sink := &fakeSink{result: models.ExecutionResult{Success: true, ExecutedPrice: 0.5, ExecutedSize: 40}}
	e := newTestEngine(config.Default().Strategy, fakeDirectory{}, &fakeExposure{}, sink)

	var decisions []models.SignalDecision
	e.RegisterDecisionCallback(func(d models.SignalDecision) {
		decisions = append(decisions, d)
	})

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer e.Stop()

	e.HandleSignal(engineSignal())
	e.Drain()

	if m := e.Risk().Metrics(0, 0); !floatEquals(m.DailyVolumeUsd, 20, 1e-9) {
		t.Errorf("dailyVolumeUsd = %v, want 20", m.DailyVolumeUsd)
	}
	if len(decisions) != 1 {
		t.Fatalf("decisions = %d, want 1", len(decisions))
	}
	if !floatEquals(decisions[0].CopySize, 40, 1e-9) {
		t.Errorf("copySize = %v, want executed 40", decisions[0].CopySize)
	}
	if !floatEquals(decisions[0].CopyAmountUsd, 20, 1e-9) {
		t.Errorf("copyAmountUsd = %v, want executed 20", decisions[0].CopyAmountUsd)
	}
}

func TestEngineDuplicateSignalSkipped(t *testing.T) {
	sink := &fakeSink{result: models.ExecutionResult{Success: true}}
	e := newTestEngine(config.Default().Strategy, fakeDirectory{}, &fakeExposure{}, sink)

	first := e.Decide(engineSignal())
	if first.Action != models.ActionCopy {
		t.Fatalf("first = %s", first.Action)
	}

	dup := engineSignal()
	dup.Timestamp = dup.Timestamp.Add(2 * time.Minute)
	second := e.Decide(dup)
	if second.Action != models.ActionSkip {
		t.Errorf("duplicate action = %s, want SKIP", second.Action)
	}
}
