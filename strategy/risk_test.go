package strategy

import (
	"testing"
	"time"

	"polymarket-copytrader/config"
)

func TestRiskCanTrade(t *testing.T) {
	cfg := config.Default().Strategy // maxPositionSize 1000, dailyTradeLimit 50
	r := NewRiskManager(cfg)

	if ok, reason := r.CanTrade(0); !ok {
		t.Fatalf("fresh manager blocks trading: %s", reason)
	}
	if ok, _ := r.CanTrade(1000); ok {
		t.Error("trade allowed at max exposure")
	}
	if ok, _ := r.CanTrade(1500); ok {
		t.Error("trade allowed above max exposure")
	}

	for i := 0; i < cfg.DailyTradeLimit; i++ {
		r.RecordTrade(10, 0)
	}
	if ok, _ := r.CanTrade(0); ok {
		t.Error("trade allowed past daily limit")
	}
}

func TestRiskDailyReset(t *testing.T) {
	r := NewRiskManager(config.Default().Strategy)

	now := time.Date(2025, 6, 1, 23, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	r.dayKey = "2025-06-01"

	r.RecordTrade(100, 5)
	r.RecordTrade(50, -2)

	m := r.Metrics(0, 0)
	if m.DailyTrades != 2 || !floatEquals(m.DailyVolumeUsd, 150, 1e-9) || !floatEquals(m.DailyPnl, 3, 1e-9) {
		t.Fatalf("metrics = %+v", m)
	}

	// repeated reads within the same day are stable
	if again := r.Metrics(0, 0); again.DailyTrades != 2 {
		t.Errorf("second read changed counters: %+v", again)
	}

	// UTC midnight passes
	now = now.Add(2 * time.Hour)
	m = r.Metrics(0, 0)
	if m.DayKey != "2025-06-02" {
		t.Errorf("dayKey = %s, want 2025-06-02", m.DayKey)
	}
	if m.DailyTrades != 0 || m.DailyVolumeUsd != 0 || m.DailyPnl != 0 {
		t.Errorf("counters not reset: %+v", m)
	}

	// reset happens exactly once
	r.RecordTrade(20, 1)
	m = r.Metrics(0, 0)
	if m.DailyTrades != 1 {
		t.Errorf("dailyTrades = %d, want 1", m.DailyTrades)
	}
}

func TestRiskMetricsCarriesExposure(t *testing.T) {
	r := NewRiskManager(config.Default().Strategy)
	m := r.Metrics(234.5, 3)
	if !floatEquals(m.TotalExposureUsd, 234.5, 1e-9) || m.PositionCount != 3 {
		t.Errorf("metrics = %+v", m)
	}
}
