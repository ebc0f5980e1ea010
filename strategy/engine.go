package strategy

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"polymarket-copytrader/config"
	"polymarket-copytrader/models"
	"polymarket-copytrader/utils"
)

// TraderDirectory resolves trader profiles for filtering.
type TraderDirectory interface {
	LookupTrader(address string) *models.TraderRecord
}

// ExposureSource reports current portfolio exposure.
type ExposureSource interface {
	Exposure() (usd float64, positions int)
}

// ExecutionSink receives accepted decisions. The paper wallet is the
// default sink; a real executor satisfies the same interface.
type ExecutionSink interface {
	Execute(ctx context.Context, decision models.SignalDecision) models.ExecutionResult
}

// DecisionCallback observes every terminal decision.
type DecisionCallback func(decision models.SignalDecision)

// EngineMetrics counts decision outcomes.
type EngineMetrics struct {
	SignalsReceived int64 `json:"signals_received"`
	Copied          int64 `json:"copied"`
	Reduced         int64 `json:"reduced"`
	Skipped         int64 `json:"skipped"`
	ExecFailures    int64 `json:"exec_failures"`
}

// queuedSignal is one signal waiting for dispatch. due is when the copy
// delay elapses.
type queuedSignal struct {
	sig models.TradeSignal
	due time.Time
}

// DecisionEngine turns signals into SKIP/COPY/REDUCE decisions and
// dispatches accepted ones to the execution sink. A single FIFO worker
// applies decisions in arrival order so balance and position updates
// follow chronological trade order.
type DecisionEngine struct {
	filter   *SignalFilter
	risk     *RiskManager
	sizer    *PositionSizer
	traders  TraderDirectory
	exposure ExposureSource
	sink     ExecutionSink

	copyDelay time.Duration
	queue     chan queuedSignal

	callbacks   []DecisionCallback
	callbacksMu sync.RWMutex

	metrics   EngineMetrics
	metricsMu sync.RWMutex

	ctx      context.Context
	running  bool
	wg       sync.WaitGroup // in-flight queued signals
	workerWg sync.WaitGroup
}

// NewDecisionEngine wires the decision pipeline. traders may be nil when
// no profile source exists.
func NewDecisionEngine(cfg config.StrategyConfig, traders TraderDirectory, exposure ExposureSource, sink ExecutionSink) *DecisionEngine {
	return &DecisionEngine{
		filter:    NewSignalFilter(cfg),
		risk:      NewRiskManager(cfg),
		sizer:     NewPositionSizer(cfg),
		traders:   traders,
		exposure:  exposure,
		sink:      sink,
		copyDelay: time.Duration(cfg.CopyDelaySeconds) * time.Second,
		queue:     make(chan queuedSignal, 256),
	}
}

// Risk exposes the risk manager for status reporting.
func (e *DecisionEngine) Risk() *RiskManager { return e.risk }

// RegisterDecisionCallback adds an observer for terminal decisions.
// Must be called before Start.
func (e *DecisionEngine) RegisterDecisionCallback(cb DecisionCallback) {
	e.callbacksMu.Lock()
	defer e.callbacksMu.Unlock()
	e.callbacks = append(e.callbacks, cb)
}

// Metrics returns a snapshot of decision counters.
func (e *DecisionEngine) Metrics() EngineMetrics {
	e.metricsMu.RLock()
	defer e.metricsMu.RUnlock()
	return e.metrics
}

// Start launches the dispatch worker.
func (e *DecisionEngine) Start(ctx context.Context) error {
	if e.running {
		return errors.New("decision engine already running")
	}
	e.ctx = ctx
	e.running = true

	e.workerWg.Add(1)
	go e.dispatchLoop()

	log.Printf("[Engine] Started, copy delay %s", e.copyDelay)
	return nil
}

// Stop drains queued dispatches and shuts the worker down. Pending
// decisions complete rather than abort so the wallet never sees a
// half-applied trade.
func (e *DecisionEngine) Stop() {
	if !e.running {
		return
	}
	e.running = false
	e.wg.Wait()
	close(e.queue)
	e.workerWg.Wait()
	log.Printf("[Engine] Stopped")
}

// HandleSignal is the tracker's signal callback. Signals join a FIFO
// queue stamped with their copy-delay deadline; arrival order is the
// dispatch order.
func (e *DecisionEngine) HandleSignal(sig models.TradeSignal) {
	if !e.running {
		return
	}

	e.metricsMu.Lock()
	e.metrics.SignalsReceived++
	e.metricsMu.Unlock()

	e.wg.Add(1)
	select {
	case e.queue <- queuedSignal{sig: sig, due: time.Now().Add(e.copyDelay)}:
	case <-e.ctx.Done():
		e.wg.Done()
	}
}

// Drain blocks until every queued signal has a terminal decision.
func (e *DecisionEngine) Drain() {
	e.wg.Wait()
}

// dispatchLoop is the single consumer of the signal queue. Deadlines are
// non-decreasing in queue order, so waiting out the head's copy delay
// never delays a later signal beyond its own deadline. Shutdown skips
// any remaining delay but still applies the queued decisions.
func (e *DecisionEngine) dispatchLoop() {
	defer e.workerWg.Done()

	for item := range e.queue {
		if wait := time.Until(item.due); wait > 0 {
			select {
			case <-e.ctx.Done():
			case <-time.After(wait):
			}
		}
		e.process(item.sig)
		e.wg.Done()
	}
}

func (e *DecisionEngine) process(sig models.TradeSignal) {
	decision := e.Decide(sig)

	if decision.Action != models.ActionSkip {
		result := e.sink.Execute(e.ctx, decision)
		if result.Success {
			// the sink may have clamped the fill; account for what
			// actually executed
			decision.CopySize = result.ExecutedSize
			decision.CopyAmountUsd = result.ExecutedSize * result.ExecutedPrice
			e.risk.RecordTrade(decision.CopyAmountUsd, result.Pnl)
		} else {
			decision.Action = models.ActionSkip
			decision.Reason = result.Reason
			e.metricsMu.Lock()
			e.metrics.ExecFailures++
			e.metricsMu.Unlock()
		}
	}

	e.countOutcome(decision.Action)
	e.notify(decision)
}

// Decide runs Filter, Risk and Sizer in order and produces a terminal
// decision. It does not touch the sink; callers own dispatch.
func (e *DecisionEngine) Decide(sig models.TradeSignal) models.SignalDecision {
	skip := func(reason string) models.SignalDecision {
		return models.SignalDecision{
			Action:     models.ActionSkip,
			Signal:     sig,
			Reason:     reason,
			Confidence: sig.Confidence,
		}
	}

	var trader *models.TraderRecord
	if e.traders != nil {
		trader = e.traders.LookupTrader(sig.TraderAddress)
	}

	if ok, reason := e.filter.Evaluate(sig, trader); !ok {
		return skip(reason)
	}

	exposureUsd, _ := e.exposure.Exposure()
	if ok, reason := e.risk.CanTrade(exposureUsd); !ok {
		return skip(reason)
	}

	res := e.sizer.Size(sig, exposureUsd)
	if !res.OK {
		return skip(res.Reason)
	}

	action := models.ActionCopy
	amount := res.AmountUsd
	shares := res.Shares

	if factor := e.sizer.ScaleDownFactor(exposureUsd, res.PendingUsd); factor < 1.0 {
		amount = res.PendingUsd * factor
		shares = amount / res.Price
		if amount < e.sizer.cfg.MinTradeAmount {
			return skip("scaled size below minimum")
		}
		action = models.ActionReduce
	}

	log.Printf("[Engine] %s %s %.2f shares ($%.2f) of %s from %s",
		action, sig.Side, shares, amount, utils.ShortHash(sig.TokenID), utils.ShortAddress(sig.TraderAddress))

	return models.SignalDecision{
		Action:        action,
		Signal:        sig,
		CopySize:      shares,
		CopyAmountUsd: amount,
		Confidence:    sig.Confidence,
	}
}

func (e *DecisionEngine) countOutcome(action models.SignalAction) {
	e.metricsMu.Lock()
	defer e.metricsMu.Unlock()
	switch action {
	case models.ActionCopy:
		e.metrics.Copied++
	case models.ActionReduce:
		e.metrics.Reduced++
	default:
		e.metrics.Skipped++
	}
}

func (e *DecisionEngine) notify(decision models.SignalDecision) {
	e.callbacksMu.RLock()
	cbs := e.callbacks
	e.callbacksMu.RUnlock()
	for _, cb := range cbs {
		cb(decision)
	}
}
