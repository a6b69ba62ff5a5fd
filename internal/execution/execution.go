// Package execution implements the TradingEngine: the single-task consumer
// that turns an approved risk.Decision into a submitted order, tracks the
// resulting position, and keeps that tracked state reconciled against the
// exchange's authoritative view. Order submission retries with exponential
// backoff and a deterministic clientOrderId, so a retried submit after a
// network failure is safely deduplicated by the exchange instead of risking
// a double-fill.
package execution

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"perpengine/internal/domain"
	"perpengine/internal/metrics"
	"perpengine/internal/notify"
	"perpengine/internal/risk"
)

// Notifier is the subset of *notify.Notifier the engine depends on.
type Notifier interface {
	NotifyNetworkIssue(ctx context.Context, scene, message string, cause error)
	NotifyTradeFill(ctx context.Context, event notify.TradeFillEvent)
}

// HealthRecorder is the subset of *health.Checker the engine depends on.
type HealthRecorder interface {
	RecordTrade(strategyId string, trade domain.ClosedTrade)
}

// RiskGate is the subset of *risk.Gate the engine depends on.
type RiskGate interface {
	Evaluate(signal domain.Signal, account risk.AccountState, tracked *domain.Position) risk.Decision
	RecordTradeResult(trade domain.ClosedTrade)
}

// OrderPersister is the subset of *storage.OrderStore the engine depends on.
// Set via SetOrderPersister; nil-receiver-safe like Notifier/HealthRecorder,
// so tests and stripped-down wiring can omit it entirely.
type OrderPersister interface {
	Save(order domain.Order) error
}

// StrategyCallback is the subset of strategy.Strategy the engine calls back
// into on fill/close, kept narrow here to avoid a dependency on the
// internal/strategy package from internal/execution.
type StrategyCallback interface {
	OnPositionOpened(position domain.Position)
	OnPositionClosed(trade domain.ClosedTrade, reason string)
}

// Config parameterizes the TradingEngine, mirrored from internal/cfg.
type Config struct {
	EntryRepriceEnabled bool

	OrderSubmitMaxRetries int
	OrderSubmitBaseBackoff time.Duration
	OrderSubmitMaxBackoff  time.Duration

	OrderPollInterval time.Duration
	OrderPollTimeout  time.Duration

	DefaultStopDistancePercent domain.Decimal // used adopting an untracked exchange position
	Leverage                   int
	ExchangeName               string
}

// trackedEntry is one symbol's tracked position plus the strategy that owns
// it, keyed by Symbol.PairString(). entryFee is carried alongside (rather
// than on domain.Position) so closePosition can fold it into the
// ClosedTrade's Fee.
type trackedEntry struct {
	position   domain.Position
	strategyId string
	entryFee   domain.Decimal
}

// Engine is the TradingEngine. It implements strategy.SignalConsumer
// (OnSignal) and strategy.PositionSource (OpenPositionsFor) so it plugs
// directly into a strategy.Engine as the downstream consumer.
type Engine struct {
	exchange domain.Exchange
	risk     RiskGate
	health   HealthRecorder
	notifier Notifier
	persist  OrderPersister
	metrics  *metrics.MetricsWrapper
	cfg      Config

	mu               sync.Mutex
	tracked          map[string]trackedEntry
	strategies       map[string]StrategyCallback
	watchedSymbols   map[string]domain.Symbol // pair -> symbol, every symbol a registered strategy trades
	watchedStrategy  map[string]string        // pair -> strategyId
	account          risk.AccountState
}

// New constructs a TradingEngine. health, notifier, and mx may be nil;
// nil-receiver calls on them are guarded internally.
func New(exchange domain.Exchange, gate RiskGate, health HealthRecorder, notifier Notifier, mx *metrics.MetricsWrapper, cfg Config) *Engine {
	return &Engine{
		exchange:   exchange,
		risk:       gate,
		health:     health,
		notifier:   notifier,
		metrics:    mx,
		cfg:        cfg,
		tracked:         make(map[string]trackedEntry),
		strategies:      make(map[string]StrategyCallback),
		watchedSymbols:  make(map[string]domain.Symbol),
		watchedStrategy: make(map[string]string),
	}
}

// SetOrderPersister attaches the per-order persistence contract
// (storage.OrderStore) so every order reaching a terminal state is
// archived. Optional — a nil persister (the default) skips persistence
// entirely.
func (e *Engine) SetOrderPersister(p OrderPersister) {
	e.persist = p
}

func (e *Engine) persistOrder(order domain.Order) {
	if e.persist == nil {
		return
	}
	if err := e.persist.Save(order); err != nil {
		log.Error().Err(err).Str("client_order_id", order.ClientOrderId).Msg("failed to persist order")
	}
}

// RegisterStrategy lets the engine call onPositionOpened/onPositionClosed
// back on the strategy that owns a fill, and adds symbol to the set
// reconciliation scans for untracked (missed-fill) positions to adopt.
func (e *Engine) RegisterStrategy(strategyId string, symbol domain.Symbol, cb StrategyCallback) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.strategies[strategyId] = cb
	e.watchedSymbols[symbol.PairString()] = symbol
	e.watchedStrategy[symbol.PairString()] = strategyId
}

// UpdateTrailingStop lets a strategy mutate its tracked position's stop
// price directly (e.g. a trailing-stop strategy tightening the stop as
// price moves favorably). The next reconciliation pass re-syncs the new
// stop to the exchange's protective order.
func (e *Engine) UpdateTrailingStop(symbol domain.Symbol, newStop domain.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pair := symbol.PairString()
	te, ok := e.tracked[pair]
	if !ok {
		return
	}
	te.position.StopLoss = newStop
	e.tracked[pair] = te
}

func (e *Engine) strategyFor(strategyId string) (StrategyCallback, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cb, ok := e.strategies[strategyId]
	return cb, ok
}

// RefreshAccount re-reads account state from the exchange into the cache
// risk.Evaluate consumes, so sizing decisions use a recent equity/balance
// snapshot rather than refetching on every signal.
func (e *Engine) RefreshAccount(ctx context.Context) error {
	info, err := e.exchange.GetAccountInfo(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.account = risk.AccountState{
		Equity: info.TotalEquity, AvailableBalance: info.AvailableBalance, UnrealizedPnl: info.UnrealizedPnl,
	}
	e.mu.Unlock()
	return nil
}

func (e *Engine) accountSnapshot() risk.AccountState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.account
}

func (e *Engine) trackedFor(symbol domain.Symbol) *domain.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	te, ok := e.tracked[symbol.PairString()]
	if !ok {
		return nil
	}
	p := te.position
	return &p
}

func (e *Engine) setTracked(symbol domain.Symbol, strategyId string, position domain.Position, entryFee domain.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tracked[symbol.PairString()] = trackedEntry{position: position, strategyId: strategyId, entryFee: entryFee}
}

func (e *Engine) trackedEntryFor(symbol domain.Symbol) (trackedEntry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	te, ok := e.tracked[symbol.PairString()]
	return te, ok
}

func (e *Engine) clearTracked(symbol domain.Symbol) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.tracked, symbol.PairString())
}

// AllTrackedPositions returns every open position the engine currently
// tracks, across every registered strategy — consumed by internal/httpapi's
// read-only /positions endpoint.
func (e *Engine) AllTrackedPositions() []domain.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.Position, 0, len(e.tracked))
	for _, te := range e.tracked {
		out = append(out, te.position)
	}
	return out
}

// OpenPositionsFor implements strategy.PositionSource.
func (e *Engine) OpenPositionsFor(strategyId string) []domain.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []domain.Position
	for _, te := range e.tracked {
		if te.strategyId == strategyId {
			out = append(out, te.position)
		}
	}
	return out
}

// metricsOrNop guards every metrics call against a nil wrapper so tests and
// stripped-down call sites don't need to construct a registry.
func (e *Engine) metricsOrNop() *metrics.MetricsWrapper {
	return e.metrics
}

// OnSignal implements strategy.SignalConsumer: the entry point a
// strategy.Engine dispatches an emitted Signal into.
func (e *Engine) OnSignal(signal domain.Signal) {
	ctx := context.Background()
	start := time.Now()

	if signal.SignalType.IsEntry() {
		e.handleEntry(ctx, signal)
	} else {
		e.handleExit(ctx, signal)
	}

	if mx := e.metricsOrNop(); mx != nil {
		mx.OrderExecutionDuration().Observe(time.Since(start).Seconds())
	}
}

func (e *Engine) handleEntry(ctx context.Context, signal domain.Signal) {
	repriced := signal
	if e.cfg.EntryRepriceEnabled {
		repriced = e.repriceEntry(ctx, signal)
	}

	decision := e.risk.Evaluate(repriced, e.accountSnapshot(), e.trackedFor(repriced.Symbol))
	if decision.Vetoed {
		if mx := e.metricsOrNop(); mx != nil {
			mx.RiskVeto(string(decision.Reason)).Inc()
		}
		return
	}

	order := *decision.Order
	order.ClientOrderId = newClientOrderId(signal.StrategyId, signal.Symbol, signal.Side, time.Now())
	order.CreateTime = time.Now()

	e.submitEntry(ctx, repriced, order)
}

// repriceEntry re-fetches the ticker and shifts the signal's entry/stop by
// the same delta, preserving stop distance. On ticker failure it falls back
// to the signal's own price unchanged.
func (e *Engine) repriceEntry(ctx context.Context, signal domain.Signal) domain.Signal {
	ticker, err := e.exchange.GetTicker(ctx, signal.Symbol)
	if err != nil {
		if e.notifier != nil {
			e.notifier.NotifyNetworkIssue(ctx, "entry_reprice_ticker", "ticker fetch failed, falling back to signal price", err)
		}
		return signal
	}

	newPrice := ticker.Ask
	if signal.Side == domain.SideSell {
		newPrice = ticker.Bid
	}
	delta := newPrice.Sub(signal.SuggestedPrice)

	repriced := signal
	repriced.SuggestedPrice = newPrice
	if signal.StopLoss.IsPositive() {
		repriced.StopLoss = signal.StopLoss.Add(delta)
	}
	return repriced
}

func (e *Engine) handleExit(ctx context.Context, signal domain.Signal) {
	tracked := e.trackedFor(signal.Symbol)
	decision := e.risk.Evaluate(signal, e.accountSnapshot(), tracked)
	if decision.Vetoed {
		if mx := e.metricsOrNop(); mx != nil {
			mx.RiskVeto(string(decision.Reason)).Inc()
		}
		return
	}

	order := *decision.Order
	order.ClientOrderId = newClientOrderId(signal.StrategyId, signal.Symbol, signal.Side, time.Now())
	order.CreateTime = time.Now()

	e.submitExit(ctx, signal, tracked, order)
}
