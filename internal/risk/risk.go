// Package risk implements the validation pipeline that turns a strategy's
// Signal into an Order ready for submission, or a logged veto. It never
// raises an error to the caller for a rejected trade — every veto is a
// reason-coded decision, not an exception.
package risk

import (
	"sync"

	"github.com/rs/zerolog/log"

	"perpengine/internal/domain"
)

// Config is the full set of risk knobs, mirrored from internal/cfg.RiskConfig.
type Config struct {
	RiskPerTrade       domain.Decimal // fraction of equity at stop distance
	MaxPositionRatio   domain.Decimal // fraction of equity a position's notional may occupy
	MaxStopLossPercent domain.Decimal // hard cap on (entry-stop)/entry
	MaxConsecutiveLosses int
	MaxDrawdownPercent domain.Decimal
	Leverage           int
	MarginBuffer       domain.Decimal // >= 1, safety multiplier on required margin
}

// AccountState is the account snapshot risk evaluation reads.
type AccountState struct {
	Equity           domain.Decimal
	AvailableBalance domain.Decimal
	UnrealizedPnl    domain.Decimal
}

// VetoReason enumerates every reason code risk.Evaluate can log a
// rejection under — used both for structured logging and for the
// risk_vetoes_total{reason=...} metric.
type VetoReason string

const (
	VetoEmergencyStop      VetoReason = "emergency_stop"
	VetoConsecutiveLosses  VetoReason = "consecutive_losses"
	VetoDrawdown           VetoReason = "max_drawdown"
	VetoMissingStopLoss    VetoReason = "missing_stop_loss"
	VetoStopLossDirection  VetoReason = "stop_loss_wrong_side"
	VetoStopLossDistance   VetoReason = "stop_loss_too_wide"
	VetoZeroQuantity       VetoReason = "zero_quantity_after_sizing"
	VetoNoTrackedPosition  VetoReason = "exit_no_tracked_position"
)

// Decision is the outcome of Evaluate: either Order is non-nil and ready to
// submit, or Vetoed is true and Reason explains why.
type Decision struct {
	Order  *domain.Order
	Vetoed bool
	Reason VetoReason
}

// Gate is the emergency-stop state machine plus consecutive-loss and
// drawdown bookkeeping: it trips to STOPPED on EmergencyStop or when equity
// drawdown from peak breaches the configured threshold, and only clears on an
// explicit ResumeTrading call. Reaching the consecutive-loss limit vetoes
// entries without entering STOPPED; a winning trade resets the count.
type Gate struct {
	cfg Config

	mu                sync.Mutex
	stopped           bool
	peakEquity        domain.Decimal
	consecutiveLosses int
	cumulativeRealized domain.Decimal
}

// NewGate constructs a Gate in the NORMAL state.
func NewGate(cfg Config, startingEquity domain.Decimal) *Gate {
	return &Gate{cfg: cfg, peakEquity: startingEquity}
}

// EmergencyStop transitions NORMAL -> STOPPED. Idempotent.
func (g *Gate) EmergencyStop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopped = true
}

// ResumeTrading transitions STOPPED -> NORMAL. This is the only path back;
// drawdown-triggered stops never auto-clear.
func (g *Gate) ResumeTrading() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopped = false
}

// IsStopped reports the current emergency-stop state.
func (g *Gate) IsStopped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stopped
}

// UpdateAccount refreshes the peak-equity high-water mark and, if the
// current drawdown breaches MaxDrawdownPercent, flips the gate to STOPPED.
func (g *Gate) UpdateAccount(account AccountState) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if account.Equity.GreaterThan(g.peakEquity) {
		g.peakEquity = account.Equity
	}
	if g.peakEquity.IsZero() {
		return
	}
	drawdown := g.peakEquity.Sub(account.Equity).Div(g.peakEquity)
	if drawdown.GreaterThanOrEqual(g.cfg.MaxDrawdownPercent) {
		g.stopped = true
	}
}

// RecordTradeResult updates the consecutive-loss counter and cumulative
// realized PnL after a ClosedTrade.
func (g *Gate) RecordTradeResult(trade domain.ClosedTrade) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.cumulativeRealized = g.cumulativeRealized.Add(trade.NetPnl)
	if trade.IsLoss() {
		g.consecutiveLosses++
	} else if trade.IsWin() {
		g.consecutiveLosses = 0
	}
}

func (g *Gate) consecutiveLossesSnapshot() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.consecutiveLosses
}

// Evaluate runs the full veto pipeline against a signal, the account state,
// and the caller's currently tracked position for that symbol (nil if
// flat). It never returns an error — every rejection is a Decision with
// Vetoed=true.
func (g *Gate) Evaluate(signal domain.Signal, account AccountState, tracked *domain.Position) Decision {
	if signal.SignalType.IsEntry() {
		if g.IsStopped() {
			return veto(VetoEmergencyStop, signal)
		}
		if g.consecutiveLossesSnapshot() >= g.cfg.MaxConsecutiveLosses {
			return veto(VetoConsecutiveLosses, signal)
		}
	}

	g.UpdateAccount(account)
	if signal.SignalType.IsEntry() && g.IsStopped() {
		return veto(VetoDrawdown, signal)
	}

	if signal.SignalType.IsExit() {
		return g.resolveExit(signal, tracked)
	}
	return g.resolveEntry(signal, account)
}

func (g *Gate) resolveEntry(signal domain.Signal, account AccountState) Decision {
	entry := signal.SuggestedPrice
	stop := signal.StopLoss

	if stop.IsZero() || !stop.IsPositive() {
		return veto(VetoMissingStopLoss, signal)
	}
	if signal.Side == domain.SideBuy {
		if !stop.LessThan(entry) {
			return veto(VetoStopLossDirection, signal)
		}
	} else {
		if !stop.GreaterThan(entry) {
			return veto(VetoStopLossDirection, signal)
		}
	}

	perUnitRisk := entry.Sub(stop).Abs()
	stopPercent := perUnitRisk.Div(entry)
	if stopPercent.GreaterThan(g.cfg.MaxStopLossPercent) {
		return veto(VetoStopLossDistance, signal)
	}

	riskAmount := account.Equity.Mul(g.cfg.RiskPerTrade)
	qtyByRisk := riskAmount.Div(perUnitRisk)

	leverage := domain.FromFloatQuantity(float64(g.cfg.Leverage))
	qtyByNotional := account.Equity.Mul(g.cfg.MaxPositionRatio).Mul(leverage).Div(entry)

	ninetyFive := domain.FromFloatPercent(0.95)
	qtyByAvailable := account.AvailableBalance.Mul(ninetyFive).Mul(leverage).Div(entry.Mul(g.cfg.MarginBuffer))

	qty := domain.Min3(qtyByRisk, qtyByNotional, qtyByAvailable)
	if signal.SuggestedQuantity.IsPositive() {
		qty = domain.Min(qty, signal.SuggestedQuantity)
	}
	qty = qty.AsQuantity()
	if !qty.IsPositive() {
		return veto(VetoZeroQuantity, signal)
	}

	order := &domain.Order{
		Symbol: signal.Symbol, Side: signal.Side, Type: domain.OrderMarket,
		Quantity: qty, Price: entry, Status: domain.OrderPending,
		StopLoss: stop, TakeProfit: signal.TakeProfit, StrategyId: signal.StrategyId,
	}
	return Decision{Order: order}
}

func (g *Gate) resolveExit(signal domain.Signal, tracked *domain.Position) Decision {
	if tracked == nil {
		return veto(VetoNoTrackedPosition, signal)
	}

	qty := signal.SuggestedQuantity
	reduceOnly := false
	if !qty.IsPositive() {
		qty = tracked.Quantity
		reduceOnly = true
	}

	order := &domain.Order{
		Symbol: signal.Symbol, Side: signal.Side, Type: domain.OrderMarket,
		Quantity: qty, Price: signal.SuggestedPrice, Status: domain.OrderPending,
		ReduceOnly: reduceOnly, StrategyId: signal.StrategyId,
	}
	return Decision{Order: order}
}

func veto(reason VetoReason, signal domain.Signal) Decision {
	log.Info().Str("reason", string(reason)).Str("strategy", signal.StrategyId).
		Str("symbol", signal.Symbol.String()).Msg("risk gate vetoed signal")
	return Decision{Vetoed: true, Reason: reason}
}
