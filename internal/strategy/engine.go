package strategy

import (
	"github.com/rs/zerolog/log"

	"perpengine/internal/domain"
)

// SignalConsumer receives signals emitted by Analyze/OnPositionUpdate —
// satisfied by internal/execution.TradingEngine in production and the
// backtest driver in internal/backtest.
type SignalConsumer interface {
	OnSignal(signal domain.Signal)
}

// PositionSource supplies the set of currently tracked open positions for a
// strategy, so the engine can fan out OnPositionUpdate — satisfied by
// internal/execution.TradingEngine.
type PositionSource interface {
	OpenPositionsFor(strategyId string) []domain.Position
}

// Engine owns the registered strategies and dispatches them on candle
// close: increment bar counter, skip Analyze while in cooldown, call
// Analyze, then call OnPositionUpdate for every tracked position belonging
// to that strategy.
type Engine struct {
	strategies []Strategy
	consumer   SignalConsumer
	positions  PositionSource
	health     HealthGate
}

// NewEngine creates a strategy engine. health may be nil, in which case
// every strategy is treated as enabled (useful for backtests that don't
// exercise the health supervisor).
func NewEngine(consumer SignalConsumer, positions PositionSource, health HealthGate) *Engine {
	if health == nil {
		health = alwaysEnabled{}
	}
	return &Engine{consumer: consumer, positions: positions, health: health}
}

// Register adds a strategy to the dispatch list.
func (e *Engine) Register(s Strategy) {
	e.strategies = append(e.strategies, s)
}

// OnCandleClose is the callback registered with internal/marketdata.Feed
// for every (symbol, interval) a strategy cares about. It is safe to call
// from the feed's single dispatch goroutine; strategies themselves are not
// expected to be called concurrently.
func (e *Engine) OnCandleClose(symbol domain.Symbol, interval domain.Interval, history []domain.KLine) {
	if len(history) == 0 {
		return
	}
	current := history[len(history)-1]

	for _, s := range e.strategies {
		if s.Symbol() != symbol || s.Interval() != interval {
			continue
		}

		if tickable, ok := s.(interface{ Tick() }); ok {
			tickable.Tick()
		}

		if !e.health.IsStrategyEnabled(s.StrategyId()) {
			continue
		}

		if s.CooldownRemaining() <= 0 {
			signal, err := s.Analyze(history)
			if err != nil {
				log.Error().Err(err).Str("strategy", s.StrategyId()).Msg("strategy analyze failed")
			} else if signal != nil {
				e.dispatch(*signal)
			}
		}

		if e.positions == nil {
			continue
		}
		for _, pos := range e.positions.OpenPositionsFor(s.StrategyId()) {
			signal, err := s.OnPositionUpdate(pos, current)
			if err != nil {
				log.Error().Err(err).Str("strategy", s.StrategyId()).Msg("strategy position update failed")
				continue
			}
			if signal != nil {
				e.dispatch(*signal)
			}
		}
	}
}

func (e *Engine) dispatch(signal domain.Signal) {
	if e.consumer == nil {
		return
	}
	e.consumer.OnSignal(signal)
}
