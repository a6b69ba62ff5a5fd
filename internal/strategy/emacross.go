package strategy

import (
	"perpengine/internal/domain"
	"perpengine/internal/indicator"
)

// EMACrossConfig parameterizes EMACrossStrategy.
type EMACrossConfig struct {
	FastPeriod      int
	SlowPeriod      int
	RSIPeriod       int
	RSIOverbought   domain.Decimal
	RSIOversold     domain.Decimal
	CooldownBars    int
	RiskStopPercent domain.Decimal // fraction of entry used as the suggested stop distance
}

// EMACrossStrategy enters long when the fast EMA crosses above the slow EMA
// while RSI is not already overbought, and enters short on the mirrored
// cross. It emits no exit signals of its own. It is the reference strategy
// implementation exercising internal/indicator's EMA and RSI.
type EMACrossStrategy struct {
	AbstractStrategy
	cfg EMACrossConfig

	lastFastAboveSlow *bool
}

// NewEMACrossStrategy constructs the strategy for one (symbol, interval).
func NewEMACrossStrategy(id string, symbol domain.Symbol, interval domain.Interval, cfg EMACrossConfig) *EMACrossStrategy {
	return &EMACrossStrategy{
		AbstractStrategy: NewAbstractStrategy(id, symbol, interval),
		cfg:              cfg,
	}
}

func closes(candles []domain.KLine) []domain.Decimal {
	out := make([]domain.Decimal, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// Analyze implements Strategy.
func (s *EMACrossStrategy) Analyze(candles []domain.KLine) (*domain.Signal, error) {
	need := s.cfg.SlowPeriod
	if s.cfg.RSIPeriod+1 > need {
		need = s.cfg.RSIPeriod + 1
	}
	if len(candles) < need {
		return nil, nil
	}

	prices := closes(candles)
	fast, err := indicator.EMA(prices, s.cfg.FastPeriod)
	if err != nil {
		return nil, err
	}
	slow, err := indicator.EMA(prices, s.cfg.SlowPeriod)
	if err != nil {
		return nil, err
	}
	rsi, err := indicator.RSI(prices, s.cfg.RSIPeriod)
	if err != nil {
		return nil, err
	}

	fastLast := fast[len(fast)-1]
	slowLast := slow[len(slow)-1]
	rsiLast := rsi[len(rsi)-1]
	fastAboveSlow := fastLast.GreaterThan(slowLast)

	prev := s.lastFastAboveSlow
	cur := fastAboveSlow
	s.lastFastAboveSlow = &cur
	if prev == nil {
		return nil, nil
	}

	symbol := s.Symbol()
	entry := candles[len(candles)-1].Close

	switch {
	case !*prev && cur && rsiLast.LessThan(s.cfg.RSIOverbought):
		stop := entry.Sub(entry.Mul(s.cfg.RiskStopPercent))
		s.SetCooldown(s.cfg.CooldownBars)
		return &domain.Signal{
			StrategyId: s.StrategyId(), Symbol: symbol,
			SignalType: domain.SignalEntryLong, Side: domain.SideBuy,
			SuggestedPrice: entry, StopLoss: stop, Reason: "ema_cross_up",
		}, nil
	case *prev && !cur && rsiLast.GreaterThan(s.cfg.RSIOversold):
		stop := entry.Add(entry.Mul(s.cfg.RiskStopPercent))
		s.SetCooldown(s.cfg.CooldownBars)
		return &domain.Signal{
			StrategyId: s.StrategyId(), Symbol: symbol,
			SignalType: domain.SignalEntryShort, Side: domain.SideSell,
			SuggestedPrice: entry, StopLoss: stop, Reason: "ema_cross_down",
		}, nil
	}
	return nil, nil
}

// OnPositionUpdate implements Strategy. This strategy carries no
// discretionary exit logic beyond its protective stop, so it never emits a
// signal here; Risk Control and the exchange-side stop handle exits.
func (s *EMACrossStrategy) OnPositionUpdate(domain.Position, domain.KLine) (*domain.Signal, error) {
	return nil, nil
}

// Reset clears the crossover memory in addition to the base counters.
func (s *EMACrossStrategy) Reset() {
	s.AbstractStrategy.Reset()
	s.lastFastAboveSlow = nil
}
