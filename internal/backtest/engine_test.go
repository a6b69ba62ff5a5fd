package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"perpengine/internal/domain"
	"perpengine/internal/risk"
	"perpengine/internal/strategy"
)

// scriptedStrategy enters long on the first candle and exits on the third,
// giving the replay a single deterministic round-trip trade to assert on.
type scriptedStrategy struct {
	id       string
	symbol   domain.Symbol
	interval domain.Interval
	bar      int
}

func (s *scriptedStrategy) StrategyId() string       { return s.id }
func (s *scriptedStrategy) Symbol() domain.Symbol     { return s.symbol }
func (s *scriptedStrategy) Interval() domain.Interval { return s.interval }
func (s *scriptedStrategy) Reset()                    { s.bar = 0 }
func (s *scriptedStrategy) CooldownRemaining() int    { return 0 }
func (s *scriptedStrategy) RecordTrade()              {}
func (s *scriptedStrategy) OnPositionOpened(domain.Position)           {}
func (s *scriptedStrategy) OnPositionClosed(domain.ClosedTrade, string) {}

func (s *scriptedStrategy) Analyze(candles []domain.KLine) (*domain.Signal, error) {
	s.bar++
	current := candles[len(candles)-1]
	switch s.bar {
	case 1:
		stop := current.Close.Mul(domain.FromFloatPercent(0.98)) // 2% below entry, inside MaxStopLossPercent
		return &domain.Signal{
			StrategyId: s.id, Symbol: s.symbol, SignalType: domain.SignalEntryLong, Side: domain.SideBuy,
			SuggestedPrice: current.Close, SuggestedQuantity: domain.FromFloatQuantity(1),
			StopLoss: stop,
		}, nil
	case 3:
		return &domain.Signal{
			StrategyId: s.id, Symbol: s.symbol, SignalType: domain.SignalExitLong, Side: domain.SideSell,
			SuggestedPrice: current.Close,
		}, nil
	}
	return nil, nil
}

func (s *scriptedStrategy) OnPositionUpdate(domain.Position, domain.KLine) (*domain.Signal, error) {
	return nil, nil
}

func candle(sym domain.Symbol, openTime time.Time, closePrice float64) domain.KLine {
	price := domain.FromFloatPrice(closePrice)
	return domain.KLine{
		Symbol: sym, Interval: domain.Interval5m, OpenTime: openTime, CloseTime: openTime.Add(5 * time.Minute),
		Open: price, High: price, Low: price, Close: price, Volume: domain.FromFloatQuantity(10),
	}
}

func testRiskConfig() risk.Config {
	return risk.Config{
		RiskPerTrade: domain.FromFloatPercent(0.5), MaxPositionRatio: domain.FromFloatPercent(0.9),
		MaxStopLossPercent: domain.FromFloatPercent(0.1), MaxConsecutiveLosses: 10,
		MaxDrawdownPercent: domain.FromFloatPercent(0.5), Leverage: 1, MarginBuffer: domain.FromFloatQuantity(1.1),
	}
}

func TestEngineRun_RoundTripTradeRecorded(t *testing.T) {
	sym := domain.NewSymbol("BTC", "USDT")
	strat := &scriptedStrategy{id: "scripted-1", symbol: sym, interval: domain.Interval5m}

	cfg := Config{
		InitialCapital: domain.FromFloatPrice(10000), MakerFee: domain.FromFloatPercent(0.0002),
		TakerFee: domain.FromFloatPercent(0.0005), Slippage: domain.FromFloatPercent(0.0001),
		Leverage: 1, DefaultStopDistancePercent: domain.FromFloatPercent(0.05),
	}
	engine := NewEngine(cfg, testRiskConfig(), nil, []strategy.Strategy{strat})

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	series := map[domain.Symbol][]domain.KLine{
		sym: {
			candle(sym, start, 50000),
			candle(sym, start.Add(5*time.Minute), 50100),
			candle(sym, start.Add(10*time.Minute), 50300),
			candle(sym, start.Add(15*time.Minute), 50200),
		},
	}

	results, err := engine.Run(context.Background(), series)
	require.NoError(t, err)
	require.NotNil(t, results)
	require.Equal(t, 1, results.TotalTrades)
	require.Equal(t, 1, results.Wins)
	require.True(t, results.FinalEquity.GreaterThan(cfg.InitialCapital))
	require.Len(t, results.EquityCurve, 4)
}

func TestEngineRun_ForceClosesOpenPositionAtEnd(t *testing.T) {
	sym := domain.NewSymbol("ETH", "USDT")
	strat := &scriptedStrategy{id: "scripted-2", symbol: sym, interval: domain.Interval5m}

	cfg := Config{
		InitialCapital: domain.FromFloatPrice(10000), MakerFee: domain.FromFloatPercent(0.0002),
		TakerFee: domain.FromFloatPercent(0.0005), Slippage: domain.FromFloatPercent(0.0001),
		Leverage: 1, DefaultStopDistancePercent: domain.FromFloatPercent(0.05),
	}
	engine := NewEngine(cfg, testRiskConfig(), nil, []strategy.Strategy{strat})

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	// Only two candles: entry fires on bar 1, exit (scripted for bar 3) never
	// fires, so the position must be force-closed at the replay's end.
	series := map[domain.Symbol][]domain.KLine{
		sym: {
			candle(sym, start, 3000),
			candle(sym, start.Add(5*time.Minute), 3010),
		},
	}

	results, err := engine.Run(context.Background(), series)
	require.NoError(t, err)
	require.Equal(t, 1, results.TotalTrades)
	require.Equal(t, "BACKTEST_END", results.Trades[0].ExitReason)
}
