package strategy

import (
	"testing"
	"time"

	"perpengine/internal/domain"
)

func makeCandles(sym domain.Symbol, closes []float64) []domain.KLine {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]domain.KLine, len(closes))
	for i, c := range closes {
		price := domain.FromFloatPrice(c)
		out[i] = domain.KLine{
			Symbol: sym, Interval: domain.Interval1m,
			OpenTime: base.Add(time.Duration(i) * time.Minute), CloseTime: base.Add(time.Duration(i+1) * time.Minute),
			Open: price, Close: price, High: price, Low: price,
			Volume: domain.FromFloatQuantity(1),
		}
	}
	return out
}

func TestAbstractStrategyCooldown(t *testing.T) {
	base := NewAbstractStrategy("s1", domain.NewSymbol("BTC", "USDT"), domain.Interval1m)
	base.SetCooldown(2)
	if base.CooldownRemaining() != 2 {
		t.Fatalf("expected cooldown 2, got %d", base.CooldownRemaining())
	}
	base.Tick()
	if base.CooldownRemaining() != 1 {
		t.Fatalf("expected cooldown 1 after tick, got %d", base.CooldownRemaining())
	}
	base.RecordTrade()
	if base.CooldownRemaining() != 0 {
		t.Fatalf("expected cooldown reset to 0, got %d", base.CooldownRemaining())
	}
}

func TestEMACrossStrategyEntersOnCrossover(t *testing.T) {
	sym := domain.NewSymbol("BTC", "USDT")
	// The crossover bar's RSI(4) is about 79.5, so the overbought threshold
	// sits above it for the entry to pass the RSI filter.
	cfg := EMACrossConfig{
		FastPeriod: 3, SlowPeriod: 5, RSIPeriod: 4,
		RSIOverbought: domain.FromFloatPercent(90), RSIOversold: domain.FromFloatPercent(30),
		CooldownBars: 1, RiskStopPercent: domain.FromFloatPercent(1),
	}
	s := NewEMACrossStrategy("ema1", sym, domain.Interval1m, cfg)

	// Downtrend then sharp uptrend to force a fast-over-slow crossover.
	prices := []float64{100, 99, 98, 97, 96, 95, 100, 105, 110, 115}
	candles := makeCandles(sym, prices)

	var lastSignal *domain.Signal
	for i := 6; i <= len(candles); i++ {
		sig, err := s.Analyze(candles[:i])
		if err != nil {
			t.Fatalf("unexpected error at step %d: %v", i, err)
		}
		if sig != nil {
			lastSignal = sig
		}
	}

	if lastSignal == nil {
		t.Fatal("expected a signal to be emitted on crossover")
	}
	if lastSignal.SignalType != domain.SignalEntryLong {
		t.Errorf("expected SignalEntryLong, got %v", lastSignal.SignalType)
	}
	if !lastSignal.StopLoss.LessThan(lastSignal.SuggestedPrice) {
		t.Errorf("expected stop below entry for long signal, stop=%v entry=%v", lastSignal.StopLoss, lastSignal.SuggestedPrice)
	}
}

type fakeConsumer struct {
	signals []domain.Signal
}

func (f *fakeConsumer) OnSignal(s domain.Signal) {
	f.signals = append(f.signals, s)
}

type noPositions struct{}

func (noPositions) OpenPositionsFor(string) []domain.Position { return nil }

func TestEngineSkipsDisabledStrategies(t *testing.T) {
	sym := domain.NewSymbol("BTC", "USDT")
	consumer := &fakeConsumer{}
	disabledGate := disabledGateStub{}
	engine := NewEngine(consumer, noPositions{}, disabledGate)

	cfg := EMACrossConfig{
		FastPeriod: 3, SlowPeriod: 5, RSIPeriod: 4,
		RSIOverbought: domain.FromFloatPercent(70), RSIOversold: domain.FromFloatPercent(30),
		CooldownBars: 1, RiskStopPercent: domain.FromFloatPercent(1),
	}
	s := NewEMACrossStrategy("ema1", sym, domain.Interval1m, cfg)
	engine.Register(s)

	candles := makeCandles(sym, []float64{100, 99, 98, 97, 96, 95, 100, 105, 110, 115})
	for i := 6; i <= len(candles); i++ {
		engine.OnCandleClose(sym, domain.Interval1m, candles[:i])
	}

	if len(consumer.signals) != 0 {
		t.Errorf("expected no signals dispatched while strategy is disabled, got %d", len(consumer.signals))
	}
}

type disabledGateStub struct{}

func (disabledGateStub) IsStrategyEnabled(string) bool { return false }
