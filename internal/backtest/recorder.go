package backtest

import (
	"math"
	"time"

	"perpengine/internal/domain"
	"perpengine/internal/indicator"
)

// indicatorSnapshot captures the indicator values reported alongside every
// closed trade: atr_pct, rsi, ema20, ema200 as they stood on the candle a
// position was opened on.
type indicatorSnapshot struct {
	AtrPercent domain.Decimal
	Rsi        domain.Decimal
	Ema20      domain.Decimal
	Ema200     domain.Decimal
}

// TradeRecord is one row of the backtest's trade_log.csv, pairing a
// ClosedTrade with the indicator snapshot taken when its position opened.
type TradeRecord struct {
	domain.ClosedTrade
	Snapshot indicatorSnapshot
}

// EquityPoint is one sample of the backtest's equity curve.
type EquityPoint struct {
	Time   time.Time
	Equity domain.Decimal
}

// Results is the complete output of a backtest run, consumed by Reporter.
type Results struct {
	Start, End     time.Time
	InitialCapital domain.Decimal
	FinalEquity    domain.Decimal

	TotalReturnPercent      domain.Decimal
	AnnualizedReturnPercent domain.Decimal
	MaxDrawdownPercent      domain.Decimal
	SharpeRatio             float64

	TotalTrades     int
	Wins            int
	Losses          int
	WinRatePercent  domain.Decimal
	ProfitFactor    float64
	AvgWin          domain.Decimal
	AvgLoss         domain.Decimal
	LargestWin      domain.Decimal
	LargestLoss     domain.Decimal

	Trades      []TradeRecord
	EquityCurve []EquityPoint
}

// recorder accumulates per-candle indicator snapshots, closed trades, and
// the equity curve during an Engine.Run.
type recorder struct {
	latestSnapshot map[string]indicatorSnapshot // symbol pair -> snapshot as of the last candle seen
	entrySnapshot  map[string]indicatorSnapshot // symbol pair -> snapshot captured when the open position started
	trades         []TradeRecord
	equityCurve    []EquityPoint
}

func newRecorder() *recorder {
	return &recorder{
		latestSnapshot: make(map[string]indicatorSnapshot),
		entrySnapshot:  make(map[string]indicatorSnapshot),
	}
}

// snapshotCandle recomputes the indicator snapshot for symbol from its
// full candle history so far. Indicators that don't yet have enough data
// are left at domain.Zero rather than erroring the replay.
func (r *recorder) snapshotCandle(symbol domain.Symbol, history []domain.KLine) {
	closes := make([]domain.Decimal, len(history))
	for i, k := range history {
		closes[i] = k.Close
	}

	snap := indicatorSnapshot{}
	if ema20, err := indicator.EMA(closes, 20); err == nil && len(ema20) > 0 {
		snap.Ema20 = ema20[len(ema20)-1]
	}
	if ema200, err := indicator.EMA(closes, 200); err == nil && len(ema200) > 0 {
		snap.Ema200 = ema200[len(ema200)-1]
	}
	if rsi, err := indicator.RSI(closes, 14); err == nil && len(rsi) > 0 {
		snap.Rsi = rsi[len(rsi)-1]
	}
	if atr, err := indicator.ATR(history, 14); err == nil && len(atr) > 0 {
		last := atr[len(atr)-1]
		close := history[len(history)-1].Close
		if close.IsPositive() {
			snap.AtrPercent = last.Div(close)
		}
	}

	r.latestSnapshot[symbol.PairString()] = snap
}

// onOpened captures the just-recorded snapshot as the entry snapshot for
// symbol's now-open position.
func (r *recorder) onOpened(symbol domain.Symbol) {
	r.entrySnapshot[symbol.PairString()] = r.latestSnapshot[symbol.PairString()]
}

// onClosed pairs trade with the entry snapshot captured by onOpened and
// records it as a TradeRecord.
func (r *recorder) onClosed(trade domain.ClosedTrade, reason string) {
	pair := trade.Symbol.PairString()
	snap := r.entrySnapshot[pair]
	delete(r.entrySnapshot, pair)
	r.trades = append(r.trades, TradeRecord{ClosedTrade: trade, Snapshot: snap})
}

func (r *recorder) recordEquity(t time.Time, equity domain.Decimal) {
	r.equityCurve = append(r.equityCurve, EquityPoint{Time: t, Equity: equity})
}

// buildResults computes the summary metrics from the accumulated trades
// and equity curve.
func (r *recorder) buildResults(initialCapital domain.Decimal, start, end time.Time) *Results {
	finalEquity := initialCapital
	if len(r.equityCurve) > 0 {
		finalEquity = r.equityCurve[len(r.equityCurve)-1].Equity
	}

	res := &Results{
		Start: start, End: end, InitialCapital: initialCapital, FinalEquity: finalEquity,
		Trades: r.trades, EquityCurve: r.equityCurve,
	}

	if initialCapital.IsPositive() {
		res.TotalReturnPercent = finalEquity.Sub(initialCapital).Div(initialCapital).Mul(domain.FromFloatPercent(100))
		days := end.Sub(start).Hours() / 24
		if days > 0 {
			totalReturn := finalEquity.Div(initialCapital).Float64()
			if totalReturn > 0 {
				annualized := (math.Pow(totalReturn, 365.0/days) - 1) * 100
				res.AnnualizedReturnPercent = domain.FromFloatPercent(annualized)
			}
		}
	}

	res.MaxDrawdownPercent = maxDrawdown(r.equityCurve)
	res.SharpeRatio = sharpeRatio(r.equityCurve)

	var sumWin, sumLoss, grossWin, grossLoss domain.Decimal
	for _, t := range r.trades {
		res.TotalTrades++
		if t.IsWin() {
			res.Wins++
			sumWin = sumWin.Add(t.NetPnl)
			grossWin = grossWin.Add(t.NetPnl)
			if t.NetPnl.GreaterThan(res.LargestWin) {
				res.LargestWin = t.NetPnl
			}
		} else if t.IsLoss() {
			res.Losses++
			sumLoss = sumLoss.Add(t.NetPnl)
			grossLoss = grossLoss.Add(t.NetPnl.Abs())
			if t.NetPnl.LessThan(res.LargestLoss) {
				res.LargestLoss = t.NetPnl
			}
		}
	}
	if res.TotalTrades > 0 {
		res.WinRatePercent = domain.FromFloatPercent(float64(res.Wins) / float64(res.TotalTrades) * 100)
	}
	if res.Wins > 0 {
		res.AvgWin = sumWin.Div(domain.FromFloatPrice(float64(res.Wins)))
	}
	if res.Losses > 0 {
		res.AvgLoss = sumLoss.Div(domain.FromFloatPrice(float64(res.Losses)))
	}
	if grossLoss.IsPositive() {
		res.ProfitFactor = grossWin.Div(grossLoss).Float64()
	}

	return res
}

func maxDrawdown(curve []EquityPoint) domain.Decimal {
	if len(curve) == 0 {
		return domain.Zero
	}
	peak := curve[0].Equity
	worst := domain.Zero
	for _, p := range curve {
		if p.Equity.GreaterThan(peak) {
			peak = p.Equity
		}
		if peak.IsPositive() {
			dd := peak.Sub(p.Equity).Div(peak).Mul(domain.FromFloatPercent(100))
			if dd.GreaterThan(worst) {
				worst = dd
			}
		}
	}
	return worst
}

// sharpeRatio computes an annualized Sharpe ratio off the equity curve's
// per-sample returns, assuming daily-equivalent bars (√252 annualization
// factor).
func sharpeRatio(curve []EquityPoint) float64 {
	if len(curve) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity.Float64()
		if prev == 0 {
			continue
		}
		returns = append(returns, (curve[i].Equity.Float64()-prev)/prev)
	}
	if len(returns) == 0 {
		return 0
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))
	stddev := math.Sqrt(variance)
	if stddev == 0 {
		return 0
	}
	return mean / stddev * math.Sqrt(252)
}
