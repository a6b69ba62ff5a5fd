// Package indicator provides pure, re-entrant technical-indicator functions
// over decimal price vectors. Every function holds no state between calls;
// allocations are per call (RSI and ATR also use scratch slices).
package indicator

import (
	"fmt"

	"perpengine/internal/domain"

	"github.com/shopspring/decimal"
)

func invalidPeriod(name string, n int) error {
	return domain.NewCoreError(name, domain.ErrInvalidArgument, fmt.Errorf("period %d must be > 0", n))
}

func insufficientData(name string, have, want int) error {
	return domain.NewCoreError(name, domain.ErrInvalidArgument,
		fmt.Errorf("need at least %d data points, have %d", want, have))
}

// SMA computes the simple moving average over window n. For input length L
// >= n it returns length L-n+1, where element i is the mean of
// prices[i:i+n].
func SMA(prices []domain.Decimal, n int) ([]domain.Decimal, error) {
	if n <= 0 {
		return nil, invalidPeriod("SMA", n)
	}
	if len(prices) < n {
		return nil, insufficientData("SMA", len(prices), n)
	}
	out := make([]domain.Decimal, len(prices)-n+1)
	nDec := decimal.NewFromInt(int64(n))
	for i := range out {
		sum := decimal.Zero
		for _, p := range prices[i : i+n] {
			sum = sum.Add(p.Raw())
		}
		out[i] = domain.NewPrice(sum.Div(nDec))
	}
	return out, nil
}

// EMA computes the exponential moving average: the first value is the SMA
// of the first window, every value after is close*k + prev*(1-k) with
// k = 2/(n+1). Same length semantics as SMA.
func EMA(prices []domain.Decimal, n int) ([]domain.Decimal, error) {
	if n <= 0 {
		return nil, invalidPeriod("EMA", n)
	}
	if len(prices) < n {
		return nil, insufficientData("EMA", len(prices), n)
	}
	sma, err := SMA(prices[:n], n)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Decimal, len(prices)-n+1)
	out[0] = sma[0]

	k := decimal.NewFromInt(2).Div(decimal.NewFromInt(int64(n + 1)))
	oneMinusK := decimal.NewFromInt(1).Sub(k)

	for i := 1; i < len(out); i++ {
		close := prices[n-1+i].Raw()
		prev := out[i-1].Raw()
		out[i] = domain.NewPrice(close.Mul(k).Add(prev.Mul(oneMinusK)))
	}
	return out, nil
}

// RSI computes the Wilder-smoothed relative strength index. Returns length
// L-n. isOverbought/isOversold compare the latest value against threshold.
func RSI(prices []domain.Decimal, n int) ([]domain.Decimal, error) {
	if n <= 0 {
		return nil, invalidPeriod("RSI", n)
	}
	if len(prices) < n+1 {
		return nil, insufficientData("RSI", len(prices), n+1)
	}

	gains := make([]decimal.Decimal, len(prices)-1)
	losses := make([]decimal.Decimal, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		delta := prices[i].Raw().Sub(prices[i-1].Raw())
		if delta.IsPositive() {
			gains[i-1] = delta
			losses[i-1] = decimal.Zero
		} else {
			gains[i-1] = decimal.Zero
			losses[i-1] = delta.Neg()
		}
	}

	nDec := decimal.NewFromInt(int64(n))
	avgGain := sumRange(gains, 0, n).Div(nDec)
	avgLoss := sumRange(losses, 0, n).Div(nDec)

	out := make([]domain.Decimal, len(gains)-n+1)
	out[0] = rsiFromAvgs(avgGain, avgLoss)

	for i := n; i < len(gains); i++ {
		avgGain = avgGain.Mul(nDec.Sub(decimal.NewFromInt(1))).Add(gains[i]).Div(nDec)
		avgLoss = avgLoss.Mul(nDec.Sub(decimal.NewFromInt(1))).Add(losses[i]).Div(nDec)
		out[i-n+1] = rsiFromAvgs(avgGain, avgLoss)
	}
	return out, nil
}

func rsiFromAvgs(avgGain, avgLoss decimal.Decimal) domain.Decimal {
	if avgLoss.IsZero() {
		return domain.NewPrice(decimal.NewFromInt(100))
	}
	rs := avgGain.Div(avgLoss)
	hundred := decimal.NewFromInt(100)
	rsi := hundred.Sub(hundred.Div(decimal.NewFromInt(1).Add(rs)))
	return domain.NewPrice(rsi)
}

func sumRange(xs []decimal.Decimal, from, n int) decimal.Decimal {
	sum := decimal.Zero
	for _, x := range xs[from : from+n] {
		sum = sum.Add(x)
	}
	return sum
}

// IsOverbought reports whether the latest RSI value is >= threshold.
func IsOverbought(rsi []domain.Decimal, threshold domain.Decimal) bool {
	if len(rsi) == 0 {
		return false
	}
	return rsi[len(rsi)-1].GreaterThanOrEqual(threshold)
}

// IsOversold reports whether the latest RSI value is <= threshold.
func IsOversold(rsi []domain.Decimal, threshold domain.Decimal) bool {
	if len(rsi) == 0 {
		return false
	}
	return rsi[len(rsi)-1].LessThanOrEqual(threshold)
}

// MACDResult holds the three standard MACD outputs, aligned by index.
type MACDResult struct {
	MACD      []domain.Decimal
	Signal    []domain.Decimal
	Histogram []domain.Decimal
}

// MACD computes the standard (fast, slow, signal) MACD: macd = EMA(fast) -
// EMA(slow), signal = EMA(signal) of macd, histogram = macd - signal.
func MACD(prices []domain.Decimal, fast, slow, signal int) (MACDResult, error) {
	if fast <= 0 || slow <= 0 || signal <= 0 {
		return MACDResult{}, invalidPeriod("MACD", fast)
	}
	if fast >= slow {
		return MACDResult{}, domain.NewCoreError("MACD", domain.ErrInvalidArgument,
			fmt.Errorf("fast period %d must be < slow period %d", fast, slow))
	}
	emaFast, err := EMA(prices, fast)
	if err != nil {
		return MACDResult{}, err
	}
	emaSlow, err := EMA(prices, slow)
	if err != nil {
		return MACDResult{}, err
	}
	// Align: emaFast is longer by (slow-fast) entries since it starts earlier.
	offset := slow - fast
	macdLine := make([]domain.Decimal, len(emaSlow))
	for i := range macdLine {
		macdLine[i] = emaFast[i+offset].Sub(emaSlow[i])
	}
	signalLine, err := EMA(macdLine, signal)
	if err != nil {
		return MACDResult{}, err
	}
	sigOffset := len(macdLine) - len(signalLine)
	histogram := make([]domain.Decimal, len(signalLine))
	for i := range histogram {
		histogram[i] = macdLine[i+sigOffset].Sub(signalLine[i])
	}
	return MACDResult{MACD: macdLine[sigOffset:], Signal: signalLine, Histogram: histogram}, nil
}

// BollingerBands holds the upper/middle/lower band vectors.
type BollingerBands struct {
	Upper  []domain.Decimal
	Middle []domain.Decimal
	Lower  []domain.Decimal
}

// BOLL computes Bollinger Bands: middle = SMA(period), upper/lower = middle
// +/- stdDevMultiplier * population standard deviation over the same
// window.
func BOLL(prices []domain.Decimal, period int, stdDevMultiplier float64) (BollingerBands, error) {
	if period <= 0 {
		return BollingerBands{}, invalidPeriod("BOLL", period)
	}
	if len(prices) < period {
		return BollingerBands{}, insufficientData("BOLL", len(prices), period)
	}
	middle, err := SMA(prices, period)
	if err != nil {
		return BollingerBands{}, err
	}
	mult := decimal.NewFromFloat(stdDevMultiplier)
	upper := make([]domain.Decimal, len(middle))
	lower := make([]domain.Decimal, len(middle))
	nDec := decimal.NewFromInt(int64(period))
	for i := range middle {
		window := prices[i : i+period]
		mean := middle[i].Raw()
		var sumSq decimal.Decimal
		for _, p := range window {
			diff := p.Raw().Sub(mean)
			sumSq = sumSq.Add(diff.Mul(diff))
		}
		variance := sumSq.Div(nDec)
		std := sqrtDecimal(variance)
		band := std.Mul(mult)
		upper[i] = domain.NewPrice(mean.Add(band))
		lower[i] = domain.NewPrice(mean.Sub(band))
	}
	return BollingerBands{Upper: upper, Middle: middle, Lower: lower}, nil
}

// ATR computes Wilder's Average True Range over n periods of KLine data.
// Returns length L-n (the first true-range has no prior close, so the
// series starts at index 1; Wilder smoothing then needs n seed values).
func ATR(klines []domain.KLine, n int) ([]domain.Decimal, error) {
	if n <= 0 {
		return nil, invalidPeriod("ATR", n)
	}
	if len(klines) < n+1 {
		return nil, insufficientData("ATR", len(klines), n+1)
	}
	trueRanges := make([]decimal.Decimal, len(klines)-1)
	for i := 1; i < len(klines); i++ {
		high, low, prevClose := klines[i].High.Raw(), klines[i].Low.Raw(), klines[i-1].Close.Raw()
		hl := high.Sub(low)
		hc := high.Sub(prevClose).Abs()
		lc := low.Sub(prevClose).Abs()
		tr := hl
		if hc.GreaterThan(tr) {
			tr = hc
		}
		if lc.GreaterThan(tr) {
			tr = lc
		}
		trueRanges[i-1] = tr
	}

	nDec := decimal.NewFromInt(int64(n))
	atr := sumRange(trueRanges, 0, n).Div(nDec)
	out := make([]domain.Decimal, len(trueRanges)-n+1)
	out[0] = domain.NewPrice(atr)
	for i := n; i < len(trueRanges); i++ {
		atr = atr.Mul(nDec.Sub(decimal.NewFromInt(1))).Add(trueRanges[i]).Div(nDec)
		out[i-n+1] = domain.NewPrice(atr)
	}
	return out, nil
}

// sqrtDecimal computes a square root via Newton's method to decimal
// precision; shopspring/decimal has no native Sqrt.
func sqrtDecimal(d decimal.Decimal) decimal.Decimal {
	if d.IsZero() || d.IsNegative() {
		return decimal.Zero
	}
	f, _ := d.Float64()
	guess := decimal.NewFromFloat(sqrtFloat(f))
	two := decimal.NewFromInt(2)
	for i := 0; i < 8; i++ {
		guess = guess.Add(d.Div(guess)).Div(two)
	}
	return guess
}

func sqrtFloat(f float64) float64 {
	if f <= 0 {
		return 0
	}
	x := f
	for i := 0; i < 20; i++ {
		x = (x + f/x) / 2
	}
	return x
}
