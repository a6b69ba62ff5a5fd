package domain

import (
	"fmt"
	"time"
)

// KLine is an immutable OHLCV candle. Invariants: low <= min(open,close) <=
// max(open,close) <= high, and closeTime - openTime == interval length.
type KLine struct {
	Symbol      Symbol
	Interval    Interval
	OpenTime    time.Time
	CloseTime   time.Time
	Open        Decimal
	High        Decimal
	Low         Decimal
	Close       Decimal
	Volume      Decimal
	QuoteVolume Decimal
	Trades      int64
}

// Validate checks the OHLC and timing invariants spec'd for every KLine.
// Callers that build candles from exchange wire data must call this before
// admitting a candle into the MarketDataManager's ring buffer.
func (k KLine) Validate() error {
	lowBound := Min(k.Open, k.Close)
	highBound := Max(k.Open, k.Close)
	if k.Low.GreaterThan(lowBound) {
		return NewCoreError("KLine.Validate", ErrInvariantViolation,
			fmt.Errorf("low %s > min(open,close) %s", k.Low, lowBound))
	}
	if highBound.GreaterThan(k.High) {
		return NewCoreError("KLine.Validate", ErrInvariantViolation,
			fmt.Errorf("max(open,close) %s > high %s", highBound, k.High))
	}
	if !k.Interval.Valid() {
		return NewCoreError("KLine.Validate", ErrInvariantViolation,
			fmt.Errorf("unrecognized interval %q", k.Interval))
	}
	wantDur := time.Duration(k.Interval.Minutes()) * time.Minute
	if gotDur := k.CloseTime.Sub(k.OpenTime); gotDur != wantDur {
		return NewCoreError("KLine.Validate", ErrInvariantViolation,
			fmt.Errorf("closeTime-openTime %s != interval %s", gotDur, wantDur))
	}
	return nil
}

// CrossesBelow reports whether this candle's low touches or breaches a
// threshold (used by the trailing-stop check for LONG positions; inclusive
// of equality per the "Candle with low == stopLoss triggers stop exactly"
// boundary behavior).
func (k KLine) CrossesBelow(threshold Decimal) bool {
	return k.Low.LessThanOrEqual(threshold)
}

// CrossesAbove is the SHORT-side mirror of CrossesBelow.
func (k KLine) CrossesAbove(threshold Decimal) bool {
	return k.High.GreaterThanOrEqual(threshold)
}
