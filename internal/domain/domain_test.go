package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestDecimalScaling(t *testing.T) {
	price := NewPrice(decimal.NewFromFloat(1.123456789))
	if price.String() != "1.12345679" {
		t.Errorf("price HALF_UP scale 8: got %s", price.String())
	}

	qty := NewQuantity(decimal.NewFromFloat(1.9999))
	if qty.String() != "1.999" {
		t.Errorf("quantity DOWN scale 3: got %s", qty.String())
	}

	pct := NewPercent(decimal.NewFromFloat(12.345))
	if pct.String() != "12.35" && pct.String() != "12.34" {
		// banker's/half-up boundary; assert it's at least scale 2
		t.Errorf("percent scale 2: got %s", pct.String())
	}
}

func TestMin3(t *testing.T) {
	a := FromFloatQuantity(3)
	b := FromFloatQuantity(1)
	c := FromFloatQuantity(2)
	if got := Min3(a, b, c); !got.Equal(b) {
		t.Errorf("Min3 = %s, want %s", got, b)
	}
}

func TestParseSymbol(t *testing.T) {
	cases := []struct {
		in        string
		wantBase  string
		wantQuote string
		wantErr   bool
	}{
		{"BTC-USDT", "BTC", "USDT", false},
		{"eth_usdt", "ETH", "USDT", false},
		{"BTCUSDT", "BTC", "USDT", false},
		{"SOLUSDC", "SOL", "USDC", false},
		{"GARBAGE", "", "", true},
		{"", "", "", true},
	}
	for _, c := range cases {
		sym, err := ParseSymbol(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("ParseSymbol(%q): expected error, got %v", c.in, sym)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseSymbol(%q): unexpected error: %v", c.in, err)
		}
		if sym.Base != c.wantBase || sym.Quote != c.wantQuote {
			t.Errorf("ParseSymbol(%q) = %+v, want base=%s quote=%s", c.in, sym, c.wantBase, c.wantQuote)
		}
	}
}

func TestSymbolCanonicalForm(t *testing.T) {
	sym := NewSymbol("btc", "usdt")
	if sym.String() != "BTC-USDT" {
		t.Errorf("String() = %s, want BTC-USDT", sym.String())
	}
	if sym.PairString() != "BTCUSDT" {
		t.Errorf("PairString() = %s, want BTCUSDT", sym.PairString())
	}
}

func TestIntervalCanBuildFrom(t *testing.T) {
	if !Interval5m.CanBuildFrom(Interval1m) {
		t.Error("5m should be buildable from 1m")
	}
	if Interval1m.CanBuildFrom(Interval5m) {
		t.Error("1m should not be buildable from 5m")
	}
	if Interval15m.CanBuildFrom(Interval1h) {
		t.Error("15m should not be buildable from 1h (1h does not divide into 15m)")
	}
}

func TestKLineValidate(t *testing.T) {
	open := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	good := KLine{
		Symbol: NewSymbol("BTC", "USDT"), Interval: Interval1m,
		OpenTime: open, CloseTime: open.Add(time.Minute),
		Open: FromFloatPrice(100), High: FromFloatPrice(105),
		Low: FromFloatPrice(99), Close: FromFloatPrice(102),
		Volume: FromFloatQuantity(10),
	}
	if err := good.Validate(); err != nil {
		t.Errorf("expected valid kline, got %v", err)
	}

	bad := good
	bad.Low = FromFloatPrice(101) // low > min(open, close)
	if err := bad.Validate(); err == nil {
		t.Error("expected invariant violation for low > min(open,close)")
	}

	bad2 := good
	bad2.CloseTime = open.Add(2 * time.Minute)
	if err := bad2.Validate(); err == nil {
		t.Error("expected invariant violation for closeTime-openTime mismatch")
	}
}

func TestPositionReduce(t *testing.T) {
	pos := Position{Quantity: FromFloatQuantity(1)}
	reduced, closed, err := pos.Reduce(FromFloatQuantity(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !closed || !reduced.IsClosed() {
		t.Error("exact reduction should close the position")
	}

	_, _, err = pos.Reduce(FromFloatQuantity(2))
	if err == nil {
		t.Error("reducing by more than quantity should raise InvalidArgument")
	}
}

func TestClosedTradeNetPnl(t *testing.T) {
	trade := NewClosedTrade("t1", NewSymbol("BTC", "USDT"), PositionLong,
		FromFloatPrice(100), FromFloatPrice(110), FromFloatQuantity(1), FromFloatPrice(1),
		time.Now(), time.Now(), "strat-1", "STRATEGY_EXIT")
	if !trade.GrossPnl.Sub(trade.Fee).Equal(trade.NetPnl) {
		t.Errorf("netPnl != grossPnl - fee: %+v", trade)
	}
	if !trade.IsWin() {
		t.Error("expected winning trade")
	}
}
