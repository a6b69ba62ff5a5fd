package marketdata

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"perpengine/internal/domain"
)

func candle(sym domain.Symbol, openTime time.Time) domain.KLine {
	return domain.KLine{
		Symbol: sym, Interval: domain.Interval1m,
		OpenTime: openTime, CloseTime: openTime.Add(time.Minute),
		Open: domain.FromFloatPrice(100), High: domain.FromFloatPrice(101),
		Low: domain.FromFloatPrice(99), Close: domain.FromFloatPrice(100.5),
		Volume: domain.FromFloatQuantity(10),
	}
}

func TestBufferPushEvictsOldest(t *testing.T) {
	b := newBuffer(3)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sym := domain.NewSymbol("BTC", "USDT")

	for i := 0; i < 5; i++ {
		if !b.Push(candle(sym, base.Add(time.Duration(i)*time.Minute))) {
			t.Fatalf("expected push %d to succeed", i)
		}
	}

	if b.Len() != 3 {
		t.Fatalf("expected buffer capped at 3, got %d", b.Len())
	}
	snap := b.Snapshot()
	if !snap[0].OpenTime.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("expected oldest retained candle to be index 2, got %v", snap[0].OpenTime)
	}
}

func TestBufferRejectsOutOfOrder(t *testing.T) {
	b := newBuffer(5)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sym := domain.NewSymbol("BTC", "USDT")

	if !b.Push(candle(sym, base.Add(time.Minute))) {
		t.Fatal("expected first push to succeed")
	}
	if b.Push(candle(sym, base)) {
		t.Error("expected earlier-OpenTime push to be rejected")
	}
	if b.Push(candle(sym, base.Add(time.Minute))) {
		t.Error("expected duplicate OpenTime push to be rejected")
	}
	if b.Len() != 1 {
		t.Errorf("expected buffer length 1, got %d", b.Len())
	}
}

// fakeExchange implements only the marketdata-relevant subset of
// domain.Exchange for the reconnect/gap-repair test.
type fakeExchange struct {
	domain.Exchange
	mu         sync.Mutex
	subCalls   int
	failFirst  bool
	klinesResp []domain.KLine
}

func (f *fakeExchange) SubscribeKLine(ctx context.Context, symbol domain.Symbol, interval domain.Interval) (<-chan domain.KLine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subCalls++
	if f.failFirst && f.subCalls == 1 {
		return nil, errors.New("dial failed")
	}
	ch := make(chan domain.KLine, 1)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ch <- candle(symbol, base)
	close(ch)
	return ch, nil
}

func (f *fakeExchange) GetKLines(ctx context.Context, symbol domain.Symbol, interval domain.Interval, limit int, endTime *time.Time) ([]domain.KLine, error) {
	return f.klinesResp, nil
}

func TestFeedSubscribeBuffersAndFansOut(t *testing.T) {
	ex := &fakeExchange{}
	feed := NewFeed(ex, 10)
	sym := domain.NewSymbol("BTC", "USDT")

	received := make(chan domain.KLine, 1)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	feed.Subscribe(ctx, sym, domain.Interval1m, func(k domain.KLine) {
		select {
		case received <- k:
		default:
		}
	})

	select {
	case <-received:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected a candle to be dispatched to the listener")
	}

	buf := feed.Buffer(sym, domain.Interval1m)
	if buf == nil {
		t.Fatal("expected a buffer to be created for the subscribed stream")
	}
	if buf.Len() == 0 {
		t.Error("expected at least one candle buffered")
	}
}
