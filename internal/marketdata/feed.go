package marketdata

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"perpengine/internal/domain"
)

// Listener receives closed-candle events. Implementations must return
// quickly; Feed does not buffer per-listener.
type Listener func(k domain.KLine)

// Feed maintains bounded candle buffers for a set of (symbol, interval)
// streams sourced from a domain.Exchange, re-subscribing with exponential
// backoff on disconnect and repairing buffer gaps via REST afterward.
type Feed struct {
	exchange domain.Exchange

	mu        sync.RWMutex
	buffers   map[key]*Buffer
	listeners map[key][]Listener

	bufferSize int
}

// NewFeed creates a Feed backed by the given exchange. bufferSize is the
// per-stream candle history length (0 selects the default of 500).
func NewFeed(exchange domain.Exchange, bufferSize int) *Feed {
	return &Feed{
		exchange:   exchange,
		buffers:    make(map[key]*Buffer),
		listeners:  make(map[key][]Listener),
		bufferSize: bufferSize,
	}
}

// Subscribe registers a listener for a (symbol, interval) stream and, on
// first subscription for that key, starts the background reconnect loop.
// Only the CancelFunc returned to that first subscriber stops the stream;
// those returned to later subscribers stop nothing, and listeners are never
// removed.
func (f *Feed) Subscribe(ctx context.Context, symbol domain.Symbol, interval domain.Interval, listener Listener) context.CancelFunc {
	k := key{symbol: symbol.String(), interval: interval}

	f.mu.Lock()
	first := f.buffers[k] == nil
	if first {
		f.buffers[k] = newBuffer(f.bufferSize)
	}
	f.listeners[k] = append(f.listeners[k], listener)
	f.mu.Unlock()

	streamCtx, cancel := context.WithCancel(ctx)
	if first {
		go f.run(streamCtx, symbol, interval, k)
	}
	return cancel
}

// Buffer returns the candle ring for a (symbol, interval) pair, or nil if
// nothing has subscribed to it yet.
func (f *Feed) Buffer(symbol domain.Symbol, interval domain.Interval) *Buffer {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.buffers[key{symbol: symbol.String(), interval: interval}]
}

// run is the reconnect-with-backoff loop: subscribe, drain candles into the
// buffer and out to listeners, and on stream failure back off exponentially
// before resubscribing.
func (f *Feed) run(ctx context.Context, symbol domain.Symbol, interval domain.Interval, k key) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ch, err := f.exchange.SubscribeKLine(ctx, symbol, interval)
		if err != nil {
			log.Warn().Err(err).Str("symbol", symbol.String()).Str("interval", string(interval)).
				Dur("backoff", backoff).Msg("kline subscribe failed, retrying")
			if !sleepOrDone(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, maxBackoff)
			continue
		}

		disconnected := f.drain(ctx, ch, k)
		if ctx.Err() != nil {
			return
		}
		if disconnected {
			log.Warn().Str("symbol", symbol.String()).Str("interval", string(interval)).
				Dur("backoff", backoff).Msg("kline stream dropped, reconnecting")
			f.repairGap(ctx, symbol, interval, k)
			if !sleepOrDone(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, maxBackoff)
			continue
		}
		backoff = time.Second
	}
}

// drain consumes candles from ch until it closes (returns true, meaning the
// caller should reconnect) or ctx is cancelled (returns false).
func (f *Feed) drain(ctx context.Context, ch <-chan domain.KLine, k key) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case candle, ok := <-ch:
			if !ok {
				return true
			}
			f.mu.RLock()
			buf := f.buffers[k]
			fns := append([]Listener(nil), f.listeners[k]...)
			f.mu.RUnlock()

			if buf == nil || !buf.Push(candle) {
				continue
			}
			for _, fn := range fns {
				fn(candle)
			}
		}
	}
}

// repairGap fetches the most recent candles via REST after a reconnect and
// replays any the buffer is missing, so a dropped connection never leaves a
// silent hole in the history a strategy reads from.
func (f *Feed) repairGap(ctx context.Context, symbol domain.Symbol, interval domain.Interval, k key) {
	f.mu.RLock()
	buf := f.buffers[k]
	f.mu.RUnlock()
	if buf == nil {
		return
	}

	last, haveLast := buf.Last()

	fetched, err := f.exchange.GetKLines(ctx, symbol, interval, buf.size, nil)
	if err != nil {
		log.Warn().Err(err).Str("symbol", symbol.String()).Msg("gap-repair REST fetch failed")
		return
	}
	for _, candle := range fetched {
		if haveLast && !candle.OpenTime.After(last.OpenTime) {
			continue
		}
		buf.Push(candle)
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	cur *= 2
	if cur > max {
		return max
	}
	return cur
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
