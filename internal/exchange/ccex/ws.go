package ccex

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"perpengine/internal/domain"
)

const (
	subscriberBufferSize = 256
	pongWaitTimeout      = 60 * time.Second
	pingInterval         = 20 * time.Second
)

// subscription is one live K-line or ticker feed a caller is waiting on.
type subscription struct {
	kind     string // "kline" or "ticker"
	symbol   domain.Symbol
	interval domain.Interval // empty for ticker subs

	klineCh  chan domain.KLine
	tickerCh chan domain.Ticker
}

func subKey(kind, pair string, interval domain.Interval) string {
	return kind + "|" + pair + "|" + string(interval)
}

// wsConn is the single multiplexed WebSocket connection backing every
// SubscribeKLine/SubscribeTicker call: a dial-read-reconnect-with-backoff
// loop with ping/pong health tracking, fanning kline/ticker pushes out to a
// long-lived subscription registry callers attach to and detach from over
// the adapter's lifetime.
type wsConn struct {
	url string
	c   *Client

	mu     sync.Mutex
	subs   map[string]*subscription
	cancel context.CancelFunc
	done   chan struct{}

	isConnected  int32
	reconnects   int32
	lastPongUnix int64
}

func newWSConn(c *Client) *wsConn {
	ctx, cancel := context.WithCancel(context.Background())
	conn := &wsConn{url: c.wsURL, c: c, subs: make(map[string]*subscription), cancel: cancel, done: make(chan struct{})}
	go conn.run(ctx)
	return conn
}

func (w *wsConn) stop() {
	w.cancel()
	<-w.done
}

func (w *wsConn) alive() bool { return atomic.LoadInt32(&w.isConnected) == 1 }

// register adds sub to the live set and, if connected, sends its subscribe
// frame immediately; otherwise it rides along on the next (re)connect.
func (w *wsConn) register(key string, sub *subscription, conn *websocket.Conn) {
	w.mu.Lock()
	w.subs[key] = sub
	w.mu.Unlock()
	if conn != nil {
		_ = conn.WriteJSON(subscribeFrame(sub))
	}
}

func (w *wsConn) unregisterSymbol(symbol domain.Symbol) {
	pair := symbol.PairString()
	w.mu.Lock()
	defer w.mu.Unlock()
	for key, sub := range w.subs {
		if sub.symbol.PairString() != pair {
			continue
		}
		if sub.klineCh != nil {
			close(sub.klineCh)
		}
		if sub.tickerCh != nil {
			close(sub.tickerCh)
		}
		delete(w.subs, key)
	}
}

func subscribeFrame(sub *subscription) map[string]any {
	ch := "ticker"
	if sub.kind == "kline" {
		ch = "kline_" + string(sub.interval)
	}
	return map[string]any{"op": "subscribe", "args": []map[string]string{
		{"symbol": sub.symbol.PairString(), "ch": ch},
	}}
}

func (w *wsConn) run(ctx context.Context) {
	defer close(w.done)
	backoff := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			atomic.StoreInt32(&w.isConnected, 0)
			return
		default:
		}

		if err := w.runOnce(ctx); err != nil {
			atomic.StoreInt32(&w.isConnected, 0)
			log.Warn().Err(err).Dur("backoff", backoff).Msg("ccex websocket disconnected, reconnecting")
			if w.c.mx != nil {
				w.c.mx.WSReconnects().Inc()
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			atomic.AddInt32(&w.reconnects, 1)
			continue
		}
		backoff = time.Second
	}
}

func (w *wsConn) runOnce(ctx context.Context) error {
	url := strings.TrimRight(w.url, "/")
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	conn.SetReadLimit(512 * 1024)
	conn.SetReadDeadline(time.Now().Add(pongWaitTimeout))
	conn.SetPongHandler(func(string) error {
		atomic.StoreInt64(&w.lastPongUnix, time.Now().Unix())
		conn.SetReadDeadline(time.Now().Add(pongWaitTimeout))
		return nil
	})

	w.mu.Lock()
	frames := make([]map[string]any, 0, len(w.subs))
	for _, sub := range w.subs {
		frames = append(frames, subscribeFrame(sub))
	}
	w.mu.Unlock()
	for _, f := range frames {
		if err := conn.WriteJSON(f); err != nil {
			return fmt.Errorf("resubscribe: %w", err)
		}
	}

	atomic.StoreInt32(&w.isConnected, 1)

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	msgErr := make(chan error, 1)
	go func() {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				msgErr <- err
				return
			}
			w.dispatch(msg)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-msgErr:
			return err
		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

type wsPush struct {
	Channel string          `json:"ch"`
	Symbol  string          `json:"symbol"`
	Data    json.RawMessage `json:"data"`
}

type klinePush struct {
	OpenTime  int64  `json:"openTime"`
	CloseTime int64  `json:"closeTime"`
	Open      string `json:"open"`
	High      string `json:"high"`
	Low       string `json:"low"`
	Close     string `json:"close"`
	Volume    string `json:"volume"`
}

type tickerPush struct {
	Bid  string `json:"bid"`
	Ask  string `json:"ask"`
	Last string `json:"last"`
	Ts   int64  `json:"ts"`
}

func (w *wsConn) dispatch(raw []byte) {
	var push wsPush
	if err := json.Unmarshal(raw, &push); err != nil {
		log.Debug().Err(err).Msg("ccex ws: malformed push")
		return
	}
	if push.Channel == "" || push.Symbol == "" {
		return // subscribe ack or heartbeat, nothing to route
	}

	symbol, err := domain.ParseSymbol(push.Symbol)
	if err != nil {
		log.Debug().Str("symbol", push.Symbol).Msg("ccex ws: unparseable symbol in push")
		return
	}

	if push.Channel == "ticker" {
		var t tickerPush
		if err := json.Unmarshal(push.Data, &t); err != nil {
			return
		}
		w.mu.Lock()
		sub, ok := w.subs[subKey("ticker", symbol.PairString(), "")]
		w.mu.Unlock()
		if !ok {
			return
		}
		ticker := domain.Ticker{Symbol: symbol, Bid: parseDecimal(t.Bid), Ask: parseDecimal(t.Ask),
			Last: parseDecimal(t.Last), Timestamp: time.UnixMilli(t.Ts)}
		select {
		case sub.tickerCh <- ticker:
		default:
			log.Warn().Str("symbol", push.Symbol).Msg("ccex ws: ticker subscriber channel full, dropping update")
		}
		return
	}

	if strings.HasPrefix(push.Channel, "kline_") {
		interval := domain.Interval(strings.TrimPrefix(push.Channel, "kline_"))
		var k klinePush
		if err := json.Unmarshal(push.Data, &k); err != nil {
			return
		}
		w.mu.Lock()
		sub, ok := w.subs[subKey("kline", symbol.PairString(), interval)]
		w.mu.Unlock()
		if !ok {
			return
		}
		kline := domain.KLine{
			Symbol: symbol, Interval: interval,
			OpenTime: time.UnixMilli(k.OpenTime), CloseTime: time.UnixMilli(k.CloseTime),
			Open: parseDecimal(k.Open), High: parseDecimal(k.High), Low: parseDecimal(k.Low),
			Close: parseDecimal(k.Close), Volume: parseQuantity(k.Volume),
		}
		select {
		case sub.klineCh <- kline:
		default:
			log.Warn().Str("symbol", push.Symbol).Msg("ccex ws: kline subscriber channel full, dropping update")
		}
	}
}

// SubscribeKLine starts (or reuses) the multiplexed WS connection and
// returns a channel of closed candles for symbol+interval.
func (c *Client) SubscribeKLine(ctx context.Context, symbol domain.Symbol, interval domain.Interval) (<-chan domain.KLine, error) {
	conn := c.ensureConn()
	ch := make(chan domain.KLine, subscriberBufferSize)
	sub := &subscription{kind: "kline", symbol: symbol, interval: interval, klineCh: ch}
	key := subKey("kline", symbol.PairString(), interval)

	var wsc *websocket.Conn // best-effort immediate subscribe; nil is fine, run() resubscribes on (re)connect
	conn.register(key, sub, wsc)
	return ch, nil
}

// SubscribeTicker starts (or reuses) the multiplexed WS connection and
// returns a channel of best-bid/ask/last updates for symbol.
func (c *Client) SubscribeTicker(ctx context.Context, symbol domain.Symbol) (<-chan domain.Ticker, error) {
	conn := c.ensureConn()
	ch := make(chan domain.Ticker, subscriberBufferSize)
	sub := &subscription{kind: "ticker", symbol: symbol, tickerCh: ch}
	key := subKey("ticker", symbol.PairString(), "")
	conn.register(key, sub, nil)
	return ch, nil
}

// Unsubscribe tears down every kline/ticker subscription held for symbol.
func (c *Client) Unsubscribe(symbol domain.Symbol) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	conn.unregisterSymbol(symbol)
	return nil
}

func (c *Client) ensureConn() *wsConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		c.conn = newWSConn(c)
	}
	return c.conn
}
