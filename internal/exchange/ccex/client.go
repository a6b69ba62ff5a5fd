// Package ccex is the reference domain.Exchange adapter: a REST client for
// account/ticker/kline/order operations plus a reconnecting WebSocket feed
// for live K-line and ticker streams, using connection pooling, HMAC request
// signing, and exponential-backoff reconnects on top of the candle/ticker/
// order surface domain.Exchange requires.
package ccex

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"perpengine/internal/cfg"
	"perpengine/internal/metrics"
)

// Client implements domain.Exchange, domain.ProtectiveStopCapable, and
// domain.QuantityNormalizer against a perpetual-futures REST/WS API.
type Client struct {
	key, secret, base, wsURL string

	rest *resty.Client
	mx   *metrics.MetricsWrapper

	mu   sync.Mutex
	conn *wsConn
}

// New creates a Client with a connection-pooled, retrying HTTP transport and
// an idle WebSocket multiplexer that is lazily dialed on first Subscribe.
func New(ec cfg.ExchangeConfig, mx *metrics.MetricsWrapper) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	r := resty.New()
	r.SetTransport(transport)
	if ec.RESTTimeout > 0 {
		r.SetTimeout(ec.RESTTimeout)
	} else {
		r.SetTimeout(5 * time.Second)
	}
	r.SetRetryCount(3)
	r.SetRetryWaitTime(time.Second)
	r.SetRetryMaxWaitTime(5 * time.Second)

	return &Client{
		key:    ec.APIKey,
		secret: ec.APISecret,
		base:   ec.BaseURL,
		wsURL:  ec.WsURL,
		rest:   r,
		mx:     mx,
	}
}

// Close tears down the WebSocket multiplexer, if one was ever dialed.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.stop()
		c.conn = nil
	}
}
