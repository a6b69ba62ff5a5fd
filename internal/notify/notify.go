// Package notify delivers two webhook events — exchange-unavailable and
// trade-fill — as best-effort JSON POSTs. A failed
// delivery is logged and dropped; notification is never on the critical
// path of order submission. Uses a resty client, like the reference
// exchange adapter's REST calls, but with its own tuning: a 3-second timeout
// and no retries.
package notify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// Config holds the webhook URLs and toggles for each notification channel.
type Config struct {
	NetworkEnabled       bool
	NetworkWebhookURL    string
	NetworkCooldown      time.Duration
	TradeFillEnabled     bool
	TradeFillWebhookURL  string
}

// NetworkIssueEvent is the exchange-unavailable webhook payload.
type NetworkIssueEvent struct {
	Event     string    `json:"event"`
	Exchange  string    `json:"exchange"`
	Scene     string    `json:"scene"`
	Message   string    `json:"message"`
	Exception string    `json:"exception,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// TradeFillEvent is the trade-fill webhook payload.
type TradeFillEvent struct {
	Event          string    `json:"event"`
	Exchange       string    `json:"exchange"`
	FillEventId    string    `json:"fillEventId"`
	StrategyId     string    `json:"strategyId"`
	Symbol         string    `json:"symbol"`
	Side           string    `json:"side"`
	AvgFillPrice   string    `json:"avgFillPrice"`
	FilledQuantity string    `json:"filledQuantity"`
	Pnl            *string   `json:"pnl,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

const dedupTTL = 24 * time.Hour

// Notifier sends webhook events, honoring the network-alert cooldown window
// and the trade-fill fillEventId dedup cache.
type Notifier struct {
	cfg        Config
	client     *resty.Client
	exchange   string

	mu           sync.Mutex
	lastNetwork  time.Time
	seenFills    map[string]time.Time
}

func New(cfg Config, exchangeName string) *Notifier {
	client := resty.New().
		SetTimeout(3 * time.Second).
		SetRetryCount(0)
	return &Notifier{
		cfg:       cfg,
		client:    client,
		exchange:  exchangeName,
		seenFills: make(map[string]time.Time),
	}
}

// NotifyNetworkIssue sends an exchange-unavailable event, subject to the
// configured cooldown window — no more than one send per cooldown period.
func (n *Notifier) NotifyNetworkIssue(ctx context.Context, scene, message string, cause error) {
	if !n.cfg.NetworkEnabled || n.cfg.NetworkWebhookURL == "" {
		return
	}

	n.mu.Lock()
	since := time.Since(n.lastNetwork)
	if !n.lastNetwork.IsZero() && since < n.cfg.NetworkCooldown {
		n.mu.Unlock()
		return
	}
	n.lastNetwork = time.Now()
	n.mu.Unlock()

	event := NetworkIssueEvent{
		Event: "exchange_unavailable", Exchange: n.exchange,
		Scene: scene, Message: message, Timestamp: time.Now(),
	}
	if cause != nil {
		event.Exception = cause.Error()
	}
	n.post(ctx, n.cfg.NetworkWebhookURL, event)
}

// NotifyTradeFill sends a trade-fill event, deduplicated by fillEventId over
// a 24-hour TTL window so a retried notification attempt never double-fires
// a downstream alert for the same fill.
func (n *Notifier) NotifyTradeFill(ctx context.Context, event TradeFillEvent) {
	if !n.cfg.TradeFillEnabled || n.cfg.TradeFillWebhookURL == "" {
		return
	}

	n.mu.Lock()
	n.evictExpiredFills()
	if _, seen := n.seenFills[event.FillEventId]; seen {
		n.mu.Unlock()
		return
	}
	n.seenFills[event.FillEventId] = time.Now()
	n.mu.Unlock()

	event.Event = "trade_fill"
	event.Exchange = n.exchange
	event.Timestamp = time.Now()
	n.post(ctx, n.cfg.TradeFillWebhookURL, event)
}

func (n *Notifier) evictExpiredFills() {
	cutoff := time.Now().Add(-dedupTTL)
	for id, seenAt := range n.seenFills {
		if seenAt.Before(cutoff) {
			delete(n.seenFills, id)
		}
	}
}

func (n *Notifier) post(ctx context.Context, url string, payload interface{}) {
	resp, err := n.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(url)
	if err != nil {
		log.Warn().Err(err).Str("url", url).Msg("webhook delivery failed")
		return
	}
	if resp.IsError() {
		log.Warn().Int("status", resp.StatusCode()).Str("url", url).Msg("webhook endpoint rejected event")
	}
}

// FillEventId derives a stable, low-collision identifier for a fill from the
// order's exchange id and fill time, so the same fill reported twice (e.g.
// once from a poll, once from reconciliation) dedups to the same key.
func FillEventId(exchangeOrderId string, fillTime time.Time) string {
	h := sha256.Sum256([]byte(exchangeOrderId + "|" + fillTime.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(h[:])[:32]
}
