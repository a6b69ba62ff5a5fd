package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNotifyNetworkIssue_SendsAndRespectsCooldown(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		var event NetworkIssueEvent
		require.NoError(t, json.NewDecoder(r.Body).Decode(&event))
		require.Equal(t, "exchange_unavailable", event.Event)
		require.Equal(t, "ccex", event.Exchange)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := New(Config{NetworkEnabled: true, NetworkWebhookURL: server.URL, NetworkCooldown: time.Hour}, "ccex")

	n.NotifyNetworkIssue(context.Background(), "rest", "timeout", nil)
	n.NotifyNetworkIssue(context.Background(), "rest", "timeout again", nil)

	require.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestNotifyNetworkIssue_DisabledNeverPosts(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer server.Close()

	n := New(Config{NetworkEnabled: false, NetworkWebhookURL: server.URL}, "ccex")
	n.NotifyNetworkIssue(context.Background(), "rest", "timeout", nil)

	require.Equal(t, int32(0), atomic.LoadInt32(&hits))
}

func TestNotifyTradeFill_DedupsByFillEventId(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := New(Config{TradeFillEnabled: true, TradeFillWebhookURL: server.URL}, "ccex")

	event := TradeFillEvent{FillEventId: "abc123", StrategyId: "s1", Symbol: "BTC-USDT"}
	n.NotifyTradeFill(context.Background(), event)
	n.NotifyTradeFill(context.Background(), event)

	require.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestFillEventId_StableAndDistinct(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := FillEventId("order-1", ts)
	b := FillEventId("order-1", ts)
	c := FillEventId("order-2", ts)

	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.Len(t, a, 32)
}
