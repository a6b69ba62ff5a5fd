package execution

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"perpengine/internal/domain"
)

// submitWithRetry submits order via the exchange, retrying transient
// ExchangeErrors with exponential backoff up to cfg.OrderSubmitMaxRetries.
// The clientOrderId is fixed for the whole retry loop, so a retried submit
// after a timed-out-but-actually-accepted first attempt never double-fills.
func (e *Engine) submitWithRetry(ctx context.Context, order domain.Order) (string, error) {
	backoff := e.cfg.OrderSubmitBaseBackoff
	if backoff <= 0 {
		backoff = time.Second
	}
	maxBackoff := e.cfg.OrderSubmitMaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}
	maxRetries := e.cfg.OrderSubmitMaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		exchangeOrderId, err := e.exchange.PlaceOrder(ctx, order)
		if err == nil {
			return exchangeOrderId, nil
		}
		lastErr = err

		var exErr *domain.ExchangeError
		if !errors.As(err, &exErr) || !exErr.IsTransient() {
			return "", err
		}

		if mx := e.metricsOrNop(); mx != nil {
			mx.OrderRetries().Inc()
		}
		log.Warn().Err(err).Str("client_order_id", order.ClientOrderId).Int("attempt", attempt).
			Msg("order placement failed, retrying")

		if attempt == maxRetries {
			break
		}
		if !sleepOrDone(ctx, backoff) {
			return "", ctx.Err()
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return "", lastErr
}

// pollUntilTerminal polls GetOrder until the order reaches a terminal
// status or cfg.OrderPollTimeout elapses.
func (e *Engine) pollUntilTerminal(ctx context.Context, order domain.Order) (domain.Order, error) {
	interval := e.cfg.OrderPollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	timeout := e.cfg.OrderPollTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	deadline := time.Now().Add(timeout)
	current := order
	for {
		latest, err := e.exchange.GetOrder(ctx, current.ExchangeOrderId, current.Symbol)
		if err == nil {
			current = latest
			if current.Status.IsTerminal() {
				return current, nil
			}
		} else {
			log.Warn().Err(err).Str("exchange_order_id", current.ExchangeOrderId).Msg("order status poll failed")
		}

		if time.Now().After(deadline) {
			return current, errPollTimeout
		}
		if !sleepOrDone(ctx, interval) {
			return current, ctx.Err()
		}
	}
}

var errPollTimeout = errors.New("order status poll timed out before reaching a terminal state")

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (e *Engine) submitEntry(ctx context.Context, signal domain.Signal, order domain.Order) {
	exchangeOrderId, err := e.submitWithRetry(ctx, order)
	if err != nil {
		order.Status = domain.OrderFailed
		log.Error().Err(err).Str("symbol", signal.Symbol.String()).Msg("entry order submission failed after retries")
		e.persistOrder(order)
		if e.notifier != nil {
			e.notifier.NotifyNetworkIssue(ctx, "order_submit", "entry order submission failed after retries", err)
		}
		return
	}
	order.ExchangeOrderId = exchangeOrderId
	order.Status = domain.OrderSubmitted
	if mx := e.metricsOrNop(); mx != nil {
		mx.OrdersSubmitted().Inc()
	}

	final, err := e.pollUntilTerminal(ctx, order)
	if err != nil {
		if mx := e.metricsOrNop(); mx != nil {
			mx.OrderTimeouts().Inc()
		}
		log.Warn().Str("exchange_order_id", order.ExchangeOrderId).Msg("entry order poll timed out before a terminal status")
		return
	}
	e.persistOrder(final)

	switch final.Status {
	case domain.OrderRejected, domain.OrderFailed, domain.OrderCanceled:
		if mx := e.metricsOrNop(); mx != nil {
			mx.OrdersRejected().Inc()
		}
		log.Info().Str("status", string(final.Status)).Str("symbol", signal.Symbol.String()).Msg("entry order did not fill")
		return
	case domain.OrderFilled:
		e.onEntryFilled(ctx, signal, final)
	}
}

// onEntryFilled derives the protective stop from the actual fill price
// (preserving the signal's original stop distance), places it at the
// exchange, starts tracking the position, and notifies the owning strategy
// and any trade-fill webhook subscriber.
func (e *Engine) onEntryFilled(ctx context.Context, signal domain.Signal, final domain.Order) {
	if !final.FilledQuantity.IsPositive() || !final.AvgFillPrice.IsPositive() {
		return
	}

	stopDistance := signal.SuggestedPrice.Sub(signal.StopLoss).Abs()
	var newStop domain.Decimal
	if signal.Side == domain.SideBuy {
		newStop = final.AvgFillPrice.Sub(stopDistance)
	} else {
		newStop = final.AvgFillPrice.Add(stopDistance)
	}

	position := domain.Position{
		Symbol: signal.Symbol, Side: signal.SignalType.PositionSide(),
		EntryPrice: final.AvgFillPrice, Quantity: final.FilledQuantity,
		StopLoss: newStop, OpenTime: time.Now(), Leverage: e.cfg.Leverage,
	}
	e.setTracked(signal.Symbol, signal.StrategyId, position, final.Fee)
	e.syncProtectiveStop(ctx, signal.Symbol, position)

	if mx := e.metricsOrNop(); mx != nil {
		mx.OrdersFilled().Inc()
	}
	if err := e.RefreshAccount(ctx); err != nil {
		log.Warn().Err(err).Msg("account refresh after fill failed")
	}

	if cb, ok := e.strategyFor(signal.StrategyId); ok {
		cb.OnPositionOpened(position)
	}
	if e.notifier != nil {
		e.notifier.NotifyTradeFill(ctx, fillEvent(signal.StrategyId, final, signal.Side, nil))
	}
}
