package execution

import (
	"context"

	"github.com/rs/zerolog/log"

	"perpengine/internal/domain"
)

func (e *Engine) submitExit(ctx context.Context, signal domain.Signal, tracked *domain.Position, order domain.Order) {
	exchangeOrderId, err := e.submitWithRetry(ctx, order)
	if err != nil {
		log.Error().Err(err).Str("symbol", signal.Symbol.String()).Msg("exit order submission failed after retries")
		if e.notifier != nil {
			e.notifier.NotifyNetworkIssue(ctx, "order_submit", "exit order submission failed after retries", err)
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
		log.Warn().Str("exchange_order_id", order.ExchangeOrderId).Msg("exit order poll timed out before a terminal status")
		return
	}
	e.persistOrder(final)
	if final.Status != domain.OrderFilled {
		if mx := e.metricsOrNop(); mx != nil {
			mx.OrdersRejected().Inc()
		}
		log.Info().Str("status", string(final.Status)).Str("symbol", signal.Symbol.String()).Msg("exit order did not fill")
		return
	}

	reason := "STRATEGY_EXIT"
	if signal.Reason != "" {
		reason = signal.Reason
	}
	e.closePosition(ctx, signal.StrategyId, *tracked, final, reason)
}

// closePosition finalizes a closed position: computes the ClosedTrade,
// clears tracked state, cancels any lingering protective stop, and fans the
// close out to risk, health, the owning strategy, and the notifier.
func (e *Engine) closePosition(ctx context.Context, strategyId string, tracked domain.Position, final domain.Order, reason string) {
	exitPrice := final.AvgFillPrice
	qty := final.FilledQuantity
	if qty.IsZero() {
		qty = tracked.Quantity
	}
	if !exitPrice.IsPositive() {
		exitPrice = final.Price
	}

	entryFee := domain.Zero
	if te, ok := e.trackedEntryFor(tracked.Symbol); ok {
		entryFee = te.entryFee
	}
	fee := entryFee.Add(final.Fee)

	trade := domain.NewClosedTrade(
		final.ExchangeOrderId, tracked.Symbol, tracked.Side,
		tracked.EntryPrice, exitPrice, qty, fee,
		tracked.OpenTime, final.FillTime, strategyId, reason,
	)

	e.clearTracked(tracked.Symbol)
	if err := e.cancelProtectiveStop(ctx, tracked.Symbol); err != nil {
		log.Warn().Err(err).Str("symbol", tracked.Symbol.String()).Msg("failed to cancel protective stop on close")
	}

	e.risk.RecordTradeResult(trade)
	if e.health != nil {
		e.health.RecordTrade(strategyId, trade)
	}
	if cb, ok := e.strategyFor(strategyId); ok {
		cb.OnPositionClosed(trade, reason)
	}
	if mx := e.metricsOrNop(); mx != nil {
		mx.RealizedPnL().Add(trade.NetPnl.Float64())
	}
	if e.notifier != nil {
		pnl := trade.NetPnl
		e.notifier.NotifyTradeFill(ctx, fillEvent(strategyId, final, final.Side, &pnl))
	}
}
