package execution

import (
	"perpengine/internal/domain"
	"perpengine/internal/notify"
)

// fillEvent builds the trade-fill webhook payload for a filled order. pnl is
// nil on an entry fill (no PnL yet) and set on an exit fill. The Exchange and
// Event fields are filled in by Notifier.NotifyTradeFill.
func fillEvent(strategyId string, order domain.Order, side domain.Side, pnl *domain.Decimal) notify.TradeFillEvent {
	var pnlStr *string
	if pnl != nil {
		s := pnl.String()
		pnlStr = &s
	}
	return notify.TradeFillEvent{
		FillEventId:    notify.FillEventId(order.ExchangeOrderId, order.FillTime),
		StrategyId:     strategyId,
		Symbol:         order.Symbol.String(),
		Side:           string(side),
		AvgFillPrice:   order.AvgFillPrice.String(),
		FilledQuantity: order.FilledQuantity.String(),
		Pnl:            pnlStr,
	}
}
