package execution

import (
	"context"

	"github.com/rs/zerolog/log"

	"perpengine/internal/domain"
)

// syncProtectiveStop cancels any existing reduce-only stop for symbol and
// places a new one at position.StopLoss, if the exchange implements the
// optional ProtectiveStopCapable capability. Otherwise it returns without
// placing anything; this package does not monitor stops locally against
// candles.
func (e *Engine) syncProtectiveStop(ctx context.Context, symbol domain.Symbol, position domain.Position) {
	capable, ok := e.exchange.(domain.ProtectiveStopCapable)
	if !ok {
		return
	}

	if err := capable.CancelReduceOnlyStopOrders(ctx, symbol); err != nil {
		log.Warn().Err(err).Str("symbol", symbol.String()).Msg("failed to cancel existing protective stop before resync")
	}

	stopSide := domain.SideSell
	if position.Side == domain.PositionShort {
		stopSide = domain.SideBuy
	}
	clientOrderId := newClientOrderId("protective_stop", symbol, stopSide, position.OpenTime)
	if _, err := capable.PlaceReduceOnlyStopMarketOrder(ctx, symbol, stopSide, position.StopLoss, position.Quantity, clientOrderId); err != nil {
		log.Warn().Err(err).Str("symbol", symbol.String()).Msg("failed to place protective stop")
		return
	}
	if mx := e.metricsOrNop(); mx != nil {
		mx.StopsResynced().Inc()
	}
}

func (e *Engine) cancelProtectiveStop(ctx context.Context, symbol domain.Symbol) error {
	capable, ok := e.exchange.(domain.ProtectiveStopCapable)
	if !ok {
		return nil
	}
	return capable.CancelReduceOnlyStopOrders(ctx, symbol)
}
