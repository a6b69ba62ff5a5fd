package execution

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"perpengine/internal/domain"
	"perpengine/internal/notify"
)

// RunReconciliationLoop runs Reconcile on a timer until ctx is canceled, so
// tracked state stays in sync with the exchange even between trading
// actions.
func (e *Engine) RunReconciliationLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.Reconcile(ctx); err != nil {
				log.Warn().Err(err).Msg("reconciliation pass failed")
			}
		}
	}
}

func (e *Engine) watchedAndTrackedSymbols() []domain.Symbol {
	e.mu.Lock()
	defer e.mu.Unlock()
	seen := make(map[string]domain.Symbol, len(e.watchedSymbols)+len(e.tracked))
	for pair, sym := range e.watchedSymbols {
		seen[pair] = sym
	}
	for pair, te := range e.tracked {
		seen[pair] = te.position.Symbol
	}
	out := make([]domain.Symbol, 0, len(seen))
	for _, s := range seen {
		out = append(out, s)
	}
	return out
}

// Reconcile adopts untracked exchange positions, closes tracked-but-
// exchange-absent positions, and re-syncs protective stops that have
// drifted.
func (e *Engine) Reconcile(ctx context.Context) error {
	if mx := e.metricsOrNop(); mx != nil {
		mx.ReconciliationRuns().Inc()
	}

	for _, symbol := range e.watchedAndTrackedSymbols() {
		exchangePositions, err := e.exchange.GetOpenPositions(ctx, symbol)
		if err != nil {
			log.Warn().Err(err).Str("symbol", symbol.String()).Msg("reconciliation: failed to fetch exchange positions")
			continue
		}
		var exchangePos *domain.Position
		for i := range exchangePositions {
			if !exchangePositions[i].IsClosed() {
				exchangePos = &exchangePositions[i]
				break
			}
		}

		tracked := e.trackedFor(symbol)
		switch {
		case tracked != nil && exchangePos == nil:
			e.reconcileDeadClose(ctx, symbol, *tracked)
		case tracked == nil && exchangePos != nil:
			e.reconcileAdopt(ctx, symbol, *exchangePos)
		case tracked != nil && exchangePos != nil:
			e.reconcileStopSync(ctx, symbol, *tracked, *exchangePos)
		}
	}
	return nil
}

// reconcileAdopt handles a fill the engine missed: the exchange holds a
// position for a watched symbol we aren't tracking.
func (e *Engine) reconcileAdopt(ctx context.Context, symbol domain.Symbol, exchangePos domain.Position) {
	e.mu.Lock()
	strategyId := e.watchedStrategy[symbol.PairString()]
	e.mu.Unlock()
	if strategyId == "" {
		return
	}

	stop := exchangePos.StopLoss
	if !stop.IsPositive() {
		distancePct := e.cfg.DefaultStopDistancePercent
		distance := exchangePos.EntryPrice.Mul(distancePct)
		if exchangePos.Side == domain.PositionLong {
			stop = exchangePos.EntryPrice.Sub(distance)
		} else {
			stop = exchangePos.EntryPrice.Add(distance)
		}
	}

	adopted := exchangePos
	adopted.StopLoss = stop
	if adopted.OpenTime.IsZero() {
		adopted.OpenTime = time.Now()
	}
	// entryFee is unknown for an adopted position — it was charged on a fill
	// this process missed — so it is left at zero rather than guessed.
	e.setTracked(symbol, strategyId, adopted, domain.Zero)
	e.syncProtectiveStop(ctx, symbol, adopted)

	if mx := e.metricsOrNop(); mx != nil {
		mx.PositionsAdopted().Inc()
	}
	log.Info().Str("symbol", symbol.String()).Str("strategy", strategyId).
		Msg("reconciliation adopted an untracked exchange position")

	if cb, ok := e.strategyFor(strategyId); ok {
		cb.OnPositionOpened(adopted)
	}
}

// reconcileDeadClose handles a tracked position the exchange no longer
// holds: synthesize a ClosedTrade at the last mark and clear tracked state.
func (e *Engine) reconcileDeadClose(ctx context.Context, symbol domain.Symbol, tracked domain.Position) {
	e.mu.Lock()
	strategyId := e.watchedStrategy[symbol.PairString()]
	e.mu.Unlock()

	exitPrice := tracked.EntryPrice
	if ticker, err := e.exchange.GetTicker(ctx, symbol); err == nil {
		exitPrice = ticker.Last
	}

	entryFee := domain.Zero
	if te, ok := e.trackedEntryFor(symbol); ok {
		entryFee = te.entryFee
	}

	now := time.Now()
	trade := domain.NewClosedTrade(
		"RECONCILE:"+symbol.PairString()+":"+now.Format(time.RFC3339Nano),
		symbol, tracked.Side, tracked.EntryPrice, exitPrice, tracked.Quantity, entryFee,
		tracked.OpenTime, now, strategyId, "RECONCILE_DEAD",
	)

	e.clearTracked(symbol)
	e.risk.RecordTradeResult(trade)
	if e.health != nil {
		e.health.RecordTrade(strategyId, trade)
	}
	if cb, ok := e.strategyFor(strategyId); ok {
		cb.OnPositionClosed(trade, "RECONCILE_DEAD")
	}
	if mx := e.metricsOrNop(); mx != nil {
		mx.PositionsDeadClosed().Inc()
		mx.RealizedPnL().Add(trade.NetPnl.Float64())
	}
	log.Warn().Str("symbol", symbol.String()).Msg("reconciliation closed a tracked position the exchange no longer holds")

	if e.notifier != nil {
		pnl := trade.NetPnl
		e.notifier.NotifyTradeFill(ctx, notify.TradeFillEvent{
			FillEventId: notify.FillEventId("reconcile:"+symbol.PairString(), now),
			StrategyId:  strategyId, Symbol: symbol.String(), Side: string(tracked.Side),
			AvgFillPrice: exitPrice.String(), FilledQuantity: tracked.Quantity.String(),
			Pnl: pnlPtr(pnl),
		})
	}
}

func pnlPtr(d domain.Decimal) *string {
	s := d.String()
	return &s
}

// reconcileStopSync re-places the protective stop if the exchange's report
// of it has drifted from the tracked (possibly trailing-mutated) stop.
func (e *Engine) reconcileStopSync(ctx context.Context, symbol domain.Symbol, tracked, exchangePos domain.Position) {
	if exchangePos.StopLoss.Equal(tracked.StopLoss) {
		return
	}
	e.syncProtectiveStop(ctx, symbol, tracked)
}
