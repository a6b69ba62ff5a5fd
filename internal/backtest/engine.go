// Package backtest replays historical candles through the exact same
// strategy.Engine and execution.Engine used for live trading, so a backtest
// result is bit-compatible with live trading semantics rather than merely
// similar to it. SimExchange stands in for the live domain.Exchange
// adapter, simulating fills, slippage, fees, and exchange-side protective
// stop triggers, while strategy.Engine and execution.Engine run completely
// unmodified against it.
package backtest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"perpengine/internal/domain"
	"perpengine/internal/execution"
	"perpengine/internal/risk"
	"perpengine/internal/strategy"
)

// Config parameterizes the replay, mirrored from internal/cfg's backtest.*
// keys: initial_capital, maker_fee, taker_fee, slippage.
type Config struct {
	InitialCapital domain.Decimal
	MakerFee       domain.Decimal
	TakerFee       domain.Decimal
	Slippage       domain.Decimal
	Spread         domain.Decimal // optional additional half-spread applied on top of slippage

	Leverage                   int
	DefaultStopDistancePercent domain.Decimal

	// LimitOrderMaxBars would gate the maker-fee path for a LIMIT order that
	// rested on the book for fewer than this many bars before being touched.
	// Nothing in this engine currently emits LIMIT orders — risk.Gate always
	// builds OrderMarket — so this is carried for config-shape completeness
	// but has no live effect; every fill here pays TakerFee.
	LimitOrderMaxBars int
}

// Engine drives the candle-by-candle replay.
type Engine struct {
	cfg      Config
	exchange *SimExchange
	risk     *risk.Gate
	execEng  *execution.Engine
	strat    *strategy.Engine
	rec      *recorder

	intervalFor map[string]domain.Interval // symbol pair -> interval to replay strategies on
	strategyIds map[string]string          // symbol pair -> owning strategyId, for the end-of-run force-close
}

// NewEngine wires a fresh SimExchange, risk.Gate, execution.Engine, and
// strategy.Engine together exactly as cmd/bitrader wires the live stack,
// then registers every strategy against all three.
func NewEngine(cfg Config, riskCfg risk.Config, health strategy.HealthGate, strategies []strategy.Strategy) *Engine {
	exchange := NewSimExchange(cfg)
	gate := risk.NewGate(riskCfg, cfg.InitialCapital)

	execEng := execution.New(exchange, gate, nil, nil, nil, execution.Config{
		EntryRepriceEnabled:        false,
		OrderSubmitMaxRetries:      0,
		OrderPollInterval:          time.Millisecond,
		OrderPollTimeout:           time.Second,
		DefaultStopDistancePercent: cfg.DefaultStopDistancePercent,
		Leverage:                   cfg.Leverage,
		ExchangeName:               "backtest",
	})

	rec := newRecorder()
	stratEng := strategy.NewEngine(execEng, execEng, health)

	e := &Engine{
		cfg: cfg, exchange: exchange, risk: gate, execEng: execEng, strat: stratEng, rec: rec,
		intervalFor: make(map[string]domain.Interval),
		strategyIds: make(map[string]string),
	}

	for _, s := range strategies {
		wrapped := &recordingStrategy{Strategy: s, rec: rec}
		stratEng.Register(wrapped)
		execEng.RegisterStrategy(s.StrategyId(), s.Symbol(), wrapped)
		e.intervalFor[s.Symbol().PairString()] = s.Interval()
		e.strategyIds[s.Symbol().PairString()] = s.StrategyId()
	}
	return e
}

// Run replays series (pre-sorted ascending by OpenTime per symbol)
// chronologically across all symbols, then force-closes any position left
// open at the final candle, and returns the computed Results.
func (e *Engine) Run(ctx context.Context, series map[domain.Symbol][]domain.KLine) (*Results, error) {
	pairs := make([]domain.Symbol, 0, len(series))
	idx := make(map[string]int, len(series))
	histories := make(map[string][]domain.KLine, len(series))
	for sym := range series {
		pairs = append(pairs, sym)
		idx[sym.PairString()] = 0
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].PairString() < pairs[j].PairString() })

	var start, end time.Time
	for {
		bestPair := ""
		var bestSym domain.Symbol
		var bestTime time.Time
		for _, sym := range pairs {
			pair := sym.PairString()
			candles := series[sym]
			i := idx[pair]
			if i >= len(candles) {
				continue
			}
			t := candles[i].OpenTime
			if bestPair == "" || t.Before(bestTime) {
				bestPair, bestSym, bestTime = pair, sym, t
			}
		}
		if bestPair == "" {
			break
		}

		candle := series[bestSym][idx[bestPair]]
		idx[bestPair]++
		if err := candle.Validate(); err != nil {
			log.Warn().Err(err).Str("symbol", bestSym.String()).Msg("skipping invalid candle in backtest replay")
			continue
		}
		if start.IsZero() {
			start = candle.OpenTime
		}
		end = candle.CloseTime

		// Step 1: exchange-side protective stop check — a pessimistic fill
		// at stopLoss if the candle's low (LONG) or high (SHORT) crosses it,
		// surfaced to execEng via the same reconciliation path a live stop
		// fill is discovered through.
		e.exchange.AdvanceCandle(bestSym, candle)
		if err := e.execEng.Reconcile(ctx); err != nil {
			log.Warn().Err(err).Msg("backtest reconciliation pass failed")
		}

		histories[bestPair] = append(histories[bestPair], candle)
		e.rec.snapshotCandle(bestSym, histories[bestPair])
		e.rec.recordEquity(candle.CloseTime, e.exchange.EquitySnapshot())

		// Steps 2-4: strategy.Analyze, risk.Evaluate and fill simulation happen
		// inside this call, via execEng.OnSignal. This candle's equity sample
		// was recorded above, before any fill this call produces.
		e.strat.OnCandleClose(bestSym, e.intervalFor[bestPair], histories[bestPair])
	}

	e.forceCloseAll(ctx)
	return e.rec.buildResults(e.cfg.InitialCapital, start, end), nil
}

// forceCloseAll closes every position still open at the final candle's
// close, so the replay's results never carry an unrealized open position.
func (e *Engine) forceCloseAll(ctx context.Context) {
	for pair, strategyId := range e.strategyIds {
		sym, ok := e.exchange.symbolFor(pair)
		if !ok {
			continue
		}
		for _, pos := range e.execEng.OpenPositionsFor(strategyId) {
			side := domain.SideSell
			signalType := domain.SignalExitLong
			if pos.Side == domain.PositionShort {
				side = domain.SideBuy
				signalType = domain.SignalExitShort
			}
			e.execEng.OnSignal(domain.Signal{
				StrategyId: strategyId, Symbol: sym, SignalType: signalType, Side: side,
				SuggestedPrice: e.exchange.LastPrice(sym), SuggestedQuantity: pos.Quantity,
				Reason: "BACKTEST_END",
			})
		}
	}
}

// recordingStrategy wraps a strategy.Strategy to capture the indicator
// snapshot at entry and the finished trade at close, without altering the
// wrapped strategy's own fill-notification behavior.
type recordingStrategy struct {
	strategy.Strategy
	rec *recorder
}

func (r *recordingStrategy) OnPositionOpened(p domain.Position) {
	r.rec.onOpened(p.Symbol)
	r.Strategy.OnPositionOpened(p)
}

func (r *recordingStrategy) OnPositionClosed(trade domain.ClosedTrade, reason string) {
	r.rec.onClosed(trade, reason)
	r.Strategy.OnPositionClosed(trade, reason)
}

// SimExchange implements domain.Exchange (and domain.ProtectiveStopCapable)
// as a deterministic fill simulator. It has no network, no retry, and
// fills every order immediately against the most recently advanced candle.
type SimExchange struct {
	cfg Config

	mu       sync.Mutex
	equity   domain.Decimal // realized cash balance, includes all fees
	last     map[string]domain.Decimal
	symbols  map[string]domain.Symbol
	position map[string]domain.Position // pair -> open position, absent if flat
	orders   map[string]domain.Order    // exchangeOrderId -> terminal order
	history  map[string][]domain.KLine
	seq      int
}

// NewSimExchange constructs a SimExchange seeded with cfg.InitialCapital.
func NewSimExchange(cfg Config) *SimExchange {
	return &SimExchange{
		cfg: cfg, equity: cfg.InitialCapital,
		last: make(map[string]domain.Decimal), symbols: make(map[string]domain.Symbol),
		position: make(map[string]domain.Position), orders: make(map[string]domain.Order),
		history: make(map[string][]domain.KLine),
	}
}

func (s *SimExchange) symbolFor(pair string) (domain.Symbol, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sym, ok := s.symbols[pair]
	return sym, ok
}

// LastPrice returns the most recent price SimExchange has observed for
// symbol (the closing price of the last advanced candle, or the stop price
// if a stop just triggered on it).
func (s *SimExchange) LastPrice(symbol domain.Symbol) domain.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last[symbol.PairString()]
}

// EquitySnapshot marks every open position to the last observed price and
// adds it to realized cash, for the replay's per-candle equity curve.
func (s *SimExchange) EquitySnapshot() domain.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := s.equity
	for pair, pos := range s.position {
		price := s.last[pair]
		var unrealized domain.Decimal
		if pos.Side == domain.PositionLong {
			unrealized = price.Sub(pos.EntryPrice).Mul(pos.Quantity)
		} else {
			unrealized = pos.EntryPrice.Sub(price).Mul(pos.Quantity)
		}
		total = total.Add(unrealized)
	}
	return total
}

// AdvanceCandle updates the current mark for symbol and, if an open
// position's stop is crossed by the candle's low/high, pessimistically
// fills the stop at the stop price and removes the position — surfacing it
// to execution.Engine as an exchange-side disappearance the next
// Reconcile() call discovers, exactly as a live protective stop fill would.
func (s *SimExchange) AdvanceCandle(symbol domain.Symbol, candle domain.KLine) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pair := symbol.PairString()
	s.symbols[pair] = symbol
	s.history[pair] = append(s.history[pair], candle)

	pos, open := s.position[pair]
	if !open || !pos.StopLoss.IsPositive() {
		s.last[pair] = candle.Close
		return
	}

	stopHit := false
	if pos.Side == domain.PositionLong && candle.CrossesBelow(pos.StopLoss) {
		stopHit = true
	} else if pos.Side == domain.PositionShort && candle.CrossesAbove(pos.StopLoss) {
		stopHit = true
	}
	if !stopHit {
		s.last[pair] = candle.Close
		return
	}

	fee := pos.StopLoss.Mul(pos.Quantity).Mul(s.cfg.TakerFee)
	var gross domain.Decimal
	if pos.Side == domain.PositionLong {
		gross = pos.StopLoss.Sub(pos.EntryPrice).Mul(pos.Quantity)
	} else {
		gross = pos.EntryPrice.Sub(pos.StopLoss).Mul(pos.Quantity)
	}
	s.equity = s.equity.Add(gross).Sub(fee)
	delete(s.position, pair)
	s.last[pair] = pos.StopLoss
}

func (s *SimExchange) GetAccountInfo(ctx context.Context) (domain.AccountInfo, error) {
	equity := s.EquitySnapshot()
	return domain.AccountInfo{TotalEquity: equity, AvailableBalance: equity}, nil
}

func (s *SimExchange) GetTicker(ctx context.Context, symbol domain.Symbol) (domain.Ticker, error) {
	price := s.LastPrice(symbol)
	return domain.Ticker{Symbol: symbol, Bid: price, Ask: price, Last: price, Timestamp: time.Now()}, nil
}

func (s *SimExchange) GetKLines(ctx context.Context, symbol domain.Symbol, interval domain.Interval, limit int, endTime *time.Time) ([]domain.KLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hist := s.history[symbol.PairString()]
	if limit <= 0 || limit > len(hist) {
		limit = len(hist)
	}
	out := make([]domain.KLine, limit)
	copy(out, hist[len(hist)-limit:])
	return out, nil
}

// PlaceOrder simulates an immediate fill against the last observed price,
// applying slippage/spread and a taker fee (nothing in this engine emits
// LIMIT orders, so the maker path never triggers).
func (s *SimExchange) PlaceOrder(ctx context.Context, order domain.Order) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pair := order.Symbol.PairString()
	base := s.last[pair]
	if !base.IsPositive() {
		return "", &domain.ExchangeError{Kind: domain.ExchangeInvalidOrder, Message: fmt.Sprintf("no price known for %s", pair)}
	}

	fillPrice := s.applySlippage(base, order.Side)
	notional := fillPrice.Mul(order.Quantity)
	fee := notional.Mul(s.cfg.TakerFee)

	s.seq++
	exchangeOrderId := fmt.Sprintf("bt-%d", s.seq)

	pos, hadPos := s.position[pair]
	switch {
	case order.ReduceOnly || hadPos:
		// Exit (or reduce) of the currently open position.
		var gross domain.Decimal
		if pos.Side == domain.PositionLong {
			gross = fillPrice.Sub(pos.EntryPrice).Mul(order.Quantity)
		} else {
			gross = pos.EntryPrice.Sub(fillPrice).Mul(order.Quantity)
		}
		s.equity = s.equity.Add(gross).Sub(fee)
		remaining := pos.Quantity.Sub(order.Quantity)
		if remaining.IsPositive() {
			pos.Quantity = remaining
			s.position[pair] = pos
		} else {
			delete(s.position, pair)
		}
	default:
		// New entry.
		s.equity = s.equity.Sub(fee)
		side := domain.PositionLong
		if order.Side == domain.SideSell {
			side = domain.PositionShort
		}
		s.position[pair] = domain.Position{
			Symbol: order.Symbol, Side: side, EntryPrice: fillPrice, Quantity: order.Quantity,
			StopLoss: order.StopLoss, OpenTime: order.CreateTime, Leverage: s.cfg.Leverage,
		}
	}

	s.orders[exchangeOrderId] = domain.Order{
		OrderId: order.OrderId, ClientOrderId: order.ClientOrderId, ExchangeOrderId: exchangeOrderId,
		Symbol: order.Symbol, Side: order.Side, Type: order.Type, Quantity: order.Quantity,
		Price: order.Price, Status: domain.OrderFilled, StopLoss: order.StopLoss, TakeProfit: order.TakeProfit,
		CreateTime: order.CreateTime, FillTime: order.CreateTime, AvgFillPrice: fillPrice,
		FilledQuantity: order.Quantity, Fee: fee, StrategyId: order.StrategyId, ReduceOnly: order.ReduceOnly,
	}
	s.last[pair] = fillPrice
	return exchangeOrderId, nil
}

// applySlippage computes the simulated fill price: BUY fill =
// close*(1+slippage), SELL fill = close*(1-slippage), plus half the
// configured spread against the trader on either side.
func (s *SimExchange) applySlippage(base domain.Decimal, side domain.Side) domain.Decimal {
	one := domain.FromFloatPercent(1.0)
	halfSpread := s.cfg.Spread.Div(domain.FromFloatPercent(2.0))
	if side == domain.SideBuy {
		return base.Mul(one.Add(s.cfg.Slippage)).Add(base.Mul(halfSpread))
	}
	return base.Mul(one.Sub(s.cfg.Slippage)).Sub(base.Mul(halfSpread))
}

func (s *SimExchange) CancelOrder(ctx context.Context, orderId string, symbol domain.Symbol) (bool, error) {
	return true, nil
}

func (s *SimExchange) GetOrder(ctx context.Context, orderId string, symbol domain.Symbol) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderId]
	if !ok {
		return domain.Order{}, &domain.ExchangeError{Kind: domain.ExchangeAPIError, Message: "unknown backtest order id " + orderId}
	}
	return o, nil
}

func (s *SimExchange) GetOpenPositions(ctx context.Context, symbol domain.Symbol) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.position[symbol.PairString()]
	if !ok {
		return nil, nil
	}
	return []domain.Position{pos}, nil
}

// SubscribeKLine/SubscribeTicker/Unsubscribe are unused in replay — the
// backtest driver calls strategy.Engine.OnCandleClose directly instead of
// routing candles through a subscription, so these exist only to satisfy
// domain.Exchange.
func (s *SimExchange) SubscribeKLine(ctx context.Context, symbol domain.Symbol, interval domain.Interval) (<-chan domain.KLine, error) {
	return nil, nil
}
func (s *SimExchange) SubscribeTicker(ctx context.Context, symbol domain.Symbol) (<-chan domain.Ticker, error) {
	return nil, nil
}
func (s *SimExchange) Unsubscribe(symbol domain.Symbol) error { return nil }

// PlaceReduceOnlyStopMarketOrder records the protective stop price on the
// open position; AdvanceCandle checks it against each subsequent candle.
func (s *SimExchange) PlaceReduceOnlyStopMarketOrder(ctx context.Context, symbol domain.Symbol, side domain.Side, stopPrice, quantity domain.Decimal, clientOrderId string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pair := symbol.PairString()
	pos, ok := s.position[pair]
	if !ok {
		return "", nil
	}
	pos.StopLoss = stopPrice
	s.position[pair] = pos
	return "bt-stop-" + clientOrderId, nil
}

// CancelReduceOnlyStopOrders is a no-op: the position's stop field is simply
// overwritten by the next PlaceReduceOnlyStopMarketOrder call.
func (s *SimExchange) CancelReduceOnlyStopOrders(ctx context.Context, symbol domain.Symbol) error {
	return nil
}
