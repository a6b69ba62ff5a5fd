package execution

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"perpengine/internal/domain"
	"perpengine/internal/risk"
)

// fakeExchange is a minimal domain.Exchange stub for exercising the
// TradingEngine without a real network dependency.
type fakeExchange struct {
	mu sync.Mutex

	account        domain.AccountInfo
	ticker         domain.Ticker
	placeErr       error
	placedOrders   []domain.Order
	orderAfterPoll domain.Order
	openPositions  []domain.Position
}

func (f *fakeExchange) GetAccountInfo(ctx context.Context) (domain.AccountInfo, error) {
	return f.account, nil
}
func (f *fakeExchange) GetTicker(ctx context.Context, symbol domain.Symbol) (domain.Ticker, error) {
	return f.ticker, nil
}
func (f *fakeExchange) GetKLines(ctx context.Context, symbol domain.Symbol, interval domain.Interval, limit int, endTime *time.Time) ([]domain.KLine, error) {
	return nil, nil
}
func (f *fakeExchange) PlaceOrder(ctx context.Context, order domain.Order) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placeErr != nil {
		return "", f.placeErr
	}
	f.placedOrders = append(f.placedOrders, order)
	return "exch-" + order.ClientOrderId, nil
}
func (f *fakeExchange) CancelOrder(ctx context.Context, orderId string, symbol domain.Symbol) (bool, error) {
	return true, nil
}
func (f *fakeExchange) GetOrder(ctx context.Context, orderId string, symbol domain.Symbol) (domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orderAfterPoll, nil
}
func (f *fakeExchange) GetOpenPositions(ctx context.Context, symbol domain.Symbol) ([]domain.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.openPositions, nil
}
func (f *fakeExchange) SubscribeKLine(ctx context.Context, symbol domain.Symbol, interval domain.Interval) (<-chan domain.KLine, error) {
	return nil, nil
}
func (f *fakeExchange) SubscribeTicker(ctx context.Context, symbol domain.Symbol) (<-chan domain.Ticker, error) {
	return nil, nil
}
func (f *fakeExchange) Unsubscribe(symbol domain.Symbol) error { return nil }

type fakeCallback struct {
	opened []domain.Position
	closed []domain.ClosedTrade
}

func (f *fakeCallback) OnPositionOpened(p domain.Position)                 { f.opened = append(f.opened, p) }
func (f *fakeCallback) OnPositionClosed(t domain.ClosedTrade, reason string) { f.closed = append(f.closed, t) }

func testSymbol() domain.Symbol { return domain.NewSymbol("BTC", "USDT") }

func newTestEngine(ex *fakeExchange) (*Engine, RiskGate) {
	gate := risk.NewGate(risk.Config{
		RiskPerTrade: domain.FromFloatPercent(0.01), MaxPositionRatio: domain.FromFloatPercent(0.2),
		MaxStopLossPercent: domain.FromFloatPercent(0.05), MaxConsecutiveLosses: 3,
		MaxDrawdownPercent: domain.FromFloatPercent(0.15), Leverage: 10, MarginBuffer: domain.FromFloatQuantity(1.1),
	}, domain.FromFloatPrice(10000))

	eng := New(ex, gate, nil, nil, nil, Config{
		OrderSubmitMaxRetries: 1, OrderSubmitBaseBackoff: time.Millisecond, OrderSubmitMaxBackoff: time.Millisecond,
		OrderPollInterval: time.Millisecond, OrderPollTimeout: 50 * time.Millisecond,
		DefaultStopDistancePercent: domain.FromFloatPercent(0.02), Leverage: 10,
	})
	eng.account = risk.AccountState{Equity: domain.FromFloatPrice(10000), AvailableBalance: domain.FromFloatPrice(8000)}
	return eng, gate
}

func TestOnSignalEntryFillsAndTracksPosition(t *testing.T) {
	ex := &fakeExchange{
		account: domain.AccountInfo{TotalEquity: domain.FromFloatPrice(10000), AvailableBalance: domain.FromFloatPrice(8000)},
		orderAfterPoll: domain.Order{
			Status: domain.OrderFilled, FilledQuantity: domain.FromFloatQuantity(0.1),
			AvgFillPrice: domain.FromFloatPrice(50000), FillTime: time.Now(),
		},
	}
	eng, _ := newTestEngine(ex)
	cb := &fakeCallback{}
	eng.RegisterStrategy("s1", testSymbol(), cb)

	eng.OnSignal(domain.Signal{
		StrategyId: "s1", Symbol: testSymbol(), SignalType: domain.SignalEntryLong, Side: domain.SideBuy,
		SuggestedPrice: domain.FromFloatPrice(50000), StopLoss: domain.FromFloatPrice(49000),
	})

	require.Len(t, ex.placedOrders, 1)
	require.Len(t, cb.opened, 1)
	tracked := eng.trackedFor(testSymbol())
	require.NotNil(t, tracked)
	require.True(t, tracked.Quantity.IsPositive())
}

func TestOnSignalEntryVetoedNeverSubmits(t *testing.T) {
	ex := &fakeExchange{account: domain.AccountInfo{TotalEquity: domain.FromFloatPrice(10000), AvailableBalance: domain.FromFloatPrice(8000)}}
	eng, gate := newTestEngine(ex)
	gate.(*risk.Gate).EmergencyStop()

	eng.OnSignal(domain.Signal{
		StrategyId: "s1", Symbol: testSymbol(), SignalType: domain.SignalEntryLong, Side: domain.SideBuy,
		SuggestedPrice: domain.FromFloatPrice(50000), StopLoss: domain.FromFloatPrice(49000),
	})

	require.Empty(t, ex.placedOrders)
	require.Nil(t, eng.trackedFor(testSymbol()))
}

func TestOnSignalExitClosesTrackedPosition(t *testing.T) {
	ex := &fakeExchange{
		account: domain.AccountInfo{TotalEquity: domain.FromFloatPrice(10000), AvailableBalance: domain.FromFloatPrice(8000)},
		orderAfterPoll: domain.Order{
			Status: domain.OrderFilled, FilledQuantity: domain.FromFloatQuantity(0.1),
			AvgFillPrice: domain.FromFloatPrice(51000), FillTime: time.Now(),
		},
	}
	eng, _ := newTestEngine(ex)
	cb := &fakeCallback{}
	eng.RegisterStrategy("s1", testSymbol(), cb)
	eng.setTracked(testSymbol(), "s1", domain.Position{
		Symbol: testSymbol(), Side: domain.PositionLong, EntryPrice: domain.FromFloatPrice(50000),
		Quantity: domain.FromFloatQuantity(0.1), StopLoss: domain.FromFloatPrice(49000), OpenTime: time.Now(),
	}, domain.Zero)

	eng.OnSignal(domain.Signal{
		StrategyId: "s1", Symbol: testSymbol(), SignalType: domain.SignalExitLong, Side: domain.SideSell,
		SuggestedPrice: domain.FromFloatPrice(51000),
	})

	require.Nil(t, eng.trackedFor(testSymbol()))
	require.Len(t, cb.closed, 1)
	require.True(t, cb.closed[0].IsWin())
}

func TestReconcileAdoptsUntrackedExchangePosition(t *testing.T) {
	ex := &fakeExchange{
		openPositions: []domain.Position{{
			Symbol: testSymbol(), Side: domain.PositionLong, EntryPrice: domain.FromFloatPrice(50000),
			Quantity: domain.FromFloatQuantity(0.1),
		}},
	}
	eng, _ := newTestEngine(ex)
	cb := &fakeCallback{}
	eng.RegisterStrategy("s1", testSymbol(), cb)

	require.NoError(t, eng.Reconcile(context.Background()))

	tracked := eng.trackedFor(testSymbol())
	require.NotNil(t, tracked)
	require.True(t, tracked.StopLoss.IsPositive())
	require.Len(t, cb.opened, 1)
}

func TestReconcileClosesDeadTrackedPosition(t *testing.T) {
	ex := &fakeExchange{ticker: domain.Ticker{Last: domain.FromFloatPrice(52000)}}
	eng, _ := newTestEngine(ex)
	cb := &fakeCallback{}
	eng.RegisterStrategy("s1", testSymbol(), cb)
	eng.setTracked(testSymbol(), "s1", domain.Position{
		Symbol: testSymbol(), Side: domain.PositionLong, EntryPrice: domain.FromFloatPrice(50000),
		Quantity: domain.FromFloatQuantity(0.1), StopLoss: domain.FromFloatPrice(49000), OpenTime: time.Now(),
	}, domain.Zero)

	require.NoError(t, eng.Reconcile(context.Background()))

	require.Nil(t, eng.trackedFor(testSymbol()))
	require.Len(t, cb.closed, 1)
	require.Equal(t, "RECONCILE_DEAD", cb.closed[0].ExitReason)
}

type fakePersister struct {
	saved []domain.Order
}

func (f *fakePersister) Save(order domain.Order) error {
	f.saved = append(f.saved, order)
	return nil
}

func TestOnSignalEntryPersistsFilledOrder(t *testing.T) {
	ex := &fakeExchange{
		account: domain.AccountInfo{TotalEquity: domain.FromFloatPrice(10000), AvailableBalance: domain.FromFloatPrice(8000)},
		orderAfterPoll: domain.Order{
			Status: domain.OrderFilled, FilledQuantity: domain.FromFloatQuantity(0.1),
			AvgFillPrice: domain.FromFloatPrice(50000), FillTime: time.Now(),
		},
	}
	eng, _ := newTestEngine(ex)
	persister := &fakePersister{}
	eng.SetOrderPersister(persister)
	eng.RegisterStrategy("s1", testSymbol(), &fakeCallback{})

	eng.OnSignal(domain.Signal{
		StrategyId: "s1", Symbol: testSymbol(), SignalType: domain.SignalEntryLong, Side: domain.SideBuy,
		SuggestedPrice: domain.FromFloatPrice(50000), StopLoss: domain.FromFloatPrice(49000),
	})

	require.Len(t, persister.saved, 1)
	require.Equal(t, domain.OrderFilled, persister.saved[0].Status)
}

func TestAllTrackedPositionsReturnsEverySymbol(t *testing.T) {
	ex := &fakeExchange{}
	eng, _ := newTestEngine(ex)
	eng.setTracked(testSymbol(), "s1", domain.Position{Symbol: testSymbol(), Quantity: domain.FromFloatQuantity(0.1)}, domain.Zero)
	other := domain.NewSymbol("ETH", "USDT")
	eng.setTracked(other, "s2", domain.Position{Symbol: other, Quantity: domain.FromFloatQuantity(1)}, domain.Zero)

	positions := eng.AllTrackedPositions()
	require.Len(t, positions, 2)
}
