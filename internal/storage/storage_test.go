package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"perpengine/internal/domain"
)

func testSymbol() domain.Symbol { return domain.NewSymbol("BTC", "USDT") }

func testKLine(symbol domain.Symbol, openTime time.Time) domain.KLine {
	return domain.KLine{
		Symbol: symbol, Interval: domain.Interval1m,
		OpenTime: openTime, CloseTime: openTime.Add(time.Minute),
		Open: domain.FromFloatPrice(50000), High: domain.FromFloatPrice(50100),
		Low: domain.FromFloatPrice(49900), Close: domain.FromFloatPrice(50050),
		Volume: domain.FromFloatQuantity(1.5),
	}
}

func TestNew(t *testing.T) {
	tempDir := t.TempDir()
	store, err := New(tempDir)
	require.NoError(t, err)
	defer store.Close()

	_, err = os.Stat(filepath.Join(tempDir, "perpengine-data.db"))
	require.NoError(t, err)
}

func TestNew_InvalidPath(t *testing.T) {
	_, err := New("/root/nonexistent/path/that/should/not/exist")
	require.Error(t, err)
}

func TestStore_CloseNilDB(t *testing.T) {
	store := &Store{}
	require.NoError(t, store.Close())
}

func TestStoreAndGetKLines(t *testing.T) {
	tempDir := t.TempDir()
	store, err := New(tempDir)
	require.NoError(t, err)
	defer store.Close()

	symbol := testSymbol()
	now := time.Now()
	for i := 0; i < 3; i++ {
		k := testKLine(symbol, now.Add(time.Duration(i)*time.Minute))
		require.NoError(t, store.StoreKLine(k))
	}
	// a different symbol must not leak into the range query below
	require.NoError(t, store.StoreKLine(testKLine(domain.NewSymbol("ETH", "USDT"), now)))

	got, err := store.GetKLines(symbol, domain.Interval1m, now.Add(-time.Minute), now.Add(5*time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i := 1; i < len(got); i++ {
		require.True(t, got[i].OpenTime.After(got[i-1].OpenTime))
	}
}

func TestGetKLines_EmptyResult(t *testing.T) {
	tempDir := t.TempDir()
	store, err := New(tempDir)
	require.NoError(t, err)
	defer store.Close()

	now := time.Now()
	got, err := store.GetKLines(testSymbol(), domain.Interval1m, now.Add(-time.Hour), now.Add(-30*time.Minute))
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestStoreAndGetClosedTrades(t *testing.T) {
	tempDir := t.TempDir()
	store, err := New(tempDir)
	require.NoError(t, err)
	defer store.Close()

	symbol := testSymbol()
	now := time.Now()
	trade := domain.NewClosedTrade("t1", symbol, domain.PositionLong,
		domain.FromFloatPrice(50000), domain.FromFloatPrice(51000), domain.FromFloatQuantity(0.1),
		domain.FromFloatPrice(5), now, now.Add(time.Hour), "s1", "STRATEGY_EXIT")
	require.NoError(t, store.StoreClosedTrade(trade))

	got, err := store.GetClosedTrades(symbol, now, now.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "t1", got[0].TradeId)
	require.True(t, got[0].IsWin())
}

func TestConcurrentAccess(t *testing.T) {
	tempDir := t.TempDir()
	store, err := New(tempDir)
	require.NoError(t, err)
	defer store.Close()

	symbol := testSymbol()
	done := make(chan bool, 10)
	for i := 0; i < 5; i++ {
		go func(id int) {
			now := time.Now()
			for j := 0; j < 10; j++ {
				store.StoreKLine(testKLine(symbol, now.Add(time.Duration(id*10+j)*time.Minute)))
			}
			done <- true
		}(i)
	}
	for i := 0; i < 5; i++ {
		go func() {
			now := time.Now()
			store.GetKLines(symbol, domain.Interval1m, now.Add(-time.Hour), now.Add(time.Hour))
			done <- true
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}
}

func TestOrderStore_SaveLoadRoundTrip(t *testing.T) {
	tempDir := t.TempDir()
	store, err := NewOrderStore(tempDir)
	require.NoError(t, err)

	order := domain.Order{
		OrderId: "o1", ClientOrderId: "c1", ExchangeOrderId: "e1",
		Symbol: testSymbol(), Side: domain.SideBuy, Type: domain.OrderMarket,
		Quantity: domain.FromFloatQuantity(0.1), Price: domain.FromFloatPrice(50000),
		Status: domain.OrderFilled, StopLoss: domain.FromFloatPrice(49000),
		CreateTime: time.Now(), FillTime: time.Now(),
		AvgFillPrice: domain.FromFloatPrice(50010), FilledQuantity: domain.FromFloatQuantity(0.1),
		Fee: domain.FromFloatPrice(2), StrategyId: "s1",
	}
	require.NoError(t, store.Save(order))

	got, err := store.Load("o1")
	require.NoError(t, err)
	require.Equal(t, order.OrderId, got.OrderId)
	require.Equal(t, order.Symbol, got.Symbol)
	require.True(t, order.Quantity.Equal(got.Quantity))
	require.True(t, order.AvgFillPrice.Equal(got.AvgFillPrice))
}

func TestOrderStore_LegacySymbolTolerance(t *testing.T) {
	tempDir := t.TempDir()
	store, err := NewOrderStore(tempDir)
	require.NoError(t, err)

	for _, raw := range []string{`"BTC-USDT"`, `"BTC_USDT"`, `"BTCUSDT"`, `{"base":"BTC","quote":"USDT"}`} {
		path := filepath.Join(tempDir, "legacy.json")
		body := `{"orderId":"legacy","symbol":` + raw + `,"quantity":"0.1","price":"50000"}`
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

		order, err := store.Load("legacy")
		require.NoError(t, err, "symbol form %s", raw)
		require.Equal(t, domain.NewSymbol("BTC", "USDT"), order.Symbol)
	}
}

func TestOrderStore_CorruptFileIsQuarantined(t *testing.T) {
	tempDir := t.TempDir()
	store, err := NewOrderStore(tempDir)
	require.NoError(t, err)

	path := filepath.Join(tempDir, "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err = store.Load("bad")
	require.Error(t, err)
	_, statErr := os.Stat(path + ".corrupt")
	require.NoError(t, statErr)
	_, statErr = os.Stat(path)
	require.True(t, os.IsNotExist(statErr))
}

func TestOrderStore_LoadAllSkipsQuarantined(t *testing.T) {
	tempDir := t.TempDir()
	store, err := NewOrderStore(tempDir)
	require.NoError(t, err)

	order := domain.Order{OrderId: "good", Symbol: testSymbol(), Quantity: domain.FromFloatQuantity(0.1)}
	require.NoError(t, store.Save(order))
	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "bad.json"), []byte("{not json"), 0o644))

	orders, err := store.LoadAll()
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.Equal(t, "good", orders[0].OrderId)
}

func TestOrderStore_SanitizesOrderId(t *testing.T) {
	tempDir := t.TempDir()
	store, err := NewOrderStore(tempDir)
	require.NoError(t, err)

	order := domain.Order{OrderId: "../../etc/passwd", Symbol: testSymbol()}
	require.NoError(t, store.Save(order))

	entries, err := os.ReadDir(tempDir)
	require.NoError(t, err)
	for _, e := range entries {
		require.NotContains(t, e.Name(), "..")
	}
}
