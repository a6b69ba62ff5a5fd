package domain

import (
	"context"
	"time"
)

// AccountInfo is the Exchange's answer to getAccountInfo().
type AccountInfo struct {
	TotalEquity      Decimal
	AvailableBalance Decimal
	UnrealizedPnl    Decimal
	MarginRatio      Decimal
}

// Ticker is the Exchange's answer to getTicker(symbol).
type Ticker struct {
	Symbol    Symbol
	Bid       Decimal
	Ask       Decimal
	Last      Decimal
	Timestamp time.Time
}

// Exchange is the capability surface the core depends on. Everything else
// (wire protocol, auth, rate limiting) is an adapter concern behind this
// interface — the core never imports an adapter package directly.
type Exchange interface {
	GetAccountInfo(ctx context.Context) (AccountInfo, error)
	GetTicker(ctx context.Context, symbol Symbol) (Ticker, error)
	GetKLines(ctx context.Context, symbol Symbol, interval Interval, limit int, endTime *time.Time) ([]KLine, error)
	PlaceOrder(ctx context.Context, order Order) (exchangeOrderId string, err error)
	CancelOrder(ctx context.Context, orderId string, symbol Symbol) (bool, error)
	GetOrder(ctx context.Context, orderId string, symbol Symbol) (Order, error)
	GetOpenPositions(ctx context.Context, symbol Symbol) ([]Position, error)
	SubscribeKLine(ctx context.Context, symbol Symbol, interval Interval) (<-chan KLine, error)
	SubscribeTicker(ctx context.Context, symbol Symbol) (<-chan Ticker, error)
	Unsubscribe(symbol Symbol) error
}

// ProtectiveStopCapable is an optional capability: exchanges that support
// server-side reduce-only stop orders implement it. When an Exchange does
// not implement this interface, internal/execution places no protective stop
// and has no local candle-based stop monitoring in its place.
type ProtectiveStopCapable interface {
	PlaceReduceOnlyStopMarketOrder(ctx context.Context, symbol Symbol, side Side, stopPrice, quantity Decimal, clientOrderId string) (string, error)
	CancelReduceOnlyStopOrders(ctx context.Context, symbol Symbol) error
}

// QuantityNormalizer is an optional capability for exchanges with
// symbol-specific lot-size/tick-size rules.
type QuantityNormalizer interface {
	NormalizeMarketQuantity(symbol Symbol, qty Decimal) Decimal
	NormalizeStopPrice(symbol Symbol, price Decimal) Decimal
}
