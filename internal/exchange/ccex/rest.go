package ccex

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"perpengine/internal/domain"
)

// envelope is the common {code,msg,data} response shape every REST endpoint
// wraps its payload in, generalized to carry an arbitrary Data payload.
type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// doRequest signs and sends a request, unmarshals the envelope, and
// classifies failures into domain.ExchangeError so callers never need to
// inspect HTTP status codes or wire error codes themselves.
func (c *Client) doRequest(ctx context.Context, op, method, path string, query map[string]string, body interface{}, out interface{}) error {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	nonce := ts
	sign := Sign(c.secret, nonce, c.key, ts)

	req := c.rest.R().SetContext(ctx).
		SetHeader("api-key", c.key).
		SetHeader("nonce", nonce).
		SetHeader("timestamp", ts).
		SetHeader("sign", sign)
	if query != nil {
		req = req.SetQueryParams(query)
	}
	if body != nil {
		req = req.SetBody(body)
	}

	env := &envelope{}
	req = req.SetResult(env)

	var resp interface {
		StatusCode() int
		String() string
	}
	var err error
	switch method {
	case "GET":
		r, e := req.Get(c.base + path)
		resp, err = r, e
	default:
		r, e := req.Post(c.base + path)
		resp, err = r, e
	}
	if err != nil {
		return &domain.ExchangeError{Kind: domain.ExchangeNetworkError, Message: op + " request failed", Cause: err}
	}
	if resp.StatusCode() == 401 || resp.StatusCode() == 403 {
		return &domain.ExchangeError{Kind: domain.ExchangeAuthError, Message: op + ": " + resp.String()}
	}
	if resp.StatusCode() == 429 {
		return &domain.ExchangeError{Kind: domain.ExchangeRateLimited, Message: op + ": rate limited"}
	}
	if resp.StatusCode() >= 500 {
		return &domain.ExchangeError{Kind: domain.ExchangeNetworkError, Message: fmt.Sprintf("%s: server error %d", op, resp.StatusCode())}
	}
	if resp.StatusCode() != 200 {
		return &domain.ExchangeError{Kind: domain.ExchangeAPIError, Message: fmt.Sprintf("%s: status %d: %s", op, resp.StatusCode(), resp.String())}
	}
	if env.Code != 0 {
		return classifyAPIError(op, env.Code, env.Msg)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return &domain.ExchangeError{Kind: domain.ExchangeAPIError, Message: op + ": malformed response", Cause: err}
		}
	}
	return nil
}

// classifyAPIError maps the exchange's application-level error codes onto
// domain.ExchangeErrorKind. Codes below 20000 are transport-adjacent;
// 2xxxx-range codes are trading-specific, per the wire convention this
// adapter's exchange family uses.
func classifyAPIError(op string, code int, msg string) error {
	switch {
	case code == 10003 || code == 10004:
		return &domain.ExchangeError{Kind: domain.ExchangeAuthError, Message: fmt.Sprintf("%s: %d %s", op, code, msg)}
	case code == 10429:
		return &domain.ExchangeError{Kind: domain.ExchangeRateLimited, Message: fmt.Sprintf("%s: %d %s", op, code, msg)}
	case code == 20001:
		return &domain.ExchangeError{Kind: domain.ExchangeInsufficientBalance, Message: fmt.Sprintf("%s: %d %s", op, code, msg)}
	case code == 20002:
		return &domain.ExchangeError{Kind: domain.ExchangeInvalidOrder, Message: fmt.Sprintf("%s: %d %s", op, code, msg)}
	default:
		return &domain.ExchangeError{Kind: domain.ExchangeAPIError, Message: fmt.Sprintf("%s: %d %s", op, code, msg)}
	}
}

type accountWire struct {
	Equity      string `json:"equity"`
	Available   string `json:"available"`
	UnrealPnl   string `json:"unrealizedPnl"`
	MarginRatio string `json:"marginRatio"`
}

// GetAccountInfo fetches equity, available balance, and margin ratio.
func (c *Client) GetAccountInfo(ctx context.Context) (domain.AccountInfo, error) {
	var w accountWire
	if err := c.doRequest(ctx, "GetAccountInfo", "GET", "/api/v1/futures/account", nil, nil, &w); err != nil {
		return domain.AccountInfo{}, err
	}
	return domain.AccountInfo{
		TotalEquity:      parseDecimal(w.Equity),
		AvailableBalance: parseDecimal(w.Available),
		UnrealizedPnl:    parseDecimal(w.UnrealPnl),
		MarginRatio:      parseDecimal(w.MarginRatio),
	}, nil
}

type tickerWire struct {
	Bid  string `json:"bid"`
	Ask  string `json:"ask"`
	Last string `json:"last"`
	Ts   int64  `json:"ts"`
}

// GetTicker fetches the current best bid/ask/last for symbol.
func (c *Client) GetTicker(ctx context.Context, symbol domain.Symbol) (domain.Ticker, error) {
	var w tickerWire
	query := map[string]string{"symbol": symbol.PairString()}
	if err := c.doRequest(ctx, "GetTicker", "GET", "/api/v1/market/ticker", query, nil, &w); err != nil {
		return domain.Ticker{}, err
	}
	return domain.Ticker{
		Symbol: symbol, Bid: parseDecimal(w.Bid), Ask: parseDecimal(w.Ask),
		Last: parseDecimal(w.Last), Timestamp: time.UnixMilli(w.Ts),
	}, nil
}

type klineWire struct {
	OpenTime  int64  `json:"openTime"`
	CloseTime int64  `json:"closeTime"`
	Open      string `json:"open"`
	High      string `json:"high"`
	Low       string `json:"low"`
	Close     string `json:"close"`
	Volume    string `json:"volume"`
	Trades    int    `json:"trades"`
}

// GetKLines fetches up to limit closed candles ending at endTime (or the
// most recent candles, if endTime is nil).
func (c *Client) GetKLines(ctx context.Context, symbol domain.Symbol, interval domain.Interval, limit int, endTime *time.Time) ([]domain.KLine, error) {
	query := map[string]string{
		"symbol":   symbol.PairString(),
		"interval": string(interval),
		"limit":    strconv.Itoa(limit),
	}
	if endTime != nil {
		query["endTime"] = strconv.FormatInt(endTime.UnixMilli(), 10)
	}

	var wire []klineWire
	if err := c.doRequest(ctx, "GetKLines", "GET", "/api/v1/market/klines", query, nil, &wire); err != nil {
		return nil, err
	}

	out := make([]domain.KLine, 0, len(wire))
	for _, w := range wire {
		out = append(out, domain.KLine{
			Symbol: symbol, Interval: interval,
			OpenTime: time.UnixMilli(w.OpenTime), CloseTime: time.UnixMilli(w.CloseTime),
			Open: parseDecimal(w.Open), High: parseDecimal(w.High), Low: parseDecimal(w.Low),
			Close: parseDecimal(w.Close), Volume: parseQuantity(w.Volume), Trades: w.Trades,
		})
	}
	return out, nil
}

type orderReqWire struct {
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	TradeSide     string `json:"tradeSide"`
	Qty           string `json:"qty"`
	OrderType     string `json:"orderType"`
	Price         string `json:"price,omitempty"`
	StopPrice     string `json:"stopPrice,omitempty"`
	ClientOrderId string `json:"clientOrderId"`
	ReduceOnly    bool   `json:"reduceOnly,omitempty"`
}

type placeOrderWire struct {
	OrderId string `json:"orderId"`
}

// PlaceOrder submits order and returns the exchange-assigned order id.
func (c *Client) PlaceOrder(ctx context.Context, order domain.Order) (string, error) {
	tradeSide := "OPEN"
	if order.ReduceOnly {
		tradeSide = "CLOSE"
	}
	req := orderReqWire{
		Symbol: order.Symbol.PairString(), Side: string(order.Side), TradeSide: tradeSide,
		Qty: order.Quantity.String(), OrderType: string(order.Type),
		ClientOrderId: order.ClientOrderId, ReduceOnly: order.ReduceOnly,
	}
	if order.Type == domain.OrderLimit {
		req.Price = order.Price.String()
	}
	if !order.StopLoss.IsZero() {
		req.StopPrice = order.StopLoss.String()
	}

	var w placeOrderWire
	if err := c.doRequest(ctx, "PlaceOrder", "POST", "/api/v1/futures/trade/place_order", nil, req, &w); err != nil {
		return "", err
	}
	return w.OrderId, nil
}

// PlaceReduceOnlyStopMarketOrder submits a server-side reduce-only stop
// order, satisfying domain.ProtectiveStopCapable.
func (c *Client) PlaceReduceOnlyStopMarketOrder(ctx context.Context, symbol domain.Symbol, side domain.Side, stopPrice, quantity domain.Decimal, clientOrderId string) (string, error) {
	req := orderReqWire{
		Symbol: symbol.PairString(), Side: string(side), TradeSide: "CLOSE",
		Qty: quantity.String(), OrderType: string(domain.OrderStopMarket),
		StopPrice: stopPrice.String(), ClientOrderId: clientOrderId, ReduceOnly: true,
	}
	var w placeOrderWire
	if err := c.doRequest(ctx, "PlaceReduceOnlyStopMarketOrder", "POST", "/api/v1/futures/trade/place_order", nil, req, &w); err != nil {
		return "", err
	}
	return w.OrderId, nil
}

// CancelReduceOnlyStopOrders cancels every open reduce-only stop order on
// symbol, satisfying domain.ProtectiveStopCapable.
func (c *Client) CancelReduceOnlyStopOrders(ctx context.Context, symbol domain.Symbol) error {
	body := map[string]string{"symbol": symbol.PairString(), "orderType": string(domain.OrderStopMarket)}
	return c.doRequest(ctx, "CancelReduceOnlyStopOrders", "POST", "/api/v1/futures/trade/cancel_all", nil, body, nil)
}

// CancelOrder cancels orderId on symbol, reporting whether it was still
// open to cancel.
func (c *Client) CancelOrder(ctx context.Context, orderId string, symbol domain.Symbol) (bool, error) {
	body := map[string]string{"symbol": symbol.PairString(), "orderId": orderId}
	err := c.doRequest(ctx, "CancelOrder", "POST", "/api/v1/futures/trade/cancel_order", nil, body, nil)
	if err != nil {
		if ee, ok := err.(*domain.ExchangeError); ok && ee.Kind == domain.ExchangeInvalidOrder {
			return false, nil // already filled/canceled — not an error condition for the caller
		}
		return false, err
	}
	return true, nil
}

type orderQueryWire struct {
	OrderId        string `json:"orderId"`
	ClientOrderId  string `json:"clientOrderId"`
	Symbol         string `json:"symbol"`
	Side           string `json:"side"`
	OrderType      string `json:"orderType"`
	Qty            string `json:"qty"`
	Price          string `json:"price"`
	Status         string `json:"status"`
	AvgFillPrice   string `json:"avgFillPrice"`
	FilledQty      string `json:"filledQty"`
	Fee            string `json:"fee"`
	CreateTimeMs   int64  `json:"createTime"`
	FillTimeMs     int64  `json:"fillTime"`
}

var orderStatusFromWire = map[string]domain.OrderStatus{
	"PENDING":   domain.OrderPending,
	"SUBMITTED": domain.OrderSubmitted,
	"PARTIAL":   domain.OrderPartial,
	"FILLED":    domain.OrderFilled,
	"CANCELED":  domain.OrderCanceled,
	"CANCELLED": domain.OrderCanceled,
	"REJECTED":  domain.OrderRejected,
	"FAILED":    domain.OrderFailed,
}

// GetOrder fetches orderId's current state from the exchange.
func (c *Client) GetOrder(ctx context.Context, orderId string, symbol domain.Symbol) (domain.Order, error) {
	query := map[string]string{"symbol": symbol.PairString(), "orderId": orderId}
	var w orderQueryWire
	if err := c.doRequest(ctx, "GetOrder", "GET", "/api/v1/futures/trade/order", query, nil, &w); err != nil {
		return domain.Order{}, err
	}
	status, ok := orderStatusFromWire[w.Status]
	if !ok {
		status = domain.OrderPending
	}
	order := domain.Order{
		OrderId: w.OrderId, ClientOrderId: w.ClientOrderId, ExchangeOrderId: w.OrderId,
		Symbol: symbol, Side: domain.Side(w.Side), Type: domain.OrderType(w.OrderType),
		Quantity: parseQuantity(w.Qty), Price: parseDecimal(w.Price), Status: status,
		AvgFillPrice: parseDecimal(w.AvgFillPrice), FilledQuantity: parseQuantity(w.FilledQty),
		Fee: parseDecimal(w.Fee), CreateTime: time.UnixMilli(w.CreateTimeMs),
	}
	if w.FillTimeMs > 0 {
		order.FillTime = time.UnixMilli(w.FillTimeMs)
	}
	return order, nil
}

type positionWire struct {
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	EntryPrice    string `json:"entryPrice"`
	Qty           string `json:"qty"`
	UnrealizedPnl string `json:"unrealizedPnl"`
	RealizedPnl   string `json:"realizedPnl"`
	StopLoss      string `json:"stopLoss"`
	Leverage      int    `json:"leverage"`
	OpenTimeMs    int64  `json:"openTime"`
}

// GetOpenPositions fetches symbol's currently open positions (normally zero
// or one, per position mode, but the wire format is an array).
func (c *Client) GetOpenPositions(ctx context.Context, symbol domain.Symbol) ([]domain.Position, error) {
	query := map[string]string{"symbol": symbol.PairString()}
	var wire []positionWire
	if err := c.doRequest(ctx, "GetOpenPositions", "GET", "/api/v1/futures/account/positions", query, nil, &wire); err != nil {
		return nil, err
	}
	out := make([]domain.Position, 0, len(wire))
	for _, w := range wire {
		side := domain.PositionLong
		if w.Side == string(domain.PositionShort) {
			side = domain.PositionShort
		}
		out = append(out, domain.Position{
			Symbol: symbol, Side: side, EntryPrice: parseDecimal(w.EntryPrice),
			Quantity: parseQuantity(w.Qty), UnrealizedPnl: parseDecimal(w.UnrealizedPnl),
			RealizedPnl: parseDecimal(w.RealizedPnl), StopLoss: parseDecimal(w.StopLoss),
			OpenTime: time.UnixMilli(w.OpenTimeMs), Leverage: w.Leverage,
		})
	}
	return out, nil
}

// parseDecimal parses a wire price/PnL field at full precision, never
// round-tripping through float64.
func parseDecimal(s string) domain.Decimal {
	if s == "" {
		return domain.Zero
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return domain.Zero
	}
	return domain.NewPrice(v)
}

// parseQuantity parses a wire quantity field, truncated to quantity scale.
func parseQuantity(s string) domain.Decimal {
	if s == "" {
		return domain.Zero
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return domain.Zero
	}
	return domain.NewQuantity(v)
}
