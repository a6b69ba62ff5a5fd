package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"perpengine/internal/domain"
)

// OrderStore is the per-order JSON file persistence contract: one file per
// order, atomic write via temp-file+rename, with the wire format's legacy
// symbol tolerance ("BASE-USDT", "BASE_USDT", "BASEUSDT", or a {base,quote}
// object) honored on read. A file that fails to parse is moved aside to
// "<name>.corrupt" rather than silently dropped.
type OrderStore struct {
	dir string
}

// NewOrderStore creates dir (if absent) and returns an OrderStore rooted
// there.
func NewOrderStore(dir string) (*OrderStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create order store directory: %w", err)
	}
	return &OrderStore{dir: dir}, nil
}

// persistedOrder mirrors domain.Order for file storage, with Symbol written
// in canonical BASE-QUOTE string form and read back tolerant of every
// legacy shape the wire format has carried.
type persistedOrder struct {
	OrderId         string          `json:"orderId"`
	ClientOrderId   string          `json:"clientOrderId"`
	ExchangeOrderId string          `json:"exchangeOrderId"`
	Symbol          json.RawMessage `json:"symbol"`
	Side            domain.Side     `json:"side"`
	Type            domain.OrderType `json:"type"`
	Quantity        domain.Decimal  `json:"quantity"`
	Price           domain.Decimal  `json:"price"`
	Status          domain.OrderStatus `json:"status"`
	StopLoss        domain.Decimal  `json:"stopLoss"`
	TakeProfit      domain.Decimal  `json:"takeProfit"`
	CreateTime      time.Time       `json:"createTime"`
	FillTime        time.Time       `json:"fillTime"`
	AvgFillPrice    domain.Decimal  `json:"avgFillPrice"`
	FilledQuantity  domain.Decimal  `json:"filledQuantity"`
	Fee             domain.Decimal  `json:"fee"`
	StrategyId      string          `json:"strategyId"`
	ReduceOnly      bool            `json:"reduceOnly"`
}

func toPersisted(o domain.Order) persistedOrder {
	symbolJSON, _ := json.Marshal(o.Symbol.String())
	return persistedOrder{
		OrderId: o.OrderId, ClientOrderId: o.ClientOrderId, ExchangeOrderId: o.ExchangeOrderId,
		Symbol: symbolJSON, Side: o.Side, Type: o.Type, Quantity: o.Quantity, Price: o.Price,
		Status: o.Status, StopLoss: o.StopLoss, TakeProfit: o.TakeProfit,
		CreateTime: o.CreateTime, FillTime: o.FillTime, AvgFillPrice: o.AvgFillPrice,
		FilledQuantity: o.FilledQuantity, Fee: o.Fee, StrategyId: o.StrategyId, ReduceOnly: o.ReduceOnly,
	}
}

func (p persistedOrder) toDomain() (domain.Order, error) {
	symbol, err := decodeSymbol(p.Symbol)
	if err != nil {
		return domain.Order{}, err
	}
	return domain.Order{
		OrderId: p.OrderId, ClientOrderId: p.ClientOrderId, ExchangeOrderId: p.ExchangeOrderId,
		Symbol: symbol, Side: p.Side, Type: p.Type, Quantity: p.Quantity, Price: p.Price,
		Status: p.Status, StopLoss: p.StopLoss, TakeProfit: p.TakeProfit,
		CreateTime: p.CreateTime, FillTime: p.FillTime, AvgFillPrice: p.AvgFillPrice,
		FilledQuantity: p.FilledQuantity, Fee: p.Fee, StrategyId: p.StrategyId, ReduceOnly: p.ReduceOnly,
	}, nil
}

// decodeSymbol accepts a JSON string ("BASE-USDT", "BASE_USDT", "BASEUSDT")
// or a {"base":"BASE","quote":"USDT"} object, for backward compatibility
// with older persisted order files.
func decodeSymbol(raw json.RawMessage) (domain.Symbol, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return domain.ParseSymbol(asString)
	}

	var asObject struct {
		Base  string `json:"base"`
		Quote string `json:"quote"`
	}
	if err := json.Unmarshal(raw, &asObject); err == nil && asObject.Base != "" {
		return domain.ParseSymbolObject(asObject.Base, asObject.Quote)
	}

	return domain.Symbol{}, fmt.Errorf("symbol field %q is neither a recognized string form nor a {base,quote} object", string(raw))
}

func (s *OrderStore) path(orderId string) string {
	return filepath.Join(s.dir, sanitizeOrderId(orderId)+".json")
}

// sanitizeOrderId strips path separators from orderId so it can never
// escape the store directory via "../" or similar.
func sanitizeOrderId(orderId string) string {
	return strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(orderId)
}

// Save persists order atomically: the full record is written to a temp
// file in the same directory, then renamed into place, so a crash mid-write
// never leaves a half-written order file behind.
func (s *OrderStore) Save(order domain.Order) error {
	data, err := json.MarshalIndent(toPersisted(order), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal order %s: %w", order.OrderId, err)
	}

	finalPath := s.path(order.OrderId)
	tmp, err := os.CreateTemp(s.dir, "order-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file for order %s: %w", order.OrderId, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write order %s: %w", order.OrderId, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file for order %s: %w", order.OrderId, err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename order %s into place: %w", order.OrderId, err)
	}
	return nil
}

// Load reads orderId's persisted record. A file that fails to parse is
// moved aside to "<name>.corrupt" and the error is returned.
func (s *OrderStore) Load(orderId string) (domain.Order, error) {
	path := s.path(orderId)
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Order{}, fmt.Errorf("read order %s: %w", orderId, err)
	}

	var persisted persistedOrder
	if err := json.Unmarshal(data, &persisted); err != nil {
		s.quarantine(path)
		return domain.Order{}, fmt.Errorf("parse order %s: %w", orderId, err)
	}
	order, err := persisted.toDomain()
	if err != nil {
		s.quarantine(path)
		return domain.Order{}, fmt.Errorf("decode order %s: %w", orderId, err)
	}
	return order, nil
}

func (s *OrderStore) quarantine(path string) {
	_ = os.Rename(path, path+".corrupt")
}

// LoadAll reads every non-quarantined order file in the store directory,
// used on startup to recover in-flight orders a crash interrupted.
func (s *OrderStore) LoadAll() ([]domain.Order, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read order store directory: %w", err)
	}

	var orders []domain.Order
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		orderId := strings.TrimSuffix(name, ".json")
		order, err := s.Load(orderId)
		if err != nil {
			continue // already quarantined by Load
		}
		orders = append(orders, order)
	}
	return orders, nil
}
