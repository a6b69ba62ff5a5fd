package ccex

import (
	"sync"

	"perpengine/internal/domain"
)

// symbolRules holds the lot-size/tick-size exchange filters for one symbol;
// the generic quantity/price scale in domain.Decimal is the fallback for any
// symbol without cached rules.
type symbolRules struct {
	qtyStep   domain.Decimal
	priceStep domain.Decimal
}

// rulesCache is not filled anywhere in this package, so it stays empty and
// every symbol falls back to domain's default Quantity/Price scale.
var (
	rulesMu    sync.RWMutex
	rulesCache = map[string]symbolRules{}
)

// NormalizeMarketQuantity rounds qty down to symbol's lot-size step, or to
// domain.QuantityScale if no exchange-specific filter is cached, satisfying
// domain.QuantityNormalizer.
func (c *Client) NormalizeMarketQuantity(symbol domain.Symbol, qty domain.Decimal) domain.Decimal {
	rulesMu.RLock()
	rules, ok := rulesCache[symbol.PairString()]
	rulesMu.RUnlock()
	if !ok || rules.qtyStep.IsZero() {
		return qty.AsQuantity()
	}
	return floorToStep(qty, rules.qtyStep)
}

// NormalizeStopPrice rounds price to symbol's tick-size step, or to
// domain.PriceScale if no exchange-specific filter is cached, satisfying
// domain.QuantityNormalizer.
func (c *Client) NormalizeStopPrice(symbol domain.Symbol, price domain.Decimal) domain.Decimal {
	rulesMu.RLock()
	rules, ok := rulesCache[symbol.PairString()]
	rulesMu.RUnlock()
	if !ok || rules.priceStep.IsZero() {
		return price.AsPrice()
	}
	return floorToStep(price, rules.priceStep)
}

// floorToStep truncates v down to the nearest multiple of step.
func floorToStep(v, step domain.Decimal) domain.Decimal {
	if step.IsZero() {
		return v
	}
	units := v.Div(step)
	whole := domain.FromFloatQuantity(float64(int64(units.Float64())))
	return whole.Mul(step).AsPrice()
}
