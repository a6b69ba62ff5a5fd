// Package domain holds the immutable value types shared by every other
// package in perpengine: decimals, symbols, candles, orders, positions, and
// the Exchange capability surface the core depends on.
package domain

import (
	"github.com/shopspring/decimal"
)

// Scale and rounding mode are normative per quantity class. Floats never
// carry price, quantity, or PnL anywhere past the exchange adapter's wire
// decode.
const (
	PriceScale    = 8
	QuantityScale = 3
	PercentScale  = 2
)

// Decimal is a thin wrapper over shopspring/decimal that pins scale and
// rounding mode at construction. Arithmetic (Add/Sub/Mul/Div) accepts any two
// Decimals and keeps the unrounded result; callers rescale with AsPrice or
// AsQuantity where a result must carry a fixed scale.
type Decimal struct {
	v decimal.Decimal
}

// Zero is the zero-value Decimal, safe to use without construction.
var Zero = Decimal{}

// NewPrice rounds v to PriceScale using HALF_UP.
func NewPrice(v decimal.Decimal) Decimal {
	return Decimal{v.Round(PriceScale)}
}

// NewQuantity floors v to QuantityScale (DOWN — never round up into
// over-exposure).
func NewQuantity(v decimal.Decimal) Decimal {
	return Decimal{v.Truncate(QuantityScale)}
}

// NewPercent rounds v to PercentScale using HALF_UP.
func NewPercent(v decimal.Decimal) Decimal {
	return Decimal{v.Round(PercentScale)}
}

// FromFloatPrice/Quantity/Percent are convenience constructors for literals
// and config values; they must not be used for anything that crossed an
// exchange wire as a float.
func FromFloatPrice(f float64) Decimal    { return NewPrice(decimal.NewFromFloat(f)) }
func FromFloatQuantity(f float64) Decimal { return NewQuantity(decimal.NewFromFloat(f)) }
func FromFloatPercent(f float64) Decimal  { return NewPercent(decimal.NewFromFloat(f)) }

func (d Decimal) Raw() decimal.Decimal { return d.v }

func (d Decimal) Add(o Decimal) Decimal      { return Decimal{d.v.Add(o.v)} }
func (d Decimal) Sub(o Decimal) Decimal      { return Decimal{d.v.Sub(o.v)} }
func (d Decimal) Mul(o Decimal) Decimal      { return Decimal{d.v.Mul(o.v)} }
func (d Decimal) Div(o Decimal) Decimal      { return Decimal{d.v.Div(o.v)} }
func (d Decimal) Neg() Decimal               { return Decimal{d.v.Neg()} }
func (d Decimal) Abs() Decimal               { return Decimal{d.v.Abs()} }
func (d Decimal) IsZero() bool               { return d.v.IsZero() }
func (d Decimal) IsPositive() bool           { return d.v.IsPositive() }
func (d Decimal) IsNegative() bool           { return d.v.IsNegative() }
func (d Decimal) GreaterThan(o Decimal) bool { return d.v.GreaterThan(o.v) }
func (d Decimal) GreaterThanOrEqual(o Decimal) bool {
	return d.v.GreaterThanOrEqual(o.v)
}
func (d Decimal) LessThan(o Decimal) bool { return d.v.LessThan(o.v) }
func (d Decimal) LessThanOrEqual(o Decimal) bool {
	return d.v.LessThanOrEqual(o.v)
}
func (d Decimal) Equal(o Decimal) bool  { return d.v.Equal(o.v) }
func (d Decimal) Float64() float64      { v, _ := d.v.Float64(); return v }
func (d Decimal) String() string        { return d.v.String() }
func (d Decimal) AsPrice() Decimal      { return NewPrice(d.v) }
func (d Decimal) AsQuantity() Decimal   { return NewQuantity(d.v) }
func (d Decimal) AsPercent() Decimal    { return NewPercent(d.v) }
func (d Decimal) MarshalJSON() ([]byte, error) {
	return d.v.MarshalJSON()
}
func (d *Decimal) UnmarshalJSON(b []byte) error {
	return d.v.UnmarshalJSON(b)
}

// Min3 returns the smallest of three Decimals — used by the risk gate's
// position-sizing step, which takes the min of three independently derived
// quantity candidates.
func Min3(a, b, c Decimal) Decimal {
	m := a
	if b.LessThan(m) {
		m = b
	}
	if c.LessThan(m) {
		m = c
	}
	return m
}

// Min returns the smaller of two Decimals.
func Min(a, b Decimal) Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Max returns the larger of two Decimals.
func Max(a, b Decimal) Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}
