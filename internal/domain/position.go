package domain

import "time"

// Position is the TradingEngine's live view of an open exposure. It is
// owned by the tracked-position map keyed by Symbol.PairString(); the
// exchange holds the authoritative state and this is a cache reconciled
// periodically.
type Position struct {
	Symbol        Symbol
	Side          PositionSide
	EntryPrice    Decimal
	Quantity      Decimal
	UnrealizedPnl Decimal
	RealizedPnl   Decimal
	StopLoss      Decimal // mutable — trailing
	OpenTime      time.Time
	Leverage      int
}

// IsClosed reports whether the position has been fully reduced.
func (p Position) IsClosed() bool {
	return p.Quantity.IsZero()
}

// Reduce returns the position after reducing by qty, and whether the
// reduction closed it. Reducing by exactly Quantity closes the position;
// reducing by more is an InvalidArgument per the spec's boundary behavior
// ("reducing by more raises InvalidArgument") rather than silently flipping
// side.
func (p Position) Reduce(qty Decimal) (Position, bool, error) {
	if qty.GreaterThan(p.Quantity) {
		return p, false, NewCoreError("Position.Reduce", ErrInvalidArgument,
			errExceedsPosition(qty, p.Quantity))
	}
	p.Quantity = p.Quantity.Sub(qty)
	return p, p.Quantity.IsZero(), nil
}

func errExceedsPosition(qty, have Decimal) error {
	return &quantityExceedsPositionError{requested: qty, available: have}
}

type quantityExceedsPositionError struct {
	requested Decimal
	available Decimal
}

func (e *quantityExceedsPositionError) Error() string {
	return "reduce quantity " + e.requested.String() + " exceeds position quantity " + e.available.String()
}

// ClosedTrade is the immutable post-exit record produced whenever a
// Position's quantity reaches zero.
type ClosedTrade struct {
	TradeId    string
	Symbol     Symbol
	Side       PositionSide
	EntryPrice Decimal
	ExitPrice  Decimal
	Quantity   Decimal
	GrossPnl   Decimal
	Fee        Decimal
	NetPnl     Decimal // grossPnl - fee
	EntryTime  time.Time
	ExitTime   time.Time
	StrategyId string
	ExitReason string
}

func (t ClosedTrade) IsWin() bool {
	return t.NetPnl.IsPositive()
}

func (t ClosedTrade) IsLoss() bool {
	return t.NetPnl.IsNegative()
}

// NewClosedTrade computes GrossPnl/NetPnl from entry/exit/quantity/side and
// fee, enforcing netPnl == grossPnl - fee by construction.
func NewClosedTrade(tradeId string, symbol Symbol, side PositionSide, entry, exit, qty, fee Decimal,
	entryTime, exitTime time.Time, strategyId, exitReason string) ClosedTrade {
	var gross Decimal
	if side == PositionLong {
		gross = exit.Sub(entry).Mul(qty)
	} else {
		gross = entry.Sub(exit).Mul(qty)
	}
	net := gross.Sub(fee)
	return ClosedTrade{
		TradeId:    tradeId,
		Symbol:     symbol,
		Side:       side,
		EntryPrice: entry,
		ExitPrice:  exit,
		Quantity:   qty,
		GrossPnl:   gross,
		Fee:        fee,
		NetPnl:     net,
		EntryTime:  entryTime,
		ExitTime:   exitTime,
		StrategyId: strategyId,
		ExitReason: exitReason,
	}
}
