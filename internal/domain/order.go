package domain

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"

	OrderTypeMarket = "MARKET"
)

// Opposite returns the side that unwinds s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderRequest is a market order travelling through the execution pipeline.
// It is passed by value and consumed exactly once.
type OrderRequest struct {
	Symbol    string
	Side      Side
	Quantity  float64
	IsClosing bool
}

// OrderAck is what the exchange tells us about an accepted order.
type OrderAck struct {
	OrderID       int64
	ClientOrderID string
	Symbol        string
	Status        string
	UpdateTime    int64 // exchange transaction time, Unix milliseconds
	RequestTime   int64 // timestamp we signed the request with
}

// OrderTicket is an order in wire form, quantity already floored to the
// symbol's lot precision.
type OrderTicket struct {
	Symbol        string
	Side          Side
	Quantity      string
	ReduceOnly    bool
	ClientOrderID string
}

// PositionRisk is one row of the exchange's position report.
type PositionRisk struct {
	Symbol           string
	PositionAmt      float64 // signed: >0 long, <0 short
	UnrealizedProfit float64
}

// ClosingSide returns the side that flattens the position, and false when
// there is nothing to close.
func (p PositionRisk) ClosingSide() (Side, bool) {
	switch {
	case p.PositionAmt > 0:
		return SideSell, true
	case p.PositionAmt < 0:
		return SideBuy, true
	default:
		return "", false
	}
}
