package strategy

import (
	"math"

	"statarb/internal/domain"
)

// Params are the engine-wide signal settings shared by every pair.
type Params struct {
	BetSize           float64
	MaxSafeZ          float64
	OBIShortThreshold float64
	OBILongThreshold  float64
	// ImbalanceGate requires the order book to corroborate entries. The
	// polling source has no book sizes, so it runs with the gate off.
	ImbalanceGate bool
}

// Decide maps one observation to an action. pos is nil when the pair is
// flat. halted suppresses entries but never exits.
func Decide(cfg domain.PairConfig, p Params, pos *domain.Position, z, obi1, obi2 float64, halted bool) Action {
	act := Action{Pair: cfg.Key(), Z: z}

	if p.MaxSafeZ > 0 && math.Abs(z) > p.MaxSafeZ {
		return act
	}

	if pos != nil {
		act.Direction = pos.Direction
		switch {
		case cfg.StopZ > 0 && math.Abs(z) > cfg.StopZ:
			act.Type, act.Reason = ActionClose, "z_stop"
		case pos.Direction == domain.ShortSpread && z < cfg.ExitZ,
			pos.Direction == domain.LongSpread && z > -cfg.ExitZ:
			act.Type, act.Reason = ActionClose, "take_profit"
		}
		return act
	}

	if halted {
		return act
	}

	gate := !p.ImbalanceGate
	switch {
	case z > cfg.EntryZ && (gate || (obi1 < p.OBIShortThreshold && obi2 > p.OBILongThreshold)):
		act.Type, act.Direction = ActionOpen, domain.ShortSpread
	case z < -cfg.EntryZ && (gate || (obi1 > p.OBILongThreshold && obi2 < p.OBIShortThreshold)):
		act.Type, act.Direction = ActionOpen, domain.LongSpread
	}
	return act
}

// OrderQuantity sizes a leg as notional/price rounded up to a whole unit,
// never below 1.
func OrderQuantity(notional, price float64) float64 {
	if price <= 0 || notional <= 0 {
		return 0
	}
	return math.Max(1, math.Ceil(notional/price))
}

// EntryOrders builds the two opening orders for direction d and returns
// the position they create.
func EntryOrders(cfg domain.PairConfig, d domain.Direction, betSize, p1, p2 float64) ([2]domain.OrderRequest, domain.Position) {
	qty1 := OrderQuantity(betSize, p1)
	qty2 := OrderQuantity(betSize*cfg.HedgeRatio, p2)
	side1, side2 := d.Legs()

	orders := [2]domain.OrderRequest{
		{Symbol: cfg.Leg1, Side: side1, Quantity: qty1},
		{Symbol: cfg.Leg2, Side: side2, Quantity: qty2},
	}
	return orders, domain.Position{Pair: cfg.Key(), Direction: d, Qty1: qty1, Qty2: qty2}
}

// ExitOrders builds the two reduce-only orders that unwind pos.
func ExitOrders(pos domain.Position) [2]domain.OrderRequest {
	side1, side2 := pos.Direction.Legs()
	return [2]domain.OrderRequest{
		{Symbol: pos.Pair.Leg1, Side: side1.Opposite(), Quantity: pos.Qty1, IsClosing: true},
		{Symbol: pos.Pair.Leg2, Side: side2.Opposite(), Quantity: pos.Qty2, IsClosing: true},
	}
}
