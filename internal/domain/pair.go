package domain

import "time"

// PairKey identifies a strategy pair by its two legs, in order.
type PairKey struct {
	Leg1 string
	Leg2 string
}

func (k PairKey) String() string {
	return k.Leg1 + "/" + k.Leg2
}

// SpreadModel selects how a pair's spread and z-score are computed.
type SpreadModel string

const (
	// ModelFitted uses log(p1) - h*log(p2) against a pre-fitted mean/std.
	ModelFitted SpreadModel = "fitted"
	// ModelRolling uses p1 - h*p2 against a trailing window of spreads.
	ModelRolling SpreadModel = "rolling"
)

// PairConfig is the static definition of one traded pair.
type PairConfig struct {
	Leg1       string
	Leg2       string
	HedgeRatio float64

	Model      SpreadModel
	Mean       float64 // fitted model only
	StdDev     float64 // fitted model only
	WindowSize int     // rolling model only
	NeedsFit   bool    // fitted model whose mean/std_dev are not known yet

	EntryZ float64
	ExitZ  float64
	StopZ  float64 // 0 disables the z-stop
}

// Key returns the composite identifier of the pair.
func (c PairConfig) Key() PairKey {
	return PairKey{Leg1: c.Leg1, Leg2: c.Leg2}
}

// Direction of an open spread position.
type Direction int

const (
	LongSpread  Direction = iota + 1 // long leg1, short leg2
	ShortSpread                      // short leg1, long leg2
)

func (d Direction) String() string {
	switch d {
	case LongSpread:
		return "long_spread"
	case ShortSpread:
		return "short_spread"
	default:
		return "unknown"
	}
}

// Position is the local record of an open spread, created on entry and
// removed on exit. Qty1/Qty2 are the unrounded-down quantities that were sent.
type Position struct {
	Pair      PairKey
	Direction Direction
	Qty1      float64
	Qty2      float64
	OpenedAt  time.Time
}

// Legs returns the sides used to open a position in direction d.
func (d Direction) Legs() (leg1, leg2 Side) {
	if d == ShortSpread {
		return SideSell, SideBuy
	}
	return SideBuy, SideSell
}
