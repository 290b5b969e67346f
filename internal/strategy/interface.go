package strategy

import "statarb/internal/domain"

// ActionType defines the type of trading action
type ActionType int

const (
	ActionNone ActionType = iota
	ActionOpen
	ActionClose
)

// String returns the string representation of ActionType
func (a ActionType) String() string {
	switch a {
	case ActionOpen:
		return "OPEN"
	case ActionClose:
		return "CLOSE"
	default:
		return "NONE"
	}
}

// Action represents a decision made for one pair on one tick.
type Action struct {
	Type      ActionType
	Pair      domain.PairKey
	Direction domain.Direction // direction opened, or of the position being closed
	Z         float64
	Reason    string // exit reason: "take_profit" or "z_stop"

	// leg prices the decision was made on
	P1, P2 float64
}

// SpreadModel turns two leg prices into a z-score. Implementations may keep
// history and return domain.ErrNotReady until they have enough of it.
type SpreadModel interface {
	ZScore(p1, p2 float64) (float64, error)
}
