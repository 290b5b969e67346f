package strategy_test

import (
	"testing"

	"statarb/internal/domain"
	"statarb/internal/strategy"
)

var testPair = domain.PairConfig{
	Leg1: "A", Leg2: "B", HedgeRatio: 1,
	Model: domain.ModelFitted, Mean: 0, StdDev: 1,
	EntryZ: 2, ExitZ: 0.5, StopZ: 6,
}

var testParams = strategy.Params{
	BetSize:           20,
	MaxSafeZ:          10,
	OBIShortThreshold: 0,
	OBILongThreshold:  0,
	ImbalanceGate:     true,
}

func TestDecide_Entry(t *testing.T) {
	tests := []struct {
		name       string
		z          float64
		obi1, obi2 float64
		halted     bool
		wantType   strategy.ActionType
		wantDir    domain.Direction
	}{
		{"short spread corroborated", 3, -0.4, 0.4, false, strategy.ActionOpen, domain.ShortSpread},
		{"long spread corroborated", -3, 0.4, -0.4, false, strategy.ActionOpen, domain.LongSpread},
		{"short spread book disagrees", 3, 0.4, 0.4, false, strategy.ActionNone, 0},
		{"empty books never corroborate", 3, 0, 0, false, strategy.ActionNone, 0},
		{"inside entry band", 1.5, -0.4, 0.4, false, strategy.ActionNone, 0},
		{"glitch", 11, -0.4, 0.4, false, strategy.ActionNone, 0},
		{"halted", 3, -0.4, 0.4, true, strategy.ActionNone, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			act := strategy.Decide(testPair, testParams, nil, tt.z, tt.obi1, tt.obi2, tt.halted)
			if act.Type != tt.wantType || act.Direction != tt.wantDir {
				t.Errorf("got %s/%s, want %s/%s", act.Type, act.Direction, tt.wantType, tt.wantDir)
			}
		})
	}
}

func TestDecide_GateOff(t *testing.T) {
	p := testParams
	p.ImbalanceGate = false

	act := strategy.Decide(testPair, p, nil, 3, 0, 0, false)
	if act.Type != strategy.ActionOpen || act.Direction != domain.ShortSpread {
		t.Errorf("without the imbalance gate z alone should open, got %s/%s", act.Type, act.Direction)
	}
}

func TestDecide_Exit(t *testing.T) {
	short := &domain.Position{Pair: testPair.Key(), Direction: domain.ShortSpread, Qty1: 1, Qty2: 1}
	long := &domain.Position{Pair: testPair.Key(), Direction: domain.LongSpread, Qty1: 1, Qty2: 1}

	tests := []struct {
		name       string
		pos        *domain.Position
		z          float64
		halted     bool
		wantType   strategy.ActionType
		wantReason string
	}{
		{"short reverts", short, 0.4, false, strategy.ActionClose, "take_profit"},
		{"short holds", short, 1.0, false, strategy.ActionNone, ""},
		{"long reverts", long, -0.4, false, strategy.ActionClose, "take_profit"},
		{"long holds", long, -1.0, false, strategy.ActionNone, ""},
		{"z stop", short, 7, false, strategy.ActionClose, "z_stop"},
		{"exit while halted", short, 0.1, true, strategy.ActionClose, "take_profit"},
		{"glitch ignored", short, -12, false, strategy.ActionNone, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			act := strategy.Decide(testPair, testParams, tt.pos, tt.z, 0, 0, tt.halted)
			if act.Type != tt.wantType || act.Reason != tt.wantReason {
				t.Errorf("got %s (%q), want %s (%q)", act.Type, act.Reason, tt.wantType, tt.wantReason)
			}
		})
	}
}

func TestOrderQuantity(t *testing.T) {
	tests := []struct {
		notional, price, want float64
	}{
		{20, 65000, 1},   // min one unit
		{20, 0.5, 40},
		{20, 3, 7},       // 6.67 rounds up
		{20, 0, 0},
	}
	for _, tt := range tests {
		if got := strategy.OrderQuantity(tt.notional, tt.price); got != tt.want {
			t.Errorf("OrderQuantity(%v, %v) = %v, want %v", tt.notional, tt.price, got, tt.want)
		}
	}
}

func TestEntryAndExitOrders(t *testing.T) {
	orders, pos := strategy.EntryOrders(testPair, domain.ShortSpread, 20, 3, 0.5)

	if orders[0].Symbol != "A" || orders[0].Side != domain.SideSell || orders[0].Quantity != 7 {
		t.Errorf("leg1 order = %+v", orders[0])
	}
	if orders[1].Symbol != "B" || orders[1].Side != domain.SideBuy || orders[1].Quantity != 40 {
		t.Errorf("leg2 order = %+v", orders[1])
	}
	if orders[0].IsClosing || orders[1].IsClosing {
		t.Error("entry orders must not be closing")
	}

	exits := strategy.ExitOrders(pos)
	if exits[0].Side != domain.SideBuy || exits[1].Side != domain.SideSell {
		t.Errorf("exit sides = %s/%s, want BUY/SELL", exits[0].Side, exits[1].Side)
	}
	if exits[0].Quantity != 7 || exits[1].Quantity != 40 || !exits[0].IsClosing || !exits[1].IsClosing {
		t.Errorf("exits must reuse recorded quantities as closing orders: %+v", exits)
	}
}
