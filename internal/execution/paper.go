package execution

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"statarb/internal/domain"

	"github.com/shopspring/decimal"
)

// Fill is one simulated execution.
type Fill struct {
	OrderID    int64
	Symbol     string
	Side       domain.Side
	Quantity   float64
	Price      float64
	ReduceOnly bool
	Timestamp  time.Time
}

type paperPosition struct {
	amt        float64 // signed
	entryPrice float64
}

// PaperSubmitter fills market orders at the cached price and tracks the
// resulting futures positions, so the risk engine can run against it too.
type PaperSubmitter struct {
	market domain.MarketReader
	now    func() time.Time

	mu        sync.Mutex
	positions map[string]*paperPosition
	fills     []Fill
	realized  float64
	nextID    int64
}

// NewPaperSubmitter creates a dry-run submitter pricing off market.
func NewPaperSubmitter(market domain.MarketReader) *PaperSubmitter {
	return &PaperSubmitter{
		market:    market,
		now:       time.Now,
		positions: make(map[string]*paperPosition),
	}
}

// PlaceOrder implements Submitter.
func (p *PaperSubmitter) PlaceOrder(_ context.Context, t domain.OrderTicket) (domain.OrderAck, error) {
	qtyDec, err := decimal.NewFromString(t.Quantity)
	if err != nil || !qtyDec.IsPositive() {
		return domain.OrderAck{}, fmt.Errorf("%w: %q", domain.ErrInvalidQuantity, t.Quantity)
	}
	quote, ok := p.market.Read(t.Symbol)
	if !ok || quote.LastPrice <= 0 {
		return domain.OrderAck{}, fmt.Errorf("no price for %s: %w", t.Symbol, domain.ErrNotReady)
	}

	qty := qtyDec.InexactFloat64()
	signed := qty
	if t.Side == domain.SideSell {
		signed = -qty
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	pos := p.positions[t.Symbol]
	if t.ReduceOnly {
		// reduce-only may only shrink an opposite position, never flip it
		if pos == nil || pos.amt == 0 || (pos.amt > 0) == (signed > 0) {
			return domain.OrderAck{}, &domain.APIError{Status: 400, Code: -2022, Msg: "ReduceOnly Order is rejected."}
		}
		if math.Abs(signed) > math.Abs(pos.amt) {
			signed = -pos.amt
			qty = math.Abs(signed)
		}
	}

	p.apply(t.Symbol, signed, quote.LastPrice)

	p.nextID++
	ts := p.now()
	p.fills = append(p.fills, Fill{
		OrderID:    p.nextID,
		Symbol:     t.Symbol,
		Side:       t.Side,
		Quantity:   qty,
		Price:      quote.LastPrice,
		ReduceOnly: t.ReduceOnly,
		Timestamp:  ts,
	})

	slog.Info("PAPER_FILL", "symbol", t.Symbol, "side", t.Side, "qty", qty, "price", quote.LastPrice, "reduce_only", t.ReduceOnly)
	return domain.OrderAck{
		OrderID:       p.nextID,
		ClientOrderID: t.ClientOrderID,
		Symbol:        t.Symbol,
		Status:        "FILLED",
		UpdateTime:    ts.UnixMilli(),
		RequestTime:   ts.UnixMilli(),
	}, nil
}

// apply books a signed fill. Must be called with lock held.
func (p *PaperSubmitter) apply(symbol string, signed, price float64) {
	pos, ok := p.positions[symbol]
	if !ok {
		pos = &paperPosition{}
		p.positions[symbol] = pos
	}

	switch {
	case pos.amt == 0 || (pos.amt > 0) == (signed > 0):
		// opening or adding: weighted entry price
		total := pos.amt + signed
		pos.entryPrice = (pos.entryPrice*math.Abs(pos.amt) + price*math.Abs(signed)) / math.Abs(total)
		pos.amt = total
	default:
		closed := math.Min(math.Abs(signed), math.Abs(pos.amt))
		direction := 1.0
		if pos.amt < 0 {
			direction = -1
		}
		p.realized += closed * (price - pos.entryPrice) * direction

		remaining := pos.amt + signed
		switch {
		case math.Abs(remaining) < 1e-12:
			delete(p.positions, symbol)
		case (remaining > 0) != (pos.amt > 0):
			// flipped through zero
			pos.amt = remaining
			pos.entryPrice = price
		default:
			pos.amt = remaining
		}
	}
}

// PositionRisk marks every open paper position to the cached price.
func (p *PaperSubmitter) PositionRisk(context.Context) ([]domain.PositionRisk, error) {
	p.mu.Lock()
	held := make(map[string]paperPosition, len(p.positions))
	for symbol, pos := range p.positions {
		held[symbol] = *pos
	}
	p.mu.Unlock()

	out := make([]domain.PositionRisk, 0, len(held))
	for symbol, pos := range held {
		mark := pos.entryPrice
		if q, ok := p.market.Read(symbol); ok && q.LastPrice > 0 {
			mark = q.LastPrice
		}
		out = append(out, domain.PositionRisk{
			Symbol:           symbol,
			PositionAmt:      pos.amt,
			UnrealizedProfit: pos.amt * (mark - pos.entryPrice),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// Fills returns a copy of all simulated fills.
func (p *PaperSubmitter) Fills() []Fill {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Fill(nil), p.fills...)
}

// RealizedPnL returns profit booked by reducing fills.
func (p *PaperSubmitter) RealizedPnL() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.realized
}
