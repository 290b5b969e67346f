package engine

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"statarb/internal/domain"
	"statarb/internal/service"
	"statarb/internal/strategy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	orders []domain.OrderRequest
	reject map[string]bool
}

func (s *recordingSink) Submit(o domain.OrderRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reject[o.Symbol] {
		return domain.ErrQueueClosed
	}
	s.orders = append(s.orders, o)
	return nil
}

func (s *recordingSink) take() []domain.OrderRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.orders
	s.orders = nil
	return out
}

type haltFlag bool

func (h *haltFlag) Halted() bool { return bool(*h) }

type memStore struct {
	mu        sync.Mutex
	positions map[domain.PairKey]domain.Position
}

func newMemStore() *memStore {
	return &memStore{positions: map[domain.PairKey]domain.Position{}}
}

func (m *memStore) SavePosition(pos domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[pos.Pair] = pos
	return nil
}

func (m *memStore) DeletePosition(key domain.PairKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.positions, key)
	return nil
}

func (m *memStore) LoadPositions() ([]domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	return out, nil
}

var pairAB = domain.PairConfig{
	Leg1: "A", Leg2: "B", HedgeRatio: 1,
	Model: domain.ModelFitted, Mean: 0, StdDev: 1,
	EntryZ: 2, ExitZ: 0.5, StopZ: 6,
}

type fixture struct {
	loop   *Loop
	market *service.MarketState
	sink   *recordingSink
	halt   *haltFlag
	store  *memStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		market: service.NewMarketState(),
		sink:   &recordingSink{reject: map[string]bool{}},
		halt:   new(haltFlag),
		store:  newMemStore(),
	}
	f.loop = NewLoop(Options{
		Pairs:  []*strategy.Pair{strategy.NewPair(pairAB, 20)},
		Market: f.market,
		Sink:   f.sink,
		Halt:   f.halt,
		Params: strategy.Params{BetSize: 20, MaxSafeZ: 10, ImbalanceGate: true},
		Store:  f.store,
	})
	f.loop.now = func() time.Time { return time.Unix(1700000000, 0) }
	return f
}

// publishSpread sets prices so ln(pA) - ln(pB) == spread, with order books
// leaning the given way on each leg.
func (f *fixture) publishSpread(spread, obiA, obiB float64) {
	bidA, askA := 1+obiA, 1-obiA
	bidB, askB := 1+obiB, 1-obiB
	f.market.Publish(domain.Quote{Symbol: "A", LastPrice: math.Exp(spread), BidSize: bidA, AskSize: askA})
	f.market.Publish(domain.Quote{Symbol: "B", LastPrice: 1, BidSize: bidB, AskSize: askB})
}

func TestLoop_EntryThenExit(t *testing.T) {
	f := newFixture(t)

	// z = 3, leg A offered, leg B bid
	f.publishSpread(3, -0.5, 0.5)
	f.loop.Tick()

	orders := f.sink.take()
	require.Len(t, orders, 2)
	assert.Equal(t, domain.OrderRequest{Symbol: "A", Side: domain.SideSell, Quantity: 1}, orders[0])
	assert.Equal(t, domain.OrderRequest{Symbol: "B", Side: domain.SideBuy, Quantity: 20}, orders[1])

	positions := f.loop.Positions()
	require.Len(t, positions, 1)
	assert.Equal(t, domain.ShortSpread, positions[0].Direction)
	assert.Len(t, f.store.positions, 1)

	// still open: no new orders while z stays above exit
	f.publishSpread(1, 0, 0)
	f.loop.Tick()
	assert.Empty(t, f.sink.take())

	// z = 0.2 < exit_z
	f.publishSpread(0.2, 0, 0)
	f.loop.Tick()

	orders = f.sink.take()
	require.Len(t, orders, 2)
	assert.Equal(t, domain.OrderRequest{Symbol: "A", Side: domain.SideBuy, Quantity: 1, IsClosing: true}, orders[0])
	assert.Equal(t, domain.OrderRequest{Symbol: "B", Side: domain.SideSell, Quantity: 20, IsClosing: true}, orders[1])
	assert.Empty(t, f.loop.Positions())
	assert.Empty(t, f.store.positions)
}

func TestLoop_MirroredEntry(t *testing.T) {
	f := newFixture(t)
	f.publishSpread(-3, 0.5, -0.5)
	f.loop.Tick()

	orders := f.sink.take()
	require.Len(t, orders, 2)
	assert.Equal(t, domain.SideBuy, orders[0].Side)
	assert.Equal(t, domain.SideSell, orders[1].Side)
	assert.Equal(t, domain.LongSpread, f.loop.Positions()[0].Direction)
}

func TestLoop_HaltBlocksEntryNotExit(t *testing.T) {
	f := newFixture(t)
	*f.halt = true

	f.publishSpread(3, -0.5, 0.5)
	f.loop.Tick()
	assert.Empty(t, f.sink.take(), "no entries while halted")

	*f.halt = false
	f.loop.Tick()
	require.Len(t, f.sink.take(), 2)

	*f.halt = true
	f.publishSpread(0, 0, 0)
	f.loop.Tick()
	assert.Len(t, f.sink.take(), 2, "exits still run while halted")
}

func TestLoop_MissingLegIsSkipped(t *testing.T) {
	f := newFixture(t)
	f.market.Publish(domain.Quote{Symbol: "A", LastPrice: 20})
	f.loop.Tick()
	assert.Empty(t, f.sink.take())
}

func TestLoop_GlitchIsSkipped(t *testing.T) {
	f := newFixture(t)
	f.publishSpread(11, -0.5, 0.5)
	f.loop.Tick()
	assert.Empty(t, f.sink.take())
	assert.Empty(t, f.loop.Positions())
}

func TestLoop_NoPositionWhenBothLegsRejected(t *testing.T) {
	f := newFixture(t)
	f.sink.reject["A"] = true
	f.sink.reject["B"] = true

	f.publishSpread(3, -0.5, 0.5)
	f.loop.Tick()
	assert.Empty(t, f.loop.Positions())
}

func TestLoop_Restore(t *testing.T) {
	f := newFixture(t)
	f.store.positions[pairAB.Key()] = domain.Position{Pair: pairAB.Key(), Direction: domain.LongSpread, Qty1: 2, Qty2: 3}
	stale := domain.PairKey{Leg1: "X", Leg2: "Y"}
	f.store.positions[stale] = domain.Position{Pair: stale, Direction: domain.ShortSpread, Qty1: 1, Qty2: 1}

	require.NoError(t, f.loop.Restore())
	positions := f.loop.Positions()
	require.Len(t, positions, 1)
	assert.Equal(t, pairAB.Key(), positions[0].Pair)

	// restored position exits with its recorded quantities
	f.publishSpread(0, 0, 0)
	f.loop.Tick()
	orders := f.sink.take()
	require.Len(t, orders, 2)
	assert.Equal(t, 2.0, orders[0].Quantity)
	assert.Equal(t, domain.SideSell, orders[0].Side)
	assert.Equal(t, 3.0, orders[1].Quantity)
}

type panickyModel struct{}

func (panickyModel) ZScore(float64, float64) (float64, error) { panic("boom") }

type brokenModel struct{}

func (brokenModel) ZScore(float64, float64) (float64, error) { return 0, errors.New("bad") }

func TestLoop_PanicIsolatedPerPair(t *testing.T) {
	f := newFixture(t)
	dump := filepath.Join(t.TempDir(), "dump.json")
	f.loop.dumpPath = dump

	bad := &strategy.Pair{Config: domain.PairConfig{Leg1: "A", Leg2: "B"}, Model: panickyModel{}}
	broken := &strategy.Pair{Config: domain.PairConfig{Leg1: "A", Leg2: "B"}, Model: brokenModel{}}
	f.loop.pairs = append([]*strategy.Pair{bad, broken}, f.loop.pairs...)

	f.publishSpread(3, -0.5, 0.5)
	require.NotPanics(t, f.loop.Tick)
	assert.Len(t, f.sink.take(), 2, "healthy pair still trades")

	data, err := os.ReadFile(dump)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "positions"))
}
