package execution

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"statarb/internal/domain"
	"statarb/internal/infra"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSubmitter struct {
	mu      sync.Mutex
	tickets []domain.OrderTicket
	fail    map[string]error
	done    chan struct{}
}

func newRecordingSubmitter(expect int) *recordingSubmitter {
	return &recordingSubmitter{fail: map[string]error{}, done: make(chan struct{}, expect)}
}

func (s *recordingSubmitter) PlaceOrder(_ context.Context, t domain.OrderTicket) (domain.OrderAck, error) {
	s.mu.Lock()
	s.tickets = append(s.tickets, t)
	err := s.fail[t.Symbol]
	s.mu.Unlock()
	defer func() { s.done <- struct{}{} }()

	if err != nil {
		return domain.OrderAck{}, err
	}
	return domain.OrderAck{OrderID: 1, Symbol: t.Symbol, RequestTime: 1000, UpdateTime: 1040}, nil
}

func (s *recordingSubmitter) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-s.done:
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d of %d orders reached the submitter", i, n)
		}
	}
}

func (s *recordingSubmitter) all() []domain.OrderTicket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.OrderTicket(nil), s.tickets...)
}

func TestPipeline_SubmitRejectsInvalid(t *testing.T) {
	metrics := infra.NewMetrics()
	p := NewPipeline(newRecordingSubmitter(0), NewPrecisions(nil), metrics, 1, 10)

	assert.ErrorIs(t, p.Submit(domain.OrderRequest{Symbol: "A", Side: domain.SideBuy, Quantity: 0}), domain.ErrInvalidQuantity)
	assert.ErrorIs(t, p.Submit(domain.OrderRequest{Symbol: "A", Side: domain.SideBuy, Quantity: -3}), domain.ErrInvalidQuantity)
	assert.ErrorIs(t, p.Submit(domain.OrderRequest{Side: domain.SideBuy, Quantity: 1}), domain.ErrInvalidSymbol)
	assert.Error(t, p.Submit(domain.OrderRequest{Symbol: "A", Side: "HOLD", Quantity: 1}))

	assert.Equal(t, 0, p.Pending())
	assert.Equal(t, uint64(4), metrics.Snapshot().OrdersRejected)
}

func TestPipeline_FormatsAndSubmits(t *testing.T) {
	sub := newRecordingSubmitter(2)
	metrics := infra.NewMetrics()
	p := NewPipeline(sub, NewPrecisions(map[string]int{"ETHUSDT": 1}), metrics, 2, 10)
	p.newID = func() string { return "cid" }

	require.NoError(t, p.Submit(domain.OrderRequest{Symbol: "ETHUSDT", Side: domain.SideSell, Quantity: 0.567, IsClosing: true}))
	require.NoError(t, p.Submit(domain.OrderRequest{Symbol: "NEWUSDT", Side: domain.SideBuy, Quantity: 1200}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	sub.wait(t, 2)
	cancel()
	require.NoError(t, <-done)

	bySymbol := map[string]domain.OrderTicket{}
	for _, tk := range sub.all() {
		bySymbol[tk.Symbol] = tk
	}
	assert.Equal(t, "0.5", bySymbol["ETHUSDT"].Quantity)
	assert.True(t, bySymbol["ETHUSDT"].ReduceOnly)
	assert.Equal(t, "1200", bySymbol["NEWUSDT"].Quantity)
	assert.False(t, bySymbol["NEWUSDT"].ReduceOnly)
	assert.Equal(t, "cid", bySymbol["NEWUSDT"].ClientOrderID)

	snap := metrics.Snapshot()
	assert.Equal(t, uint64(2), snap.OrdersSubmitted)
	assert.Equal(t, int64(40), snap.LastSkewMs)
}

func TestPipeline_FailureIsDroppedNotRetried(t *testing.T) {
	sub := newRecordingSubmitter(2)
	sub.fail["BADUSDT"] = &domain.APIError{Status: 400, Code: -2019, Msg: "Margin is insufficient."}
	metrics := infra.NewMetrics()
	p := NewPipeline(sub, NewPrecisions(nil), metrics, 1, 10)

	require.NoError(t, p.Submit(domain.OrderRequest{Symbol: "BADUSDT", Side: domain.SideBuy, Quantity: 5}))
	require.NoError(t, p.Submit(domain.OrderRequest{Symbol: "OKUSDT", Side: domain.SideBuy, Quantity: 5}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	sub.wait(t, 2)
	// allow the worker to finish bookkeeping for the last order
	require.Eventually(t, func() bool { return metrics.Snapshot().OrdersSubmitted == 1 }, time.Second, 5*time.Millisecond)

	assert.Len(t, sub.all(), 2, "a failed order must not be retried")
	assert.Equal(t, uint64(1), metrics.Snapshot().OrdersFailed)
}

func TestPipeline_FloorToZeroNeverQueued(t *testing.T) {
	sub := newRecordingSubmitter(1)
	metrics := infra.NewMetrics()
	p := NewPipeline(sub, NewPrecisions(map[string]int{"BTCUSDT": 3, "DOGEUSDT": 0}), metrics, 1, 10)

	err := p.Submit(domain.OrderRequest{Symbol: "BTCUSDT", Side: domain.SideSell, Quantity: 0.0004, IsClosing: true})
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
	err = p.Submit(domain.OrderRequest{Symbol: "DOGEUSDT", Side: domain.SideBuy, Quantity: 0.4})
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
	assert.Equal(t, 0, p.Pending())
	assert.Equal(t, uint64(2), metrics.Snapshot().OrdersRejected)

	require.NoError(t, p.Submit(domain.OrderRequest{Symbol: "ETHUSDT", Side: domain.SideBuy, Quantity: 2}))
	assert.Equal(t, 1, p.Pending())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	sub.wait(t, 1)
	tickets := sub.all()
	require.Len(t, tickets, 1)
	assert.Equal(t, "ETHUSDT", tickets[0].Symbol)
	assert.Equal(t, "2", tickets[0].Quantity)
}

func TestPipeline_CloseDrainsAndStops(t *testing.T) {
	sub := newRecordingSubmitter(3)
	p := NewPipeline(sub, NewPrecisions(nil), nil, 1, 10)
	for i := 0; i < 3; i++ {
		require.NoError(t, p.Submit(domain.OrderRequest{Symbol: "A", Side: domain.SideBuy, Quantity: 1}))
	}
	p.Close()

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Close")
	}
	assert.Len(t, sub.all(), 3)
	assert.True(t, errors.Is(p.Submit(domain.OrderRequest{Symbol: "A", Side: domain.SideBuy, Quantity: 1}), domain.ErrQueueClosed))
}
