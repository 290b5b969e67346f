package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"statarb/internal/domain"
	"statarb/internal/infra"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Submitter places one order at the exchange boundary.
type Submitter interface {
	PlaceOrder(ctx context.Context, t domain.OrderTicket) (domain.OrderAck, error)
}

// Pipeline validates orders, queues them, and runs the workers that format,
// sign and submit them. Failed orders are logged and dropped.
type Pipeline struct {
	queue      *Queue
	submitter  Submitter
	precisions Precisions
	metrics    *infra.Metrics
	workers    int
	newID      func() string
	logger     *slog.Logger
}

// NewPipeline wires a pipeline. workers < 1 is treated as 1.
func NewPipeline(submitter Submitter, precisions Precisions, metrics *infra.Metrics, workers, capacity int) *Pipeline {
	if workers < 1 {
		workers = 1
	}
	return &Pipeline{
		queue:      NewQueue(capacity),
		submitter:  submitter,
		precisions: precisions,
		metrics:    metrics,
		workers:    workers,
		newID:      uuid.NewString,
		logger:     slog.Default().With("module", "execution"),
	}
}

// Submit validates o and enqueues it. Closing orders jump ahead of every
// opening order. A quantity that floors to zero at the symbol's lot
// precision is refused here and never queued.
func (p *Pipeline) Submit(o domain.OrderRequest) error {
	switch {
	case o.Symbol == "":
		p.metrics.RecordRejected()
		return domain.ErrInvalidSymbol
	case o.Side != domain.SideBuy && o.Side != domain.SideSell:
		p.metrics.RecordRejected()
		return fmt.Errorf("invalid side %q", o.Side)
	case !(o.Quantity > 0):
		p.metrics.RecordRejected()
		return fmt.Errorf("%w: %s %v", domain.ErrInvalidQuantity, o.Symbol, o.Quantity)
	}
	if _, err := FormatQuantity(o.Quantity, p.precisions.Resolve(o.Symbol, o.Quantity)); err != nil {
		p.metrics.RecordRejected()
		return fmt.Errorf("%s: %w", o.Symbol, err)
	}
	return p.queue.Push(o)
}

// Pending returns the number of queued orders.
func (p *Pipeline) Pending() int {
	return p.queue.Len()
}

// Close stops accepting orders. Workers drain what is queued and exit.
func (p *Pipeline) Close() {
	p.queue.Close()
}

// Run starts the workers and blocks until ctx is done or the queue is
// closed and drained.
func (p *Pipeline) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		id := i
		g.Go(func() error {
			p.worker(ctx, id)
			return nil
		})
	}
	return g.Wait()
}

func (p *Pipeline) worker(ctx context.Context, id int) {
	logger := p.logger.With("worker", id)
	logger.Debug("Execution worker started")
	for {
		o, err := p.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, domain.ErrQueueClosed) || ctx.Err() != nil {
				logger.Debug("Execution worker stopping")
				return
			}
			logger.Error("Queue pop failed", slog.Any("error", err))
			continue
		}
		p.process(ctx, o, logger)
	}
}

// process handles one order; a panic here loses the order, not the worker.
func (p *Pipeline) process(ctx context.Context, o domain.OrderRequest, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("EXECUTION_PANIC", slog.Any("panic", r), slog.String("symbol", o.Symbol))
			p.metrics.RecordOrderFailure(o.Symbol)
		}
	}()

	// Submit already refused zero floors; this only guards direct queue use.
	precision := p.precisions.Resolve(o.Symbol, o.Quantity)
	qty, err := FormatQuantity(o.Quantity, precision)
	if err != nil {
		p.metrics.RecordRejected()
		logger.Warn("Order dropped before submission", slog.Any("error", err))
		return
	}

	ticket := domain.OrderTicket{
		Symbol:        o.Symbol,
		Side:          o.Side,
		Quantity:      qty,
		ReduceOnly:    o.IsClosing,
		ClientOrderID: p.newID(),
	}

	start := time.Now()
	ack, err := p.submitter.PlaceOrder(ctx, ticket)
	roundTrip := time.Since(start)
	if err != nil {
		p.metrics.RecordOrderFailure(o.Symbol)
		logger.Error("Order failed",
			slog.String("symbol", o.Symbol),
			slog.String("side", string(o.Side)),
			slog.String("qty", qty),
			slog.Bool("closing", o.IsClosing),
			slog.Any("error", err))
		return
	}

	var skew int64
	if ack.UpdateTime > 0 && ack.RequestTime > 0 {
		skew = ack.UpdateTime - ack.RequestTime
	}
	p.metrics.RecordOrder(o.Symbol, o.IsClosing, roundTrip, skew)
	logger.Info("Order acknowledged",
		slog.String("symbol", o.Symbol),
		slog.String("side", string(o.Side)),
		slog.String("qty", qty),
		slog.Bool("closing", o.IsClosing),
		slog.Int64("order_id", ack.OrderID),
		slog.String("client_order_id", ticket.ClientOrderID),
		slog.Duration("round_trip", roundTrip),
		slog.Int64("skew_ms", skew))
}
