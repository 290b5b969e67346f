package execution

import (
	"context"
	"errors"
	"sync"

	"statarb/internal/domain"
)

// ErrQueueFull is returned when the opening lane is at capacity.
var ErrQueueFull = errors.New("order queue full")

// Queue is a two-lane FIFO. Closing orders are always admitted and always
// served before any opening order; the opening lane is bounded.
type Queue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	closing  []domain.OrderRequest
	opening  []domain.OrderRequest
	capacity int
	closed   bool
}

// NewQueue creates a queue whose opening lane holds at most capacity orders.
// capacity <= 0 means unbounded.
func NewQueue(capacity int) *Queue {
	q := &Queue{capacity: capacity}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues o and wakes one waiting worker.
func (q *Queue) Push(o domain.OrderRequest) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return domain.ErrQueueClosed
	}
	if o.IsClosing {
		q.closing = append(q.closing, o)
	} else {
		if q.capacity > 0 && len(q.opening) >= q.capacity {
			return ErrQueueFull
		}
		q.opening = append(q.opening, o)
	}
	q.cond.Signal()
	return nil
}

// Pop blocks until an order is available, the queue is closed and drained,
// or ctx is done.
func (q *Queue) Pop(ctx context.Context) (domain.OrderRequest, error) {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.closing) == 0 && len(q.opening) == 0 && !q.closed && ctx.Err() == nil {
		q.cond.Wait()
	}
	if err := ctx.Err(); err != nil {
		return domain.OrderRequest{}, err
	}

	switch {
	case len(q.closing) > 0:
		o := q.closing[0]
		q.closing[0] = domain.OrderRequest{}
		q.closing = q.closing[1:]
		return o, nil
	case len(q.opening) > 0:
		o := q.opening[0]
		q.opening[0] = domain.OrderRequest{}
		q.opening = q.opening[1:]
		return o, nil
	default:
		return domain.OrderRequest{}, domain.ErrQueueClosed
	}
}

// Close rejects further pushes and wakes every waiter. Orders already
// queued can still be popped.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Len returns the number of queued orders in both lanes.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.closing) + len(q.opening)
}
