// Package order holds the proposal queue, the order-intent outbox and the
// simulated gateway used in dry-run mode.
package order

import (
	"context"

	"equity-core/internal/model"
)

// Queue buffers strategy proposals before the single submitter drains them.
type Queue struct {
	ch chan model.Order
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 100
	}
	return &Queue{ch: make(chan model.Order, size)}
}

// Enqueue blocks until the proposal is queued or ctx is done.
func (q *Queue) Enqueue(ctx context.Context, o model.Order) bool {
	select {
	case q.ch <- o:
		return true
	case <-ctx.Done():
		return false
	}
}

func (q *Queue) Len() int {
	return len(q.ch)
}

// Drain consumes proposals with a handler until context is canceled.
func (q *Queue) Drain(ctx context.Context, handler func(model.Order)) {
	for {
		select {
		case <-ctx.Done():
			return
		case o := <-q.ch:
			handler(o)
		}
	}
}
