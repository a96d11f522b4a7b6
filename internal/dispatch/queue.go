// Package dispatch accepts TCP connections and hands them to a fixed pool of
// workers through an unbounded FIFO queue. Each worker serves one connection
// to completion before taking the next.
package dispatch

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed is returned by Push and Pop once the queue has been closed.
var ErrQueueClosed = errors.New("queue closed")

// Queue is an unbounded FIFO safe for concurrent producers and consumers.
type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	closed bool
}

// NewQueue creates an empty open Queue.
func NewQueue[T any]() *Queue[T] {
	q := &Queue[T]{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends item and wakes one waiting consumer. It never blocks on
// capacity.
//
// Postcondition: Returns ErrQueueClosed if the queue is closed, in which case
// the caller still owns item.
func (q *Queue[T]) Push(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.items = append(q.items, item)
	q.cond.Signal()
	return nil
}

// Pop removes and returns the oldest item, blocking until one is available.
//
// Postcondition: Returns an item and nil, or the zero value and ctx.Err() if
// ctx ends first, or ErrQueueClosed once the queue is closed.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	var zero T

	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.cond.Broadcast()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed && ctx.Err() == nil {
		q.cond.Wait()
	}
	if err := ctx.Err(); err != nil {
		// Pass on a Signal this waiter may have consumed.
		if len(q.items) > 0 {
			q.cond.Signal()
		}
		return zero, err
	}
	if len(q.items) == 0 {
		return zero, ErrQueueClosed
	}

	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return item, nil
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close marks the queue closed, wakes every waiter, and returns the items
// that were never popped. Closing twice returns nil.
func (q *Queue[T]) Close() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	pending := q.items
	q.items = nil
	q.cond.Broadcast()
	return pending
}
