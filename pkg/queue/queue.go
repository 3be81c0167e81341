// ABOUTME: Bounded FIFO channel connecting pipeline stages
// ABOUTME: Blocking push/pop, non-blocking try-pop, disconnect detection on both ends
package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// DefaultCapacity caps in-flight buffering to two items per hop
const DefaultCapacity = 2

var (
	// ErrDisconnected is returned when the other end of the queue is gone
	ErrDisconnected = errors.New("queue disconnected")
	// ErrEmpty is returned by TryPop when no item is ready
	ErrEmpty = errors.New("queue empty")
)

// Bounded is a single-producer single-consumer FIFO with fixed capacity.
//
// The producer calls CloseSend when it will push no more; the consumer
// drains the remaining items and then sees ErrDisconnected. The consumer
// calls CloseRecv when it stops reading; any blocked or later Push fails
// with ErrDisconnected.
type Bounded[T any] struct {
	items      chan T
	recvGone   chan struct{}
	sendClosed atomic.Bool
	sendOnce   sync.Once
	recvOnce   sync.Once
}

// New creates a queue holding at most capacity items
func New[T any](capacity int) *Bounded[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Bounded[T]{
		items:    make(chan T, capacity),
		recvGone: make(chan struct{}),
	}
}

// Push blocks until v is queued, the consumer disconnects or ctx ends
func (q *Bounded[T]) Push(ctx context.Context, v T) error {
	if q.sendClosed.Load() {
		return ErrDisconnected
	}
	select {
	case <-q.recvGone:
		return ErrDisconnected
	default:
	}

	select {
	case q.items <- v:
		return nil
	case <-q.recvGone:
		return ErrDisconnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop blocks until an item is available, the producer has closed and the
// queue is drained, or ctx ends
func (q *Bounded[T]) Pop(ctx context.Context) (T, error) {
	var zero T
	select {
	case v, ok := <-q.items:
		if !ok {
			return zero, ErrDisconnected
		}
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// TryPop returns the next item without blocking
func (q *Bounded[T]) TryPop() (T, error) {
	var zero T
	select {
	case v, ok := <-q.items:
		if !ok {
			return zero, ErrDisconnected
		}
		return v, nil
	default:
		return zero, ErrEmpty
	}
}

// CloseSend marks the producer side finished. Safe to call more than once.
func (q *Bounded[T]) CloseSend() {
	q.sendOnce.Do(func() {
		q.sendClosed.Store(true)
		close(q.items)
	})
}

// CloseRecv marks the consumer side gone. Safe to call more than once.
func (q *Bounded[T]) CloseRecv() {
	q.recvOnce.Do(func() {
		close(q.recvGone)
	})
}

// Len returns the number of queued items
func (q *Bounded[T]) Len() int {
	return len(q.items)
}

// Cap returns the queue capacity
func (q *Bounded[T]) Cap() int {
	return cap(q.items)
}
