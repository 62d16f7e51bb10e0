package queue

import (
	"context"
	"time"

	"github.com/ghalamif/SenseFlow/internal/domain"
	"github.com/ghalamif/SenseFlow/internal/errs"
	"github.com/ghalamif/SenseFlow/internal/ports"
)

// DefaultPutTimeout bounds how long Put waits for room.
const DefaultPutTimeout = 2 * time.Second

// Bounded is a fixed-capacity FIFO. Put waits at most the configured timeout
// for room and then fails with errs.ErrTimedOut; TryGet never waits.
type Bounded[T any] struct {
	ch      chan T
	timeout time.Duration
}

func NewBounded[T any](capacity int, timeout time.Duration) *Bounded[T] {
	if capacity <= 0 {
		capacity = 1
	}
	if timeout <= 0 {
		timeout = DefaultPutTimeout
	}
	return &Bounded[T]{
		ch:      make(chan T, capacity),
		timeout: timeout,
	}
}

// Put appends item, waiting while the queue is full.
func (q *Bounded[T]) Put(ctx context.Context, item T) error {
	select {
	case q.ch <- item:
		return nil
	default:
	}

	timer := time.NewTimer(q.timeout)
	defer timer.Stop()

	select {
	case q.ch <- item:
		return nil
	case <-timer.C:
		return errs.ErrTimedOut
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryGet pops the oldest item; ok is false when the queue is empty.
func (q *Bounded[T]) TryGet() (item T, ok bool) {
	select {
	case item = <-q.ch:
		return item, true
	default:
		return item, false
	}
}

func (q *Bounded[T]) Len() int { return len(q.ch) }

func (q *Bounded[T]) Cap() int { return cap(q.ch) }

var (
	_ ports.RequestQueue = (*Bounded[domain.Request])(nil)
	_ ports.CommandQueue = (*Bounded[domain.Command])(nil)
)
