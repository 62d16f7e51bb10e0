package queue

import (
	"sync"

	"github.com/ghalamif/SenseFlow/internal/domain"
)

// Unbounded is a mutex-guarded FIFO without a capacity limit.
type Unbounded[T any] struct {
	mu   sync.Mutex
	data []T
}

// CarrierQueue holds samples synthesized by carrier goroutines.
type CarrierQueue = Unbounded[domain.Sample]

func NewUnbounded[T any]() *Unbounded[T] {
	return &Unbounded[T]{}
}

func NewCarrierQueue() *CarrierQueue {
	return NewUnbounded[domain.Sample]()
}

func (q *Unbounded[T]) Push(item T) {
	q.mu.Lock()
	q.data = append(q.data, item)
	q.mu.Unlock()
}

// TryPop removes the oldest item without waiting.
func (q *Unbounded[T]) TryPop() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.data) == 0 {
		return item, false
	}
	item = q.data[0]
	var zero T
	q.data[0] = zero
	q.data = q.data[1:]
	if len(q.data) == 0 {
		q.data = nil
	}
	return item, true
}

func (q *Unbounded[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.data)
}
