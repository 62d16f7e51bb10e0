package queue

import (
	"sync"
	"testing"

	"github.com/ghalamif/SenseFlow/internal/domain"
)

func TestCarrierQueueFIFO(t *testing.T) {
	q := NewCarrierQueue()

	for i := 0; i < 3; i++ {
		q.Push(domain.Sample{Sensor: domain.SensorProximity, Reading: domain.Scalar{Value: float64(i)}, Carrier: true})
	}
	if q.Len() != 3 {
		t.Fatalf("expected 3 samples, got %d", q.Len())
	}
	for i := 0; i < 3; i++ {
		s, ok := q.TryPop()
		if !ok {
			t.Fatalf("expected sample %d", i)
		}
		if v := s.Reading.(domain.Scalar).Value; v != float64(i) {
			t.Fatalf("expected value %d, got %f", i, v)
		}
	}
	if _, ok := q.TryPop(); ok {
		t.Fatalf("queue should be empty")
	}
}

func TestUnboundedConcurrentPush(t *testing.T) {
	q := NewUnbounded[int]()
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				q.Push(i)
			}
		}()
	}
	wg.Wait()
	if q.Len() != 1000 {
		t.Fatalf("expected 1000 items, got %d", q.Len())
	}
}
