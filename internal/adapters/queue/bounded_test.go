package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ghalamif/SenseFlow/internal/domain"
	"github.com/ghalamif/SenseFlow/internal/errs"
)

func TestBoundedPutGetOrder(t *testing.T) {
	q := NewBounded[domain.Request](4, time.Second)
	ctx := context.Background()

	r1 := domain.Request{Kind: domain.RequestStart, Ticket: domain.NewTicket()}
	r2 := domain.Request{Kind: domain.RequestStop, Ticket: domain.NewTicket()}

	if err := q.Put(ctx, r1); err != nil {
		t.Fatalf("put r1: %v", err)
	}
	if err := q.Put(ctx, r2); err != nil {
		t.Fatalf("put r2: %v", err)
	}

	got, ok := q.TryGet()
	if !ok || got.Ticket != r1.Ticket {
		t.Fatalf("unexpected first item: %+v ok=%v", got, ok)
	}
	got, ok = q.TryGet()
	if !ok || got.Ticket != r2.Ticket {
		t.Fatalf("unexpected second item: %+v ok=%v", got, ok)
	}
	if q.Len() != 0 {
		t.Fatalf("queue should be empty, got %d", q.Len())
	}
}

func TestBoundedTryGetEmptyDoesNotBlock(t *testing.T) {
	q := NewBounded[domain.Command](2, time.Second)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if cmd, ok := q.TryGet(); ok || cmd.Kind != domain.CommandInvalid {
			t.Errorf("expected invalid sentinel from empty queue, got %+v ok=%v", cmd, ok)
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("TryGet blocked on an empty queue")
	}
}

func TestBoundedPutTimesOutWhenFull(t *testing.T) {
	q := NewBounded[int](2, 20*time.Millisecond)
	ctx := context.Background()

	if err := q.Put(ctx, 1); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := q.Put(ctx, 2); err != nil {
		t.Fatalf("put: %v", err)
	}

	start := time.Now()
	err := q.Put(ctx, 3)
	if !errors.Is(err, errs.ErrTimedOut) {
		t.Fatalf("expected ErrTimedOut, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Fatalf("put returned before the deadline: %s", elapsed)
	}
	if q.Cap() != 2 || q.Len() != 2 {
		t.Fatalf("unexpected len/cap %d/%d", q.Len(), q.Cap())
	}
}

func TestBoundedPutSucceedsOnceRoomFrees(t *testing.T) {
	q := NewBounded[int](1, time.Second)
	ctx := context.Background()
	if err := q.Put(ctx, 1); err != nil {
		t.Fatalf("put: %v", err)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.TryGet()
	}()

	if err := q.Put(ctx, 2); err != nil {
		t.Fatalf("expected put to succeed after a get, got %v", err)
	}
}

func TestBoundedPutHonoursContext(t *testing.T) {
	q := NewBounded[int](1, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	if err := q.Put(ctx, 1); err != nil {
		t.Fatalf("put: %v", err)
	}
	cancel()
	if err := q.Put(ctx, 2); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
