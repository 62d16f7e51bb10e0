package senseflow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/ghalamif/SenseFlow/internal/adapters/transport/loopback"
	"github.com/ghalamif/SenseFlow/internal/app/wire"
	"github.com/ghalamif/SenseFlow/internal/ports"
)

// LocalPrefix marks endpoints served by the embedded loopback transport.
const LocalPrefix = "loopback:"

// ErrSubscriptionClosed is returned when a cancelled subscription is cancelled again.
var ErrSubscriptionClosed = errors.New("senseflow: subscription closed")

// ErrBatchTooLarge is returned when StreamOptions.BatchSize cannot fit one payload.
var ErrBatchTooLarge = errors.New("senseflow: batch size exceeds one payload")

// Subscription is an in-process observation of one sensor.
type Subscription struct {
	rt       *Runtime
	peer     ports.Endpoint
	token    string
	sensor   SensorType
	once     sync.Once
	onCancel func()
}

// Sensor is the observed sensor.
func (s *Subscription) Sensor() SensorType { return s.sensor }

// Cancel ends the observation; fn is not called after Cancel returns
// except for a delivery already in progress.
func (s *Subscription) Cancel() error {
	err := ErrSubscriptionClosed
	s.once.Do(func() {
		err = s.rt.local.Cancel(s.peer, s.token)
		s.rt.local.Detach(s.peer)
		if s.onCancel != nil {
			s.onCancel()
		}
	})
	return err
}

func (r *Runtime) newPeer() (ports.Endpoint, string) {
	n := r.peers.Add(1)
	return ports.Endpoint(LocalPrefix + strconv.FormatUint(n, 10)), "l" + strconv.FormatUint(n, 36)
}

// Subscribe observes sensor at frequency samples per second. fn runs on the
// dispatcher goroutine with each decoded DATAPOINT or SENDREPORT and must
// return quickly.
func (r *Runtime) Subscribe(sensor SensorType, frequency int, opts StreamOptions, fn func(Message)) (*Subscription, error) {
	if fn == nil {
		return nil, fmt.Errorf("subscribe %s: nil handler", sensor)
	}
	if limit := wire.MaxRecords(sensor); opts.BatchSize > limit {
		return nil, fmt.Errorf("subscribe %s: %w (%d > %d)", sensor, ErrBatchTooLarge, opts.BatchSize, limit)
	}
	peer, token := r.newPeer()
	r.local.Attach(peer, func(d loopback.Delivery) {
		msg, err := wire.Decode(d.Payload)
		if err != nil {
			r.obs.LogWarn("loopback_decode_failed",
				ports.Field{Key: "peer", Value: string(peer)},
				ports.Field{Key: "error", Value: err.Error()})
			return
		}
		fn(msg)
	})
	if err := r.local.Subscribe(peer, token, sensor, frequency, opts); err != nil {
		r.local.Detach(peer)
		return nil, err
	}
	return &Subscription{rt: r, peer: peer, token: token, sensor: sensor}, nil
}

// SubscribeChannel is Subscribe with deliveries on a channel. Messages are
// dropped while the channel is full; Cancel closes it.
func (r *Runtime) SubscribeChannel(sensor SensorType, frequency int, opts StreamOptions, buffer int) (*Subscription, <-chan Message, error) {
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan Message, buffer)
	var (
		mu     sync.Mutex
		closed bool
	)
	sub, err := r.Subscribe(sensor, frequency, opts, func(m Message) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- m:
		default:
		}
	})
	if err != nil {
		return nil, nil, err
	}
	sub.onCancel = func() {
		mu.Lock()
		closed = true
		close(ch)
		mu.Unlock()
	}
	return sub, ch, nil
}

// Fetch reads sensor once, waiting until ctx is done.
func (r *Runtime) Fetch(ctx context.Context, sensor SensorType) (Message, error) {
	peer, token := r.newPeer()
	got := make(chan Message, 1)
	r.local.Attach(peer, func(d loopback.Delivery) {
		msg, err := wire.Decode(d.Payload)
		if err != nil {
			return
		}
		select {
		case got <- msg:
		default:
		}
	})
	defer r.local.Detach(peer)

	if err := r.local.Fetch(peer, token, sensor); err != nil {
		return Message{}, err
	}
	select {
	case msg := <-got:
		return msg, nil
	case <-ctx.Done():
		return Message{}, fmt.Errorf("fetch %s: %w", sensor, ctx.Err())
	}
}
