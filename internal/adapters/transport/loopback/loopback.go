// Package loopback is an in-process transport: Go code subscribes through
// it and receives payloads on callbacks instead of a socket.
package loopback

import (
	"sync"

	"github.com/ghalamif/SenseFlow/internal/domain"
	"github.com/ghalamif/SenseFlow/internal/errs"
	"github.com/ghalamif/SenseFlow/internal/ports"
)

const DefaultEventQueue = 256

// Delivery is one payload handed to a peer.
type Delivery struct {
	Token       string
	Confirmable bool
	Payload     []byte
}

// Handler receives deliveries on the dispatcher's goroutine and must not block.
type Handler func(Delivery)

type Transport struct {
	events chan ports.InboundEvent

	mu     sync.RWMutex
	peers  map[ports.Endpoint]Handler
	closed bool
}

func New(queue int) *Transport {
	if queue <= 0 {
		queue = DefaultEventQueue
	}
	return &Transport{
		events: make(chan ports.InboundEvent, queue),
		peers:  make(map[ports.Endpoint]Handler),
	}
}

// Attach routes deliveries for peer to h.
func (t *Transport) Attach(peer ports.Endpoint, h Handler) {
	t.mu.Lock()
	t.peers[peer] = h
	t.mu.Unlock()
}

// Detach stops deliveries to peer; later sends to it fail.
func (t *Transport) Detach(peer ports.Endpoint) {
	t.mu.Lock()
	delete(t.peers, peer)
	t.mu.Unlock()
}

func (t *Transport) Subscribe(peer ports.Endpoint, token string, sensor domain.SensorType, frequency int, opts domain.StreamOptions) error {
	return t.push(ports.InboundEvent{Kind: ports.EventSubscribe, Peer: peer, Token: token, Sensor: sensor, Frequency: frequency, Options: opts})
}

func (t *Transport) Cancel(peer ports.Endpoint, token string) error {
	return t.push(ports.InboundEvent{Kind: ports.EventCancel, Peer: peer, Token: token})
}

func (t *Transport) Fetch(peer ports.Endpoint, token string, sensor domain.SensorType) error {
	return t.push(ports.InboundEvent{Kind: ports.EventFetch, Peer: peer, Token: token, Sensor: sensor})
}

func (t *Transport) push(ev ports.InboundEvent) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return errs.WrapTransient(errs.ErrClosed, "loopback", "push", ev.Kind.String())
	}
	select {
	case t.events <- ev:
		return nil
	default:
		return errs.WrapTransient(errs.ErrTimedOut, "loopback", "push", ev.Kind.String())
	}
}

func (t *Transport) PollEvent() (ports.InboundEvent, bool) {
	select {
	case ev := <-t.events:
		return ev, true
	default:
		return ports.InboundEvent{}, false
	}
}

func (t *Transport) Send(dest ports.Endpoint, token string, payload []byte, reliable bool) error {
	t.mu.RLock()
	h, ok := t.peers[dest]
	closed := t.closed
	t.mu.RUnlock()
	if closed {
		return errs.WrapTransient(errs.ErrClosed, "loopback", "Send", "deliver")
	}
	if !ok {
		return errs.WrapTransient(errs.ErrNotFound, "loopback", "Send", "deliver to "+string(dest))
	}
	h(Delivery{Token: token, Confirmable: reliable, Payload: append([]byte(nil), payload...)})
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.peers = make(map[ports.Endpoint]Handler)
	t.mu.Unlock()
	return nil
}

var _ ports.Transport = (*Transport)(nil)
