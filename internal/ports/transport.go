package ports

import "github.com/ghalamif/SenseFlow/internal/domain"

// Endpoint addresses a remote subscriber ("host:port" for UDP, a name for loopback).
type Endpoint string

// EventKind enumerates inbound transport events.
type EventKind uint8

const (
	// EventSubscribe is an observe registration (or a refresh of an existing one).
	EventSubscribe EventKind = iota + 1
	// EventCancel is an observe deregistration, a reset, or a transport-side teardown.
	EventCancel
	// EventFetch is a plain one-shot read.
	EventFetch
)

func (k EventKind) String() string {
	switch k {
	case EventSubscribe:
		return "subscribe"
	case EventCancel:
		return "cancel"
	case EventFetch:
		return "fetch"
	default:
		return "unknown"
	}
}

// InboundEvent is what a transport surfaces to the dispatcher.
type InboundEvent struct {
	Kind      EventKind
	Peer      Endpoint
	Token     string
	Sensor    domain.SensorType
	Frequency int
	Options   domain.StreamOptions
}

// Transport moves encoded payloads to subscribers. Retransmission of
// reliable sends is the transport's own business; Send only reports whether
// the payload could be handed over.
type Transport interface {
	Send(dest Endpoint, token string, payload []byte, reliable bool) error
	// PollEvent never blocks; ok is false when no event is pending.
	PollEvent() (ev InboundEvent, ok bool)
	Close() error
}
