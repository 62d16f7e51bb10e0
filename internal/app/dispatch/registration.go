package dispatch

import (
	"time"

	"github.com/ghalamif/SenseFlow/internal/domain"
	"github.com/ghalamif/SenseFlow/internal/ports"
)

// registration is one observing subscriber. It is referenced by the
// transport (until the subscriber cancels) and by the manager (until it
// reports StreamStopped); it is destroyed when both have let go.
type registration struct {
	ticket domain.Ticket
	key    uint64
	peer   ports.Endpoint
	token  string
	sensor domain.SensorType

	refs          int
	transportHeld bool
	managerHeld   bool

	failures      int
	nonCount      int
	notifications uint64
	packets       uint64
	octets        uint64
	lastReport    time.Time
}

func newRegistration(ev ports.InboundEvent) *registration {
	return &registration{
		ticket:        domain.NewTicket(),
		key:           registrationKey(ev.Peer, ev.Token),
		peer:          ev.Peer,
		token:         ev.Token,
		sensor:        ev.Sensor,
		refs:          1,
		transportHeld: true,
	}
}

// asyncTxn is a pending fetch waiting for its one-shot answer.
type asyncTxn struct {
	ticket  domain.Ticket
	peer    ports.Endpoint
	token   string
	sensor  domain.SensorType
	created time.Time
}

