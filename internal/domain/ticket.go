package domain

import "github.com/google/uuid"

// Ticket is the only handle exchanged between the dispatcher and the
// streaming manager. It identifies either a persistent subscription or a
// one-shot transaction and carries no ownership.
type Ticket uuid.UUID

// NoTicket is the zero Ticket.
var NoTicket Ticket

// NewTicket mints a fresh random ticket.
func NewTicket() Ticket { return Ticket(uuid.New()) }

// ParseTicket decodes the textual form produced by String.
func ParseTicket(s string) (Ticket, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return NoTicket, err
	}
	return Ticket(id), nil
}

func (t Ticket) String() string { return uuid.UUID(t).String() }

// IsZero reports whether t is NoTicket.
func (t Ticket) IsZero() bool { return t == NoTicket }
