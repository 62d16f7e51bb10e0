package domain

import "time"

// Packet is an encoded payload ready for the wire. It is immutable once built.
type Packet struct {
	Sensor SensorType
	// Generated is the generation time of the newest sample in the packet.
	Generated time.Time
	// RTPTimestamp is the synthetic protocol timestamp written in the payload.
	RTPTimestamp int32
	Payload      []byte
}

// Len returns the payload size in octets.
func (p *Packet) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Payload)
}

// ReportState is the stream accounting snapshot a sender report is built from.
type ReportState struct {
	PacketCount  uint32
	OctetCount   uint32
	RTPTimestamp int32
	LastSample   time.Time
}

// SenderReport pairs a wallclock instant with the synthetic timestamp a
// stream would carry at that instant, plus cumulative counts.
type SenderReport struct {
	Sensor       SensorType
	Ticket       Ticket
	NTP          time.Time
	RTPTimestamp int32
	PacketCount  uint32
	OctetCount   uint32
	CName        string
}
