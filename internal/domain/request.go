package domain

// RequestKind enumerates the requests the dispatcher sends to the manager.
type RequestKind uint8

const (
	RequestInvalid RequestKind = iota
	RequestStart
	RequestStop
	RequestOneshot
)

func (k RequestKind) String() string {
	switch k {
	case RequestStart:
		return "start"
	case RequestStop:
		return "stop"
	case RequestOneshot:
		return "oneshot"
	default:
		return "invalid"
	}
}

// StreamOptions are the per-subscription delivery settings.
type StreamOptions struct {
	Confirmable bool
	RepeatLast  bool
	// BatchSize is the number of samples per packet; values below 1 use the configured default.
	BatchSize int
}

// Request travels on the requests queue.
type Request struct {
	Kind      RequestKind
	Sensor    SensorType
	Ticket    Ticket
	Frequency int
	Options   StreamOptions
}

// CommandKind enumerates the commands the manager sends to the dispatcher.
type CommandKind uint8

const (
	CommandInvalid CommandKind = iota
	CommandStreamUpdate
	CommandOneshotDeliver
	CommandStreamStopped
)

func (k CommandKind) String() string {
	switch k {
	case CommandStreamUpdate:
		return "stream_update"
	case CommandOneshotDeliver:
		return "oneshot_deliver"
	case CommandStreamStopped:
		return "stream_stopped"
	default:
		return "invalid"
	}
}

// Command travels on the responses queue.
type Command struct {
	Kind        CommandKind
	Ticket      Ticket
	Confirmable bool
	Packet      *Packet
	// Report is set on a StreamUpdate that must be followed by a sender report.
	Report *ReportState
}
