package streaming

import (
	"sync"

	"github.com/ghalamif/SenseFlow/internal/domain"
)

// StartResult tells the caller what startStream did.
type StartResult int

const (
	StartCreated StartResult = iota
	StartReplaced
	StartFailed
)

func (r StartResult) String() string {
	switch r {
	case StartCreated:
		return "created"
	case StartReplaced:
		return "replaced"
	default:
		return "failed"
	}
}

// sensorState is the per-sensor bookkeeping. streams and oneshots belong to
// the manager goroutine; the fields under mu are shared with the carrier.
type sensorState struct {
	sensor  domain.SensorType
	profile Profile

	mu         sync.Mutex
	active     bool
	frequency  int
	generation uint64
	cached     domain.Sample
	cacheValid bool

	streams  []*stream
	oneshots []domain.Ticket
}

func newSensorState(sensor domain.SensorType, profile Profile) *sensorState {
	return &sensorState{sensor: sensor, profile: profile}
}

func (st *sensorState) isActive() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.active
}

func (st *sensorState) currentFrequency() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.frequency
}

func (st *sensorState) cachedSample() (domain.Sample, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.cached, st.cacheValid
}

func (st *sensorState) storeSample(s domain.Sample) {
	st.mu.Lock()
	st.cached = s
	st.cacheValid = true
	st.mu.Unlock()
}

func (st *sensorState) findStream(t domain.Ticket) (int, *stream) {
	for i, s := range st.streams {
		if s.ticket == t {
			return i, s
		}
	}
	return -1, nil
}

func (st *sensorState) findOneshot(t domain.Ticket) int {
	for i, o := range st.oneshots {
		if o == t {
			return i
		}
	}
	return -1
}

// startStream inserts s, discarding any stream already bound to the same ticket.
func (st *sensorState) startStream(s *stream) StartResult {
	if i, _ := st.findStream(s.ticket); i >= 0 {
		st.streams = append(st.streams[:i], st.streams[i+1:]...)
		st.streams = append(st.streams, s)
		return StartReplaced
	}
	st.streams = append(st.streams, s)
	return StartCreated
}

// stopStream removes the stream bound to t and reports whether one existed.
func (st *sensorState) stopStream(t domain.Ticket) bool {
	i, _ := st.findStream(t)
	if i < 0 {
		return false
	}
	st.streams = append(st.streams[:i], st.streams[i+1:]...)
	return true
}

func (st *sensorState) addOneshot(t domain.Ticket) {
	if st.findOneshot(t) >= 0 {
		return
	}
	st.oneshots = append(st.oneshots, t)
}

// maxStreamFrequency is the highest frequency requested by a live stream.
func (st *sensorState) maxStreamFrequency() int {
	highest := 0
	for _, s := range st.streams {
		if s.frequency > highest {
			highest = s.frequency
		}
	}
	return highest
}

func (st *sensorState) idle() bool {
	return len(st.streams) == 0 && len(st.oneshots) == 0
}
