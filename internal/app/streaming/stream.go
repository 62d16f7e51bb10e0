package streaming

import (
	"time"

	"github.com/ghalamif/SenseFlow/internal/app/wire"
	"github.com/ghalamif/SenseFlow/internal/domain"
)

// stream is one live subscription of a sensor to a ticket. It is owned by
// the manager goroutine.
type stream struct {
	ticket      domain.Ticket
	sensor      domain.SensorType
	frequency   int
	confirmable bool
	repeatLast  bool
	batch       int
	buf         []domain.Sample

	lastRTP       int32
	lastWallclock time.Time
	samplesSent   uint64

	octetCount        uint32
	packetCount       uint32
	lastReportOctets  uint32
	lastReportPackets uint32
}

func newStream(req domain.Request, frequency int, set Settings) *stream {
	batch := req.Options.BatchSize
	if batch <= 0 {
		batch = set.SamplesPerPacket
	}
	if limit := wire.MaxRecords(req.Sensor); batch > limit {
		batch = limit
	}
	if req.Options.RepeatLast {
		batch = 2
	}
	return &stream{
		ticket:      req.Ticket,
		sensor:      req.Sensor,
		frequency:   frequency,
		confirmable: req.Options.Confirmable,
		repeatLast:  req.Options.RepeatLast,
		batch:       batch,
		buf:         make([]domain.Sample, 0, batch),
		lastRTP:     set.RTPTimestampStart,
	}
}

// increment is the synthetic clock advance per sample.
func (s *stream) increment(clockHz int) int32 {
	if s.frequency <= 0 {
		return int32(clockHz)
	}
	inc := clockHz / s.frequency
	if inc < 1 {
		inc = 1
	}
	return int32(inc)
}

// push buffers sample and, once a packet is due, returns the StreamUpdate to
// send. ready is false while the buffer is still filling.
func (s *stream) push(sample domain.Sample, set Settings) (cmd domain.Command, ready bool, err error) {
	s.lastRTP += s.increment(set.ClockHz)
	s.lastWallclock = sample.Timestamp
	s.samplesSent++

	if s.repeatLast {
		if len(s.buf) == 2 {
			s.buf[0] = s.buf[1]
			s.buf = s.buf[:1]
		}
		s.buf = append(s.buf, sample)
	} else {
		s.buf = append(s.buf, sample)
		if len(s.buf) < s.batch {
			return domain.Command{}, false, nil
		}
	}

	readings := make([]domain.Reading, len(s.buf))
	for i, b := range s.buf {
		readings[i] = b.Reading
	}
	if !s.repeatLast {
		s.buf = s.buf[:0]
	}

	payload, err := wire.EncodeDatapoint(s.sensor, s.lastRTP, readings)
	if err != nil {
		return domain.Command{}, false, err
	}

	s.packetCount++
	s.octetCount += uint32(len(payload))

	cmd = domain.Command{
		Kind:        domain.CommandStreamUpdate,
		Ticket:      s.ticket,
		Confirmable: s.confirmable,
		Packet: &domain.Packet{
			Sensor:       s.sensor,
			Generated:    s.lastWallclock,
			RTPTimestamp: s.lastRTP,
			Payload:      payload,
		},
	}
	if s.reportDue(set.BandwidthThreshold) {
		s.lastReportOctets = s.octetCount
		s.lastReportPackets = s.packetCount
		cmd.Report = &domain.ReportState{
			PacketCount:  s.packetCount,
			OctetCount:   s.octetCount,
			RTPTimestamp: s.lastRTP,
			LastSample:   s.lastWallclock,
		}
	}
	return cmd, true, nil
}

// reportDue fires on the first packet and whenever the octets sent since the
// last report exceed the bandwidth threshold.
func (s *stream) reportDue(threshold uint32) bool {
	return s.packetCount == 1 || s.octetCount > s.lastReportOctets+threshold
}
