package streaming

import "github.com/ghalamif/SenseFlow/internal/domain"

const (
	DefaultClockHz            = 200
	DefaultRTPTimestampStart  = 450
	DefaultFrequency          = 10
	DefaultBandwidthThreshold = 1000
)

// Profile describes how one sensor is driven.
type Profile struct {
	// MaxFrequency caps requested frequencies; 0 means uncapped.
	MaxFrequency int
	// Carrier sensors only report on change, so a carrier goroutine
	// re-publishes their cached value at the negotiated frequency.
	Carrier bool
}

// Settings holds the streaming constants.
type Settings struct {
	ClockHz            int
	RTPTimestampStart  int32
	DefaultFrequency   int
	BandwidthThreshold uint32
	SamplesPerPacket   int
	Profiles           map[domain.SensorType]Profile
}

// DefaultSettings returns the stock constants with carriers on proximity and location.
func DefaultSettings() Settings {
	return Settings{
		ClockHz:            DefaultClockHz,
		RTPTimestampStart:  DefaultRTPTimestampStart,
		DefaultFrequency:   DefaultFrequency,
		BandwidthThreshold: DefaultBandwidthThreshold,
		SamplesPerPacket:   1,
		Profiles: map[domain.SensorType]Profile{
			domain.SensorAccelerometer: {MaxFrequency: 100},
			domain.SensorGyroscope:     {MaxFrequency: 200},
			domain.SensorLight:         {MaxFrequency: 200},
			domain.SensorProximity:     {Carrier: true},
			domain.SensorLocation:      {Carrier: true},
		},
	}
}

func (s *Settings) applyDefaults() {
	if s.ClockHz <= 0 {
		s.ClockHz = DefaultClockHz
	}
	if s.BandwidthThreshold == 0 {
		s.BandwidthThreshold = DefaultBandwidthThreshold
	}
	if s.DefaultFrequency <= 0 {
		s.DefaultFrequency = DefaultFrequency
	}
	if s.SamplesPerPacket <= 0 {
		s.SamplesPerPacket = 1
	}
	if s.Profiles == nil {
		s.Profiles = map[domain.SensorType]Profile{}
	}
}
