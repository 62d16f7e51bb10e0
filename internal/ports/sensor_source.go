package ports

import "github.com/ghalamif/SenseFlow/internal/domain"

// SensorSource is the hardware-facing sampling layer. Frequencies are in
// samples per second; translating to native units is the adapter's job.
type SensorSource interface {
	Activate(sensor domain.SensorType, frequency int) error
	SetFrequency(sensor domain.SensorType, frequency int) error
	Deactivate(sensor domain.SensorType) error
	// PollNextEvent never blocks; ok is false when no sample is pending.
	PollNextEvent() (sample domain.Sample, ok bool)
}
