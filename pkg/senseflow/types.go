package senseflow

import (
	"github.com/ghalamif/SenseFlow/internal/app/wire"
	"github.com/ghalamif/SenseFlow/internal/domain"
	"github.com/ghalamif/SenseFlow/internal/ports"
)

// SensorType identifies a sensor in the catalog.
type SensorType = domain.SensorType

const (
	SensorAccelerometer      = domain.SensorAccelerometer
	SensorMagneticField      = domain.SensorMagneticField
	SensorOrientation        = domain.SensorOrientation
	SensorGyroscope          = domain.SensorGyroscope
	SensorLight              = domain.SensorLight
	SensorPressure           = domain.SensorPressure
	SensorTemperature        = domain.SensorTemperature
	SensorProximity          = domain.SensorProximity
	SensorGravity            = domain.SensorGravity
	SensorLinearAcceleration = domain.SensorLinearAcceleration
	SensorRotationVector     = domain.SensorRotationVector
	SensorRelativeHumidity   = domain.SensorRelativeHumidity
	SensorAmbientTemperature = domain.SensorAmbientTemperature
	SensorLocation           = domain.SensorLocation
)

type (
	// Sample is one reading flowing from a source into the streaming manager.
	Sample = domain.Sample
	// Reading is the sensor-specific value; see Vector3, Scalar and Position.
	Reading  = domain.Reading
	Vector3  = domain.Vector3
	Scalar   = domain.Scalar
	Position = domain.Position
	// StreamOptions tunes one subscription (confirmable delivery, batching, repeat-last).
	StreamOptions = domain.StreamOptions
	// SenderReport pairs a wallclock with a stream's synthetic timestamp.
	SenderReport = domain.SenderReport

	// Message is one decoded payload delivered to an embedded subscriber.
	Message = wire.Message
	// Datapoint is the data body of a Message.
	Datapoint = wire.Datapoint
)

type (
	// SensorSource produces samples for activated sensors (simulators, OPC UA, drivers).
	SensorSource = ports.SensorSource
	// Transport carries payloads to subscribers and surfaces their requests.
	Transport = ports.Transport
	// Endpoint addresses a subscriber on a Transport.
	Endpoint = ports.Endpoint
	// InboundEvent is a subscriber request surfaced by a Transport.
	InboundEvent = ports.InboundEvent
	// ReportArchive persists sender reports.
	ReportArchive = ports.ReportArchive
	// Transformer adjusts fresh samples before they are streamed.
	Transformer = ports.Transformer
	// Observability receives logs and metrics from the core loops.
	Observability = ports.Observability
	// Field is a structured log attribute.
	Field = ports.Field
)

// ParseSensorType accepts a catalog name ("accelerometer") or its number ("1").
func ParseSensorType(name string) (SensorType, error) {
	return domain.ParseSensorType(name)
}
