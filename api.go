package senseflow

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	base "github.com/ghalamif/SenseFlow/pkg/senseflow"
)

// Re-exported errors for convenience.
var (
	ErrSubscriptionClosed = base.ErrSubscriptionClosed
	ErrBatchTooLarge      = base.ErrBatchTooLarge
)

// Type aliases so consumers can import github.com/ghalamif/SenseFlow directly.
type (
	Config          = base.Config
	Policy          = base.Policy
	StreamingConfig = base.StreamingConfig
	SensorConfig    = base.SensorConfig
	DispatchConfig  = base.DispatchConfig
	SourceConfig    = base.SourceConfig
	OPCUAConfig     = base.OPCUAConfig
	OPCUANodeConfig = base.OPCUANodeConfig
	TransportConfig = base.TransportConfig
	UDPConfig       = base.UDPConfig
	ArchiveConfig   = base.ArchiveConfig
	MetricsConfig   = base.MetricsConfig
	LogConfig       = base.LogConfig
	Flow            = base.Flow
	FlowOption      = base.FlowOption
	StreamInOption  = base.StreamInOption
	StreamOutOption = base.StreamOutOption
	Runtime         = base.Runtime
	RuntimeOption   = base.RuntimeOption
	Subscription    = base.Subscription
	SensorType      = base.SensorType
	Sample          = base.Sample
	Reading         = base.Reading
	Vector3         = base.Vector3
	Scalar          = base.Scalar
	Position        = base.Position
	StreamOptions   = base.StreamOptions
	SenderReport    = base.SenderReport
	Message         = base.Message
	Datapoint       = base.Datapoint
	SensorSource    = base.SensorSource
	Transport       = base.Transport
	Endpoint        = base.Endpoint
	InboundEvent    = base.InboundEvent
	ReportArchive   = base.ReportArchive
	Transformer     = base.Transformer
	Observability   = base.Observability
	Field           = base.Field
)

// Sensor catalog.
const (
	SensorAccelerometer      = base.SensorAccelerometer
	SensorMagneticField      = base.SensorMagneticField
	SensorOrientation        = base.SensorOrientation
	SensorGyroscope          = base.SensorGyroscope
	SensorLight              = base.SensorLight
	SensorPressure           = base.SensorPressure
	SensorTemperature        = base.SensorTemperature
	SensorProximity          = base.SensorProximity
	SensorGravity            = base.SensorGravity
	SensorLinearAcceleration = base.SensorLinearAcceleration
	SensorRotationVector     = base.SensorRotationVector
	SensorRelativeHumidity   = base.SensorRelativeHumidity
	SensorAmbientTemperature = base.SensorAmbientTemperature
	SensorLocation           = base.SensorLocation
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

func DefaultConfig() *Config {
	return base.DefaultConfig()
}

func ParseSensorType(name string) (SensorType, error) {
	return base.ParseSensorType(name)
}

// Flow builder helpers.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	return base.Conf(path, opts...)
}

func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	return base.ConfFromConfig(cfg, opts...)
}

func WithFlowOptions(opts ...RuntimeOption) FlowOption {
	return base.WithFlowOptions(opts...)
}

func StreamInSource(src SensorSource) StreamInOption {
	return base.StreamInSource(src)
}

func StreamInTransformer(tr Transformer) StreamInOption {
	return base.StreamInTransformer(tr)
}

func StreamInObservability(obs Observability) StreamInOption {
	return base.StreamInObservability(obs)
}

func StreamOutTransport(t Transport) StreamOutOption {
	return base.StreamOutTransport(t)
}

func StreamOutArchive(a ReportArchive) StreamOutOption {
	return base.StreamOutArchive(a)
}

func StreamOutObservability(obs Observability) StreamOutOption {
	return base.StreamOutObservability(obs)
}

// Runtime and options.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	return base.NewRuntime(cfg, opts...)
}

func WithSource(src SensorSource) RuntimeOption {
	return base.WithSource(src)
}

func WithTransport(t Transport) RuntimeOption {
	return base.WithTransport(t)
}

func WithArchive(a ReportArchive) RuntimeOption {
	return base.WithArchive(a)
}

func WithTransformer(tr Transformer) RuntimeOption {
	return base.WithTransformer(tr)
}

func WithObservability(obs Observability) RuntimeOption {
	return base.WithObservability(obs)
}

func WithLogger(l *slog.Logger) RuntimeOption {
	return base.WithLogger(l)
}

func WithRegistry(reg *prometheus.Registry) RuntimeOption {
	return base.WithRegistry(reg)
}

func WithoutMetricsServer() RuntimeOption {
	return base.WithoutMetricsServer()
}
