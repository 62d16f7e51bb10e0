package senseflow

import (
	"github.com/ghalamif/SenseFlow/internal/adapters/opcua"
	"github.com/ghalamif/SenseFlow/internal/adapters/transport/udp"
	"github.com/ghalamif/SenseFlow/internal/app/config"
	"github.com/ghalamif/SenseFlow/internal/ports"
)

// Config re-exports the root configuration struct so downstream projects can
// construct or modify it programmatically.
type Config = config.Config

type (
	// Policy sizes the queues and paces the worker loops.
	Policy = ports.Policy
	// StreamingConfig holds the stream clock and per-sensor overrides.
	StreamingConfig = config.StreamingConfig
	// SensorConfig overrides one sensor's profile.
	SensorConfig = config.SensorConfig
	// DispatchConfig tunes delivery to subscribers.
	DispatchConfig = config.DispatchConfig
	// SourceConfig selects the sensor source.
	SourceConfig = config.SourceConfig
	// OPCUAConfig holds connection + node details.
	OPCUAConfig = opcua.Config
	// OPCUANodeConfig binds a node to a sensor axis.
	OPCUANodeConfig = opcua.NodeConfig
	// TransportConfig selects the subscriber transport.
	TransportConfig = config.TransportConfig
	// UDPConfig configures the datagram listener.
	UDPConfig = udp.Config
	// ArchiveConfig configures sender report persistence.
	ArchiveConfig = config.ArchiveConfig
	// MetricsConfig configures the metrics HTTP server.
	MetricsConfig = config.MetricsConfig
	// LogConfig selects log level and format.
	LogConfig = config.LogConfig
)

// LoadConfig loads YAML from disk using the internal config reader.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// DefaultConfig returns a validated config with every default applied:
// simulated sensors served over UDP.
func DefaultConfig() *Config {
	return config.Default()
}
