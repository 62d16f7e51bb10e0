package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ghalamif/SenseFlow/internal/adapters/opcua"
	"github.com/ghalamif/SenseFlow/internal/adapters/transport/udp"
	"github.com/ghalamif/SenseFlow/internal/app/dispatch"
	"github.com/ghalamif/SenseFlow/internal/app/streaming"
	"github.com/ghalamif/SenseFlow/internal/domain"
	"github.com/ghalamif/SenseFlow/internal/errs"
	"github.com/ghalamif/SenseFlow/internal/ports"
)

const (
	SourceSimulated = "simulated"
	SourceOPCUA     = "opcua"

	TransportUDP      = "udp"
	TransportLoopback = "loopback"
)

type Config struct {
	Policy    ports.Policy    `yaml:"policy"`
	Streaming StreamingConfig `yaml:"streaming"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Source    SourceConfig    `yaml:"source"`
	Transport TransportConfig `yaml:"transport"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
}

type StreamingConfig struct {
	ClockHz            int            `yaml:"clock_hz"`
	RTPTimestampStart  *int32         `yaml:"rtp_timestamp_start"`
	DefaultFrequency   int            `yaml:"default_frequency"`
	BandwidthThreshold uint32         `yaml:"bandwidth_threshold"`
	SamplesPerPacket   int            `yaml:"samples_per_packet"`
	Sensors            []SensorConfig `yaml:"sensors"`
}

// SensorConfig overrides the built-in profile of one sensor.
type SensorConfig struct {
	Name         string `yaml:"name"`
	MaxFrequency int    `yaml:"max_frequency"`
	Carrier      bool   `yaml:"carrier"`
	Observable   *bool  `yaml:"observable"`
}

type DispatchConfig struct {
	CName             string        `yaml:"cname"`
	MaxNonConfirmable int           `yaml:"max_non_confirmable"`
	FailureThreshold  int           `yaml:"failure_threshold"`
	AsyncTimeout      time.Duration `yaml:"async_timeout"`
	ObserveFrequency  int           `yaml:"observe_frequency"`
}

type SourceConfig struct {
	Kind   string       `yaml:"kind"`
	Buffer int          `yaml:"buffer"`
	OPCUA  opcua.Config `yaml:"opcua"`
}

type TransportConfig struct {
	Kind string     `yaml:"kind"`
	UDP  udp.Config `yaml:"udp"`
}

type ArchiveConfig struct {
	ConnString string `yaml:"conn_string"`
	Table      string `yaml:"table"`
}

// Enabled reports whether sender reports are persisted.
func (a ArchiveConfig) Enabled() bool { return a.ConnString != "" }

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads, defaults and validates the YAML file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// Parse decodes raw YAML, then applies defaults and validates.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, errs.WrapInvalid(err, "config", "Parse", "decode yaml")
	}
	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default is the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// Finalize applies defaults and validates; callers that patch a loaded
// config (flag overrides) call it again afterwards.
func (c *Config) Finalize() error {
	c.applyDefaults()
	if err := c.validate(); err != nil {
		return errs.WrapInvalid(fmt.Errorf("%w: %v", errs.ErrInvalidConfig, err), "config", "Finalize", "validate")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Policy.QueueCapacity == 0 {
		c.Policy.QueueCapacity = 20
	}
	if c.Policy.PutTimeout == 0 {
		c.Policy.PutTimeout = 2 * time.Second
	}
	if c.Policy.IdleSleep == 0 {
		c.Policy.IdleSleep = 5 * time.Millisecond
	}
	if c.Policy.SamplesPerCycle == 0 {
		c.Policy.SamplesPerCycle = 5
	}
	if c.Policy.EventsPerCycle == 0 {
		c.Policy.EventsPerCycle = 5
	}

	if c.Streaming.ClockHz == 0 {
		c.Streaming.ClockHz = streaming.DefaultClockHz
	}
	if c.Streaming.RTPTimestampStart == nil {
		start := int32(streaming.DefaultRTPTimestampStart)
		c.Streaming.RTPTimestampStart = &start
	}
	if c.Streaming.DefaultFrequency == 0 {
		c.Streaming.DefaultFrequency = streaming.DefaultFrequency
	}
	if c.Streaming.BandwidthThreshold == 0 {
		c.Streaming.BandwidthThreshold = streaming.DefaultBandwidthThreshold
	}
	if c.Streaming.SamplesPerPacket == 0 {
		c.Streaming.SamplesPerPacket = 1
	}

	if c.Dispatch.CName == "" {
		c.Dispatch.CName = dispatch.DefaultCName
	}
	if c.Dispatch.MaxNonConfirmable == 0 {
		c.Dispatch.MaxNonConfirmable = dispatch.DefaultMaxNonConfirmable
	}
	if c.Dispatch.FailureThreshold == 0 {
		c.Dispatch.FailureThreshold = dispatch.DefaultFailureThreshold
	}
	if c.Dispatch.AsyncTimeout == 0 {
		c.Dispatch.AsyncTimeout = dispatch.DefaultAsyncTimeout
	}
	if c.Dispatch.ObserveFrequency == 0 {
		c.Dispatch.ObserveFrequency = dispatch.DefaultObserveFrequency
	}

	if c.Source.Kind == "" {
		c.Source.Kind = SourceSimulated
	}
	if c.Source.Buffer == 0 {
		c.Source.Buffer = 1024
	}
	if c.Source.Kind == SourceOPCUA {
		c.Source.OPCUA.ApplyDefaults()
	}

	if c.Transport.Kind == "" {
		c.Transport.Kind = TransportUDP
	}
	c.Transport.UDP.ApplyDefaults()

	if c.Archive.Table == "" {
		c.Archive.Table = "sender_reports"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func (c *Config) validate() error {
	if c.Policy.QueueCapacity < 1 {
		return fmt.Errorf("policy.queue_capacity must be positive")
	}
	if c.Policy.PutTimeout < 0 || c.Policy.IdleSleep < 0 {
		return fmt.Errorf("policy durations must not be negative")
	}
	if c.Policy.SamplesPerCycle < 1 || c.Policy.EventsPerCycle < 1 {
		return fmt.Errorf("policy cycle ratios must be positive")
	}
	if c.Streaming.ClockHz < 1 {
		return fmt.Errorf("streaming.clock_hz must be positive")
	}
	if c.Streaming.DefaultFrequency < 1 {
		return fmt.Errorf("streaming.default_frequency must be positive")
	}
	if c.Streaming.SamplesPerPacket < 1 {
		return fmt.Errorf("streaming.samples_per_packet must be positive")
	}
	for _, s := range c.Streaming.Sensors {
		if _, err := domain.ParseSensorType(s.Name); err != nil {
			return fmt.Errorf("streaming.sensors: %w", err)
		}
		if s.MaxFrequency < 0 {
			return fmt.Errorf("streaming.sensors[%s].max_frequency must not be negative", s.Name)
		}
	}
	if c.Dispatch.MaxNonConfirmable < 1 || c.Dispatch.FailureThreshold < 1 {
		return fmt.Errorf("dispatch thresholds must be positive")
	}

	switch c.Source.Kind {
	case SourceSimulated:
	case SourceOPCUA:
		if err := c.Source.OPCUA.Validate(); err != nil {
			return fmt.Errorf("source.opcua: %w", err)
		}
	default:
		return fmt.Errorf("source.kind %q is not one of simulated, opcua", c.Source.Kind)
	}

	switch c.Transport.Kind {
	case TransportUDP, TransportLoopback:
	default:
		return fmt.Errorf("transport.kind %q is not one of udp, loopback", c.Transport.Kind)
	}

	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format %q is not one of text, json", c.Log.Format)
	}
	return nil
}

// StreamingSettings merges the configured sensor overrides into the
// built-in profiles.
func (c *Config) StreamingSettings() streaming.Settings {
	set := streaming.DefaultSettings()
	set.ClockHz = c.Streaming.ClockHz
	if c.Streaming.RTPTimestampStart != nil {
		set.RTPTimestampStart = *c.Streaming.RTPTimestampStart
	}
	set.DefaultFrequency = c.Streaming.DefaultFrequency
	set.BandwidthThreshold = c.Streaming.BandwidthThreshold
	set.SamplesPerPacket = c.Streaming.SamplesPerPacket
	for _, s := range c.Streaming.Sensors {
		sensor, err := domain.ParseSensorType(s.Name)
		if err != nil {
			continue
		}
		set.Profiles[sensor] = streaming.Profile{MaxFrequency: s.MaxFrequency, Carrier: s.Carrier}
	}
	return set
}

// DispatchSettings derives the dispatcher settings; the clock is shared
// with the streams so sender reports extrapolate on the same scale.
func (c *Config) DispatchSettings() dispatch.Settings {
	notObservable := make(map[domain.SensorType]bool)
	for _, s := range c.Streaming.Sensors {
		sensor, err := domain.ParseSensorType(s.Name)
		if err == nil && s.Observable != nil && !*s.Observable {
			notObservable[sensor] = true
		}
	}
	return dispatch.Settings{
		CName:             c.Dispatch.CName,
		ClockHz:           c.Streaming.ClockHz,
		MaxNonConfirmable: c.Dispatch.MaxNonConfirmable,
		FailureThreshold:  c.Dispatch.FailureThreshold,
		AsyncTimeout:      c.Dispatch.AsyncTimeout,
		ObserveFrequency:  c.Dispatch.ObserveFrequency,
		NotObservable:     notObservable,
	}
}

// Logger builds the slog logger described by the log section.
func (l LogConfig) Logger(w io.Writer) *slog.Logger {
	level, _ := parseLevel(l.Level)
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log.level %q is not one of debug, info, warn, error", s)
	}
}
