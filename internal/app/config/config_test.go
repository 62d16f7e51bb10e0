package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ghalamif/SenseFlow/internal/domain"
	"github.com/ghalamif/SenseFlow/internal/errs"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	data := `
policy:
  queue_capacity: 64
transport:
  udp:
    listen: "127.0.0.1:5684"
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Policy.QueueCapacity != 64 {
		t.Fatalf("expected queue capacity 64, got %d", cfg.Policy.QueueCapacity)
	}
	if cfg.Policy.PutTimeout != 2*time.Second {
		t.Fatalf("expected PutTimeout default 2s, got %s", cfg.Policy.PutTimeout)
	}
	if cfg.Policy.IdleSleep != 5*time.Millisecond {
		t.Fatalf("expected IdleSleep default 5ms, got %s", cfg.Policy.IdleSleep)
	}
	if cfg.Source.Kind != SourceSimulated || cfg.Transport.Kind != TransportUDP {
		t.Fatalf("unexpected default kinds %q/%q", cfg.Source.Kind, cfg.Transport.Kind)
	}
	if cfg.Transport.UDP.Listen != "127.0.0.1:5684" {
		t.Fatalf("expected listen override, got %s", cfg.Transport.UDP.Listen)
	}
	if cfg.Metrics.Addr != ":9100" {
		t.Fatalf("expected default metrics addr :9100, got %s", cfg.Metrics.Addr)
	}
	if *cfg.Streaming.RTPTimestampStart != 450 {
		t.Fatalf("expected rtp start 450, got %d", *cfg.Streaming.RTPTimestampStart)
	}
	if cfg.Archive.Enabled() {
		t.Fatalf("archive should be disabled without a connection string")
	}
}

func TestSensorOverridesReachSettings(t *testing.T) {
	cfg, err := Parse([]byte(`
streaming:
  clock_hz: 1000
  rtp_timestamp_start: 0
  sensors:
    - name: accelerometer
      max_frequency: 50
    - name: pressure
      carrier: true
    - name: location
      carrier: true
      observable: false
dispatch:
  cname: edge-7
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	set := cfg.StreamingSettings()
	if set.ClockHz != 1000 || set.RTPTimestampStart != 0 {
		t.Fatalf("unexpected clock settings %+v", set)
	}
	if p := set.Profiles[domain.SensorAccelerometer]; p.MaxFrequency != 50 || p.Carrier {
		t.Fatalf("unexpected accelerometer profile %+v", p)
	}
	if !set.Profiles[domain.SensorPressure].Carrier {
		t.Fatalf("pressure should be a carrier sensor")
	}
	if set.Profiles[domain.SensorGyroscope].MaxFrequency != 200 {
		t.Fatalf("built-in gyroscope profile lost")
	}

	ds := cfg.DispatchSettings()
	if ds.ClockHz != 1000 || ds.CName != "edge-7" {
		t.Fatalf("unexpected dispatch settings %+v", ds)
	}
	if !ds.NotObservable[domain.SensorLocation] || ds.NotObservable[domain.SensorPressure] {
		t.Fatalf("unexpected observability map %+v", ds.NotObservable)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"unknown sensor":    "streaming:\n  sensors:\n    - name: barometer\n",
		"bad source":        "source:\n  kind: serial\n",
		"bad transport":     "transport:\n  kind: tcp\n",
		"opcua no nodes":    "source:\n  kind: opcua\n  opcua:\n    endpoint: opc.tcp://x:4840\n",
		"bad log level":     "log:\n  level: loud\n",
		"negative max freq": "streaming:\n  sensors:\n    - name: light\n      max_frequency: -1\n",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(raw))
			if !errors.Is(err, errs.ErrInvalidConfig) {
				t.Fatalf("expected invalid config, got %v", err)
			}
		})
	}
}

func TestLoggerHonorsLevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := LogConfig{Level: "warn", Format: "json"}.Logger(&buf)
	logger.Info("quiet")
	logger.Warn("loud")

	out := buf.String()
	if strings.Contains(out, "quiet") || !strings.Contains(out, `"msg":"loud"`) {
		t.Fatalf("unexpected log output %q", out)
	}
}
