package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghalamif/SenseFlow/internal/app/wire"
	"github.com/ghalamif/SenseFlow/internal/domain"
)

func TestLoadConfigAppliesOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "senseflow.yaml")
	data := `
transport:
  udp:
    listen: ":6000"
log:
  level: warn
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	t.Setenv("SENSEFLOW_METRICS_ADDR", "127.0.0.1:9200")
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	v.Set(keyConfig, path)
	v.Set(keyLogLvl, "debug")

	cfg, err := loadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, ":6000", cfg.Transport.UDP.Listen)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "127.0.0.1:9200", cfg.Metrics.Addr)
}

func TestLoadConfigRejectsBadOverride(t *testing.T) {
	v := viper.New()
	v.Set(keyLogLvl, "loud")
	_, err := loadConfig(v)
	assert.Error(t, err)
}

func TestValidateCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"validate"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "config defaults looks good")
}

func TestPrintMetricsSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`# TYPE senseflow_packets_sent_total counter
senseflow_packets_sent_total 42
# TYPE senseflow_registrations gauge
senseflow_registrations 3
`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	require.NoError(t, printMetricsSnapshot(context.Background(), &out, srv.URL))
	assert.Contains(t, out.String(), "packets=42")
	assert.Contains(t, out.String(), "registrations=3")
	assert.Contains(t, out.String(), "reports=0")
}

func TestPrintPayload(t *testing.T) {
	payload, err := wire.EncodeDatapoint(domain.SensorLight, 470, []domain.Reading{domain.Scalar{Value: 320}})
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, printPayload(&out, payload))
	assert.Contains(t, out.String(), "DATAPOINT sensor=light ts=470")

	out.Reset()
	report := wire.EncodeSenderReport(domain.SenderReport{
		Sensor:       domain.SensorLight,
		NTP:          time.Unix(10, 0),
		RTPTimestamp: 480,
		PacketCount:  2,
		OctetCount:   90,
		CName:        "senseflow@test",
	})
	require.NoError(t, printPayload(&out, report))
	assert.Contains(t, out.String(), "SENDREPORT sensor=light")
	assert.Contains(t, out.String(), "cname=senseflow@test")

	assert.Error(t, printPayload(&out, []byte{0xff}))
}
