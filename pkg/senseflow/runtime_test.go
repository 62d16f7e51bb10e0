package senseflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghalamif/SenseFlow/internal/adapters/transport/udp"
	"github.com/ghalamif/SenseFlow/internal/app/wire"
	"github.com/ghalamif/SenseFlow/internal/ports"
)

func testConfig(t *testing.T, transport string) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Policy.IdleSleep = time.Millisecond
	cfg.Policy.PutTimeout = 50 * time.Millisecond
	cfg.Transport.Kind = transport
	cfg.Transport.UDP.Listen = "127.0.0.1:0"
	require.NoError(t, cfg.Finalize())
	return cfg
}

func startRuntime(t *testing.T, cfg *Config, opts ...RuntimeOption) *Runtime {
	t.Helper()
	rt, err := NewRuntime(cfg, append(opts, WithoutMetricsServer())...)
	require.NoError(t, err)
	require.NoError(t, rt.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, rt.Shutdown(ctx))
	})
	return rt
}

func TestNewRuntimeWithCustomAdapters(t *testing.T) {
	src := &stubSource{}
	tr := &stubTransport{}
	arch := &stubArchive{}
	xf := &stubTransformer{}
	obs := &stubObservability{}

	rt, err := NewRuntime(DefaultConfig(),
		WithSource(src),
		WithTransport(tr),
		WithArchive(arch),
		WithTransformer(xf),
		WithObservability(obs),
	)
	if err != nil {
		t.Fatalf("NewRuntime returned error: %v", err)
	}

	if rt.source != src {
		t.Fatalf("expected custom source to be used")
	}
	if rt.transport != tr {
		t.Fatalf("expected custom transport to be used")
	}
	if rt.archive != arch {
		t.Fatalf("expected custom archive to be used")
	}
	if rt.transformer != xf {
		t.Fatalf("expected custom transformer to be used")
	}
	if rt.obs != obs {
		t.Fatalf("expected custom observability to be used")
	}
	if _, err := NewRuntime(nil); err == nil {
		t.Fatalf("expected error for nil config")
	}
}

func TestEmbeddedSubscriberReceivesStream(t *testing.T) {
	rt := startRuntime(t, testConfig(t, "loopback"))

	sub, ch, err := rt.SubscribeChannel(SensorAccelerometer, 50, StreamOptions{}, 64)
	require.NoError(t, err)
	assert.Equal(t, SensorAccelerometer, sub.Sensor())

	var datapoints, reports int
	deadline := time.After(3 * time.Second)
	for datapoints < 3 {
		select {
		case msg := <-ch:
			switch {
			case msg.Datapoint != nil:
				datapoints++
				assert.Equal(t, SensorAccelerometer, msg.Datapoint.Sensor)
				require.Len(t, msg.Datapoint.Readings, 1)
				_, ok := msg.Datapoint.Readings[0].(Vector3)
				assert.True(t, ok)
			case msg.Report != nil:
				reports++
			}
		case <-deadline:
			t.Fatalf("only %d datapoints before deadline", datapoints)
		}
	}
	assert.GreaterOrEqual(t, reports, 1, "first packet is followed by a sender report")

	require.NoError(t, sub.Cancel())
	assert.ErrorIs(t, sub.Cancel(), ErrSubscriptionClosed)
	require.Eventually(t, func() bool {
		for {
			select {
			case _, ok := <-ch:
				if !ok {
					return true
				}
			default:
				return false
			}
		}
	}, time.Second, 5*time.Millisecond)
}

func TestFetchReturnsSingleReading(t *testing.T) {
	rt := startRuntime(t, testConfig(t, "loopback"))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	msg, err := rt.Fetch(ctx, SensorPressure)
	require.NoError(t, err)
	require.NotNil(t, msg.Datapoint)
	assert.Equal(t, wire.TypeDatapoint, msg.Header.Type)
	s, ok := msg.Datapoint.Readings[0].(Scalar)
	require.True(t, ok)
	assert.InDelta(t, 1013.25, s.Value, 20)
}

func TestRemoteSubscriberOverUDP(t *testing.T) {
	rt := startRuntime(t, testConfig(t, "udp"))
	addr := rt.ListenAddr()
	require.NotNil(t, addr)

	c, err := udp.Dial(addr.String())
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Subscribe("r1", SensorLight, 20, StreamOptions{}))

	var got Datapoint
	for got.Readings == nil {
		n, err := c.Receive(3 * time.Second)
		require.NoError(t, err)
		assert.Equal(t, "r1", n.Token)
		msg, err := wire.Decode(n.Payload)
		require.NoError(t, err)
		if msg.Datapoint != nil {
			got = *msg.Datapoint
		}
	}
	assert.Equal(t, SensorLight, got.Sensor)

	require.Eventually(t, func() bool {
		return counterValue(t, rt, ports.MetricPacketsSent) > 0
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, c.Cancel("r1", SensorLight))
}

func TestSubscribeRejectsOversizedBatch(t *testing.T) {
	rt := startRuntime(t, testConfig(t, "loopback"))

	_, err := rt.Subscribe(SensorAccelerometer, 10, StreamOptions{BatchSize: 1 << 40}, func(Message) {})
	assert.ErrorIs(t, err, ErrBatchTooLarge)

	_, _, err = rt.SubscribeChannel(SensorLight, 10, StreamOptions{BatchSize: 4000}, 1)
	assert.ErrorIs(t, err, ErrBatchTooLarge)
}

func TestShutdownJoinsManagerBeforeDispatcher(t *testing.T) {
	obs := &recordingObservability{}
	cfg := testConfig(t, "loopback")
	rt, err := NewRuntime(cfg, WithObservability(obs), WithoutMetricsServer())
	require.NoError(t, err)
	require.NoError(t, rt.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, rt.Shutdown(ctx))

	manager, dispatcher := obs.indexOf("manager_stopped"), obs.indexOf("dispatcher_stopped")
	require.GreaterOrEqual(t, manager, 0)
	require.GreaterOrEqual(t, dispatcher, 0)
	assert.Less(t, manager, dispatcher)
}

func TestStartClosesSourceWhenTransportFails(t *testing.T) {
	src := &closingSource{}
	cfg := testConfig(t, "udp")
	cfg.Transport.UDP.Listen = "not-an-address"

	rt, err := NewRuntime(cfg, WithSource(src), WithoutMetricsServer())
	require.NoError(t, err)
	require.Error(t, rt.Start(context.Background()))
	assert.True(t, src.connected)
	assert.True(t, src.closed)
}

func counterValue(t *testing.T, rt *Runtime, name string) float64 {
	t.Helper()
	families, err := rt.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name && len(f.GetMetric()) > 0 {
			return f.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}

type stubSource struct{}

func (s *stubSource) Activate(SensorType, int) error     { return nil }
func (s *stubSource) SetFrequency(SensorType, int) error { return nil }
func (s *stubSource) Deactivate(SensorType) error        { return nil }
func (s *stubSource) PollNextEvent() (Sample, bool)      { return Sample{}, false }

type stubTransport struct{}

func (s *stubTransport) Send(Endpoint, string, []byte, bool) error { return nil }
func (s *stubTransport) PollEvent() (InboundEvent, bool)          { return InboundEvent{}, false }
func (s *stubTransport) Close() error                             { return nil }

type stubArchive struct{}

func (s *stubArchive) WriteReports([]SenderReport) error { return nil }
func (s *stubArchive) Name() string                      { return "stub" }

type stubTransformer struct{}

func (s *stubTransformer) Transform(sample Sample) (Sample, error) { return sample, nil }
func (s *stubTransformer) Version() uint16                        { return 42 }

type stubObservability struct{}

func (s *stubObservability) LogDebug(string, ...Field)        {}
func (s *stubObservability) LogInfo(string, ...Field)         {}
func (s *stubObservability) LogWarn(string, ...Field)         {}
func (s *stubObservability) LogError(string, error, ...Field) {}
func (s *stubObservability) IncCounter(string, float64)       {}
func (s *stubObservability) ObserveLatency(string, float64)   {}
func (s *stubObservability) SetGauge(string, float64)         {}

type recordingObservability struct {
	stubObservability
	mu     sync.Mutex
	events []string
}

func (r *recordingObservability) LogInfo(msg string, _ ...Field) {
	r.mu.Lock()
	r.events = append(r.events, msg)
	r.mu.Unlock()
}

func (r *recordingObservability) indexOf(msg string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.events {
		if e == msg {
			return i
		}
	}
	return -1
}

type closingSource struct {
	stubSource
	connected bool
	closed    bool
}

func (c *closingSource) Connect(context.Context) error {
	c.connected = true
	return nil
}

func (c *closingSource) Close() error {
	c.closed = true
	return nil
}
