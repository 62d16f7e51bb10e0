package udp

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghalamif/SenseFlow/internal/domain"
	"github.com/ghalamif/SenseFlow/internal/errs"
	"github.com/ghalamif/SenseFlow/internal/ports"
)

type countingObs struct {
	mu       sync.Mutex
	counters map[string]float64
}

func (c *countingObs) LogDebug(string, ...ports.Field)        {}
func (c *countingObs) LogInfo(string, ...ports.Field)         {}
func (c *countingObs) LogWarn(string, ...ports.Field)         {}
func (c *countingObs) LogError(string, error, ...ports.Field) {}
func (c *countingObs) ObserveLatency(string, float64)         {}
func (c *countingObs) SetGauge(string, float64)               {}

func (c *countingObs) IncCounter(name string, v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counters == nil {
		c.counters = make(map[string]float64)
	}
	c.counters[name] += v
}

func (c *countingObs) get(name string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters[name]
}

func newServer(t *testing.T, ackTimeout time.Duration) (*Server, *countingObs) {
	t.Helper()
	obs := &countingObs{}
	s, err := Listen(Config{Listen: "127.0.0.1:0", AckTimeout: ackTimeout}, obs)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, obs
}

func newClient(t *testing.T, s *Server) *Client {
	t.Helper()
	c, err := Dial(s.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func nextEvent(t *testing.T, s *Server) ports.InboundEvent {
	t.Helper()
	var ev ports.InboundEvent
	require.Eventually(t, func() bool {
		var ok bool
		ev, ok = s.PollEvent()
		return ok
	}, 2*time.Second, time.Millisecond)
	return ev
}

func TestSubscribeAndCancelBecomeEvents(t *testing.T) {
	s, _ := newServer(t, time.Second)
	c := newClient(t, s)

	opts := domain.StreamOptions{RepeatLast: true, BatchSize: 2}
	require.NoError(t, c.Subscribe("t1", domain.SensorAccelerometer, 50, opts))
	ev := nextEvent(t, s)
	assert.Equal(t, ports.EventSubscribe, ev.Kind)
	assert.Equal(t, ports.Endpoint(c.LocalAddr().String()), ev.Peer)
	assert.Equal(t, "t1", ev.Token)
	assert.Equal(t, domain.SensorAccelerometer, ev.Sensor)
	assert.Equal(t, 50, ev.Frequency)
	assert.Equal(t, opts, ev.Options)

	require.NoError(t, c.Fetch("t2", domain.SensorLight))
	assert.Equal(t, ports.EventFetch, nextEvent(t, s).Kind)

	require.NoError(t, c.Cancel("t1", domain.SensorAccelerometer))
	assert.Equal(t, ports.EventCancel, nextEvent(t, s).Kind)
}

func TestNotificationsReachClient(t *testing.T) {
	s, _ := newServer(t, time.Second)
	c := newClient(t, s)

	require.NoError(t, c.Subscribe("t1", domain.SensorLight, 10, domain.StreamOptions{}))
	ev := nextEvent(t, s)

	require.NoError(t, s.Send(ev.Peer, ev.Token, []byte("non"), false))
	n, err := c.Receive(time.Second)
	require.NoError(t, err)
	assert.False(t, n.Confirmable)
	assert.Equal(t, []byte("non"), n.Payload)

	received := make(chan Notification, 1)
	go func() {
		n, err := c.Receive(2 * time.Second)
		if err == nil {
			received <- n
		}
		close(received)
	}()
	require.NoError(t, s.Send(ev.Peer, ev.Token, []byte("con"), true), "client acks confirmable sends")
	n, ok := <-received
	require.True(t, ok)
	assert.True(t, n.Confirmable)
	assert.Equal(t, "t1", n.Token)
}

func TestUnacknowledgedSendTimesOut(t *testing.T) {
	s, _ := newServer(t, 50*time.Millisecond)

	silent, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer silent.Close()

	err = s.Send(ports.Endpoint(silent.LocalAddr().String()), "t", []byte("x"), true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrTimedOut))
	assert.True(t, errs.IsTransient(err))
}

func TestResetCancelsRegistration(t *testing.T) {
	s, _ := newServer(t, time.Second)
	c := newClient(t, s)

	require.NoError(t, c.Subscribe("t9", domain.SensorLight, 10, domain.StreamOptions{}))
	ev := nextEvent(t, s)

	sendErr := make(chan error, 1)
	go func() { sendErr <- s.Send(ev.Peer, ev.Token, []byte("x"), true) }()

	// Read the raw frame so nothing is acknowledged, then refuse it.
	buf := make([]byte, MaxFrameLen)
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(time.Second)))
	var f Frame
	for f.Code != CodeContent {
		n, err := c.conn.Read(buf)
		require.NoError(t, err)
		f, err = Unmarshal(buf[:n])
		require.NoError(t, err)
	}
	require.NoError(t, c.Reset(Notification{MessageID: f.MessageID}))

	cancel := nextEvent(t, s)
	assert.Equal(t, ports.EventCancel, cancel.Kind)
	assert.Equal(t, "t9", cancel.Token)
	assert.Error(t, <-sendErr)
}

func TestCorruptFramesAreDroppedAndUnknownSensorsRejected(t *testing.T) {
	s, obs := newServer(t, time.Second)
	c := newClient(t, s)

	_, err := c.conn.Write([]byte{0xde, 0xad, 0xbe, 0xef, 0x00, 0x00, 0x01})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return obs.get(ports.MetricFramesDropped) == 1 }, time.Second, time.Millisecond)

	require.NoError(t, c.Subscribe("t1", domain.SensorType(42), 10, domain.StreamOptions{}))
	_, err = c.Receive(time.Second)
	assert.True(t, errors.Is(err, ErrRejected))

	_, ok := s.PollEvent()
	assert.False(t, ok)
}
