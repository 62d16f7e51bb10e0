package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghalamif/SenseFlow/internal/adapters/queue"
	"github.com/ghalamif/SenseFlow/internal/app/wire"
	"github.com/ghalamif/SenseFlow/internal/domain"
	"github.com/ghalamif/SenseFlow/internal/ports"
)

type sent struct {
	dest     ports.Endpoint
	token    string
	payload  []byte
	reliable bool
}

type fakeTransport struct {
	mu     sync.Mutex
	events []ports.InboundEvent
	sent   []sent
	fail   error
}

func (f *fakeTransport) Send(dest ports.Endpoint, token string, payload []byte, reliable bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{dest: dest, token: token, payload: payload, reliable: reliable})
	return f.fail
}

func (f *fakeTransport) PollEvent() (ports.InboundEvent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.events) == 0 {
		return ports.InboundEvent{}, false
	}
	ev := f.events[0]
	f.events = f.events[1:]
	return ev, true
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) push(ev ports.InboundEvent) {
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
}

func (f *fakeTransport) sends() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

type memArchive struct {
	reports []domain.SenderReport
}

func (a *memArchive) WriteReports(r []domain.SenderReport) error {
	a.reports = append(a.reports, r...)
	return nil
}

func (a *memArchive) Name() string { return "mem" }

type stubObs struct{}

func (s *stubObs) LogDebug(string, ...ports.Field)        {}
func (s *stubObs) LogInfo(string, ...ports.Field)         {}
func (s *stubObs) LogWarn(string, ...ports.Field)         {}
func (s *stubObs) LogError(string, error, ...ports.Field) {}
func (s *stubObs) IncCounter(string, float64)             {}
func (s *stubObs) ObserveLatency(string, float64)         {}
func (s *stubObs) SetGauge(string, float64)               {}

type harness struct {
	d         *Dispatcher
	tr        *fakeTransport
	requests  *queue.Bounded[domain.Request]
	responses *queue.Bounded[domain.Command]
	archive   *memArchive
	now       time.Time
}

func newHarness(t *testing.T, settings Settings) *harness {
	t.Helper()
	h := &harness{
		tr:        &fakeTransport{},
		requests:  queue.NewBounded[domain.Request](32, 20*time.Millisecond),
		responses: queue.NewBounded[domain.Command](32, 20*time.Millisecond),
		archive:   &memArchive{},
		now:       time.Unix(1_700_000_000, 0),
	}
	pol := ports.Policy{IdleSleep: time.Millisecond, EventsPerCycle: 5}
	h.d = New(settings, pol, h.tr, h.requests, h.responses, &stubObs{},
		WithArchive(h.archive),
		WithClock(func() time.Time { return h.now }))
	return h
}

func (h *harness) request(t *testing.T) domain.Request {
	t.Helper()
	req, ok := h.requests.TryGet()
	require.True(t, ok, "expected a request for the manager")
	return req
}

func subscribe(peer, token string, sensor domain.SensorType, freq int) ports.InboundEvent {
	return ports.InboundEvent{Kind: ports.EventSubscribe, Peer: ports.Endpoint(peer), Token: token, Sensor: sensor, Frequency: freq}
}

func cancelEv(peer, token string, sensor domain.SensorType) ports.InboundEvent {
	return ports.InboundEvent{Kind: ports.EventCancel, Peer: ports.Endpoint(peer), Token: token, Sensor: sensor}
}

func update(t domain.Ticket, generated time.Time, report *domain.ReportState) domain.Command {
	payload, _ := wire.EncodeDatapoint(domain.SensorLight, 450, []domain.Reading{domain.Scalar{Value: 12}})
	return domain.Command{
		Kind:   domain.CommandStreamUpdate,
		Ticket: t,
		Packet: &domain.Packet{Sensor: domain.SensorLight, Generated: generated, RTPTimestamp: 450, Payload: payload},
		Report: report,
	}
}

func TestSubscribeStartsStreamWithDefaultFrequency(t *testing.T) {
	h := newHarness(t, Settings{})
	ctx := context.Background()

	require.NoError(t, h.d.handleEvent(ctx, subscribe("10.0.0.1:5683", "a1", domain.SensorLight, 0)))

	req := h.request(t)
	assert.Equal(t, domain.RequestStart, req.Kind)
	assert.Equal(t, domain.SensorLight, req.Sensor)
	assert.Equal(t, DefaultObserveFrequency, req.Frequency)
	assert.False(t, req.Ticket.IsZero())

	reg := h.d.regs[req.Ticket]
	require.NotNil(t, reg)
	assert.Equal(t, 2, reg.refs)
}

func TestCancelStopsStreamAndStoppedDestroysRegistration(t *testing.T) {
	h := newHarness(t, Settings{})
	ctx := context.Background()

	require.NoError(t, h.d.handleEvent(ctx, subscribe("p", "a1", domain.SensorLight, 10)))
	tk := h.request(t).Ticket

	require.NoError(t, h.d.handleEvent(ctx, cancelEv("p", "a1", domain.SensorLight)))
	req := h.request(t)
	assert.Equal(t, domain.RequestStop, req.Kind)
	assert.Equal(t, tk, req.Ticket)

	// Still held by the manager; late updates are dropped, not sent.
	require.Contains(t, h.d.regs, tk)
	h.d.handleCommand(update(tk, h.now, nil))
	assert.Empty(t, h.tr.sends())

	h.d.handleCommand(domain.Command{Kind: domain.CommandStreamStopped, Ticket: tk})
	assert.NotContains(t, h.d.regs, tk)
	assert.Empty(t, h.d.byKey)
}

func TestFailedStartReleasesOnlyManagerHold(t *testing.T) {
	h := newHarness(t, Settings{})
	ctx := context.Background()

	require.NoError(t, h.d.handleEvent(ctx, subscribe("p", "a1", domain.SensorLight, 10)))
	tk := h.request(t).Ticket

	h.d.handleCommand(domain.Command{Kind: domain.CommandStreamStopped, Ticket: tk})
	require.Contains(t, h.d.regs, tk)
	assert.Equal(t, 1, h.d.regs[tk].refs)

	// A duplicate stop must not release the transport's hold.
	h.d.handleCommand(domain.Command{Kind: domain.CommandStreamStopped, Ticket: tk})
	require.Contains(t, h.d.regs, tk)

	require.NoError(t, h.d.handleEvent(ctx, cancelEv("p", "a1", domain.SensorLight)))
	assert.NotContains(t, h.d.regs, tk)
	_, ok := h.requests.TryGet()
	assert.False(t, ok, "no stop for a stream the manager never held")
}

func TestResubscribeReusesTicket(t *testing.T) {
	h := newHarness(t, Settings{})
	ctx := context.Background()

	require.NoError(t, h.d.handleEvent(ctx, subscribe("p", "a1", domain.SensorLight, 10)))
	first := h.request(t)
	require.NoError(t, h.d.handleEvent(ctx, subscribe("p", "a1", domain.SensorLight, 40)))
	second := h.request(t)

	assert.Equal(t, first.Ticket, second.Ticket)
	assert.Equal(t, 40, second.Frequency)
	assert.Equal(t, 2, h.d.regs[first.Ticket].refs)
	assert.Len(t, h.d.regs, 1)

	// Another token from the same peer is a separate registration.
	require.NoError(t, h.d.handleEvent(ctx, subscribe("p", "b2", domain.SensorLight, 10)))
	assert.NotEqual(t, first.Ticket, h.request(t).Ticket)
	assert.Len(t, h.d.regs, 2)
}

func TestResubscribeAfterCancelGetsFreshTicket(t *testing.T) {
	h := newHarness(t, Settings{})
	ctx := context.Background()

	require.NoError(t, h.d.handleEvent(ctx, subscribe("p", "a1", domain.SensorLight, 10)))
	old := h.request(t).Ticket
	require.NoError(t, h.d.handleEvent(ctx, cancelEv("p", "a1", domain.SensorLight)))
	h.request(t)

	require.NoError(t, h.d.handleEvent(ctx, subscribe("p", "a1", domain.SensorLight, 10)))
	fresh := h.request(t).Ticket
	assert.NotEqual(t, old, fresh)

	h.d.handleCommand(domain.Command{Kind: domain.CommandStreamStopped, Ticket: old})
	assert.NotContains(t, h.d.regs, old)
	require.Contains(t, h.d.regs, fresh)

	h.d.handleCommand(update(fresh, h.now, nil))
	require.Len(t, h.tr.sends(), 1)
	assert.Equal(t, "a1", h.tr.sends()[0].token)
}

func TestFetchIsAnsweredOnce(t *testing.T) {
	h := newHarness(t, Settings{})
	ctx := context.Background()

	require.NoError(t, h.d.handleEvent(ctx, ports.InboundEvent{Kind: ports.EventFetch, Peer: "p", Token: "f", Sensor: domain.SensorPressure}))
	req := h.request(t)
	assert.Equal(t, domain.RequestOneshot, req.Kind)

	answer := update(req.Ticket, h.now, nil)
	answer.Kind = domain.CommandOneshotDeliver
	answer.Confirmable = true
	h.d.handleCommand(answer)
	h.d.handleCommand(answer)

	sends := h.tr.sends()
	require.Len(t, sends, 1)
	assert.True(t, sends[0].reliable)
	assert.Equal(t, "f", sends[0].token)
	assert.Empty(t, h.d.asyncs)
}

func TestSubscribeToNonObservableSensorIsFetched(t *testing.T) {
	h := newHarness(t, Settings{NotObservable: map[domain.SensorType]bool{domain.SensorLocation: true}})

	require.NoError(t, h.d.handleEvent(context.Background(), subscribe("p", "a1", domain.SensorLocation, 5)))
	req := h.request(t)
	assert.Equal(t, domain.RequestOneshot, req.Kind)
	assert.Empty(t, h.d.regs)
	assert.Contains(t, h.d.asyncs, req.Ticket)
}

func TestUnknownSensorIsRejected(t *testing.T) {
	h := newHarness(t, Settings{})
	err := h.d.handleEvent(context.Background(), subscribe("p", "a1", domain.SensorType(99), 5))
	require.Error(t, err)
	_, ok := h.requests.TryGet()
	assert.False(t, ok)
}

func TestFailureThresholdDropsUpdates(t *testing.T) {
	h := newHarness(t, Settings{FailureThreshold: 3})
	ctx := context.Background()
	h.tr.fail = errors.New("unreachable")

	require.NoError(t, h.d.handleEvent(ctx, subscribe("p", "a1", domain.SensorLight, 10)))
	tk := h.request(t).Ticket

	for i := 0; i < 6; i++ {
		h.d.handleCommand(update(tk, h.now, nil))
	}
	assert.Len(t, h.tr.sends(), 3)

	// Teardown still happens through the usual cancel path.
	require.NoError(t, h.d.handleEvent(ctx, cancelEv("p", "a1", domain.SensorLight)))
	assert.Equal(t, domain.RequestStop, h.request(t).Kind)
}

func TestNonConfirmableIsPeriodicallyPromoted(t *testing.T) {
	h := newHarness(t, Settings{MaxNonConfirmable: 5})
	ctx := context.Background()

	require.NoError(t, h.d.handleEvent(ctx, subscribe("p", "a1", domain.SensorLight, 10)))
	tk := h.request(t).Ticket

	for i := 0; i < 12; i++ {
		h.d.handleCommand(update(tk, h.now, nil))
	}
	var reliable []int
	for i, s := range h.tr.sends() {
		if s.reliable {
			reliable = append(reliable, i+1)
		}
	}
	assert.Equal(t, []int{6, 12}, reliable)
}

func TestSenderReportFollowsDataWithDrift(t *testing.T) {
	h := newHarness(t, Settings{ClockHz: 200, CName: "edge-1"})
	ctx := context.Background()

	require.NoError(t, h.d.handleEvent(ctx, subscribe("p", "a1", domain.SensorLight, 10)))
	tk := h.request(t).Ticket

	report := &domain.ReportState{
		PacketCount:  16,
		OctetCount:   1088,
		RTPTimestamp: 1000,
		LastSample:   h.now.Add(-500 * time.Millisecond),
	}
	h.d.handleCommand(update(tk, h.now, report))

	sends := h.tr.sends()
	require.Len(t, sends, 2)
	msg, err := wire.Decode(sends[1].payload)
	require.NoError(t, err)
	require.NotNil(t, msg.Report)
	assert.Equal(t, wire.TypeSendReport, msg.Header.Type)
	assert.Equal(t, int32(1100), msg.Report.RTPTimestamp)
	assert.Equal(t, uint32(16), msg.Report.PacketCount)
	assert.Equal(t, uint32(1088), msg.Report.OctetCount)
	assert.Equal(t, "edge-1", msg.Report.CName)
	assert.True(t, h.now.Equal(msg.Report.NTP))

	require.Len(t, h.archive.reports, 1)
	assert.Equal(t, tk, h.archive.reports[0].Ticket)
}

func TestNoSenderReportWhenDataSendFails(t *testing.T) {
	h := newHarness(t, Settings{})
	ctx := context.Background()
	h.tr.fail = errors.New("unreachable")

	require.NoError(t, h.d.handleEvent(ctx, subscribe("p", "a1", domain.SensorLight, 10)))
	tk := h.request(t).Ticket
	h.d.handleCommand(update(tk, h.now, &domain.ReportState{PacketCount: 1}))

	assert.Len(t, h.tr.sends(), 1)
	assert.Empty(t, h.archive.reports)
}

func TestPendingFetchExpires(t *testing.T) {
	h := newHarness(t, Settings{AsyncTimeout: 10 * time.Second})
	ctx := context.Background()

	require.NoError(t, h.d.handleEvent(ctx, ports.InboundEvent{Kind: ports.EventFetch, Peer: "p", Token: "f", Sensor: domain.SensorPressure}))
	tk := h.request(t).Ticket

	h.now = h.now.Add(5 * time.Second)
	h.d.expireAsyncs()
	require.Contains(t, h.d.asyncs, tk)

	h.now = h.now.Add(6 * time.Second)
	h.d.expireAsyncs()
	assert.NotContains(t, h.d.asyncs, tk)

	answer := update(tk, h.now, nil)
	answer.Kind = domain.CommandOneshotDeliver
	h.d.handleCommand(answer)
	assert.Empty(t, h.tr.sends())
}

func TestRunForwardsEventsAndCommands(t *testing.T) {
	h := newHarness(t, Settings{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- h.d.Run(ctx) }()

	h.tr.push(subscribe("p", "a1", domain.SensorLight, 10))

	var req domain.Request
	require.Eventually(t, func() bool {
		var ok bool
		req, ok = h.requests.TryGet()
		return ok
	}, time.Second, time.Millisecond)
	assert.Equal(t, domain.RequestStart, req.Kind)

	require.NoError(t, h.responses.Put(ctx, update(req.Ticket, time.Now(), nil)))
	require.Eventually(t, func() bool { return len(h.tr.sends()) == 1 }, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}
