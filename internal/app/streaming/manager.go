// Package streaming owns the per-sensor state machine: it consumes requests,
// arbitrates sampling frequencies, turns samples into packets and hands
// commands to the dispatcher.
package streaming

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ghalamif/SenseFlow/internal/adapters/queue"
	"github.com/ghalamif/SenseFlow/internal/app/wire"
	"github.com/ghalamif/SenseFlow/internal/domain"
	"github.com/ghalamif/SenseFlow/internal/errs"
	"github.com/ghalamif/SenseFlow/internal/ports"
)

const component = "manager"

// Option customizes a Manager.
type Option func(*Manager)

// WithTransformer runs fresh samples through tr before they are cached.
func WithTransformer(tr ports.Transformer) Option {
	return func(m *Manager) { m.transformer = tr }
}

// WithCarrierQueue shares an existing carrier queue.
func WithCarrierQueue(q *queue.CarrierQueue) Option {
	return func(m *Manager) { m.carriers = q }
}

// WithClock overrides the wallclock used to stamp carrier samples.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager is the single owner of every Stream and OneShot.
type Manager struct {
	settings    Settings
	policy      ports.Policy
	source      ports.SensorSource
	transformer ports.Transformer
	requests    ports.RequestQueue
	responses   ports.CommandQueue
	carriers    *queue.CarrierQueue
	obs         ports.Observability
	now         func() time.Time

	sensors  map[domain.SensorType]*sensorState
	deferred []domain.Request

	running   atomic.Bool
	carrierWG sync.WaitGroup
}

func NewManager(settings Settings, pol ports.Policy, source ports.SensorSource,
	requests ports.RequestQueue, responses ports.CommandQueue, obs ports.Observability, opts ...Option) *Manager {
	settings.applyDefaults()
	m := &Manager{
		settings:  settings,
		policy:    pol,
		source:    source,
		requests:  requests,
		responses: responses,
		obs:       obs,
		now:       time.Now,
		sensors:   make(map[domain.SensorType]*sensorState),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	if m.carriers == nil {
		m.carriers = queue.NewCarrierQueue()
	}
	for _, s := range domain.AllSensors() {
		m.sensors[s] = newSensorState(s, settings.Profiles[s])
	}
	return m
}

// Run processes requests and samples until ctx is cancelled. Each iteration
// handles one request and up to SamplesPerCycle samples, and sleeps for
// IdleSleep when there was nothing to do.
func (m *Manager) Run(ctx context.Context) error {
	m.running.Store(true)
	defer m.shutdown()

	idle := m.policy.IdleSleep
	if idle <= 0 {
		idle = 5 * time.Millisecond
	}
	perCycle := m.policy.SamplesPerCycle
	if perCycle <= 0 {
		perCycle = 5
	}

	for ctx.Err() == nil {
		busy := false

		if req, ok := m.nextRequest(); ok {
			busy = true
			if err := m.handleRequest(ctx, req); err != nil {
				m.obs.LogError("request_failed", err,
					ports.Field{Key: "kind", Value: req.Kind.String()},
					ports.Field{Key: "sensor", Value: req.Sensor.String()},
					ports.Field{Key: "ticket", Value: req.Ticket.String()})
			}
		}

		for i := 0; i < perCycle; i++ {
			s, ok := m.nextSample()
			if !ok {
				break
			}
			busy = true
			if err := m.handleSample(ctx, s); err != nil {
				m.obs.LogError("sample_dispatch_failed", err,
					ports.Field{Key: "sensor", Value: s.Sensor.String()})
			}
		}

		m.obs.SetGauge(ports.MetricRequestQueueLength, float64(m.requests.Len()+len(m.deferred)))

		if !busy {
			select {
			case <-ctx.Done():
			case <-time.After(idle):
			}
		}
	}
	return nil
}

// WaitCarriers blocks until every carrier goroutine has exited.
func (m *Manager) WaitCarriers() {
	m.carrierWG.Wait()
}

// CarrierQueue exposes the queue carrier goroutines publish into.
func (m *Manager) CarrierQueue() *queue.CarrierQueue { return m.carriers }

func (m *Manager) shutdown() {
	m.running.Store(false)
	for _, st := range m.sensors {
		if st.isActive() {
			m.deactivate(st)
		}
	}
	m.obs.LogInfo("manager_stopped", ports.Field{Key: "deferred", Value: len(m.deferred)})
}

// nextRequest serves deferred requests before newer ones.
func (m *Manager) nextRequest() (domain.Request, bool) {
	if len(m.deferred) > 0 {
		req := m.deferred[0]
		m.deferred[0] = domain.Request{}
		m.deferred = m.deferred[1:]
		return req, true
	}
	return m.requests.TryGet()
}

func (m *Manager) nextSample() (domain.Sample, bool) {
	if s, ok := m.source.PollNextEvent(); ok {
		return s, true
	}
	return m.carriers.TryPop()
}

// putResponse enqueues cmd. While the responses queue stays full it moves one
// pending request into the side-queue per timeout, so a dispatcher blocked on
// a full requests queue gets room and can drain responses again.
func (m *Manager) putResponse(ctx context.Context, cmd domain.Command) error {
	for {
		err := m.responses.Put(ctx, cmd)
		if err == nil {
			m.obs.SetGauge(ports.MetricResponseQueueLength, float64(m.responses.Len()))
			return nil
		}
		if !errors.Is(err, errs.ErrTimedOut) {
			return errs.Wrap(err, component, "putResponse", "enqueue "+cmd.Kind.String())
		}

		m.obs.IncCounter(ports.MetricResponsePutTimeouts, 1)
		if req, ok := m.requests.TryGet(); ok {
			m.deferred = append(m.deferred, req)
			m.obs.IncCounter(ports.MetricRequestsDeferred, 1)
			m.obs.LogWarn("request_deferred",
				ports.Field{Key: "kind", Value: req.Kind.String()},
				ports.Field{Key: "deferred", Value: len(m.deferred)})
		}
	}
}

func (m *Manager) handleRequest(ctx context.Context, req domain.Request) error {
	m.obs.IncCounter(ports.MetricRequestsTotal, 1)

	switch req.Kind {
	case domain.RequestStart:
		_, err := m.startStream(ctx, req)
		return err
	case domain.RequestStop:
		err := m.stopStream(ctx, req)
		if errors.Is(err, errs.ErrNotFound) {
			m.obs.LogDebug("stop_not_found",
				ports.Field{Key: "sensor", Value: req.Sensor.String()},
				ports.Field{Key: "ticket", Value: req.Ticket.String()})
			return nil
		}
		return err
	case domain.RequestOneshot:
		return m.oneshot(ctx, req)
	default:
		return errs.WrapInvalid(fmt.Errorf("request kind %d", req.Kind), component, "handleRequest", "dispatch request")
	}
}

func (m *Manager) sensorState(sensor domain.SensorType) (*sensorState, error) {
	st, ok := m.sensors[sensor]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errs.ErrUnknownSensor, sensor)
	}
	return st, nil
}

// clampFrequency maps non-positive requests to the default and caps at the
// sensor's maximum.
func (m *Manager) clampFrequency(st *sensorState, freq int) int {
	if freq <= 0 {
		freq = m.settings.DefaultFrequency
	}
	if limit := st.profile.MaxFrequency; limit > 0 && freq > limit {
		freq = limit
	}
	return freq
}

// startStream creates or replaces the stream bound to req.Ticket. A new
// stream activates an idle sensor; on an active sensor the frequency is only
// ever raised. When the sensor cannot be activated the stream is discarded and
// a StreamStopped releases the dispatcher's hold on the ticket.
func (m *Manager) startStream(ctx context.Context, req domain.Request) (StartResult, error) {
	st, err := m.sensorState(req.Sensor)
	if err != nil {
		err = errs.WrapInvalid(err, component, "startStream", "resolve sensor")
		return StartFailed, errors.Join(err, m.releaseTicket(ctx, req.Ticket))
	}

	freq := m.clampFrequency(st, req.Frequency)
	res := st.startStream(newStream(req, freq, m.settings))

	if !st.isActive() {
		if err := m.activate(ctx, st, freq); err != nil {
			st.stopStream(req.Ticket)
			return StartFailed, errors.Join(err, m.releaseTicket(ctx, req.Ticket))
		}
	} else if freq > st.currentFrequency() {
		if err := m.setFrequency(st, freq); err != nil {
			m.obs.LogError("frequency_raise_failed", err, ports.Field{Key: "sensor", Value: st.sensor.String()})
		}
	}

	m.obs.LogInfo("stream_started",
		ports.Field{Key: "sensor", Value: st.sensor.String()},
		ports.Field{Key: "ticket", Value: req.Ticket.String()},
		ports.Field{Key: "frequency", Value: freq},
		ports.Field{Key: "result", Value: res.String()})
	return res, nil
}

func (m *Manager) releaseTicket(ctx context.Context, t domain.Ticket) error {
	return m.putResponse(ctx, domain.Command{Kind: domain.CommandStreamStopped, Ticket: t})
}

// stopStream removes the stream bound to req.Ticket and confirms with a
// StreamStopped. An unknown ticket yields errs.ErrNotFound and no confirmation.
func (m *Manager) stopStream(ctx context.Context, req domain.Request) error {
	st, err := m.sensorState(req.Sensor)
	if err != nil {
		return errs.WrapInvalid(err, component, "stopStream", "resolve sensor")
	}
	if !st.stopStream(req.Ticket) {
		return errs.ErrNotFound
	}

	switch {
	case st.idle():
		m.deactivate(st)
	case len(st.streams) > 0:
		if freq := st.maxStreamFrequency(); freq != st.currentFrequency() {
			if err := m.setFrequency(st, freq); err != nil {
				m.obs.LogError("frequency_recompute_failed", err, ports.Field{Key: "sensor", Value: st.sensor.String()})
			}
		}
	}

	m.obs.LogInfo("stream_stopped",
		ports.Field{Key: "sensor", Value: st.sensor.String()},
		ports.Field{Key: "ticket", Value: req.Ticket.String()})
	return m.releaseTicket(ctx, req.Ticket)
}

// oneshot answers from the cache when it is fresh; otherwise it makes sure
// the sensor runs and parks the ticket until the next sample.
func (m *Manager) oneshot(ctx context.Context, req domain.Request) error {
	st, err := m.sensorState(req.Sensor)
	if err != nil {
		return errs.WrapInvalid(err, component, "oneshot", "resolve sensor")
	}

	if cached, ok := st.cachedSample(); ok {
		pkt, err := m.oneshotPacket(cached)
		if err != nil {
			return err
		}
		if err := m.deliverOneshot(ctx, req.Ticket, pkt); err != nil {
			return err
		}
		m.obs.IncCounter(ports.MetricOneshotsDelivered, 1)
		return nil
	}

	if !st.isActive() {
		if err := m.activate(ctx, st, m.clampFrequency(st, m.settings.DefaultFrequency)); err != nil {
			return err
		}
	}
	st.addOneshot(req.Ticket)
	return nil
}

func (m *Manager) oneshotPacket(s domain.Sample) (*domain.Packet, error) {
	ts := m.settings.RTPTimestampStart
	payload, err := wire.EncodeDatapoint(s.Sensor, ts, []domain.Reading{s.Reading})
	if err != nil {
		return nil, errs.WrapInvalid(err, component, "oneshotPacket", "encode sample")
	}
	return &domain.Packet{Sensor: s.Sensor, Generated: s.Timestamp, RTPTimestamp: ts, Payload: payload}, nil
}

func (m *Manager) deliverOneshot(ctx context.Context, t domain.Ticket, pkt *domain.Packet) error {
	return m.putResponse(ctx, domain.Command{
		Kind:        domain.CommandOneshotDeliver,
		Ticket:      t,
		Confirmable: true,
		Packet:      pkt,
	})
}

// handleSample caches fresh samples, satisfies every pending oneshot, turns the
// sensor off when nothing streams from it, and feeds each live stream.
func (m *Manager) handleSample(ctx context.Context, s domain.Sample) error {
	st, err := m.sensorState(s.Sensor)
	if err != nil {
		return err
	}
	if !st.isActive() {
		return nil
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = m.now()
	}

	if !s.Carrier {
		if m.transformer != nil {
			if s, err = m.transformer.Transform(s); err != nil {
				return errs.WrapInvalid(err, component, "handleSample", "transform sample")
			}
		}
		st.storeSample(s)
	}

	if len(st.oneshots) > 0 {
		pkt, err := m.oneshotPacket(s)
		if err != nil {
			return err
		}
		pending := st.oneshots
		st.oneshots = nil
		for _, t := range pending {
			if err := m.deliverOneshot(ctx, t, pkt); err != nil {
				return err
			}
			m.obs.IncCounter(ports.MetricOneshotsDelivered, 1)
		}
		if len(st.streams) == 0 {
			m.deactivate(st)
			return nil
		}
	}

	var failed []error
	for _, str := range st.streams {
		cmd, ready, err := str.push(s, m.settings)
		if err != nil {
			failed = append(failed, errs.WrapInvalid(err, component, "handleSample", "encode packet"))
			continue
		}
		if !ready {
			continue
		}
		if err := m.putResponse(ctx, cmd); err != nil {
			return err
		}
	}
	return errors.Join(failed...)
}

// activate starts the sensor and, for carrier sensors, spawns the carrier
// after the active flag is set.
func (m *Manager) activate(ctx context.Context, st *sensorState, freq int) error {
	if err := m.source.Activate(st.sensor, freq); err != nil {
		return errs.WrapTransient(fmt.Errorf("%w: %v", errs.ErrActivation, err), component, "activate", "activate "+st.sensor.String())
	}

	st.mu.Lock()
	st.active = true
	st.frequency = freq
	st.generation++
	gen := st.generation
	st.mu.Unlock()

	m.obs.LogInfo("sensor_activated",
		ports.Field{Key: "sensor", Value: st.sensor.String()},
		ports.Field{Key: "frequency", Value: freq})
	m.updateActiveGauge()

	if st.profile.Carrier {
		m.carrierWG.Add(1)
		go m.runCarrier(ctx, st, gen)
	}
	return nil
}

func (m *Manager) setFrequency(st *sensorState, freq int) error {
	if err := m.source.SetFrequency(st.sensor, freq); err != nil {
		return errs.WrapTransient(fmt.Errorf("%w: %v", errs.ErrActivation, err), component, "setFrequency", "retune "+st.sensor.String())
	}
	st.mu.Lock()
	st.frequency = freq
	st.mu.Unlock()
	m.obs.LogDebug("sensor_frequency_changed",
		ports.Field{Key: "sensor", Value: st.sensor.String()},
		ports.Field{Key: "frequency", Value: freq})
	return nil
}

// deactivate turns the sensor off and forgets its cache. The carrier, if
// any, observes the cleared flag at its next iteration and exits.
func (m *Manager) deactivate(st *sensorState) {
	st.mu.Lock()
	st.active = false
	st.frequency = 0
	st.cacheValid = false
	st.mu.Unlock()

	st.streams = nil
	st.oneshots = nil

	if err := m.source.Deactivate(st.sensor); err != nil {
		m.obs.LogError("sensor_deactivate_failed", err, ports.Field{Key: "sensor", Value: st.sensor.String()})
	}
	m.obs.LogInfo("sensor_deactivated", ports.Field{Key: "sensor", Value: st.sensor.String()})
	m.updateActiveGauge()
}

func (m *Manager) updateActiveGauge() {
	n := 0
	for _, st := range m.sensors {
		if st.isActive() {
			n++
		}
	}
	m.obs.SetGauge(ports.MetricActiveSensors, float64(n))
}
