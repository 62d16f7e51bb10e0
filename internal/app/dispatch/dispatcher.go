// Package dispatch bridges the transport and the streaming manager. It turns
// inbound subscribe/cancel/fetch events into requests, and commands coming
// back from the manager into wire sends.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/ghalamif/SenseFlow/internal/app/wire"
	"github.com/ghalamif/SenseFlow/internal/domain"
	"github.com/ghalamif/SenseFlow/internal/errs"
	"github.com/ghalamif/SenseFlow/internal/ports"
)

const component = "dispatcher"

const (
	DefaultMaxNonConfirmable = 5
	DefaultFailureThreshold  = 3
	DefaultAsyncTimeout      = 10 * time.Second
	DefaultObserveFrequency  = 20
	DefaultCName             = "senseflow"
)

// Settings tunes delivery.
type Settings struct {
	CName   string
	ClockHz int
	// MaxNonConfirmable consecutive NON notifications are followed by one CON.
	MaxNonConfirmable int
	// FailureThreshold is the number of consecutive send failures after which
	// updates for a registration are dropped.
	FailureThreshold int
	// AsyncTimeout bounds how long a fetch waits for its sample.
	AsyncTimeout time.Duration
	// ObserveFrequency is used when a subscriber does not ask for one.
	ObserveFrequency int
	// NotObservable lists sensors whose subscriptions are answered once.
	NotObservable map[domain.SensorType]bool
}

func (s *Settings) applyDefaults() {
	if s.CName == "" {
		s.CName = DefaultCName
	}
	if s.ClockHz <= 0 {
		s.ClockHz = 200
	}
	if s.MaxNonConfirmable <= 0 {
		s.MaxNonConfirmable = DefaultMaxNonConfirmable
	}
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = DefaultFailureThreshold
	}
	if s.AsyncTimeout <= 0 {
		s.AsyncTimeout = DefaultAsyncTimeout
	}
	if s.ObserveFrequency <= 0 {
		s.ObserveFrequency = DefaultObserveFrequency
	}
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithArchive stores every emitted sender report in a.
func WithArchive(a ports.ReportArchive) Option {
	return func(d *Dispatcher) { d.archive = a }
}

// WithClock overrides the wallclock used for sender reports and expiry.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// Dispatcher is the single owner of registrations and async transactions.
type Dispatcher struct {
	settings  Settings
	policy    ports.Policy
	transport ports.Transport
	requests  ports.RequestQueue
	responses ports.CommandQueue
	archive   ports.ReportArchive
	obs       ports.Observability
	now       func() time.Time

	regs      map[domain.Ticket]*registration
	byKey     map[uint64][]*registration
	asyncs    map[domain.Ticket]*asyncTxn
	lastSweep time.Time
}

func New(settings Settings, pol ports.Policy, transport ports.Transport,
	requests ports.RequestQueue, responses ports.CommandQueue, obs ports.Observability, opts ...Option) *Dispatcher {
	settings.applyDefaults()
	d := &Dispatcher{
		settings:  settings,
		policy:    pol,
		transport: transport,
		requests:  requests,
		responses: responses,
		obs:       obs,
		now:       time.Now,
		regs:      make(map[domain.Ticket]*registration),
		byKey:     make(map[uint64][]*registration),
		asyncs:    make(map[domain.Ticket]*asyncTxn),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Run alternates between inbound transport events and manager commands until
// ctx is cancelled, handling up to EventsPerCycle of each per iteration.
func (d *Dispatcher) Run(ctx context.Context) error {
	idle := d.policy.IdleSleep
	if idle <= 0 {
		idle = 5 * time.Millisecond
	}
	perCycle := d.policy.EventsPerCycle
	if perCycle <= 0 {
		perCycle = 5
	}

	for ctx.Err() == nil {
		busy := false

		for i := 0; i < perCycle; i++ {
			ev, ok := d.transport.PollEvent()
			if !ok {
				break
			}
			busy = true
			if err := d.handleEvent(ctx, ev); err != nil {
				d.obs.LogError("transport_event_failed", err,
					ports.Field{Key: "event", Value: ev.Kind.String()},
					ports.Field{Key: "peer", Value: string(ev.Peer)})
			}
		}

		for i := 0; i < perCycle; i++ {
			cmd, ok := d.responses.TryGet()
			if !ok {
				break
			}
			busy = true
			d.handleCommand(cmd)
		}

		d.expireAsyncs()

		if !busy {
			select {
			case <-ctx.Done():
			case <-time.After(idle):
			}
		}
	}
	d.obs.LogInfo("dispatcher_stopped",
		ports.Field{Key: "registrations", Value: len(d.regs)},
		ports.Field{Key: "pending_fetches", Value: len(d.asyncs)})
	return nil
}

// pushRequest blocks until the manager has room. The manager frees room by
// deferring requests whenever its own responses put times out.
func (d *Dispatcher) pushRequest(ctx context.Context, req domain.Request) error {
	for {
		err := d.requests.Put(ctx, req)
		if err == nil {
			return nil
		}
		if !errors.Is(err, errs.ErrTimedOut) {
			return errs.Wrap(err, component, "pushRequest", "enqueue "+req.Kind.String())
		}
		d.obs.LogWarn("request_put_timeout",
			ports.Field{Key: "kind", Value: req.Kind.String()},
			ports.Field{Key: "ticket", Value: req.Ticket.String()})
	}
}

// handleEvent maps a transport event onto a manager request. Cancels are
// matched by (peer, token) alone; transports may not know the sensor.
func (d *Dispatcher) handleEvent(ctx context.Context, ev ports.InboundEvent) error {
	if ev.Kind != ports.EventCancel && !ev.Sensor.Valid() {
		return errs.WrapInvalid(errs.ErrUnknownSensor, component, "handleEvent", "resolve "+ev.Sensor.String())
	}

	switch ev.Kind {
	case ports.EventSubscribe:
		if d.settings.NotObservable[ev.Sensor] {
			return d.fetch(ctx, ev)
		}
		return d.subscribe(ctx, ev)
	case ports.EventCancel:
		return d.cancel(ctx, ev)
	case ports.EventFetch:
		return d.fetch(ctx, ev)
	default:
		return errs.WrapInvalid(errors.New("unknown event kind"), component, "handleEvent", "dispatch event")
	}
}

// subscribe starts a stream for a new (peer, token) pair, or refreshes the
// stream of a live one under the same ticket.
func (d *Dispatcher) subscribe(ctx context.Context, ev ports.InboundEvent) error {
	freq := ev.Frequency
	if freq <= 0 {
		freq = d.settings.ObserveFrequency
	}

	reg := d.lookup(ev.Peer, ev.Token)
	if reg == nil {
		reg = newRegistration(ev)
		d.index(reg)
		d.obs.LogInfo("registration_created",
			ports.Field{Key: "peer", Value: string(reg.peer)},
			ports.Field{Key: "sensor", Value: reg.sensor.String()},
			ports.Field{Key: "ticket", Value: reg.ticket.String()})
	} else {
		reg.failures = 0
	}
	if !reg.managerHeld {
		reg.managerHeld = true
		reg.refs++
	}
	d.updateGauge()

	return d.pushRequest(ctx, domain.Request{
		Kind:      domain.RequestStart,
		Sensor:    reg.sensor,
		Ticket:    reg.ticket,
		Frequency: freq,
		Options:   ev.Options,
	})
}

// cancel drops the transport's hold on a registration and asks the manager
// to stop its stream.
func (d *Dispatcher) cancel(ctx context.Context, ev ports.InboundEvent) error {
	reg := d.lookup(ev.Peer, ev.Token)
	if reg == nil {
		d.obs.LogDebug("cancel_unknown_registration", ports.Field{Key: "peer", Value: string(ev.Peer)})
		return nil
	}

	d.unindex(reg)
	reg.transportHeld = false
	d.release(reg)

	if !reg.managerHeld {
		return nil
	}
	return d.pushRequest(ctx, domain.Request{
		Kind:   domain.RequestStop,
		Sensor: reg.sensor,
		Ticket: reg.ticket,
	})
}

func (d *Dispatcher) fetch(ctx context.Context, ev ports.InboundEvent) error {
	txn := &asyncTxn{
		ticket:  domain.NewTicket(),
		peer:    ev.Peer,
		token:   ev.Token,
		sensor:  ev.Sensor,
		created: d.now(),
	}
	d.asyncs[txn.ticket] = txn
	return d.pushRequest(ctx, domain.Request{
		Kind:   domain.RequestOneshot,
		Sensor: ev.Sensor,
		Ticket: txn.ticket,
	})
}

func (d *Dispatcher) handleCommand(cmd domain.Command) {
	switch cmd.Kind {
	case domain.CommandStreamStopped:
		d.streamStopped(cmd)
	case domain.CommandOneshotDeliver:
		d.deliverOneshot(cmd)
	case domain.CommandStreamUpdate:
		d.streamUpdate(cmd)
	default:
		d.obs.LogWarn("invalid_command", ports.Field{Key: "ticket", Value: cmd.Ticket.String()})
	}
}

func (d *Dispatcher) streamStopped(cmd domain.Command) {
	reg, ok := d.regs[cmd.Ticket]
	if !ok || !reg.managerHeld {
		d.obs.LogDebug("stopped_unknown_registration", ports.Field{Key: "ticket", Value: cmd.Ticket.String()})
		return
	}
	reg.managerHeld = false
	d.release(reg)
}

// deliverOneshot sends the answer once and forgets the transaction whatever
// the outcome.
func (d *Dispatcher) deliverOneshot(cmd domain.Command) {
	txn, ok := d.asyncs[cmd.Ticket]
	if !ok {
		d.obs.LogDebug("oneshot_without_transaction", ports.Field{Key: "ticket", Value: cmd.Ticket.String()})
		return
	}
	delete(d.asyncs, cmd.Ticket)

	if err := d.transport.Send(txn.peer, txn.token, cmd.Packet.Payload, cmd.Confirmable); err != nil {
		d.obs.IncCounter(ports.MetricSendFailures, 1)
		d.obs.LogWarn("oneshot_send_failed",
			ports.Field{Key: "peer", Value: string(txn.peer)},
			ports.Field{Key: "error", Value: err.Error()})
		return
	}
	d.obs.IncCounter(ports.MetricPacketsSent, 1)
	d.obs.IncCounter(ports.MetricOctetsSent, float64(cmd.Packet.Len()))
}

// streamUpdate sends a data packet to a healthy registration and, when the
// manager flagged it, follows up with a sender report.
func (d *Dispatcher) streamUpdate(cmd domain.Command) {
	reg, ok := d.regs[cmd.Ticket]
	if !ok || !reg.transportHeld || reg.failures >= d.settings.FailureThreshold {
		d.obs.IncCounter(ports.MetricDroppedUpdates, 1)
		return
	}

	reliable := cmd.Confirmable || reg.nonCount >= d.settings.MaxNonConfirmable
	if reliable {
		reg.nonCount = 0
	} else {
		reg.nonCount++
	}

	if err := d.transport.Send(reg.peer, reg.token, cmd.Packet.Payload, reliable); err != nil {
		reg.failures++
		d.obs.IncCounter(ports.MetricSendFailures, 1)
		d.obs.LogWarn("notification_send_failed",
			ports.Field{Key: "peer", Value: string(reg.peer)},
			ports.Field{Key: "ticket", Value: reg.ticket.String()},
			ports.Field{Key: "failures", Value: reg.failures},
			ports.Field{Key: "error", Value: err.Error()})
		return
	}

	reg.failures = 0
	reg.notifications++
	reg.packets++
	reg.octets += uint64(cmd.Packet.Len())
	d.obs.IncCounter(ports.MetricPacketsSent, 1)
	d.obs.IncCounter(ports.MetricOctetsSent, float64(cmd.Packet.Len()))
	if !cmd.Packet.Generated.IsZero() {
		d.obs.ObserveLatency(ports.MetricDispatchLatency, d.now().Sub(cmd.Packet.Generated).Seconds())
	}

	if cmd.Report != nil {
		d.sendReport(reg, *cmd.Report)
	}
}

// sendReport pairs the current wallclock with the synthetic timestamp the
// stream would carry now: the last packet's timestamp advanced by the time
// elapsed since its newest sample.
func (d *Dispatcher) sendReport(reg *registration, rs domain.ReportState) {
	now := d.now()
	rtp := rs.RTPTimestamp
	if !rs.LastSample.IsZero() {
		drift := now.Sub(rs.LastSample)
		rtp += int32(int64(drift) * int64(d.settings.ClockHz) / int64(time.Second))
	}

	sr := domain.SenderReport{
		Sensor:       reg.sensor,
		Ticket:       reg.ticket,
		NTP:          now,
		RTPTimestamp: rtp,
		PacketCount:  rs.PacketCount,
		OctetCount:   rs.OctetCount,
		CName:        d.settings.CName,
	}
	payload := wire.EncodeSenderReport(sr)
	if err := d.transport.Send(reg.peer, reg.token, payload, false); err != nil {
		reg.failures++
		d.obs.IncCounter(ports.MetricSendFailures, 1)
		d.obs.LogWarn("sender_report_send_failed",
			ports.Field{Key: "ticket", Value: reg.ticket.String()},
			ports.Field{Key: "error", Value: err.Error()})
		return
	}
	reg.lastReport = now
	d.obs.IncCounter(ports.MetricSenderReports, 1)
	d.obs.LogDebug("sender_report_sent",
		ports.Field{Key: "ticket", Value: reg.ticket.String()},
		ports.Field{Key: "packets", Value: rs.PacketCount},
		ports.Field{Key: "octets", Value: rs.OctetCount})

	if d.archive != nil {
		if err := d.archive.WriteReports([]domain.SenderReport{sr}); err != nil {
			d.obs.LogError("sender_report_archive_failed", err, ports.Field{Key: "archive", Value: d.archive.Name()})
		}
	}
}

// expireAsyncs forgets fetches whose sample never came, at most once a second.
func (d *Dispatcher) expireAsyncs() {
	now := d.now()
	if now.Sub(d.lastSweep) < time.Second {
		return
	}
	d.lastSweep = now
	for t, txn := range d.asyncs {
		if now.Sub(txn.created) > d.settings.AsyncTimeout {
			delete(d.asyncs, t)
			d.obs.LogDebug("oneshot_expired",
				ports.Field{Key: "ticket", Value: t.String()},
				ports.Field{Key: "sensor", Value: txn.sensor.String()})
		}
	}
}

func registrationKey(peer ports.Endpoint, token string) uint64 {
	return xxhash.Sum64String(string(peer) + "\x00" + token)
}

func (d *Dispatcher) lookup(peer ports.Endpoint, token string) *registration {
	for _, reg := range d.byKey[registrationKey(peer, token)] {
		if reg.peer == peer && reg.token == token {
			return reg
		}
	}
	return nil
}

func (d *Dispatcher) index(reg *registration) {
	d.regs[reg.ticket] = reg
	d.byKey[reg.key] = append(d.byKey[reg.key], reg)
}

// unindex hides reg from (peer, token) lookups; a later subscribe from the
// same pair gets a fresh ticket while the old one may still be in flight.
func (d *Dispatcher) unindex(reg *registration) {
	bucket := d.byKey[reg.key]
	for i, r := range bucket {
		if r == reg {
			bucket = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		delete(d.byKey, reg.key)
	} else {
		d.byKey[reg.key] = bucket
	}
}

// release drops one reference and destroys reg when none remain.
func (d *Dispatcher) release(reg *registration) {
	reg.refs--
	if reg.refs > 0 {
		return
	}
	d.unindex(reg)
	delete(d.regs, reg.ticket)
	d.obs.LogInfo("registration_destroyed",
		ports.Field{Key: "ticket", Value: reg.ticket.String()},
		ports.Field{Key: "notifications", Value: reg.notifications},
		ports.Field{Key: "octets", Value: reg.octets})
	d.updateGauge()
}

func (d *Dispatcher) updateGauge() {
	d.obs.SetGauge(ports.MetricRegistrations, float64(len(d.regs)))
}
