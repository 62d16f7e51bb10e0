package observability

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ghalamif/SenseFlow/internal/ports"
)

// PromObs logs through slog and exports the SenseFlow metric set.
type PromObs struct {
	logger   *slog.Logger
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

// Option customizes a PromObs.
type Option func(*PromObs)

// WithLogger replaces the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *PromObs) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPromObs registers all metrics with reg, or with the default registerer
// when reg is nil.
func NewPromObs(reg prometheus.Registerer, opts ...Option) *PromObs {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p := &PromObs{
		logger:   slog.Default(),
		counters: make(map[string]prometheus.Counter),
		gauges:   make(map[string]prometheus.Gauge),
		histos:   make(map[string]prometheus.Observer),
	}
	for _, opt := range opts {
		opt(p)
	}

	counter := func(name, help string) {
		c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
		reg.MustRegister(c)
		p.counters[name] = c
	}
	gauge := func(name, help string) {
		g := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
		reg.MustRegister(g)
		p.gauges[name] = g
	}

	counter(ports.MetricRequestsTotal, "Requests handled by the streaming manager.")
	counter(ports.MetricRequestsDeferred, "Requests moved to the side queue to break a full-queue stall.")
	counter(ports.MetricResponsePutTimeouts, "Timed out attempts to enqueue a command for the dispatcher.")
	counter(ports.MetricPacketsSent, "Data packets handed to the transport.")
	counter(ports.MetricOctetsSent, "Payload bytes handed to the transport.")
	counter(ports.MetricSenderReports, "Sender reports emitted.")
	counter(ports.MetricSendFailures, "Transport sends that failed.")
	counter(ports.MetricOneshotsDelivered, "One-shot answers produced.")
	counter(ports.MetricDroppedUpdates, "Stream updates dropped for unknown, cancelled or failing registrations.")
	counter(ports.MetricCarrierSamples, "Samples republished by carrier threads.")
	counter(ports.MetricFramesDropped, "Inbound transport frames discarded as malformed.")

	gauge(ports.MetricRequestQueueLength, "Requests waiting for the streaming manager.")
	gauge(ports.MetricResponseQueueLength, "Commands waiting for the dispatcher.")
	gauge(ports.MetricActiveSensors, "Sensors currently activated.")
	gauge(ports.MetricRegistrations, "Live observe registrations.")

	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    ports.MetricDispatchLatency,
		Help:    "Time from packet generation to transport hand-off.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	})
	reg.MustRegister(latency)
	p.histos[ports.MetricDispatchLatency] = latency

	return p
}

func attrs(fields []ports.Field) []any {
	out := make([]any, 0, len(fields))
	for _, f := range fields {
		out = append(out, slog.Any(f.Key, f.Value))
	}
	return out
}

func (p *PromObs) LogDebug(msg string, fields ...ports.Field) {
	p.logger.Debug(msg, attrs(fields)...)
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	p.logger.Info(msg, attrs(fields)...)
}

func (p *PromObs) LogWarn(msg string, fields ...ports.Field) {
	p.logger.Warn(msg, attrs(fields)...)
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	args := attrs(fields)
	if err != nil {
		args = append(args, slog.String("error", err.Error()))
	}
	p.logger.Error(msg, args...)
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

var _ ports.Observability = (*PromObs)(nil)
