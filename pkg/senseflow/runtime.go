package senseflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/ghalamif/SenseFlow/internal/adapters/archive"
	"github.com/ghalamif/SenseFlow/internal/adapters/observability"
	"github.com/ghalamif/SenseFlow/internal/adapters/opcua"
	"github.com/ghalamif/SenseFlow/internal/adapters/queue"
	"github.com/ghalamif/SenseFlow/internal/adapters/simsensor"
	"github.com/ghalamif/SenseFlow/internal/adapters/transport/loopback"
	"github.com/ghalamif/SenseFlow/internal/adapters/transport/mux"
	"github.com/ghalamif/SenseFlow/internal/adapters/transport/udp"
	"github.com/ghalamif/SenseFlow/internal/app/config"
	"github.com/ghalamif/SenseFlow/internal/app/dispatch"
	"github.com/ghalamif/SenseFlow/internal/app/streaming"
	"github.com/ghalamif/SenseFlow/internal/domain"
	"github.com/ghalamif/SenseFlow/internal/ports"
)

// RuntimeOption customizes the dependencies used by Runtime.
type RuntimeOption func(*runtimeOverrides)

type runtimeOverrides struct {
	source        SensorSource
	transport     Transport
	archive       ReportArchive
	transformer   Transformer
	observability Observability
	logger        *slog.Logger
	registry      *prometheus.Registry
	noMetrics     bool
}

// WithSource injects a custom sensor source (drivers, replayers, simulators).
func WithSource(src SensorSource) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.source = src
	}
}

// WithTransport replaces the configured subscriber transport. Embedded
// subscribers keep working alongside it.
func WithTransport(t Transport) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.transport = t
	}
}

// WithArchive stores sender reports somewhere other than the configured database.
func WithArchive(a ReportArchive) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.archive = a
	}
}

// WithTransformer adjusts samples before they are streamed.
func WithTransformer(t Transformer) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.transformer = t
	}
}

// WithObservability plugs in a custom observability backend.
func WithObservability(obs Observability) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.observability = obs
	}
}

// WithLogger sets the slog logger used by the default observability backend.
func WithLogger(l *slog.Logger) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.logger = l
	}
}

// WithRegistry registers the default metrics with reg instead of a private registry.
func WithRegistry(reg *prometheus.Registry) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.registry = reg
	}
}

// WithoutMetricsServer keeps the runtime from serving /metrics and /healthz.
func WithoutMetricsServer() RuntimeOption {
	return func(o *runtimeOverrides) {
		o.noMetrics = true
	}
}

// Runtime wires a sensor source, the streaming manager, the protocol
// dispatcher and a transport, and exposes lifecycle hooks for embedding
// SenseFlow inside any Go service.
type Runtime struct {
	cfg         *Config
	obs         ports.Observability
	registry    *prometheus.Registry
	source      ports.SensorSource
	transport   ports.Transport
	local       *loopback.Transport
	udp         *udp.Server
	archive     ports.ReportArchive
	transformer ports.Transformer
	serve       bool

	mu             sync.Mutex
	started        bool
	requests       *queue.Bounded[domain.Request]
	responses      *queue.Bounded[domain.Command]
	manager        *streaming.Manager
	closers        []io.Closer
	metricsSrv     *http.Server
	cancel         context.CancelFunc
	group          *errgroup.Group
	done           chan struct{}
	managerLoop    loopHandle
	dispatcherLoop loopHandle

	peers atomic.Uint64
}

// NewRuntime resolves the adapters named by cfg, letting RuntimeOption
// values override any of them. Sockets and sessions are opened by Start.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var overrides runtimeOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&overrides)
		}
	}

	reg := overrides.registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	obs := overrides.observability
	if obs == nil {
		logger := overrides.logger
		if logger == nil {
			logger = cfg.Log.Logger(os.Stderr)
		}
		obs = observability.NewPromObs(reg, observability.WithLogger(logger))
	}

	src := overrides.source
	if src == nil {
		var err error
		if src, err = newSource(cfg); err != nil {
			return nil, err
		}
	}

	return &Runtime{
		cfg:         cfg,
		obs:         obs,
		registry:    reg,
		source:      src,
		transport:   overrides.transport,
		local:       loopback.New(0),
		archive:     overrides.archive,
		transformer: overrides.transformer,
		serve:       !overrides.noMetrics,
	}, nil
}

func newSource(cfg *Config) (ports.SensorSource, error) {
	switch cfg.Source.Kind {
	case config.SourceOPCUA:
		src, err := opcua.NewSource(cfg.Source.OPCUA)
		if err != nil {
			return nil, err
		}
		return src, nil
	default:
		var changeOnly []domain.SensorType
		for sensor, p := range cfg.StreamingSettings().Profiles {
			if p.Carrier {
				changeOnly = append(changeOnly, sensor)
			}
		}
		return simsensor.New(simsensor.WithBuffer(cfg.Source.Buffer), simsensor.WithChangeOnly(changeOnly...)), nil
	}
}

// Start opens the transport, the source session and the archive, then
// launches the manager and dispatcher loops. It returns immediately; call
// Run to block on a context instead.
func (r *Runtime) Start(ctx context.Context) error {
	if r == nil {
		return fmt.Errorf("runtime is nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return fmt.Errorf("runtime already started")
	}

	if c, ok := r.source.(interface{ Connect(context.Context) error }); ok {
		if err := c.Connect(ctx); err != nil {
			return err
		}
	}

	transport, err := r.openTransport()
	if err != nil {
		return errors.Join(err, r.closeSource())
	}

	if r.archive == nil && r.cfg.Archive.Enabled() {
		a, err := archive.Open(r.cfg.Archive.ConnString, r.cfg.Archive.Table)
		if err != nil {
			return errors.Join(err, transport.Close(), r.closeSource())
		}
		if err := a.EnsureSchema(); err != nil {
			return errors.Join(err, a.Close(), transport.Close(), r.closeSource())
		}
		r.archive = a
		r.closers = append(r.closers, a)
	}

	r.requests = queue.NewBounded[domain.Request](r.cfg.Policy.QueueCapacity, r.cfg.Policy.PutTimeout)
	r.responses = queue.NewBounded[domain.Command](r.cfg.Policy.QueueCapacity, r.cfg.Policy.PutTimeout)

	var mopts []streaming.Option
	if r.transformer != nil {
		mopts = append(mopts, streaming.WithTransformer(r.transformer))
	}
	r.manager = streaming.NewManager(r.cfg.StreamingSettings(), r.cfg.Policy, r.source, r.requests, r.responses, r.obs, mopts...)

	var dopts []dispatch.Option
	if r.archive != nil {
		dopts = append(dopts, dispatch.WithArchive(r.archive))
	}
	dispatcher := dispatch.New(r.dispatchSettings(), r.cfg.Policy, transport, r.requests, r.responses, r.obs, dopts...)

	runCtx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(runCtx)
	r.managerLoop = startLoop(g, gctx, r.manager.Run)
	r.dispatcherLoop = startLoop(g, gctx, dispatcher.Run)
	g.Go(func() error {
		r.recordQueueGauges(gctx, time.Second)
		return nil
	})

	r.transport = transport
	r.cancel = cancel
	r.group = g
	r.done = make(chan struct{})
	go func() {
		_ = g.Wait()
		close(r.done)
	}()

	if r.serve {
		r.startMetrics()
	}
	r.started = true
	r.obs.LogInfo("runtime_started",
		ports.Field{Key: "source", Value: r.cfg.Source.Kind},
		ports.Field{Key: "transport", Value: r.cfg.Transport.Kind})
	return nil
}

// openTransport puts the embedded loopback transport next to whichever
// transport serves remote subscribers.
func (r *Runtime) openTransport() (ports.Transport, error) {
	if r.transport != nil {
		return mux.New(r.transport).Route(LocalPrefix, r.local), nil
	}
	switch r.cfg.Transport.Kind {
	case config.TransportLoopback:
		return r.local, nil
	default:
		srv, err := udp.Listen(r.cfg.Transport.UDP, r.obs)
		if err != nil {
			return nil, err
		}
		r.udp = srv
		return mux.New(srv).Route(LocalPrefix, r.local), nil
	}
}

func (r *Runtime) dispatchSettings() dispatch.Settings {
	ds := r.cfg.DispatchSettings()
	if ds.CName == dispatch.DefaultCName {
		if host, err := os.Hostname(); err == nil {
			ds.CName += "@" + host
		}
	}
	return ds
}

// Run starts the runtime and blocks until the provided context is cancelled.
// Upon cancellation it attempts a graceful shutdown.
func (r *Runtime) Run(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
	case <-r.done:
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.Shutdown(shutdownCtx)
}

// Shutdown joins the manager, then the dispatcher, then the carriers, and
// closes the metrics server, the transport and the source.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return nil
	}
	r.started = false

	var errs []error
	if err := r.managerLoop.stop(ctx, "manager"); err != nil {
		errs = append(errs, err)
	}
	if err := r.dispatcherLoop.stop(ctx, "dispatcher"); err != nil {
		errs = append(errs, err)
	}
	r.cancel()
	select {
	case <-r.done:
		if err := r.group.Wait(); err != nil {
			errs = append(errs, err)
		}
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for loops: %w", ctx.Err()))
	}
	r.manager.WaitCarriers()

	if r.metricsSrv != nil {
		if err := r.metricsSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, err)
		}
	}

	if err := r.transport.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := r.closeSource(); err != nil {
		errs = append(errs, err)
	}
	for _, c := range r.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil

	r.obs.LogInfo("runtime_stopped")
	return errors.Join(errs...)
}

// loopHandle stops one worker loop on its own so shutdown can join the
// manager before the dispatcher.
type loopHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func startLoop(g *errgroup.Group, parent context.Context, run func(context.Context) error) loopHandle {
	ctx, cancel := context.WithCancel(parent)
	h := loopHandle{cancel: cancel, done: make(chan struct{})}
	g.Go(func() error {
		defer close(h.done)
		return run(ctx)
	})
	return h
}

func (h loopHandle) stop(ctx context.Context, name string) error {
	h.cancel()
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %s: %w", name, ctx.Err())
	}
}

func (r *Runtime) closeSource() error {
	if c, ok := r.source.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// ListenAddr is the bound UDP address, or nil when no UDP transport runs.
func (r *Runtime) ListenAddr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.udp == nil {
		return nil
	}
	return r.udp.Addr()
}

// Registry is where the default observability backend registers its metrics.
func (r *Runtime) Registry() *prometheus.Registry { return r.registry }

func (r *Runtime) startMetrics() {
	router := http.NewServeMux()
	router.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              r.cfg.Metrics.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.metricsSrv = srv

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.obs.LogError("metrics_server_exited", err)
		}
	}()
}

func (r *Runtime) recordQueueGauges(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.obs.SetGauge(ports.MetricResponseQueueLength, float64(r.responses.Len()))
		}
	}
}
