// Package simsensor is a SensorSource backed by synthetic signals, used for
// development and tests on machines without sensor hardware.
package simsensor

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/ghalamif/SenseFlow/internal/domain"
	"github.com/ghalamif/SenseFlow/internal/errs"
	"github.com/ghalamif/SenseFlow/internal/ports"
)

const DefaultBuffer = 1024

// Option customizes a Source.
type Option func(*Source)

// WithBuffer sets how many undelivered samples are kept before new ones are dropped.
func WithBuffer(n int) Option {
	return func(s *Source) {
		if n > 0 {
			s.buffer = n
		}
	}
}

// WithChangeOnly marks sensors that report once on activation and then only
// when their value changes, which the simulation never does.
func WithChangeOnly(sensors ...domain.SensorType) Option {
	return func(s *Source) {
		for _, sensor := range sensors {
			s.changeOnly[sensor] = true
		}
	}
}

type generator struct {
	cancel  context.CancelFunc
	limiter *rate.Limiter
	done    chan struct{}
}

type Source struct {
	buffer     int
	changeOnly map[domain.SensorType]bool
	events     chan domain.Sample
	dropped    atomic.Uint64

	mu   sync.Mutex
	gens map[domain.SensorType]*generator
}

func New(opts ...Option) *Source {
	s := &Source{
		buffer:     DefaultBuffer,
		changeOnly: make(map[domain.SensorType]bool),
		gens:       make(map[domain.SensorType]*generator),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.events = make(chan domain.Sample, s.buffer)
	return s
}

func (s *Source) Activate(sensor domain.SensorType, frequency int) error {
	if !sensor.Valid() {
		return errs.WrapInvalid(errs.ErrUnknownSensor, "simsensor", "Activate", "activate "+sensor.String())
	}
	if frequency <= 0 {
		frequency = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.gens[sensor]; ok {
		g.limiter.SetLimit(rate.Limit(frequency))
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	g := &generator{
		cancel:  cancel,
		limiter: rate.NewLimiter(rate.Limit(frequency), 1),
		done:    make(chan struct{}),
	}
	s.gens[sensor] = g
	go s.run(ctx, sensor, g)
	return nil
}

func (s *Source) SetFrequency(sensor domain.SensorType, frequency int) error {
	if frequency <= 0 {
		frequency = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.gens[sensor]
	if !ok {
		return errs.WrapInvalid(errs.ErrNotFound, "simsensor", "SetFrequency", "lookup "+sensor.String())
	}
	g.limiter.SetLimit(rate.Limit(frequency))
	return nil
}

// Deactivate stops the generator and waits for it to exit; samples already
// buffered stay pollable.
func (s *Source) Deactivate(sensor domain.SensorType) error {
	s.mu.Lock()
	g, ok := s.gens[sensor]
	delete(s.gens, sensor)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	g.cancel()
	<-g.done
	return nil
}

func (s *Source) PollNextEvent() (domain.Sample, bool) {
	select {
	case smp := <-s.events:
		return smp, true
	default:
		return domain.Sample{}, false
	}
}

// Dropped counts samples discarded because nobody polled in time.
func (s *Source) Dropped() uint64 { return s.dropped.Load() }

// Close stops every generator.
func (s *Source) Close() error {
	s.mu.Lock()
	sensors := make([]domain.SensorType, 0, len(s.gens))
	for sensor := range s.gens {
		sensors = append(sensors, sensor)
	}
	s.mu.Unlock()
	for _, sensor := range sensors {
		_ = s.Deactivate(sensor)
	}
	return nil
}

func (s *Source) run(ctx context.Context, sensor domain.SensorType, g *generator) {
	defer close(g.done)

	start := time.Now()
	s.emit(sensor, start, 0)
	if s.changeOnly[sensor] {
		<-ctx.Done()
		return
	}

	// The first token was consumed by the initial sample.
	_ = g.limiter.Wait(ctx)
	for {
		if err := g.limiter.Wait(ctx); err != nil {
			return
		}
		now := time.Now()
		s.emit(sensor, now, now.Sub(start).Seconds())
	}
}

func (s *Source) emit(sensor domain.SensorType, now time.Time, t float64) {
	smp := domain.Sample{Sensor: sensor, Timestamp: now, Reading: reading(sensor, t)}
	select {
	case s.events <- smp:
	default:
		s.dropped.Add(1)
	}
}

// baselines are the resting values the synthetic signals oscillate around.
var baselines = map[domain.SensorType]float64{
	domain.SensorLight:              320,
	domain.SensorPressure:           1013.25,
	domain.SensorTemperature:        21,
	domain.SensorProximity:          5,
	domain.SensorRelativeHumidity:   45,
	domain.SensorAmbientTemperature: 22.5,
}

func reading(sensor domain.SensorType, t float64) domain.Reading {
	switch sensor.Shape() {
	case domain.ShapeVector3:
		z := 0.0
		if sensor == domain.SensorAccelerometer || sensor == domain.SensorGravity {
			z = 9.81
		}
		return domain.Vector3{X: math.Sin(t), Y: math.Cos(t), Z: z + 0.05*math.Sin(3*t)}
	case domain.ShapePosition:
		return domain.Position{Lat: 48.1374 + 1e-5*math.Sin(t/10), Lon: 11.5755 + 1e-5*math.Cos(t/10), Alt: 519}
	default:
		base := baselines[sensor]
		return domain.Scalar{Value: base + 0.01*base*math.Sin(t)}
	}
}

var _ ports.SensorSource = (*Source)(nil)
