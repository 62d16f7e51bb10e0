package senseflow

import (
	"context"
	"fmt"
)

// Flow collects the two halves of a runtime before it is built: what feeds
// the streaming manager (StreamIN) and what carries packets to subscribers
// (StreamOUT). Options given to either half end up as RuntimeOption values.
type Flow struct {
	cfg    *Config
	common []RuntimeOption
	in     []RuntimeOption
	out    []RuntimeOption
}

// FlowOption adjusts a Flow right after its config is resolved.
type FlowOption func(*Flow)

// StreamInOption selects a sample-side adapter.
type StreamInOption struct{ opt RuntimeOption }

// StreamOutOption selects a subscriber-side adapter.
type StreamOutOption struct{ opt RuntimeOption }

// Conf reads the YAML config at path and starts a Flow from it.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return ConfFromConfig(cfg, opts...)
}

// ConfFromConfig starts a Flow from a config built in code.
func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	f := &Flow{cfg: cfg}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f, nil
}

// Config is the config the runtime will be built from; edits made before
// StreamOUT are honoured.
func (f *Flow) Config() *Config {
	if f == nil {
		return nil
	}
	return f.cfg
}

// Options adds RuntimeOption values that belong to neither half, such as
// WithRegistry or WithoutMetricsServer.
func (f *Flow) Options(opts ...RuntimeOption) *Flow {
	if f == nil {
		return nil
	}
	f.common = appendSet(f.common, opts...)
	return f
}

// StreamIN sets the sensor source, the sample transformer or the
// observability backend used by the manager.
func (f *Flow) StreamIN(opts ...StreamInOption) *Flow {
	if f == nil {
		return nil
	}
	for _, o := range opts {
		f.in = appendSet(f.in, o.opt)
	}
	return f
}

// StreamOUT sets the transport and report archive, then builds the Runtime.
// Sample-side options are applied first so subscriber-side ones win on
// overlap (observability).
func (f *Flow) StreamOUT(opts ...StreamOutOption) (*Runtime, error) {
	if f == nil {
		return nil, fmt.Errorf("flow is nil")
	}
	for _, o := range opts {
		f.out = appendSet(f.out, o.opt)
	}
	all := make([]RuntimeOption, 0, len(f.common)+len(f.in)+len(f.out))
	all = append(all, f.common...)
	all = append(all, f.in...)
	all = append(all, f.out...)
	return NewRuntime(f.cfg, all...)
}

// Run builds the runtime and serves subscribers until ctx is done.
func (f *Flow) Run(ctx context.Context, opts ...StreamOutOption) error {
	rt, err := f.StreamOUT(opts...)
	if err != nil {
		return err
	}
	return rt.Run(ctx)
}

// WithFlowOptions passes RuntimeOption values through Conf.
func WithFlowOptions(opts ...RuntimeOption) FlowOption {
	return func(f *Flow) {
		f.Options(opts...)
	}
}

// StreamInSource reads samples from src instead of the configured source.
func StreamInSource(src SensorSource) StreamInOption {
	if src == nil {
		return StreamInOption{}
	}
	return StreamInOption{WithSource(src)}
}

// StreamInTransformer rewrites fresh samples before they are cached and streamed.
func StreamInTransformer(tr Transformer) StreamInOption {
	if tr == nil {
		return StreamInOption{}
	}
	return StreamInOption{WithTransformer(tr)}
}

// StreamInObservability replaces the Prometheus/slog backend.
func StreamInObservability(obs Observability) StreamInOption {
	if obs == nil {
		return StreamInOption{}
	}
	return StreamInOption{WithObservability(obs)}
}

// StreamOutTransport serves remote subscribers over t; embedded subscribers
// keep using the loopback transport next to it.
func StreamOutTransport(t Transport) StreamOutOption {
	if t == nil {
		return StreamOutOption{}
	}
	return StreamOutOption{WithTransport(t)}
}

// StreamOutArchive stores every emitted sender report in a.
func StreamOutArchive(a ReportArchive) StreamOutOption {
	if a == nil {
		return StreamOutOption{}
	}
	return StreamOutOption{WithArchive(a)}
}

// StreamOutObservability replaces the Prometheus/slog backend.
func StreamOutObservability(obs Observability) StreamOutOption {
	if obs == nil {
		return StreamOutOption{}
	}
	return StreamOutOption{WithObservability(obs)}
}

func appendSet(dst []RuntimeOption, opts ...RuntimeOption) []RuntimeOption {
	for _, opt := range opts {
		if opt != nil {
			dst = append(dst, opt)
		}
	}
	return dst
}
