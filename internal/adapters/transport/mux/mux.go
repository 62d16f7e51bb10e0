// Package mux routes one dispatcher over several transports, choosing the
// transport for a send by the endpoint's prefix.
package mux

import (
	"errors"
	"strings"

	"github.com/ghalamif/SenseFlow/internal/ports"
)

type route struct {
	prefix string
	t      ports.Transport
}

type Transport struct {
	fallback ports.Transport
	routes   []route
	next     int
}

// New sends to fallback whenever no route prefix matches.
func New(fallback ports.Transport) *Transport {
	return &Transport{fallback: fallback}
}

// Route sends endpoints starting with prefix to t. Longer prefixes win.
func (m *Transport) Route(prefix string, t ports.Transport) *Transport {
	m.routes = append(m.routes, route{prefix: prefix, t: t})
	return m
}

func (m *Transport) pick(dest ports.Endpoint) ports.Transport {
	best, bestLen := m.fallback, -1
	for _, r := range m.routes {
		if strings.HasPrefix(string(dest), r.prefix) && len(r.prefix) > bestLen {
			best, bestLen = r.t, len(r.prefix)
		}
	}
	return best
}

func (m *Transport) Send(dest ports.Endpoint, token string, payload []byte, reliable bool) error {
	return m.pick(dest).Send(dest, token, payload, reliable)
}

// PollEvent rotates the starting transport so a busy one cannot starve the others.
func (m *Transport) PollEvent() (ports.InboundEvent, bool) {
	all := m.all()
	for i := range all {
		t := all[(m.next+i)%len(all)]
		if ev, ok := t.PollEvent(); ok {
			m.next = (m.next + i + 1) % len(all)
			return ev, true
		}
	}
	return ports.InboundEvent{}, false
}

func (m *Transport) Close() error {
	var errs []error
	for _, t := range m.all() {
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Transport) all() []ports.Transport {
	out := make([]ports.Transport, 0, len(m.routes)+1)
	out = append(out, m.fallback)
	for _, r := range m.routes {
		out = append(out, r.t)
	}
	return out
}

var _ ports.Transport = (*Transport)(nil)
