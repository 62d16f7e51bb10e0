package streaming

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/ghalamif/SenseFlow/internal/ports"
)

// runCarrier re-publishes the cached sample of st at the sensor's current
// frequency. It exits once the sensor is deactivated (or re-activated under a
// newer generation), the manager stops, or ctx is cancelled. The exit check
// runs under the same mutex that guards the active flag.
func (m *Manager) runCarrier(ctx context.Context, st *sensorState, gen uint64) {
	defer m.carrierWG.Done()

	limiter := rate.NewLimiter(rate.Limit(m.settings.DefaultFrequency), 1)
	for {
		st.mu.Lock()
		if !st.active || st.generation != gen || !m.running.Load() {
			st.mu.Unlock()
			m.obs.LogDebug("carrier_exited", ports.Field{Key: "sensor", Value: st.sensor.String()})
			return
		}
		freq := st.frequency
		sample, valid := st.cached, st.cacheValid
		st.mu.Unlock()

		if valid {
			sample.Timestamp = m.now()
			sample.Carrier = true
			m.carriers.Push(sample)
			m.obs.IncCounter(ports.MetricCarrierSamples, 1)
		}

		if freq <= 0 {
			freq = m.settings.DefaultFrequency
		}
		limiter.SetLimit(rate.Limit(freq))
		if err := limiter.Wait(ctx); err != nil {
			return
		}
	}
}
