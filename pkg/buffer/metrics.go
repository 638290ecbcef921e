package buffer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wp-labs/wp-open-api/metric"
)

type bufferMetrics struct {
	writes      prometheus.Counter
	reads       prometheus.Counter
	drops       prometheus.Counter
	utilization prometheus.Gauge
}

func newBufferMetrics(registry *metric.MetricsRegistry, owner string) (*bufferMetrics, error) {
	labels := prometheus.Labels{"component": owner}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "wpipe",
			Subsystem:   "buffer",
			Name:        name,
			ConstLabels: labels,
			Help:        help,
		})
	}
	m := &bufferMetrics{
		writes: counter("writes_total", "Items written to the buffer"),
		reads:  counter("reads_total", "Items read from the buffer"),
		drops:  counter("drops_total", "Items lost to the overflow policy"),
		utilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "wpipe",
			Subsystem:   "buffer",
			Name:        "utilization",
			ConstLabels: labels,
			Help:        "Buffer fill ratio (0.0 to 1.0)",
		}),
	}

	steps := []struct {
		name     string
		register func() error
	}{
		{"buffer_writes", func() error { return registry.RegisterCounter(owner, "buffer_writes", m.writes) }},
		{"buffer_reads", func() error { return registry.RegisterCounter(owner, "buffer_reads", m.reads) }},
		{"buffer_drops", func() error { return registry.RegisterCounter(owner, "buffer_drops", m.drops) }},
		{"buffer_utilization", func() error { return registry.RegisterGauge(owner, "buffer_utilization", m.utilization) }},
	}
	for i, step := range steps {
		if err := step.register(); err != nil {
			for _, prev := range steps[:i] {
				registry.Unregister(owner, prev.name)
			}
			return nil, err
		}
	}
	return m, nil
}

func (m *bufferMetrics) unregister(registry *metric.MetricsRegistry, owner string) {
	for _, name := range []string{"buffer_writes", "buffer_reads", "buffer_drops", "buffer_utilization"} {
		registry.Unregister(owner, name)
	}
}

func (m *bufferMetrics) fill(size, capacity int) {
	m.utilization.Set(float64(size) / float64(capacity))
}
