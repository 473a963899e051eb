package buffer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/signalcore/metric"
)

// bufferMetrics exposes buffer statistics as Prometheus metrics.
type bufferMetrics struct {
	writes      prometheus.Counter
	reads       prometheus.Counter
	drops       prometheus.Counter
	size        prometheus.Gauge
	utilization prometheus.Gauge
}

func newBufferMetrics(registry *metric.Registry, prefix string) (*bufferMetrics, error) {
	m := &bufferMetrics{
		writes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "signalcore",
			Subsystem:   "buffer",
			Name:        "writes_total",
			Help:        "Total items written to the buffer",
			ConstLabels: prometheus.Labels{"buffer": prefix},
		}),
		reads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "signalcore",
			Subsystem:   "buffer",
			Name:        "reads_total",
			Help:        "Total items read from the buffer",
			ConstLabels: prometheus.Labels{"buffer": prefix},
		}),
		drops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "signalcore",
			Subsystem:   "buffer",
			Name:        "drops_total",
			Help:        "Items dropped due to overflow policy",
			ConstLabels: prometheus.Labels{"buffer": prefix},
		}),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "signalcore",
			Subsystem:   "buffer",
			Name:        "size",
			Help:        "Current number of buffered items",
			ConstLabels: prometheus.Labels{"buffer": prefix},
		}),
		utilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "signalcore",
			Subsystem:   "buffer",
			Name:        "utilization_ratio",
			Help:        "Buffer usage (0-1) showing backpressure",
			ConstLabels: prometheus.Labels{"buffer": prefix},
		}),
	}

	if err := registry.RegisterCounter(prefix, "buffer_writes", m.writes); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "buffer_reads", m.reads); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "buffer_drops", m.drops); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(prefix, "buffer_size", m.size); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(prefix, "buffer_utilization", m.utilization); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *bufferMetrics) recordWrite(size, capacity int) {
	m.writes.Inc()
	m.updateSize(size, capacity)
}

func (m *bufferMetrics) recordRead(size, capacity int) {
	m.reads.Inc()
	m.updateSize(size, capacity)
}

func (m *bufferMetrics) recordDrop() {
	m.drops.Inc()
}

func (m *bufferMetrics) updateSize(size, capacity int) {
	m.size.Set(float64(size))
	if capacity > 0 {
		m.utilization.Set(float64(size) / float64(capacity))
	}
}
