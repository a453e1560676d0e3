package telemetry

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetrics records counters, timers, and gauges on a dedicated
// registry. Tag pairs (k1, v1, k2, v2, ...) become label pairs on a vector
// keyed by the tag names, in the order given, seen the first time a metric
// name is used; every subsequent call with that name must supply the same tag
// names in the same order.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	gauges     map[string]*prometheus.GaugeVec
}

// NewPrometheusMetrics constructs a Metrics recorder backed by the given
// registry. Pass prometheus.NewRegistry() for an isolated registry, or
// prometheus.DefaultRegisterer-wrapped registry to expose on the process's
// default /metrics handler.
func NewPrometheusMetrics(registry *prometheus.Registry) Metrics {
	return &PrometheusMetrics{
		registry:   registry,
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
	}
}

// IncCounter implements Metrics.
func (m *PrometheusMetrics) IncCounter(name string, value float64, tags ...string) {
	labels, values := splitTags(tags)
	m.mu.Lock()
	vec, ok := m.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{Name: sanitizeMetricName(name)}, labels)
		m.registry.MustRegister(vec)
		m.counters[name] = vec
	}
	m.mu.Unlock()
	vec.WithLabelValues(values...).Add(value)
}

// RecordTimer implements Metrics.
func (m *PrometheusMetrics) RecordTimer(name string, duration time.Duration, tags ...string) {
	labels, values := splitTags(tags)
	m.mu.Lock()
	vec, ok := m.histograms[name]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    sanitizeMetricName(name),
			Buckets: prometheus.DefBuckets,
		}, labels)
		m.registry.MustRegister(vec)
		m.histograms[name] = vec
	}
	m.mu.Unlock()
	vec.WithLabelValues(values...).Observe(duration.Seconds())
}

// RecordGauge implements Metrics.
func (m *PrometheusMetrics) RecordGauge(name string, value float64, tags ...string) {
	labels, values := splitTags(tags)
	m.mu.Lock()
	vec, ok := m.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: sanitizeMetricName(name)}, labels)
		m.registry.MustRegister(vec)
		m.gauges[name] = vec
	}
	m.mu.Unlock()
	vec.WithLabelValues(values...).Set(value)
}

func splitTags(tags []string) (labels []string, values []string) {
	for i := 0; i+1 < len(tags); i += 2 {
		labels = append(labels, sanitizeMetricName(tags[i]))
		values = append(values, tags[i+1])
	}
	if len(tags)%2 == 1 {
		labels = append(labels, sanitizeMetricName(tags[len(tags)-1]))
		values = append(values, "")
	}
	return labels, values
}

// sanitizeMetricName replaces characters Prometheus rejects in metric and
// label names with underscores; agent ids and event types are free-form
// strings that may contain dots or dashes.
func sanitizeMetricName(s string) string {
	out := make([]rune, 0, len(s))
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			out = append(out, r)
		case r >= '0' && r <= '9':
			if i == 0 {
				out = append(out, '_')
			}
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "_" + strconv.Itoa(len(s))
	}
	return string(out)
}
