// Package metrics exposes the server's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the collectors on a private registry so multiple server
// instances (tests included) never collide on registration.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests      *prometheus.CounterVec
	pullBytes         prometheus.Counter
	inferenceDuration prometheus.Histogram
	residentModel     *prometheus.GaugeVec
}

// New returns a fresh collector set.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aurora",
			Name:      "http_requests_total",
			Help:      "HTTP requests handled, by method, route and status.",
		}, []string{"method", "route", "status"}),
		pullBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aurora",
			Name:      "pull_bytes_total",
			Help:      "Bytes downloaded by the pull pipeline.",
		}),
		inferenceDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "aurora",
			Name:      "inference_duration_seconds",
			Help:      "Wall time of generate calls.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		residentModel: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "aurora",
			Name:      "resident_model",
			Help:      "1 for the currently loaded model.",
		}, []string{"model"}),
	}

	registry.MustRegister(
		m.httpRequests,
		m.pullBytes,
		m.inferenceDuration,
		m.residentModel,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveRequest counts one handled HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

// AddPullBytes accounts downloaded payload bytes.
func (m *Metrics) AddPullBytes(n int64) {
	m.pullBytes.Add(float64(n))
}

// ObserveInference records the duration of one generate call in seconds.
func (m *Metrics) ObserveInference(seconds float64) {
	m.inferenceDuration.Observe(seconds)
}

// SetResidentModel marks the loaded model, clearing the previous one.
func (m *Metrics) SetResidentModel(name string) {
	m.residentModel.Reset()
	if name != "" {
		m.residentModel.WithLabelValues(name).Set(1)
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
