// Package metrics exposes Prometheus collectors for HTTP requests and
// backend connections.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jamesprial/virtweb/internal/hypervisor"
)

const namespace = "virtweb"

// Metrics owns a private registry so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	connections     *prometheus.CounterVec
	releaseFailures prometheus.Counter
	callTimeouts    *prometheus.CounterVec
}

var _ hypervisor.Observer = (*Metrics)(nil)

// New registers the collectors, plus the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "connections_total",
			Help:      "Backend connection attempts by result.",
		}, []string{"result"}),
		releaseFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "release_failures_total",
			Help:      "Backend connections whose release failed.",
		}),
		callTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "call_timeouts_total",
			Help:      "Backend calls abandoned after the call timeout, by operation.",
		}, []string{"op"}),
	}

	m.registry.MustRegister(
		m.requests,
		m.requestDuration,
		m.connections,
		m.releaseFailures,
		m.callTimeouts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRequest records one finished HTTP request.
func (m *Metrics) ObserveRequest(route, method string, code int, d time.Duration) {
	m.requests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.requestDuration.WithLabelValues(route, method).Observe(d.Seconds())
}

// ConnectionOpened implements hypervisor.Observer.
func (m *Metrics) ConnectionOpened(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.connections.WithLabelValues(result).Inc()
}

// ConnectionReleased implements hypervisor.Observer.
func (m *Metrics) ConnectionReleased(err error) {
	if err != nil {
		m.releaseFailures.Inc()
	}
}

// CallTimedOut implements hypervisor.Observer.
func (m *Metrics) CallTimedOut(op string) {
	m.callTimeouts.WithLabelValues(op).Inc()
}
