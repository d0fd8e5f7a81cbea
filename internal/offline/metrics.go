package offline

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the controller's prometheus collectors on a private
// registry. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	fetches       *prometheus.CounterVec
	installs      *prometheus.CounterVec
	activations   prometheus.Counter
	cacheWrites   *prometheus.CounterVec
	deletedCaches prometheus.Counter
	responseBytes prometheus.Histogram
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "offline",
			Name:      "fetches_total",
			Help:      "Intercepted fetches by request class and outcome.",
		}, []string{"class", "outcome"}),
		installs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "offline",
			Name:      "installs_total",
			Help:      "Install attempts by result.",
		}, []string{"result"}),
		activations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "offline",
			Name:      "activations_total",
			Help:      "Completed activations.",
		}),
		cacheWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "offline",
			Name:      "cache_writes_total",
			Help:      "Write-through attempts by result.",
		}, []string{"result"}),
		deletedCaches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "offline",
			Name:      "deleted_caches_total",
			Help:      "Stale caches removed during activation or clear.",
		}),
		responseBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "offline",
			Name:      "response_bytes",
			Help:      "Body size of responses served to clients.",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 8),
		}),
	}
	m.registry.MustRegister(
		m.fetches,
		m.installs,
		m.activations,
		m.cacheWrites,
		m.deletedCaches,
		m.responseBytes,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) observeFetch(class RequestClass, outcome string, bodyBytes int) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(class.String(), outcome).Inc()
	if outcome != OutcomeError {
		m.responseBytes.Observe(float64(bodyBytes))
	}
}

func (m *Metrics) observeInstall(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.installs.WithLabelValues(result).Inc()
}

func (m *Metrics) observeActivation(deleted int) {
	if m == nil {
		return
	}
	m.activations.Inc()
	m.deletedCaches.Add(float64(deleted))
}

func (m *Metrics) observeDeleted(n int) {
	if m == nil {
		return
	}
	m.deletedCaches.Add(float64(n))
}

func (m *Metrics) observeWrite(result string) {
	if m == nil {
		return
	}
	m.cacheWrites.WithLabelValues(result).Inc()
}
