package dashboard

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the dashboard's Prometheus collectors on a private registry.
type Metrics struct {
	registry    *prometheus.Registry
	predictions *prometheus.CounterVec
	errors      *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	limited     prometheus.Counter
}

// NewMetrics registers the dashboard collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		predictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "churnops",
				Subsystem: "dashboard",
				Name:      "predictions_total",
				Help:      "Predictions served, by risk tier.",
			},
			[]string{"tier"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "churnops",
				Subsystem: "dashboard",
				Name:      "prediction_errors_total",
				Help:      "Rejected or failed prediction requests, by route.",
			},
			[]string{"route"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "churnops",
				Subsystem: "dashboard",
				Name:      "request_duration_seconds",
				Help:      "Request latency, by route.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		limited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "churnops",
			Subsystem: "dashboard",
			Name:      "rate_limited_total",
			Help:      "Prediction requests rejected by the rate limiter.",
		}),
	}
	m.registry.MustRegister(
		m.predictions,
		m.errors,
		m.latency,
		m.limited,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
