package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type metrics struct {
	registry   *prometheus.Registry
	requests   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	reloads    *prometheus.CounterVec
	techniques prometheus.Gauge
	coverage   prometheus.Gauge
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	m := &metrics{
		registry: registry,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "attackmap",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "attackmap",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "attackmap",
			Name:      "reloads_total",
			Help:      "Analysis reloads by result",
		}, []string{"result"}),
		techniques: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "attackmap",
			Name:      "techniques_loaded",
			Help:      "Techniques in the served analysis",
		}),
		coverage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "attackmap",
			Name:      "coverage_percent",
			Help:      "Share of the catalogue present in the served analysis",
		}),
	}

	registry.MustRegister(m.requests, m.duration, m.reloads, m.techniques, m.coverage)
	return m
}
