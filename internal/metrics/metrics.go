// Package metrics exposes Prometheus instrumentation for the HTTP
// surface and the retrieval pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts finished HTTP requests by route and status.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "askdesk",
		Name:      "http_requests_total",
		Help:      "Finished HTTP requests by route and status code.",
	}, []string{"route", "status"})

	// RequestDuration observes request latency by route.
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "askdesk",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})

	// InFlight gauges concurrently executing requests.
	InFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "askdesk",
		Name:      "http_requests_in_flight",
		Help:      "Requests currently being served.",
	})

	// ShardSearchFailures counts failed per-department vector searches.
	ShardSearchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "askdesk",
		Name:      "shard_search_failures_total",
		Help:      "Vector shard searches that returned an error.",
	})

	// QueriesTotal counts retrieval requests by confidence band.
	QueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "askdesk",
		Name:      "queries_total",
		Help:      "Completed retrieval queries by confidence band.",
	}, []string{"confidence"})
)
