// Package metrics provides Prometheus metrics for the aggregation pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ArticlesCreated counts articles stored per feed.
	ArticlesCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gleaner",
			Name:      "articles_created_total",
			Help:      "Total number of new articles stored",
		},
		[]string{"feed"},
	)

	// FetchErrors counts failed HTTP fetches by host.
	FetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gleaner",
			Name:      "fetch_errors_total",
			Help:      "Total number of failed HTTP fetches",
		},
		[]string{"host"},
	)

	// Runs counts aggregation runs per feed and outcome.
	Runs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gleaner",
			Name:      "runs_total",
			Help:      "Total number of aggregation runs",
		},
		[]string{"feed", "status"},
	)

	// RunDuration measures aggregation run duration per feed.
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gleaner",
			Name:      "run_duration_seconds",
			Help:      "Duration of aggregation runs in seconds",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"feed"},
	)

	// GReaderRequests counts reader API requests per matched route.
	GReaderRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gleaner",
			Name:      "greader_requests_total",
			Help:      "Total number of reader API requests",
		},
		[]string{"route"},
	)
)

// RecordRun records one aggregation run.
func RecordRun(feed, status string, duration float64) {
	Runs.WithLabelValues(feed, status).Inc()
	RunDuration.WithLabelValues(feed).Observe(duration)
}

// RecordFetchError records a failed fetch against its host.
func RecordFetchError(host string) {
	FetchErrors.WithLabelValues(host).Inc()
}
