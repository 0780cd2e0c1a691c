// Package metrics exposes Prometheus collectors for the sync service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	syncCyclesTotal            *prometheus.CounterVec
	syncItemsTotal             *prometheus.CounterVec
	syncCycleDurationSeconds   prometheus.Histogram
	metadataFetchesTotal       *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		syncCyclesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookmark_sync_cycles_total",
				Help: "Total number of sync cycles run, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		syncItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookmark_sync_items_total",
				Help: "Total number of per-item sync results, labeled by action.",
			},
			[]string{"action"},
		)

		syncCycleDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bookmark_sync_cycle_duration_seconds",
				Help:    "Histogram of full sync cycle durations.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
		)

		metadataFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookmark_metadata_fetches_total",
				Help: "Total number of metadata extraction attempts, labeled by result.",
			},
			[]string{"result"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSyncCycle records one completed cycle with its item counts.
func ObserveSyncCycle(success bool, created, updated, errors int, duration time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	syncCyclesTotal.WithLabelValues(outcome).Inc()
	syncCycleDurationSeconds.Observe(duration.Seconds())
	syncItemsTotal.WithLabelValues("created").Add(float64(created))
	syncItemsTotal.WithLabelValues("updated").Add(float64(updated))
	syncItemsTotal.WithLabelValues("error").Add(float64(errors))
}

// ObserveMetadataFetch records one extraction attempt.
func ObserveMetadataFetch(ok bool) {
	result := "ok"
	if !ok {
		result = "fallback"
	}
	metadataFetchesTotal.WithLabelValues(result).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
