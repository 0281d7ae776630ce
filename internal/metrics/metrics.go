// Package metrics exposes Prometheus collectors for the command server.
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
	poolIdleWorkers            prometheus.Gauge
	poolBusyWorkers            prometheus.Gauge
	poolOverflowSpawnedTotal   prometheus.Counter
	connectionsAcceptedTotal   prometheus.Counter
	acceptErrorsTotal          prometheus.Counter
	subscriberFailuresTotal    *prometheus.CounterVec
	adminRequestsTotal         *prometheus.CounterVec
	adminRequestDurationSecond *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		poolIdleWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "cmdgate_pool_idle_workers",
				Help: "Number of pooled workers waiting for a connection.",
			},
		)

		poolBusyWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "cmdgate_pool_busy_workers",
				Help: "Number of workers currently bound to a connection.",
			},
		)

		poolOverflowSpawnedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "cmdgate_pool_overflow_spawned_total",
				Help: "Workers spawned because no pooled worker was idle.",
			},
		)

		connectionsAcceptedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "cmdgate_connections_accepted_total",
				Help: "Total number of accepted client connections.",
			},
		)

		acceptErrorsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "cmdgate_accept_errors_total",
				Help: "Total number of failed accept calls.",
			},
		)

		subscriberFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cmdgate_subscriber_failures_total",
				Help: "Subscriber invocations that returned an error or panicked, labeled by command.",
			},
			[]string{"command"},
		)

		adminRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cmdgate_admin_requests_total",
				Help: "Total number of admin API requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		adminRequestDurationSecond = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cmdgate_admin_request_duration_seconds",
				Help:    "Histogram of admin API latencies, labeled by method and route.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetPoolWorkers records the current idle and busy worker counts.
func SetPoolWorkers(idle, busy int) {
	Init()
	poolIdleWorkers.Set(float64(idle))
	poolBusyWorkers.Set(float64(busy))
}

// ObserveOverflowSpawn counts a worker started beyond the pool.
func ObserveOverflowSpawn() {
	Init()
	poolOverflowSpawnedTotal.Inc()
}

// ObserveAccept counts an accepted connection.
func ObserveAccept() {
	Init()
	connectionsAcceptedTotal.Inc()
}

// ObserveAcceptError counts a failed accept.
func ObserveAcceptError() {
	Init()
	acceptErrorsTotal.Inc()
}

// ObserveSubscriberFailure counts a failed subscriber invocation.
func ObserveSubscriberFailure(command string) {
	Init()
	subscriberFailuresTotal.WithLabelValues(command).Inc()
}

// ObserveAdminRequest increments the admin API request metrics.
func ObserveAdminRequest(method, route string, code int, duration time.Duration) {
	Init()
	adminRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	adminRequestDurationSecond.WithLabelValues(method, route).Observe(duration.Seconds())
}
