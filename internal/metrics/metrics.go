// Package metrics exposes Prometheus collectors for the delivery engine and
// its HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookmill_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hookmill_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hookmill_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	deliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookmill_deliveries_total",
			Help: "Total number of webhook delivery attempts by outcome",
		},
		[]string{"event_type", "status"},
	)

	deliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hookmill_delivery_duration_seconds",
			Help:    "Outbound webhook request time in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"event_type"},
	)

	dispatchFanout = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hookmill_dispatch_fanout",
			Help:    "Number of deliveries created per dispatched event",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		},
		[]string{"event_type"},
	)

	queueJobs = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hookmill_queue_jobs",
			Help: "Delivery queue jobs by state",
		},
		[]string{"state"},
	)

	sweepRequeued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hookmill_sweep_requeued_total",
			Help: "Deliveries re-enqueued by the periodic sweep",
		},
	)

	dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hookmill_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	dbConnectionsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hookmill_db_connections_in_use",
			Help: "Number of database connections currently in use",
		},
	)

	dbConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hookmill_db_connections_idle",
			Help: "Number of idle database connections",
		},
	)
)

func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	statusStr := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func IncrementInFlight() {
	httpRequestsInFlight.Inc()
}

func DecrementInFlight() {
	httpRequestsInFlight.Dec()
}

// RecordDelivery records one attempt outcome. A zero duration means no HTTP
// request was made (terminal failures before the wire).
func RecordDelivery(eventType, status string, duration time.Duration) {
	deliveriesTotal.WithLabelValues(eventType, status).Inc()
	if duration > 0 {
		deliveryDuration.WithLabelValues(eventType).Observe(duration.Seconds())
	}
}

func RecordDispatch(eventType string, deliveries int) {
	dispatchFanout.WithLabelValues(eventType).Observe(float64(deliveries))
}

func RecordSweep(requeued int) {
	sweepRequeued.Add(float64(requeued))
}

func UpdateQueueStats(pending, active, completed, failed int) {
	queueJobs.WithLabelValues("pending").Set(float64(pending))
	queueJobs.WithLabelValues("active").Set(float64(active))
	queueJobs.WithLabelValues("completed").Set(float64(completed))
	queueJobs.WithLabelValues("failed").Set(float64(failed))
}

func UpdateDBStats(open, inUse, idle int) {
	dbConnectionsOpen.Set(float64(open))
	dbConnectionsInUse.Set(float64(inUse))
	dbConnectionsIdle.Set(float64(idle))
}
