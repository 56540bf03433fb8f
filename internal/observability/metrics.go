package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	ResultOK     = "ok"
	ResultFailed = "failed"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "onethread",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "onethread",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	workerEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "onethread",
			Subsystem: "worker",
			Name:      "events_total",
			Help:      "Events processed by session workers, by result.",
		},
		[]string{"result"},
	)
	workerSubmitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "onethread",
			Subsystem: "worker",
			Name:      "submit_duration_seconds",
			Help:      "Time a submitter spends blocked in the worker handshake.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	workerSuspensions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "onethread",
			Subsystem: "worker",
			Name:      "suspensions_total",
			Help:      "Nested input waits entered by session workers.",
		},
	)
	workersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "onethread",
			Subsystem: "worker",
			Name:      "active",
			Help:      "Session worker goroutines currently running.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			workerEvents,
			workerSubmitDuration,
			workerSuspensions,
			workersActive,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordWorkerEvent(result string) {
	RegisterMetrics()
	workerEvents.WithLabelValues(result).Inc()
}

func ObserveSubmit(duration time.Duration) {
	RegisterMetrics()
	workerSubmitDuration.Observe(duration.Seconds())
}

func RecordSuspension() {
	RegisterMetrics()
	workerSuspensions.Inc()
}

func WorkerStarted() {
	RegisterMetrics()
	workersActive.Inc()
}

func WorkerStopped() {
	RegisterMetrics()
	workersActive.Dec()
}
