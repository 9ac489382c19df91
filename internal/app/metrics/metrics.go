package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "reservation_engine",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reservation_engine",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "reservation_engine",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	reservationsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reservation_engine",
			Subsystem: "reservations",
			Name:      "created_total",
			Help:      "Total number of reservations created.",
		},
		[]string{"priority"},
	)

	confirmations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reservation_engine",
			Subsystem: "reservations",
			Name:      "confirmations_total",
			Help:      "Total number of confirmation attempts.",
		},
		[]string{"result"},
	)

	conflictRations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "reservation_engine",
			Subsystem: "reservations",
			Name:      "conflict_rations_total",
			Help:      "Total number of reservations shorted by priority rationing.",
		},
	)

	sweepProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reservation_engine",
			Subsystem: "sweeper",
			Name:      "processed_total",
			Help:      "Total number of reservations processed by periodic tasks.",
		},
		[]string{"task"},
	)

	allocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reservation_engine",
			Subsystem: "allocations",
			Name:      "completed_total",
			Help:      "Total number of allocation runs.",
		},
		[]string{"strategy", "result"},
	)

	allocationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "reservation_engine",
			Subsystem: "allocations",
			Name:      "duration_seconds",
			Help:      "Duration of allocation runs.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"strategy"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		reservationsCreated,
		confirmations,
		conflictRations,
		sweepProcessed,
		allocations,
		allocationDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordReservationCreated counts a newly created reservation.
func RecordReservationCreated(priority string) {
	reservationsCreated.WithLabelValues(priority).Inc()
}

// RecordConfirmation counts a confirmation attempt by outcome.
func RecordConfirmation(success bool) {
	result := "failed"
	if success {
		result = "confirmed"
	}
	confirmations.WithLabelValues(result).Inc()
}

// RecordConflictRations counts reservations shorted during rationing.
func RecordConflictRations(count int) {
	if count <= 0 {
		return
	}
	conflictRations.Add(float64(count))
}

// RecordSweep counts rows processed by a periodic task run.
func RecordSweep(task string, processed int) {
	if processed <= 0 {
		return
	}
	sweepProcessed.WithLabelValues(task).Add(float64(processed))
}

// RecordAllocation records one allocation run for a reservation.
func RecordAllocation(strategy string, duration time.Duration, full bool) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	result := "partial"
	if full {
		result = "full"
	}
	allocations.WithLabelValues(strategy, result).Inc()
	allocationDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses resource ids so metric label cardinality stays
// bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] != "v1" {
		return "/" + parts[0]
	}
	if len(parts) == 1 {
		return "/v1"
	}

	resource := parts[1]
	switch resource {
	case "orders":
		if len(parts) >= 4 {
			return "/v1/orders/:order/" + parts[3]
		}
		if len(parts) == 3 {
			return "/v1/orders/:order"
		}
	case "reservations", "allocations":
		if len(parts) >= 4 {
			return "/v1/" + resource + "/:id/" + parts[3]
		}
		if len(parts) == 3 {
			return "/v1/" + resource + "/:id"
		}
	}
	return "/v1/" + resource
}
