package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	billingRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "selfcare",
			Subsystem: "billing",
			Name:      "requests_total",
			Help:      "Outbound billing API requests by method and outcome.",
		},
		[]string{"method", "status"},
	)

	billingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "selfcare",
			Subsystem: "billing",
			Name:      "request_duration_seconds",
			Help:      "Duration of outbound billing API requests.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 11), // 10ms to ~10s
		},
		[]string{"method"},
	)

	tokenEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "selfcare",
			Subsystem: "session",
			Name:      "token_evictions_total",
			Help:      "Stored tokens deleted after an authorization failure.",
		},
	)

	loads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "selfcare",
			Subsystem: "viewmodel",
			Name:      "loads_total",
			Help:      "Contract and account loads by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
)

func init() {
	Registry.MustRegister(billingRequests, billingDuration, tokenEvictions, loads)
}

// Handler serves the application registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordBillingRequest records one outbound call. status is 0 when no
// response was received.
func RecordBillingRequest(method string, status int, took time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	billingRequests.WithLabelValues(method, label).Inc()
	billingDuration.WithLabelValues(method).Observe(took.Seconds())
}

func RecordTokenEviction() {
	tokenEvictions.Inc()
}

// RecordLoad counts a view-model load. kind is "initial" or "refresh";
// outcome is "ok", "error" or "stale".
func RecordLoad(kind, outcome string) {
	loads.WithLabelValues(kind, outcome).Inc()
}
