package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AttemptsTotal counts issued attempts per transport and attempt outcome
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrapeback_attempts_total",
			Help: "Total number of request attempts",
		},
		[]string{"transport", "outcome"},
	)

	// ResponsesByStatus counts responses per status class
	ResponsesByStatus = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrapeback_responses_total",
			Help: "Total number of responses by status class",
		},
		[]string{"transport", "class"},
	)

	// LoopOutcomes counts finished backoff loops by final state
	LoopOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrapeback_loop_outcomes_total",
			Help: "Total number of finished backoff loops by final state",
		},
		[]string{"transport", "state"},
	)

	// BackoffSleepSeconds tracks time spent sleeping between attempts
	BackoffSleepSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scrapeback_backoff_sleep_seconds",
			Help:    "Sleep duration between attempts in seconds",
			Buckets: []float64{0, 1, 5, 10, 30, 60, 300, 1200, 3600},
		},
		[]string{"track"},
	)

	// AttemptLatency tracks transport call latency
	AttemptLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scrapeback_attempt_latency_seconds",
			Help:    "Transport call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"transport"},
	)

	// BadURLs tracks the ledger size as seen by the rescan worker
	BadURLs = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scrapeback_bad_urls",
			Help: "Number of URLs currently in the bad URL ledger",
		},
		[]string{"backend"},
	)

	// InFlightUnits tracks fan-out units currently running
	InFlightUnits = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scrapeback_inflight_units",
			Help: "Number of fan-out units currently running",
		},
	)
)

// StatusClass maps a status code to a label like "2xx".
func StatusClass(code int) string {
	switch {
	case code < 100:
		return "other"
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	case code < 600:
		return "5xx"
	default:
		return "other"
	}
}

// DBConnectionPoolUsage tracks the percentage of open database connections
var DBConnectionPoolUsage = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "scrapeback_db_connection_pool_usage_percent",
		Help: "Database connection pool usage percentage",
	},
)
