package metrics

import "github.com/prometheus/client_golang/prometheus"

// Acquire outcomes used as the "result" label of AcquireCounter.
const (
	ResultAcquired    = "acquired"
	ResultNotAcquired = "not_acquired"
	ResultError       = "error"
)

var (
	// AcquireCounter tracks Acquire calls by outcome.
	AcquireCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "redlock_acquire_total",
		Help: "Total number of Acquire calls by result",
	}, []string{"result"})
	// AttemptCounter tracks individual quorum attempts, retries included.
	AttemptCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "redlock_attempts_total",
		Help: "Total number of quorum attempts",
	})
	// ReleaseCounter tracks Release calls.
	ReleaseCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "redlock_release_total",
		Help: "Total number of Release calls",
	})
	// StoreErrorCounter tracks failed store operations by operation.
	StoreErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "redlock_store_errors_total",
		Help: "Total number of failed store operations",
	}, []string{"op"})
	// AcquireLatency observes how long Acquire takes, retries included.
	AcquireLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "redlock_acquire_duration_seconds",
		Help:    "Latency of Acquire calls",
		Buckets: prometheus.DefBuckets,
	})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterCoreMetrics registers the redlock metrics on the provided registry.
func RegisterCoreMetrics(reg prometheus.Registerer) {
	reg.MustRegister(AcquireCounter, AttemptCounter, ReleaseCounter, StoreErrorCounter, AcquireLatency)
}
