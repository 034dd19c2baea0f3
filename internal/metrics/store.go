package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	storeOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "whisper",
		Subsystem: "store",
		Name:      "operations_total",
		Help:      "Count of index store operations.",
	}, []string{"operation", "status"})
	storeOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "whisper",
		Subsystem: "store",
		Name:      "operation_duration_seconds",
		Help:      "Duration of index store operations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation", "status"})
)

// Store observes index store operations, matching the shape callers of
// internal/store.Store expect from a Metrics collaborator.
type Store struct{}

// NewStore returns a Store metrics recorder.
func NewStore() Store {
	return Store{}
}

// Observe records one store operation's outcome and duration.
func (Store) Observe(operation string, err error, started time.Time) {
	status := "success"
	if err != nil {
		status = "error"
	}

	storeOperationsTotal.WithLabelValues(operation, status).Inc()
	storeOperationDuration.WithLabelValues(operation, status).Observe(time.Since(started).Seconds())
}
