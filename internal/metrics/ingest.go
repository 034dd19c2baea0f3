package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ingestBlocksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "whisper",
		Subsystem: "ingest",
		Name:      "blocks_total",
		Help:      "Count of blocks processed by the ingester.",
	}, []string{"status"})
	ingestBlockDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "whisper",
		Subsystem: "ingest",
		Name:      "block_duration_seconds",
		Help:      "Duration of processing one block end to end.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"status"})
	ingestReconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "whisper",
		Subsystem: "ingest",
		Name:      "reconnects_total",
		Help:      "Count of block-source reconnect attempts.",
	}, []string{})
)

// Ingest observes ingestion loop outcomes.
type Ingest struct{}

// NewIngest returns an Ingest metrics recorder.
func NewIngest() Ingest {
	return Ingest{}
}

// ObserveBlock records one block's processing outcome and duration.
func (Ingest) ObserveBlock(err error, started time.Time) {
	status := "success"
	if err != nil {
		status = "error"
	}
	ingestBlocksTotal.WithLabelValues(status).Inc()
	ingestBlockDuration.WithLabelValues(status).Observe(time.Since(started).Seconds())
}

// ObserveReconnect records one reconnect attempt.
func (Ingest) ObserveReconnect(int) {
	ingestReconnectsTotal.WithLabelValues().Inc()
}
