package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReplicationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "squidhub_replication_total",
		Help: "Replicated operations by domain, operation and joined result",
	}, []string{"domain", "op", "result"})

	PeerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "squidhub_peer_errors_total",
		Help: "Individual peer call failures during fan-out",
	}, []string{"domain", "op"})

	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "squidhub_jobs_total",
		Help: "Finished jobs by kind and terminal status",
	}, []string{"kind", "status"})

	JobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "squidhub_job_duration_seconds",
		Help:    "Wall time of a job execution pipeline",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	SyncItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "squidhub_sync_items_total",
		Help: "Reconciliation items processed by service and result",
	}, []string{"service", "result"})

	SyncStaleClaims = promauto.NewCounter(prometheus.CounterOpts{
		Name: "squidhub_sync_stale_claims_total",
		Help: "Process claims force-transitioned to error by the stale sweep",
	})
)

func RecordReplication(domain, op, result string) {
	ReplicationTotal.WithLabelValues(label(domain), label(op), label(result)).Inc()
}

func IncPeerError(domain, op string) {
	PeerErrors.WithLabelValues(label(domain), label(op)).Inc()
}

func RecordJob(kind, status string, duration time.Duration) {
	JobsTotal.WithLabelValues(label(kind), label(status)).Inc()
	if duration > 0 {
		JobDuration.Observe(duration.Seconds())
	}
}

func RecordSyncItem(service, result string) {
	SyncItemsTotal.WithLabelValues(label(service), label(result)).Inc()
}

func AddStaleClaims(count int) {
	if count <= 0 {
		return
	}
	SyncStaleClaims.Add(float64(count))
}

func label(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
