package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cache metrics (backs the cache portion of kvs.stats-get)
	CacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kvsd_cache_entries",
			Help: "Current number of entries in the content cache",
		},
	)

	// Hits/misses/expired are cumulative counts tracked inside the cache
	// itself and sampled here as gauges (not prometheus Counters, which
	// can't be set to an absolute value without double-counting).
	CacheHits = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kvsd_cache_hits",
			Help: "Cumulative number of cache lookups that found an existing entry",
		},
	)

	CacheMisses = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kvsd_cache_misses",
			Help: "Cumulative number of cache lookups that found no entry",
		},
	)

	CacheExpired = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kvsd_cache_expired",
			Help: "Cumulative number of cache entries reclaimed by Expire",
		},
	)

	// Namespace metrics (backs the per-namespace portion of kvs.stats-get)
	NamespaceRootSeq = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kvsd_namespace_rootseq",
			Help: "Current store revision (rootseq) by namespace",
		},
		[]string{"namespace"},
	)

	NamespaceReadyTransactions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kvsd_namespace_ready_transactions",
			Help: "Number of transactions queued or in flight by namespace",
		},
		[]string{"namespace"},
	)

	NamespaceVersionWaiters = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kvsd_namespace_version_waiters",
			Help: "Number of outstanding kvs.wait-version callers by namespace",
		},
		[]string{"namespace"},
	)

	NamespacesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kvsd_namespaces_total",
			Help: "Total number of namespaces known to this rank",
		},
	)

	// Transaction engine metrics
	CommitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kvsd_commits_total",
			Help: "Total number of kvs.commit/kvs.fence calls by outcome",
		},
		[]string{"namespace", "outcome"},
	)

	CommitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kvsd_commit_duration_seconds",
			Help:    "Wall-clock time for a commit to reach a terminal status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"namespace"},
	)

	TransactionFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kvsd_transaction_fallbacks_total",
			Help: "Total number of merged transactions unmerged after a non-ENOMEM, non-ENOTSUP error",
		},
		[]string{"namespace"},
	)

	LookupDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kvsd_lookup_duration_seconds",
			Help:    "Wall-clock time for a kvs.lookup/kvs.lookup-plus to resolve",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"namespace"},
	)

	// Checkpoint / content-store metrics
	CheckpointDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kvsd_checkpoint_duration_seconds",
			Help:    "Time taken to persist a namespace's checkpoint record",
			Buckets: prometheus.DefBuckets,
		},
	)

	CheckpointsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kvsd_checkpoints_total",
			Help: "Total number of checkpoint writes",
		},
	)

	ContentStoreBlobBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kvsd_contentstore_blob_bytes",
			Help:    "Size in bytes of blobs written to the content store",
			Buckets: prometheus.ExponentialBuckets(64, 4, 10),
		},
	)
)

func init() {
	prometheus.MustRegister(CacheSize)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(CacheExpired)

	prometheus.MustRegister(NamespaceRootSeq)
	prometheus.MustRegister(NamespaceReadyTransactions)
	prometheus.MustRegister(NamespaceVersionWaiters)
	prometheus.MustRegister(NamespacesTotal)

	prometheus.MustRegister(CommitsTotal)
	prometheus.MustRegister(CommitDuration)
	prometheus.MustRegister(TransactionFallbacksTotal)
	prometheus.MustRegister(LookupDuration)

	prometheus.MustRegister(CheckpointDuration)
	prometheus.MustRegister(CheckpointsTotal)
	prometheus.MustRegister(ContentStoreBlobBytes)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
