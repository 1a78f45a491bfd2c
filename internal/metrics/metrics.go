// Package metrics provides Prometheus metrics for TinyDb
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for TinyDb
type Metrics struct {
	// Collection operation metrics
	DbOperationsTotal   *prometheus.CounterVec
	DbOperationDuration *prometheus.HistogramVec
	DbSizeBytes         prometheus.Gauge
	DbPagesTotal        prometheus.Gauge
	DbDocumentsTotal    prometheus.Gauge

	// Page cache metrics
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter
	CacheHitRatio    prometheus.Gauge
	CachedPagesTotal prometheus.Gauge

	// Write-ahead log metrics
	WalAppendsTotal     prometheus.Counter
	WalAppendDuration   prometheus.Histogram
	WalCheckpointsTotal prometheus.Counter
	WalCheckpointDuration prometheus.Histogram

	// B+tree metrics
	BtreeSplitsTotal prometheus.Counter
	BtreeMergesTotal prometheus.Counter

	// Transaction metrics
	TxnCommitsTotal   prometheus.Counter
	TxnRollbacksTotal prometheus.Counter
	TxnActive         prometheus.Gauge

	// Server metrics
	ServerUptimeSeconds prometheus.Gauge
	ServerStartTime     time.Time
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	m := &Metrics{
		ServerStartTime: time.Now(),
	}

	// Collection operation metrics
	m.DbOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tinydb_operations_total",
			Help: "Total number of collection operations",
		},
		[]string{"operation", "status"},
	)

	m.DbOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tinydb_operation_duration_seconds",
			Help:    "Duration of collection operations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)

	m.DbSizeBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tinydb_size_bytes",
			Help: "Current database file size in bytes",
		},
	)

	m.DbPagesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tinydb_pages_total",
			Help: "Total number of pages allocated in the database file",
		},
	)

	m.DbDocumentsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tinydb_documents_total",
			Help: "Total number of documents across all collections",
		},
	)

	// Page cache metrics
	m.CacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tinydb_cache_hits_total",
			Help: "Total number of page cache hits",
		},
	)

	m.CacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tinydb_cache_misses_total",
			Help: "Total number of page cache misses",
		},
	)

	m.CacheHitRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tinydb_cache_hit_ratio",
			Help: "Page cache hit ratio over the process lifetime",
		},
	)

	m.CachedPagesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tinydb_cached_pages_total",
			Help: "Number of pages currently buffered in the page cache",
		},
	)

	// Write-ahead log metrics
	m.WalAppendsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tinydb_wal_appends_total",
			Help: "Total number of records appended to the write-ahead log",
		},
	)

	m.WalAppendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tinydb_wal_append_duration_seconds",
			Help:    "Duration of write-ahead log append calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	m.WalCheckpointsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tinydb_wal_checkpoints_total",
			Help: "Total number of write-ahead log checkpoints completed",
		},
	)

	m.WalCheckpointDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tinydb_wal_checkpoint_duration_seconds",
			Help:    "Duration of write-ahead log checkpoints in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// B+tree metrics
	m.BtreeSplitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tinydb_btree_splits_total",
			Help: "Total number of B+tree node splits across all indexes",
		},
	)

	m.BtreeMergesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tinydb_btree_merges_total",
			Help: "Total number of B+tree node merges across all indexes",
		},
	)

	// Transaction metrics
	m.TxnCommitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tinydb_txn_commits_total",
			Help: "Total number of transactions committed",
		},
	)

	m.TxnRollbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tinydb_txn_rollbacks_total",
			Help: "Total number of transactions rolled back",
		},
	)

	m.TxnActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tinydb_txn_active",
			Help: "Number of transactions currently open",
		},
	)

	// Server metrics
	m.ServerUptimeSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tinydb_server_uptime_seconds",
			Help: "Admin server uptime in seconds",
		},
	)

	// Start uptime updater
	go m.updateUptime()

	return m
}

// updateUptime periodically updates the server uptime metric
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.ServerUptimeSeconds.Set(time.Since(m.ServerStartTime).Seconds())
	}
}

// RecordDbOperation records a collection operation
func (m *Metrics) RecordDbOperation(operation string, status string, duration time.Duration) {
	m.DbOperationsTotal.WithLabelValues(operation, status).Inc()
	m.DbOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordCacheAccess records a single page cache lookup.
func (m *Metrics) RecordCacheAccess(hit bool) {
	if hit {
		m.CacheHitsTotal.Inc()
	} else {
		m.CacheMissesTotal.Inc()
	}
}

// RecordWalAppend records one write-ahead log append.
func (m *Metrics) RecordWalAppend(duration time.Duration) {
	m.WalAppendsTotal.Inc()
	m.WalAppendDuration.Observe(duration.Seconds())
}

// RecordWalCheckpoint records one completed checkpoint.
func (m *Metrics) RecordWalCheckpoint(duration time.Duration) {
	m.WalCheckpointsTotal.Inc()
	m.WalCheckpointDuration.Observe(duration.Seconds())
}

// RecordTxnCommit records a transaction commit.
func (m *Metrics) RecordTxnCommit() {
	m.TxnCommitsTotal.Inc()
}

// RecordTxnRollback records a transaction rollback.
func (m *Metrics) RecordTxnRollback() {
	m.TxnRollbacksTotal.Inc()
}

// UpdateDbStats updates database-wide gauges from an engine statistics
// snapshot.
func (m *Metrics) UpdateDbStats(sizeBytes int64, pageCount int64, docCount int64) {
	m.DbSizeBytes.Set(float64(sizeBytes))
	m.DbPagesTotal.Set(float64(pageCount))
	m.DbDocumentsTotal.Set(float64(docCount))
}

// UpdateCacheStats updates page cache gauges from a cache statistics
// snapshot.
func (m *Metrics) UpdateCacheStats(hitRatio float64, cachedPages int) {
	m.CacheHitRatio.Set(hitRatio)
	m.CachedPagesTotal.Set(float64(cachedPages))
}

// UpdateTxnStats updates the active-transaction gauge.
func (m *Metrics) UpdateTxnStats(active int) {
	m.TxnActive.Set(float64(active))
}
