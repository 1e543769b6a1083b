// Package metrics exposes PeaceDatabase's runtime counters through
// github.com/prometheus/client_golang, replacing a hand-rolled exporter with
// the real collector types and a standard /metrics HTTP handler. The
// recording methods are nil-receiver safe so subsystems built without a
// metrics bundle (tests, peacectl) skip recording instead of guarding at
// every call site.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kartikbazzad/peacedb/internal/errors"
)

// Metrics bundles the collectors for one peacedbd process. Each node owns
// its own registry so tests can spin up multiple nodes without colliding on
// prometheus.DefaultRegisterer.
type Metrics struct {
	registry *prometheus.Registry

	OperationsTotal    *prometheus.CounterVec
	OperationDuration  *prometheus.HistogramVec
	DocumentsTotal     *prometheus.GaugeVec
	WALSizeBytes       *prometheus.GaugeVec
	ErrorsTotal        *prometheus.CounterVec
	QuorumWriteLatency prometheus.Histogram
	FailoversTotal     *prometheus.CounterVec
	ReplicaState       *prometheus.GaugeVec
}

// New creates a Metrics bundle registered against a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		OperationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "peacedb_operations_total",
			Help: "Total number of document operations by type and status.",
		}, []string{"operation", "status"}),
		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "peacedb_operation_duration_seconds",
			Help:    "Document operation latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		DocumentsTotal: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "peacedb_documents_total",
			Help: "Live (non-deleted) document count per database.",
		}, []string{"db"}),
		WALSizeBytes: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "peacedb_wal_size_bytes",
			Help: "Current write-ahead log size per database, in bytes.",
		}, []string{"db"}),
		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "peacedb_errors_total",
			Help: "Total errors observed, by retry category.",
		}, []string{"category"}),
		QuorumWriteLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "peacedb_quorum_write_latency_seconds",
			Help:    "Time to reach write quorum across a replica set.",
			Buckets: prometheus.DefBuckets,
		}),
		FailoversTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "peacedb_failovers_total",
			Help: "Total completed primary failovers, by shard.",
		}, []string{"shard"}),
		ReplicaState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "peacedb_replica_state",
			Help: "1 if a replica is currently in the given sync state, else 0.",
		}, []string{"shard", "replica", "state"}),
	}
	return m
}

// Handler returns the HTTP handler to mount at the metrics listen address.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordOperation counts one completed operation and observes its latency.
func (m *Metrics) RecordOperation(operation, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(operation, status).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// ObserveQuorumWrite records how long a write took to reach quorum.
func (m *Metrics) ObserveQuorumWrite(d time.Duration) {
	if m == nil {
		return
	}
	m.QuorumWriteLatency.Observe(d.Seconds())
}

// RecordError increments the error counter for a classified error.
func (m *Metrics) RecordError(category errors.ErrorCategory) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(categoryString(category)).Inc()
}

// SetDocuments updates the live-document gauge for one database.
func (m *Metrics) SetDocuments(db string, alive float64) {
	if m == nil {
		return
	}
	m.DocumentsTotal.WithLabelValues(db).Set(alive)
}

// SetWALSize updates the WAL-size gauge for one database.
func (m *Metrics) SetWALSize(db string, bytes float64) {
	if m == nil {
		return
	}
	m.WALSizeBytes.WithLabelValues(db).Set(bytes)
}

// RecordFailover counts one completed failover for a shard.
func (m *Metrics) RecordFailover(shardID int) {
	if m == nil {
		return
	}
	m.FailoversTotal.WithLabelValues(strconv.Itoa(shardID)).Inc()
}

// replicaStates lists every sync-state label SetReplicaState maintains, so
// a replica leaving a state zeroes that state's gauge rather than leaving
// two states reading 1.
var replicaStates = []string{"unknown", "insync", "lagging", "syncing", "offline"}

// SetReplicaState marks a replica as being in exactly one sync state.
func (m *Metrics) SetReplicaState(shardID int, replica, state string) {
	if m == nil {
		return
	}
	shard := strconv.Itoa(shardID)
	for _, s := range replicaStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.ReplicaState.WithLabelValues(shard, replica, s).Set(v)
	}
}

func categoryString(category errors.ErrorCategory) string {
	switch category {
	case errors.ErrorTransient:
		return "transient"
	case errors.ErrorPermanent:
		return "permanent"
	case errors.ErrorCritical:
		return "critical"
	case errors.ErrorValidation:
		return "validation"
	case errors.ErrorNetwork:
		return "network"
	default:
		return "unknown"
	}
}
