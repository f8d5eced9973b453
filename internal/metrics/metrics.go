package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "shieldon_store"

var (
	// Operations counts record-store calls by operation, table and outcome.
	Operations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operations_total",
		Help:      "Record store operations by op, table and result.",
	}, []string{"op", "table", "result"})

	// OperationDuration records record-store latency.
	OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "operation_duration_seconds",
		Help:      "Record store operation latency in seconds.",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.25, 1.0},
	}, []string{"op"})

	// Records is the number of stored records per table, refreshed by the janitor.
	Records = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "records",
		Help:      "Stored records per table.",
	}, []string{"table"})

	// SizeBytes tracks the on-disk footprint of all tables.
	SizeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "size_bytes",
		Help:      "On-disk size of stored records in bytes.",
	})

	// Rebuilds counts full wipes by outcome.
	Rebuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rebuilds_total",
		Help:      "Store rebuilds by result.",
	}, []string{"result"})

	// Evictions counts records removed by the janitor for exceeding their TTL.
	Evictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "evictions_total",
		Help:      "Records evicted for exceeding their table TTL.",
	}, []string{"table"})

	// JobsEnqueued counts eviction jobs placed into the worker channel.
	JobsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_enqueued_total",
		Help:      "Eviction jobs placed into worker channel.",
	})

	// JobsDropped counts eviction jobs discarded before processing.
	JobsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_dropped_total",
		Help:      "Eviction jobs discarded before processing.",
	}, []string{"reason"})

	// JobsProcessed counts worker completions.
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_processed_total",
		Help:      "Eviction worker job completions.",
	}, []string{"status"})

	// WorkerQueueDepth tracks current job channel length.
	WorkerQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "worker_queue_depth",
		Help:      "Current eviction job channel buffer depth.",
	})
)
