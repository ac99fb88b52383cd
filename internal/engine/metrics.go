package engine

import "github.com/prometheus/client_golang/prometheus"

const metricsNamespace = "lockstep"

// Metric names exported by the engine.
const (
	MetricTicks          = "ticks_total"
	MetricTickDuration   = "tick_duration_seconds"
	MetricRebuilds       = "partition_rebuilds_total"
	MetricPendingOps     = "pending_operations"
	MetricWorkers        = "workers"
	MetricPartitionNodes = "partition_nodes"
)

type metrics struct {
	ticks        prometheus.Counter
	tickDuration prometheus.Histogram
	rebuilds     prometheus.Counter
	pending      prometheus.Gauge
	workers      prometheus.Gauge
	nodes        prometheus.Gauge
}

// newMetrics builds the engine's collectors and registers them with reg.
// A nil reg leaves them unregistered, which keeps several engines in one
// process (as in tests) from colliding on the default registry.
func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      MetricTicks,
			Help:      "Number of committed ticks.",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      MetricTickDuration,
			Help:      "Wall time of a tick from resize check to commit.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
		}),
		rebuilds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      MetricRebuilds,
			Help:      "Number of partition rebuilds performed by the collector.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      MetricPendingOps,
			Help:      "Structural mutations not yet folded into the partition.",
		}),
		workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      MetricWorkers,
			Help:      "Current size of the worker pool.",
		}),
		nodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      MetricPartitionNodes,
			Help:      "Nodes referenced by the current partition.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.ticks, m.tickDuration, m.rebuilds, m.pending, m.workers, m.nodes)
	}
	return m
}
