package worker

import "github.com/prometheus/client_golang/prometheus"

var DispatchedCount = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "ripple",
	Subsystem: "worker",
	Name:      "dispatched_total",
	Help:      "Queue items applied by the indexer.",
})

var FailedBatches = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "ripple",
	Subsystem: "worker",
	Name:      "failed_batches_total",
	Help:      "Batches the indexer rejected and that were requeued.",
})

var BatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
	Namespace: "ripple",
	Subsystem: "worker",
	Name:      "batch_duration_seconds",
	Buckets:   prometheus.DefBuckets,
})

// Collectors returns the worker metrics for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{DispatchedCount, FailedBatches, BatchDuration}
}
