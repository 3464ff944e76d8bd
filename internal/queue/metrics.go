package queue

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hyperengineering/ripple/internal/types"
)

var AcceptedCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ripple",
	Subsystem: "queue",
	Name:      "accepted_total",
}, []string{"queue", "operation"})

var MergedCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ripple",
	Subsystem: "queue",
	Name:      "merged_total",
}, []string{"queue"})

var SaturatedCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ripple",
	Subsystem: "queue",
	Name:      "saturated_total",
}, []string{"queue"})

var DrainedCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ripple",
	Subsystem: "queue",
	Name:      "drained_total",
}, []string{"queue"})

var RequeuedCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ripple",
	Subsystem: "queue",
	Name:      "requeued_total",
}, []string{"queue"})

// Collectors returns the queue metrics for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{AcceptedCount, MergedCount, SaturatedCount, DrainedCount, RequeuedCount}
}

// ObserveAccept records the outcome of one Accept call.
func ObserveAccept(queue string, op types.IndexingOperation, merged bool) {
	AcceptedCount.WithLabelValues(queue, string(op)).Inc()
	if merged {
		MergedCount.WithLabelValues(queue).Inc()
	}
}

// ObserveSaturated records a rejected Accept.
func ObserveSaturated(queue string) {
	SaturatedCount.WithLabelValues(queue).Inc()
}

// ObserveDrain records items handed to a consumer.
func ObserveDrain(queue string, n int) {
	if n > 0 {
		DrainedCount.WithLabelValues(queue).Add(float64(n))
	}
}

// ObserveRequeue records items put back after a failed hand-off.
func ObserveRequeue(queue string, n int) {
	if n > 0 {
		RequeuedCount.WithLabelValues(queue).Add(float64(n))
	}
}
