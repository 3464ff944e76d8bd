package tracking

import "github.com/prometheus/client_golang/prometheus"

var ClassifiedCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ripple",
	Subsystem: "tracking",
	Name:      "changes_total",
}, []string{"kind", "outcome"})

var ResolvedRoots = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ripple",
	Subsystem: "tracking",
	Name:      "resolved_roots_total",
}, []string{"operation"})

var LookupErrors = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "ripple",
	Subsystem: "tracking",
	Name:      "lookup_errors_total",
})

var CommitDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
	Namespace: "ripple",
	Subsystem: "tracking",
	Name:      "commit_duration_seconds",
	Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
})

// Collectors returns the tracking metrics for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{ClassifiedCount, ResolvedRoots, LookupErrors, CommitDuration}
}

const (
	outcomeInteresting = "interesting"
	outcomeIgnored     = "ignored"
	outcomeUnknownType = "unknown_type"
	outcomeMalformed   = "malformed"
)
