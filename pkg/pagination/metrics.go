package pagination

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the fetch pipeline.
var (
	triggersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagefetch_triggers_total",
		Help: "Total triggers accepted by action",
	}, []string{"action"})

	triggersDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagefetch_triggers_dropped_total",
		Help: "Triggers dropped because a fetch was already in flight",
	}, []string{"action"})

	fetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagefetch_fetches_total",
		Help: "Completed fetch cycles by action and outcome",
	}, []string{"action", "outcome"})

	fetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pagefetch_fetch_duration_seconds",
		Help:    "Transport call duration by action",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"action"})
)
