package discipline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// operationsTotal counts discipline operations by outcome
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "discipline_operations_total",
		Help: "Total discipline operations by operation and result",
	}, []string{"operation", "result"})

	// operationDuration tracks store round trips per operation
	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "discipline_operation_duration_seconds",
		Help:    "Discipline operation duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
	}, []string{"operation"})

	maxReachedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "discipline_quick_log_max_reached_total",
		Help: "Quick logs rejected because the daily allotment was used up",
	})
)
