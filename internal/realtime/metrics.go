package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	publishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_day_updates_published_total",
		Help: "Authoritative day updates published, by broker.",
	}, []string{"broker"})

	droppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_day_updates_dropped_total",
		Help: "Queued day updates discarded because a subscriber fell behind.",
	})

	activeSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_active_subscriptions",
		Help: "Open day subscriptions.",
	})
)
