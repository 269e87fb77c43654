package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics holds the instruments exported by the results cache.
type metrics struct {
	sizeBytes    prometheus.Gauge
	maxSizeBytes prometheus.Gauge
	itemsCount   prometheus.Gauge
	requests     prometheus.Counter
	hits         prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		sizeBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "results_cache_size_bytes",
			Help: "Size of the cache in bytes.",
		}),
		maxSizeBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "results_cache_max_size_bytes",
			Help: "Maximum allowed size of the cache in bytes.",
		}),
		itemsCount: factory.NewGauge(prometheus.GaugeOpts{
			Name: "results_cache_items_count",
			Help: "Number of items currently in the cache.",
		}),
		requests: factory.NewCounter(prometheus.CounterOpts{
			Name: "results_cache_requests",
			Help: "Number of requests to get a key from the cache.",
		}),
		hits: factory.NewCounter(prometheus.CounterOpts{
			Name: "results_cache_hits",
			Help: "Cache hit count.",
		}),
	}
}
