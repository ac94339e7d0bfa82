package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RealtimeMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_sync", Name: "realtime_messages_total", Help: "Inbound realtime messages dispatched"},
		[]string{"event"},
	)

	RealtimeReconnectsTotal  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_sync", Name: "realtime_reconnects_total", Help: "Realtime channel reconnect attempts"})
	RealtimeDroppedPublishes = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_sync", Name: "realtime_dropped_publishes_total", Help: "Publishes dropped because the channel was not connected"})

	StaleResponsesDiscarded       = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_sync", Name: "stale_responses_discarded_total", Help: "Superseded provider or REST responses discarded on arrival"})
	LifecycleInconsistenciesTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_sync", Name: "lifecycle_inconsistencies_total", Help: "Status transitions rejected by the ride state store"})

	SearchRequestsTotal  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_sync", Name: "search_requests_total", Help: "Place searches actually sent to the provider"})
	SearchDebouncedTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_sync", Name: "search_debounced_total", Help: "Place searches absorbed by the debounce window"})

	GeoReadingsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_sync", Name: "geo_readings_total", Help: "Position readings accepted by the watcher"})

	GeoErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_sync", Name: "geo_errors_total", Help: "Position errors by classified reason"},
		[]string{"reason"},
	)

	// Simulator HTTP surface.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_sync", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_sync",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
