package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AlertsPublished = promauto.NewCounter(prometheus.CounterOpts{Namespace: "parkswap", Name: "alerts_published_total", Help: "Total number of alerts published"})
	Transitions     = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "parkswap", Name: "alert_transitions_total", Help: "Alert state transitions applied"},
		[]string{"from", "to"},
	)
	Settlements = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "parkswap", Name: "settlements_total", Help: "Settlement records produced"},
		[]string{"outcome"},
	)
	RequestsResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "parkswap", Name: "reservation_requests_resolved_total", Help: "Reservation requests answered by the owner"},
		[]string{"status"},
	)
	GeofenceTriggers = promauto.NewCounter(prometheus.CounterOpts{Namespace: "parkswap", Name: "geofence_triggers_total", Help: "Geofence arrivals that fired settlement"})
	LeavingWarnings  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "parkswap", Name: "leaving_pickup_warnings_total", Help: "Advisory leaving-pickup warnings"})
	ExpiryPrompts    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "parkswap", Name: "expiry_prompts_total", Help: "Expiry prompts surfaced to owners"})
	StoreErrors      = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "parkswap", Name: "store_errors_total", Help: "Entity store failures swallowed by the engine"},
		[]string{"op"},
	)
	WatchdogTick = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "parkswap", Name: "watchdog_tick_seconds", Help: "Expiry watchdog tick duration"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "parkswap", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "parkswap",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
