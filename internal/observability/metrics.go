package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MatchesTotal     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "matches_total", Help: "Total number of accepted matches"})
	MatchLatency     = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "ride_dispatch", Name: "match_latency_seconds", Help: "Time from search start to driver acceptance"})
	MatchExhausted   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "matching_exhausted_total", Help: "Rides cancelled after exhausting all candidates"})
	OffersSent       = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "offers_sent_total", Help: "Driver offers sent"})
	OffersDeclined   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "offers_declined_total", Help: "Driver offers declined"})
	OffersExpired    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "offers_expired_total", Help: "Driver offers that timed out"})
	DriversOnline    = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_dispatch", Name: "drivers_online", Help: "Number of online drivers"})
	LocationUpdates  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "location_updates_total", Help: "Driver location updates applied to the pool"})
	SurgeUpdates     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "surge_updates_total", Help: "Surge multiplier recomputations"})
	RidesCompleted   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "rides_completed_total", Help: "Rides reaching COMPLETED"})
	RidesCancelled   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "rides_cancelled_total", Help: "Rides reaching CANCELLED"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
