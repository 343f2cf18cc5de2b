// README: Prometheus collectors for HTTP, bidding, ride transitions, tracking, and routing lookups.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "haulbid_http_requests_total",
			Help: "HTTP requests by method, route and status",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "haulbid_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	RequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "haulbid_http_requests_in_flight",
			Help: "HTTP requests currently being served",
		},
	)

	BidsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "haulbid_bids_total",
			Help: "Bid operations by operation and result code",
		},
		[]string{"op", "result"},
	)

	BidsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "haulbid_bids_expired_total",
			Help: "Bids moved to EXPIRED by the periodic sweep",
		},
	)

	RideTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "haulbid_ride_transitions_total",
			Help: "Committed ride status transitions by target status",
		},
		[]string{"to"},
	)

	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "haulbid_ws_connections",
			Help: "Open tracking channel connections",
		},
	)

	WSSlowConsumers = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "haulbid_ws_slow_consumers_total",
			Help: "Connections closed because their send buffer was full on a domain event",
		},
	)

	LocationSamples = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "haulbid_location_samples_total",
			Help: "Driver location samples by result",
		},
		[]string{"result"},
	)

	RouteLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "haulbid_route_lookups_total",
			Help: "Routing collaborator lookups",
		},
		[]string{"cached", "status"},
	)

	RouteLookupDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "haulbid_route_lookup_duration_seconds",
			Help:    "Routing collaborator latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"cached"},
	)
)

// TrackRouteLookup records one routing lookup.
func TrackRouteLookup(status string, cached bool, d time.Duration) {
	c := strconv.FormatBool(cached)
	RouteLookups.WithLabelValues(c, status).Inc()
	RouteLookupDuration.WithLabelValues(c).Observe(d.Seconds())
}
