package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	syncPasses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "roomsync",
			Name:      "reconcile_passes_total",
			Help:      "Reconciliation passes by outcome.",
		},
		[]string{"result"},
	)

	roomFetchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "roomsync",
			Name:      "room_fetch_failures_total",
			Help:      "Room-calendar fetch failures by room.",
		},
		[]string{"room"},
	)

	droppedEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "roomsync",
			Name:      "dropped_events_total",
			Help:      "Remote events the mapper could not place on the grid.",
		},
		[]string{"reason"},
	)

	bookingOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "roomsync",
			Name:      "booking_operations_total",
			Help:      "Booking mutations by operation and result.",
		},
		[]string{"op", "result"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "roomsync",
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(syncPasses, roomFetchFailures, droppedEvents, bookingOps, httpRequests)
	})
}

// IncSyncPass counts one finished reconciliation pass: published, superseded or failed.
func IncSyncPass(result string) {
	syncPasses.WithLabelValues(result).Inc()
}

// IncRoomFetchFailure counts one degraded room-calendar fetch.
func IncRoomFetchFailure(room string) {
	roomFetchFailures.WithLabelValues(room).Inc()
}

// IncDroppedEvent counts one event the mapper rejected.
func IncDroppedEvent(reason string) {
	droppedEvents.WithLabelValues(reason).Inc()
}

// IncBookingOp counts one create/cancel attempt by result.
func IncBookingOp(op, result string) {
	bookingOps.WithLabelValues(op, result).Inc()
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}
