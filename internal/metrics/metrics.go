package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors for the coordination subsystem.
type Metrics struct {
	RoomsCreated     prometheus.Counter
	ActiveRooms      prometheus.Gauge
	ActiveConns      prometheus.Gauge
	EventsBroadcast  *prometheus.CounterVec
	VersionConflicts prometheus.Counter
	StoreFailures    prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RoomsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "triviarena_rooms_created_total",
			Help: "Rooms created by this process.",
		}),
		ActiveRooms: factory.NewGauge(prometheus.GaugeOpts{
			Name: "triviarena_active_rooms",
			Help: "Rooms currently tracked by the local cache.",
		}),
		ActiveConns: factory.NewGauge(prometheus.GaugeOpts{
			Name: "triviarena_active_connections",
			Help: "Open WebSocket connections.",
		}),
		EventsBroadcast: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "triviarena_events_broadcast_total",
			Help: "Server events broadcast to room groups, by event type.",
		}, []string{"type"}),
		VersionConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "triviarena_version_conflicts_total",
			Help: "Room updates retried due to a version conflict.",
		}),
		StoreFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "triviarena_store_failures_total",
			Help: "Failed operations against the shared room store.",
		}),
	}
}

// NewNop returns metrics bound to a throwaway registry, for tests.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
