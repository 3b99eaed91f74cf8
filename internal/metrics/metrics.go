// Package metrics holds the gateway's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus series the gateway publishes.
type Metrics struct {
	SlotTrackerCurrentSlot prometheus.Gauge
	SlotTrackerEvents      *prometheus.CounterVec

	ScheduleRotations      prometheus.Counter
	ScheduleRotationErrors prometheus.Counter

	SocketRegistryRefreshes *prometheus.CounterVec
	SocketRegistrySize      prometheus.Gauge

	PoolDialsTotal      *prometheus.CounterVec
	PoolOpenConnections prometheus.Gauge

	FanoutAttempts   *prometheus.CounterVec
	FanoutDuration   prometheus.Histogram
	FanoutNoLeaders  prometheus.Counter
	FanoutOversized  prometheus.Counter
}

// New creates and registers all gateway metrics against reg. cmd/bifrost
// passes its own prometheus.NewRegistry(), which the admin server exposes;
// tests likewise pass a fresh registry so repeated calls don't collide.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SlotTrackerCurrentSlot: f.NewGauge(prometheus.GaugeOpts{
			Name: "bifrost_slot_tracker_current_slot",
			Help: "Most recently estimated current slot.",
		}),
		SlotTrackerEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bifrost_slot_tracker_events_total",
			Help: "Slot notifications recorded, by kind.",
		}, []string{"kind"}),

		ScheduleRotations: f.NewCounter(prometheus.CounterOpts{
			Name: "bifrost_schedule_rotations_total",
			Help: "Successful epoch rotations performed.",
		}),
		ScheduleRotationErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "bifrost_schedule_rotation_errors_total",
			Help: "Epoch rotation attempts whose next-epoch schedule fetch failed; nothing was committed and the current schedule kept serving.",
		}),

		SocketRegistryRefreshes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bifrost_socket_registry_refreshes_total",
			Help: "Cluster-nodes refresh attempts, by outcome.",
		}, []string{"outcome"}),
		SocketRegistrySize: f.NewGauge(prometheus.GaugeOpts{
			Name: "bifrost_socket_registry_size",
			Help: "Number of identities currently resolvable to a TPU-QUIC socket.",
		}),

		PoolDialsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bifrost_tpu_pool_dials_total",
			Help: "TPU-QUIC dial attempts, by outcome.",
		}, []string{"outcome"}),
		PoolOpenConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "bifrost_tpu_pool_open_connections",
			Help: "TPU-QUIC pool entries as of the last successful dial, including entries since marked closed.",
		}),

		FanoutAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bifrost_fanout_attempts_total",
			Help: "Per-leader fanout write attempts, by outcome.",
		}, []string{"outcome"}),
		FanoutDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "bifrost_fanout_duration_seconds",
			Help:    "Time to fan a transaction out to all resolved leaders.",
			Buckets: prometheus.DefBuckets,
		}),
		FanoutNoLeaders: f.NewCounter(prometheus.CounterOpts{
			Name: "bifrost_fanout_no_leaders_total",
			Help: "Fanout attempts that resolved zero leaders.",
		}),
		FanoutOversized: f.NewCounter(prometheus.CounterOpts{
			Name: "bifrost_fanout_oversized_total",
			Help: "Client payloads rejected for exceeding max_transaction_size.",
		}),
	}
}
