package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "replica_tester"
)

var (
	// DataRequestsTotal counts data channel frames by opcode and status
	DataRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "data_requests_total",
			Help:      "Total number of data channel requests processed",
		},
		[]string{"opcode", "status"},
	)

	// ManagementRequestsTotal counts management channel frames by opcode and status
	ManagementRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "management_requests_total",
			Help:      "Total number of management channel requests processed",
		},
		[]string{"opcode", "status"},
	)

	// IOBytesTotal counts bytes moved to and from the volume
	IOBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "io_bytes_total",
			Help:      "Total number of bytes read from or written to the volume",
		},
		[]string{"op"}, // read/write
	)

	// InjectedFailuresTotal counts failures returned on purpose
	InjectedFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "injected_failures_total",
			Help:      "Total number of deliberately failed requests",
		},
		[]string{"opcode"},
	)

	// ReadSegments observes how many segments a READ response was split into
	ReadSegments = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "read_segments",
			Help:      "Number of io number segments per READ response",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
		},
	)

	// ManagementReconnectsTotal counts reconnects to the controller
	ManagementReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "management_reconnects_total",
			Help:      "Total number of management connection re-establishments",
		},
	)

	// DataConnectionsTotal counts accepted data connections
	DataConnectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "data_connections_total",
			Help:      "Total number of accepted data connections",
		},
	)

	// HealthState tracks the replica health, 0 healthy and 1 degraded
	HealthState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "health_state",
			Help:      "Replica health state (0 healthy, 1 degraded)",
		},
	)

	// RebuildStatus tracks the rebuild progress, 0 init, 1 snapshot in progress, 2 done
	RebuildStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rebuild_status",
			Help:      "Replica rebuild status (0 init, 1 in progress, 2 done)",
		},
	)

	// Quorum tracks the quorum flag
	Quorum = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "quorum",
			Help:      "Whether the replica is part of the quorum",
		},
	)
)

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// RecordHealth publishes a health snapshot.
func RecordHealth(state, rebuildStatus uint16, quorum bool) {
	HealthState.Set(float64(state))
	RebuildStatus.Set(float64(rebuildStatus))
	Quorum.Set(boolToFloat(quorum))
}
