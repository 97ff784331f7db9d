package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the pixie daemon.
type Metrics struct {
	// Chunk store
	ChunksStoredTotal    prometheus.Counter
	ChunksGCedTotal      prometheus.Counter
	ChunkStoreBytesTotal prometheus.Gauge
	ChunkStoreReclaimable prometheus.Gauge
	ImagesTotal          prometheus.Gauge

	// Codec
	FECReconstructionsTotal      prometheus.Counter
	FECReconstructionFailedTotal prometheus.Counter
	FECPacketsDroppedTotal       *prometheus.CounterVec

	// Broadcast engine
	BroadcastBytesTotal   prometheus.Counter
	BroadcastQueueLength  prometheus.Gauge
	HintBeaconsTotal      prometheus.Counter

	// Units / fleet
	UnitsRegisteredTotal prometheus.Counter
	UnitsActive          prometheus.Gauge
	ActionsAssignedTotal *prometheus.CounterVec

	// Transport
	TCPConnectionsTotal *prometheus.CounterVec
	TCPRequestsTotal    *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		ChunksStoredTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pixie_chunks_stored_total",
			Help: "Total chunks added to the store",
		}),
		ChunksGCedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pixie_chunks_gced_total",
			Help: "Total chunks removed by garbage collection",
		}),
		ChunkStoreBytesTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pixie_chunk_store_bytes_total",
			Help: "Total compressed bytes held by the chunk store",
		}),
		ChunkStoreReclaimable: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pixie_chunk_store_reclaimable_bytes",
			Help: "Compressed bytes held by chunks with zero references",
		}),
		ImagesTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pixie_images_total",
			Help: "Number of image manifest entries (names and snapshots)",
		}),
		FECReconstructionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pixie_fec_reconstructions_total",
			Help: "Chunks reconstructed from fewer than the full packet set",
		}),
		FECReconstructionFailedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pixie_fec_reconstruction_failed_total",
			Help: "Chunk decode attempts that never reached a complete group set",
		}),
		FECPacketsDroppedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pixie_fec_packets_dropped_total",
			Help: "Packets rejected by the codec, by reason",
		}, []string{"reason"}),
		BroadcastBytesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pixie_broadcast_bytes_total",
			Help: "Total bytes emitted by the broadcast engine",
		}),
		BroadcastQueueLength: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pixie_broadcast_queue_length",
			Help: "Number of distinct chunk hashes pending broadcast",
		}),
		HintBeaconsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pixie_hint_beacons_total",
			Help: "Registration hint beacons sent",
		}),
		UnitsRegisteredTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pixie_units_registered_total",
			Help: "Total successful unit registrations",
		}),
		UnitsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pixie_units_active",
			Help: "Number of units currently tracked",
		}),
		ActionsAssignedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pixie_actions_assigned_total",
			Help: "Actions assigned to units, by action kind",
		}, []string{"action"}),
		TCPConnectionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pixie_tcp_connections_total",
			Help: "Control-channel TCP connections accepted, by result",
		}, []string{"result"}),
		TCPRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pixie_tcp_requests_total",
			Help: "Control-channel TCP requests handled, by request type",
		}, []string{"request"}),
	}
}

// Handler exposes the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
