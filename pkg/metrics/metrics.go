package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Ledger metrics
	EntitiesOwned = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "atlasnet_entities_owned",
			Help: "Number of entities currently in this shard's ledger",
		},
	)

	EntitiesOutOfBounds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "atlasnet_entities_out_of_bounds_total",
			Help: "Total entities detected outside the local bound",
		},
	)

	// Transfer metrics
	TransfersByStage = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "atlasnet_transfers_in_flight",
			Help: "Outgoing transfers currently in flight by stage",
		},
		[]string{"stage"},
	)

	TransfersCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "atlasnet_transfers_completed_total",
			Help: "Total outgoing transfers that reached Complete",
		},
	)

	TransfersAborted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atlasnet_transfers_aborted_total",
			Help: "Total outgoing transfers aborted by reason",
		},
		[]string{"reason"},
	)

	EntitiesAdopted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "atlasnet_entities_adopted_total",
			Help: "Total entities adopted from incoming handoffs",
		},
	)

	// Bound metrics
	BoundHeld = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "atlasnet_bound_held",
			Help: "Whether this shard currently holds a bound (1 or 0)",
		},
	)

	BoundClaimAttempts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "atlasnet_bound_claim_attempts_total",
			Help: "Total claim attempts against the pending-bounds set",
		},
	)

	// Connection metrics
	LeaseRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "atlasnet_lease_rejections_total",
			Help: "Connection lease acquisitions rejected because the peer holds the lease",
		},
	)

	ConnectionsReaped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "atlasnet_connections_reaped_total",
			Help: "Connections closed by the inactivity reaper",
		},
	)

	ProbesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "atlasnet_handoff_probes_sent_total",
			Help: "Liveness probe pings sent to peer shards",
		},
	)

	// Store metrics
	StoreRoundTrips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atlasnet_store_round_trips_total",
			Help: "Manifest store operations by table",
		},
		[]string{"table"},
	)
)

// Register registers all metrics with Prometheus
func Register() {
	prometheus.MustRegister(
		EntitiesOwned,
		EntitiesOutOfBounds,
		TransfersByStage,
		TransfersCompleted,
		TransfersAborted,
		EntitiesAdopted,
		BoundHeld,
		BoundClaimAttempts,
		LeaseRejections,
		ConnectionsReaped,
		ProbesSent,
		StoreRoundTrips,
	)
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve starts the metrics HTTP server on the given address
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return http.ListenAndServe(addr, mux)
}
