package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RPCCallsTotal tracks RPC calls per chain and endpoint
	RPCCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainwallet_rpc_calls_total",
			Help: "Total number of RPC calls",
		},
		[]string{"chain", "provider", "method"},
	)

	// RPCErrorsTotal tracks RPC errors per chain and endpoint
	RPCErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainwallet_rpc_errors_total",
			Help: "Total number of RPC errors",
		},
		[]string{"chain", "provider", "error_type"},
	)

	// RPCLatency tracks RPC call latency
	RPCLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chainwallet_rpc_latency_seconds",
			Help:    "RPC call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"chain", "provider", "method"},
	)

	// RPCFailoversTotal counts moves to the next endpoint after a failure
	RPCFailoversTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainwallet_rpc_failovers_total",
			Help: "Total number of endpoint failovers",
		},
		[]string{"chain", "from"},
	)

	// BatchSize tracks how many requests each wire batch carried
	BatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chainwallet_rpc_batch_size",
			Help:    "Number of requests per batched RPC call",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 200},
		},
		[]string{"chain"},
	)

	// FeedEmissionsTotal counts snapshots delivered to subscribers
	FeedEmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainwallet_feed_emissions_total",
			Help: "Total number of balance snapshots emitted",
		},
		[]string{"chain", "source"},
	)

	// FeedDuplicatesTotal counts snapshots suppressed as unchanged
	FeedDuplicatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainwallet_feed_duplicates_total",
			Help: "Total number of unchanged snapshots suppressed",
		},
		[]string{"chain", "source"},
	)

	// FeedErrorsTotal counts errors reported by feeds
	FeedErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainwallet_feed_errors_total",
			Help: "Total number of feed errors",
		},
		[]string{"chain", "source"},
	)

	// PendingTransfers tracks transfers waiting for an external signature
	PendingTransfers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainwallet_pending_transfers",
			Help: "Number of transfers waiting for a hardware signature",
		},
	)

	// TransfersSubmittedTotal counts submitted transfers per chain
	TransfersSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainwallet_transfers_submitted_total",
			Help: "Total number of submitted transfers",
		},
		[]string{"chain"},
	)

	// MetadataCacheTotal counts metadata cache lookups by result
	MetadataCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainwallet_metadata_cache_total",
			Help: "Metadata cache lookups by result (hit, overlay, miss)",
		},
		[]string{"result"},
	)

	// DBConnectionPoolUsage tracks the share of open database connections
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainwallet_db_connection_pool_usage_percent",
			Help: "Open database connections as a percentage of the pool limit",
		},
	)

	// BalancesTracked tracks the balances held by the stream per status
	BalancesTracked = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainwallet_balances_tracked",
			Help: "Number of balances in the aggregated state by status",
		},
		[]string{"status"},
	)
)
