package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BlocksIngested tracks blocks written to the monitor state per ingest mode
	BlocksIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockmon_blocks_ingested_total",
			Help: "Total number of blocks accepted into the monitor state",
		},
		[]string{"mode"},
	)

	// IngestSkipped tracks ingestion cycles that produced no block
	IngestSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockmon_ingest_skipped_total",
			Help: "Total number of ingestion cycles skipped",
		},
		[]string{"mode", "reason"},
	)

	// ReconcileDiscrepancies tracks disagreements between push and pull sources
	ReconcileDiscrepancies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockmon_reconcile_discrepancies_total",
			Help: "Total number of blocks that failed cross-validation against the secondary source",
		},
		[]string{"kind"},
	)

	// RPCCallsTotal tracks RPC calls per provider
	RPCCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockmon_rpc_calls_total",
			Help: "Total number of RPC calls",
		},
		[]string{"provider", "method"},
	)

	// RPCErrorsTotal tracks RPC errors per provider
	RPCErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockmon_rpc_errors_total",
			Help: "Total number of RPC errors",
		},
		[]string{"provider", "error_type"},
	)

	// RPCLatency tracks RPC call latency
	RPCLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "blockmon_rpc_latency_seconds",
			Help:    "RPC call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "method"},
	)

	// SubscriberReconnects tracks WebSocket reconnection attempts
	SubscriberReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blockmon_subscriber_reconnects_total",
			Help: "Total number of WebSocket reconnection attempts",
		},
	)

	// LatestBlock tracks the number of the last accepted block
	LatestBlock = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "blockmon_latest_block_number",
			Help: "Number of the latest block accepted into the monitor state",
		},
	)

	// LatestBlockTimestamp tracks the timestamp of the last accepted block
	LatestBlockTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "blockmon_latest_block_timestamp_seconds",
			Help: "Unix timestamp of the latest block accepted into the monitor state",
		},
	)

	// Healthy is 1 when the last health evaluation was healthy
	Healthy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "blockmon_healthy",
			Help: "Result of the last health evaluation (1 healthy, 0 unhealthy)",
		},
	)

	// ForceUnhealthy mirrors the operator override
	ForceUnhealthy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "blockmon_force_unhealthy",
			Help: "Operator force-unhealthy override (1 set, 0 clear)",
		},
	)
)

// RecordBlock updates the head gauges and ingest counter for an accepted block.
func RecordBlock(mode string, number, timestamp uint64) {
	BlocksIngested.WithLabelValues(mode).Inc()
	LatestBlock.Set(float64(number))
	LatestBlockTimestamp.Set(float64(timestamp))
}

// RecordHealth updates the health gauges after an evaluation.
func RecordHealth(healthy, forced bool) {
	if healthy {
		Healthy.Set(1)
	} else {
		Healthy.Set(0)
	}
	if forced {
		ForceUnhealthy.Set(1)
	} else {
		ForceUnhealthy.Set(0)
	}
}
