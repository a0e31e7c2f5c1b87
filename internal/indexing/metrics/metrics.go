package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StoreOperations tracks persistence gateway calls by operation and result
	StoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perpkeeper_store_operations_total",
			Help: "Total number of persistence gateway operations",
		},
		[]string{"operation", "result"},
	)

	// StoreRetries tracks failed store attempts that were retried
	StoreRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perpkeeper_store_retries_total",
			Help: "Total number of retried store attempts",
		},
		[]string{"operation"},
	)

	// PricePointsStored tracks persisted price points by source
	PricePointsStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perpkeeper_price_points_stored_total",
			Help: "Total number of price points persisted",
		},
		[]string{"source"},
	)

	// EventsReceived tracks live PerpPriceUpdated events
	EventsReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "perpkeeper_events_received_total",
			Help: "Total number of live price events received",
		},
	)

	// EventsSkipped tracks live events already covered by backfill
	EventsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "perpkeeper_events_skipped_total",
			Help: "Total number of live events dropped as already backfilled",
		},
	)

	// BackfillChunks tracks event range queries issued by backfill
	BackfillChunks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "perpkeeper_backfill_chunks_total",
			Help: "Total number of backfill range queries",
		},
	)

	// BackfillPasses tracks backfill passes by result
	BackfillPasses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perpkeeper_backfill_passes_total",
			Help: "Total number of backfill passes",
		},
		[]string{"result"},
	)

	// ChainHead tracks the latest block height seen on the stream
	ChainHead = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "perpkeeper_chain_head_block",
			Help: "Latest block height reported by the event stream",
		},
	)

	// IndexedBlock tracks the highest block covered by persisted events
	IndexedBlock = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "perpkeeper_indexed_block",
			Help: "Highest block covered by the ingestion pipeline",
		},
	)

	// StreamDisconnects tracks unexpected websocket disconnects
	StreamDisconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "perpkeeper_stream_disconnects_total",
			Help: "Total number of unexpected event stream disconnects",
		},
	)

	// ComponentRestarts tracks self restarts per component
	ComponentRestarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perpkeeper_component_restarts_total",
			Help: "Total number of component restarts",
		},
		[]string{"component"},
	)

	// ComponentTerminated is 1 once a component gave up
	ComponentTerminated = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "perpkeeper_component_terminated",
			Help: "Whether a component terminated after exhausting restarts",
		},
		[]string{"component"},
	)

	// FundingAttempts tracks funding submissions by outcome
	FundingAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perpkeeper_funding_attempts_total",
			Help: "Total number of executeFundingRateMechanism submissions",
		},
		[]string{"outcome"},
	)

	// FundingRounds tracks completed funding rounds
	FundingRounds = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "perpkeeper_funding_rounds_total",
			Help: "Total number of funding rounds confirmed on chain",
		},
	)

	// FundingNextRound tracks the unix time of the next scheduled round
	FundingNextRound = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "perpkeeper_funding_next_round_timestamp",
			Help: "Unix time at which the next funding round is due",
		},
	)

	// Notifications tracks operator notifications by result
	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perpkeeper_notifications_total",
			Help: "Total number of operator notifications",
		},
		[]string{"result"},
	)

	// APIRequests tracks query API calls
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perpkeeper_api_requests_total",
			Help: "Total number of query API requests",
		},
		[]string{"route", "status"},
	)

	// DBConnectionPoolUsage tracks database pool usage percentage
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "perpkeeper_db_connection_pool_usage_percent",
			Help: "Database connection pool usage percentage",
		},
	)
)
