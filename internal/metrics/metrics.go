package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionState reports the session state (0 idle, 1 connecting, 2 connected, 3 error)
	ConnectionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "elements_connection_state",
			Help: "Current wallet session state",
		},
	)

	// ExpectedNetwork is 1 while the wallet is on an accepted chain
	ExpectedNetwork = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "elements_connection_expected_network",
			Help: "Whether the wallet reports an accepted chain id",
		},
	)

	// ProviderCalls counts wallet/ledger calls by method and outcome
	ProviderCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "elements_provider_calls_total",
			Help: "Total number of provider calls",
		},
		[]string{"method", "outcome"},
	)

	// Retries counts retry attempts by error class
	Retries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "elements_provider_retries_total",
			Help: "Total number of provider call retries",
		},
		[]string{"class"},
	)

	// OverloadLockouts counts extended lockouts after repeated overload signals
	OverloadLockouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "elements_provider_overload_lockouts_total",
			Help: "Total number of extended overload lockouts",
		},
	)

	// ConnectRejections counts connect attempts refused by cooldown or breaker
	ConnectRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "elements_connect_rejections_total",
			Help: "Total number of connect attempts refused locally",
		},
		[]string{"reason"},
	)

	// GameOperations counts protocol operations by operation and outcome
	GameOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "elements_game_operations_total",
			Help: "Total number of game protocol operations",
		},
		[]string{"operation", "outcome"},
	)

	// FetchDuration tracks how long a game listing refresh takes
	FetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "elements_fetch_games_duration_seconds",
			Help:    "Duration of game listing fetches in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// FetchFailures counts individual record reads skipped during a listing fetch
	FetchFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "elements_fetch_record_failures_total",
			Help: "Total number of game record reads that failed and were skipped",
		},
	)

	// GamesInView reports the size of the current game listing
	GamesInView = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "elements_games_in_view",
			Help: "Number of games in the current listing",
		},
	)

	// LedgerEvents counts decoded ledger lifecycle events
	LedgerEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "elements_ledger_events_total",
			Help: "Total number of ledger lifecycle events observed",
		},
		[]string{"event"},
	)

	// VaultPurged counts vault entries removed by retention
	VaultPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "elements_vault_purged_total",
			Help: "Total number of expired vault entries purged",
		},
	)
)
