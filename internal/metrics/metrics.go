package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors holds every metric the engine reports. Construct once per process with
// the registry that /metrics serves; New(nil) builds unregistered collectors for tests.
type Collectors struct {
	ConnectAttempts      *prometheus.CounterVec
	TxAttempts           *prometheus.CounterVec
	OpenTransactions     prometheus.Gauge
	OrphanedTransactions prometheus.Counter
	OperationDuration    *prometheus.HistogramVec
	OperationTimeouts    *prometheus.CounterVec
	OperationHeartbeats  *prometheus.CounterVec
	OperationsInFlight   *prometheus.GaugeVec
	GeneratorRequests    *prometheus.CounterVec
	GeneratorTokens      *prometheus.HistogramVec
	Turns                *prometheus.CounterVec
	CacheLookups         *prometheus.CounterVec
	TokenVerifications   *prometheus.CounterVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Collectors {
	f := promauto.With(reg)
	return &Collectors{
		ConnectAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "adventure_store_connect_attempts_total",
			Help: "Connection pool creation attempts, partitioned by outcome.",
		}, []string{"outcome"}),
		TxAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "adventure_store_tx_attempts_total",
			Help: "Unit-of-work attempts, partitioned by label and outcome (committed, rolled_back, retried).",
		}, []string{"label", "outcome"}),
		OpenTransactions: f.NewGauge(prometheus.GaugeOpts{
			Name: "adventure_store_open_transactions",
			Help: "Transactions currently open.",
		}),
		OrphanedTransactions: f.NewCounter(prometheus.CounterOpts{
			Name: "adventure_store_orphaned_transactions_total",
			Help: "Transactions still open when the gateway was closed.",
		}),
		OperationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "adventure_operation_duration_seconds",
			Help:    "Duration of timeout-wrapped operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"label"}),
		OperationTimeouts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "adventure_operation_timeouts_total",
			Help: "Operations abandoned after exceeding their timeout.",
		}, []string{"label"}),
		OperationHeartbeats: f.NewCounterVec(prometheus.CounterOpts{
			Name: "adventure_operation_heartbeats_total",
			Help: "Progress heartbeats emitted by long-running operations.",
		}, []string{"label"}),
		OperationsInFlight: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "adventure_operations_in_flight",
			Help: "Timeout-wrapped operations currently running, including abandoned ones.",
		}, []string{"label"}),
		GeneratorRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "adventure_generator_requests_total",
			Help: "Content generator calls, partitioned by model and outcome.",
		}, []string{"model", "outcome"}),
		GeneratorTokens: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "adventure_generator_prompt_tokens",
			Help:    "Estimated prompt tokens per generator call.",
			Buckets: prometheus.LinearBuckets(250, 250, 20),
		}, []string{"model"}),
		Turns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "adventure_turns_total",
			Help: "Resolved decisions, partitioned by result (continued, victory, defeat, partial).",
		}, []string{"result"}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "adventure_party_cache_lookups_total",
			Help: "Party cache lookups, partitioned by result.",
		}, []string{"result"}),
		TokenVerifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "adventure_http_token_verifications_total",
			Help: "Inter-service token checks on the command API, partitioned by outcome.",
		}, []string{"outcome"}),
	}
}
