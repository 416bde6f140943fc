package tvl

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// --- Prometheus Metrics Definition ---

// Metrics contains all the Prometheus metrics for the TVLSystem.
// Encapsulating them in a struct keeps the main system struct clean and organized.
type Metrics struct {
	// --- Tier 1: Critical System Health & Liveness ---
	ComputationDuration *prometheus.HistogramVec
	ErrorsTotal         *prometheus.CounterVec

	// --- Tier 2: Aggregation Engine Throughput ---
	CallsExecuted    *prometheus.CounterVec
	ChunksDispatched *prometheus.CounterVec

	// --- Tier 3: Discovery & Cache Behavior ---
	PairsDiscovered *prometheus.GaugeVec
	SupportedPairs  *prometheus.GaugeVec
	PairCacheHits   *prometheus.CounterVec
	PairCacheMisses *prometheus.CounterVec
}

// NewMetrics creates and registers all the Prometheus metrics for the system.
// It takes a prometheus.Registerer to allow for flexible registration (e.g., default vs. custom).
func NewMetrics(reg prometheus.Registerer, systemName string) *Metrics {
	return &Metrics{
		// --- Tier 1 Metrics ---
		ComputationDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Subsystem: systemName,
			Name:      "tvl_system_computation_duration_seconds",
			Help:      "A histogram of the time it takes to run a full TVL computation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{}),

		ErrorsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Subsystem: systemName,
			Name:      "tvl_system_errors_total",
			Help:      "Total number of failed TVL computations, labeled by error type.",
		}, []string{"type"}),

		// --- Tier 2 Metrics ---
		CallsExecuted: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Subsystem: systemName,
			Name:      "tvl_system_calls_executed_total",
			Help:      "Total number of individual on-chain calls executed through the aggregation engine.",
		}, []string{}),

		ChunksDispatched: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Subsystem: systemName,
			Name:      "tvl_system_chunks_dispatched_total",
			Help:      "Total number of chunk round-trips completed by the aggregation engine.",
		}, []string{}),

		// --- Tier 3 Metrics ---
		PairsDiscovered: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Subsystem: systemName,
			Name:      "tvl_system_pairs_discovered",
			Help:      "The number of pairs enumerated from the factory in the last computation.",
		}, []string{}),

		SupportedPairs: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Subsystem: systemName,
			Name:      "tvl_system_supported_pairs",
			Help:      "The number of pairs holding at least one supported token in the last computation.",
		}, []string{}),

		PairCacheHits: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Subsystem: systemName,
			Name:      "tvl_system_pair_cache_hits_total",
			Help:      "Total number of pair token lookups served from the metadata cache.",
		}, []string{}),

		PairCacheMisses: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Subsystem: systemName,
			Name:      "tvl_system_pair_cache_misses_total",
			Help:      "Total number of pair token lookups that required an on-chain read.",
		}, []string{}),
	}
}
