// Package metrics exposes Prometheus instrumentation for the storage,
// sharding, consensus, and Byzantine-tolerance subsystems.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Sharding metrics
	ShardCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "aerolithdb_shard_count",
			Help: "Number of shards known to the local sharding engine",
		},
	)

	ShardRebuildsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aerolithdb_shard_rebuilds_total",
			Help: "Total number of hash ring rebuilds",
		},
	)

	// Tier storage metrics
	TierRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aerolithdb_tier_requests_total",
			Help: "Total number of tier requests by tier and outcome (hit/miss)",
		},
		[]string{"tier", "outcome"},
	)

	TierLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aerolithdb_tier_latency_seconds",
			Help:    "Latency of tier backend operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tier", "op"},
	)

	L1HitRate = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "aerolithdb_l1_hit_rate",
			Help: "Current L1 memory tier cache hit rate",
		},
	)

	// Consensus metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "aerolithdb_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "aerolithdb_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	ProposalDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aerolithdb_proposal_duration_seconds",
			Help:    "Time from Propose to committed response",
			Buckets: prometheus.DefBuckets,
		},
	)

	ProposalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aerolithdb_proposals_total",
			Help: "Total number of consensus proposals by outcome",
		},
		[]string{"outcome"},
	)

	// Byzantine tolerance metrics
	SuspectedNodesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "aerolithdb_suspected_nodes",
			Help: "Number of nodes currently under suspicion",
		},
	)

	NetworkHealth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "aerolithdb_network_health",
			Help: "Composite network health score in [0,1]",
		},
	)

	FaultsDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aerolithdb_faults_detected_total",
			Help: "Total number of faults detected by type",
		},
		[]string{"fault_type"},
	)

	RecoveryActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aerolithdb_recovery_actions_total",
			Help: "Total number of recovery strategies invoked",
		},
		[]string{"strategy"},
	)

	// Coordinator / query metrics
	DocumentOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aerolithdb_document_ops_total",
			Help: "Total number of document operations by op and outcome",
		},
		[]string{"op", "outcome"},
	)

	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aerolithdb_query_duration_seconds",
			Help:    "Query evaluation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collection"},
	)
)

func init() {
	prometheus.MustRegister(ShardCount)
	prometheus.MustRegister(ShardRebuildsTotal)
	prometheus.MustRegister(TierRequestsTotal)
	prometheus.MustRegister(TierLatency)
	prometheus.MustRegister(L1HitRate)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(ProposalDuration)
	prometheus.MustRegister(ProposalsTotal)
	prometheus.MustRegister(SuspectedNodesTotal)
	prometheus.MustRegister(NetworkHealth)
	prometheus.MustRegister(FaultsDetectedTotal)
	prometheus.MustRegister(RecoveryActionsTotal)
	prometheus.MustRegister(DocumentOpsTotal)
	prometheus.MustRegister(QueryDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
