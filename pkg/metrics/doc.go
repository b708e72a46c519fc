/*
Package metrics provides Prometheus metrics collection and exposition for aerolithdb.

The metrics package defines and registers all aerolithdb metrics using the
Prometheus client library, providing observability into shard distribution,
tier cache effectiveness, consensus health, and Byzantine fault state.
Metrics are exposed via HTTP endpoint for scraping by Prometheus servers.

# Metrics Catalog

Sharding:

  - aerolithdb_shard_count: Gauge, number of shards known locally.
  - aerolithdb_shard_rebuilds_total: Counter, hash ring rebuild count.

Tier storage:

  - aerolithdb_tier_requests_total{tier,outcome}: Counter, per-tier hit/miss.
  - aerolithdb_tier_latency_seconds{tier,op}: Histogram, backend op latency.
  - aerolithdb_l1_hit_rate: Gauge, current L1 cache hit ratio.

Consensus:

  - aerolithdb_raft_is_leader: Gauge, 1 if this node is Raft leader.
  - aerolithdb_raft_applied_index: Gauge, last applied Raft log index.
  - aerolithdb_proposal_duration_seconds: Histogram, propose-to-commit latency.
  - aerolithdb_proposals_total{outcome}: Counter.

Byzantine tolerance:

  - aerolithdb_suspected_nodes: Gauge, nodes currently under suspicion.
  - aerolithdb_network_health: Gauge, composite health score in [0,1].
  - aerolithdb_faults_detected_total{fault_type}: Counter.
  - aerolithdb_recovery_actions_total{strategy}: Counter.

Coordinator:

  - aerolithdb_document_ops_total{op,outcome}: Counter.
  - aerolithdb_query_duration_seconds{collection}: Histogram.

# Usage

	timer := metrics.NewTimer()
	// ... perform operation ...
	timer.ObserveDurationVec(metrics.TierLatency, "l1", "get")

	http.Handle("/metrics", metrics.Handler())

All metrics are registered at package init via prometheus.MustRegister, so
importing this package is enough to make them visible on /metrics.
*/
package metrics
