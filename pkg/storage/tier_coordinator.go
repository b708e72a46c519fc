package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/aerolithdb/pkg/errs"
	"github.com/cuemby/aerolithdb/pkg/metrics"
	"github.com/rs/zerolog"
)

// propagateOp distinguishes the two kinds of work queued for the
// asynchronous L3/L4 propagation worker.
type propagateOp int

const (
	propagateStore propagateOp = iota
	propagateDelete
)

type propagateJob struct {
	op      propagateOp
	shardID string
	docID   string
	data    []byte
}

// TierCoordinator implements the write-through / read-promote algorithm
// of §4.D over the four concrete tiers. It is the sole owner of each
// backend handle (§3 Ownership) — nothing outside this package touches
// a Backend directly.
//
// Grounded on the teacher's (cuemby/warren) single-owner-struct pattern
// (pkg/manager.Manager owning its storage.Store) and on
// _examples/original_source/aerolithdb-storage/src/backends.rs for the
// tier shape and promotion behavior.
type TierCoordinator struct {
	l1      *MemoryTier
	l2      *BoltTier
	l3      *BoltTier
	archive *BoltTier

	propagateCh chan propagateJob
	stopCh      chan struct{}

	logger zerolog.Logger
}

// Config bounds the async-propagation queue depth; a full queue causes
// the corresponding Store call to block (not fail) until drained,
// matching the backpressure policy in §5. L1TTL and L2MaxEntries
// implement spec.md §4.C's eviction invariant: "L1 enforces a memory
// cap with LRU eviction plus TTL; L2 enforces disk budget with LRU of
// unpromoted entries." Zero disables the corresponding bound.
type Config struct {
	DataDir           string
	L1MaxEntries      int
	L1TTL             time.Duration
	L2MaxEntries      int
	PropagateQueueCap int
}

// NewTierCoordinator opens the three embedded-KV tiers under
// {DataDir}/{tier_name}/ and starts the background propagation worker.
func NewTierCoordinator(cfg Config, logger zerolog.Logger) (*TierCoordinator, error) {
	if cfg.PropagateQueueCap <= 0 {
		cfg.PropagateQueueCap = 1024
	}

	l2, err := NewBoltTier(cfg.DataDir+"/l2", "ssd.db", cfg.L2MaxEntries)
	if err != nil {
		return nil, fmt.Errorf("open L2 tier: %w", err)
	}
	l3, err := NewBoltTier(cfg.DataDir+"/l3", "distributed.db", 0)
	if err != nil {
		return nil, fmt.Errorf("open L3 tier: %w", err)
	}
	archive, err := NewBoltTier(cfg.DataDir+"/archive", "archive.db", 0)
	if err != nil {
		return nil, fmt.Errorf("open archive tier: %w", err)
	}

	tc := &TierCoordinator{
		l1:          NewMemoryTier(cfg.L1MaxEntries, cfg.L1TTL),
		l2:          l2,
		l3:          l3,
		archive:     archive,
		propagateCh: make(chan propagateJob, cfg.PropagateQueueCap),
		stopCh:      make(chan struct{}),
		logger:      logger,
	}

	go tc.propagateLoop()
	return tc, nil
}

// Store writes through L1+L2 synchronously and enqueues asynchronous
// propagation to Distributed (L3) and Archive (L4).
func (tc *TierCoordinator) Store(ctx context.Context, shardID, docID string, data []byte) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.TierLatency, "l1+l2", "store")

	if err := tc.l1.Store(ctx, shardID, docID, data); err != nil {
		return err
	}
	if err := tc.l2.Store(ctx, shardID, docID, data); err != nil {
		return err
	}
	if err := tc.l2.EnforceBudget(ctx, tc.l1.Contains); err != nil {
		tc.logger.Warn().Err(err).Msg("L2 disk-budget eviction failed")
	}

	job := propagateJob{op: propagateStore, shardID: shardID, docID: docID, data: data}
	select {
	case tc.propagateCh <- job:
	case <-ctx.Done():
		// Still block on the plain send below rather than silently
		// drop the write: ctx expiring doesn't excuse losing durability.
		tc.propagateCh <- job
	}
	return nil
}

// Get implements the tiered read-promote path: L1 -> L2 -> Distributed
// -> Archive, promoting hits upward (never into L1 from Archive, to
// avoid polluting the hot set).
func (tc *TierCoordinator) Get(ctx context.Context, shardID, docID string) ([]byte, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.TierLatency, "coordinator", "get")

	if data, err := tc.l1.Get(ctx, shardID, docID); err == nil {
		metrics.TierRequestsTotal.WithLabelValues("l1", "hit").Inc()
		return data, nil
	}
	metrics.TierRequestsTotal.WithLabelValues("l1", "miss").Inc()

	if data, err := tc.l2.Get(ctx, shardID, docID); err == nil {
		metrics.TierRequestsTotal.WithLabelValues("l2", "hit").Inc()
		go tc.promote(tc.l1, shardID, docID, data)
		return data, nil
	}
	metrics.TierRequestsTotal.WithLabelValues("l2", "miss").Inc()

	if data, err := tc.l3.Get(ctx, shardID, docID); err == nil {
		metrics.TierRequestsTotal.WithLabelValues("l3", "hit").Inc()
		go tc.promote(tc.l2, shardID, docID, data)
		go tc.promote(tc.l1, shardID, docID, data)
		return data, nil
	}
	metrics.TierRequestsTotal.WithLabelValues("l3", "miss").Inc()

	if data, err := tc.archive.Get(ctx, shardID, docID); err == nil {
		metrics.TierRequestsTotal.WithLabelValues("archive", "hit").Inc()
		go tc.promote(tc.l2, shardID, docID, data)
		return data, nil
	}
	metrics.TierRequestsTotal.WithLabelValues("archive", "miss").Inc()

	return nil, fmt.Errorf("%s:%s: %w", shardID, docID, errs.ErrNotFound)
}

func (tc *TierCoordinator) promote(dst Backend, shardID, docID string, data []byte) {
	if err := dst.Store(context.Background(), shardID, docID, data); err != nil {
		tc.logger.Warn().Err(err).Str("shard_id", shardID).Str("doc_id", docID).Msg("tier promotion failed")
	}
}

// Delete removes the entry from L1 and L2 synchronously and queues its
// removal from Distributed (L3) and Archive for the background
// propagation worker.
func (tc *TierCoordinator) Delete(ctx context.Context, shardID, docID string) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.TierLatency, "l1+l2", "delete")

	if err := tc.l1.Delete(ctx, shardID, docID); err != nil {
		return err
	}
	if err := tc.l2.Delete(ctx, shardID, docID); err != nil {
		return err
	}

	job := propagateJob{op: propagateDelete, shardID: shardID, docID: docID}
	select {
	case tc.propagateCh <- job:
	case <-ctx.Done():
		tc.propagateCh <- job
	}
	return nil
}

// propagateLoop applies queued propagation jobs to L3 and Archive. It
// runs for the lifetime of the coordinator.
func (tc *TierCoordinator) propagateLoop() {
	for {
		select {
		case job := <-tc.propagateCh:
			tc.applyPropagateJob(job)
		case <-tc.stopCh:
			return
		}
	}
}

func (tc *TierCoordinator) applyPropagateJob(job propagateJob) {
	ctx := context.Background()
	switch job.op {
	case propagateStore:
		if err := tc.l3.Store(ctx, job.shardID, job.docID, job.data); err != nil {
			tc.logger.Warn().Err(err).Msg("L3 propagation failed")
		}
		if err := tc.archive.Store(ctx, job.shardID, job.docID, job.data); err != nil {
			tc.logger.Warn().Err(err).Msg("archive propagation failed")
		}
	case propagateDelete:
		if err := tc.l3.Delete(ctx, job.shardID, job.docID); err != nil {
			tc.logger.Warn().Err(err).Msg("L3 tombstone propagation failed")
		}
		if err := tc.archive.Delete(ctx, job.shardID, job.docID); err != nil {
			tc.logger.Warn().Err(err).Msg("archive reap failed")
		}
	}
}

// Scan returns every live (non-tombstoned) entry known to this node,
// keyed by "shardID:docID". L2 is the scan source: every Store writes
// through L1+L2 synchronously and every Delete purges both
// synchronously, so L2 is always a complete, authoritative on-disk view
// of what's live locally — L3/Archive are asynchronous replicas, not
// sources of truth for a local scan.
func (tc *TierCoordinator) Scan(ctx context.Context) (map[string][]byte, error) {
	return tc.l2.Scan(ctx)
}

// Stats aggregates observability data across tiers.
type TierStats struct {
	L1 MemoryStats
}

func (tc *TierCoordinator) Stats() TierStats {
	return TierStats{L1: tc.l1.Stats()}
}

// Close shuts down the propagation worker and all tier backends.
func (tc *TierCoordinator) Close() error {
	close(tc.stopCh)
	var firstErr error
	for _, b := range []Backend{tc.l1, tc.l2, tc.l3, tc.archive} {
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Compact runs Archive compaction, the one tier with a Compactor.
func (tc *TierCoordinator) Compact(ctx context.Context) error {
	return tc.archive.Compact(ctx)
}
