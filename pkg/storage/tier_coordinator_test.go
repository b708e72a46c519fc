package storage

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/aerolithdb/pkg/errs"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTierCoordinator(t *testing.T) *TierCoordinator {
	t.Helper()
	tc, err := NewTierCoordinator(Config{
		DataDir:           t.TempDir(),
		L1MaxEntries:      0,
		PropagateQueueCap: 16,
	}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = tc.Close() })
	return tc
}

// waitFor polls until cond returns true or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Fail(t, "condition not met before deadline")
}

func TestTierCoordinatorStoreWritesThroughL1AndL2Synchronously(t *testing.T) {
	tc := newTestTierCoordinator(t)
	ctx := context.Background()

	require.NoError(t, tc.Store(ctx, "shard-0", "doc-1", []byte("payload")))

	// L1 and L2 must already hold the value the instant Store returns,
	// with no need to wait for the async propagation worker.
	got, err := tc.l1.Get(ctx, "shard-0", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)

	got, err = tc.l2.Get(ctx, "shard-0", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)
}

func TestTierCoordinatorStorePropagatesToDistributedAndArchive(t *testing.T) {
	tc := newTestTierCoordinator(t)
	ctx := context.Background()
	require.NoError(t, tc.Store(ctx, "shard-0", "doc-1", []byte("payload")))

	waitFor(t, func() bool {
		_, err := tc.l3.Get(ctx, "shard-0", "doc-1")
		return err == nil
	})
	waitFor(t, func() bool {
		_, err := tc.archive.Get(ctx, "shard-0", "doc-1")
		return err == nil
	})
}

func TestTierCoordinatorGetPromotesFromLowerTiers(t *testing.T) {
	tc := newTestTierCoordinator(t)
	ctx := context.Background()

	// Seed only the Distributed tier, bypassing Store entirely, so the
	// read path must find it there and promote it upward.
	require.NoError(t, tc.l3.Store(ctx, "shard-0", "doc-1", []byte("from-l3")))

	got, err := tc.Get(ctx, "shard-0", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("from-l3"), got)

	waitFor(t, func() bool {
		_, err := tc.l1.Get(ctx, "shard-0", "doc-1")
		return err == nil
	})
	waitFor(t, func() bool {
		_, err := tc.l2.Get(ctx, "shard-0", "doc-1")
		return err == nil
	})
}

func TestTierCoordinatorGetFromArchiveDoesNotPromoteToL1(t *testing.T) {
	tc := newTestTierCoordinator(t)
	ctx := context.Background()

	require.NoError(t, tc.archive.Store(ctx, "shard-0", "doc-1", []byte("from-archive")))

	got, err := tc.Get(ctx, "shard-0", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("from-archive"), got)

	waitFor(t, func() bool {
		_, err := tc.l2.Get(ctx, "shard-0", "doc-1")
		return err == nil
	})

	// L1 must remain untouched by an archive-tier hit.
	time.Sleep(50 * time.Millisecond)
	_, err = tc.l1.Get(ctx, "shard-0", "doc-1")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestTierCoordinatorGetAllTiersMissReturnsNotFound(t *testing.T) {
	tc := newTestTierCoordinator(t)
	_, err := tc.Get(context.Background(), "shard-0", "nowhere")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestTierCoordinatorDeletePurgesL1ImmediatelyAndTombstonesLowerTiers(t *testing.T) {
	tc := newTestTierCoordinator(t)
	ctx := context.Background()

	require.NoError(t, tc.Store(ctx, "shard-0", "doc-1", []byte("payload")))
	waitFor(t, func() bool {
		_, err := tc.l3.Get(ctx, "shard-0", "doc-1")
		return err == nil
	})

	require.NoError(t, tc.Delete(ctx, "shard-0", "doc-1"))

	_, err := tc.l1.Get(ctx, "shard-0", "doc-1")
	assert.ErrorIs(t, err, errs.ErrNotFound, "L1 must be purged synchronously")

	_, err = tc.l2.Get(ctx, "shard-0", "doc-1")
	assert.ErrorIs(t, err, errs.ErrNotFound, "L2 tombstone must be applied synchronously")

	waitFor(t, func() bool {
		_, err := tc.l3.Get(ctx, "shard-0", "doc-1")
		return err != nil
	})

	_, err = tc.Get(ctx, "shard-0", "doc-1")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}
