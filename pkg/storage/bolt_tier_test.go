package storage

import (
	"context"
	"testing"

	"github.com/cuemby/aerolithdb/pkg/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBoltTier(t *testing.T) *BoltTier {
	t.Helper()
	return newTestBoltTierWithBudget(t, 0)
}

func newTestBoltTierWithBudget(t *testing.T, maxEntries int) *BoltTier {
	t.Helper()
	dir := t.TempDir()
	bt, err := NewBoltTier(dir, "test.db", maxEntries)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bt.Close() })
	return bt
}

func TestBoltTierStoreGetRoundTrip(t *testing.T) {
	bt := newTestBoltTier(t)
	ctx := context.Background()

	require.NoError(t, bt.Store(ctx, "shard-0", "doc-1", []byte("payload")))

	got, err := bt.Get(ctx, "shard-0", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)
}

func TestBoltTierGetMissReturnsNotFound(t *testing.T) {
	bt := newTestBoltTier(t)
	_, err := bt.Get(context.Background(), "shard-0", "missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestBoltTierDeleteRemovesEntry(t *testing.T) {
	bt := newTestBoltTier(t)
	ctx := context.Background()
	require.NoError(t, bt.Store(ctx, "shard-0", "doc-1", []byte("x")))
	require.NoError(t, bt.Delete(ctx, "shard-0", "doc-1"))

	_, err := bt.Get(ctx, "shard-0", "doc-1")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestBoltTierCompactPreservesLiveEntriesAndRemainsUsable(t *testing.T) {
	bt := newTestBoltTier(t)
	ctx := context.Background()

	require.NoError(t, bt.Store(ctx, "s", "keep", []byte("1")))
	require.NoError(t, bt.Store(ctx, "s", "gone", []byte("2")))
	require.NoError(t, bt.Delete(ctx, "s", "gone"))

	require.NoError(t, bt.Compact(ctx))

	got, err := bt.Get(ctx, "s", "keep")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), got)

	_, err = bt.Get(ctx, "s", "gone")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	// the tier must still accept writes after compaction swaps the file
	require.NoError(t, bt.Store(ctx, "s", "after-compact", []byte("3")))
	got, err = bt.Get(ctx, "s", "after-compact")
	require.NoError(t, err)
	assert.Equal(t, []byte("3"), got)
}

func TestBoltTierEnforceBudgetEvictsLeastRecentlyUsed(t *testing.T) {
	bt := newTestBoltTierWithBudget(t, 2)
	ctx := context.Background()

	require.NoError(t, bt.Store(ctx, "s", "a", []byte("1")))
	require.NoError(t, bt.Store(ctx, "s", "b", []byte("2")))
	require.NoError(t, bt.Store(ctx, "s", "c", []byte("3")))

	require.NoError(t, bt.EnforceBudget(ctx, nil))

	_, err := bt.Get(ctx, "s", "a")
	assert.ErrorIs(t, err, errs.ErrNotFound, "a should have been evicted as least-recently-used")

	_, err = bt.Get(ctx, "s", "b")
	assert.NoError(t, err)
	_, err = bt.Get(ctx, "s", "c")
	assert.NoError(t, err)
}

func TestBoltTierEnforceBudgetSkipsPromotedEntries(t *testing.T) {
	bt := newTestBoltTierWithBudget(t, 1)
	ctx := context.Background()

	require.NoError(t, bt.Store(ctx, "s", "hot", []byte("1")))
	require.NoError(t, bt.Store(ctx, "s", "cold", []byte("2")))

	isPromoted := func(key string) bool { return key == storageKey("s", "hot") }
	require.NoError(t, bt.EnforceBudget(ctx, isPromoted))

	_, err := bt.Get(ctx, "s", "hot")
	assert.NoError(t, err, "promoted entry must survive budget eviction even though it's the older entry")

	_, err = bt.Get(ctx, "s", "cold")
	assert.ErrorIs(t, err, errs.ErrNotFound, "unpromoted entry should have been evicted instead")
}
