package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/aerolithdb/pkg/errs"
)

// MemoryTier is the L1 volatile cache. Many readers may access
// concurrently; writes are exclusive. Statistics are updated under the
// same write lock as the data they describe, since both reads and
// writes mutate counters — grounded on
// _examples/original_source/aerolithdb-storage/src/backends.rs's
// MemoryCache, translated from the Rust source's two separate
// Arc<RwLock<_>> fields into one guarded struct, matching the
// single-mutex idiom the teacher uses throughout pkg/scheduler and
// pkg/reconciler.
//
// Eviction follows spec.md §4.C: "L1 enforces a memory cap with LRU
// eviction plus TTL" — an entry is dropped either when it is the
// least-recently-used entry (the front of the LRU list) over maxEntries, or when it's older than ttl,
// whichever comes first.
type MemoryTier struct {
	mu            sync.RWMutex
	data          map[string][]byte
	expiresAt     map[string]time.Time
	hits          uint64
	misses        uint64
	totalRequests uint64
	maxEntries    int
	ttl           time.Duration
	lru           []string // most-recently-used at the back
}

// NewMemoryTier constructs an L1 tier with an LRU cap of maxEntries and
// a per-entry time-to-live of ttl. Either bound may be disabled by
// passing 0.
func NewMemoryTier(maxEntries int, ttl time.Duration) *MemoryTier {
	return &MemoryTier{
		data:       make(map[string][]byte),
		expiresAt:  make(map[string]time.Time),
		maxEntries: maxEntries,
		ttl:        ttl,
	}
}

func (m *MemoryTier) Store(_ context.Context, shardID, docID string, data []byte) error {
	key := storageKey(shardID, docID)
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[key] = data
	if m.ttl > 0 {
		m.expiresAt[key] = time.Now().Add(m.ttl)
	}
	m.touch(key)
	m.evictLocked()
	return nil
}

func (m *MemoryTier) Get(_ context.Context, shardID, docID string) ([]byte, error) {
	key := storageKey(shardID, docID)
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalRequests++
	if m.expiredLocked(key) {
		m.removeLocked(key)
		m.misses++
		return nil, fmt.Errorf("%s: %w", key, errs.ErrNotFound)
	}
	data, ok := m.data[key]
	if !ok {
		m.misses++
		return nil, fmt.Errorf("%s: %w", key, errs.ErrNotFound)
	}
	m.hits++
	m.touch(key)
	return data, nil
}

func (m *MemoryTier) Delete(_ context.Context, shardID, docID string) error {
	key := storageKey(shardID, docID)
	m.mu.Lock()
	defer m.mu.Unlock()

	m.removeLocked(key)
	return nil
}

// Contains reports whether key (the combined "shardID:docID" storage
// key) currently has a live, unexpired entry in L1 — used by the tier
// coordinator to spare hot entries when enforcing L2's disk budget.
func (m *MemoryTier) Contains(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.expiredLocked(key) {
		return false
	}
	_, ok := m.data[key]
	return ok
}

// expiredLocked reports whether key has outlived ttl. Must hold m.mu.
func (m *MemoryTier) expiredLocked(key string) bool {
	if m.ttl <= 0 {
		return false
	}
	exp, ok := m.expiresAt[key]
	return ok && time.Now().After(exp)
}

// removeLocked purges key from the data map, LRU list, and expiry
// index. Must hold m.mu.
func (m *MemoryTier) removeLocked(key string) {
	delete(m.data, key)
	delete(m.expiresAt, key)
	m.removeLRULocked(key)
}

func (m *MemoryTier) Flush(_ context.Context) error { return nil }
func (m *MemoryTier) Close() error                  { return nil }

// Scan returns a copy of every live (unexpired) entry currently cached
// in L1. Scan is not the tier coordinator's authoritative read path
// (L2 is — see TierCoordinator.Scan), so expired-but-not-yet-reaped
// entries are filtered out here rather than lazily evicted.
func (m *MemoryTier) Scan(_ context.Context) (map[string][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string][]byte, len(m.data))
	for k, v := range m.data {
		if m.expiredLocked(k) {
			continue
		}
		out[k] = append([]byte(nil), v...)
	}
	return out, nil
}

// HitRate returns hits/total_requests, defined as 0.0 when
// total_requests is 0.
func (m *MemoryTier) HitRate() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.totalRequests == 0 {
		return 0.0
	}
	return float64(m.hits) / float64(m.totalRequests)
}

// Stats snapshots the L1 counters.
type MemoryStats struct {
	Hits, Misses, TotalRequests uint64
	Entries                     int
}

func (m *MemoryTier) Stats() MemoryStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return MemoryStats{
		Hits:          m.hits,
		Misses:        m.misses,
		TotalRequests: m.totalRequests,
		Entries:       len(m.data),
	}
}

// touch moves key to the back of the LRU list. Must hold m.mu.
func (m *MemoryTier) touch(key string) {
	if m.maxEntries <= 0 {
		return
	}
	m.removeLRULocked(key)
	m.lru = append(m.lru, key)
}

func (m *MemoryTier) removeLRULocked(key string) {
	for i, k := range m.lru {
		if k == key {
			m.lru = append(m.lru[:i], m.lru[i+1:]...)
			return
		}
	}
}

// evictLocked drops the least-recently-used entries until under cap.
// Must hold m.mu.
func (m *MemoryTier) evictLocked() {
	if m.maxEntries <= 0 {
		return
	}
	for len(m.data) > m.maxEntries && len(m.lru) > 0 {
		oldest := m.lru[0]
		m.lru = m.lru[1:]
		delete(m.data, oldest)
	}
}
