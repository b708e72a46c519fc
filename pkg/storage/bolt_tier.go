package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cuemby/aerolithdb/pkg/errs"
	bolt "go.etcd.io/bbolt"
)

var documentsBucket = []byte("documents")

// BoltTier is an embedded-KV-backed storage tier, shared by the SSD
// (L2), Distributed (L3), and Archive (L4) tiers — they differ only in
// their data directory, their maxEntries disk budget, and in whether
// the Distributed tier fans out writes to replicas (handled one layer
// up, by the tier coordinator and the consensus binding) and whether
// Archive's Compact rewrites the file. Grounded on the teacher's
// pkg/storage/boltdb.go transactional CRUD pattern (db.Update/db.View,
// one bucket, JSON-free raw bytes since the codec already serialized
// the record).
//
// maxEntries, when > 0, implements spec.md §4.C's "L2 enforces disk
// budget with LRU of unpromoted entries": an in-memory LRU list tracks
// access order, and EnforceBudget evicts the least-recently-used
// entries over budget, skipping any key a caller-supplied predicate
// reports as still "promoted" (hot in L1) so a disk-budget eviction
// never throws away the only copy of something still cached above it.
type BoltTier struct {
	db     *bolt.DB
	dbPath string

	mu         sync.Mutex
	maxEntries int
	lru        []string // most-recently-used at the back
}

// NewBoltTier opens (creating if absent) a bbolt database named dbFile
// under dataDir, with an LRU disk budget of maxEntries (0 means
// unbounded — used by the Distributed and Archive tiers, which don't
// enforce a budget).
func NewBoltTier(dataDir, dbFile string, maxEntries int) (*BoltTier, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create bolt tier dir %s: %w", dataDir, err)
	}
	path := filepath.Join(dataDir, dbFile)
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bolt tier %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(documentsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create documents bucket in %s: %w", path, err)
	}

	return &BoltTier{db: db, dbPath: path, maxEntries: maxEntries}, nil
}

func (t *BoltTier) Store(_ context.Context, shardID, docID string, data []byte) error {
	key := storageKey(shardID, docID)
	err := t.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(documentsBucket).Put([]byte(key), data)
	})
	if err != nil {
		return wrapIOErr("bolt store "+key, err)
	}
	t.touch(key)
	return nil
}

func (t *BoltTier) Get(_ context.Context, shardID, docID string) ([]byte, error) {
	key := storageKey(shardID, docID)
	var out []byte
	err := t.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(documentsBucket).Get([]byte(key))
		if v == nil {
			return errs.ErrNotFound
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	t.touch(key)
	return out, nil
}

func (t *BoltTier) Delete(_ context.Context, shardID, docID string) error {
	key := storageKey(shardID, docID)
	err := t.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(documentsBucket).Delete([]byte(key))
	})
	if err != nil {
		return wrapIOErr("bolt delete "+key, err)
	}
	t.mu.Lock()
	t.removeLRULocked(key)
	t.mu.Unlock()
	return nil
}

// touch records key as most-recently-used. A no-op when this tier has
// no disk budget, so L3/Archive don't pay for bookkeeping they never
// consult.
func (t *BoltTier) touch(key string) {
	if t.maxEntries <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeLRULocked(key)
	t.lru = append(t.lru, key)
}

func (t *BoltTier) removeLRULocked(key string) {
	for i, k := range t.lru {
		if k == key {
			t.lru = append(t.lru[:i], t.lru[i+1:]...)
			return
		}
	}
}

// EnforceBudget evicts least-recently-used entries until this tier is
// at or under its disk budget, skipping any key isPromoted reports as
// still cached in a higher tier — "unpromoted entries" per spec.md
// §4.C. A nil isPromoted evicts strictly by LRU order. A no-op when
// this tier has no disk budget.
func (t *BoltTier) EnforceBudget(ctx context.Context, isPromoted func(key string) bool) error {
	if t.maxEntries <= 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	for len(t.lru) > t.maxEntries {
		victimIdx := -1
		for i, k := range t.lru {
			if isPromoted == nil || !isPromoted(k) {
				victimIdx = i
				break
			}
		}
		if victimIdx == -1 {
			// Every tracked entry is still promoted above this tier;
			// nothing safe to evict until one is demoted.
			return nil
		}
		victim := t.lru[victimIdx]
		t.lru = append(t.lru[:victimIdx], t.lru[victimIdx+1:]...)

		err := t.db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket(documentsBucket).Delete([]byte(victim))
		})
		if err != nil {
			return wrapIOErr("bolt budget eviction "+victim, err)
		}
	}
	return nil
}

// Scan returns a copy of every entry currently stored in this tier.
func (t *BoltTier) Scan(_ context.Context) (map[string][]byte, error) {
	out := make(map[string][]byte)
	err := t.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(documentsBucket).ForEach(func(k, v []byte) error {
			out[string(k)] = append([]byte(nil), v...)
			return nil
		})
	})
	if err != nil {
		return nil, wrapIOErr("bolt scan", err)
	}
	return out, nil
}

// Flush forces bbolt to sync its memory-mapped file to disk, acting as
// the durability barrier §4.C requires.
func (t *BoltTier) Flush(_ context.Context) error {
	return wrapIOErr("bolt flush", t.db.Sync())
}

func (t *BoltTier) Close() error {
	return t.db.Close()
}

// Compact rewrites the bolt file into a fresh database and swaps it in,
// reclaiming space from deleted/tombstoned entries. Used by the Archive
// tier's append-friendly retention policy; not wired for L2/L3.
func (t *BoltTier) Compact(_ context.Context) error {
	tmpPath := t.dbPath + ".compact"
	dst, err := bolt.Open(tmpPath, 0600, nil)
	if err != nil {
		return wrapIOErr("compact open tmp", err)
	}

	err = dst.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(documentsBucket)
		return err
	})
	if err != nil {
		dst.Close()
		return wrapIOErr("compact create bucket", err)
	}

	err = t.db.View(func(srcTx *bolt.Tx) error {
		return dst.Update(func(dstTx *bolt.Tx) error {
			dstBucket := dstTx.Bucket(documentsBucket)
			return srcTx.Bucket(documentsBucket).ForEach(func(k, v []byte) error {
				return dstBucket.Put(k, v)
			})
		})
	})
	if err != nil {
		dst.Close()
		return wrapIOErr("compact copy", err)
	}

	if err := dst.Close(); err != nil {
		return wrapIOErr("compact close tmp", err)
	}
	if err := t.db.Close(); err != nil {
		return wrapIOErr("compact close src", err)
	}

	if err := renameFile(tmpPath, t.dbPath); err != nil {
		return wrapIOErr("compact rename", err)
	}

	reopened, err := bolt.Open(t.dbPath, 0600, nil)
	if err != nil {
		return wrapIOErr("compact reopen", err)
	}
	t.db = reopened
	return nil
}
