// Package storage implements the four tier backends of §4.C and the
// write-through/read-promote tier coordinator of §4.D.
//
// Grounded on _examples/original_source/aerolithdb-storage/src/backends.rs
// for the four-tier shape and cache statistics, and on the teacher
// (cuemby/warren)'s pkg/storage/boltdb.go for the bbolt transactional
// CRUD idiom used by the three persistent tiers.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuemby/aerolithdb/pkg/errs"
)

// Backend is the uniform contract every storage tier implements.
type Backend interface {
	Store(ctx context.Context, shardID, docID string, data []byte) error
	Get(ctx context.Context, shardID, docID string) ([]byte, error)
	Delete(ctx context.Context, shardID, docID string) error
	Flush(ctx context.Context) error
	Close() error

	// Scan returns a snapshot of every entry currently stored, keyed by
	// the combined "shardID:docID" storage key. Used by the coordinator
	// to answer collection-scoped List/Query, since the tiers themselves
	// have no notion of "collection" — that lives in the decoded record.
	Scan(ctx context.Context) (map[string][]byte, error)
}

// Compactor is implemented by tiers that support background compaction
// (the Archive tier, per §4.C).
type Compactor interface {
	Compact(ctx context.Context) error
}

func storageKey(shardID, docID string) string {
	return fmt.Sprintf("%s:%s", shardID, docID)
}

// wrapIOErr wraps a low-level backend error as errs.ErrIO unless it is
// already a recognized sentinel (e.g. not-found).
func wrapIOErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, errs.ErrNotFound) {
		return err
	}
	return fmt.Errorf("%s: %w: %v", op, errs.ErrIO, err)
}
