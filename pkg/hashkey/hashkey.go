// Package hashkey provides the Blake3-based hashing primitives shared by
// the sharding engine, tier backends, and Byzantine fault detector.
package hashkey

import (
	"fmt"

	"lukechampine.com/blake3"
)

// Hash64 hashes key with Blake3 and returns the first 8 bytes of the
// digest as a big-endian uint64. This is the ring/shard hash used
// throughout the sharding engine.
func Hash64(key string) uint64 {
	sum := blake3.Sum256([]byte(key))
	return uint64(sum[0])<<56 | uint64(sum[1])<<48 | uint64(sum[2])<<40 | uint64(sum[3])<<32 |
		uint64(sum[4])<<24 | uint64(sum[5])<<16 | uint64(sum[6])<<8 | uint64(sum[7])
}

// ShardKey derives the ring key for a document: "{collection}:{documentID}".
func ShardKey(collection, documentID string) uint64 {
	return Hash64(collection + ":" + documentID)
}

// StorageKey derives the per-tier storage key for a document within a shard.
func StorageKey(shardID, documentID string) string {
	return fmt.Sprintf("%s:%s", shardID, documentID)
}

// Digest256 returns the full 32-byte Blake3 digest of data, used for
// message content hashing in the Byzantine fault detector.
func Digest256(data []byte) [32]byte {
	return blake3.Sum256(data)
}
