// Package sharding distributes documents across cluster nodes using one
// of three interchangeable strategies: consistent hashing with virtual
// nodes, lexicographic range partitioning, or plain modulo hashing.
//
// Grounded on _examples/original_source/aerolithdb-storage/src/sharding.rs's
// ShardingEngine, restructured around the teacher's (cuemby/warren)
// guarded-struct-with-exported-methods concurrency idiom.
package sharding

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cuemby/aerolithdb/pkg/errs"
	"github.com/cuemby/aerolithdb/pkg/hashkey"
)

// Strategy selects the algorithm used to map shard keys to nodes.
type Strategy string

const (
	ConsistentHash Strategy = "ConsistentHash"
	Range          Strategy = "Range"
	Modulo         Strategy = "Modulo"
)

// virtualNodesPerPhysical is the vnode fan-out used by ConsistentHash;
// other strategies use exactly one virtual node per physical node.
const virtualNodesPerPhysical = 150

// VirtualNode is a single ring position.
type VirtualNode struct {
	RingHash     uint64
	PhysicalNode string
	ReplicaIndex uint16
}

// Stats summarizes the current ring for observability.
type Stats struct {
	Strategy      Strategy
	PhysicalNodes int
	VirtualNodes  int
}

// Engine implements the sharding engine described in §4.B. Many readers
// may call the lookup methods concurrently; add/remove node take the
// exclusive lock, and a ring rebuild is atomic from a reader's point of
// view (readers always see either the pre- or post-rebuild ring).
type Engine struct {
	mu            sync.RWMutex
	strategy      Strategy
	bootstrap     bool
	physicalNodes map[string]bool
	ring          []VirtualNode // sorted by RingHash, see rebuild()
}

// NewEngine constructs a sharding engine. bootstrap controls whether an
// empty ring returns the "default_shard" sentinel (bootstrap mode) or
// ErrNoShardAvailable (steady state).
func NewEngine(strategy Strategy, bootstrap bool) *Engine {
	return &Engine{
		strategy:      strategy,
		bootstrap:     bootstrap,
		physicalNodes: make(map[string]bool),
	}
}

// SetBootstrap toggles bootstrap mode, normally called once the cluster
// has committed its first membership change.
func (e *Engine) SetBootstrap(bootstrap bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bootstrap = bootstrap
}

// AddNode inserts virtual nodes for a physical node and rebuilds the
// ring. Idempotent: adding an already-present node is a no-op.
func (e *Engine) AddNode(nodeID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.physicalNodes[nodeID] {
		return
	}
	e.physicalNodes[nodeID] = true
	e.rebuild()
}

// RemoveNode removes all virtual nodes belonging to nodeID, preserving
// ring sortedness and ring-hash uniqueness.
func (e *Engine) RemoveNode(nodeID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.physicalNodes[nodeID] {
		return
	}
	delete(e.physicalNodes, nodeID)
	e.rebuild()
}

// rebuild regenerates the ring from the current physical node set. Must
// be called with e.mu held for writing.
func (e *Engine) rebuild() {
	vnodesPerNode := 1
	if e.strategy == ConsistentHash {
		vnodesPerNode = virtualNodesPerPhysical
	}

	nodes := make([]string, 0, len(e.physicalNodes))
	for id := range e.physicalNodes {
		nodes = append(nodes, id)
	}
	sort.Strings(nodes)

	ring := make([]VirtualNode, 0, len(nodes)*vnodesPerNode)
	for _, nodeID := range nodes {
		for i := 0; i < vnodesPerNode; i++ {
			key := fmt.Sprintf("%s#%d", nodeID, i)
			ring = append(ring, VirtualNode{
				RingHash:     hashkey.Hash64(key),
				PhysicalNode: nodeID,
				ReplicaIndex: uint16(i),
			})
		}
	}

	sort.Slice(ring, func(i, j int) bool {
		if ring[i].RingHash != ring[j].RingHash {
			return ring[i].RingHash < ring[j].RingHash
		}
		if ring[i].PhysicalNode != ring[j].PhysicalNode {
			return ring[i].PhysicalNode < ring[j].PhysicalNode
		}
		return ring[i].ReplicaIndex < ring[j].ReplicaIndex
	})

	e.ring = ring
}

// PrimaryFor returns the node owning the shard for (collection,
// documentID). Deterministic: identical inputs and identical membership
// always yield the same node.
func (e *Engine) PrimaryFor(collection, documentID string) (string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if len(e.ring) == 0 {
		if e.bootstrap {
			return "default_shard", nil
		}
		return "", errs.ErrNoShardAvailable
	}

	switch e.strategy {
	case Range:
		return e.lookupRange(documentID), nil
	case Modulo:
		return e.lookupModulo(collection, documentID), nil
	default: // ConsistentHash
		return e.lookupRing(hashkey.ShardKey(collection, documentID)), nil
	}
}

// lookupRing performs the binary-search-with-wraparound lookup used by
// ConsistentHash: the smallest ring_hash >= key, wrapping to index 0.
func (e *Engine) lookupRing(key uint64) string {
	idx := sort.Search(len(e.ring), func(i int) bool {
		return e.ring[i].RingHash >= key
	})
	if idx == len(e.ring) {
		idx = 0
	}
	return e.ring[idx].PhysicalNode
}

// lookupRange treats the ring as an ordered range table over
// document_id's lexicographic position: find the first vnode whose
// physical node identity sorts >= documentID.
func (e *Engine) lookupRange(documentID string) string {
	idx := sort.Search(len(e.ring), func(i int) bool {
		return e.ring[i].PhysicalNode >= documentID
	})
	if idx == len(e.ring) {
		idx = len(e.ring) - 1
	}
	return e.ring[idx].PhysicalNode
}

func (e *Engine) lookupModulo(collection, documentID string) string {
	key := hashkey.ShardKey(collection, documentID)
	nodes := e.sortedPhysicalNodesLocked()
	return nodes[key%uint64(len(nodes))]
}

func (e *Engine) sortedPhysicalNodesLocked() []string {
	nodes := make([]string, 0, len(e.physicalNodes))
	for id := range e.physicalNodes {
		nodes = append(nodes, id)
	}
	sort.Strings(nodes)
	return nodes
}

// ReplicasFor walks the ring clockwise from the primary's ring position,
// skipping the primary and any physical node already chosen, returning
// exactly R distinct physical node ids. Fails with ErrInsufficientNodes
// when fewer than R+1 distinct physical nodes exist.
func (e *Engine) ReplicasFor(primary string, r int) ([]string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if len(e.physicalNodes) < r+1 {
		return nil, fmt.Errorf("%w: have %d physical nodes, need %d", errs.ErrInsufficientNodes, len(e.physicalNodes), r+1)
	}
	if len(e.ring) == 0 {
		return nil, errs.ErrNoShardAvailable
	}

	// Find the primary's ring position: the first vnode belonging to it.
	startIdx := -1
	for i, vn := range e.ring {
		if vn.PhysicalNode == primary {
			startIdx = i
			break
		}
	}
	if startIdx == -1 {
		// Primary isn't a known node (e.g. "default_shard" sentinel);
		// walk from the start of the ring.
		startIdx = 0
	}

	chosen := make([]string, 0, r)
	seen := map[string]bool{primary: true}
	for i := 1; i <= len(e.ring) && len(chosen) < r; i++ {
		vn := e.ring[(startIdx+i)%len(e.ring)]
		if seen[vn.PhysicalNode] {
			continue
		}
		seen[vn.PhysicalNode] = true
		chosen = append(chosen, vn.PhysicalNode)
	}

	if len(chosen) < r {
		return nil, fmt.Errorf("%w: ring walk only found %d distinct replicas", errs.ErrInsufficientNodes, len(chosen))
	}
	return chosen, nil
}

// PhysicalNodes returns the sorted set of physical node ids currently in
// the ring, for callers (the document coordinator's remote query
// fan-out) that need to enumerate every known node rather than look one
// up.
func (e *Engine) PhysicalNodes() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sortedPhysicalNodesLocked()
}

// Stats returns a snapshot of the current ring for observability.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Stats{
		Strategy:      e.strategy,
		PhysicalNodes: len(e.physicalNodes),
		VirtualNodes:  len(e.ring),
	}
}
