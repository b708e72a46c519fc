// Package integration exercises spec.md §8's six end-to-end scenarios
// against real wiring of every package (sharding, storage, consensus,
// byzantine, coordinator) — no mocks, the same shape as
// pkg/consensus/raft_binding_test.go's newSingleNodeBinding helper but
// threaded all the way up through coordinator.Coordinator, and extended
// to a real multi-node Raft cluster for the Byzantine-recovery scenario.
package integration

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/aerolithdb/pkg/byzantine"
	"github.com/cuemby/aerolithdb/pkg/consensus"
	"github.com/cuemby/aerolithdb/pkg/coordinator"
	"github.com/cuemby/aerolithdb/pkg/docmodel"
	"github.com/cuemby/aerolithdb/pkg/errs"
	"github.com/cuemby/aerolithdb/pkg/query"
	"github.com/cuemby/aerolithdb/pkg/sharding"
	"github.com/cuemby/aerolithdb/pkg/storage"
	"github.com/hashicorp/raft"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freeTCPAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func waitForLeader(t *testing.T, b *consensus.RaftBinding) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if b.IsLeader() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.Fail(t, "node never became leader")
}

type node struct {
	id      string
	addr    string
	tiers   *storage.TierCoordinator
	binding *consensus.RaftBinding
	coord   *coordinator.Coordinator
}

// singleNode builds one fully-wired node with its own single-node Raft
// cluster, the shape every §8 scenario except Byzantine recovery needs.
func singleNode(t *testing.T) *node {
	t.Helper()

	tiers, err := storage.NewTierCoordinator(storage.Config{DataDir: t.TempDir()}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = tiers.Close() })

	addr := freeTCPAddr(t)
	binding, err := consensus.NewRaftBinding(consensus.Config{
		NodeID:   "node-1",
		BindAddr: addr,
		DataDir:  t.TempDir(),
	}, tiers, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = binding.Shutdown() })
	require.NoError(t, binding.Bootstrap(raft.ServerAddress(addr)))
	waitForLeader(t, binding)

	shard := sharding.NewEngine(sharding.ConsistentHash, false)
	shard.AddNode("node-1")

	byz := byzantine.New(0.33, binding, zerolog.Nop())

	coord := coordinator.New(coordinator.Config{
		SelfNodeID:        "node-1",
		ReplicationFactor: 1,
		ProposalTimeout:   2 * time.Second,
	}, shard, tiers, binding, byz, nil, zerolog.Nop())

	return &node{id: "node-1", addr: addr, tiers: tiers, binding: binding, coord: coord}
}

func doc(fields map[string]docmodel.Document) docmodel.Document {
	return docmodel.MapVal(fields)
}

// Scenario 1: put-then-get.
func TestScenarioPutThenGet(t *testing.T) {
	n := singleNode(t)
	ctx := context.Background()

	version, err := n.coord.Put(ctx, "users", "u1", doc(map[string]docmodel.Document{
		"name": docmodel.StringVal("Alice"),
		"age":  docmodel.IntVal(30),
	}))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), version)

	got, gotVersion, _, _, err := n.coord.Get(ctx, "users", "u1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), gotVersion)
	assert.Equal(t, "Alice", got.Get("name").Str)
	assert.Equal(t, int64(30), got.Get("age").Int)
}

// Scenario 2: two concurrent puts starting from the same version; exactly
// one commits version 2, the other observes ErrAborted.
func TestScenarioConflictingPut(t *testing.T) {
	n := singleNode(t)
	ctx := context.Background()

	_, err := n.coord.Put(ctx, "users", "u1", doc(map[string]docmodel.Document{"age": docmodel.IntVal(1)}))
	require.NoError(t, err)

	var wg sync.WaitGroup
	versions := make([]uint64, 2)
	errs2 := make([]error, 2)
	ready := make(chan struct{})
	for i := 0; i < 2; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-ready
			versions[i], errs2[i] = n.coord.Put(ctx, "users", "u1", doc(map[string]docmodel.Document{"age": docmodel.IntVal(int64(i + 2))}))
		}()
	}
	close(ready)
	wg.Wait()

	oks, aborts := 0, 0
	for i, err := range errs2 {
		switch {
		case err == nil:
			oks++
			assert.Equal(t, uint64(2), versions[i])
		case errors.Is(err, errs.ErrAborted):
			aborts++
		}
	}
	assert.Equal(t, 1, oks)
	assert.Equal(t, 1, aborts)
}

// Scenario 3: filter matches exactly the documents the operator
// semantics predict.
func TestScenarioFilter(t *testing.T) {
	n := singleNode(t)
	ctx := context.Background()

	ages := []int64{25, 30, 35}
	for i, age := range ages {
		_, err := n.coord.Put(ctx, "users", string(rune('a'+i)), doc(map[string]docmodel.Document{"age": docmodel.IntVal(age)}))
		require.NoError(t, err)
	}

	filter := doc(map[string]docmodel.Document{
		"age": doc(map[string]docmodel.Document{"$gt": docmodel.IntVal(28)}),
	})
	docs, total, err := n.coord.Query(ctx, "users", filter, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), total)
	require.Len(t, docs, 2)
	for _, d := range docs {
		assert.Greater(t, d.Get("age").Int, int64(28))
	}
}

// Scenario 4: sort ascending by n, offset 1, limit 1 returns exactly
// [{n:"B"}] from input order [C, A, B].
func TestScenarioSortAndPaginate(t *testing.T) {
	n := singleNode(t)
	ctx := context.Background()

	for i, name := range []string{"C", "A", "B"} {
		_, err := n.coord.Put(ctx, "items", string(rune('a'+i)), doc(map[string]docmodel.Document{"n": docmodel.StringVal(name)}))
		require.NoError(t, err)
	}

	sortSpec := query.Sort{{Field: "n", Descending: false}}
	offset, limit := uint64(1), uint64(1)
	matchAll := doc(map[string]docmodel.Document{})
	docs, total, err := n.coord.Query(ctx, "items", matchAll, &sortSpec, &offset, &limit)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), total)
	require.Len(t, docs, 1)
	assert.Equal(t, "B", docs[0].Get("n").Str)
}

// Scenario 5: delete-then-get.
func TestScenarioDeleteThenGet(t *testing.T) {
	n := singleNode(t)
	ctx := context.Background()

	_, err := n.coord.Put(ctx, "users", "u1", doc(map[string]docmodel.Document{"v": docmodel.IntVal(1)}))
	require.NoError(t, err)
	require.NoError(t, n.coord.Delete(ctx, "users", "u1"))

	_, _, _, _, err = n.coord.Get(ctx, "users", "u1")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

// buildFourNodeCluster bootstraps a real 4-voter Raft cluster: node 0
// bootstraps alone, then adds the other three as voters once each has
// its own transport listening.
func buildFourNodeCluster(t *testing.T) []*node {
	t.Helper()

	const n = 4
	nodes := make([]*node, n)
	for i := 0; i < n; i++ {
		tiers, err := storage.NewTierCoordinator(storage.Config{DataDir: t.TempDir()}, zerolog.Nop())
		require.NoError(t, err)
		t.Cleanup(func() { _ = tiers.Close() })

		addr := freeTCPAddr(t)
		nodeID := string(rune('a' + i))
		binding, err := consensus.NewRaftBinding(consensus.Config{
			NodeID:   nodeID,
			BindAddr: addr,
			DataDir:  t.TempDir(),
		}, tiers, zerolog.Nop())
		require.NoError(t, err)
		t.Cleanup(func() { _ = binding.Shutdown() })

		nodes[i] = &node{id: nodeID, addr: addr, tiers: tiers, binding: binding}
	}

	require.NoError(t, nodes[0].binding.Bootstrap(raft.ServerAddress(nodes[0].addr)))
	waitForLeader(t, nodes[0].binding)
	for i := 1; i < n; i++ {
		require.NoError(t, nodes[0].binding.AddVoter(nodes[i].id, nodes[i].addr))
	}

	shard := sharding.NewEngine(sharding.ConsistentHash, false)
	for _, nd := range nodes {
		shard.AddNode(nd.id)
	}

	for _, nd := range nodes {
		byz := byzantine.New(0.33, nd.binding, zerolog.Nop())
		nd.coord = coordinator.New(coordinator.Config{
			SelfNodeID:        nd.id,
			ReplicationFactor: n,
			ProposalTimeout:   2 * time.Second,
		}, shard, nd.tiers, nd.binding, byz, nil, zerolog.Nop())
	}

	// give the new voters time to catch up on the log before any test
	// proposes against them.
	time.Sleep(200 * time.Millisecond)
	return nodes
}

// Scenario 6: in a 4-node cluster (tolerance 0.33), repeatedly reporting
// InvalidSignature faults from 2 nodes suspects both and drives the
// node-isolation recovery strategy, which calls RemoveServer against the
// real Raft voter configuration on the leader's own binding — removing
// the faulty nodes from the cluster for real rather than merely flagging
// them. The surviving 2-member voter set (nodes[0], nodes[1]) still
// forms its own quorum, so writes keep succeeding afterward; that's the
// observable proof recovery actually ran, not just that it was "due".
//
// nodes[0] is the bootstrap node and stays leader throughout.
func TestScenarioByzantineRecovery(t *testing.T) {
	nodes := buildFourNodeCluster(t)
	leader := nodes[0]
	ctx := context.Background()

	_, err := leader.coord.Put(ctx, "users", "u1", doc(map[string]docmodel.Document{"v": docmodel.IntVal(1)}))
	require.NoError(t, err, "writes succeed with a full 4-node quorum")

	byz := byzantine.New(0.33, leader.binding, zerolog.Nop())
	faulty := []string{nodes[2].id, nodes[3].id}
	for _, id := range faulty {
		for i := 0; i < 10; i++ {
			byz.ReportFault(ctx, byzantine.InvalidSignatureFault{Node: id})
		}
	}
	for _, id := range faulty {
		assert.True(t, byz.IsNodeSuspected(id), "node %s should be suspected", id)
	}
	assert.Equal(t, 2, len(byz.SuspectedNodes()))
	assert.InDelta(t, 0.5, float64(len(byz.SuspectedNodes()))/float64(len(nodes)), 1e-9, "suspected/total exceeds the 0.33 tolerance, recovery should have fired")

	// Recovery already ran for real above, inside ReportFault: the
	// suspected nodes were removed from the Raft voter set as soon as
	// each crossed suspicion. Shut down their transports too, simulating
	// them actually leaving, and confirm the remaining 2-of-2 voters
	// (nodes[0], nodes[1]) keep accepting writes without them.
	for _, id := range faulty {
		for _, nd := range nodes {
			if nd.id == id {
				require.NoError(t, nd.binding.Shutdown())
			}
		}
	}

	_, err = leader.coord.Put(ctx, "users", "u2", doc(map[string]docmodel.Document{"v": docmodel.IntVal(1)}))
	assert.NoError(t, err, "recovery removed the faulty nodes from the voter set, leaving a healthy 2-of-2 quorum")
}
