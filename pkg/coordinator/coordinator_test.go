package coordinator

import (
	"context"
	"crypto/ed25519"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/aerolithdb/pkg/byzantine"
	"github.com/cuemby/aerolithdb/pkg/consensus"
	"github.com/cuemby/aerolithdb/pkg/docmodel"
	"github.com/cuemby/aerolithdb/pkg/errs"
	"github.com/cuemby/aerolithdb/pkg/query"
	"github.com/cuemby/aerolithdb/pkg/rpc"
	"github.com/cuemby/aerolithdb/pkg/sharding"
	"github.com/cuemby/aerolithdb/pkg/storage"
	"github.com/hashicorp/raft"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
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

// newTestCoordinator wires a real single-node RaftBinding (so Put/Delete
// genuinely flow through consensus and the FSM, not a stand-in), a real
// TierCoordinator, and a single-physical-node sharding engine.
func newTestCoordinator(t *testing.T, peers PeerDialer) *Coordinator {
	t.Helper()

	tiers, err := storage.NewTierCoordinator(storage.Config{
		DataDir:           t.TempDir(),
		PropagateQueueCap: 16,
	}, zerolog.Nop())
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

	return New(Config{
		SelfNodeID:        "node-1",
		ReplicationFactor: 1,
		ProposalTimeout:   2 * time.Second,
	}, shard, tiers, binding, byz, peers, zerolog.Nop())
}

func docObj(fields map[string]docmodel.Document) docmodel.Document {
	return docmodel.MapVal(fields)
}

func TestCoordinatorPutThenGet(t *testing.T) {
	c := newTestCoordinator(t, nil)
	ctx := context.Background()

	doc := docObj(map[string]docmodel.Document{"name": docmodel.StringVal("ada")})
	version, err := c.Put(ctx, "users", "u1", doc)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), version)

	got, gotVersion, created, updated, err := c.Get(ctx, "users", "u1")
	require.NoError(t, err)
	assert.True(t, doc.Equal(got))
	assert.Equal(t, uint64(1), gotVersion)
	assert.False(t, created.IsZero())
	assert.False(t, updated.IsZero())
}

func TestCoordinatorGetMissingReturnsNotFound(t *testing.T) {
	c := newTestCoordinator(t, nil)
	_, _, _, _, err := c.Get(context.Background(), "users", "missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

// TestCoordinatorConcurrentPutsExactlyOneWins covers §8 scenario 2:
// two concurrent puts on the same initial version race through
// consensus; exactly one commits version 2, the other observes
// ErrAborted because its internally-derived expected_version no longer
// matches by the time its proposal applies.
func TestCoordinatorConcurrentPutsExactlyOneWins(t *testing.T) {
	c := newTestCoordinator(t, nil)
	ctx := context.Background()

	_, err := c.Put(ctx, "users", "u1", docObj(map[string]docmodel.Document{"v": docmodel.IntVal(1)}))
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]error, 2)
	ready := make(chan struct{})
	for i := 0; i < 2; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-ready
			_, results[i] = c.Put(ctx, "users", "u1", docObj(map[string]docmodel.Document{"v": docmodel.IntVal(int64(i + 2))}))
		}()
	}
	close(ready)
	wg.Wait()

	successes, aborts := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, errs.ErrAborted):
			aborts++
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, aborts)
}

func TestCoordinatorPutPreservesCreatedAtAcrossUpdates(t *testing.T) {
	c := newTestCoordinator(t, nil)
	ctx := context.Background()

	_, err := c.Put(ctx, "users", "u1", docObj(map[string]docmodel.Document{"v": docmodel.IntVal(1)}))
	require.NoError(t, err)
	_, _, firstCreated, _, err := c.Get(ctx, "users", "u1")
	require.NoError(t, err)

	_, err = c.Put(ctx, "users", "u1", docObj(map[string]docmodel.Document{"v": docmodel.IntVal(2)}))
	require.NoError(t, err)
	_, version, secondCreated, _, err := c.Get(ctx, "users", "u1")
	require.NoError(t, err)

	assert.Equal(t, uint64(2), version)
	assert.True(t, firstCreated.Equal(secondCreated))
}

func TestCoordinatorDeleteThenGetNotFound(t *testing.T) {
	c := newTestCoordinator(t, nil)
	ctx := context.Background()

	_, err := c.Put(ctx, "users", "u1", docObj(map[string]docmodel.Document{"v": docmodel.IntVal(1)}))
	require.NoError(t, err)

	require.NoError(t, c.Delete(ctx, "users", "u1"))

	_, _, _, _, err = c.Get(ctx, "users", "u1")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestCoordinatorListReturnsOnlyMatchingCollection(t *testing.T) {
	c := newTestCoordinator(t, nil)
	ctx := context.Background()

	_, err := c.Put(ctx, "users", "u1", docObj(map[string]docmodel.Document{"v": docmodel.IntVal(1)}))
	require.NoError(t, err)
	_, err = c.Put(ctx, "orders", "o1", docObj(map[string]docmodel.Document{"v": docmodel.IntVal(1)}))
	require.NoError(t, err)

	docs, total, err := c.List(ctx, "users", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), total)
	assert.Len(t, docs, 1)
}

func TestCoordinatorQueryFiltersSortsAndPaginates(t *testing.T) {
	c := newTestCoordinator(t, nil)
	ctx := context.Background()

	for i, age := range []int64{30, 25, 40} {
		doc := docObj(map[string]docmodel.Document{"age": docmodel.IntVal(age)})
		_, err := c.Put(ctx, "users", string(rune('a'+i)), doc)
		require.NoError(t, err)
	}

	filter := docObj(map[string]docmodel.Document{
		"age": docobjGTE(20),
	})
	sortSpec := query.Sort{{Field: "age", Descending: false}}
	limit := uint64(2)

	docs, total, err := c.Query(ctx, "users", filter, &sortSpec, nil, &limit)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), total)
	require.Len(t, docs, 2)
	assert.Equal(t, int64(25), docs[0].Get("age").Int)
	assert.Equal(t, int64(30), docs[1].Get("age").Int)
}

func docobjGTE(n int64) docmodel.Document {
	return docmodel.MapVal(map[string]docmodel.Document{"$gte": docmodel.IntVal(n)})
}

func TestCoordinatorStatsReportsShardAndReplicationInfo(t *testing.T) {
	c := newTestCoordinator(t, nil)
	stats := c.Stats()
	assert.Equal(t, 1, stats.ShardCount)
	assert.Equal(t, 1, stats.ReplicationFactor)
	assert.Equal(t, 0, stats.SuspectedNodes)
}

// inProcessQueryClient adapts a rpc.QueryHandler directly into a
// rpc.QueryServiceClient, so a test can exercise the coordinator's
// remote fan-out and merge-by-highest-version logic against another
// real Coordinator's handler without a network hop.
type inProcessQueryClient struct {
	handler rpc.QueryHandler
}

func (c *inProcessQueryClient) Query(ctx context.Context, req *rpc.QueryRequest, _ ...grpc.CallOption) (*rpc.QueryResponse, error) {
	return c.handler.Query(ctx, req)
}

type fakeDialer struct {
	client rpc.QueryServiceClient
}

func (f *fakeDialer) Dial(_ context.Context, _ string) (rpc.QueryServiceClient, error) {
	return f.client, nil
}

func TestCoordinatorQueryMergesRemoteResultsByHighestVersion(t *testing.T) {
	remote := newTestCoordinator(t, nil)
	local := newTestCoordinator(t, &fakeDialer{client: &inProcessQueryClient{handler: remote.RPCHandler()}})
	local.shard.AddNode("node-2")

	ctx := context.Background()
	_, err := local.Put(ctx, "users", "u1", docObj(map[string]docmodel.Document{"age": docmodel.IntVal(1)}))
	require.NoError(t, err)

	// The remote node holds a newer version of the same document that
	// this node hasn't applied locally.
	_, err = remote.Put(ctx, "users", "u1", docObj(map[string]docmodel.Document{"age": docmodel.IntVal(1)}))
	require.NoError(t, err)
	_, err = remote.Put(ctx, "users", "u1", docObj(map[string]docmodel.Document{"age": docmodel.IntVal(99)}))
	require.NoError(t, err)

	matchAll := docmodel.MapVal(map[string]docmodel.Document{})
	docs, total, err := local.Query(ctx, "users", matchAll, nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(1), total)
	require.Len(t, docs, 1)
	assert.Equal(t, int64(99), docs[0].Get("age").Int)
}

// newSignedTestCoordinator is newTestCoordinator plus a Signer, so its
// outbound fan-out requests carry a real SenderNodeID/Nonce/Signature
// and its inbound handler actually runs byz.ValidateMessage instead of
// skipping validation.
func newSignedTestCoordinator(t *testing.T, peers PeerDialer, signer ed25519.PrivateKey) *Coordinator {
	t.Helper()

	tiers, err := storage.NewTierCoordinator(storage.Config{
		DataDir:           t.TempDir(),
		PropagateQueueCap: 16,
	}, zerolog.Nop())
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

	return New(Config{
		SelfNodeID:        "node-1",
		ReplicationFactor: 1,
		ProposalTimeout:   2 * time.Second,
		Signer:            signer,
	}, shard, tiers, binding, byz, peers, zerolog.Nop())
}

// TestCoordinatorQueryFanOutSignsAndValidatesRequests covers §4.H/§6's
// "signature and replay checks are mandatory at receive time" for the
// query fan-out path: a signed requester's nonce-and-signature pair
// validates against the registered public key, and the remote node
// answers normally.
func TestCoordinatorQueryFanOutSignsAndValidatesRequests(t *testing.T) {
	remotePub, remotePriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	_ = remotePub

	localPub, localPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	remote := newSignedTestCoordinator(t, nil, remotePriv)
	remote.byz.RegisterPublicKey("node-1", localPub)

	local := newSignedTestCoordinator(t, &fakeDialer{client: &inProcessQueryClient{handler: remote.RPCHandler()}}, localPriv)
	local.shard.AddNode("node-2")

	ctx := context.Background()
	_, err = local.Put(ctx, "users", "u1", docObj(map[string]docmodel.Document{"age": docmodel.IntVal(1)}))
	require.NoError(t, err)
	// The remote copy is written twice, so its version (2) is newer than
	// the local copy's (1) and wins the merge.
	_, err = remote.Put(ctx, "users", "u1", docObj(map[string]docmodel.Document{"age": docmodel.IntVal(1)}))
	require.NoError(t, err)
	_, err = remote.Put(ctx, "users", "u1", docObj(map[string]docmodel.Document{"age": docmodel.IntVal(7)}))
	require.NoError(t, err)

	matchAll := docmodel.MapVal(map[string]docmodel.Document{})
	docs, total, err := local.Query(ctx, "users", matchAll, nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(1), total)
	require.Len(t, docs, 1)
	assert.Equal(t, int64(7), docs[0].Get("age").Int, "remote's signed response was accepted and merged")
}

// TestCoordinatorQueryFanOutRejectsUnregisteredSigner covers the
// rejection side: the remote node has never registered the caller's
// public key, so ValidateMessage fails closed and the fan-out returns
// no records for that peer rather than trusting an unauthenticated
// sender.
func TestCoordinatorQueryFanOutRejectsUnregisteredSigner(t *testing.T) {
	_, remotePriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	_, localPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	remote := newSignedTestCoordinator(t, nil, remotePriv)
	// Deliberately skip remote.byz.RegisterPublicKey for "node-1".

	local := newSignedTestCoordinator(t, &fakeDialer{client: &inProcessQueryClient{handler: remote.RPCHandler()}}, localPriv)
	local.shard.AddNode("node-2")

	ctx := context.Background()
	_, err = remote.Put(ctx, "users", "u1", docObj(map[string]docmodel.Document{"age": docmodel.IntVal(7)}))
	require.NoError(t, err)

	matchAll := docmodel.MapVal(map[string]docmodel.Document{})
	docs, total, err := local.Query(ctx, "users", matchAll, nil, nil, nil)
	require.NoError(t, err, "fan-out failures are logged and swallowed, not surfaced as a Query error")
	assert.Equal(t, uint64(0), total)
	assert.Empty(t, docs)
}
