// Package coordinator implements §4.I's document coordinator: the
// single entry point that wires sharding, tiered storage, consensus,
// Byzantine tolerance, and the query evaluator into the five document
// operations (Put, Get, Delete, Query, List) plus the Stats contract
// spec.md §6 names as the one read-only surface an out-of-scope
// CLI/TUI would consume.
//
// Grounded on pkg/manager.Manager: one big struct constructed once and
// threaded through everything else, owning (not merely referencing)
// every subordinate component. Put/Delete follow
// Manager.CreateNode/UpdateNode/DeleteNode's marshal-into-a-Command,
// propose-via-consensus, await-the-typed-response shape; Get/List
// follow the teacher's local-read-from-store shape, generalized to read
// through the tier coordinator instead of directly from one store;
// Query additionally fans out to every other known node the way
// pkg/client.Client is used elsewhere in Warren for manager-to-manager
// RPC, here over pkg/rpc's QueryService.
package coordinator

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/aerolithdb/pkg/byzantine"
	"github.com/cuemby/aerolithdb/pkg/consensus"
	"github.com/cuemby/aerolithdb/pkg/docmodel"
	"github.com/cuemby/aerolithdb/pkg/errs"
	"github.com/cuemby/aerolithdb/pkg/metrics"
	"github.com/cuemby/aerolithdb/pkg/query"
	"github.com/cuemby/aerolithdb/pkg/rpc"
	"github.com/cuemby/aerolithdb/pkg/sharding"
	"github.com/cuemby/aerolithdb/pkg/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// PeerDialer resolves a cluster node id to a client for that node's
// inbound QueryService, so the coordinator's remote fan-out never deals
// with addresses or a grpc.ClientConn directly. cmd/aerolithdb supplies
// the concrete implementation, backed by pkg/rpc.Dial and the cluster's
// membership list; tests supply an in-process fake.
type PeerDialer interface {
	Dial(ctx context.Context, nodeID string) (rpc.QueryServiceClient, error)
}

// Config bounds the coordinator's behavior.
type Config struct {
	SelfNodeID        string
	ReplicationFactor int
	ProposalTimeout   time.Duration

	// Signer, when set, signs every outbound query fan-out request with
	// this node's Ed25519 identity (spec.md §6's "all messages are
	// authenticated with node signatures"), and the receiving node's
	// Coordinator runs the matching validation pass via its own
	// byzantine.Tolerance. Nil disables both sides — single-node
	// deployments and most tests have no peers to authenticate to.
	Signer ed25519.PrivateKey
}

// Stats is the read-only observability surface of §6: the one thing an
// out-of-scope CLI/TUI was named as consuming.
type Stats struct {
	L1HitRate         float64
	ShardCount        int
	ReplicationFactor int
	SuspectedNodes    int
	NetworkHealth     float64
}

// Coordinator is the single entry point for document operations.
type Coordinator struct {
	cfg       Config
	shard     *sharding.Engine
	tiers     *storage.TierCoordinator
	consensus consensus.Binding
	byz       *byzantine.Tolerance
	peers     PeerDialer
	logger    zerolog.Logger
}

// New constructs a Coordinator. peers may be nil, in which case Query
// never fans out and answers only from local storage (a single-node
// deployment, or bootstrap-mode tests).
func New(cfg Config, shard *sharding.Engine, tiers *storage.TierCoordinator, binding consensus.Binding, byz *byzantine.Tolerance, peers PeerDialer, logger zerolog.Logger) *Coordinator {
	if cfg.ProposalTimeout <= 0 {
		cfg.ProposalTimeout = 5 * time.Second
	}
	return &Coordinator{
		cfg:       cfg,
		shard:     shard,
		tiers:     tiers,
		consensus: binding,
		byz:       byz,
		peers:     peers,
		logger:    logger,
	}
}

// shardKey combines the sharding engine's node assignment with the
// collection name into the opaque storage namespace the lower layers
// (tiers, consensus) call "shard_id". This is deliberate: PrimaryFor
// alone returns a physical node id, shared by every collection routed
// to that node, so using it bare as the storage key's shard component
// would let two collections' documents collide whenever they happen to
// share a document_id on the same node. Folding the collection in here
// — the one layer that understands both the routing decision and the
// document identity — keeps that namespace collision-free without
// requiring storage or consensus to know what a "collection" is.
func (c *Coordinator) shardKey(collection, docID string) (string, error) {
	node, err := c.shard.PrimaryFor(collection, docID)
	if err != nil {
		return "", err
	}
	return node + "/" + collection, nil
}

// Put creates or updates a document, routing the write through
// consensus so every voter's tier coordinator applies it in the same
// order.
func (c *Coordinator) Put(ctx context.Context, collection, docID string, data docmodel.Document) (uint64, error) {
	if err := docmodel.ValidateCollection(collection); err != nil {
		return 0, fmt.Errorf("%w: %v", errs.ErrValidation, err)
	}
	if err := docmodel.ValidateDocumentID(docID); err != nil {
		return 0, fmt.Errorf("%w: %v", errs.ErrValidation, err)
	}
	if err := data.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %v", errs.ErrValidation, err)
	}

	shardID, err := c.shardKey(collection, docID)
	if err != nil {
		return 0, err
	}

	// expected_version is never caller-supplied (§4.I): the coordinator
	// reads the document's current version itself and proposes that as
	// the CAS guard, so two concurrent puts starting from the same
	// observed version race through consensus and exactly one wins,
	// the other getting ErrAborted (§8 scenario 2). The FSM stores
	// whatever bytes it's handed unmodified — it has no notion of
	// docmodel.Record, only opaque payloads — so the version and
	// timestamps embedded in the proposed record have to be correct
	// *before* proposing, not patched in afterward; that's only safe
	// because this same expected_version guards the FSM's apply, so a
	// stale guess can never actually get persisted.
	existing, err := c.localLookup(ctx, shardID, docID)
	if err != nil {
		return 0, err
	}

	current := uint64(0)
	if existing != nil {
		current = existing.Version
	}

	now := time.Now()
	rec := docmodel.Record{
		Collection: collection,
		DocumentID: docID,
		Data:       data,
		Version:    current + 1,
		UpdatedAt:  now,
	}
	if existing != nil {
		rec.CreatedAt = existing.CreatedAt
	} else {
		rec.CreatedAt = now
	}

	encoded, err := docmodel.Encode(rec)
	if err != nil {
		return 0, fmt.Errorf("encode record: %w", err)
	}

	return c.propose(ctx, consensus.Command{
		Op:              consensus.OpPut,
		ShardID:         shardID,
		Collection:      collection,
		DocID:           docID,
		Data:            encoded,
		ExpectedVersion: &current,
	})
}

// Get reads a single document straight from local tiered storage — no
// consensus round-trip, since every voter's tiers already converge via
// the Raft log.
func (c *Coordinator) Get(ctx context.Context, collection, docID string) (docmodel.Document, uint64, time.Time, time.Time, error) {
	var zero docmodel.Document

	if err := docmodel.ValidateCollection(collection); err != nil {
		return zero, 0, time.Time{}, time.Time{}, fmt.Errorf("%w: %v", errs.ErrValidation, err)
	}

	shardID, err := c.shardKey(collection, docID)
	if err != nil {
		return zero, 0, time.Time{}, time.Time{}, err
	}

	data, err := c.tiers.Get(ctx, shardID, docID)
	if err != nil {
		metrics.DocumentOpsTotal.WithLabelValues("get", "not_found").Inc()
		return zero, 0, time.Time{}, time.Time{}, err
	}

	rec, err := docmodel.Decode(data)
	if err != nil {
		return zero, 0, time.Time{}, time.Time{}, fmt.Errorf("decode record: %w", err)
	}

	metrics.DocumentOpsTotal.WithLabelValues("get", "hit").Inc()
	return rec.Data, rec.Version, rec.CreatedAt, rec.UpdatedAt, nil
}

// Delete removes a document. Like Put, the CAS guard is derived from
// this node's own local read rather than caller-supplied; deleting a
// document that doesn't exist locally is ErrNotFound rather than a
// silent no-op (§4.I).
func (c *Coordinator) Delete(ctx context.Context, collection, docID string) error {
	if err := docmodel.ValidateCollection(collection); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrValidation, err)
	}

	shardID, err := c.shardKey(collection, docID)
	if err != nil {
		return err
	}

	existing, err := c.localLookup(ctx, shardID, docID)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("%s/%s: %w", collection, docID, errs.ErrNotFound)
	}

	current := existing.Version
	_, err = c.propose(ctx, consensus.Command{
		Op:              consensus.OpDelete,
		ShardID:         shardID,
		Collection:      collection,
		DocID:           docID,
		ExpectedVersion: &current,
	})
	return err
}

// List returns every document in collection, paginated, without
// filtering or sorting — the degenerate case of Query.
func (c *Coordinator) List(ctx context.Context, collection string, offset, limit *uint64) ([]docmodel.Document, uint64, error) {
	if err := docmodel.ValidateCollection(collection); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", errs.ErrValidation, err)
	}

	recs, err := c.localRecords(collection)
	if err != nil {
		return nil, 0, err
	}

	docs := recordsToDocs(recs)
	total := uint64(len(docs))
	return query.Paginate(docs, offset, limit), total, nil
}

// Query evaluates filter against collection, merging this node's local
// matches with every peer's, then sorts and paginates the merged set
// locally. Every node in this deployment already holds a full replica
// via the single cluster-wide Raft log (see DESIGN.md), so the fan-out
// is mostly redundant for correctness today — it stays wired because
// partial-replication topologies are an explicit future direction this
// contract already accommodates, and because it is the one concrete
// consumer of pkg/rpc.
func (c *Coordinator) Query(ctx context.Context, collection string, filter query.Filter, sort *query.Sort, offset, limit *uint64) ([]docmodel.Document, uint64, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.QueryDuration, collection)

	if err := docmodel.ValidateCollection(collection); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", errs.ErrValidation, err)
	}

	merged, err := c.mergedRecords(ctx, collection, filter)
	if err != nil {
		return nil, 0, err
	}

	docs := recordsToDocs(merged)
	total := uint64(len(docs))
	if sort != nil {
		query.SortDocuments(docs, *sort)
	}
	return query.Paginate(docs, offset, limit), total, nil
}

// RPCHandler returns the rpc.QueryHandler this coordinator answers
// inbound peer fan-out requests with. cmd/aerolithdb registers it on
// the node's rpc.Server.
func (c *Coordinator) RPCHandler() rpc.QueryHandler {
	return &queryRPCHandler{c: c}
}

// Stats snapshots the coordinator's observability surface.
func (c *Coordinator) Stats() Stats {
	shardStats := c.shard.Stats()
	tierStats := c.tiers.Stats()

	suspected := 0
	health := 1.0
	if c.byz != nil {
		suspected = len(c.byz.SuspectedNodes())
		health = c.byz.NetworkHealth()
	}

	return Stats{
		L1HitRate:         hitRate(tierStats.L1),
		ShardCount:        shardStats.PhysicalNodes,
		ReplicationFactor: c.cfg.ReplicationFactor,
		SuspectedNodes:    suspected,
		NetworkHealth:     health,
	}
}

func (c *Coordinator) propose(ctx context.Context, cmd consensus.Command) (uint64, error) {
	id, err := c.consensus.Propose(ctx, cmd)
	if err != nil {
		metrics.DocumentOpsTotal.WithLabelValues(string(cmd.Op), "propose_error").Inc()
		return 0, fmt.Errorf("propose: %w", err)
	}

	timer := metrics.NewTimer()
	_, version, err := c.consensus.AwaitCommit(ctx, id, time.Now().Add(c.cfg.ProposalTimeout))
	timer.ObserveDuration(metrics.ProposalDuration)

	outcome := "committed"
	switch {
	case errors.Is(err, errs.ErrTimeout):
		outcome = "timeout"
		err = fmt.Errorf("%w", errs.ErrNoQuorum)
	case errors.Is(err, errs.ErrAborted):
		outcome = "aborted"
	case err != nil:
		outcome = "error"
	}
	metrics.ProposalsTotal.WithLabelValues(outcome).Inc()
	metrics.DocumentOpsTotal.WithLabelValues(string(cmd.Op), outcome).Inc()
	return version, err
}

// localLookup returns the currently-stored record at (shardID, docID),
// or nil if none exists.
func (c *Coordinator) localLookup(ctx context.Context, shardID, docID string) (*docmodel.Record, error) {
	data, err := c.tiers.Get(ctx, shardID, docID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	rec, err := docmodel.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode existing record: %w", err)
	}
	return &rec, nil
}

// localRecords scans every entry this node holds locally and returns
// those belonging to collection. The tiers have no notion of
// "collection" — that's only known once a record is decoded — so this
// always pays the cost of a full local scan plus a decode per entry.
func (c *Coordinator) localRecords(collection string) ([]docmodel.Record, error) {
	raw, err := c.tiers.Scan(context.Background())
	if err != nil {
		return nil, err
	}

	out := make([]docmodel.Record, 0, len(raw))
	for _, data := range raw {
		rec, err := docmodel.Decode(data)
		if err != nil {
			c.logger.Warn().Err(err).Msg("skipping undecodable entry during local scan")
			continue
		}
		if rec.Collection == collection {
			out = append(out, rec)
		}
	}
	return out, nil
}

// mergedRecords combines this node's locally-matching records with
// every peer's, deduplicating by document_id and keeping the
// highest-versioned copy on conflict.
func (c *Coordinator) mergedRecords(ctx context.Context, collection string, filter query.Filter) ([]docmodel.Record, error) {
	local, err := c.localRecords(collection)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]docmodel.Record, len(local))
	for _, rec := range local {
		if query.Matches(rec.Data, filter) {
			merged[rec.DocumentID] = rec
		}
	}

	for _, remote := range c.fanOutQuery(ctx, collection, filter) {
		if existing, ok := merged[remote.DocumentID]; !ok || remote.Version > existing.Version {
			merged[remote.DocumentID] = remote
		}
	}

	out := make([]docmodel.Record, 0, len(merged))
	for _, rec := range merged {
		out = append(out, rec)
	}
	return out, nil
}

// fanOutQuery asks every other known node for its locally-matching
// records. Failures to reach an individual peer are logged and
// otherwise swallowed — a partial result beats failing the whole query
// over one unreachable node, consistent with §5's cooperative-
// cancellation framing rather than an all-or-nothing barrier.
func (c *Coordinator) fanOutQuery(ctx context.Context, collection string, filter query.Filter) []docmodel.Record {
	if c.peers == nil {
		return nil
	}

	filterJSON, err := docmodel.MarshalFilterJSON(filter)
	if err != nil {
		c.logger.Warn().Err(err).Msg("query fan-out: failed to encode filter")
		return nil
	}

	req := &rpc.QueryRequest{Collection: collection, FilterJSON: filterJSON}
	if c.cfg.Signer != nil {
		req.SenderNodeID = c.cfg.SelfNodeID
		req.Nonce = uuid.New().String()
		req.Signature = ed25519.Sign(c.cfg.Signer, signedQueryMessage(req.Collection, req.FilterJSON, req.Nonce))
	}

	var out []docmodel.Record
	for _, nodeID := range c.shard.PhysicalNodes() {
		if nodeID == c.cfg.SelfNodeID {
			continue
		}

		client, err := c.peers.Dial(ctx, nodeID)
		if err != nil {
			c.logger.Warn().Err(err).Str("node_id", nodeID).Msg("query fan-out: dial failed")
			continue
		}

		resp, err := client.Query(ctx, req)
		if err != nil {
			c.logger.Warn().Err(err).Str("node_id", nodeID).Msg("query fan-out: remote call failed")
			continue
		}

		for _, raw := range resp.Records {
			rec, err := docmodel.Decode(raw)
			if err != nil {
				continue
			}
			out = append(out, rec)
		}
	}
	return out
}

// signedQueryMessage is the canonical byte sequence a QueryRequest's
// signature covers — collection, filter, and nonce, in that order, so
// a replayed or tampered request (different filter, reused nonce)
// fails verification rather than only the fields that happen to be
// hashed.
func signedQueryMessage(collection string, filterJSON []byte, nonce string) []byte {
	msg := make([]byte, 0, len(collection)+len(filterJSON)+len(nonce))
	msg = append(msg, collection...)
	msg = append(msg, filterJSON...)
	msg = append(msg, nonce...)
	return msg
}

// queryRPCHandler answers an inbound peer's Query RPC against this
// node's local records only — the remote side never fans out again.
type queryRPCHandler struct {
	c *Coordinator
}

func (h *queryRPCHandler) Query(ctx context.Context, req *rpc.QueryRequest) (*rpc.QueryResponse, error) {
	// Replay and signature checks per §4.H are mandatory at receive time
	// for any request that identifies its sender; a request with no
	// SenderNodeID (single-node/unsigned deployments, see
	// coordinator.Config.Signer) skips validation rather than being
	// rejected outright.
	if h.c.byz != nil && req.SenderNodeID != "" {
		msg := signedQueryMessage(req.Collection, req.FilterJSON, req.Nonce)
		if !h.c.byz.ValidateMessage(ctx, req.SenderNodeID, msg, req.Signature, "query") {
			return nil, fmt.Errorf("%w: query rejected from %s", errs.ErrValidation, req.SenderNodeID)
		}
	}

	filter, err := docmodel.UnmarshalFilterJSON(req.FilterJSON)
	if err != nil {
		return nil, fmt.Errorf("decode filter: %w", err)
	}

	recs, err := h.c.localRecords(req.Collection)
	if err != nil {
		return nil, err
	}

	resp := &rpc.QueryResponse{}
	for _, rec := range recs {
		if !query.Matches(rec.Data, filter) {
			continue
		}
		encoded, err := docmodel.Encode(rec)
		if err != nil {
			continue
		}
		resp.Records = append(resp.Records, encoded)
	}
	return resp, nil
}

func recordsToDocs(recs []docmodel.Record) []docmodel.Document {
	docs := make([]docmodel.Document, len(recs))
	for i, r := range recs {
		docs[i] = r.Data
	}
	return docs
}

func hitRate(s storage.MemoryStats) float64 {
	if s.TotalRequests == 0 {
		return 0.0
	}
	return float64(s.Hits) / float64(s.TotalRequests)
}
