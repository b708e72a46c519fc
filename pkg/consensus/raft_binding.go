package consensus

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cuemby/aerolithdb/pkg/errs"
	"github.com/cuemby/aerolithdb/pkg/storage"
	"github.com/google/uuid"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/rs/zerolog"
)

// Config mirrors pkg/manager.Config: node identity, bind address, and
// data directory for the Raft log/stable/snapshot stores.
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

// RaftBinding implements Binding over hashicorp/raft. Grounded directly
// on pkg/manager.Manager's Bootstrap/Join/Apply: the transport,
// snapshot store, and raftboltdb log/stable stores are kept verbatim as
// the underlying engine; only the tuned timeouts and the FSM plugged
// into raft.NewRaft differ.
type RaftBinding struct {
	raft   *raft.Raft
	fsm    *fsm
	logger zerolog.Logger

	mu      sync.Mutex
	pending map[ProposalID]raft.ApplyFuture
}

// NewRaftBinding opens the Raft transport/log/stable/snapshot stores and
// constructs the FSM over tiers, but does not yet start a cluster — call
// Bootstrap (first node) or Join-by-AddVoter (from the existing leader)
// after construction.
func NewRaftBinding(cfg Config, tiers *storage.TierCoordinator, logger zerolog.Logger) (*RaftBinding, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	raftConfig := raft.DefaultConfig()
	raftConfig.LocalID = raft.ServerID(cfg.NodeID)

	// Tuned for LAN/edge deployments rather than hashicorp/raft's WAN-
	// conservative defaults, matching the teacher's Bootstrap/Join tuning
	// (target: sub-10s failover).
	raftConfig.HeartbeatTimeout = 500 * time.Millisecond
	raftConfig.ElectionTimeout = 500 * time.Millisecond
	raftConfig.CommitTimeout = 50 * time.Millisecond
	raftConfig.LeaderLeaseTimeout = 250 * time.Millisecond

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve bind address: %w", err)
	}

	transport, err := raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("create transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("create log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("create stable store: %w", err)
	}

	f := newFSM(tiers)

	r, err := raft.NewRaft(raftConfig, f, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("create raft: %w", err)
	}

	return &RaftBinding{
		raft:    r,
		fsm:     f,
		logger:  logger,
		pending: make(map[ProposalID]raft.ApplyFuture),
	}, nil
}

// Bootstrap initializes a new single-node cluster with this node as the
// only voter.
func (b *RaftBinding) Bootstrap(localAddr raft.ServerAddress) error {
	future := b.raft.BootstrapCluster(raft.Configuration{
		Servers: []raft.Server{{ID: b.raft.Config().LocalID, Address: localAddr}},
	})
	return future.Error()
}

// AddVoter must be called on the current leader to admit a new node.
func (b *RaftBinding) AddVoter(nodeID, address string) error {
	if !b.IsLeader() {
		return fmt.Errorf("not the leader, current leader: %s", b.LeaderAddr())
	}
	future := b.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second)
	return future.Error()
}

func (b *RaftBinding) IsLeader() bool {
	return b.raft.State() == raft.Leader
}

func (b *RaftBinding) LeaderAddr() string {
	addr, _ := b.raft.LeaderWithID()
	return string(addr)
}

// RemoveServer must be called on the current leader to evict nodeID
// from the voter configuration.
func (b *RaftBinding) RemoveServer(nodeID string) error {
	if !b.IsLeader() {
		return fmt.Errorf("not the leader, current leader: %s", b.LeaderAddr())
	}
	future := b.raft.RemoveServer(raft.ServerID(nodeID), 0, 10*time.Second)
	return future.Error()
}

// LeadershipTransfer hands leadership to another voter, chosen by Raft
// itself. A no-op error (returned, not panicked) if this node isn't
// currently the leader or no other voter is eligible.
func (b *RaftBinding) LeadershipTransfer() error {
	future := b.raft.LeadershipTransfer()
	return future.Error()
}

// Propose submits cmd to the Raft log and returns immediately. The
// caller later retrieves the outcome via AwaitCommit using the returned
// ProposalID — separating submission from blocking exactly so the
// coordinator can retry a conflicting proposal without re-deriving a new
// ApplyFuture for work already in flight.
func (b *RaftBinding) Propose(ctx context.Context, cmd Command) (ProposalID, error) {
	if cmd.ProposalID == "" {
		cmd.ProposalID = ProposalID(uuid.New().String())
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return "", fmt.Errorf("marshal command: %w", err)
	}

	timeout := 5 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	future := b.raft.Apply(data, timeout)

	b.mu.Lock()
	b.pending[cmd.ProposalID] = future
	b.mu.Unlock()

	return cmd.ProposalID, nil
}

// AwaitCommit blocks on the ApplyFuture registered by Propose, surfacing
// the FSM's applyResult the way Manager.Apply already unwraps
// future.Response() inline — except here the blocking is split out so a
// caller can race it against its own deadline.
func (b *RaftBinding) AwaitCommit(ctx context.Context, id ProposalID, deadline time.Time) (uint64, uint64, error) {
	b.mu.Lock()
	future, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	b.mu.Unlock()

	if !ok {
		return 0, 0, fmt.Errorf("unknown proposal %s", id)
	}

	done := make(chan error, 1)
	go func() { done <- future.Error() }()

	var timer *time.Timer
	if !deadline.IsZero() {
		timer = time.NewTimer(time.Until(deadline))
		defer timer.Stop()
	}

	select {
	case err := <-done:
		if err != nil {
			return 0, 0, fmt.Errorf("apply: %w", err)
		}
		if resp, ok := future.Response().(applyResult); ok {
			if resp.Err != nil {
				return future.Index(), resp.Version, resp.Err
			}
			return future.Index(), resp.Version, nil
		}
		return future.Index(), 0, nil
	case <-ctx.Done():
		return 0, 0, ctx.Err()
	case <-timerC(timer):
		return 0, 0, errs.ErrTimeout
	}
}

func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

// SubscribeCommits returns a live feed of every applied log entry. The
// returned channel is closed when ctx is done.
func (b *RaftBinding) SubscribeCommits(ctx context.Context) (<-chan Commit, error) {
	sub := b.fsm.broker.subscribe()
	go func() {
		<-ctx.Done()
		b.fsm.broker.unsubscribe(sub)
	}()
	return sub, nil
}

func (b *RaftBinding) Shutdown() error {
	future := b.raft.Shutdown()
	return future.Error()
}
