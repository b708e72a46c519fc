// Package consensus implements §4.G's consensus binding over HashiCorp
// Raft, generalizing pkg/manager.Manager + pkg/manager.WarrenFSM's
// propose/apply pattern from cluster-orchestration commands to document
// put/delete commands.
package consensus

import (
	"context"
	"time"
)

// ProposalID identifies one Propose call so the caller can later ask
// AwaitCommit about it, and so the FSM can echo it back on the commit
// feed without the caller needing to correlate by raft log index.
type ProposalID string

// Op names the two document mutations that flow through consensus.
type Op string

const (
	OpPut    Op = "put"
	OpDelete Op = "delete"
)

// Command is the payload proposed to the Raft log. ExpectedVersion, when
// non-nil, implements §4.G's optimistic conflict resolution: the FSM
// rejects the command with errs.ErrAborted if the document's current
// version doesn't match.
type Command struct {
	ProposalID      ProposalID `json:"proposal_id"`
	Op              Op         `json:"op"`
	ShardID         string     `json:"shard_id"`
	Collection      string     `json:"collection"`
	DocID           string     `json:"doc_id"`
	Data            []byte     `json:"data,omitempty"`
	ExpectedVersion *uint64    `json:"expected_version,omitempty"`
}

// Commit is posted to every subscriber once a proposal is applied to the
// FSM, successfully or not.
type Commit struct {
	ProposalID ProposalID
	Index      uint64
	Version    uint64
	Err        error
}

// Binding is the narrow interface the document coordinator and the
// Byzantine tolerance component depend on, so neither needs to know
// about raft.Raft directly.
type Binding interface {
	// Propose submits payload to the log and returns immediately with an
	// identifier; it does not wait for the entry to commit.
	Propose(ctx context.Context, cmd Command) (ProposalID, error)

	// AwaitCommit blocks until the proposal identified by id commits (or
	// its FSM application fails) or deadline passes, whichever is first.
	AwaitCommit(ctx context.Context, id ProposalID, deadline time.Time) (commitIndex uint64, version uint64, err error)

	// SubscribeCommits returns a channel fed one Commit per applied log
	// entry, for components (like Byzantine tolerance) that observe
	// consensus activity rather than originate it.
	SubscribeCommits(ctx context.Context) (<-chan Commit, error)

	// IsLeader reports whether this node currently holds Raft leadership.
	IsLeader() bool

	// LeaderAddr returns the current leader's transport address, or "" if
	// unknown.
	LeaderAddr() string

	// RemoveServer removes nodeID from the Raft voter configuration. Must
	// be called on the current leader; used by Byzantine fault recovery
	// to actually isolate a suspected node rather than merely flag it.
	RemoveServer(nodeID string) error

	// LeadershipTransfer steps this node down as leader, forcing Raft to
	// elect a new one from the remaining voters. Used by Byzantine fault
	// recovery's view-change strategy.
	LeadershipTransfer() error

	// Shutdown releases the underlying Raft instance and its stores.
	Shutdown() error
}
