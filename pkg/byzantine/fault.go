// Package byzantine implements §4.H's Byzantine fault tolerance: node
// reputation tracking, fault detection (including real message-replay
// detection), a fixed-order recovery pipeline, and the network health
// formula.
//
// Grounded directly on
// _examples/original_source/aerolithdb-consensus/src/byzantine_tolerance.rs.
package byzantine

import "time"

// Fault is a tagged union over the five Byzantine fault kinds, following
// the teacher's string-const-enum idiom (types.DeployStrategy,
// types.ServiceMode) generalized to an interface since each fault
// carries different evidence fields.
type Fault interface {
	isFault()
	NodeID() string
}

// InvalidSignatureFault reports a message whose signature failed
// cryptographic verification.
type InvalidSignatureFault struct {
	Node        string
	MessageHash string
}

func (InvalidSignatureFault) isFault()         {}
func (f InvalidSignatureFault) NodeID() string { return f.Node }

// DoubleVotingFault reports a node that cast more than one vote for the
// same proposal.
type DoubleVotingFault struct {
	Node       string
	ProposalID string
	Votes      []string
}

func (DoubleVotingFault) isFault()         {}
func (f DoubleVotingFault) NodeID() string { return f.Node }

// InvalidProposalFault reports a structurally or semantically invalid
// consensus proposal.
type InvalidProposalFault struct {
	Node       string
	ProposalID string
	Reason     string
}

func (InvalidProposalFault) isFault()         {}
func (f InvalidProposalFault) NodeID() string { return f.Node }

// MessageReplayFault reports a message whose content hash was already
// seen within the detection window.
type MessageReplayFault struct {
	Node              string
	OriginalTimestamp time.Time
	ReplayTimestamp   time.Time
}

func (MessageReplayFault) isFault()         {}
func (f MessageReplayFault) NodeID() string { return f.Node }

// EquivocationAttackFault reports a node that sent conflicting messages
// for the same logical slot.
type EquivocationAttackFault struct {
	Node                string
	ConflictingMessages []string
}

func (EquivocationAttackFault) isFault()         {}
func (f EquivocationAttackFault) NodeID() string { return f.Node }

// RecoveryStrategy names one stage of the fixed recovery pipeline.
type RecoveryStrategy string

const (
	NodeIsolation      RecoveryStrategy = "node_isolation"
	ViewChange         RecoveryStrategy = "view_change"
	CheckpointRollback RecoveryStrategy = "checkpoint_rollback"
	NetworkPartition   RecoveryStrategy = "network_partition"
)

// DefaultRecoveryStrategies runs all four stages in this fixed order.
// The original only defaulted to {NodeIsolation, ViewChange}; aerolithdb
// carries the full pipeline, per spec.md's recovery requirements.
var DefaultRecoveryStrategies = []RecoveryStrategy{
	NodeIsolation,
	ViewChange,
	CheckpointRollback,
	NetworkPartition,
}
