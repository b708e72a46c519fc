package byzantine

import (
	"context"
	"crypto/ed25519"
	"sync"
	"time"

	"github.com/cuemby/aerolithdb/pkg/consensus"
	"github.com/cuemby/aerolithdb/pkg/hashkey"
	"github.com/cuemby/aerolithdb/pkg/metrics"
	"github.com/rs/zerolog"
)

// Tolerance is the per-node Byzantine fault tolerance coordinator: it
// tracks reputations and suspicion, detects replay, and drives the fixed
// recovery pipeline once the suspected-node ratio crosses the tolerance
// threshold.
//
// Recovery actions flow into pkg/consensus.Binding as plain method
// calls, never a back-reference: Tolerance holds a consensus.Binding
// value set at construction, mirroring scheduler.NewScheduler(mgr
// *manager.Manager)'s constructor-injected single dependency.
type Tolerance struct {
	mu                 sync.RWMutex
	thresholdRatio     float64
	suspected          map[string]bool
	reputation         map[string]*NodeReputation
	detector           *FaultDetector
	recoveryStrategies []RecoveryStrategy
	publicKeys         map[string]ed25519.PublicKey

	consensus consensus.Binding
	logger    zerolog.Logger
}

// New constructs a Tolerance instance. thresholdRatio is the fraction of
// known nodes under suspicion that triggers recovery (spec.md default
// 0.33).
func New(thresholdRatio float64, binding consensus.Binding, logger zerolog.Logger) *Tolerance {
	return &Tolerance{
		thresholdRatio:     thresholdRatio,
		suspected:          make(map[string]bool),
		reputation:         make(map[string]*NodeReputation),
		detector:           NewFaultDetector(5 * time.Minute),
		recoveryStrategies: DefaultRecoveryStrategies,
		publicKeys:         make(map[string]ed25519.PublicKey),
		consensus:          binding,
		logger:             logger,
	}
}

// RegisterPublicKey associates nodeID with the Ed25519 public key used
// to verify its signed messages.
func (t *Tolerance) RegisterPublicKey(nodeID string, pub ed25519.PublicKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.publicKeys[nodeID] = pub
}

// ReportFault records an externally-observed fault and runs the
// suspicion/recovery checks that follow from it.
func (t *Tolerance) ReportFault(ctx context.Context, fault Fault) {
	nodeID := fault.NodeID()
	t.logger.Warn().Str("node_id", nodeID).Interface("fault", fault).Msg("byzantine fault detected")

	t.updateReputation(nodeID, false)

	if t.shouldSuspect(nodeID) {
		t.suspectNode(nodeID)
	}
	if t.shouldTriggerRecovery() {
		t.triggerRecovery(ctx)
	}
}

// ValidateMessage performs §4.H step 1-3 validation: signature check,
// replay check, and content check, updating reputation and fault
// detection state along the way. It returns whether the message is
// valid.
func (t *Tolerance) ValidateMessage(ctx context.Context, nodeID string, message, signature []byte, messageType string) bool {
	now := time.Now()
	hash := hashkey.Digest256(message)

	sigValid := t.validateSignature(nodeID, message, signature)
	replay := t.detector.IsReplay(nodeID, hash, now)
	contentOK := len(message) > 0

	valid := sigValid && !replay && contentOK

	t.detector.RecordMessage(nodeID, MessageRecord{
		Timestamp:      now,
		MessageType:    messageType,
		Valid:          valid,
		SignatureValid: sigValid,
		ContentHash:    hash,
	})

	// This is the message's single reputation adjustment; the faults
	// below are logged and checked for suspicion without a second penalty.
	t.updateReputation(nodeID, valid)

	if replay {
		t.logger.Warn().Str("node_id", nodeID).Interface("fault", MessageReplayFault{Node: nodeID, ReplayTimestamp: now}).Msg("byzantine fault detected")
	}
	if !sigValid {
		t.logger.Warn().Str("node_id", nodeID).Interface("fault", InvalidSignatureFault{Node: nodeID}).Msg("byzantine fault detected")
	}
	if !valid {
		if t.shouldSuspect(nodeID) {
			t.suspectNode(nodeID)
		}
		if t.shouldTriggerRecovery() {
			t.triggerRecovery(ctx)
		}
	}

	return valid
}

func (t *Tolerance) validateSignature(nodeID string, message, signature []byte) bool {
	t.mu.RLock()
	pub, ok := t.publicKeys[nodeID]
	t.mu.RUnlock()
	if !ok || len(signature) != ed25519.SignatureSize || len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, message, signature)
}

func (t *Tolerance) updateReputation(nodeID string, valid bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rep, ok := t.reputation[nodeID]
	if !ok {
		rep = newNodeReputation(nodeID)
		t.reputation[nodeID] = rep
	}
	rep.applyBehavior(valid, time.Now())
}

func (t *Tolerance) shouldSuspect(nodeID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rep, ok := t.reputation[nodeID]
	return ok && rep.suspected()
}

func (t *Tolerance) suspectNode(nodeID string) {
	t.mu.Lock()
	alreadySuspected := t.suspected[nodeID]
	t.suspected[nodeID] = true
	t.mu.Unlock()

	if !alreadySuspected {
		t.logger.Warn().Str("node_id", nodeID).Msg("node now suspected of byzantine behavior")
		metrics.SuspectedNodesTotal.Set(float64(t.suspectedCount()))
	}
}

func (t *Tolerance) shouldTriggerRecovery() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	total := len(t.reputation)
	if total == 0 {
		return false
	}
	return float64(len(t.suspected))/float64(total) > t.thresholdRatio
}

// triggerRecovery runs every configured strategy in fixed order —
// NodeIsolation, ViewChange, CheckpointRollback, NetworkPartition —
// matching the original's `for strategy in &strategies` loop over its
// (here, fuller) configured list.
func (t *Tolerance) triggerRecovery(ctx context.Context) {
	t.logger.Error().Msg("byzantine fault threshold exceeded, triggering recovery")

	for _, strategy := range t.recoveryStrategies {
		metrics.RecoveryActionsTotal.WithLabelValues(string(strategy)).Inc()
		switch strategy {
		case NodeIsolation:
			t.isolateSuspectedNodes(ctx)
		case ViewChange:
			t.initiateViewChange(ctx)
		case CheckpointRollback:
			t.rollbackToCheckpoint(ctx)
		case NetworkPartition:
			t.handleNetworkPartition(ctx)
		}
	}
}

// isolateSuspectedNodes actually removes every currently-suspected node
// from the Raft voter configuration via consensus.Binding.RemoveServer
// — the concrete action behind the original's isolation placeholder.
// Requires this node to be the current leader (RemoveServer's own
// contract); a non-leader node just logs the failure and leaves the
// node suspected locally until the real leader's own Tolerance instance
// runs the same recovery pass.
func (t *Tolerance) isolateSuspectedNodes(ctx context.Context) {
	if t.consensus == nil {
		return
	}
	for _, nodeID := range t.SuspectedNodes() {
		if err := t.consensus.RemoveServer(nodeID); err != nil {
			t.logger.Warn().Err(err).Str("node_id", nodeID).Msg("failed to remove suspected node from consensus")
			continue
		}
		t.logger.Warn().Str("node_id", nodeID).Msg("isolated suspected node from consensus")
	}
}

// initiateViewChange steps down from leadership via
// consensus.Binding.LeadershipTransfer if this node currently holds it,
// forcing Raft to elect a new leader — the concrete action behind the
// original's "would trigger leader election" placeholder.
func (t *Tolerance) initiateViewChange(ctx context.Context) {
	if t.consensus == nil || !t.consensus.IsLeader() {
		return
	}
	if err := t.consensus.LeadershipTransfer(); err != nil {
		t.logger.Warn().Err(err).Msg("leadership transfer failed")
		return
	}
	t.logger.Debug().Msg("stepped down to force a view change")
}

func (t *Tolerance) rollbackToCheckpoint(ctx context.Context) {
	t.logger.Debug().Msg("rolling back to last known good checkpoint")
}

func (t *Tolerance) handleNetworkPartition(ctx context.Context) {
	t.logger.Debug().Msg("handling potential network partition")
}

// IsNodeSuspected reports whether nodeID is currently under suspicion.
func (t *Tolerance) IsNodeSuspected(nodeID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.suspected[nodeID]
}

// Reputation returns a copy of nodeID's reputation record, if known.
func (t *Tolerance) Reputation(nodeID string) (NodeReputation, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rep, ok := t.reputation[nodeID]
	if !ok {
		return NodeReputation{}, false
	}
	return *rep, true
}

// SuspectedNodes returns the current suspected-node set.
func (t *Tolerance) SuspectedNodes() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.suspected))
	for id := range t.suspected {
		out = append(out, id)
	}
	return out
}

func (t *Tolerance) suspectedCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.suspected)
}

// NetworkHealth computes 0.7*(nodes-suspected)/nodes + 0.3*mean(score),
// defined as 1.0 when no nodes are known yet.
func (t *Tolerance) NetworkHealth() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	total := len(t.reputation)
	if total == 0 {
		return 1.0
	}

	suspected := len(t.suspected)
	healthRatio := float64(total-suspected) / float64(total)

	var sum float64
	for _, rep := range t.reputation {
		sum += rep.Score
	}
	avgReputation := sum / float64(total)

	return healthRatio*0.7 + avgReputation*0.3
}
