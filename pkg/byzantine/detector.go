package byzantine

import (
	"sync"
	"time"
)

// MessageRecord is one observed message, retained for the detection
// window so the fault detector can recognize a repeat.
type MessageRecord struct {
	Timestamp      time.Time
	MessageType    string
	Valid          bool
	SignatureValid bool
	ContentHash    [32]byte
}

// FaultDetector keeps a bounded, per-node history of recent messages and
// answers whether a new message's content hash was already seen within
// the observation window — a real replay check, unlike the original
// Rust source's stubbed is_replay_attack (documented there as "currently
// configured ... to allow message processing"); spec.md requires this
// property to actually hold.
//
// Structural grounding on the teacher's worker.HealthMonitor: the write
// lock is held only long enough to append and prune one node's history,
// never while evaluating recovery — mirroring
// worker.containersMu/syncHealthChecks's snapshot-then-process pattern.
type FaultDetector struct {
	mu      sync.RWMutex
	window  time.Duration
	history map[string][]MessageRecord
}

// NewFaultDetector constructs a detector with the given observation
// window (the original defaults to 5 minutes).
func NewFaultDetector(window time.Duration) *FaultDetector {
	return &FaultDetector{
		window:  window,
		history: make(map[string][]MessageRecord),
	}
}

// IsReplay reports whether contentHash was already recorded for nodeID
// within the observation window, as of "at".
func (d *FaultDetector) IsReplay(nodeID string, contentHash [32]byte, at time.Time) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	cutoff := at.Add(-d.window)
	for _, rec := range d.history[nodeID] {
		if rec.Timestamp.Before(cutoff) {
			continue
		}
		if rec.ContentHash == contentHash {
			return true
		}
	}
	return false
}

// RecordMessage appends rec to nodeID's history and prunes entries older
// than the observation window.
func (d *FaultDetector) RecordMessage(nodeID string, rec MessageRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()

	history := append(d.history[nodeID], rec)
	cutoff := rec.Timestamp.Add(-d.window)
	kept := history[:0]
	for _, r := range history {
		if r.Timestamp.After(cutoff) {
			kept = append(kept, r)
		}
	}
	d.history[nodeID] = kept
}
