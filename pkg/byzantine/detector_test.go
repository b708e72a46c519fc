package byzantine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFaultDetectorReplayWithinWindow(t *testing.T) {
	d := NewFaultDetector(5 * time.Minute)
	hash := [32]byte{1, 2, 3}
	now := time.Now()

	assert.False(t, d.IsReplay("node-1", hash, now))

	d.RecordMessage("node-1", MessageRecord{Timestamp: now, ContentHash: hash})
	assert.True(t, d.IsReplay("node-1", hash, now.Add(time.Second)))
}

func TestFaultDetectorNoReplayOutsideWindow(t *testing.T) {
	d := NewFaultDetector(1 * time.Minute)
	hash := [32]byte{9, 9, 9}
	now := time.Now()

	d.RecordMessage("node-1", MessageRecord{Timestamp: now, ContentHash: hash})
	assert.False(t, d.IsReplay("node-1", hash, now.Add(2*time.Minute)))
}

func TestFaultDetectorPrunesOldEntries(t *testing.T) {
	d := NewFaultDetector(1 * time.Minute)
	now := time.Now()

	d.RecordMessage("node-1", MessageRecord{Timestamp: now.Add(-2 * time.Minute), ContentHash: [32]byte{1}})
	d.RecordMessage("node-1", MessageRecord{Timestamp: now, ContentHash: [32]byte{2}})

	d.mu.RLock()
	entries := len(d.history["node-1"])
	d.mu.RUnlock()
	assert.Equal(t, 1, entries, "the stale entry should have been pruned on the second record")
}

func TestFaultDetectorDistinctContentIsNotAReplay(t *testing.T) {
	d := NewFaultDetector(5 * time.Minute)
	now := time.Now()

	d.RecordMessage("node-1", MessageRecord{Timestamp: now, ContentHash: [32]byte{1}})
	assert.False(t, d.IsReplay("node-1", [32]byte{2}, now))
}
