package progress

import (
	"math"
	"sync"
)

// Snapshot is the live view of one running refresh pass. It is ephemeral:
// entries are lost on restart, and the persisted task record remains the
// authoritative terminal state.
type Snapshot struct {
	Status           string  `json:"status"`
	TotalCount       int     `json:"total_count"`
	ProcessedCount   int     `json:"processed_count"`
	SuccessCount     int     `json:"success_count"`
	SkippedCount     int     `json:"skipped_count"`
	FailedCount      int     `json:"failed_count"`
	CurrentIndexCode string  `json:"current_index_code"`
	CurrentIndexName string  `json:"current_index_name"`
	ProgressPercent  float64 `json:"progress_percent"`
}

// Update carries a partial merge; nil fields leave the stored value alone.
type Update struct {
	Status           *string
	TotalCount       *int
	ProcessedCount   *int
	SuccessCount     *int
	SkippedCount     *int
	FailedCount      *int
	CurrentIndexCode *string
	CurrentIndexName *string
}

// Tracker is a concurrency-safe progress store keyed by task id. It is a
// plain injectable component; construct one at process start and hand it to
// whatever runs and queries passes.
type Tracker struct {
	mu    sync.RWMutex
	tasks map[string]Snapshot
}

// NewTracker constructs an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{tasks: make(map[string]Snapshot)}
}

// Set merges upd into the snapshot for taskID. ProgressPercent is always
// recomputed from the merged counts, never stored independently.
func (t *Tracker) Set(taskID string, upd Update) {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := t.tasks[taskID]
	if upd.Status != nil {
		snap.Status = *upd.Status
	}
	if upd.TotalCount != nil {
		snap.TotalCount = *upd.TotalCount
	}
	if upd.ProcessedCount != nil {
		snap.ProcessedCount = *upd.ProcessedCount
	}
	if upd.SuccessCount != nil {
		snap.SuccessCount = *upd.SuccessCount
	}
	if upd.SkippedCount != nil {
		snap.SkippedCount = *upd.SkippedCount
	}
	if upd.FailedCount != nil {
		snap.FailedCount = *upd.FailedCount
	}
	if upd.CurrentIndexCode != nil {
		snap.CurrentIndexCode = *upd.CurrentIndexCode
	}
	if upd.CurrentIndexName != nil {
		snap.CurrentIndexName = *upd.CurrentIndexName
	}

	if snap.TotalCount <= 0 {
		snap.ProgressPercent = 100.0
	} else {
		ratio := float64(snap.ProcessedCount) / float64(snap.TotalCount)
		snap.ProgressPercent = math.Round(ratio*100*100) / 100
	}

	t.tasks[taskID] = snap
}

// Get returns a copy of the snapshot for taskID, if one exists.
func (t *Tracker) Get(taskID string) (Snapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snap, ok := t.tasks[taskID]
	return snap, ok
}

// String helpers so callers can build partial updates inline.
func String(v string) *string { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }
