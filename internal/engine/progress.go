package engine

import (
	"sync"
	"time"
)

// OperationKind names what an operation does.
type OperationKind string

const (
	OperationBackup  OperationKind = "backup"
	OperationRestore OperationKind = "restore"
)

// Phase represents the current phase of a backup or restore.
type Phase string

const (
	PhaseReading    Phase = "reading"
	PhaseWriting    Phase = "writing"
	PhaseStaging    Phase = "staging"
	PhaseCommitting Phase = "committing"
	PhaseApplying   Phase = "applying"
	PhaseComplete   Phase = "complete"
	PhaseFailed     Phase = "failed"
)

// maxRecentEvents caps the rolling collection log.
const maxRecentEvents = 20

// CollectionEvent records a collection that has been read or inserted.
type CollectionEvent struct {
	Collection string `json:"collection"`
	Records    int    `json:"records"`
}

// OperationProgress is a snapshot of an operation's state, safe for JSON
// serialization.
type OperationProgress struct {
	OperationID          string            `json:"operation_id"`
	Kind                 OperationKind     `json:"kind"`
	Phase                Phase             `json:"phase"`
	Source               string            `json:"source,omitempty"`
	TotalCollections     int               `json:"total_collections"`
	CompletedCollections int               `json:"completed_collections"`
	Records              int               `json:"records"`
	Percent              float64           `json:"percent"`
	RecentEvents         []CollectionEvent `json:"recent_events,omitempty"`
	StartTime            time.Time         `json:"start_time"`
	Elapsed              string            `json:"elapsed"`
	Message              string            `json:"message,omitempty"`
	Error                string            `json:"error,omitempty"`
	Done                 bool              `json:"done"`
}

// OperationTracker accumulates progress for one backup or restore.
// Listeners use Wait() to block until new updates are available.
//
// All methods are safe on a nil tracker and do nothing.
type OperationTracker struct {
	mu sync.Mutex

	opID       string
	kind       OperationKind
	source     string
	phase      Phase
	total      int
	completed  int
	records    int
	startTime  time.Time
	finishedAt time.Time
	message    string
	errMsg     string

	recentEvents []CollectionEvent

	// Close-and-replace: any update closes the current channel and
	// installs a fresh one.
	notify chan struct{}
}

// NewOperationTracker creates a tracker for a new operation.
func NewOperationTracker(opID string, kind OperationKind, source string) *OperationTracker {
	return &OperationTracker{
		opID:      opID,
		kind:      kind,
		source:    source,
		phase:     PhaseReading,
		startTime: time.Now(),
		notify:    make(chan struct{}),
	}
}

// Snapshot returns a copy of the current progress state.
func (t *OperationTracker) Snapshot() OperationProgress {
	if t == nil {
		return OperationProgress{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	var pct float64
	switch {
	case t.phase == PhaseComplete:
		pct = 100
	case t.total > 0:
		pct = float64(t.completed) / float64(t.total) * 100
	}

	recent := make([]CollectionEvent, len(t.recentEvents))
	copy(recent, t.recentEvents)

	end := time.Now()
	if !t.finishedAt.IsZero() {
		end = t.finishedAt
	}

	return OperationProgress{
		OperationID:          t.opID,
		Kind:                 t.kind,
		Phase:                t.phase,
		Source:               t.source,
		TotalCollections:     t.total,
		CompletedCollections: t.completed,
		Records:              t.records,
		Percent:              pct,
		RecentEvents:         recent,
		StartTime:            t.startTime,
		Elapsed:              end.Sub(t.startTime).Truncate(time.Millisecond).String(),
		Message:              t.message,
		Error:                t.errMsg,
		Done:                 !t.finishedAt.IsZero(),
	}
}

// Wait returns a channel that will be closed when the next update occurs.
// Callers should select on this channel alongside a timeout for heartbeats.
func (t *OperationTracker) Wait() <-chan struct{} {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.notify
}

// signal closes the current notify channel and replaces it with a new one.
// Must be called with t.mu held.
func (t *OperationTracker) signal() {
	close(t.notify)
	t.notify = make(chan struct{})
}

// SetPhase updates the current phase.
func (t *OperationTracker) SetPhase(phase Phase) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.phase = phase
	t.signal()
}

// SetTotal sets how many collections the operation will process and resets
// the completed count for a new pass.
func (t *OperationTracker) SetTotal(collections int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total = collections
	t.completed = 0
	t.signal()
}

// CollectionDone records one processed collection.
func (t *OperationTracker) CollectionDone(collection string, records int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.completed++
	t.records += records
	t.recentEvents = append([]CollectionEvent{{Collection: collection, Records: records}}, t.recentEvents...)
	if len(t.recentEvents) > maxRecentEvents {
		t.recentEvents = t.recentEvents[:maxRecentEvents]
	}
	t.signal()
}

// SetMessage sets a human-readable status message.
func (t *OperationTracker) SetMessage(msg string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.message = msg
	t.signal()
}

// Finish marks the operation complete, or failed when err is non-nil.
// A partial restore finishes as complete with the error recorded.
func (t *OperationTracker) Finish(err error) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case err == nil:
		t.phase = PhaseComplete
	case t.phase == PhaseApplying:
		// The database is committed; only files failed.
		t.phase = PhaseComplete
		t.errMsg = err.Error()
	default:
		t.phase = PhaseFailed
		t.errMsg = err.Error()
	}
	t.finishedAt = time.Now()
	t.signal()
}
