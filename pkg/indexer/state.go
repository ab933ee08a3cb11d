// Package indexer drives files through the two-round indexing
// pipeline: a fast text round and a deep vision round, scheduled
// with bounded concurrency and observable through a single state
// snapshot.
package indexer

import (
	"sync"
	"sync/atomic"
)

// Indexer status values.
const (
	StatusIdle    = "idle"
	StatusRunning = "running"
	StatusPaused  = "paused"
	StatusError   = "error"
)

// IndexState is one published snapshot of indexer progress.
type IndexState struct {
	Status      string  `json:"status"`
	Message     string  `json:"message,omitempty"`
	LastError   string  `json:"last_error,omitempty"`
	ActiveStage string  `json:"active_stage,omitempty"`
	Detail      string  `json:"detail,omitempty"`
	Event       string  `json:"event,omitempty"`
	StepCurrent int     `json:"step_current,omitempty"`
	StepTotal   int     `json:"step_total,omitempty"`
	Progress    float64 `json:"progress"`
}

// ActiveUpdate is a partial update of the active-stage fields. Nil
// pointers leave the current value in place.
type ActiveUpdate struct {
	Stage       string
	Detail      string
	Event       string
	Progress    *float64
	StepCurrent *int
	StepTotal   *int
}

// StateManager is the sole writer of observable indexer state.
// Snapshots are published atomically; readers never see a torn
// update.
type StateManager struct {
	mu      sync.Mutex
	current atomic.Pointer[IndexState]
}

// NewStateManager starts in the idle state.
func NewStateManager() *StateManager {
	m := &StateManager{}
	m.current.Store(&IndexState{Status: StatusIdle})
	return m
}

// Status returns an immutable snapshot.
func (m *StateManager) Status() IndexState {
	return *m.current.Load()
}

// SetStatus updates the top-level status and message.
func (m *StateManager) SetStatus(status, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := *m.current.Load()
	next.Status = status
	next.Message = message
	if status != StatusError {
		next.LastError = ""
	}
	m.current.Store(&next)
}

// SetError records a failure without touching the active fields.
func (m *StateManager) SetError(message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := *m.current.Load()
	next.Status = StatusError
	next.LastError = message
	m.current.Store(&next)
}

// SetActiveStage merges the update into the published snapshot.
// Safe to call from background workers.
func (m *StateManager) SetActiveStage(u ActiveUpdate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := *m.current.Load()

	if u.Stage != "" {
		next.ActiveStage = u.Stage
	}
	if u.Detail != "" {
		next.Detail = u.Detail
	}
	if u.Event != "" {
		next.Event = u.Event
	}
	if u.Progress != nil {
		next.Progress = clampProgress(*u.Progress)
	}
	if u.StepCurrent != nil {
		next.StepCurrent = *u.StepCurrent
	}
	if u.StepTotal != nil {
		next.StepTotal = *u.StepTotal
	}
	m.current.Store(&next)
}

// ResetActiveState clears the active fields without disturbing the
// top-level status.
func (m *StateManager) ResetActiveState() {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := *m.current.Load()
	next.ActiveStage = ""
	next.Detail = ""
	next.Event = ""
	next.StepCurrent = 0
	next.StepTotal = 0
	next.Progress = 0
	m.current.Store(&next)
}

func clampProgress(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func ptrFloat(v float64) *float64 { return &v }
func ptrInt(v int) *int           { return &v }
