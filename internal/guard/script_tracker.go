package guard

import (
	"sync"
	"time"

	"github.com/ashureev/agentdeck/internal/domain"
)

// ScriptPhase is the lifecycle phase of the tracked script.
type ScriptPhase string

const (
	// ScriptRunning means the script process is alive.
	ScriptRunning ScriptPhase = "running"
	// ScriptClosing means termination has started but not yet completed.
	ScriptClosing ScriptPhase = "closing"
)

// RunningScript describes the one script the tracker allows at a time.
type RunningScript struct {
	Kind      string // e.g. "run", "build"
	ID        string
	SessionID string
	Phase     ScriptPhase
	StartedAt time.Time
}

// ScriptTracker enforces the single-running-script rule: at most one script
// process exists at any moment, and a replacement may not start until the
// previous one has been fully terminated and cleared.
type ScriptTracker struct {
	mu      sync.Mutex
	current *RunningScript
}

// NewScriptTracker creates an empty tracker.
func NewScriptTracker() *ScriptTracker {
	return &ScriptTracker{}
}

// Start claims the slot for a new script. It fails while any script is still
// running or closing.
func (t *ScriptTracker) Start(kind, id, sessionID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current != nil {
		return &domain.InvalidStateError{
			Op:     "start script",
			Reason: "script " + t.current.ID + " is still " + string(t.current.Phase),
		}
	}
	t.current = &RunningScript{
		Kind:      kind,
		ID:        id,
		SessionID: sessionID,
		Phase:     ScriptRunning,
		StartedAt: time.Now(),
	}
	return nil
}

// BeginClose transitions the current script to the closing phase and returns
// a snapshot of it. It reports false when no script is tracked or one is
// already closing.
func (t *ScriptTracker) BeginClose() (RunningScript, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current == nil || t.current.Phase == ScriptClosing {
		return RunningScript{}, false
	}
	t.current.Phase = ScriptClosing
	return *t.current, true
}

// Finish frees the slot once termination of the script with the given id has
// completed. A stale id is ignored so a late cleanup cannot evict a newer
// script.
func (t *ScriptTracker) Finish(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current != nil && t.current.ID == id {
		t.current = nil
	}
}

// Current returns a snapshot of the tracked script, if any.
func (t *ScriptTracker) Current() (RunningScript, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current == nil {
		return RunningScript{}, false
	}
	return *t.current, true
}
