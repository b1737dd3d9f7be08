// Package domain defines the core entities of the orchestration engine:
// projects, sessions, panels and the records derived from tool output.
package domain

import (
	"time"
)

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	// SessionPending means the session row exists but nothing has started yet.
	SessionPending SessionStatus = "pending"
	// SessionInitializing means a tool process is being spawned.
	SessionInitializing SessionStatus = "initializing"
	// SessionRunning means at least one agent process is actively working.
	SessionRunning SessionStatus = "running"
	// SessionWaiting means the agent is blocked on user input.
	SessionWaiting SessionStatus = "waiting"
	// SessionStopped means all processes were stopped by the user.
	SessionStopped SessionStatus = "stopped"
	// SessionCompleted means the agent finished its turn. A completed session
	// can be revived by sending further input.
	SessionCompleted SessionStatus = "completed"
	// SessionCompletedUnviewed is the presentation of SessionCompleted for a
	// session that was modified after it was last viewed. It is derived, never
	// stored.
	SessionCompletedUnviewed SessionStatus = "completed_unviewed"
	// SessionError means a process terminated abnormally without a result event.
	SessionError SessionStatus = "error"
)

// Session is a unit of work bound to one working-tree checkout. Sessions own
// zero or more panels and are archived rather than deleted.
type Session struct {
	ID            string
	ProjectID     string
	Name          string
	Status        SessionStatus
	WorktreePath  string
	DisplayOrder  int
	IsMainRepo    bool
	AutoCommit    bool
	ToolType      string // default tool for new panels, e.g. "claude"
	ActivePanelID string
	Archived      bool
	ErrorText     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastViewedAt  *time.Time
}

// EffectiveStatus returns the status as it should be presented: a completed
// session that was updated after its last view shows as completed_unviewed.
func (s *Session) EffectiveStatus() SessionStatus {
	if s.Status != SessionCompleted {
		return s.Status
	}
	if s.LastViewedAt == nil || s.UpdatedAt.After(*s.LastViewedAt) {
		return SessionCompletedUnviewed
	}
	return SessionCompleted
}

// CanTransitionTo reports whether moving from the current status to next is a
// legal state-machine step. Archival is orthogonal and not covered here.
func (s *Session) CanTransitionTo(next SessionStatus) bool {
	if next == SessionError {
		return true
	}
	switch s.Status {
	case SessionPending:
		return next == SessionInitializing || next == SessionStopped
	case SessionInitializing:
		return next == SessionRunning || next == SessionStopped
	case SessionRunning:
		return next == SessionWaiting || next == SessionStopped || next == SessionCompleted
	case SessionWaiting:
		return next == SessionRunning || next == SessionStopped || next == SessionCompleted
	case SessionStopped, SessionCompleted:
		// Revivable: a new prompt re-initializes the session.
		return next == SessionInitializing || next == SessionRunning
	case SessionError:
		return next == SessionInitializing || next == SessionRunning
	}
	return false
}
