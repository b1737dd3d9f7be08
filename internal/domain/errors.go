package domain

import (
	"fmt"
)

// NotFoundError reports an unknown project, session or panel. Surfaced to the
// caller; the operation is aborted.
type NotFoundError struct {
	Resource string // "project", "session", "panel", "tool"
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// InvalidStateError reports an operation attempted in a state that forbids it,
// such as creating a panel on an archived session or continuing a panel that
// never captured a resumption id.
type InvalidStateError struct {
	Op     string
	Reason string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

// ToolUnavailableError reports that an external tool executable could not be
// resolved on PATH. Availability is probed once and cached.
type ToolUnavailableError struct {
	Tool string
	Err  error
}

func (e *ToolUnavailableError) Error() string {
	return fmt.Sprintf("tool %q is not available: %v", e.Tool, e.Err)
}

func (e *ToolUnavailableError) Unwrap() error { return e.Err }

// NotRunningError reports input sent to a panel with no live process.
type NotRunningError struct {
	PanelID string
}

func (e *NotRunningError) Error() string {
	return fmt.Sprintf("panel %q has no running process", e.PanelID)
}
