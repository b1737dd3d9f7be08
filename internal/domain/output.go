package domain

import (
	"time"
)

// OutputKind classifies a raw output record.
type OutputKind string

const (
	OutputStdout OutputKind = "stdout"
	OutputStderr OutputKind = "stderr"
	// OutputJSON is a structured event emitted by a tool on stdout.
	OutputJSON OutputKind = "json"
	// OutputError records an engine-side failure attributed to the panel.
	OutputError OutputKind = "error"
)

// OutputRecord is an immutable, append-only log entry scoped to a panel, or
// to the session directly for legacy single-panel sessions (PanelID empty).
// Index is the monotonic insertion order assigned by the store.
type OutputRecord struct {
	Index     int64
	SessionID string
	PanelID   string
	Kind      OutputKind
	Payload   string
	Timestamp time.Time
}

// MessageRole is the author of a conversation turn.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// ConversationMessage is a derived conversational turn extracted from
// structured output events. Append-only.
type ConversationMessage struct {
	ID        int64
	SessionID string
	PanelID   string
	Role      MessageRole
	Content   string
	Timestamp time.Time
}

// PromptMarker bookmarks where a prompt began in the output stream and, once
// known, when the agent's turn completed. Completion is the only in-place
// mutation, and it always targets the most recently opened marker.
type PromptMarker struct {
	ID                  int64
	SessionID           string
	PanelID             string
	PromptText          string
	OutputIndex         int64
	Timestamp           time.Time
	CompletionTimestamp *time.Time
}

// Duration returns the elapsed time of the turn, or zero if still open.
func (m *PromptMarker) Duration() time.Duration {
	if m.CompletionTimestamp == nil {
		return 0
	}
	return m.CompletionTimestamp.Sub(m.Timestamp)
}
