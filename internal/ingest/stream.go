package ingest

import (
	"encoding/json"
	"strings"
)

// StreamEvent is one structured NDJSON event from an agent tool's stdout.
// Claude emits stream-json events; codex's exec events are close enough to
// share the shape after the tool manager's normalization.
type StreamEvent struct {
	Type      string        `json:"type"`
	Subtype   string        `json:"subtype,omitempty"`
	SessionID string        `json:"session_id,omitempty"`
	Message   *EventMessage `json:"message,omitempty"`
	Result    string        `json:"result,omitempty"`
	IsError   bool          `json:"is_error,omitempty"`
}

// EventMessage is the message body of user and assistant events. Content is
// either a plain string or an array of content blocks depending on the tool
// and event, so it is decoded lazily.
type EventMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// ContentBlock is one element of a block-style message content array.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Text flattens the message content to plain text. Text blocks are joined
// with newlines in block order; non-text blocks (tool use, images) are
// skipped. This is the assistant-turn extraction.
func (m *EventMessage) Text() string {
	return strings.Join(m.textBlocks(), "\n")
}

// FirstText returns the first text block of the message content, or the
// whole content when it is a plain string. This is the user-turn extraction:
// a user event's trailing blocks are tool results, not prompt text.
func (m *EventMessage) FirstText() string {
	blocks := m.textBlocks()
	if len(blocks) == 0 {
		return ""
	}
	return blocks[0]
}

// textBlocks normalizes both content shapes to a slice of text block values.
func (m *EventMessage) textBlocks() []string {
	if m == nil || len(m.Content) == 0 {
		return nil
	}

	var plain string
	if err := json.Unmarshal(m.Content, &plain); err == nil {
		if plain == "" {
			return nil
		}
		return []string{plain}
	}

	var blocks []ContentBlock
	if err := json.Unmarshal(m.Content, &blocks); err != nil {
		return nil
	}
	var out []string
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			out = append(out, b.Text)
		}
	}
	return out
}

// parseStreamEvent decodes one NDJSON line. A false return means the line is
// not a structured event and should be ignored by the structured branches.
func parseStreamEvent(line string) (*StreamEvent, bool) {
	line = strings.TrimSpace(line)
	if line == "" || line[0] != '{' {
		return nil, false
	}
	var ev StreamEvent
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		return nil, false
	}
	if ev.Type == "" {
		return nil, false
	}
	return &ev, true
}
