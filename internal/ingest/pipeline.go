// Package ingest turns raw tool output into persisted records: verbatim
// output lines, conversation messages and prompt markers derived from
// structured events, and bus notifications for anything listening.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/agentdeck/internal/domain"
	"github.com/ashureev/agentdeck/internal/events"
	"github.com/ashureev/agentdeck/internal/guard"
	"github.com/ashureev/agentdeck/internal/shared"
)

// maxPromptMarkerText bounds the prompt text stored on a marker. The full
// prompt is still in the conversation message.
const maxPromptMarkerText = 1000

// Store is the subset of persistence the pipeline needs.
type Store interface {
	AppendOutput(ctx context.Context, rec *domain.OutputRecord) (int64, error)
	AppendConversationMessage(ctx context.Context, msg *domain.ConversationMessage) error
	OpenPromptMarker(ctx context.Context, marker *domain.PromptMarker) error
	CloseLatestPromptMarker(ctx context.Context, sessionID, panelID string) error
	GetPanel(ctx context.Context, id string) (*domain.Panel, error)
	UpdatePanelState(ctx context.Context, id string, state domain.PanelState) error
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	SetSessionStatus(ctx context.Context, id string, status domain.SessionStatus, errorText string) error
	TouchSession(ctx context.Context, id string) error
}

// Pipeline ingests output lines for panels. Raw persistence never depends on
// structured parsing succeeding: the verbatim record is written first, and a
// malformed event line degrades to just that record.
type Pipeline struct {
	store        Store
	bus          *events.Bus
	locks        *guard.KeyedMutex
	log          *slog.Logger
	captureLines int

	mu       sync.Mutex
	captures map[string]*CaptureBuffer
}

// NewPipeline creates a pipeline over the given store and bus. locks must be
// the same keyed mutex the lifecycle service uses for panel state updates;
// captureLines bounds each panel's capture buffer.
func NewPipeline(st Store, bus *events.Bus, locks *guard.KeyedMutex, captureLines int, log *slog.Logger) *Pipeline {
	return &Pipeline{
		store:        st,
		bus:          bus,
		locks:        locks,
		log:          log.With("component", "ingest"),
		captureLines: captureLines,
		captures:     make(map[string]*CaptureBuffer),
	}
}

// StartCapture switches a panel into capture mode: subsequent output is held
// in a bounded in-memory buffer instead of being persisted. maxLines <= 0
// uses the configured bound.
func (p *Pipeline) StartCapture(panelID string, maxLines int) {
	if maxLines <= 0 {
		maxLines = p.captureLines
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.captures[panelID] = NewCaptureBuffer(maxLines)
}

// StopCapture ends capture mode for a panel and returns the buffered lines.
func (p *Pipeline) StopCapture(panelID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	buf, ok := p.captures[panelID]
	if !ok {
		return nil
	}
	delete(p.captures, panelID)
	return buf.Lines()
}

func (p *Pipeline) captureFor(panelID string) *CaptureBuffer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.captures[panelID]
}

// Ingest processes one output line for a panel. The record is persisted
// verbatim (or captured), structured events derive their side effects, and a
// bus notification always goes out.
func (p *Pipeline) Ingest(ctx context.Context, sessionID, panelID string, kind domain.OutputKind, payload string) error {
	rec := &domain.OutputRecord{
		SessionID: sessionID,
		PanelID:   panelID,
		Kind:      kind,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	// Capture mode swallows the chunk entirely; it surfaces only through
	// StopCapture.
	if buf := p.captureFor(panelID); buf != nil {
		buf.Append(payload)
		return nil
	}

	err := shared.RetryOnConflict(ctx, p.log, "append output", func() error {
		idx, err := p.store.AppendOutput(ctx, rec)
		if err != nil {
			return err
		}
		rec.Index = idx
		return nil
	})
	if err != nil {
		return fmt.Errorf("persist output record: %w", err)
	}

	if kind == domain.OutputJSON {
		if err := p.handleEvent(ctx, rec); err != nil {
			// The raw record is already durable; a derivation failure must
			// not stall the stream.
			p.log.Error("structured event handling failed",
				"session_id", sessionID, "panel_id", panelID, "err", err)
		}
	}

	p.bus.PublishOutput(rec)
	return nil
}

// handleEvent runs the structured branches for a persisted json record.
func (p *Pipeline) handleEvent(ctx context.Context, rec *domain.OutputRecord) error {
	ev, ok := parseStreamEvent(rec.Payload)
	if !ok {
		p.log.Debug("skipping unparseable event line",
			"panel_id", rec.PanelID, "len", len(rec.Payload))
		return nil
	}

	switch {
	case ev.Type == "system" && ev.Subtype == "init" && ev.SessionID != "":
		return p.captureAgentSessionID(ctx, rec.PanelID, ev.SessionID)

	case ev.Type == "user":
		return p.handleUserTurn(ctx, rec, ev)

	case ev.Type == "assistant":
		return p.handleAssistantTurn(ctx, rec, ev)

	case ev.Type == "result":
		return p.handleResult(ctx, rec, ev)
	}
	return nil
}

// captureAgentSessionID stores the tool-issued resumption id in the panel's
// custom state. Last write wins: a tool may re-issue the id on resume.
func (p *Pipeline) captureAgentSessionID(ctx context.Context, panelID, agentSessionID string) error {
	return p.locks.WithLock(ctx, panelLockName(panelID), func() error {
		panel, err := p.store.GetPanel(ctx, panelID)
		if err != nil {
			return fmt.Errorf("load panel: %w", err)
		}
		if panel == nil {
			return &domain.NotFoundError{Resource: "panel", ID: panelID}
		}
		merged := domain.MergePanelState(panel.State, map[string]any{
			"customState": map[string]any{
				domain.StateKeyAgentSessionID: agentSessionID,
				domain.StateKeyLastActivity:   time.Now().Format(time.RFC3339),
			},
		})
		if err := p.store.UpdatePanelState(ctx, panelID, merged); err != nil {
			return fmt.Errorf("store resumption id: %w", err)
		}
		p.log.Info("captured agent session id",
			"panel_id", panelID, "agent_session_id", agentSessionID)
		return nil
	})
}

func (p *Pipeline) handleUserTurn(ctx context.Context, rec *domain.OutputRecord, ev *StreamEvent) error {
	text := ev.Message.FirstText()
	if text == "" {
		return nil
	}

	msg := &domain.ConversationMessage{
		SessionID: rec.SessionID,
		PanelID:   rec.PanelID,
		Role:      domain.RoleUser,
		Content:   text,
		Timestamp: rec.Timestamp,
	}
	if err := p.store.AppendConversationMessage(ctx, msg); err != nil {
		return fmt.Errorf("append user message: %w", err)
	}

	marker := &domain.PromptMarker{
		SessionID:   rec.SessionID,
		PanelID:     rec.PanelID,
		PromptText:  truncate(text, maxPromptMarkerText),
		OutputIndex: rec.Index,
		Timestamp:   rec.Timestamp,
	}
	if err := p.store.OpenPromptMarker(ctx, marker); err != nil {
		return fmt.Errorf("open prompt marker: %w", err)
	}
	if err := p.store.TouchSession(ctx, rec.SessionID); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}

	p.bus.Publish(events.Event{
		Type:      events.EventPanelPromptAdded,
		SessionID: rec.SessionID,
		PanelID:   rec.PanelID,
		Payload:   marker.PromptText,
		Timestamp: rec.Timestamp,
	})
	return nil
}

func (p *Pipeline) handleAssistantTurn(ctx context.Context, rec *domain.OutputRecord, ev *StreamEvent) error {
	text := ev.Message.Text()
	if text == "" {
		// Tool-use-only turns carry no text; nothing conversational to keep.
		return nil
	}

	msg := &domain.ConversationMessage{
		SessionID: rec.SessionID,
		PanelID:   rec.PanelID,
		Role:      domain.RoleAssistant,
		Content:   text,
		Timestamp: rec.Timestamp,
	}
	if err := p.store.AppendConversationMessage(ctx, msg); err != nil {
		return fmt.Errorf("append assistant message: %w", err)
	}
	if err := p.store.TouchSession(ctx, rec.SessionID); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}

	p.bus.Publish(events.Event{
		Type:      events.EventPanelResponseAdded,
		SessionID: rec.SessionID,
		PanelID:   rec.PanelID,
		Payload:   text,
		Timestamp: rec.Timestamp,
	})
	return nil
}

// handleResult closes the open prompt marker and completes the session's
// turn. A result flagged as an error moves the session to the error status
// instead.
func (p *Pipeline) handleResult(ctx context.Context, rec *domain.OutputRecord, ev *StreamEvent) error {
	if err := p.store.CloseLatestPromptMarker(ctx, rec.SessionID, rec.PanelID); err != nil {
		return fmt.Errorf("close prompt marker: %w", err)
	}

	session, err := p.store.GetSession(ctx, rec.SessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if session == nil {
		return &domain.NotFoundError{Resource: "session", ID: rec.SessionID}
	}

	next := domain.SessionCompleted
	errorText := ""
	if ev.IsError {
		next = domain.SessionError
		errorText = ev.Result
	}
	if session.CanTransitionTo(next) {
		if err := p.store.SetSessionStatus(ctx, session.ID, next, errorText); err != nil {
			return fmt.Errorf("set session status: %w", err)
		}
		session.Status = next
		session.ErrorText = errorText
		p.bus.PublishSessionUpdated(session)
	}
	return nil
}

func panelLockName(panelID string) string {
	return "panel:" + panelID
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
