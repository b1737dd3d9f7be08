package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/agentdeck/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "agentdeck.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return s
}

func seedProject(t *testing.T, s *SQLiteStore) *domain.Project {
	t.Helper()
	p := &domain.Project{ID: "proj-1", Name: "demo", Path: "/tmp/demo", CreatedAt: time.Now()}
	if err := s.CreateProject(context.Background(), p); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	return p
}

func seedSession(t *testing.T, s *SQLiteStore, id string) *domain.Session {
	t.Helper()
	now := time.Now()
	session := &domain.Session{
		ID:        id,
		ProjectID: "proj-1",
		Name:      "session " + id,
		Status:    domain.SessionPending,
		ToolType:  "claude",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return session
}

func TestSessionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	seedProject(t, s)
	seedSession(t, s, "sess-1")

	got, err := s.GetSession(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got == nil {
		t.Fatal("GetSession returned nil for existing session")
	}
	if got.Status != domain.SessionPending {
		t.Errorf("Status = %v, want pending", got.Status)
	}
	if got.ToolType != "claude" {
		t.Errorf("ToolType = %q, want claude", got.ToolType)
	}

	missing, err := s.GetSession(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetSession(missing): %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for missing session, got %+v", missing)
	}
}

func TestMaxDisplayOrder_SharedSpace(t *testing.T) {
	s := newTestStore(t)
	seedProject(t, s)
	ctx := context.Background()

	max, err := s.MaxDisplayOrder(ctx, "proj-1")
	if err != nil {
		t.Fatalf("MaxDisplayOrder: %v", err)
	}
	if max != -1 {
		t.Errorf("empty ordering space: got %d, want -1", max)
	}

	seedSession(t, s, "sess-1")

	folder := &domain.Folder{ID: "folder-1", ProjectID: "proj-1", Name: "epics", DisplayOrder: 5, CreatedAt: time.Now()}
	if err := s.CreateFolder(ctx, folder); err != nil {
		t.Fatalf("CreateFolder: %v", err)
	}

	max, err = s.MaxDisplayOrder(ctx, "proj-1")
	if err != nil {
		t.Fatalf("MaxDisplayOrder: %v", err)
	}
	// Folders and sessions share one ordering space; the folder's order wins.
	if max != 5 {
		t.Errorf("MaxDisplayOrder = %d, want 5", max)
	}
}

func TestSetSessionStatus_Missing(t *testing.T) {
	s := newTestStore(t)
	err := s.SetSessionStatus(context.Background(), "ghost", domain.SessionRunning, "")
	var nf *domain.NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}

func TestSetActivePanel_ExactlyOneActive(t *testing.T) {
	s := newTestStore(t)
	seedProject(t, s)
	seedSession(t, s, "sess-1")
	ctx := context.Background()

	for _, id := range []string{"panel-a", "panel-b", "panel-c"} {
		panel := &domain.Panel{ID: id, SessionID: "sess-1", Type: domain.PanelTypeClaude, CreatedAt: time.Now()}
		if err := s.CreatePanel(ctx, panel); err != nil {
			t.Fatalf("CreatePanel(%s): %v", id, err)
		}
	}

	for _, active := range []string{"panel-a", "panel-c", "panel-b"} {
		if err := s.SetActivePanel(ctx, "sess-1", active); err != nil {
			t.Fatalf("SetActivePanel(%s): %v", active, err)
		}

		panels, err := s.ListPanels(ctx, "sess-1")
		if err != nil {
			t.Fatalf("ListPanels: %v", err)
		}
		var activeCount int
		for _, p := range panels {
			if p.State.IsActive {
				activeCount++
				if p.ID != active {
					t.Errorf("active panel = %s, want %s", p.ID, active)
				}
			}
		}
		if activeCount != 1 {
			t.Errorf("active panel count = %d, want exactly 1", activeCount)
		}

		sess, err := s.GetSession(ctx, "sess-1")
		if err != nil {
			t.Fatalf("GetSession: %v", err)
		}
		if sess.ActivePanelID != active {
			t.Errorf("ActivePanelID = %s, want %s", sess.ActivePanelID, active)
		}
	}
}

func TestOutputOrderAndLimit(t *testing.T) {
	s := newTestStore(t)
	seedProject(t, s)
	seedSession(t, s, "sess-1")
	ctx := context.Background()

	payloads := []string{"c1", "c2", "c3"}
	for _, p := range payloads {
		rec := &domain.OutputRecord{
			SessionID: "sess-1",
			PanelID:   "panel-a",
			Kind:      domain.OutputStdout,
			Payload:   p,
			Timestamp: time.Now(),
		}
		if _, err := s.AppendOutput(ctx, rec); err != nil {
			t.Fatalf("AppendOutput(%s): %v", p, err)
		}
	}

	recs, err := s.ListOutputs(ctx, "sess-1", "panel-a", 0)
	if err != nil {
		t.Fatalf("ListOutputs: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
	for i, want := range payloads {
		if recs[i].Payload != want {
			t.Errorf("record %d payload = %q, want %q", i, recs[i].Payload, want)
		}
	}

	// Limit returns the most recent records, still in insertion order.
	tail, err := s.ListOutputs(ctx, "sess-1", "panel-a", 2)
	if err != nil {
		t.Fatalf("ListOutputs(limit): %v", err)
	}
	if len(tail) != 2 || tail[0].Payload != "c2" || tail[1].Payload != "c3" {
		t.Errorf("tail = %v, want [c2 c3]", payloadsOf(tail))
	}
}

func TestPromptMarkerPairing(t *testing.T) {
	s := newTestStore(t)
	seedProject(t, s)
	seedSession(t, s, "sess-1")
	ctx := context.Background()

	open := func(text string) {
		m := &domain.PromptMarker{
			SessionID: "sess-1", PanelID: "panel-a",
			PromptText: text, OutputIndex: 1, Timestamp: time.Now(),
		}
		if err := s.OpenPromptMarker(ctx, m); err != nil {
			t.Fatalf("OpenPromptMarker(%s): %v", text, err)
		}
	}

	// open, open, close: only the most recent marker gets closed.
	open("first")
	open("second")
	if err := s.CloseLatestPromptMarker(ctx, "sess-1", "panel-a"); err != nil {
		t.Fatalf("CloseLatestPromptMarker: %v", err)
	}

	markers, err := s.ListPromptMarkers(ctx, "sess-1", "panel-a")
	if err != nil {
		t.Fatalf("ListPromptMarkers: %v", err)
	}
	if len(markers) != 2 {
		t.Fatalf("got %d markers, want 2", len(markers))
	}
	if markers[0].CompletionTimestamp != nil {
		t.Error("first marker should still be open")
	}
	if markers[1].CompletionTimestamp == nil {
		t.Error("second marker should be closed")
	}
}

func TestPanelStateRoundTrip(t *testing.T) {
	s := newTestStore(t)
	seedProject(t, s)
	seedSession(t, s, "sess-1")
	ctx := context.Background()

	panel := &domain.Panel{
		ID:        "panel-a",
		SessionID: "sess-1",
		Type:      domain.PanelTypeClaude,
		Title:     "agent",
		State: domain.PanelState{
			Custom: map[string]any{domain.StateKeyAgentSessionID: "resume-123"},
		},
		Settings:  map[string]any{"model": "sonnet"},
		CreatedAt: time.Now(),
	}
	if err := s.CreatePanel(ctx, panel); err != nil {
		t.Fatalf("CreatePanel: %v", err)
	}

	got, err := s.GetPanel(ctx, "panel-a")
	if err != nil {
		t.Fatalf("GetPanel: %v", err)
	}
	if got.ResumptionID() != "resume-123" {
		t.Errorf("ResumptionID = %q, want resume-123", got.ResumptionID())
	}
	if got.Settings["model"] != "sonnet" {
		t.Errorf("Settings[model] = %v, want sonnet", got.Settings["model"])
	}
}

func payloadsOf(recs []*domain.OutputRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Payload
	}
	return out
}
