// Package lifecycle is the session & panel registry: it owns the session
// state machine, panel activation and state merges, and the orchestration of
// tool processes through the managers.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/agentdeck/internal/domain"
	"github.com/ashureev/agentdeck/internal/events"
	"github.com/ashureev/agentdeck/internal/guard"
	"github.com/ashureev/agentdeck/internal/store"
	"github.com/ashureev/agentdeck/internal/tools"
)

// ToolRegistry is the slice of tools.Registry the service needs.
type ToolRegistry interface {
	Manager(id string) (tools.Manager, error)
	Definition(id string) (tools.Definition, bool)
}

// Service implements the registry operations over the persistent store.
type Service struct {
	store    store.Store
	bus      *events.Bus
	locks    *guard.KeyedMutex
	registry ToolRegistry
	cleanup  *cleanupWorker
	log      *slog.Logger
}

// NewService wires the registry service. Start the returned service's cleanup
// worker with Run.
func NewService(st store.Store, bus *events.Bus, locks *guard.KeyedMutex, registry ToolRegistry, log *slog.Logger) *Service {
	s := &Service{
		store:    st,
		bus:      bus,
		locks:    locks,
		registry: registry,
		log:      log.With("component", "lifecycle"),
	}
	s.cleanup = newCleanupWorker(log)
	return s
}

// Run starts background workers and blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	s.cleanup.run(ctx)
}

// CreateSessionParams carries the caller-supplied session fields.
type CreateSessionParams struct {
	ProjectID    string
	Name         string
	WorktreePath string
	ToolType     string
	IsMainRepo   bool
	AutoCommit   bool
}

// CreateSession creates a pending session at the end of the project's display
// order. The project must exist.
func (s *Service) CreateSession(ctx context.Context, params CreateSessionParams) (*domain.Session, error) {
	project, err := s.store.GetProject(ctx, params.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("load project: %w", err)
	}
	if project == nil {
		return nil, &domain.NotFoundError{Resource: "project", ID: params.ProjectID}
	}

	maxOrder, err := s.store.MaxDisplayOrder(ctx, params.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("compute display order: %w", err)
	}

	now := time.Now()
	session := &domain.Session{
		ID:           uuid.NewString(),
		ProjectID:    params.ProjectID,
		Name:         params.Name,
		Status:       domain.SessionPending,
		WorktreePath: params.WorktreePath,
		DisplayOrder: maxOrder + 1,
		IsMainRepo:   params.IsMainRepo,
		AutoCommit:   params.AutoCommit,
		ToolType:     params.ToolType,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.bus.Publish(events.Event{Type: events.EventSessionCreated, SessionID: session.ID, Data: session})
	s.log.Info("session created", "session_id", session.ID, "project_id", params.ProjectID, "name", params.Name)
	return session, nil
}

// GetSession returns a session by id.
func (s *Service) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	session, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, &domain.NotFoundError{Resource: "session", ID: id}
	}
	return session, nil
}

// ListSessions returns a project's sessions, optionally including archived
// ones.
func (s *Service) ListSessions(ctx context.Context, projectID string, includeArchived bool) ([]*domain.Session, error) {
	return s.store.ListSessions(ctx, projectID, includeArchived)
}

// CreatePanel attaches a panel to a session. The session must exist and not
// be archived; a session's first panel becomes active.
func (s *Service) CreatePanel(ctx context.Context, sessionID string, panelType domain.PanelType, title string, settings map[string]any) (*domain.Panel, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Archived {
		return nil, &domain.InvalidStateError{
			Op:     "create panel",
			Reason: "session " + sessionID + " is archived",
		}
	}

	existing, err := s.store.ListPanels(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list panels: %w", err)
	}

	panel := &domain.Panel{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Type:      panelType,
		Title:     title,
		Settings:  settings,
		CreatedAt: time.Now(),
	}
	if err := s.store.CreatePanel(ctx, panel); err != nil {
		return nil, fmt.Errorf("create panel: %w", err)
	}

	if len(existing) == 0 {
		if err := s.store.SetActivePanel(ctx, sessionID, panel.ID); err != nil {
			return nil, fmt.Errorf("activate first panel: %w", err)
		}
		panel.State.IsActive = true
	}

	s.bus.PublishSessionUpdated(session)
	s.log.Info("panel created", "panel_id", panel.ID, "session_id", sessionID, "type", panelType)
	return panel, nil
}

// SetActivePanel makes the given panel the session's single active panel.
// Activating the already-active panel is a no-op.
func (s *Service) SetActivePanel(ctx context.Context, sessionID, panelID string) error {
	panel, err := s.store.GetPanel(ctx, panelID)
	if err != nil {
		return fmt.Errorf("load panel: %w", err)
	}
	if panel == nil || panel.SessionID != sessionID {
		return &domain.NotFoundError{Resource: "panel", ID: panelID}
	}

	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.ActivePanelID == panelID {
		return nil
	}

	if err := s.store.SetActivePanel(ctx, sessionID, panelID); err != nil {
		return fmt.Errorf("set active panel: %w", err)
	}
	session.ActivePanelID = panelID
	s.bus.PublishSessionUpdated(session)
	return nil
}

// DeletePanel destroys a panel, stopping any live process bound to it first.
// When the deleted panel was the session's active one, the oldest remaining
// panel takes over.
func (s *Service) DeletePanel(ctx context.Context, sessionID, panelID string) error {
	session, panel, err := s.loadPair(ctx, sessionID, panelID)
	if err != nil {
		return err
	}

	if mgr, err := s.registry.Manager(string(panel.Type)); err == nil && mgr.IsPanelRunning(panelID) {
		if err := mgr.StopPanel(ctx, panelID); err != nil {
			return fmt.Errorf("stop panel process: %w", err)
		}
	}

	if err := s.store.DeletePanel(ctx, panelID); err != nil {
		return fmt.Errorf("delete panel: %w", err)
	}

	if session.ActivePanelID == panelID {
		remaining, err := s.store.ListPanels(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("list panels: %w", err)
		}
		nextActive := ""
		if len(remaining) > 0 {
			nextActive = remaining[0].ID
		}
		if err := s.store.SetActivePanel(ctx, sessionID, nextActive); err != nil {
			return fmt.Errorf("re-point active panel: %w", err)
		}
		session.ActivePanelID = nextActive
	}

	s.bus.PublishSessionUpdated(session)
	s.log.Info("panel deleted", "panel_id", panelID, "session_id", sessionID)
	return nil
}

// UpdatePanelState merges a partial state document into the panel's stored
// state under the panel's named lock, so concurrent merges never lose keys.
// The merged state is returned.
func (s *Service) UpdatePanelState(ctx context.Context, panelID string, partial map[string]any) (domain.PanelState, error) {
	var merged domain.PanelState
	err := s.locks.WithLock(ctx, "panel:"+panelID, func() error {
		panel, err := s.store.GetPanel(ctx, panelID)
		if err != nil {
			return fmt.Errorf("load panel: %w", err)
		}
		if panel == nil {
			return &domain.NotFoundError{Resource: "panel", ID: panelID}
		}
		merged = domain.MergePanelState(panel.State, partial)
		if err := s.store.UpdatePanelState(ctx, panelID, merged); err != nil {
			return fmt.Errorf("store panel state: %w", err)
		}
		return nil
	})
	return merged, err
}

// MarkSessionViewed stamps the session as viewed without touching its
// modification time, so completed sessions stop presenting as unviewed.
func (s *Service) MarkSessionViewed(ctx context.Context, sessionID string) error {
	return s.store.MarkSessionViewed(ctx, sessionID)
}

// SetSessionStatus applies a validated state-machine transition.
func (s *Service) SetSessionStatus(ctx context.Context, sessionID string, status domain.SessionStatus) error {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status == status {
		return nil
	}
	if !session.CanTransitionTo(status) {
		return &domain.InvalidStateError{
			Op:     "set session status",
			Reason: fmt.Sprintf("illegal transition %s -> %s", session.Status, status),
		}
	}
	if err := s.store.SetSessionStatus(ctx, sessionID, status, ""); err != nil {
		return fmt.Errorf("set session status: %w", err)
	}
	session.Status = status
	s.bus.PublishSessionUpdated(session)
	return nil
}

// ArchiveSession stops the session's live panel processes in parallel, marks
// the session archived, and schedules worktree cleanup in the background.
// Cleanup failure never fails archival.
func (s *Service) ArchiveSession(ctx context.Context, sessionID string) error {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Archived {
		return nil
	}

	panels, err := s.store.ListPanels(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("list panels: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, panel := range panels {
		mgr, err := s.registry.Manager(string(panel.Type))
		if err != nil {
			continue // not an agent panel, or tool unavailable: nothing to stop
		}
		if !mgr.IsPanelRunning(panel.ID) {
			continue
		}
		panelID := panel.ID
		g.Go(func() error {
			return mgr.StopPanel(gctx, panelID)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("stop panel processes: %w", err)
	}

	if err := s.store.SetSessionArchived(ctx, sessionID); err != nil {
		return fmt.Errorf("mark archived: %w", err)
	}

	if !session.IsMainRepo && session.WorktreePath != "" {
		s.cleanup.schedule(sessionID, session.WorktreePath)
	}

	session.Archived = true
	s.bus.Publish(events.Event{Type: events.EventSessionDeleted, SessionID: sessionID, Data: session})
	s.log.Info("session archived", "session_id", sessionID)
	return nil
}
