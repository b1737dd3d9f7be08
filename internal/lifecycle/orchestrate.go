package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/agentdeck/internal/domain"
)

// StartPanel spawns a fresh tool process for the panel with the given prompt,
// moving the session through initializing to running.
func (s *Service) StartPanel(ctx context.Context, sessionID, panelID, prompt string) error {
	return s.launchPanel(ctx, sessionID, panelID, prompt, false)
}

// ContinuePanel resumes the panel's previous agent conversation with a new
// prompt. A panel that never captured a resumption id yields an
// InvalidStateError; the caller decides whether to fall back to StartPanel.
func (s *Service) ContinuePanel(ctx context.Context, sessionID, panelID, prompt string) error {
	return s.launchPanel(ctx, sessionID, panelID, prompt, true)
}

func (s *Service) launchPanel(ctx context.Context, sessionID, panelID, prompt string, resume bool) error {
	session, panel, err := s.loadPair(ctx, sessionID, panelID)
	if err != nil {
		return err
	}
	if session.Archived {
		return &domain.InvalidStateError{Op: "start panel", Reason: "session is archived"}
	}

	mgr, err := s.registry.Manager(string(panel.Type))
	if err != nil {
		return err
	}

	if session.CanTransitionTo(domain.SessionInitializing) {
		if err := s.SetSessionStatus(ctx, sessionID, domain.SessionInitializing); err != nil {
			return err
		}
		session.Status = domain.SessionInitializing
	}

	// A fresh start drops the stale resumption id before the process spawns,
	// so a racing init event for the new conversation is never clobbered.
	custom := map[string]any{
		domain.StateKeyPanelStatus: domain.PanelPhaseInitializing,
		domain.StateKeyLastPrompt:  prompt,
	}
	if !resume {
		custom[domain.StateKeyAgentSessionID] = ""
	}
	s.mergePanelCustom(ctx, panelID, custom)

	if resume {
		err = mgr.ContinuePanel(ctx, session, panel, prompt)
	} else {
		err = mgr.StartPanel(ctx, session, panel, prompt)
	}
	if err != nil {
		var invalid *domain.InvalidStateError
		if !errors.As(err, &invalid) {
			// Spawn failure, not a precondition: the session is broken.
			if serr := s.store.SetSessionStatus(ctx, sessionID, domain.SessionError, err.Error()); serr != nil {
				s.log.Error("failed to record spawn error", "session_id", sessionID, "err", serr)
			}
			s.mergePanelCustom(ctx, panelID, map[string]any{
				domain.StateKeyPanelStatus: domain.PanelPhaseError,
			})
		}
		return err
	}

	s.mergePanelCustom(ctx, panelID, map[string]any{
		domain.StateKeyPanelStatus: domain.PanelPhaseRunning,
	})
	return s.SetSessionStatus(ctx, sessionID, domain.SessionRunning)
}

// SendInput delivers input to the panel's running process and moves a waiting
// session back to running.
func (s *Service) SendInput(ctx context.Context, sessionID, panelID, input string) error {
	session, panel, err := s.loadPair(ctx, sessionID, panelID)
	if err != nil {
		return err
	}

	mgr, err := s.registry.Manager(string(panel.Type))
	if err != nil {
		return err
	}
	if err := mgr.SendInput(ctx, panelID, input); err != nil {
		return err
	}

	if session.Status == domain.SessionWaiting {
		return s.SetSessionStatus(ctx, sessionID, domain.SessionRunning)
	}
	return s.store.TouchSession(ctx, sessionID)
}

// StopPanel terminates the panel's process tree and marks the session
// stopped.
func (s *Service) StopPanel(ctx context.Context, sessionID, panelID string) error {
	session, panel, err := s.loadPair(ctx, sessionID, panelID)
	if err != nil {
		return err
	}

	mgr, err := s.registry.Manager(string(panel.Type))
	if err != nil {
		return err
	}
	if err := mgr.StopPanel(ctx, panelID); err != nil {
		return fmt.Errorf("stop panel process: %w", err)
	}
	s.mergePanelCustom(ctx, panelID, map[string]any{
		domain.StateKeyPanelStatus: domain.PanelPhaseStopped,
	})

	if session.CanTransitionTo(domain.SessionStopped) {
		return s.SetSessionStatus(ctx, sessionID, domain.SessionStopped)
	}
	return nil
}

// IsPanelRunning reports whether the panel has a live process.
func (s *Service) IsPanelRunning(ctx context.Context, panelID string) bool {
	panel, err := s.store.GetPanel(ctx, panelID)
	if err != nil || panel == nil {
		return false
	}
	mgr, err := s.registry.Manager(string(panel.Type))
	if err != nil {
		return false
	}
	return mgr.IsPanelRunning(panelID)
}

// HandleProcessExit is the managers' exit hook. A process that dies while the
// session is still live either completed its turn quietly (clean exit) or
// failed: a non-zero exit without a prior result event becomes an error
// status carrying the last stderr line.
func (s *Service) HandleProcessExit(sessionID, panelID string, exitErr error, lastStderr string) {
	ctx := context.Background()
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil || session == nil {
		s.log.Error("exit hook could not load session", "session_id", sessionID, "err", err)
		return
	}

	// The process is gone either way; the panel phase reflects that even when
	// a result event already settled the session.
	phase := domain.PanelPhaseStopped
	if exitErr != nil {
		phase = domain.PanelPhaseError
	}
	s.mergePanelCustom(ctx, panelID, map[string]any{domain.StateKeyPanelStatus: phase})

	switch session.Status {
	case domain.SessionInitializing, domain.SessionRunning, domain.SessionWaiting:
	default:
		// A result event already settled the session.
		return
	}

	next := domain.SessionCompleted
	errorText := ""
	if exitErr != nil {
		next = domain.SessionError
		errorText = lastStderr
		if errorText == "" {
			errorText = exitErr.Error()
		}
	}
	if !session.CanTransitionTo(next) {
		return
	}
	if err := s.store.SetSessionStatus(ctx, sessionID, next, errorText); err != nil {
		s.log.Error("exit hook could not set status", "session_id", sessionID, "err", err)
		return
	}
	session.Status = next
	session.ErrorText = errorText
	s.bus.PublishSessionUpdated(session)
	s.log.Info("process exit settled session",
		"session_id", sessionID, "panel_id", panelID, "status", next, "exit_err", exitErr)
}

// mergePanelCustom folds tool-run metadata into the panel's custom state and
// stamps the activity time. Phase bookkeeping is best effort: a merge failure
// is logged and never fails the surrounding operation.
func (s *Service) mergePanelCustom(ctx context.Context, panelID string, custom map[string]any) {
	custom[domain.StateKeyLastActivity] = time.Now().Format(time.RFC3339)
	if _, err := s.UpdatePanelState(ctx, panelID, map[string]any{"customState": custom}); err != nil {
		s.log.Warn("panel state merge failed", "panel_id", panelID, "err", err)
	}
}

func (s *Service) loadPair(ctx context.Context, sessionID, panelID string) (*domain.Session, *domain.Panel, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	panel, err := s.store.GetPanel(ctx, panelID)
	if err != nil {
		return nil, nil, fmt.Errorf("load panel: %w", err)
	}
	if panel == nil || panel.SessionID != sessionID {
		return nil, nil, &domain.NotFoundError{Resource: "panel", ID: panelID}
	}
	return session, panel, nil
}
