// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/ashureev/agentdeck/internal/domain"
)

// Store defines the interface for persisting the session/panel resource graph
// and the records derived from tool output. The running-script tracker is
// process-lifetime state and is deliberately absent.
type Store interface {
	// Projects and folders. Folders share a display-ordering space with their
	// sibling sessions.
	CreateProject(ctx context.Context, project *domain.Project) error
	GetProject(ctx context.Context, id string) (*domain.Project, error)
	CreateFolder(ctx context.Context, folder *domain.Folder) error

	// MaxDisplayOrder returns the highest display order used by any session or
	// folder in the project, or -1 when the ordering space is empty.
	MaxDisplayOrder(ctx context.Context, projectID string) (int, error)

	// Sessions. Sessions are archived, never deleted.
	CreateSession(ctx context.Context, session *domain.Session) error
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	ListSessions(ctx context.Context, projectID string, includeArchived bool) ([]*domain.Session, error)
	SetSessionStatus(ctx context.Context, id string, status domain.SessionStatus, errorText string) error
	SetSessionArchived(ctx context.Context, id string) error
	SetActivePanel(ctx context.Context, sessionID, panelID string) error
	MarkSessionViewed(ctx context.Context, id string) error
	TouchSession(ctx context.Context, id string) error

	// Panels. UpdatePanelState replaces the stored blob; additive merge
	// semantics are provided above the store under a per-panel lock.
	CreatePanel(ctx context.Context, panel *domain.Panel) error
	GetPanel(ctx context.Context, id string) (*domain.Panel, error)
	ListPanels(ctx context.Context, sessionID string) ([]*domain.Panel, error)
	UpdatePanelState(ctx context.Context, id string, state domain.PanelState) error
	UpdatePanelSettings(ctx context.Context, id string, settings map[string]any) error
	DeletePanel(ctx context.Context, id string) error

	// Output records: append-only, stable insertion order per panel.
	AppendOutput(ctx context.Context, rec *domain.OutputRecord) (int64, error)
	ListOutputs(ctx context.Context, sessionID, panelID string, limit int) ([]*domain.OutputRecord, error)

	// Conversation messages: append-only.
	AppendConversationMessage(ctx context.Context, msg *domain.ConversationMessage) error
	ListConversationMessages(ctx context.Context, sessionID, panelID string) ([]*domain.ConversationMessage, error)

	// Prompt markers. CloseLatestPromptMarker stamps the completion timestamp
	// on the most recently opened marker that is still open.
	OpenPromptMarker(ctx context.Context, marker *domain.PromptMarker) error
	CloseLatestPromptMarker(ctx context.Context, sessionID, panelID string) error
	ListPromptMarkers(ctx context.Context, sessionID, panelID string) ([]*domain.PromptMarker, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
