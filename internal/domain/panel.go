package domain

import (
	"encoding/json"
	"time"
)

// PanelType identifies the kind of tool attached to a panel.
type PanelType string

const (
	PanelTypeClaude  PanelType = "claude"
	PanelTypeCodex   PanelType = "codex"
	PanelTypeShell   PanelType = "shell"
	PanelTypeDiff    PanelType = "diff"
	PanelTypeLazygit PanelType = "lazygit"
	PanelTypeBrowser PanelType = "browser"
	PanelTypeEditor  PanelType = "editor"
)

// Custom-state keys shared by the agent tool managers. Each tool type owns its
// own sub-keys; these are the ones the engine itself reads back.
const (
	StateKeyAgentSessionID = "agentSessionId" // resumption id captured from init events
	StateKeyPanelStatus    = "status"         // per-type run phase
	StateKeyLastActivity   = "lastActivityTime"
	StateKeyLastPrompt     = "lastPrompt"
)

// Run phases stored under StateKeyPanelStatus.
const (
	PanelPhaseInitializing = "initializing"
	PanelPhaseRunning      = "running"
	PanelPhaseStopped      = "stopped"
	PanelPhaseError        = "error"
)

// PanelState is the free-form state blob stored with each panel. Custom holds
// the tool-type-specific map (resumption id, run phase, last activity).
type PanelState struct {
	IsActive      bool           `json:"isActive"`
	HasBeenViewed bool           `json:"hasBeenViewed"`
	Custom        map[string]any `json:"customState,omitempty"`
}

// Panel is an addressable sub-resource of a session representing one attached
// tool instance. At most one panel per session is active; the Registry, not
// the panel, enforces that.
type Panel struct {
	ID        string
	SessionID string
	Type      PanelType
	Title     string
	State     PanelState
	Settings  map[string]any // model choice, sandbox policy, etc.
	CreatedAt time.Time
}

// ResumptionID returns the captured agent session id, if any.
func (p *Panel) ResumptionID() string {
	if p.State.Custom == nil {
		return ""
	}
	id, _ := p.State.Custom[StateKeyAgentSessionID].(string)
	return id
}

// Phase returns the run phase recorded in custom state, if any.
func (p *Panel) Phase() string {
	if p.State.Custom == nil {
		return ""
	}
	phase, _ := p.State.Custom[StateKeyPanelStatus].(string)
	return phase
}

// StateJSON serializes the state blob for storage.
func (p *Panel) StateJSON() (string, error) {
	b, err := json.Marshal(p.State)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
