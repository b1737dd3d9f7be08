// Package tools abstracts the agent CLI programs a panel can attach to. Each
// tool gets a Manager that spawns, resumes, feeds and stops panel processes;
// the Registry owns one lazily created Manager per tool id.
package tools

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ashureev/agentdeck/internal/domain"
	"github.com/ashureev/agentdeck/internal/proc"
)

// Ingestor receives output chunks from managed processes. Satisfied by
// ingest.Pipeline.
type Ingestor interface {
	Ingest(ctx context.Context, sessionID, panelID string, kind domain.OutputKind, payload string) error
}

// ExitFunc is notified when a panel's process exits on its own, after the
// process has been removed from the manager's table. lastStderr carries the
// last stderr line seen, for error attribution.
type ExitFunc func(sessionID, panelID string, exitErr error, lastStderr string)

// Deps are the collaborators shared by all managers.
type Deps struct {
	Supervisor *proc.Supervisor
	Ingest     Ingestor
	Log        *slog.Logger
	OnExit     ExitFunc
}

// Manager drives one tool type's processes, keyed by panel id.
type Manager interface {
	// StartPanel spawns a fresh process for the panel with the given prompt.
	StartPanel(ctx context.Context, session *domain.Session, panel *domain.Panel, prompt string) error
	// ContinuePanel resumes the panel's previous agent conversation. It fails
	// with InvalidStateError when the panel never captured a resumption id.
	ContinuePanel(ctx context.Context, session *domain.Session, panel *domain.Panel, prompt string) error
	// SendInput delivers input to the panel's running process.
	SendInput(ctx context.Context, panelID, input string) error
	// StopPanel terminates the panel's process tree.
	StopPanel(ctx context.Context, panelID string) error
	// IsPanelRunning reports whether the panel has a live process.
	IsPanelRunning(panelID string) bool
}

// handle pairs a live process with its session attribution.
type handle struct {
	proc      *proc.Process
	sessionID string

	mu         sync.Mutex
	lastStderr string
}

func (h *handle) setStderr(line string) {
	h.mu.Lock()
	h.lastStderr = line
	h.mu.Unlock()
}

func (h *handle) stderr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastStderr
}

// panelProcs is the per-manager table of live processes keyed by panel id.
type panelProcs struct {
	mu sync.Mutex
	m  map[string]*handle
}

func newPanelProcs() *panelProcs {
	return &panelProcs{m: make(map[string]*handle)}
}

func (t *panelProcs) put(panelID string, h *handle) {
	t.mu.Lock()
	t.m[panelID] = h
	t.mu.Unlock()
}

func (t *panelProcs) get(panelID string) *handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.m[panelID]
}

// remove deletes the entry only if it still maps to h, so a replacement
// process registered for the same panel is never evicted by a stale exit.
func (t *panelProcs) remove(panelID string, h *handle) {
	t.mu.Lock()
	if t.m[panelID] == h {
		delete(t.m, panelID)
	}
	t.mu.Unlock()
}

func (t *panelProcs) running(panelID string) bool {
	h := t.get(panelID)
	if h == nil {
		return false
	}
	select {
	case <-h.proc.Done():
		return false
	default:
		return true
	}
}
