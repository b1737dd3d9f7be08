package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/agentdeck/internal/domain"
	"github.com/ashureev/agentdeck/internal/proc"
)

// codexManager drives Codex CLI panels. Codex runs one turn per `exec`
// invocation and emits JSON events on stdout with --json; conversations
// resume through `exec resume <id>`.
type codexManager struct {
	def   Definition
	deps  Deps
	procs *panelProcs
	log   *slog.Logger
}

func newCodexManager(def Definition, deps Deps) Manager {
	return &codexManager{
		def:   def,
		deps:  deps,
		procs: newPanelProcs(),
		log:   deps.Log.With("tool", def.ID),
	}
}

func codexArgs(prompt, resumeID string) []string {
	if resumeID != "" {
		return []string{"exec", "resume", resumeID, "--json", prompt}
	}
	return []string{"exec", "--json", prompt}
}

func (m *codexManager) StartPanel(ctx context.Context, session *domain.Session, panel *domain.Panel, prompt string) error {
	return m.launch(session, panel, codexArgs(prompt, ""))
}

func (m *codexManager) ContinuePanel(ctx context.Context, session *domain.Session, panel *domain.Panel, prompt string) error {
	resumeID := panel.ResumptionID()
	if resumeID == "" {
		return &domain.InvalidStateError{
			Op:     "continue panel",
			Reason: "panel " + panel.ID + " has no captured agent session id",
		}
	}
	return m.launch(session, panel, codexArgs(prompt, resumeID))
}

func (m *codexManager) launch(session *domain.Session, panel *domain.Panel, args []string) error {
	if m.procs.running(panel.ID) {
		return &domain.InvalidStateError{
			Op:     "start panel",
			Reason: "panel " + panel.ID + " already has a running process",
		}
	}

	h := &handle{sessionID: session.ID}
	spec := proc.Spec{
		Command: m.def.Binary,
		Args:    args,
		Dir:     workDir(session),
		OnStdout: func(line string) {
			kind := domain.OutputStdout
			if strings.HasPrefix(strings.TrimSpace(line), "{") {
				kind = domain.OutputJSON
			}
			m.ingest(session.ID, panel.ID, kind, line)
		},
		OnStderr: func(line string) {
			h.setStderr(line)
			m.ingest(session.ID, panel.ID, domain.OutputStderr, line)
		},
	}

	p, err := m.deps.Supervisor.Spawn(spec)
	if err != nil {
		return fmt.Errorf("spawn %s: %w", m.def.Binary, err)
	}
	h.proc = p
	m.procs.put(panel.ID, h)

	go func() {
		<-p.Done()
		m.procs.remove(panel.ID, h)
		if m.deps.OnExit != nil {
			m.deps.OnExit(session.ID, panel.ID, p.ExitErr(), h.stderr())
		}
	}()
	return nil
}

func (m *codexManager) ingest(sessionID, panelID string, kind domain.OutputKind, payload string) {
	if err := m.deps.Ingest.Ingest(context.Background(), sessionID, panelID, kind, payload); err != nil {
		m.log.Error("ingest failed", "panel_id", panelID, "kind", kind, "err", err)
	}
}

// SendInput is not supported: codex exec reads no input mid-turn.
func (m *codexManager) SendInput(ctx context.Context, panelID, input string) error {
	if !m.procs.running(panelID) {
		return &domain.NotRunningError{PanelID: panelID}
	}
	return &domain.InvalidStateError{
		Op:     "send input",
		Reason: "codex exec does not accept input mid-turn",
	}
}

func (m *codexManager) StopPanel(ctx context.Context, panelID string) error {
	h := m.procs.get(panelID)
	if h == nil {
		return nil
	}
	return m.deps.Supervisor.Terminate(ctx, h.proc.PID())
}

func (m *codexManager) IsPanelRunning(panelID string) bool {
	return m.procs.running(panelID)
}
