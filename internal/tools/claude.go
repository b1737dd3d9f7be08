package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/agentdeck/internal/domain"
	"github.com/ashureev/agentdeck/internal/proc"
)

// claudeManager drives Claude Code panels over the stream-json protocol: one
// JSON event per stdout line, prompts delivered as argv or stdin messages,
// conversations resumed by the agent session id captured from the init event.
type claudeManager struct {
	def   Definition
	deps  Deps
	procs *panelProcs
	log   *slog.Logger
}

func newClaudeManager(def Definition, deps Deps) Manager {
	return &claudeManager{
		def:   def,
		deps:  deps,
		procs: newPanelProcs(),
		log:   deps.Log.With("tool", def.ID),
	}
}

// claudeArgs builds the CLI invocation. resumeID empty means a fresh
// conversation.
func claudeArgs(prompt, resumeID string) []string {
	args := []string{"-p", prompt, "--output-format", "stream-json", "--verbose"}
	if resumeID != "" {
		args = append(args, "--resume", resumeID)
	}
	return args
}

func (m *claudeManager) StartPanel(ctx context.Context, session *domain.Session, panel *domain.Panel, prompt string) error {
	return m.launch(session, panel, claudeArgs(prompt, ""))
}

func (m *claudeManager) ContinuePanel(ctx context.Context, session *domain.Session, panel *domain.Panel, prompt string) error {
	resumeID := panel.ResumptionID()
	if resumeID == "" {
		return &domain.InvalidStateError{
			Op:     "continue panel",
			Reason: "panel " + panel.ID + " has no captured agent session id",
		}
	}
	return m.launch(session, panel, claudeArgs(prompt, resumeID))
}

func (m *claudeManager) launch(session *domain.Session, panel *domain.Panel, args []string) error {
	if m.procs.running(panel.ID) {
		return &domain.InvalidStateError{
			Op:     "start panel",
			Reason: "panel " + panel.ID + " already has a running process",
		}
	}

	h := &handle{sessionID: session.ID}
	spec := proc.Spec{
		Command:  m.def.Binary,
		Args:     args,
		Dir:      workDir(session),
		OnStdout: m.stdoutIngestor(session.ID, panel.ID),
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

// stdoutIngestor classifies stdout lines: stream-json events are structured,
// anything else is plain stdout.
func (m *claudeManager) stdoutIngestor(sessionID, panelID string) func(string) {
	return func(line string) {
		kind := domain.OutputStdout
		if strings.HasPrefix(strings.TrimSpace(line), "{") {
			kind = domain.OutputJSON
		}
		m.ingest(sessionID, panelID, kind, line)
	}
}

func (m *claudeManager) ingest(sessionID, panelID string, kind domain.OutputKind, payload string) {
	if err := m.deps.Ingest.Ingest(context.Background(), sessionID, panelID, kind, payload); err != nil {
		m.log.Error("ingest failed", "panel_id", panelID, "kind", kind, "err", err)
	}
}

// SendInput writes a stream-json user message to the process's stdin.
func (m *claudeManager) SendInput(ctx context.Context, panelID, input string) error {
	h := m.procs.get(panelID)
	if h == nil || !m.procs.running(panelID) {
		return &domain.NotRunningError{PanelID: panelID}
	}

	msg := map[string]any{
		"type": "user",
		"message": map[string]any{
			"role": "user",
			"content": []map[string]string{
				{"type": "text", "text": input},
			},
		},
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode input message: %w", err)
	}
	return h.proc.WriteInput(append(data, '\n'))
}

func (m *claudeManager) StopPanel(ctx context.Context, panelID string) error {
	h := m.procs.get(panelID)
	if h == nil {
		return nil
	}
	return m.deps.Supervisor.Terminate(ctx, h.proc.PID())
}

func (m *claudeManager) IsPanelRunning(panelID string) bool {
	return m.procs.running(panelID)
}

// workDir returns the directory the panel's process runs in: the session's
// worktree checkout when it has one.
func workDir(session *domain.Session) string {
	return session.WorktreePath
}
