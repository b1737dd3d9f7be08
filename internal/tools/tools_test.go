//go:build !windows

package tools

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/agentdeck/internal/domain"
	"github.com/ashureev/agentdeck/internal/guard"
	"github.com/ashureev/agentdeck/internal/proc"
)

// recordingIngestor collects ingested chunks for assertions.
type recordingIngestor struct {
	mu     sync.Mutex
	chunks []ingestedChunk
}

type ingestedChunk struct {
	SessionID string
	PanelID   string
	Kind      domain.OutputKind
	Payload   string
}

func (r *recordingIngestor) Ingest(_ context.Context, sessionID, panelID string, kind domain.OutputKind, payload string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, ingestedChunk{sessionID, panelID, kind, payload})
	return nil
}

func (r *recordingIngestor) byKind(kind domain.OutputKind) []ingestedChunk {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ingestedChunk
	for _, c := range r.chunks {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

func testDeps(t *testing.T, onExit ExitFunc) (Deps, *recordingIngestor) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ing := &recordingIngestor{}
	return Deps{
		Supervisor: proc.NewSupervisor(log),
		Ingest:     ing,
		Log:        log,
		OnExit:     onExit,
	}, ing
}

// installFakeTool writes an executable shell script named name into a temp
// dir and prepends the dir to PATH for the test.
func installFakeTool(t *testing.T, name, body string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake tool: %v", err)
	}
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func TestClaudeArgs(t *testing.T) {
	got := claudeArgs("fix it", "")
	want := []string{"-p", "fix it", "--output-format", "stream-json", "--verbose"}
	if len(got) != len(want) {
		t.Fatalf("args = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("args = %v, want %v", got, want)
		}
	}

	got = claudeArgs("more", "abc-123")
	if got[len(got)-2] != "--resume" || got[len(got)-1] != "abc-123" {
		t.Errorf("resume args = %v, want trailing --resume abc-123", got)
	}
}

func TestCodexArgs(t *testing.T) {
	got := codexArgs("fix it", "")
	if got[0] != "exec" || got[1] != "--json" || got[2] != "fix it" {
		t.Errorf("args = %v", got)
	}

	got = codexArgs("more", "abc-123")
	if got[0] != "exec" || got[1] != "resume" || got[2] != "abc-123" {
		t.Errorf("resume args = %v", got)
	}
}

func TestRegistryAvailability(t *testing.T) {
	deps, _ := testDeps(t, nil)
	r := NewRegistry(deps)
	r.Register(Definition{ID: "sh-tool", Binary: "sh"}, newClaudeManager)
	r.Register(Definition{ID: "ghost", Binary: "agentdeck-test-no-such-binary"}, newClaudeManager)

	if err := r.Available("sh-tool"); err != nil {
		t.Errorf("Available(sh-tool): %v", err)
	}

	err := r.Available("ghost")
	var unavailable *domain.ToolUnavailableError
	if !errors.As(err, &unavailable) {
		t.Errorf("Available(ghost) = %v, want ToolUnavailableError", err)
	}

	if _, err := r.Manager("ghost"); err == nil {
		t.Error("Manager(ghost) succeeded for unavailable binary")
	}

	err = r.Available("unknown")
	var notFound *domain.NotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("Available(unknown) = %v, want NotFoundError", err)
	}

	// Cache survives until invalidated; invalidation re-probes cleanly.
	r.InvalidateAvailability()
	if err := r.Available("sh-tool"); err != nil {
		t.Errorf("Available after invalidation: %v", err)
	}
}

func TestRegistryCachesInstance(t *testing.T) {
	deps, _ := testDeps(t, nil)
	r := NewRegistry(deps)
	r.Register(Definition{ID: "sh-tool", Binary: "sh"}, newClaudeManager)

	m1, err := r.Manager("sh-tool")
	if err != nil {
		t.Fatalf("Manager: %v", err)
	}
	m2, err := r.Manager("sh-tool")
	if err != nil {
		t.Fatalf("Manager: %v", err)
	}
	if m1 != m2 {
		t.Error("Manager returned distinct instances for one tool id")
	}
}

func TestClaudeManagerLifecycle(t *testing.T) {
	// Fake claude: emit an init event, echo one stdin message back as an
	// assistant event, then finish with a result event.
	installFakeTool(t, "claude", `
echo '{"type":"system","subtype":"init","session_id":"agent-xyz"}'
read line
echo '{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"done"}]}}'
echo '{"type":"result","subtype":"success","result":"ok"}'
`)

	exited := make(chan string, 1)
	deps, ing := testDeps(t, func(sessionID, panelID string, exitErr error, lastStderr string) {
		exited <- panelID
	})

	r := NewDefaultRegistry(deps)
	m, err := r.Manager("claude")
	if err != nil {
		t.Fatalf("Manager: %v", err)
	}

	session := &domain.Session{ID: "sess-1"}
	panel := &domain.Panel{ID: "panel-a", SessionID: "sess-1", Type: domain.PanelTypeClaude}

	if err := m.StartPanel(context.Background(), session, panel, "hello"); err != nil {
		t.Fatalf("StartPanel: %v", err)
	}
	if !m.IsPanelRunning("panel-a") {
		t.Error("IsPanelRunning = false right after start")
	}

	// Double start is rejected while the process lives.
	err = m.StartPanel(context.Background(), session, panel, "again")
	var inv *domain.InvalidStateError
	if !errors.As(err, &inv) {
		t.Errorf("second StartPanel = %v, want InvalidStateError", err)
	}

	if err := m.SendInput(context.Background(), "panel-a", "proceed"); err != nil {
		t.Fatalf("SendInput: %v", err)
	}

	select {
	case panelID := <-exited:
		if panelID != "panel-a" {
			t.Errorf("OnExit panel = %s", panelID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("process never exited")
	}

	if m.IsPanelRunning("panel-a") {
		t.Error("IsPanelRunning = true after exit")
	}

	jsonChunks := ing.byKind(domain.OutputJSON)
	if len(jsonChunks) != 3 {
		t.Fatalf("got %d json chunks, want 3: %+v", len(jsonChunks), jsonChunks)
	}
	for _, c := range jsonChunks {
		if c.SessionID != "sess-1" || c.PanelID != "panel-a" {
			t.Errorf("chunk attribution = %+v", c)
		}
	}
}

func TestClaudeContinueRequiresResumptionID(t *testing.T) {
	installFakeTool(t, "claude", "exit 0")
	deps, _ := testDeps(t, nil)
	m, err := NewDefaultRegistry(deps).Manager("claude")
	if err != nil {
		t.Fatalf("Manager: %v", err)
	}

	session := &domain.Session{ID: "sess-1"}
	panel := &domain.Panel{ID: "panel-a", SessionID: "sess-1"}

	err = m.ContinuePanel(context.Background(), session, panel, "more")
	var inv *domain.InvalidStateError
	if !errors.As(err, &inv) {
		t.Errorf("ContinuePanel = %v, want InvalidStateError", err)
	}
}

func TestSendInputNotRunning(t *testing.T) {
	installFakeTool(t, "claude", "exit 0")
	deps, _ := testDeps(t, nil)
	m, err := NewDefaultRegistry(deps).Manager("claude")
	if err != nil {
		t.Fatalf("Manager: %v", err)
	}

	err = m.SendInput(context.Background(), "panel-a", "hi")
	var notRunning *domain.NotRunningError
	if !errors.As(err, &notRunning) {
		t.Errorf("SendInput = %v, want NotRunningError", err)
	}
}

func TestScriptRunnerReplacesPrevious(t *testing.T) {
	deps, _ := testDeps(t, nil)
	tracker := guard.NewScriptTracker()
	r := NewScriptRunner(deps, tracker)
	ctx := context.Background()
	session := &domain.Session{ID: "sess-1"}

	id1, err := r.Run(ctx, session, "run", "sleep 300")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if cur, ok := r.Current(); !ok || cur.ID != id1 {
		t.Fatalf("Current = %+v ok=%v, want %s", cur, ok, id1)
	}

	// Starting the second script must fully stop the first.
	id2, err := r.Run(ctx, session, "run", "sleep 300")
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	cur, ok := r.Current()
	if !ok || cur.ID != id2 {
		t.Fatalf("Current = %+v ok=%v, want %s", cur, ok, id2)
	}
	if cur.Phase != guard.ScriptRunning {
		t.Errorf("Phase = %v, want running", cur.Phase)
	}

	if err := r.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, ok := r.Current(); ok {
		t.Error("tracker still occupied after Stop")
	}
}

func TestScriptRunnerOutputSessionScoped(t *testing.T) {
	deps, ing := testDeps(t, nil)
	r := NewScriptRunner(deps, guard.NewScriptTracker())
	session := &domain.Session{ID: "sess-1"}

	if _, err := r.Run(context.Background(), session, "build", "echo built"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		chunks := ing.byKind(domain.OutputStdout)
		if len(chunks) == 1 {
			if chunks[0].PanelID != "" || chunks[0].SessionID != "sess-1" {
				t.Errorf("chunk = %+v, want session-scoped", chunks[0])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("script output never ingested")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
