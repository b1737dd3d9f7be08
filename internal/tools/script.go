package tools

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/agentdeck/internal/domain"
	"github.com/ashureev/agentdeck/internal/guard"
	"github.com/ashureev/agentdeck/internal/proc"
)

// ScriptRunner executes ad-hoc shell scripts attached to a session: run
// scripts, build scripts. At most one script process exists at a time; asking
// for a new one tears the previous one down completely first.
type ScriptRunner struct {
	deps    Deps
	tracker *guard.ScriptTracker
	log     *slog.Logger

	mu   sync.Mutex
	proc *proc.Process // process of the tracked script, nil when idle
}

// NewScriptRunner creates a runner over the given single-slot tracker.
func NewScriptRunner(deps Deps, tracker *guard.ScriptTracker) *ScriptRunner {
	return &ScriptRunner{
		deps:    deps,
		tracker: tracker,
		log:     deps.Log.With("tool", "script"),
	}
}

// Run starts command under the session's worktree and returns the script id.
// A script already running (for any session) is stopped and fully awaited
// before the new one spawns.
func (r *ScriptRunner) Run(ctx context.Context, session *domain.Session, kind, command string) (string, error) {
	if err := r.Stop(ctx); err != nil {
		return "", fmt.Errorf("stop previous script: %w", err)
	}

	id := uuid.NewString()
	if err := r.tracker.Start(kind, id, session.ID); err != nil {
		return "", err
	}

	shell, flag := systemShell()
	spec := proc.Spec{
		Command: shell,
		Args:    []string{flag, command},
		Dir:     workDir(session),
		OnStdout: func(line string) {
			r.ingest(session.ID, domain.OutputStdout, line)
		},
		OnStderr: func(line string) {
			r.ingest(session.ID, domain.OutputStderr, line)
		},
	}

	p, err := r.deps.Supervisor.Spawn(spec)
	if err != nil {
		r.tracker.Finish(id)
		return "", fmt.Errorf("spawn script: %w", err)
	}

	r.mu.Lock()
	r.proc = p
	r.mu.Unlock()

	go func() {
		<-p.Done()
		r.mu.Lock()
		if r.proc == p {
			r.proc = nil
		}
		r.mu.Unlock()
		r.tracker.Finish(id)
		r.log.Info("script finished", "script_id", id, "kind", kind, "err", p.ExitErr())
	}()

	r.log.Info("script started", "script_id", id, "kind", kind, "session_id", session.ID)
	return id, nil
}

// Stop terminates the current script, if any, and waits for its process tree
// to be gone and the tracker slot to free up.
func (r *ScriptRunner) Stop(ctx context.Context) error {
	snap, ok := r.tracker.BeginClose()
	if !ok {
		// Idle, or another caller is already closing; wait for the slot.
		return r.awaitIdle(ctx)
	}

	r.mu.Lock()
	p := r.proc
	r.mu.Unlock()

	if p != nil {
		if err := r.deps.Supervisor.Terminate(ctx, p.PID()); err != nil {
			return fmt.Errorf("terminate script %s: %w", snap.ID, err)
		}
		select {
		case <-p.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	} else {
		// Spawn never completed; just release the slot.
		r.tracker.Finish(snap.ID)
	}
	return r.awaitIdle(ctx)
}

// Current returns the tracked script, if any.
func (r *ScriptRunner) Current() (guard.RunningScript, bool) {
	return r.tracker.Current()
}

// awaitIdle blocks until the tracker slot is free.
func (r *ScriptRunner) awaitIdle(ctx context.Context) error {
	for {
		if _, ok := r.tracker.Current(); !ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (r *ScriptRunner) ingest(sessionID string, kind domain.OutputKind, payload string) {
	// Script output is session-scoped: no panel id.
	if err := r.deps.Ingest.Ingest(context.Background(), sessionID, "", kind, payload); err != nil {
		r.log.Error("ingest failed", "session_id", sessionID, "kind", kind, "err", err)
	}
}

func systemShell() (string, string) {
	if runtime.GOOS == "windows" {
		return "cmd", "/C"
	}
	return "sh", "-c"
}
