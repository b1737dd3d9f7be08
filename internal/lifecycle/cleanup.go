package lifecycle

import (
	"context"
	"log/slog"
	"os"
)

// cleanupRequest is one archived session's worktree to remove.
type cleanupRequest struct {
	sessionID    string
	worktreePath string
}

// cleanupWorker removes archived sessions' worktrees off the archival path.
// Failures are logged and dropped: archival must never block or fail on
// filesystem cleanup.
type cleanupWorker struct {
	queue chan cleanupRequest
	log   *slog.Logger
}

func newCleanupWorker(log *slog.Logger) *cleanupWorker {
	return &cleanupWorker{
		queue: make(chan cleanupRequest, 64),
		log:   log.With("component", "cleanup"),
	}
}

// schedule enqueues a worktree removal. A full queue drops the request with a
// warning rather than blocking archival.
func (w *cleanupWorker) schedule(sessionID, worktreePath string) {
	select {
	case w.queue <- cleanupRequest{sessionID: sessionID, worktreePath: worktreePath}:
	default:
		w.log.Warn("cleanup queue full, dropping request",
			"session_id", sessionID, "worktree", worktreePath)
	}
}

// run processes the queue until ctx is cancelled.
func (w *cleanupWorker) run(ctx context.Context) {
	w.log.Info("cleanup worker started")
	for {
		select {
		case req := <-w.queue:
			if err := os.RemoveAll(req.worktreePath); err != nil {
				w.log.Warn("worktree cleanup failed",
					"session_id", req.sessionID, "worktree", req.worktreePath, "err", err)
				continue
			}
			w.log.Info("worktree removed",
				"session_id", req.sessionID, "worktree", req.worktreePath)
		case <-ctx.Done():
			w.log.Info("cleanup worker shutting down", "reason", ctx.Err())
			return
		}
	}
}
