package proc

import (
	"context"
	"time"
)

// Terminate stops the process tree rooted at pid: the root and its process
// group get the polite signal first, and after a grace period the root, the
// group and every descendant captured up front are killed outright.
// Descendants are enumerated before signalling because a dying parent can
// reparent its children away.
func (s *Supervisor) Terminate(ctx context.Context, pid int) error {
	descendants, err := descendantsOf(pid)
	if err != nil {
		s.log.Warn("descendant enumeration failed", "pid", pid, "err", err)
	}

	signalTerm(pid)
	signalGroupTerm(pid)

	if waitGone(ctx, pid, gracePeriod) && allGone(descendants) {
		s.log.Debug("process tree exited gracefully", "pid", pid)
		return nil
	}

	signalKill(pid)
	signalGroupKill(pid)
	for _, d := range descendants {
		signalKill(d)
	}

	select {
	case <-time.After(settlePeriod):
	case <-ctx.Done():
		return ctx.Err()
	}

	// Re-enumerate: anything still visible under the root survived the kill.
	survivors, _ := descendantsOf(pid)
	if alive(pid) {
		survivors = append(survivors, pid)
	}
	for _, d := range descendants {
		if alive(d) {
			survivors = append(survivors, d)
		}
	}
	for _, pid := range dedupe(survivors) {
		s.log.Warn("process survived forced kill", "pid", pid)
	}
	return nil
}

// waitGone polls until pid has exited or the grace period elapses.
func waitGone(ctx context.Context, pid int, grace time.Duration) bool {
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !alive(pid) {
			return true
		}
		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			return !alive(pid)
		}
	}
	return !alive(pid)
}

func allGone(pids []int) bool {
	for _, pid := range pids {
		if alive(pid) {
			return false
		}
	}
	return true
}

func dedupe(pids []int) []int {
	seen := make(map[int]bool, len(pids))
	out := pids[:0]
	for _, pid := range pids {
		if !seen[pid] {
			seen[pid] = true
			out = append(out, pid)
		}
	}
	return out
}
