// Package proc spawns and supervises agent tool processes. Children run in
// their own process group so the whole tree can be torn down, and their output
// is streamed line by line to the caller.
package proc

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	// gracePeriod is how long a process gets to exit after the polite signal
	// before escalation.
	gracePeriod = 2 * time.Second
	// settlePeriod is how long forcefully killed processes get to disappear
	// from the process table before survivors are reported.
	settlePeriod = 500 * time.Millisecond

	// maxLineBytes bounds a single scanned output line. Agent tools emit one
	// JSON event per line and large tool results can run long.
	maxLineBytes = 10 * 1024 * 1024
)

// Spec describes a process to spawn.
type Spec struct {
	Command string
	Args    []string
	Dir     string
	Env     map[string]string // overlaid on the parent environment

	OnStdout func(line string)
	OnStderr func(line string)
}

// Process is a spawned child under supervision.
type Process struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser

	mu      sync.Mutex
	waitErr error
	done    chan struct{}
}

// Supervisor spawns processes and terminates whole process trees.
type Supervisor struct {
	log *slog.Logger
}

// NewSupervisor creates a supervisor logging through the given logger.
func NewSupervisor(log *slog.Logger) *Supervisor {
	return &Supervisor{log: log.With("component", "proc")}
}

// Spawn starts the process described by spec in its own process group and
// begins streaming its output. The returned Process is already running.
func (s *Supervisor) Spawn(spec Spec) (*Process, error) {
	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = mergedEnv(spec.Env)
	setDetached(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", spec.Command, err)
	}

	p := &Process{cmd: cmd, stdin: stdin, done: make(chan struct{})}

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		scanLines(stdout, spec.OnStdout)
	}()
	go func() {
		defer readers.Done()
		scanLines(stderr, spec.OnStderr)
	}()

	go func() {
		readers.Wait()
		err := cmd.Wait()
		p.mu.Lock()
		p.waitErr = err
		p.mu.Unlock()
		close(p.done)
		s.log.Debug("process exited", "command", spec.Command, "pid", cmd.Process.Pid, "err", err)
	}()

	s.log.Info("process started", "command", spec.Command, "pid", cmd.Process.Pid, "dir", spec.Dir)
	return p, nil
}

// PID returns the process id of the child.
func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

// Done is closed once the process has exited and its output is drained.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// ExitErr returns the error from Wait. Only meaningful after Done is closed.
func (p *Process) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

// ExitCode returns the exit code, or -1 while running or when killed by
// signal.
func (p *Process) ExitCode() int {
	select {
	case <-p.done:
		return p.cmd.ProcessState.ExitCode()
	default:
		return -1
	}
}

// WriteInput writes data to the child's stdin.
func (p *Process) WriteInput(data []byte) error {
	if p.stdin == nil {
		return fmt.Errorf("stdin not available")
	}
	if _, err := p.stdin.Write(data); err != nil {
		return fmt.Errorf("write stdin: %w", err)
	}
	return nil
}

// CloseInput closes the child's stdin, signalling end of input.
func (p *Process) CloseInput() error {
	if p.stdin == nil {
		return nil
	}
	return p.stdin.Close()
}

func scanLines(r io.Reader, fn func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		if fn != nil {
			fn(scanner.Text())
		}
	}
}

// mergedEnv overlays extra on the parent environment and widens PATH with the
// conventional user-local bin directories, so tools installed per-user resolve
// even when the supervisor itself was launched with a narrow PATH.
func mergedEnv(extra map[string]string) []string {
	env := os.Environ()
	out := make([]string, 0, len(env)+len(extra)+1)
	seen := make(map[string]bool, len(extra))

	for _, kv := range env {
		k, _, _ := strings.Cut(kv, "=")
		if v, ok := extra[k]; ok {
			out = append(out, k+"="+v)
			seen[k] = true
			continue
		}
		if k == "PATH" {
			out = append(out, "PATH="+widenPath(kv[len("PATH="):]))
			continue
		}
		out = append(out, kv)
	}
	for k, v := range extra {
		if !seen[k] {
			out = append(out, k+"="+v)
		}
	}
	return out
}

func widenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	existing := make(map[string]bool)
	for _, dir := range filepath.SplitList(path) {
		existing[dir] = true
	}
	for _, dir := range []string{
		filepath.Join(home, ".local", "bin"),
		filepath.Join(home, "bin"),
		filepath.Join(home, ".npm-global", "bin"),
	} {
		if !existing[dir] {
			path = path + string(os.PathListSeparator) + dir
		}
	}
	return path
}
