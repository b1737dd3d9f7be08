package ingest

import (
	"strings"
	"sync"
)

// CaptureBuffer is a fixed-capacity ring of output lines. It backs capture
// mode, where a panel's output is held in memory for a one-shot read instead
// of being persisted. When full, the oldest lines are overwritten, which
// bounds memory for runaway commands.
type CaptureBuffer struct {
	mu    sync.RWMutex
	lines []string
	size  int
	head  int
	full  bool
}

// NewCaptureBuffer creates a buffer holding at most size lines.
func NewCaptureBuffer(size int) *CaptureBuffer {
	if size <= 0 {
		size = 1000
	}
	return &CaptureBuffer{lines: make([]string, size), size: size}
}

// Append adds a line, evicting the oldest when full.
func (b *CaptureBuffer) Append(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lines[b.head] = line
	b.head = (b.head + 1) % b.size
	if b.head == 0 {
		b.full = true
	}
}

// Lines returns the buffered lines in insertion order.
func (b *CaptureBuffer) Lines() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.full {
		out := make([]string, b.head)
		copy(out, b.lines[:b.head])
		return out
	}
	out := make([]string, 0, b.size)
	out = append(out, b.lines[b.head:]...)
	out = append(out, b.lines[:b.head]...)
	return out
}

// String joins the buffered lines with newlines.
func (b *CaptureBuffer) String() string {
	return strings.Join(b.Lines(), "\n")
}

// Len returns the number of buffered lines.
func (b *CaptureBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.full {
		return b.size
	}
	return b.head
}

// Reset clears the buffer.
func (b *CaptureBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head = 0
	b.full = false
}
