// Package guard serializes operations that must not interleave: per-resource
// critical sections ordered first-come-first-served, and the single-slot
// tracker for user-launched scripts.
package guard

import (
	"context"
	"sync"
)

// KeyedMutex hands out independent mutual-exclusion locks by name. Waiters on
// the same name acquire strictly in arrival order.
type KeyedMutex struct {
	mu     sync.Mutex
	queues map[string][]chan struct{}
}

// NewKeyedMutex creates an empty keyed mutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{queues: make(map[string][]chan struct{})}
}

// WithLock runs fn while holding the lock for name. If ctx is cancelled before
// the lock is granted, fn never runs and the context error is returned.
func (m *KeyedMutex) WithLock(ctx context.Context, name string, fn func() error) error {
	if err := m.acquire(ctx, name); err != nil {
		return err
	}
	defer m.release(name)
	return fn()
}

// Pending returns the number of goroutines holding or waiting on name.
func (m *KeyedMutex) Pending(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queues[name])
}

// acquire enqueues the caller for name. The queue head holds the lock; its
// channel is closed as the grant signal.
func (m *KeyedMutex) acquire(ctx context.Context, name string) error {
	m.mu.Lock()
	ch := make(chan struct{})
	m.queues[name] = append(m.queues[name], ch)
	if len(m.queues[name]) == 1 {
		close(ch)
	}
	m.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		m.mu.Lock()
		defer m.mu.Unlock()
		select {
		case <-ch:
			// The grant raced with cancellation; pass the lock on.
			m.releaseLocked(name)
		default:
			q := m.queues[name]
			for i, c := range q {
				if c == ch {
					m.queues[name] = append(q[:i:i], q[i+1:]...)
					break
				}
			}
			if len(m.queues[name]) == 0 {
				delete(m.queues, name)
			}
		}
		return ctx.Err()
	}
}

func (m *KeyedMutex) release(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseLocked(name)
}

func (m *KeyedMutex) releaseLocked(name string) {
	q := m.queues[name]
	if len(q) == 0 {
		return
	}
	q = q[1:]
	if len(q) == 0 {
		delete(m.queues, name)
		return
	}
	m.queues[name] = q
	close(q[0])
}
