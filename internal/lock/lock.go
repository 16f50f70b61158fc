// Package lock provides per-key mutual exclusion with a bounded wait.
//
// Each key owns a one-slot channel. Holding the lock means owning the slot;
// waiters block on the send, so a release wakes exactly one waiter of that
// key and keys never contend with each other.
package lock

import (
	"context"
	"sync"
	"time"
)

// Token is proof of a successful acquisition.
type Token struct {
	Key string
}

type Manager struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewManager() *Manager {
	return &Manager{slots: make(map[string]chan struct{})}
}

func (m *Manager) slot(key string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[key]
	if !ok {
		s = make(chan struct{}, 1)
		m.slots[key] = s
	}
	return s
}

// AcquireLock waits up to timeout for key to be free. It returns ok=false if
// the wait ran out or ctx ended first; lock state is unchanged in that case.
func (m *Manager) AcquireLock(ctx context.Context, key string, timeout time.Duration) (Token, bool) {
	s := m.slot(key)

	select {
	case s <- struct{}{}:
		return Token{Key: key}, true
	default:
	}
	if timeout <= 0 {
		return Token{}, false
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case s <- struct{}{}:
		return Token{Key: key}, true
	case <-t.C:
		return Token{}, false
	case <-ctx.Done():
		return Token{}, false
	}
}

// ReleaseLock frees key. Releasing a key that is not held does nothing.
func (m *Manager) ReleaseLock(key string) {
	m.mu.Lock()
	s, ok := m.slots[key]
	m.mu.Unlock()
	if !ok {
		return
	}
	select {
	case <-s:
	default:
	}
}

// Held reports whether key is currently locked.
func (m *Manager) Held(key string) bool {
	m.mu.Lock()
	s, ok := m.slots[key]
	m.mu.Unlock()
	return ok && len(s) == 1
}
