// Package timers provides keyed deferred actions: at most one pending
// action per key, rescheduling supersedes the previous one.
package timers

import (
	"sync"
	"time"
)

type Set struct {
	mu      sync.Mutex
	pending map[string]*time.Timer
}

func NewSet() *Set {
	return &Set{pending: make(map[string]*time.Timer)}
}

// Schedule arms fn to run after d. Any action previously scheduled under
// the same key is cancelled first.
func (s *Set) Schedule(key string, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.pending[key]; ok {
		t.Stop()
	}

	var t *time.Timer
	t = time.AfterFunc(d, func() {
		s.mu.Lock()
		if s.pending[key] != t {
			// superseded between firing and acquiring the lock
			s.mu.Unlock()
			return
		}
		delete(s.pending, key)
		s.mu.Unlock()

		fn()
	})
	s.pending[key] = t
}

// Cancel drops the pending action for key, if any.
func (s *Set) Cancel(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.pending[key]; ok {
		t.Stop()
		delete(s.pending, key)
	}
}

// Pending reports whether an action is currently scheduled under key.
func (s *Set) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[key]
	return ok
}

// Stop cancels every pending action.
func (s *Set) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, t := range s.pending {
		t.Stop()
		delete(s.pending, key)
	}
}
