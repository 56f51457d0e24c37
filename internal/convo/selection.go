package convo

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Selection maps a conversation context to its chosen persona. Contexts
// without an explicit choice resolve to the fallback.
type Selection struct {
	mu       sync.Mutex
	path     string
	fallback string
	m        map[string]string
	saving   atomic.Bool
}

func NewSelection(path, fallback string) *Selection {
	return &Selection{
		path:     path,
		fallback: fallback,
		m:        make(map[string]string),
	}
}

func (s *Selection) Load() {
	s.mu.Lock()
	defer s.mu.Unlock()
	loadJSON(s.path, &s.m)
	slog.Info("persona selection loaded", "path", s.path, "contexts", len(s.m))
}

// Get returns the persona selected for the context, or the fallback.
func (s *Selection) Get(contextID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if name, ok := s.m[contextID]; ok {
		return name
	}
	return s.fallback
}

// Set changes the selection and requests a save.
func (s *Selection) Set(contextID, personaName string) {
	s.mu.Lock()
	s.m[contextID] = personaName
	s.mu.Unlock()

	s.requestSave()
}

func (s *Selection) Save() error {
	s.mu.Lock()
	data, err := marshalState(s.path, s.m)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return writeFileAtomic(s.path, data)
}

func (s *Selection) requestSave() {
	if !s.saving.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer s.saving.Store(false)
		if err := s.Save(); err != nil {
			slog.Error("failed to save persona selection", "err", err)
		}
	}()
}
