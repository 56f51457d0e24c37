// Package convo keeps the daemon's conversational memory: bounded per
// persona message history, activity windows, per-user opinions and persona
// selection. Everything persists to JSON files and is reloaded at startup.
package convo

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"doji/pkg/timers"
)

const (
	// DefaultCapacity bounds each persona's history within a channel.
	DefaultCapacity = 20
	// DefaultWindow is how long a context stays "hot" after a turn.
	DefaultWindow = 5 * time.Minute
)

// Turn is one stored message. Never mutated after append; only evicted.
type Turn struct {
	Content   string `json:"content"`
	AuthorID  string `json:"authorId"`
	Timestamp int64  `json:"timestamp"`
}

// Store holds conversation history keyed context -> channel -> persona,
// plus the expiring activity markers per (context, channel).
type Store struct {
	// Capacity and Window may be overridden before first use.
	Capacity int
	Window   time.Duration

	mu            sync.Mutex
	path          string
	conversations map[string]map[string]map[string][]Turn
	active        map[string]map[string]struct{}
	timers        *timers.Set
	saving        atomic.Bool
}

func NewStore(path string) *Store {
	return &Store{
		Capacity:      DefaultCapacity,
		Window:        DefaultWindow,
		path:          path,
		conversations: make(map[string]map[string]map[string][]Turn),
		active:        make(map[string]map[string]struct{}),
		timers:        timers.NewSet(),
	}
}

// Load replaces in-memory history with the persisted file, if present.
func (s *Store) Load() {
	s.mu.Lock()
	defer s.mu.Unlock()
	loadJSON(s.path, &s.conversations)
	slog.Info("conversations loaded", "path", s.path, "contexts", len(s.conversations))
}

// Append records a turn, evicts past capacity, renews the activity window
// and requests an async save.
func (s *Store) Append(contextID, channelID, personaName, content, authorID string) {
	s.mu.Lock()

	channels, ok := s.conversations[contextID]
	if !ok {
		channels = make(map[string]map[string][]Turn)
		s.conversations[contextID] = channels
	}
	personas, ok := channels[channelID]
	if !ok {
		personas = make(map[string][]Turn)
		channels[channelID] = personas
	}

	history := append(personas[personaName], Turn{
		Content:   content,
		AuthorID:  authorID,
		Timestamp: time.Now().UnixMilli(),
	})
	if len(history) > s.Capacity {
		history = history[len(history)-s.Capacity:]
	}
	personas[personaName] = history

	channelsActive, ok := s.active[contextID]
	if !ok {
		channelsActive = make(map[string]struct{})
		s.active[contextID] = channelsActive
	}
	channelsActive[channelID] = struct{}{}

	window := s.Window
	s.mu.Unlock()

	s.timers.Schedule(windowKey(contextID, channelID), window, func() {
		s.expire(contextID, channelID)
	})
	s.requestSave()
}

// History returns a copy of the persona's turns for the context/channel,
// oldest first. Absent partitions yield an empty slice.
func (s *Store) History(contextID, channelID, personaName string) []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	channels, ok := s.conversations[contextID]
	if !ok {
		return nil
	}
	personas, ok := channels[channelID]
	if !ok {
		return nil
	}
	history := personas[personaName]
	out := make([]Turn, len(history))
	copy(out, history)
	return out
}

// IsActive reports whether the context/channel is inside its activity
// window.
func (s *Store) IsActive(contextID, channelID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	channels, ok := s.active[contextID]
	if !ok {
		return false
	}
	_, ok = channels[channelID]
	return ok
}

// ClearHistory drops one persona's partition, pruning empty parents, and
// requests a save. Other personas in the same channel keep their history.
func (s *Store) ClearHistory(contextID, channelID, personaName string) {
	s.mu.Lock()
	if channels, ok := s.conversations[contextID]; ok {
		if personas, ok := channels[channelID]; ok {
			delete(personas, personaName)
			if len(personas) == 0 {
				delete(channels, channelID)
			}
		}
		if len(channels) == 0 {
			delete(s.conversations, contextID)
		}
	}
	s.mu.Unlock()

	s.requestSave()
}

// Save writes the current history synchronously. Used by the periodic
// saver and at shutdown.
func (s *Store) Save() error {
	s.mu.Lock()
	data, err := marshalState(s.path, s.conversations)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return writeFileAtomic(s.path, data)
}

// Close cancels all window timers. History is not saved here.
func (s *Store) Close() {
	s.timers.Stop()
}

func (s *Store) expire(contextID, channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if channels, ok := s.active[contextID]; ok {
		delete(channels, channelID)
		if len(channels) == 0 {
			delete(s.active, contextID)
		}
	}
	slog.Debug("activity window expired", "context", contextID, "channel", channelID)
}

// requestSave starts an async save unless one is already in flight, in
// which case the request is dropped; whatever state exists at the next
// unguarded save gets captured then.
func (s *Store) requestSave() {
	if !s.saving.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer s.saving.Store(false)
		if err := s.Save(); err != nil {
			slog.Error("failed to save conversations", "err", err)
		}
	}()
}

func windowKey(contextID, channelID string) string {
	return contextID + "/" + channelID
}
