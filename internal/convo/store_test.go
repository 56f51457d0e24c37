package convo

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(filepath.Join(t.TempDir(), "conversations.json"))
	t.Cleanup(s.Close)
	return s
}

func TestAppendEvictsOldestPastCapacity(t *testing.T) {
	s := newTestStore(t)
	s.Capacity = 5

	for i := 0; i < 12; i++ {
		s.Append("ctx", "chan", "doji", fmt.Sprintf("msg-%d", i), "author")
	}

	history := s.History("ctx", "chan", "doji")
	require.Len(t, history, 5)
	for i, turn := range history {
		assert.Equal(t, fmt.Sprintf("msg-%d", i+7), turn.Content, "history must hold the last C turns in order")
	}
}

func TestHistoryAbsentPartitions(t *testing.T) {
	s := newTestStore(t)
	assert.Empty(t, s.History("nobody", "nowhere", "doji"))

	s.Append("ctx", "chan", "doji", "hello", "a1")
	assert.Empty(t, s.History("ctx", "chan", "whimsy"), "other personas are separate partitions")
	assert.Empty(t, s.History("ctx", "other", "doji"))
}

func TestClearHistoryIsolatedPerPersona(t *testing.T) {
	s := newTestStore(t)
	s.Append("ctx", "chan", "doji", "one", "a1")
	s.Append("ctx", "chan", "whimsy", "two", "a1")

	s.ClearHistory("ctx", "chan", "doji")

	assert.Empty(t, s.History("ctx", "chan", "doji"))
	require.Len(t, s.History("ctx", "chan", "whimsy"), 1)
}

func TestActivityWindowExpires(t *testing.T) {
	s := newTestStore(t)
	s.Window = 50 * time.Millisecond

	s.Append("ctx", "chan", "doji", "hello", "a1")
	assert.True(t, s.IsActive("ctx", "chan"))
	assert.False(t, s.IsActive("ctx", "other"))

	assert.Eventually(t, func() bool {
		return !s.IsActive("ctx", "chan")
	}, time.Second, 10*time.Millisecond)
}

func TestActivityWindowRenewedByAppend(t *testing.T) {
	s := newTestStore(t)
	s.Window = 80 * time.Millisecond

	s.Append("ctx", "chan", "doji", "one", "a1")
	time.Sleep(50 * time.Millisecond)
	s.Append("ctx", "chan", "doji", "two", "a1")
	time.Sleep(50 * time.Millisecond)

	// 100ms after the first append, but only 50ms after the renewal
	assert.True(t, s.IsActive("ctx", "chan"))
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conversations.json")

	s := NewStore(path)
	s.Append("ctx", "chan", "doji", "hello", "a1")
	s.Append("ctx", "chan", "doji", "there", "a2")
	require.NoError(t, s.Save())
	s.Close()

	reloaded := NewStore(path)
	defer reloaded.Close()
	reloaded.Load()

	history := reloaded.History("ctx", "chan", "doji")
	require.Len(t, history, 2)
	assert.Equal(t, "hello", history[0].Content)
	assert.Equal(t, "a2", history[1].AuthorID)
}

func TestConcurrentSavesKeepFileIntact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conversations.json")
	s := NewStore(path)
	defer s.Close()

	// Every Append schedules an async save; the paired synchronous Save
	// races it, like the periodic saver racing handler traffic.
	var wg sync.WaitGroup
	errs := make(chan error, 200)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Append("ctx", "chan", "doji", fmt.Sprintf("msg-%d", i), "author")
			errs <- s.Save()
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, json.Valid(data), "durable file must never hold a partial write")

	reloaded := NewStore(path)
	defer reloaded.Close()
	reloaded.Load()
	assert.NotEmpty(t, reloaded.History("ctx", "chan", "doji"))
}

func TestLoadMissingFileStartsEmpty(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "missing.json"))
	defer s.Close()
	s.Load()
	assert.Empty(t, s.History("ctx", "chan", "doji"))
}

func TestLoadCorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conversations.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	s := NewStore(path)
	defer s.Close()
	s.Load()
	assert.Empty(t, s.History("ctx", "chan", "doji"))
}

func TestOpinionsSurviveClearHistory(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(filepath.Join(dir, "conversations.json"))
	defer s.Close()
	o := NewOpinions(filepath.Join(dir, "opinions.json"))

	s.Append("ctx", "chan", "doji", "hello", "user-1")
	o.Record("user-1", "doji", "seems friendly")
	s.ClearHistory("ctx", "chan", "doji")

	got, ok := o.Get("user-1", "doji")
	require.True(t, ok)
	assert.Equal(t, "seems friendly", got)
}

func TestOpinionsLatestWriteWins(t *testing.T) {
	o := NewOpinions(filepath.Join(t.TempDir(), "opinions.json"))
	o.Record("user-1", "doji", "first take")
	o.Record("user-1", "doji", "revised take")
	o.Record("user-1", "whimsy", "whimsy take")

	got, ok := o.Get("user-1", "doji")
	require.True(t, ok)
	assert.Equal(t, "revised take", got)

	got, ok = o.Get("user-1", "whimsy")
	require.True(t, ok)
	assert.Equal(t, "whimsy take", got)

	_, ok = o.Get("user-2", "doji")
	assert.False(t, ok)
}

func TestSelectionFallback(t *testing.T) {
	sel := NewSelection(filepath.Join(t.TempDir(), "personas.json"), "doji")
	assert.Equal(t, "doji", sel.Get("ctx"))

	sel.Set("ctx", "serena")
	assert.Equal(t, "serena", sel.Get("ctx"))
	assert.Equal(t, "doji", sel.Get("other"))
}

func TestSelectionRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "personas.json")

	sel := NewSelection(path, "doji")
	sel.Set("ctx", "whimsy")
	require.NoError(t, sel.Save())

	reloaded := NewSelection(path, "doji")
	reloaded.Load()
	assert.Equal(t, "whimsy", reloaded.Get("ctx"))
}
