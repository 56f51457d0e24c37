package persona

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePersonaFiles(t *testing.T, dir, key string) {
	t.Helper()
	for _, suffix := range []string{"_personality.txt", "_characterInfo.txt", "_prompt.txt"} {
		err := os.WriteFile(filepath.Join(dir, key+suffix), []byte(key+suffix+" body"), 0o644)
		require.NoError(t, err)
	}
}

func TestInstructionsCombinesBlocks(t *testing.T) {
	dir := t.TempDir()
	writePersonaFiles(t, dir, "whimsy")
	writePersonaFiles(t, dir, "doji")

	l := NewLoader(dir)
	got, err := l.Instructions("whimsy")
	require.NoError(t, err)
	assert.Contains(t, got, "whimsy_personality.txt body")
	assert.Contains(t, got, "whimsy_characterInfo.txt body")
	assert.Contains(t, got, "whimsy_prompt.txt body")
}

func TestInstructionsUnknownFallsBack(t *testing.T) {
	dir := t.TempDir()
	writePersonaFiles(t, dir, "doji")

	l := NewLoader(dir)
	got, err := l.Instructions("nobody")
	require.NoError(t, err)
	assert.Contains(t, got, "doji_personality.txt body")
}

func TestInstructionsMissingFilesFallBack(t *testing.T) {
	dir := t.TempDir()
	writePersonaFiles(t, dir, "doji")

	// serena is registered but has no files on disk
	l := NewLoader(dir)
	got, err := l.Instructions("serena")
	require.NoError(t, err)
	assert.Contains(t, got, "doji_prompt.txt body")
}

func TestInstructionsMissingDefaultIsError(t *testing.T) {
	l := NewLoader(t.TempDir())
	_, err := l.Instructions(Default)
	assert.Error(t, err)
}

func TestNamesSorted(t *testing.T) {
	assert.Equal(t, []string{"Doji", "Sandbox", "Serena", "Whimsy"}, Names())
}

func TestLookupCaseInsensitive(t *testing.T) {
	p, ok := Lookup("SeReNa")
	require.True(t, ok)
	assert.Equal(t, "Serena", p.Name)

	_, ok = Lookup("ghost")
	assert.False(t, ok)
}
