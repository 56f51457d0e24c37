package convo

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// loadJSON fills v from path. A missing file is not an error: the caller
// starts from empty state. Any other read or parse failure is logged and
// also degrades to empty state, since losing stale history beats refusing
// to start.
func loadJSON(path string, v any) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Error("failed to read state file, starting fresh", "path", path, "err", err)
		}
		return
	}
	if err := json.Unmarshal(data, v); err != nil {
		slog.Error("failed to parse state file, starting fresh", "path", path, "err", err)
	}
}

// marshalState renders v for persistence. Callers hold their store lock
// so timers and handlers cannot mutate the maps mid-encode.
func marshalState(path string, v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	return data, nil
}

// writeFileAtomic does a whole-file overwrite: write a sibling temp file,
// rename over the target. The temp name is unique per call so the async
// coalesced save and a synchronous periodic save can run concurrently
// without renaming each other's half-written files.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir for %s: %w", path, err)
	}

	f, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("chmod %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}
