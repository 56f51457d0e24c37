// Package download fetches message attachments into a scratch directory
// for the short window between receipt and model upload.
package download

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

const fetchTimeout = 30 * time.Second

type Downloader struct {
	Dir    string
	Client *http.Client
}

func New(dir string) *Downloader {
	return &Downloader{Dir: dir, Client: &http.Client{Timeout: fetchTimeout}}
}

// Fetch downloads url into the scratch directory under a unique name and
// returns the local path. Partial files are removed on any failure.
func (d *Downloader) Fetch(ctx context.Context, url, name string) (string, error) {
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return "", fmt.Errorf("scratch dir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	resp, err := d.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch attachment: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch attachment: unexpected status %s", resp.Status)
	}

	path := filepath.Join(d.Dir, uuid.NewString()+"_"+filepath.Base(name))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create scratch file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("write scratch file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close scratch file: %w", err)
	}
	return path, nil
}

// Remove deletes a scratch file, logging rather than failing the caller.
func (d *Downloader) Remove(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Warn("scratch file cleanup failed", "path", path, "err", err)
	}
}
