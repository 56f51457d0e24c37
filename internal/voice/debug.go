package voice

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// dumpWAV writes a decoded batch to disk for listening back while tuning
// flush timings. Failures are logged and otherwise ignored.
func dumpWAV(dir, userID string, pcm []byte) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("debug wav dir", "err", err)
		return
	}
	path := filepath.Join(dir, fmt.Sprintf("user_%s_%d.wav", userID, time.Now().UnixMilli()))
	f, err := os.Create(path)
	if err != nil {
		slog.Warn("debug wav create", "err", err)
		return
	}
	defer f.Close()

	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
	}

	enc := wav.NewEncoder(f, 48000, 16, 2, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 2, SampleRate: 48000},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		slog.Warn("debug wav write", "path", path, "err", err)
	}
	if err := enc.Close(); err != nil {
		slog.Warn("debug wav close", "path", path, "err", err)
		return
	}
	slog.Debug("debug wav written", "path", path, "bytes", len(pcm))
}
