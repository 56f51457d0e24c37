package voice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// MimeType is the container FFmpeg produces for upload.
const MimeType = "audio/webm"

// FFmpeg transcodes raw 48kHz stereo s16le PCM to opus-in-webm via the
// ffmpeg binary, PCM on stdin and container bytes on stdout.
type FFmpeg struct {
	Bin string
}

var ffmpegArgs = []string{
	"-f", "s16le",
	"-ar", "48000",
	"-ac", "2",
	"-i", "pipe:0",
	"-c:a", "libopus",
	"-vbr", "on",
	"-compression_level", "10",
	"-application", "audio",
	"-f", "webm",
	"pipe:1",
}

func (f *FFmpeg) bin() string {
	if f.Bin != "" {
		return f.Bin
	}
	return "ffmpeg"
}

func (f *FFmpeg) Transcode(ctx context.Context, pcm []byte) ([]byte, error) {
	// Trim to whole stereo s16 frames so ffmpeg never sees a ragged tail.
	pcm = pcm[:len(pcm)-len(pcm)%4]
	if len(pcm) == 0 {
		return nil, errors.New("no complete audio frames to transcode")
	}

	cmd := exec.CommandContext(ctx, f.bin(), ffmpegArgs...)
	cmd.Stdin = bytes.NewReader(pcm)
	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg: %w: %s", err, lastLine(errBuf.String()))
	}
	if out.Len() == 0 {
		return nil, errors.New("ffmpeg produced no output")
	}
	return out.Bytes(), nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
