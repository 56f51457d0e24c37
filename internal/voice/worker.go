package voice

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// DefaultWorkerTimeout caps a single decode batch. A worker stuck past
// this is killed and the batch resolves to empty audio.
const DefaultWorkerTimeout = 30 * time.Second

// WorkerDecoder decodes each batch in a one-shot subprocess so that a
// native decoder crash on a malformed packet cannot take the daemon
// down with it.
type WorkerDecoder struct {
	Bin     string
	Timeout time.Duration
}

func (d *WorkerDecoder) timeout() time.Duration {
	if d.Timeout > 0 {
		return d.Timeout
	}
	return DefaultWorkerTimeout
}

// Decode feeds the frames to a fresh worker process and returns its raw
// 48kHz stereo s16le output. A crashed or timed-out worker yields empty
// PCM rather than an error: the batch is lost, the pipeline lives on.
func (d *WorkerDecoder) Decode(ctx context.Context, frames [][]byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout())
	defer cancel()

	cmd := exec.CommandContext(ctx, d.Bin)
	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("decode worker stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn decode worker %q: %w", d.Bin, err)
	}

	for _, frame := range frames {
		if err := WriteFrame(stdin, frame); err != nil {
			// Worker likely died already; Wait reports the cause.
			break
		}
	}
	stdin.Close()

	if err := cmd.Wait(); err != nil {
		slog.Warn("decode worker failed, batch lost",
			"err", err, "stderr", strings.TrimSpace(errBuf.String()))
		return nil, nil
	}
	return out.Bytes(), nil
}
