// Package voice buffers per-speaker opus frames, flushes them in batches
// through an isolated decode worker, transcodes to a compressed container
// and hands speech above the minimum duration to transcription.
package voice

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"doji/pkg/timers"
)

const (
	// DefaultFlushDelay is the silence-within-speech gap that triggers a
	// mid-speech flush.
	DefaultFlushDelay = 2 * time.Second
	// DefaultGraceDelay tolerates brief reconnect gaps after the platform
	// reports stream end.
	DefaultGraceDelay = 5 * time.Second
	// DefaultMinPCMBytes is about 3 seconds of 48kHz stereo s16le audio;
	// shorter batches are discarded before transcription.
	DefaultMinPCMBytes = 48000 * 2 * 2 * 3

	minTranscriptLen = 5
	batchTimeout     = 60 * time.Second
)

// noisePhrases mark transcriptions that carried no actual speech.
var noisePhrases = []string{"no speech detected", "buzzing sound", "background noise"}

// Decoder converts a batch of opus frames into raw 48kHz stereo s16le PCM.
type Decoder interface {
	Decode(ctx context.Context, frames [][]byte) ([]byte, error)
}

// Transcoder re-encodes raw PCM into a compressed container for upload.
type Transcoder interface {
	Transcode(ctx context.Context, pcm []byte) ([]byte, error)
}

// TranscribeFunc turns encoded audio into text.
type TranscribeFunc func(ctx context.Context, audio []byte, userID string) (string, error)

type Config struct {
	FlushDelay  time.Duration
	GraceDelay  time.Duration
	MinPCMBytes int
	DebugDir    string // when set, decoded batches are also dumped as WAV

	Decoder    Decoder
	Transcoder Transcoder
	Transcribe TranscribeFunc
	OnSpeech   func(userID, text string)
}

// Pipeline runs the per-speaker state machine: Idle until the first
// frame, Buffering while frames arrive, flushing on silence gaps and
// draining after the end-of-stream grace period.
type Pipeline struct {
	cfg    Config
	timers *timers.Set

	mu      sync.Mutex
	buffers map[string]*buffer
}

type buffer struct {
	frames [][]byte
}

func New(cfg Config) *Pipeline {
	if cfg.FlushDelay <= 0 {
		cfg.FlushDelay = DefaultFlushDelay
	}
	if cfg.GraceDelay <= 0 {
		cfg.GraceDelay = DefaultGraceDelay
	}
	if cfg.MinPCMBytes <= 0 {
		cfg.MinPCMBytes = DefaultMinPCMBytes
	}
	return &Pipeline{
		cfg:     cfg,
		timers:  timers.NewSet(),
		buffers: make(map[string]*buffer),
	}
}

// HandleFrame buffers one opus frame from a speaker and re-arms the
// mid-speech flush timer. A pending end-of-stream grace timer is
// cancelled: the speaker is audible again.
func (p *Pipeline) HandleFrame(userID string, frame []byte) {
	p.mu.Lock()
	buf, ok := p.buffers[userID]
	if !ok {
		buf = &buffer{}
		p.buffers[userID] = buf
		slog.Debug("speaker started buffering", "user", userID)
	}
	buf.frames = append(buf.frames, frame)
	p.mu.Unlock()

	p.timers.Cancel(graceKey(userID))
	p.timers.Schedule(flushKey(userID), p.cfg.FlushDelay, func() {
		p.flush(userID)
	})
}

// HandleStreamEnd arms the grace timer instead of flushing right away, so
// a quick reconnect keeps the batch intact.
func (p *Pipeline) HandleStreamEnd(userID string) {
	p.mu.Lock()
	_, ok := p.buffers[userID]
	p.mu.Unlock()
	if !ok {
		return
	}

	p.timers.Cancel(flushKey(userID))
	p.timers.Schedule(graceKey(userID), p.cfg.GraceDelay, func() {
		p.drain(userID)
	})
}

// HandleStreamError drops the speaker's buffer without submitting
// anything.
func (p *Pipeline) HandleStreamError(userID string) {
	p.timers.Cancel(flushKey(userID))
	p.timers.Cancel(graceKey(userID))

	p.mu.Lock()
	delete(p.buffers, userID)
	p.mu.Unlock()
	slog.Debug("speaker buffer dropped after stream error", "user", userID)
}

// Close cancels all timers and drops every buffer.
func (p *Pipeline) Close() {
	p.timers.Stop()
	p.mu.Lock()
	p.buffers = make(map[string]*buffer)
	p.mu.Unlock()
}

// flush processes the accumulated frames mid-speech. The buffer entry
// stays: the speaker may still be talking.
func (p *Pipeline) flush(userID string) {
	p.mu.Lock()
	buf, ok := p.buffers[userID]
	if !ok {
		p.mu.Unlock()
		return
	}
	frames := buf.frames
	buf.frames = nil
	p.mu.Unlock()

	slog.Debug("mid-speech flush", "user", userID, "frames", len(frames))
	p.process(userID, frames)
}

// drain processes whatever is left after the grace period and retires the
// buffer entry.
func (p *Pipeline) drain(userID string) {
	p.mu.Lock()
	buf, ok := p.buffers[userID]
	if !ok {
		p.mu.Unlock()
		return
	}
	frames := buf.frames
	delete(p.buffers, userID)
	p.mu.Unlock()

	slog.Debug("grace period ended, draining", "user", userID, "frames", len(frames))
	p.process(userID, frames)
}

func (p *Pipeline) process(userID string, frames [][]byte) {
	if len(frames) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), batchTimeout)
	defer cancel()

	pcm, err := p.cfg.Decoder.Decode(ctx, frames)
	if err != nil {
		slog.Error("batch decode failed, discarding", "user", userID, "err", err)
		return
	}
	if len(pcm) < p.cfg.MinPCMBytes {
		slog.Debug("discarding short audio", "user", userID, "bytes", len(pcm))
		return
	}

	if p.cfg.DebugDir != "" {
		dumpWAV(p.cfg.DebugDir, userID, pcm)
	}

	encoded, err := p.cfg.Transcoder.Transcode(ctx, pcm)
	if err != nil {
		slog.Error("transcode failed, discarding batch", "user", userID, "err", err)
		return
	}

	text, err := p.cfg.Transcribe(ctx, encoded, userID)
	if err != nil {
		slog.Error("transcription failed", "user", userID, "err", err)
		return
	}
	if discardTranscript(text) {
		slog.Debug("transcript discarded as noise", "user", userID)
		return
	}

	slog.Info("speech transcribed", "user", userID, "chars", len(text))
	if p.cfg.OnSpeech != nil {
		p.cfg.OnSpeech(userID, text)
	}
}

func discardTranscript(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range noisePhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return len(strings.TrimSpace(text)) < minTranscriptLen
}

func flushKey(userID string) string { return "flush/" + userID }
func graceKey(userID string) string { return "grace/" + userID }
