package voice

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDecoder struct {
	mu      sync.Mutex
	batches [][][]byte
	perByte int // output bytes per input frame byte
	err     error
}

func (d *fakeDecoder) Decode(_ context.Context, frames [][]byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.batches = append(d.batches, frames)
	if d.err != nil {
		return nil, d.err
	}
	n := 0
	for _, f := range frames {
		n += len(f)
	}
	return make([]byte, n*d.perByte), nil
}

func (d *fakeDecoder) batchCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.batches)
}

type fakeTranscoder struct {
	err error
}

func (t *fakeTranscoder) Transcode(_ context.Context, pcm []byte) ([]byte, error) {
	if t.err != nil {
		return nil, t.err
	}
	return pcm, nil
}

type capture struct {
	mu    sync.Mutex
	texts []string
}

func (c *capture) onSpeech(_ string, text string) {
	c.mu.Lock()
	c.texts = append(c.texts, text)
	c.mu.Unlock()
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.texts)
}

func newTestPipeline(dec Decoder, trc Transcoder, transcript string, sink *capture) *Pipeline {
	return New(Config{
		FlushDelay:  40 * time.Millisecond,
		GraceDelay:  60 * time.Millisecond,
		MinPCMBytes: 10,
		Decoder:     dec,
		Transcoder:  trc,
		Transcribe: func(context.Context, []byte, string) (string, error) {
			return transcript, nil
		},
		OnSpeech: sink.onSpeech,
	})
}

func TestSteadyFramesSingleBatch(t *testing.T) {
	dec := &fakeDecoder{perByte: 4}
	sink := &capture{}
	p := newTestPipeline(dec, &fakeTranscoder{}, "hello there everyone", sink)
	defer p.Close()

	// Frames arriving well inside the flush delay must not split the batch.
	for i := 0; i < 5; i++ {
		p.HandleFrame("alice", []byte{1, 2, 3})
		time.Sleep(10 * time.Millisecond)
	}
	p.HandleStreamEnd("alice")

	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, dec.batchCount())
	assert.Len(t, dec.batches[0], 5)
}

func TestSilenceGapFlushesMidSpeech(t *testing.T) {
	dec := &fakeDecoder{perByte: 4}
	sink := &capture{}
	p := newTestPipeline(dec, &fakeTranscoder{}, "part one and part two", sink)
	defer p.Close()

	p.HandleFrame("bob", bytes.Repeat([]byte{7}, 3))
	require.Eventually(t, func() bool { return dec.batchCount() == 1 }, time.Second, 5*time.Millisecond)

	// Buffering continues after a mid-speech flush.
	p.HandleFrame("bob", bytes.Repeat([]byte{8}, 3))
	p.HandleStreamEnd("bob")
	require.Eventually(t, func() bool { return sink.count() == 2 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, 2, dec.batchCount())
	assert.Len(t, dec.batches[0], 1)
	assert.Len(t, dec.batches[1], 1)
}

func TestShortAudioDiscarded(t *testing.T) {
	dec := &fakeDecoder{perByte: 1} // 3 bytes out, below the 10-byte gate
	sink := &capture{}
	p := newTestPipeline(dec, &fakeTranscoder{}, "should never appear", sink)
	defer p.Close()

	p.HandleFrame("carol", []byte{1, 2, 3})
	p.HandleStreamEnd("carol")

	require.Eventually(t, func() bool { return dec.batchCount() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, sink.count())
}

func TestStreamErrorDropsBuffer(t *testing.T) {
	dec := &fakeDecoder{perByte: 4}
	sink := &capture{}
	p := newTestPipeline(dec, &fakeTranscoder{}, "lost words", sink)
	defer p.Close()

	p.HandleFrame("dave", []byte{1, 2, 3})
	p.HandleStreamError("dave")

	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, dec.batchCount())
	assert.Zero(t, sink.count())
}

func TestFrameDuringGraceKeepsBatch(t *testing.T) {
	dec := &fakeDecoder{perByte: 4}
	sink := &capture{}
	p := newTestPipeline(dec, &fakeTranscoder{}, "welcome back to the call", sink)
	defer p.Close()

	p.HandleFrame("erin", []byte{1, 2, 3})
	p.HandleStreamEnd("erin")
	time.Sleep(20 * time.Millisecond) // inside the grace window
	p.HandleFrame("erin", []byte{4, 5, 6})
	p.HandleStreamEnd("erin")

	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, dec.batchCount())
	assert.Len(t, dec.batches[0], 2)
}

func TestNoiseTranscriptDiscarded(t *testing.T) {
	for _, text := range []string{
		"No speech detected in the clip",
		"just a buzzing sound",
		"faint background noise",
		"hm",
	} {
		assert.True(t, discardTranscript(text), "expected %q to be discarded", text)
	}
	assert.False(t, discardTranscript("hello everyone"))
}

func TestTranscodeFailureDropsBatch(t *testing.T) {
	dec := &fakeDecoder{perByte: 4}
	sink := &capture{}
	p := newTestPipeline(dec, &fakeTranscoder{err: context.DeadlineExceeded}, "never seen", sink)
	defer p.Close()

	p.HandleFrame("frank", []byte{1, 2, 3})
	p.HandleStreamEnd("frank")

	require.Eventually(t, func() bool { return dec.batchCount() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, sink.count())
}

func TestFrameWireRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	frames := [][]byte{{1}, {2, 3, 4}, {}}
	for _, f := range frames {
		require.NoError(t, WriteFrame(&buf, f))
	}
	for _, want := range frames {
		got, err := ReadFrame(&buf)
		require.NoError(t, err)
		assert.Equal(t, len(want), len(got))
		if len(want) > 0 {
			assert.Equal(t, want, got)
		}
	}
	_, err := ReadFrame(&buf)
	assert.ErrorIs(t, err, io.EOF)
}
