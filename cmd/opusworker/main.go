// opusworker decodes length-prefixed opus packets from stdin to raw
// 48kHz stereo s16le PCM on stdout. It is spawned once per batch so a
// decoder crash on a hostile packet never outlives the batch.
package main

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"layeh.com/gopus"

	"doji/internal/voice"
)

const (
	sampleRate = 48000
	channels   = 2
	frameSize  = 960 // 20ms at 48kHz
)

func main() {
	if err := run(os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "opusworker:", err)
		os.Exit(1)
	}
}

func run(r io.Reader, w io.Writer) error {
	dec, err := gopus.NewDecoder(sampleRate, channels)
	if err != nil {
		return fmt.Errorf("init decoder: %w", err)
	}

	in := bufio.NewReader(r)
	out := bufio.NewWriter(w)
	defer out.Flush()

	for {
		pkt, err := voice.ReadFrame(in)
		if err == io.EOF {
			return out.Flush()
		}
		if err != nil {
			return fmt.Errorf("read packet: %w", err)
		}
		if len(pkt) == 0 {
			continue
		}

		pcm, err := dec.Decode(pkt, frameSize, false)
		if err != nil {
			// One bad packet costs 20ms of audio, not the batch.
			fmt.Fprintln(os.Stderr, "opusworker: skip packet:", err)
			continue
		}
		for _, s := range pcm {
			var b [2]byte
			binary.LittleEndian.PutUint16(b[:], uint16(s))
			if _, err := out.Write(b[:]); err != nil {
				return fmt.Errorf("write pcm: %w", err)
			}
		}
	}
}
