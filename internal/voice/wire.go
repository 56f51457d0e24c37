package voice

import (
	"encoding/binary"
	"fmt"
	"io"
)

// maxFrameLen bounds a single opus frame on the worker wire. Real frames
// are a few hundred bytes; anything larger means a corrupt stream.
const maxFrameLen = 1 << 16

// WriteFrame writes one opus frame with a big-endian uint32 length prefix.
func WriteFrame(w io.Writer, frame []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(frame)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(frame)
	return err
}

// ReadFrame reads one length-prefixed opus frame. It returns io.EOF on a
// clean end of stream.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("truncated frame header: %w", err)
		}
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxFrameLen {
		return nil, fmt.Errorf("frame length %d exceeds limit", n)
	}
	frame := make([]byte, n)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, fmt.Errorf("truncated frame body: %w", err)
	}
	return frame, nil
}
