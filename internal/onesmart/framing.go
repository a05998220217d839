package onesmart

import (
	"bytes"
	"fmt"
)

// maxFrameBuffer bounds the bytes held while waiting for a delimiter.
const maxFrameBuffer = 4 << 20

// frameBuffer reassembles CRLF-delimited frames from arbitrary read chunks.
//
// Only complete frames are returned; a trailing partial frame stays buffered
// until the rest of it arrives. Not safe for concurrent use.
type frameBuffer struct {
	buf []byte
	max int
}

func newFrameBuffer() *frameBuffer {
	return &frameBuffer{max: maxFrameBuffer}
}

// feed appends p and returns every complete frame now available.
//
// Frames no longer than minFrameLength are skipped. If the buffer grows past
// its limit without a delimiter the buffered bytes are discarded and
// ErrProtocolDesync is returned alongside any frames already split off.
func (f *frameBuffer) feed(p []byte) ([][]byte, error) {
	f.buf = append(f.buf, p...)

	var frames [][]byte
	delim := []byte(frameDelimiter)
	for {
		i := bytes.Index(f.buf, delim)
		if i < 0 {
			break
		}
		segment := bytes.TrimSpace(f.buf[:i])
		f.buf = f.buf[i+len(delim):]
		if len(segment) <= minFrameLength {
			continue
		}
		frame := make([]byte, len(segment))
		copy(frame, segment)
		frames = append(frames, frame)
	}

	if len(f.buf) > f.max {
		n := len(f.buf)
		f.reset()
		return frames, fmt.Errorf("%w: %d bytes without delimiter", ErrProtocolDesync, n)
	}

	// Release the backing array once everything has been consumed.
	if len(f.buf) == 0 {
		f.buf = nil
	}
	return frames, nil
}

// buffered returns the number of bytes waiting for a delimiter.
func (f *frameBuffer) buffered() int {
	return len(f.buf)
}

func (f *frameBuffer) reset() {
	f.buf = nil
}
