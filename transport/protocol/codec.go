package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// MaxFrameSize bounds a single frame, terminator excluded.
const MaxFrameSize = 64 * 1024

var (
	ErrMalformedMessage = errors.New("malformed message")
	ErrFrameTooLarge    = errors.New("frame too large")
)

// FrameBuffer accumulates stream bytes and splits them into newline
// terminated frames. A trailing partial frame stays buffered until more
// bytes arrive. It is not safe for concurrent use; each connection owns one.
type FrameBuffer struct {
	buf        []byte
	max        int
	discarding bool
}

// NewFrameBuffer returns a buffer that rejects frames longer than max bytes.
// A max of zero or less means MaxFrameSize.
func NewFrameBuffer(max int) *FrameBuffer {
	if max <= 0 {
		max = MaxFrameSize
	}
	return &FrameBuffer{max: max}
}

// Append adds p and returns every frame it completes, with the terminator and
// any trailing '\r' removed. Blank lines are skipped. The returned frames do
// not alias p, so the caller may reuse its read buffer.
//
// When a frame exceeds the size limit it is dropped up to the next newline and
// ErrFrameTooLarge is returned alongside whatever frames did complete.
func (b *FrameBuffer) Append(p []byte) ([][]byte, error) {
	var (
		frames [][]byte
		err    error
	)
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if b.discarding {
			if i < 0 {
				return frames, err
			}
			b.discarding = false
			p = p[i+1:]
			continue
		}
		if i < 0 {
			if len(b.buf)+len(p) > b.max {
				b.buf = nil
				b.discarding = true
				err = ErrFrameTooLarge
				return frames, err
			}
			b.buf = append(b.buf, p...)
			return frames, err
		}

		var frame []byte
		if len(b.buf) > 0 {
			frame = append(b.buf, p[:i]...)
			b.buf = nil
		} else {
			frame = append([]byte(nil), p[:i]...)
		}
		p = p[i+1:]

		frame = bytes.TrimSuffix(frame, []byte{'\r'})
		if len(frame) > b.max {
			err = ErrFrameTooLarge
			continue
		}
		if len(bytes.TrimSpace(frame)) == 0 {
			continue
		}
		frames = append(frames, frame)
	}
	return frames, err
}

// Buffered returns the size of the pending partial frame.
func (b *FrameBuffer) Buffered() int {
	return len(b.buf)
}

// Decode parses one frame. Invalid JSON and a missing type both wrap
// ErrMalformedMessage.
func Decode(frame []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}
	return &msg, nil
}

// Encode serializes v and appends the frame terminator.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return append(data, '\n'), nil
}
