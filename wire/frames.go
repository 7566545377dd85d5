package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// maxFrameSize bounds a single frame so a misframed stream cannot
	// force an unbounded allocation.
	maxFrameSize = 64 << 20
	maxFrames    = 1 << 10
)

// WriteFrames writes one frame set to the stream as a big-endian uint32
// frame count followed by each frame as a uint32 length and its bytes. The
// whole set is written with a single Write so concurrent senders on a
// shared lock see whole messages.
func WriteFrames(w io.Writer, frames [][]byte) error {
	var buf bytes.Buffer

	var scratch [4]byte
	binary.BigEndian.PutUint32(scratch[:], uint32(len(frames)))
	buf.Write(scratch[:])

	for _, frame := range frames {
		if len(frame) > maxFrameSize {
			return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(frame))
		}
		binary.BigEndian.PutUint32(scratch[:], uint32(len(frame)))
		buf.Write(scratch[:])
		buf.Write(frame)
	}

	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write frames: %w", err)
	}
	return nil
}

// ReadFrames reads one frame set written by WriteFrames. It returns the
// underlying read error unchanged (io.EOF on a cleanly closed stream).
func ReadFrames(r io.Reader) ([][]byte, error) {
	var scratch [4]byte
	if _, err := io.ReadFull(r, scratch[:]); err != nil {
		return nil, err
	}

	count := binary.BigEndian.Uint32(scratch[:])
	if count > maxFrames {
		return nil, fmt.Errorf("%w: %d frames in one set", ErrBadFrame, count)
	}

	frames := make([][]byte, 0, count)
	for i := uint32(0); i < count; i++ {
		if _, err := io.ReadFull(r, scratch[:]); err != nil {
			return nil, fmt.Errorf("%w: truncated frame length: %v", ErrBadFrame, err)
		}
		size := binary.BigEndian.Uint32(scratch[:])
		if size > maxFrameSize {
			return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
		}

		frame := make([]byte, size)
		if _, err := io.ReadFull(r, frame); err != nil {
			return nil, fmt.Errorf("%w: truncated frame: %v", ErrBadFrame, err)
		}
		frames = append(frames, frame)
	}

	return frames, nil
}
