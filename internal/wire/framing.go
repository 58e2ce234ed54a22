package wire

import (
	"encoding/binary"
	"errors"
	"io"
)

// FrameType is the single discriminator byte that leads every frame body.
type FrameType byte

const (
	FrameJSON   FrameType = 0x00
	FrameBinary FrameType = 0x01
)

const (
	// MaxJSONFrameSize bounds a JSON request/response body.
	MaxJSONFrameSize = 10 * 1024 * 1024
	// MaxBinaryFrameSize bounds a binary frame; full-resolution JPEGs can be
	// large enough to need the higher ceiling.
	MaxBinaryFrameSize = 100 * 1024 * 1024
)

// ReadFrame reads one length-prefixed frame: a 4-byte big-endian length
// followed by that many bytes, the first of which is the frame type. It
// returns ErrConnectionClosed on a clean EOF with nothing read yet, and a
// plain I/O error on a partial read that fails before completion (the
// stream is now desynchronized and the connection must be closed).
func ReadFrame(r io.Reader) (FrameType, []byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, nil, ErrConnectionClosed
		}
		return 0, nil, err
	}

	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 {
		return 0, nil, errors.New("wire: empty frame")
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, err
	}

	frameType := FrameType(body[0])
	payload := body[1:]

	limit := MaxJSONFrameSize
	if frameType == FrameBinary {
		limit = MaxBinaryFrameSize
	}
	if len(payload) > limit {
		return 0, nil, ErrOversizeFrame
	}

	return frameType, payload, nil
}

// WriteFrame writes payload as a single frame of the given type.
func WriteFrame(w io.Writer, frameType FrameType, payload []byte) error {
	body := make([]byte, 1+len(payload))
	body[0] = byte(frameType)
	copy(body[1:], payload)

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))

	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}
