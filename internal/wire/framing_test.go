package wire

import (
	"bytes"
	"errors"
	"testing"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte(`{"command":"shutdown"}`)
	if err := WriteFrame(&buf, FrameJSON, payload); err != nil {
		t.Fatalf("write: %v", err)
	}

	frameType, got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if frameType != FrameJSON {
		t.Fatalf("expected FrameJSON, got %v", frameType)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch: got %q want %q", got, payload)
	}
}

func TestReadFrameCleanEOF(t *testing.T) {
	_, _, err := ReadFrame(&bytes.Buffer{})
	if !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("expected ErrConnectionClosed, got %v", err)
	}
}

func TestReadFrameOversizeRejected(t *testing.T) {
	var buf bytes.Buffer
	payload := make([]byte, MaxJSONFrameSize+1)
	if err := WriteFrame(&buf, FrameJSON, payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, _, err := ReadFrame(&buf)
	if !errors.Is(err, ErrOversizeFrame) {
		t.Fatalf("expected ErrOversizeFrame, got %v", err)
	}
}

func TestReadFramePartialReadFails(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, FrameJSON, []byte(`{}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	truncated := bytes.NewReader(buf.Bytes()[:buf.Len()-1])
	_, _, err := ReadFrame(truncated)
	if err == nil || errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("expected a plain I/O error for a desynchronized partial read, got %v", err)
	}
}
