package watchignore

import (
	"testing"
	"time"
)

func TestSingleEventSuppressed(t *testing.T) {
	s := New()
	fixed := time.Now()
	s.now = func() time.Time { return fixed }

	s.IgnoreNextModification("/tmp/test/image.jpg")
	if !s.ShouldIgnore("/tmp/test/image.jpg") {
		t.Error("expected event within window to be suppressed")
	}
}

func TestMultipleEventsSuppressedWithinWindow(t *testing.T) {
	s := New()
	fixed := time.Now()
	s.now = func() time.Time { return fixed }

	s.IgnoreNextModification("/tmp/test/image.jpg")

	if !s.ShouldIgnore("/tmp/test/image.jpg") {
		t.Error("deleted event should be suppressed")
	}
	if !s.ShouldIgnore("/tmp/test/image.jpg") {
		t.Error("created event should also be suppressed")
	}
}

func TestEventAfterWindowNotSuppressed(t *testing.T) {
	s := New()
	start := time.Now()
	s.now = func() time.Time { return start }
	s.IgnoreNextModification("/tmp/test/image.jpg")

	s.now = func() time.Time { return start.Add(Window + time.Millisecond) }
	if s.ShouldIgnore("/tmp/test/image.jpg") {
		t.Error("event after window elapsed should not be suppressed")
	}
}

func TestUnrelatedPathNotSuppressed(t *testing.T) {
	s := New()
	s.IgnoreNextModification("/tmp/test/a.jpg")
	if s.ShouldIgnore("/tmp/test/b.jpg") {
		t.Error("unrelated path should never be suppressed")
	}
}

func TestEntryClearedAfterExpiry(t *testing.T) {
	s := New()
	start := time.Now()
	s.now = func() time.Time { return start }
	s.IgnoreNextModification("/tmp/test/image.jpg")

	s.now = func() time.Time { return start.Add(Window + time.Millisecond) }
	s.ShouldIgnore("/tmp/test/image.jpg")

	s.mu.Lock()
	_, stillPresent := s.ignoreUntil["/tmp/test/image.jpg"]
	s.mu.Unlock()
	if stillPresent {
		t.Error("expired entry should be removed from the map")
	}
}
