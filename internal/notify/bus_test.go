package notify

import (
	"testing"
	"time"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := New(nil, nil)
	defer b.Shutdown()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(Notification{Type: FilesRemoved, Data: FilesRemovedData{Files: []string{"a.jpg"}}})

	select {
	case n := <-ch:
		if n.Type != FilesRemoved {
			t.Errorf("expected FilesRemoved, got %v", n.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notification")
	}
}

func TestSessionScopedNotificationFilteredWhenInactive(t *testing.T) {
	b := New(nil, nil)
	defer b.Shutdown()
	b.SetActiveSession("session-a")

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(Notification{Type: ScanProgress, SessionID: "session-b", Data: ScanProgressData{}})
	b.Publish(Notification{Type: ScanComplete, SessionID: "session-a", Data: ScanCompleteData{}})

	select {
	case n := <-ch:
		if n.Type != ScanComplete {
			t.Fatalf("expected only the active-session notification to arrive, got %v", n.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for active session notification")
	}

	select {
	case n := <-ch:
		t.Fatalf("unexpected second notification delivered: %v", n.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestUnscopedNotificationAlwaysDelivered(t *testing.T) {
	b := New(nil, nil)
	defer b.Shutdown()
	b.SetActiveSession("session-a")

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(Notification{Type: FilesRemoved, Data: FilesRemovedData{}})

	select {
	case n := <-ch:
		if n.Type != FilesRemoved {
			t.Errorf("expected FilesRemoved, got %v", n.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for unscoped notification")
	}
}
