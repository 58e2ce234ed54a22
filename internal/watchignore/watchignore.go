// Package watchignore suppresses the daemon's own filesystem watcher from
// reacting to writes the daemon itself just made.
//
// exiftool -overwrite_original replaces a file via delete + create/rename,
// producing multiple filesystem events for one logical write. A single-shot
// "ignore the next event" flag isn't enough: the watcher must drop every
// event for a path within a short window after the daemon touches it, or a
// transient delete event triggers a DB-cleanup task that cascades into
// deleting tags via the foreign-key constraint.
package watchignore

import (
	"sync"
	"time"
)

// Window is how long events for a path are suppressed after a self-inflicted
// write, mirroring the original's _IGNORE_WINDOW_SECS.
const Window = 2 * time.Second

// Suppressor tracks per-path ignore deadlines.
type Suppressor struct {
	mu          sync.Mutex
	ignoreUntil map[string]time.Time
	now         func() time.Time
}

// New builds an empty Suppressor.
func New() *Suppressor {
	return &Suppressor{ignoreUntil: make(map[string]time.Time), now: time.Now}
}

// IgnoreNextModification arms a Window-long suppression for path. Calling it
// again before the window elapses simply extends the deadline.
func (s *Suppressor) IgnoreNextModification(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ignoreUntil[path] = s.now().Add(Window)
}

// ShouldIgnore reports whether an event for path arrived within an active
// ignore window. Once the window has elapsed, the entry is cleared so a
// later, unrelated event for the same path isn't swallowed forever.
func (s *Suppressor) ShouldIgnore(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	deadline, ok := s.ignoreUntil[path]
	if !ok {
		return false
	}
	if s.now().Before(deadline) {
		return true
	}
	delete(s.ignoreUntil, path)
	return false
}
