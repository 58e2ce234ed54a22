package notify

import (
	"sync"

	"go.uber.org/zap"
)

// queueCapacity mirrors the original's Queue(maxsize=5000): large enough to
// absorb a burst of scan_progress notifications without blocking a worker,
// small enough that a stalled listener doesn't let memory grow unbounded.
const queueCapacity = 5000

// Listener receives fanned-out notifications. Registered by the wire
// protocol server, one per connected GUI client.
type Listener chan Notification

// Metrics is the narrow hook surface the metrics package implements.
type Metrics interface {
	ObserveNotifyDropped()
	ObserveNotifyListenerError()
}

// Bus is the single notification queue every worker and source-job slice
// publishes into, drained by one goroutine that fans out to listeners
// after session filtering.
type Bus struct {
	log   *zap.Logger
	queue chan Notification
	m     Metrics

	mu            sync.Mutex
	listeners     map[chan Notification]struct{}
	activeSession string

	stop chan struct{}
	done chan struct{}
}

// New builds a Bus and starts its drain goroutine. m may be nil.
func New(log *zap.Logger, m Metrics) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	b := &Bus{
		log:       log,
		queue:     make(chan Notification, queueCapacity),
		m:         m,
		listeners: make(map[chan Notification]struct{}),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go b.run()
	return b
}

// Publish enqueues a notification, dropping it with a warning if the queue
// is full rather than blocking the caller — matching put_nowait/Full.
func (b *Bus) Publish(n Notification) {
	select {
	case b.queue <- n:
	default:
		b.log.Warn("notification queue full, dropping notification", zap.String("type", string(n.Type)))
		if b.m != nil {
			b.m.ObserveNotifyDropped()
		}
	}
}

// SetActiveSession updates which GUI session's session-scoped notifications
// get delivered. Notifications with no SessionID are never filtered (they
// originate from daemon-side indexing, not a GUI request).
func (b *Bus) SetActiveSession(sessionID string) {
	b.mu.Lock()
	b.activeSession = sessionID
	b.mu.Unlock()
}

// Subscribe registers a listener channel that receives every notification
// not filtered out by session. Call Unsubscribe when the client disconnects.
func (b *Bus) Subscribe() chan Notification {
	ch := make(chan Notification, 64)
	b.mu.Lock()
	b.listeners[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a listener previously returned by Subscribe.
func (b *Bus) Unsubscribe(ch chan Notification) {
	b.mu.Lock()
	delete(b.listeners, ch)
	b.mu.Unlock()
	close(ch)
}

// Shutdown stops the drain goroutine and waits for it to exit.
func (b *Bus) Shutdown() {
	close(b.stop)
	<-b.done
}

func (b *Bus) run() {
	defer close(b.done)
	for {
		select {
		case <-b.stop:
			return
		case n := <-b.queue:
			b.dispatch(n)
		}
	}
}

func (b *Bus) dispatch(n Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n.SessionID != "" && n.SessionID != b.activeSession {
		b.log.Debug("dropping stale notification for inactive session", zap.String("type", string(n.Type)))
		return
	}
	for ch := range b.listeners {
		select {
		case ch <- n:
		default:
			b.log.Warn("notification listener channel full, dropping", zap.String("type", string(n.Type)))
			if b.m != nil {
				b.m.ObserveNotifyListenerError()
			}
		}
	}
}
