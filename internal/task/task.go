// Package task defines the scheduler's addressable unit of work.
package task

import (
	"sync"
	"time"

	"github.com/jorgemgr94/imgdaemon/internal/priority"
)

// State is a task's lifecycle stage.
type State int

const (
	Pending State = iota
	Queued
	Running
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Queued:
		return "QUEUED"
	case Running:
		return "RUNNING"
	case Completed:
		return "COMPLETED"
	case Failed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

func (s State) Terminal() bool {
	return s == Completed || s == Failed
}

// Func is the work a task performs. It returns an error rather than
// panicking for expected failure modes; an unexpected panic is still
// recovered by the worker (see scheduler.Pool).
type Func func() error

// ResultCallback is delivered once a task reaches a terminal state, either
// because the worker just ran it or because it was already done when a
// caller asked for delivery.
type ResultCallback func(taskID string, err error)

// Task is the scheduler's unit of work. All mutable fields are only ever
// touched under the owning Graph's lock; Task itself holds no lock.
type Task struct {
	ID       string
	Priority priority.Priority
	Func     Func

	Dependencies map[string]struct{}
	Dependents   map[string]struct{}

	State          State
	WorkerID       int
	HasWorker      bool
	OnComplete     func()
	IsActive       bool
	CancelEvent    *CancelEvent
	Timestamp      time.Time
	SessionID      string // optional, stamped/read by pipeline orchestrator
	LastErr        error
}

// New constructs a task in the PENDING state, ready for the graph.
func New(id string, p priority.Priority, fn Func) *Task {
	return &Task{
		ID:           id,
		Priority:     p,
		Func:         fn,
		Dependencies: make(map[string]struct{}),
		Dependents:   make(map[string]struct{}),
		State:        Pending,
		IsActive:     true,
		Timestamp:    time.Now(),
	}
}

// CancelEvent is a cooperative cancellation flag, analogous to a
// threading.Event: set once, observed many times, never reset.
type CancelEvent struct {
	signal chan struct{}
	once   sync.Once
}

func NewCancelEvent() *CancelEvent {
	return &CancelEvent{signal: make(chan struct{})}
}

func (c *CancelEvent) Set() {
	c.once.Do(func() { close(c.signal) })
}

func (c *CancelEvent) IsSet() bool {
	select {
	case <-c.signal:
		return true
	default:
		return false
	}
}

// Done exposes the underlying channel so task funcs can select on it
// alongside other blocking operations (e.g. an external decode).
func (c *CancelEvent) Done() <-chan struct{} {
	return c.signal
}
