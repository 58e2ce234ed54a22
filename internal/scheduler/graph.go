// Package scheduler implements the priority-driven task graph and
// cooperative worker pool described in spec.md §4.1. It is the hardest
// subsystem in the daemon: dependency resolution, priority inheritance,
// in-place task upgrades, cooperative cancellation, lifecycle transitions
// and graph pruning all live here.
package scheduler

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/jorgemgr94/imgdaemon/internal/priority"
	"github.com/jorgemgr94/imgdaemon/internal/task"
)

// ErrShuttingDown is returned by Submit once Prepare/Shutdown has been
// called; existing tasks continue but no new work is admitted.
var ErrShuttingDown = errors.New("scheduler: shutting down")

// SubmitOptions carries the optional knobs accepted by Submit, grouped the
// way the teacher's config structs group optional fields.
type SubmitOptions struct {
	Dependencies   []string
	OnComplete     func()
	CancelEvent    *task.CancelEvent
	Callback       task.ResultCallback
	SessionID      string
}

// Graph is the mapping task_id → Task plus the priority queue of runnable
// tasks. A single mutex serializes every structural edit (insert, delete,
// edge add/remove, priority change, is_active flips); the queue has its own
// internal synchronization so tasks are always enqueued after the graph
// lock is released, per spec.md's concurrency invariants.
type Graph struct {
	log *zap.Logger

	mu       sync.Mutex
	tasks    map[string]*task.Task
	callbacks map[string][]task.ResultCallback

	queue *priorityQueue

	shuttingDown bool

	onMetrics func(event string, p priority.Priority)
}

// NewGraph builds an empty graph backed by its own runnable-task queue.
func NewGraph(log *zap.Logger) *Graph {
	if log == nil {
		log = zap.NewNop()
	}
	return &Graph{
		log:       log,
		tasks:     make(map[string]*task.Task),
		callbacks: make(map[string][]task.ResultCallback),
		queue:     newPriorityQueue(),
	}
}

// OnMetrics installs a hook invoked for scheduler lifecycle events so the
// metrics package can stay decoupled from the graph's internals.
func (g *Graph) OnMetrics(fn func(event string, p priority.Priority)) {
	g.onMetrics = fn
}

func (g *Graph) emit(event string, p priority.Priority) {
	if g.onMetrics != nil {
		g.onMetrics(event, p)
	}
}

// Submit implements spec.md §4.1 "Submit a task" steps 1-9: dedup/upgrade by
// id, last-writer-wins args update, dependency linking, priority
// inheritance, and conditional enqueue outside the lock.
func (g *Graph) Submit(id string, p priority.Priority, fn task.Func, opts SubmitOptions) error {
	var (
		toEnqueue   *task.Task
		doneCallback task.ResultCallback
		doneErr     error
		doneHasErr  bool
	)

	g.mu.Lock()
	if g.shuttingDown {
		g.mu.Unlock()
		g.log.Warn("rejecting submission during shutdown", zap.String("task_id", id))
		return ErrShuttingDown
	}

	existing, exists := g.tasks[id]
	skipGraphUpdate := false
	current := existing

	switch {
	case exists && existing.State.Terminal():
		g.log.Debug("task already terminal, ignoring resubmission",
			zap.String("task_id", id), zap.String("state", existing.State.String()))
		if opts.Callback != nil {
			doneCallback = opts.Callback
			doneErr = existing.LastErr
			doneHasErr = true
		}
		skipGraphUpdate = true

	case exists && existing.State == task.Running:
		g.log.Debug("task running, storing callback for later delivery", zap.String("task_id", id))
		if opts.Callback != nil {
			g.callbacks[id] = append(g.callbacks[id], opts.Callback)
		}
		skipGraphUpdate = true

	case exists && p > existing.Priority:
		g.log.Info("upgrading task priority",
			zap.String("task_id", id),
			zap.Stringer("from", existing.Priority), zap.Stringer("to", p))
		existing.IsActive = false

		replacement := task.New(id, p, fn)
		for _, dep := range opts.Dependencies {
			replacement.Dependencies[dep] = struct{}{}
		}
		replacement.Dependents = existing.Dependents
		replacement.OnComplete = opts.OnComplete
		replacement.SessionID = firstNonEmpty(opts.SessionID, existing.SessionID)
		if existing.CancelEvent != nil {
			replacement.CancelEvent = existing.CancelEvent
		} else {
			replacement.CancelEvent = opts.CancelEvent
		}
		g.tasks[id] = replacement
		current = replacement
		g.emit("upgraded", p)

	case exists:
		g.log.Debug("task pending at equal/lower priority, updating in place", zap.String("task_id", id))
		existing.Func = fn
		existing.SessionID = firstNonEmpty(opts.SessionID, existing.SessionID)
		if opts.Callback != nil {
			g.callbacks[id] = append(g.callbacks[id], opts.Callback)
		}
		skipGraphUpdate = true

	default:
		current = task.New(id, p, fn)
		current.OnComplete = opts.OnComplete
		current.CancelEvent = opts.CancelEvent
		current.SessionID = opts.SessionID
		for _, dep := range opts.Dependencies {
			current.Dependencies[dep] = struct{}{}
		}
		g.tasks[id] = current
		for dep := range current.Dependencies {
			if depTask, ok := g.tasks[dep]; ok {
				depTask.Dependents[id] = struct{}{}
			} else {
				g.log.Warn("task submitted with unknown dependency",
					zap.String("task_id", id), zap.String("dependency", dep))
			}
		}
		g.emit("submitted", p)
	}

	if !skipGraphUpdate {
		g.inheritPriority(current)

		if len(current.Dependencies) == 0 && current.State == task.Pending {
			current.State = task.Queued
			toEnqueue = current
		}
		if opts.Callback != nil {
			g.callbacks[id] = append(g.callbacks[id], opts.Callback)
		}
	}
	g.mu.Unlock()

	if toEnqueue != nil {
		g.queue.Put(toEnqueue)
		g.emit("queued", toEnqueue.Priority)
	}
	if doneCallback != nil {
		safeDeliver(g.log, doneCallback, id, boolErr(doneHasErr, doneErr))
	}
	return nil
}

func boolErr(has bool, err error) error {
	if !has {
		return nil
	}
	return err
}

// inheritPriority walks from t over its dependencies transitively, raising
// any dependency whose priority is lower than t's. Must be called with
// g.mu held. A visited set bounds the walk even if a cycle somehow exists
// (spec.md: "a detected cycle must log an error, not loop").
func (g *Graph) inheritPriority(t *task.Task) {
	visited := make(map[string]struct{}, len(t.Dependencies))
	queue := make([]string, 0, len(t.Dependencies))
	for dep := range t.Dependencies {
		visited[dep] = struct{}{}
		queue = append(queue, dep)
	}

	steps := 0
	const maxSteps = 1_000_000 // cycle guard: cycles should not exist by construction
	for len(queue) > 0 {
		steps++
		if steps > maxSteps {
			g.log.Error("priority inheritance exceeded step bound, likely a cycle", zap.String("task_id", t.ID))
			return
		}
		dep := queue[0]
		queue = queue[1:]
		depTask, ok := g.tasks[dep]
		if !ok {
			continue
		}
		if t.Priority > depTask.Priority {
			g.log.Debug("priority inheritance upgrading dependency",
				zap.String("task_id", dep), zap.Stringer("to", t.Priority))
			depTask.Priority = t.Priority
			for sub := range depTask.Dependencies {
				if _, seen := visited[sub]; !seen {
					visited[sub] = struct{}{}
					queue = append(queue, sub)
				}
			}
		}
	}
}

// Upgrade implements the BFS-collect-then-resubmit helper from spec.md
// §4.1: every task reachable through dependencies at a lower priority than
// target is resubmitted at target, which the Submit path turns into an
// invalidate+requeue.
func (g *Graph) Upgrade(ids []string, target priority.Priority) {
	type resub struct {
		id   string
		fn   task.Func
		deps []string
		oc   func()
		ce   *task.CancelEvent
		sid  string
	}
	var toResubmit []resub

	g.mu.Lock()
	visited := make(map[string]struct{}, len(ids))
	queue := make([]*task.Task, 0, len(ids))
	for _, id := range ids {
		if t, ok := g.tasks[id]; ok {
			visited[id] = struct{}{}
			queue = append(queue, t)
		}
	}
	for len(queue) > 0 {
		t := queue[0]
		queue = queue[1:]
		if t.Priority < target {
			deps := make([]string, 0, len(t.Dependencies))
			for d := range t.Dependencies {
				deps = append(deps, d)
			}
			toResubmit = append(toResubmit, resub{t.ID, t.Func, deps, t.OnComplete, t.CancelEvent, t.SessionID})
		}
		for dep := range t.Dependencies {
			if _, seen := visited[dep]; seen {
				continue
			}
			if depTask, ok := g.tasks[dep]; ok {
				visited[dep] = struct{}{}
				queue = append(queue, depTask)
			}
		}
	}
	g.mu.Unlock()

	for _, r := range toResubmit {
		_ = g.Submit(r.id, target, r.fn, SubmitOptions{
			Dependencies: r.deps,
			OnComplete:   r.oc,
			CancelEvent:  r.ce,
			SessionID:    r.sid,
		})
	}
}

// Downgrade pushes every still-pending/queued task in ids to a lower
// priority in place, leaving RUNNING/terminal tasks untouched, per spec.md
// §4.1's "Downgrade" helper.
func (g *Graph) Downgrade(ids []string, target priority.Priority) {
	var toEnqueue []*task.Task

	g.mu.Lock()
	for _, id := range ids {
		t, ok := g.tasks[id]
		if !ok || t.Priority <= target {
			continue
		}
		if t.State == task.Running || t.State.Terminal() {
			continue
		}
		t.IsActive = false

		replacement := task.New(id, target, t.Func)
		replacement.Dependencies = copyDepSetFromMap(t.Dependencies)
		replacement.Dependents = t.Dependents
		replacement.OnComplete = t.OnComplete
		replacement.CancelEvent = t.CancelEvent
		replacement.SessionID = t.SessionID
		g.tasks[id] = replacement

		if len(replacement.Dependencies) == 0 {
			replacement.State = task.Queued
			toEnqueue = append(toEnqueue, replacement)
		}
	}
	g.mu.Unlock()

	for _, t := range toEnqueue {
		g.queue.Put(t)
	}
}

// Cancel sets the cooperative cancel flag and marks the task inactive.
// Returns whether anything changed.
func (g *Graph) Cancel(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tasks[id]
	if !ok || t.CancelEvent == nil {
		return false
	}
	t.CancelEvent.Set()
	t.IsActive = false
	return true
}

// CancelBatch cancels many ids under one lock acquisition.
func (g *Graph) CancelBatch(ids []string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	count := 0
	for _, id := range ids {
		if t, ok := g.tasks[id]; ok && t.CancelEvent != nil {
			t.CancelEvent.Set()
			t.IsActive = false
			count++
		}
	}
	return count
}

// Snapshot is a copy of task state returned by Graph.Snapshot for
// introspection, mainly used by the pipeline orchestrator to decide whether
// a task id already exists without taking its own lock.
type Snapshot struct {
	Exists   bool
	State    task.State
	Priority priority.Priority
}

func (g *Graph) Snapshot(id string) Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tasks[id]
	if !ok {
		return Snapshot{}
	}
	return Snapshot{Exists: true, State: t.State, Priority: t.Priority}
}

// StampSessionID sets SessionID on an existing task, used by the pipeline
// orchestrator so a running view-image task can later notice the GUI
// session changed and abort before the expensive decode.
func (g *Graph) StampSessionID(id, sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if t, ok := g.tasks[id]; ok {
		t.SessionID = sessionID
	}
}

// finishTask applies spec.md's "On-task-finished" algorithm: dependents of
// t lose their edge to it and become runnable if that was their last
// blocker; if t itself has no dependents left it is pruned, cascading one
// predecessor layer at a time (bounded worklist, not unbounded recursion)
// whenever a predecessor becomes a dependent-less terminal leaf.
func (g *Graph) finishTask(t *task.Task) []*task.Task {
	var toEnqueue []*task.Task

	g.mu.Lock()
	for dependentID := range t.Dependents {
		dependent, ok := g.tasks[dependentID]
		if !ok {
			continue
		}
		delete(dependent.Dependencies, t.ID)
		if len(dependent.Dependencies) == 0 && dependent.State == task.Pending {
			dependent.State = task.Queued
			toEnqueue = append(toEnqueue, dependent)
		}
	}

	worklist := []string{t.ID}
	visited := map[string]struct{}{t.ID: {}}
	steps := 0
	const maxSteps = 100_000
	for len(worklist) > 0 {
		steps++
		if steps > maxSteps {
			g.log.Error("terminal pruning exceeded step bound", zap.String("task_id", t.ID))
			break
		}
		id := worklist[0]
		worklist = worklist[1:]
		cur, ok := g.tasks[id]
		if !ok || len(cur.Dependents) > 0 {
			continue
		}
		delete(g.tasks, id)
		for depID := range cur.Dependencies {
			depTask, ok := g.tasks[depID]
			if !ok {
				continue
			}
			delete(depTask.Dependents, id)
			if len(depTask.Dependents) == 0 && depTask.State.Terminal() {
				if _, seen := visited[depID]; !seen {
					visited[depID] = struct{}{}
					worklist = append(worklist, depID)
				}
			}
		}
	}
	g.mu.Unlock()

	return toEnqueue
}

// popCallbacks removes and returns every callback registered for id.
func (g *Graph) popCallbacks(id string) []task.ResultCallback {
	g.mu.Lock()
	defer g.mu.Unlock()
	cbs := g.callbacks[id]
	delete(g.callbacks, id)
	return cbs
}

// transitionRunning moves a dequeued task to RUNNING and records its
// worker, returning false if the task was invalidated in the meantime.
func (g *Graph) transitionRunning(t *task.Task, workerID int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !t.IsActive {
		return false
	}
	t.State = task.Running
	t.WorkerID = workerID
	t.HasWorker = true
	return true
}

func (g *Graph) transitionTerminal(t *task.Task, state task.State, err error) {
	g.mu.Lock()
	t.State = state
	t.LastErr = err
	g.mu.Unlock()
}

// prepareShutdown flips the shutdown flag so Submit starts rejecting new
// work; it does not touch existing tasks.
func (g *Graph) prepareShutdown() {
	g.mu.Lock()
	g.shuttingDown = true
	g.mu.Unlock()
}

// drainQueued removes every still-QUEUED task from the queue and the graph,
// unlinking it from its dependencies' Dependents sets. Used only during the
// shutdown drain step.
func (g *Graph) drainQueued() int {
	drained := g.queue.drainAll()

	g.mu.Lock()
	defer g.mu.Unlock()
	count := 0
	for _, t := range drained {
		g.queue.Done() // account for the Put that brought it here
		if t.State != task.Queued {
			continue
		}
		count++
		for depID := range t.Dependencies {
			if depTask, ok := g.tasks[depID]; ok {
				delete(depTask.Dependents, t.ID)
			}
		}
		delete(g.tasks, t.ID)
	}
	return count
}

// clear empties the graph entirely, the final step of shutdown.
func (g *Graph) clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tasks = make(map[string]*task.Task)
	g.callbacks = make(map[string][]task.ResultCallback)
}

// Len reports the graph size (for metrics/introspection).
func (g *Graph) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.tasks)
}

func copyDepSetFromMap(m map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(m))
	for k := range m {
		out[k] = struct{}{}
	}
	return out
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func safeDeliver(log *zap.Logger, cb task.ResultCallback, id string, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("task callback panicked", zap.String("task_id", id), zap.Any("recover", r))
		}
	}()
	cb(id, err)
}
