package scheduler

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jorgemgr94/imgdaemon/internal/priority"
	"github.com/jorgemgr94/imgdaemon/internal/task"
)

const (
	shutdownSentinelID = "_SHUTDOWN_"
	dequeueTimeout      = 200 * time.Millisecond
)

// Pool is the fixed-size cooperative worker pool described in spec.md
// §4.1's "Worker loop" and "Graceful shutdown". It owns no state of its
// own beyond bookkeeping: all task data lives in the Graph it was built
// against, the same separation the teacher's WorkerPool/TaskResult split
// keeps (cmd/advanced/main.go).
type Pool struct {
	log   *zap.Logger
	graph *Graph

	numWorkers int
	wg         sync.WaitGroup

	activeMu    sync.Mutex
	activeTasks map[int]*task.Task

	shutdownOnce sync.Once
	started      bool

	onOutcome   func(state task.State, p priority.Priority)
	cancelJobs  func()
}

// NewPool builds a pool of numWorkers bound to graph. Workers are not
// started until Start is called.
func NewPool(log *zap.Logger, graph *Graph, numWorkers int) *Pool {
	if log == nil {
		log = zap.NewNop()
	}
	if numWorkers <= 0 {
		numWorkers = 4
	}
	return &Pool{
		log:         log,
		graph:       graph,
		numWorkers:  numWorkers,
		activeTasks: make(map[int]*task.Task),
	}
}

// OnOutcome installs a hook fired once per task terminal transition, used
// to feed Prometheus counters without the scheduler importing metrics.
func (p *Pool) OnOutcome(fn func(state task.State, priority priority.Priority)) {
	p.onOutcome = fn
}

// OnShutdown installs the hook used to cancel every active source-job when
// graceful shutdown begins (spec.md §4.1 step 2 of "Shutdown").
func (p *Pool) OnShutdown(fn func()) {
	p.cancelJobs = fn
}

// Start launches the fixed worker goroutines.
func (p *Pool) Start() {
	if p.started {
		return
	}
	p.started = true
	p.log.Info("starting worker pool", zap.Int("workers", p.numWorkers))
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.workerLoop(i)
	}
}

func (p *Pool) workerLoop(workerID int) {
	defer p.wg.Done()
	p.log.Debug("worker started", zap.Int("worker_id", workerID))

	for {
		t, ok := p.graph.queue.Get(dequeueTimeout)
		if !ok {
			continue
		}

		if !t.IsActive {
			p.graph.queue.Done()
			continue
		}
		if t.ID == shutdownSentinelID {
			p.graph.queue.Done()
			p.log.Debug("worker received shutdown sentinel", zap.Int("worker_id", workerID))
			return
		}

		p.runOne(t, workerID)
		p.graph.queue.Done()
	}
}

func (p *Pool) runOne(t *task.Task, workerID int) {
	if !p.graph.transitionRunning(t, workerID) {
		return
	}

	p.activeMu.Lock()
	p.activeTasks[workerID] = t
	p.activeMu.Unlock()
	defer func() {
		p.activeMu.Lock()
		delete(p.activeTasks, workerID)
		p.activeMu.Unlock()
	}()

	var execErr error
	if t.CancelEvent != nil && t.CancelEvent.IsSet() {
		p.graph.transitionTerminal(t, task.Completed, nil)
	} else {
		execErr = p.invoke(t)
		if execErr != nil {
			p.graph.transitionTerminal(t, task.Failed, execErr)
			p.log.Error("task failed", zap.String("task_id", t.ID), zap.Error(execErr))
		} else {
			p.graph.transitionTerminal(t, task.Completed, nil)
		}
	}

	if p.onOutcome != nil {
		p.onOutcome(t.State, t.Priority)
	}

	for _, dependent := range p.graph.finishTask(t) {
		p.graph.queue.Put(dependent)
	}

	for _, cb := range p.graph.popCallbacks(t.ID) {
		p.deliver(cb, t.ID, t.LastErr)
	}

	if t.OnComplete != nil {
		p.guard(func() { t.OnComplete() }, t.ID, "on_complete_callback")
	}
}

// invoke calls the task's Func under a panic guard: task functions are
// arbitrary application/plugin code and must never be able to kill a
// worker goroutine (spec.md §7's "catch-all" requirement).
func (p *Pool) invoke(t *task.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicToErr(r)
		}
	}()
	return t.Func()
}

func (p *Pool) deliver(cb task.ResultCallback, id string, err error) {
	p.guard(func() { cb(id, err) }, id, "callback")
}

func (p *Pool) guard(fn func(), id, what string) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("guarded hook panicked",
				zap.String("task_id", id), zap.String("hook", what), zap.Any("recover", r))
		}
	}()
	fn()
}

// ActiveTasks returns a snapshot of which task each worker currently runs,
// for introspection/debugging.
func (p *Pool) ActiveTasks() map[int]string {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	out := make(map[int]string, len(p.activeTasks))
	for wid, t := range p.activeTasks {
		out[wid] = t.ID
	}
	return out
}

// Prepare begins phase 1 of graceful shutdown: reject new submissions,
// let running and already-queued work continue.
func (p *Pool) Prepare() {
	p.graph.prepareShutdown()
}

// Shutdown begins phase 2: idempotent, blocking. Cancels active source
// jobs, discards queued-but-not-running tasks, posts one sentinel per
// worker, joins workers with a timeout, and — only if every worker exited
// in time — joins the queue so its internal counters don't leak, then
// clears the graph.
func (p *Pool) Shutdown(timeout time.Duration) {
	p.shutdownOnce.Do(func() {
		p.log.Info("scheduler shutdown initiated")
		p.Prepare()

		if p.cancelJobs != nil {
			p.guard(p.cancelJobs, "*", "cancel_active_jobs")
		}

		discarded := p.graph.drainQueued()
		if discarded > 0 {
			p.log.Info("discarded pending tasks on shutdown", zap.Int("count", discarded))
		}

		for i := 0; i < p.numWorkers; i++ {
			sentinel := task.New(shutdownSentinelID, priority.Shutdown, func() error { return nil })
			p.graph.queue.Put(sentinel)
		}

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()

		allExited := false
		select {
		case <-done:
			allExited = true
		case <-time.After(timeout):
			p.log.Warn("worker pool did not fully exit within shutdown timeout")
		}

		if allExited {
			p.graph.queue.Join()
		}

		p.graph.clear()
		p.log.Info("scheduler shutdown complete")
	})
}

func panicToErr(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return &panicError{r}
}

type panicError struct{ v any }

func (e *panicError) Error() string { return "panic: " + stringify(e.v) }

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return "non-string panic value"
}
