// Package sourcejob wraps lazy, potentially unbounded item producers
// (directory walks, watcher backlogs) as cooperative chains of scheduler
// tasks, so a single large scan never monopolizes a worker and competes
// fairly with GUI-driven requests. It ports core/rendermanager.py's
// _cooperative_generator_runner/submit_source_job/demote_job/cancel_job.
package sourcejob

import (
	"strings"
	"sync"

	"github.com/jorgemgr94/imgdaemon/internal/priority"
	"github.com/jorgemgr94/imgdaemon/internal/task"
)

// Batch is one pull of items from a Job's Generator.
type Batch []string

// Generator lazily produces the next batch of items. ok is false once the
// source is exhausted; a Generator must not be called again after that.
type Generator func() (items Batch, ok bool)

// TaskFactory turns a single produced item into zero or more scheduler
// tasks, run at the job's current task priority.
type TaskFactory func(item string, p priority.Priority) []TaskSpec

// TaskSpec is everything the runner needs to forward one derived item into
// the scheduler's Submit. Priority is optional; zero means "submit at the
// job's own TaskPriority", letting most factories ignore it while one like
// create_gui_tasks_for_file can pin a single derived task (the view-image
// task) to a different level than the rest of the batch.
type TaskSpec struct {
	ID           string
	Dependencies []string
	Func         task.Func
	OnComplete   func()
	Priority     priority.Priority
}

// Job describes one lazily-driven source scan.
type Job struct {
	ID            string
	Priority      priority.Priority
	TaskPriority  priority.Priority // priority handed to derived tasks; defaults to Priority
	Generator     Generator
	TaskFactory   TaskFactory
	CreateTasks   bool
	OnComplete    func()

	cancelEvent *task.CancelEvent
	sliceNum    int
}

// NewJob constructs a job ready for Runner.Submit. taskPriority may equal
// priority.Priority(0) to mean "same as the job's own priority".
func NewJob(id string, p priority.Priority, taskPriority priority.Priority, gen Generator, factory TaskFactory, createTasks bool, onComplete func()) *Job {
	if taskPriority == 0 {
		taskPriority = p
	}
	return &Job{
		ID:           id,
		Priority:     p,
		TaskPriority: taskPriority,
		Generator:    gen,
		TaskFactory:  factory,
		CreateTasks:  createTasks,
		OnComplete:   onComplete,
		cancelEvent:  task.NewCancelEvent(),
	}
}

func (j *Job) Cancel()          { j.cancelEvent.Set() }
func (j *Job) IsCancelled() bool { return j.cancelEvent.IsSet() }

// Done exposes the job's cancellation channel so a generator wrapper can
// select on it, the way PrefetchGenerator's background goroutine does.
func (j *Job) Done() <-chan struct{} { return j.cancelEvent.Done() }

// PrefetchGenerator moves gen's actual work onto a dedicated goroutine that
// runs independently of whatever worker eventually calls the returned
// Generator. The slice task a Runner submits to the scheduler pool then
// only does a channel receive instead of the disk I/O gen performs,
// keeping directory-walk work off worker slots the way the GUI fast-scan
// path requires. The background goroutine exits once gen is exhausted or
// done fires.
func PrefetchGenerator(gen Generator, done <-chan struct{}) Generator {
	type fetched struct {
		batch Batch
		ok    bool
	}
	out := make(chan fetched, 1)
	go func() {
		defer close(out)
		for {
			batch, ok := gen()
			select {
			case out <- fetched{batch, ok}:
			case <-done:
				return
			}
			if !ok {
				return
			}
		}
	}()
	return func() (Batch, bool) {
		select {
		case f, open := <-out:
			if !open {
				return nil, false
			}
			return f.batch, f.ok
		case <-done:
			return nil, false
		}
	}
}

// sessionID extracts the session component from a "prefix::session::rest"
// job id convention, mirroring the Python side's job_id.split("::", 2).
// Jobs without that shape (daemon-originated scans) return "".
func sessionID(jobID string) string {
	parts := strings.SplitN(jobID, "::", 3)
	if len(parts) < 2 {
		return ""
	}
	if parts[0] == "daemon_idx" || parts[0] == "post_scan" {
		return ""
	}
	return parts[1]
}

// sliceTaskID names the N-th cooperative slice task of a job.
func sliceTaskID(jobID string, n int) string {
	return "job_slice::" + jobID + "::" + itoa(n)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// registry is the active-jobs table a Runner keeps so Cancel/Demote by id
// can reach a job that is mid-chain.
type registry struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

func newRegistry() *registry { return &registry{jobs: make(map[string]*Job)} }

func (r *registry) put(j *Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[j.ID] = j
}

func (r *registry) get(id string) (*Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	return j, ok
}

func (r *registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
}

func (r *registry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

func (r *registry) all() []*Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j)
	}
	return out
}
