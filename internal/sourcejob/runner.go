package sourcejob

import (
	"strings"

	"go.uber.org/zap"

	"github.com/jorgemgr94/imgdaemon/internal/notify"
	"github.com/jorgemgr94/imgdaemon/internal/priority"
	"github.com/jorgemgr94/imgdaemon/internal/scheduler"
	"github.com/jorgemgr94/imgdaemon/internal/task"
)

// CacheGate reports whether the cache-size manager is currently at or past
// its ceiling. Low-priority background scans pause their own slice chain
// while full rather than keep generating work the store would reject; GUI
// requests (handled outside sourcejob entirely) are never gated by it.
type CacheGate interface {
	IsFull() bool
}

// Bus is the narrow notify surface a Runner needs, kept as an interface so
// sourcejob never imports notify's concrete bus type directly.
type Bus interface {
	Publish(notify.Notification)
}

// Metrics is the narrow hook surface the metrics package implements.
type Metrics interface {
	ObserveSourceJobsActive(n int)
}

// lowPriorityCeiling is the highest job priority still subject to cache-full
// backpressure, per spec.md §4.2's "defers low-priority slices while the
// cache is full" rule.
const lowPriorityCeiling = priority.Low

// Runner drives every registered Job's cooperative slice chain through a
// Scheduler. One Runner is shared by the whole daemon.
type Runner struct {
	log   *zap.Logger
	sched *scheduler.Scheduler
	cache CacheGate
	bus   Bus
	m     Metrics

	reg *registry
}

// NewRunner wires a Runner to the scheduler it submits slice tasks into.
// cache, bus and m may be nil in tests that don't exercise backpressure,
// notifications or metrics.
func NewRunner(log *zap.Logger, sched *scheduler.Scheduler, cache CacheGate, bus Bus, m Metrics) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{log: log, sched: sched, cache: cache, bus: bus, m: m, reg: newRegistry()}
}

// Submit registers job and enqueues its first slice. Resubmitting an id
// already active is a no-op; callers that want to restart a job must Cancel
// it first, matching submit_source_job's dedup-by-id behavior.
func (r *Runner) Submit(job *Job) {
	if _, active := r.reg.get(job.ID); active {
		r.log.Debug("source job already active, ignoring resubmit", zap.String("job_id", job.ID))
		return
	}
	r.reg.put(job)
	r.observeActive()
	r.scheduleSlice(job)
}

func (r *Runner) observeActive() {
	if r.m != nil {
		r.m.ObserveSourceJobsActive(r.reg.count())
	}
}

// Cancel flips the job's cooperative cancel flag; the in-flight or next
// slice task observes it and the chain stops without producing further
// derived tasks or a scan_complete notification.
func (r *Runner) Cancel(jobID string) bool {
	job, ok := r.reg.get(jobID)
	if !ok {
		return false
	}
	job.Cancel()
	return true
}

// CancelAll stops every active job; wired to the scheduler's shutdown hook
// so a draining daemon doesn't keep spawning slice tasks into a pool that's
// about to stop accepting new work.
func (r *Runner) CancelAll() {
	for _, job := range r.reg.all() {
		job.Cancel()
	}
}

// Demote lowers (or raises) the priority used for a job's own slice tasks
// and the tasks its factory produces going forward; already-submitted
// derived tasks are untouched, matching demote_job's scope in the original.
func (r *Runner) Demote(jobID string, target priority.Priority) bool {
	job, ok := r.reg.get(jobID)
	if !ok {
		return false
	}
	job.Priority = target
	job.TaskPriority = target
	return true
}

// guiJobPrefixes are the source-job id prefixes considered GUI-driven for
// DemoteOnDisconnect's purposes. daemon_idx:: and watcher-originated jobs
// never match and are left untouched.
var guiJobPrefixes = []string{"gui_scan", "post_scan"}

// DemoteOnDisconnect lowers every active GUI-prefixed job belonging to
// sessionID to ORPHAN_SCAN priority instead of cancelling it, so files
// already being discovered still reach the store after the client that
// asked for them goes away. Matching is by substring containment of
// sessionID in the job id, the same loose rule the original uses.
func (r *Runner) DemoteOnDisconnect(sessionID string) int {
	if sessionID == "" {
		return 0
	}
	demoted := 0
	for _, job := range r.reg.all() {
		if !hasGUIPrefix(job.ID) || !strings.Contains(job.ID, sessionID) {
			continue
		}
		if r.Demote(job.ID, priority.OrphanScan) {
			demoted++
		}
	}
	return demoted
}

func hasGUIPrefix(jobID string) bool {
	for _, prefix := range guiJobPrefixes {
		if strings.HasPrefix(jobID, prefix) {
			return true
		}
	}
	return false
}

func (r *Runner) scheduleSlice(job *Job) {
	n := job.sliceNum
	id := sliceTaskID(job.ID, n)
	err := r.sched.Submit(id, job.Priority, func() error {
		r.runSlice(job, n)
		return nil
	}, scheduler.SubmitOptions{CancelEvent: job.cancelEventHandle()})
	if err != nil {
		r.log.Warn("failed to schedule source job slice",
			zap.String("job_id", job.ID), zap.Int("slice", n), zap.Error(err))
		r.reg.remove(job.ID)
		r.observeActive()
	}
}

// cancelEventHandle exposes Job's cancel event to the scheduler package
// without widening Job's exported surface beyond Cancel/IsCancelled.
func (j *Job) cancelEventHandle() *task.CancelEvent { return j.cancelEvent }

func (r *Runner) runSlice(job *Job, n int) {
	if job.IsCancelled() {
		r.reg.remove(job.ID)
		r.observeActive()
		r.log.Debug("source job cancelled, ending slice chain", zap.String("job_id", job.ID))
		return
	}

	if r.cache != nil && job.Priority <= lowPriorityCeiling && r.cache.IsFull() {
		r.log.Debug("cache full, deferring low priority source job", zap.String("job_id", job.ID))
		r.reg.remove(job.ID)
		r.observeActive()
		return
	}

	batch, ok := job.Generator()
	if !ok {
		r.finish(job)
		return
	}

	sid := sessionID(job.ID)
	r.publishProgress(job, sid, batch)

	if job.CreateTasks && job.TaskFactory != nil {
		for _, item := range batch {
			for _, spec := range job.TaskFactory(item, job.TaskPriority) {
				p := job.TaskPriority
				if spec.Priority != 0 {
					p = spec.Priority
				}
				err := r.sched.Submit(spec.ID, p, spec.Func, scheduler.SubmitOptions{
					Dependencies: spec.Dependencies,
					OnComplete:   spec.OnComplete,
					SessionID:    sid,
				})
				if err != nil {
					r.log.Warn("source job derived task rejected",
						zap.String("job_id", job.ID), zap.String("task_id", spec.ID), zap.Error(err))
				}
			}
		}
	}

	job.sliceNum = n + 1
	r.scheduleSlice(job)
}

func (r *Runner) finish(job *Job) {
	r.reg.remove(job.ID)
	r.observeActive()
	sid := sessionID(job.ID)
	if r.bus != nil && sid != "" {
		r.bus.Publish(notify.Notification{
			Type:      notify.ScanComplete,
			SessionID: sid,
			Data:      notify.ScanCompleteData{Path: job.ID},
		})
	}
	if job.OnComplete != nil {
		job.OnComplete()
	}
	r.log.Info("source job complete", zap.String("job_id", job.ID))
}

func (r *Runner) publishProgress(job *Job, sid string, batch Batch) {
	if r.bus == nil || sid == "" || len(batch) == 0 {
		return
	}
	entries := make([]notify.ImageEntry, len(batch))
	for i, p := range batch {
		entries[i] = notify.ImageEntry{Path: p}
	}
	r.bus.Publish(notify.Notification{
		Type:      notify.ScanProgress,
		SessionID: sid,
		Data:      notify.ScanProgressData{Path: job.ID, Files: entries},
	})
}
