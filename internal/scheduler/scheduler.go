package scheduler

import (
	"time"

	"go.uber.org/zap"

	"github.com/jorgemgr94/imgdaemon/internal/priority"
	"github.com/jorgemgr94/imgdaemon/internal/task"
)

// Scheduler bundles a Graph and its Pool behind the facade the rest of the
// daemon (pipeline orchestrator, source-job runner, wire server) calls
// into. Keeping Graph/Pool as separate internal types mirrors the original
// RenderManager's single class while still letting each half be tested in
// isolation.
type Scheduler struct {
	Graph *Graph
	Pool  *Pool
}

// Metrics is the narrow hook surface the metrics package implements; kept
// as an interface here so scheduler has no import-time dependency on it.
type Metrics interface {
	ObserveQueueDepth(n int)
	ObserveSubmit(p priority.Priority)
	ObserveOutcome(state task.State, p priority.Priority)
}

// New builds a ready-to-Start scheduler with numWorkers goroutines.
func New(log *zap.Logger, numWorkers int, m Metrics) *Scheduler {
	graph := NewGraph(log)
	pool := NewPool(log, graph, numWorkers)

	if m != nil {
		graph.OnMetrics(func(event string, p priority.Priority) {
			if event == "submitted" || event == "upgraded" {
				m.ObserveSubmit(p)
			}
			m.ObserveQueueDepth(graph.queue.Len())
		})
		pool.OnOutcome(m.ObserveOutcome)
	}

	return &Scheduler{Graph: graph, Pool: pool}
}

// Start launches the worker pool.
func (s *Scheduler) Start() { s.Pool.Start() }

// Submit is the primary entry point: see Graph.Submit for the full
// dedup/upgrade/priority-inheritance algorithm.
func (s *Scheduler) Submit(id string, p priority.Priority, fn task.Func, opts SubmitOptions) error {
	return s.Graph.Submit(id, p, fn, opts)
}

// SubmitSimple is a convenience wrapper for the common case of a
// dependency-free, callback-free task.
func (s *Scheduler) SubmitSimple(id string, p priority.Priority, fn task.Func) error {
	return s.Submit(id, p, fn, SubmitOptions{})
}

func (s *Scheduler) Upgrade(ids []string, target priority.Priority)   { s.Graph.Upgrade(ids, target) }
func (s *Scheduler) Downgrade(ids []string, target priority.Priority) { s.Graph.Downgrade(ids, target) }
func (s *Scheduler) Cancel(id string) bool                            { return s.Graph.Cancel(id) }
func (s *Scheduler) CancelBatch(ids []string) int                     { return s.Graph.CancelBatch(ids) }
func (s *Scheduler) Snapshot(id string) Snapshot                      { return s.Graph.Snapshot(id) }
func (s *Scheduler) StampSessionID(id, sessionID string)               { s.Graph.StampSessionID(id, sessionID) }
func (s *Scheduler) QueueDepth() int                                   { return s.Graph.queue.Len() }
func (s *Scheduler) GraphSize() int                                    { return s.Graph.Len() }

// OnShutdown registers the hook fired once at the start of graceful
// shutdown, used to cancel every active source-job (spec.md §4.1).
func (s *Scheduler) OnShutdown(fn func()) { s.Pool.OnShutdown(fn) }

// Shutdown runs the two-phase graceful shutdown described in spec.md
// §4.1: Prepare (reject new submissions) then the blocking drain+join.
func (s *Scheduler) Shutdown(timeout time.Duration) { s.Pool.Shutdown(timeout) }
