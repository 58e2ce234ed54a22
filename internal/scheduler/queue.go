package scheduler

import (
	"container/heap"
	"sync"
	"time"

	"github.com/jorgemgr94/imgdaemon/internal/task"
)

// taskHeap orders entries by (priority desc, timestamp asc) — a max-heap on
// priority with FIFO tiebreak, matching spec.md §3.3's dequeue rule.
type taskHeap []*task.Task

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].Timestamp.Before(h[j].Timestamp)
}
func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)   { *h = append(*h, x.(*task.Task)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// priorityQueue holds only runnable tasks. It has its own internal
// synchronization, deliberately separate from the graph's lock (spec.md
// §4.1: "the queue has its own internal synchronization"), and supports a
// Done()/Join() pair mirroring Python's queue.Queue.task_done()/join() that
// the graceful shutdown path relies on to know every dequeued item was
// accounted for.
type priorityQueue struct {
	mu         sync.Mutex
	heap       taskHeap
	unfinished int
	notEmpty   chan struct{}
	allDone    chan struct{}
}

func newPriorityQueue() *priorityQueue {
	return &priorityQueue{
		notEmpty: make(chan struct{}),
		allDone:  make(chan struct{}),
	}
}

// Put enqueues a task and marks one more item as "in flight" until Done is
// called for it.
func (q *priorityQueue) Put(t *task.Task) {
	q.mu.Lock()
	heap.Push(&q.heap, t)
	q.unfinished++
	ch := q.notEmpty
	q.notEmpty = make(chan struct{})
	q.mu.Unlock()
	close(ch)
}

// Get blocks up to timeout for a runnable task. Returns (nil, false) on
// timeout, allowing the worker loop to re-check its shutdown flag.
func (q *priorityQueue) Get(timeout time.Duration) (*task.Task, bool) {
	deadline := time.Now().Add(timeout)
	for {
		q.mu.Lock()
		if len(q.heap) > 0 {
			t := heap.Pop(&q.heap).(*task.Task)
			q.mu.Unlock()
			return t, true
		}
		wake := q.notEmpty
		q.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, false
		}
		timer := time.NewTimer(remaining)
		select {
		case <-wake:
			timer.Stop()
		case <-timer.C:
			return nil, false
		}
	}
}

// Done marks one previously-Put item as fully processed; it must be called
// exactly once per successful Get.
func (q *priorityQueue) Done() {
	q.mu.Lock()
	q.unfinished--
	var ch chan struct{}
	if q.unfinished <= 0 {
		ch = q.allDone
		q.allDone = make(chan struct{})
	}
	q.mu.Unlock()
	if ch != nil {
		close(ch)
	}
}

// Join blocks until every Put item has had a matching Done call. Graceful
// shutdown only calls this once every worker has confirmed exit, since a
// stuck worker would otherwise leave the counter dangling forever.
func (q *priorityQueue) Join() {
	for {
		q.mu.Lock()
		if q.unfinished <= 0 {
			q.mu.Unlock()
			return
		}
		ch := q.allDone
		q.mu.Unlock()
		<-ch
	}
}

// Len reports the number of runnable tasks currently queued (for metrics).
func (q *priorityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// drainAll removes and returns every queued task. Callers are responsible
// for calling Done for items they will not otherwise process, to keep the
// Join() accounting correct.
func (q *priorityQueue) drainAll() []*task.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	drained := make([]*task.Task, 0, len(q.heap))
	for len(q.heap) > 0 {
		drained = append(drained, heap.Pop(&q.heap).(*task.Task))
	}
	return drained
}
