package scheduler

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/jorgemgr94/imgdaemon/internal/priority"
	"github.com/jorgemgr94/imgdaemon/internal/task"
)

func newTestScheduler(t *testing.T, workers int) *Scheduler {
	t.Helper()
	sched := New(zap.NewNop(), workers, nil)
	sched.Start()
	t.Cleanup(func() { sched.Shutdown(2 * time.Second) })
	return sched
}

func TestPoolRunsSubmittedTaskAndDeliversCallback(t *testing.T) {
	sched := newTestScheduler(t, 1)

	var ran bool
	var mu sync.Mutex
	done := make(chan error, 1)

	err := sched.Submit("work", priority.Normal, func() error {
		mu.Lock()
		ran = true
		mu.Unlock()
		return nil
	}, SubmitOptions{
		Callback: func(id string, err error) { done <- err },
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("callback err = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("callback never fired")
	}

	mu.Lock()
	defer mu.Unlock()
	if !ran {
		t.Fatal("task func never ran")
	}
}

func TestPoolRunsDependencyChainInOrder(t *testing.T) {
	sched := newTestScheduler(t, 1)

	var mu sync.Mutex
	var order []string
	allDone := make(chan struct{})

	record := func(name string) task.Func {
		return func() error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	_ = sched.Submit("parent", priority.Normal, record("parent"), SubmitOptions{})
	_ = sched.Submit("child", priority.Normal, record("child"), SubmitOptions{
		Dependencies: []string{"parent"},
		Callback:     func(id string, err error) { close(allDone) },
	})

	select {
	case <-allDone:
	case <-time.After(2 * time.Second):
		t.Fatal("dependency chain never completed")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "parent" || order[1] != "child" {
		t.Fatalf("execution order = %v, want [parent child]", order)
	}
}

func TestPoolSkipsTaskWhoseCancelEventFiredBeforeRunning(t *testing.T) {
	sched := newTestScheduler(t, 1)

	// Occupy the single worker so the cancelled task is still queued, not
	// running, when Cancel is called.
	blockRelease := make(chan struct{})
	blockStarted := make(chan struct{})
	_ = sched.Submit("blocker", priority.GUIRequest, func() error {
		close(blockStarted)
		<-blockRelease
		return nil
	}, SubmitOptions{})
	<-blockStarted

	var ran bool
	var mu sync.Mutex
	ce := task.NewCancelEvent()
	done := make(chan struct{})

	_ = sched.Submit("cancelled", priority.Normal, func() error {
		mu.Lock()
		ran = true
		mu.Unlock()
		return nil
	}, SubmitOptions{
		CancelEvent: ce,
	})
	// Queued behind the cancelled task at a lower priority, so by the time
	// it runs the single worker has already dequeued and dropped "cancelled".
	_ = sched.Submit("follower", priority.Low, noopFunc, SubmitOptions{
		Callback: func(id string, err error) { close(done) },
	})

	if !sched.Cancel("cancelled") {
		t.Fatal("Cancel() = false, want true")
	}
	close(blockRelease)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task queued behind the cancelled one never ran")
	}

	mu.Lock()
	defer mu.Unlock()
	if ran {
		t.Fatal("cancelled task's func ran, want it skipped")
	}
}

func TestShutdownDiscardsQueuedWorkAndJoinsWorkers(t *testing.T) {
	sched := New(zap.NewNop(), 1, nil)
	sched.Start()

	blockRelease := make(chan struct{})
	blockStarted := make(chan struct{})
	_ = sched.Submit("blocker", priority.GUIRequest, func() error {
		close(blockStarted)
		<-blockRelease
		return nil
	}, SubmitOptions{})
	<-blockStarted

	var queuedRan bool
	var mu sync.Mutex
	_ = sched.Submit("queued", priority.Low, func() error {
		mu.Lock()
		queuedRan = true
		mu.Unlock()
		return nil
	}, SubmitOptions{})

	shutdownDone := make(chan struct{})
	go func() {
		sched.Shutdown(2 * time.Second)
		close(shutdownDone)
	}()

	time.Sleep(50 * time.Millisecond)
	close(blockRelease)

	select {
	case <-shutdownDone:
	case <-time.After(3 * time.Second):
		t.Fatal("Shutdown never returned")
	}

	mu.Lock()
	defer mu.Unlock()
	if queuedRan {
		t.Fatal("queued-but-not-running task ran after shutdown discarded it")
	}

	if err := sched.Submit("late", priority.Normal, noopFunc, SubmitOptions{}); err != ErrShuttingDown {
		t.Fatalf("Submit after Shutdown: err = %v, want ErrShuttingDown", err)
	}
}
