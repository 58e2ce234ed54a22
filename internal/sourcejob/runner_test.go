package sourcejob

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/jorgemgr94/imgdaemon/internal/priority"
	"github.com/jorgemgr94/imgdaemon/internal/scheduler"
)

func newTestRunner(t *testing.T) (*Runner, *scheduler.Scheduler) {
	t.Helper()
	sched := scheduler.New(zap.NewNop(), 2, nil)
	sched.Start()
	t.Cleanup(func() { sched.Shutdown(time.Second) })
	return NewRunner(zap.NewNop(), sched, nil, nil, nil), sched
}

// sliceGenerator yields one element of items per call, then reports exhaustion.
func sliceGenerator(items []string) Generator {
	i := 0
	return func() (Batch, bool) {
		if i >= len(items) {
			return nil, false
		}
		b := Batch{items[i]}
		i++
		return b, true
	}
}

func TestRunnerDrivesSliceChainToCompletion(t *testing.T) {
	runner, _ := newTestRunner(t)

	var mu sync.Mutex
	var seen []string
	done := make(chan struct{})

	job := NewJob("daemon_idx::scan::/photos", priority.BackgroundScan, 0,
		sliceGenerator([]string{"a.jpg", "b.jpg", "c.jpg"}),
		nil, false,
		func() { close(done) })

	factory := func(item string, p priority.Priority) []TaskSpec {
		mu.Lock()
		seen = append(seen, item)
		mu.Unlock()
		return nil
	}
	job.TaskFactory = factory
	job.CreateTasks = true

	runner.Submit(job)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not complete in time")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 3 {
		t.Fatalf("expected 3 items observed, got %d: %v", len(seen), seen)
	}
}

func TestRunnerCancelStopsChain(t *testing.T) {
	runner, _ := newTestRunner(t)

	calls := 0
	var mu sync.Mutex
	gen := func() (Batch, bool) {
		mu.Lock()
		calls++
		mu.Unlock()
		return Batch{"x.jpg"}, true // never exhausts on its own
	}

	job := NewJob("daemon_idx::scan::/endless", priority.BackgroundScan, 0, gen, nil, false, nil)
	runner.Submit(job)

	time.Sleep(50 * time.Millisecond)
	if !runner.Cancel(job.ID) {
		t.Fatal("expected Cancel to find the active job")
	}

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	callsAtCancel := calls
	mu.Unlock()

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if calls > callsAtCancel+1 {
		t.Fatalf("slice chain kept running after cancel: %d calls after, started at %d", calls, callsAtCancel)
	}
}

func TestRunnerRejectsDuplicateSubmit(t *testing.T) {
	runner, _ := newTestRunner(t)

	// job1's generator blocks until release, so job1 stays registered while
	// job2 is submitted under the same id.
	release := make(chan struct{})
	gen1 := func() (Batch, bool) { <-release; return nil, false }
	gen2 := func() (Batch, bool) { return nil, false }
	job1 := NewJob("daemon_idx::scan::/dup", priority.BackgroundScan, 0, gen1, nil, false, nil)
	job2 := NewJob("daemon_idx::scan::/dup", priority.BackgroundScan, 0, gen2, nil, false, nil)

	runner.Submit(job1)
	runner.Submit(job2) // should be ignored while job1's id is still registered

	got, ok := runner.reg.get("daemon_idx::scan::/dup")
	close(release)
	if !ok || got != job1 {
		t.Fatalf("expected job1 to stay registered after a duplicate submit, got %p (ok=%v)", got, ok)
	}
}

func TestSliceTaskIDNaming(t *testing.T) {
	id := sliceTaskID("daemon_idx::scan::/photos", 3)
	want := "job_slice::daemon_idx::scan::/photos::3"
	if id != want {
		t.Fatalf("got %q, want %q", id, want)
	}
}

func TestSessionIDExtraction(t *testing.T) {
	cases := map[string]string{
		"gui_scan::sess-1::/photos": "sess-1",
		"daemon_idx::/photos":       "",
		"post_scan::/photos":        "",
		"no-delimiter":              "",
	}
	for id, want := range cases {
		if got := sessionID(id); got != want {
			t.Errorf("sessionID(%q) = %q, want %q", id, got, want)
		}
	}
}
