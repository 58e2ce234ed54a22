package wire

import (
	"context"
	"sync"
	"testing"

	"github.com/jorgemgr94/imgdaemon/internal/notify"
	"github.com/jorgemgr94/imgdaemon/internal/pipeline"
	"github.com/jorgemgr94/imgdaemon/internal/priority"
	"github.com/jorgemgr94/imgdaemon/internal/sourcejob"
	"github.com/jorgemgr94/imgdaemon/internal/store"
)

// fakeStore is a minimal in-memory double for the Store interface.
type fakeStore struct {
	mu             sync.Mutex
	records        map[string]*store.Record
	directoryFiles map[string][]string
	tags           map[string][]string
	allTags        []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records:        make(map[string]*store.Record),
		directoryFiles: make(map[string][]string),
		tags:           make(map[string][]string),
	}
}

func (f *fakeStore) Get(ctx context.Context, path string) (*store.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[path], nil
}
func (f *fakeStore) GetFilteredFilePaths(ctx context.Context, textFilter string, starStates []bool) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	for p := range f.records {
		out[p] = struct{}{}
	}
	return out, nil
}
func (f *fakeStore) GetFilesByTag(ctx context.Context, tag string) ([]string, error) {
	var out []string
	for p, tags := range f.tags {
		for _, tg := range tags {
			if tg == tag {
				out = append(out, p)
			}
		}
	}
	return out, nil
}
func (f *fakeStore) GetDirectoryFiles(ctx context.Context, dir string) ([]string, error) {
	return f.directoryFiles[dir], nil
}
func (f *fakeStore) GetDirectoryFilesRecursive(ctx context.Context, dir string) ([]string, error) {
	return f.directoryFiles[dir], nil
}
func (f *fakeStore) MoveRecords(ctx context.Context, moves []store.Move) (int, error) {
	return len(moves), nil
}
func (f *fakeStore) AddTag(ctx context.Context, path, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tags[path] = append(f.tags[path], tag)
	return nil
}
func (f *fakeStore) RemoveTag(ctx context.Context, path, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.tags[path][:0]
	for _, tg := range f.tags[path] {
		if tg != tag {
			kept = append(kept, tg)
		}
	}
	f.tags[path] = kept
	return nil
}
func (f *fakeStore) GetTags(ctx context.Context, path string) ([]string, error) {
	return f.tags[path], nil
}
func (f *fakeStore) ListAllTags(ctx context.Context) ([]string, error) { return f.allTags, nil }
func (f *fakeStore) ListTagsInDirectory(ctx context.Context, dir string) ([]string, error) {
	return nil, nil
}

// fakePipeline is a minimal double for the Pipeline interface.
type fakePipeline struct {
	mu                 sync.Mutex
	activeSession      string
	ratingsWritten      map[string]int
	tagsWritten        map[string][]string
	compoundCalls      []pipeline.CompoundOperation
	metadataRequested  []string
}

func newFakePipeline() *fakePipeline {
	return &fakePipeline{
		ratingsWritten: make(map[string]int),
		tagsWritten:    make(map[string][]string),
	}
}

func (f *fakePipeline) RequestThumbnail(ctx context.Context, path string, p priority.Priority, guiSessionID string) bool {
	return true
}
func (f *fakePipeline) BatchRequestThumbnails(ctx context.Context, paths []string, p priority.Priority, guiSessionID string) int {
	return len(paths)
}
func (f *fakePipeline) RequestViewImage(ctx context.Context, path, guiSessionID string) (string, bool) {
	return "", false
}
func (f *fakePipeline) DowngradeThumbnailTasks(paths []string, target priority.Priority) {}
func (f *fakePipeline) CheckThumbnailsStatus(ctx context.Context, paths []string) map[string]pipeline.ThumbnailStatus {
	out := make(map[string]pipeline.ThumbnailStatus, len(paths))
	for _, p := range paths {
		out[p] = pipeline.ThumbnailStatus{Ready: true, Path: p + ".thumb"}
	}
	return out
}
func (f *fakePipeline) RequestMetadataExtraction(paths []string, p priority.Priority) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metadataRequested = append(f.metadataRequested, paths...)
}
func (f *fakePipeline) QueueExifRatingWrite(ctx context.Context, path string, rating int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ratingsWritten[path] = rating
	return nil
}
func (f *fakePipeline) WriteTagsToFile(path string, tags []string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tagsWritten[path] = tags
	return true
}
func (f *fakePipeline) ExecuteCompoundTask(ctx context.Context, ops []pipeline.CompoundOperation) map[string]pipeline.OperationResult {
	f.mu.Lock()
	f.compoundCalls = append(f.compoundCalls, ops...)
	f.mu.Unlock()
	out := make(map[string]pipeline.OperationResult, len(ops))
	for _, op := range ops {
		out[op.Name] = pipeline.OperationResult{"succeeded": op.Paths}
	}
	return out
}
func (f *fakePipeline) SetActiveSession(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activeSession = sessionID
}
func (f *fakePipeline) CreateGUITasksForFile(path string, p priority.Priority) []sourcejob.TaskSpec {
	return nil
}

// fakeRunner is a minimal double for the Runner interface.
type fakeRunner struct {
	mu       sync.Mutex
	submitted []*sourcejob.Job
	demoted  map[string]int
}

func newFakeRunner() *fakeRunner { return &fakeRunner{demoted: make(map[string]int)} }

func (f *fakeRunner) Submit(job *sourcejob.Job) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, job)
}
func (f *fakeRunner) DemoteOnDisconnect(sessionID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.demoted[sessionID]
}

// fakeBus is a minimal double for the Bus interface.
type fakeBus struct {
	mu            sync.Mutex
	published     []notify.Notification
	activeSession string
}

func newFakeBus() *fakeBus { return &fakeBus{} }

func (f *fakeBus) Publish(n notify.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, n)
}
func (f *fakeBus) Subscribe() chan notify.Notification  { return make(chan notify.Notification) }
func (f *fakeBus) Unsubscribe(ch chan notify.Notification) {}
func (f *fakeBus) SetActiveSession(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activeSession = sessionID
}

func newTestServer(t *testing.T) (*Server, *fakeStore, *fakePipeline, *fakeRunner, *fakeBus) {
	t.Helper()
	st := newFakeStore()
	pipe := newFakePipeline()
	runner := newFakeRunner()
	bus := newFakeBus()

	cfg := Config{SupportedExtensions: []string{".jpg"}}
	srv, err := NewServer(nil, cfg, st, pipe, runner, bus, nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv, st, pipe, runner, bus
}

func TestHandleGetDirectoryFilesSubmitsJobAndReturnsCached(t *testing.T) {
	srv, st, _, runner, _ := newTestServer(t)
	st.directoryFiles["/photos"] = []string{"/photos/b.jpg", "/photos/a.jpg"}

	resp, err := handleGetDirectoryFiles(context.Background(), srv, "sess-1", []byte(`{"path":"/photos"}`))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	files, ok := resp["files"].([]string)
	if !ok || len(files) != 2 || files[0] != "/photos/a.jpg" {
		t.Fatalf("expected sorted cached files, got %v", resp["files"])
	}
	if len(runner.submitted) != 1 {
		t.Fatalf("expected one submitted job, got %d", len(runner.submitted))
	}
}

func TestHandleSetRatingWritesEveryPath(t *testing.T) {
	srv, _, pipe, _, _ := newTestServer(t)
	_, err := handleSetRating(context.Background(), srv, "sess-1",
		[]byte(`{"image_paths":["a.jpg","b.jpg"],"rating":4}`))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if pipe.ratingsWritten["a.jpg"] != 4 || pipe.ratingsWritten["b.jpg"] != 4 {
		t.Fatalf("expected both paths rated 4, got %v", pipe.ratingsWritten)
	}
}

func TestHandleGetMetadataBatchSplitsHitsAndMisses(t *testing.T) {
	srv, st, pipe, _, _ := newTestServer(t)
	st.records["known.jpg"] = &store.Record{FilePath: "known.jpg", Width: 100}

	resp, err := handleGetMetadataBatch(context.Background(), srv, "sess-1",
		[]byte(`{"image_paths":["known.jpg","unknown.jpg"]}`))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	records := resp["records"].(map[string]any)
	if _, ok := records["known.jpg"]; !ok {
		t.Fatalf("expected known.jpg in records, got %v", records)
	}
	if len(pipe.metadataRequested) != 1 || pipe.metadataRequested[0] != "unknown.jpg" {
		t.Fatalf("expected unknown.jpg queued for extraction, got %v", pipe.metadataRequested)
	}
}

func TestHandleSetTagsThenGetTags(t *testing.T) {
	srv, _, pipe, _, _ := newTestServer(t)
	_, err := handleSetTags(context.Background(), srv, "sess-1",
		[]byte(`{"image_paths":["a.jpg"],"tags":["favorite"]}`))
	if err != nil {
		t.Fatalf("set_tags: %v", err)
	}
	if got := pipe.tagsWritten["a.jpg"]; len(got) != 1 || got[0] != "favorite" {
		t.Fatalf("expected sidecar rewrite with [favorite], got %v", got)
	}

	resp, err := handleGetImageTags(context.Background(), srv, "sess-1", []byte(`{"image_paths":["a.jpg"]}`))
	if err != nil {
		t.Fatalf("get_image_tags: %v", err)
	}
	tagsByPath := resp["tags"].(map[string][]string)
	if len(tagsByPath["a.jpg"]) != 1 || tagsByPath["a.jpg"][0] != "favorite" {
		t.Fatalf("expected favorite tag on a.jpg, got %v", tagsByPath)
	}
}

func TestHandleDeleteFilesExecutesCompoundTaskAndNotifies(t *testing.T) {
	srv, _, pipe, _, bus := newTestServer(t)
	_, err := handleDeleteFiles(context.Background(), srv, "sess-1", []byte(`{"image_paths":["a.jpg"]}`))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if len(pipe.compoundCalls) != 2 {
		t.Fatalf("expected send2trash+remove_records, got %v", pipe.compoundCalls)
	}
	if len(bus.published) != 1 || bus.published[0].Type != notify.FilesRemoved {
		t.Fatalf("expected a files_removed notification, got %v", bus.published)
	}
}

func TestHandleMoveRecords(t *testing.T) {
	srv, _, _, _, _ := newTestServer(t)
	resp, err := handleMoveRecords(context.Background(), srv, "sess-1",
		[]byte(`{"moves":[{"old_path":"a.jpg","new_path":"b.jpg"}]}`))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if resp["moved_count"] != 1 {
		t.Fatalf("expected moved_count 1, got %v", resp["moved_count"])
	}
}

func TestServerSetActiveSessionCascades(t *testing.T) {
	srv, _, pipe, _, bus := newTestServer(t)
	srv.setActiveSession("sess-9")
	if pipe.activeSession != "sess-9" || bus.activeSession != "sess-9" {
		t.Fatalf("expected active session to cascade to pipeline and bus, got pipe=%q bus=%q", pipe.activeSession, bus.activeSession)
	}
}

func TestUnregisterNotifierClearsActiveSessionOnlyWhenLast(t *testing.T) {
	srv, _, _, _, _ := newTestServer(t)
	srv.setActiveSession("sess-1")
	srv.registerNotifier("sess-1")
	srv.registerNotifier("sess-1")

	srv.unregisterNotifier("sess-1")
	if srv.getActiveSession() != "sess-1" {
		t.Fatalf("expected active session to survive while a second notifier remains")
	}

	srv.unregisterNotifier("sess-1")
	if srv.getActiveSession() != "" {
		t.Fatalf("expected active session cleared once the last notifier disconnects")
	}
}
