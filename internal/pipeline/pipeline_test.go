package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/jorgemgr94/imgdaemon/internal/notify"
	"github.com/jorgemgr94/imgdaemon/internal/plugin"
	"github.com/jorgemgr94/imgdaemon/internal/priority"
	"github.com/jorgemgr94/imgdaemon/internal/scheduler"
	"github.com/jorgemgr94/imgdaemon/internal/store"
)

// fakeStore is a minimal in-memory double for the Store interface, enough
// to exercise cache-hit and upsert paths without a real database.
type fakeStore struct {
	mu         sync.Mutex
	thumbnails map[string]store.ThumbnailPaths
	records    map[string]*store.Record
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		thumbnails: make(map[string]store.ThumbnailPaths),
		records:    make(map[string]*store.Record),
	}
}

func (f *fakeStore) Get(ctx context.Context, path string) (*store.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[path], nil
}
func (f *fakeStore) GetRating(ctx context.Context, path string) (int, error) { return 0, nil }
func (f *fakeStore) GetThumbnailPaths(ctx context.Context, path string) (store.ThumbnailPaths, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.thumbnails[path], nil
}
func (f *fakeStore) IsThumbnailValid(ctx context.Context, path string, mtime float64, fileSize int64) (bool, error) {
	return false, nil
}
func (f *fakeStore) SetThumbnailPaths(ctx context.Context, path, pathHash string, fileSize int64, mtime float64, thumbnailPath string, thumbnailBytes int64, viewImagePath string, viewImageBytes int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur := f.thumbnails[path]
	if thumbnailPath != "" {
		cur.ThumbnailPath = thumbnailPath
	}
	if viewImagePath != "" {
		cur.ViewImagePath = viewImagePath
	}
	f.thumbnails[path] = cur
	return nil
}
func (f *fakeStore) SetRating(ctx context.Context, path, pathHash string, fileSize int64, mtime float64, rating int) error {
	return nil
}
func (f *fakeStore) BatchSetRatings(ctx context.Context, stats []store.RecordStat, rating int) (int, error) {
	return len(stats), nil
}
func (f *fakeStore) RemoveRecords(ctx context.Context, paths []string) ([]store.ThumbnailPaths, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed []store.ThumbnailPaths
	for _, p := range paths {
		removed = append(removed, f.thumbnails[p])
		delete(f.thumbnails, p)
		delete(f.records, p)
	}
	return removed, nil
}
func (f *fakeStore) UpsertExtractedMetadata(ctx context.Context, path string, m store.ExtractedMetadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[path] = &store.Record{FilePath: path, ContentHash: &m.ContentHash, CameraMake: &m.CameraMake}
	return nil
}
func (f *fakeStore) SetContentHash(ctx context.Context, path, contentHash string) error { return nil }
func (f *fakeStore) AddTag(ctx context.Context, path, tag string) error                 { return nil }
func (f *fakeStore) RemoveTag(ctx context.Context, path, tag string) error              { return nil }
func (f *fakeStore) GetTags(ctx context.Context, path string) ([]string, error)         { return nil, nil }
func (f *fakeStore) Touch(ctx context.Context, path string) error                       { return nil }

type fakeCache struct{ full bool }

func (f *fakeCache) IsFull() bool                                     { return f.full }
func (f *fakeCache) RecordWrite(ctx context.Context, bytesAdded int64) {}

type fakeBus struct {
	mu  sync.Mutex
	got []notify.Notification
}

func (f *fakeBus) Publish(n notify.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, n)
}
func (f *fakeBus) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.got)
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *fakeStore, *fakeBus) {
	t.Helper()
	sched := scheduler.New(zap.NewNop(), 2, nil)
	sched.Start()
	t.Cleanup(func() { sched.Shutdown(time.Second) })

	reg := plugin.NewRegistry(zap.NewNop())
	dir := t.TempDir()
	reg.Register(plugin.NewStandardPlugin(zap.NewNop(), dir, dir))

	fs := newFakeStore()
	bus := &fakeBus{}
	o := New(zap.NewNop(), sched, fs, &fakeCache{}, reg, nil, nil, bus, Options{MinFileSize: 0, IgnorePatterns: []string{"._*"}})
	return o, fs, bus
}

func TestPassesPreChecksRejectsIgnorePattern(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "._hidden.jpg")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if o.passesPreChecks(path) {
		t.Fatal("expected ignore pattern to reject path")
	}
}

func TestPassesPreChecksRejectsMissingFile(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	if o.passesPreChecks(filepath.Join(t.TempDir(), "nope.jpg")) {
		t.Fatal("expected missing file to fail pre-checks")
	}
}

func TestPassesPreChecksRejectsUnsupportedFormat(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "song.mp3")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if o.passesPreChecks(path) {
		t.Fatal("expected unsupported format to fail pre-checks")
	}
}

func TestRequestThumbnailCacheHitNotifiesAndSkipsScheduling(t *testing.T) {
	o, fs, bus := newTestOrchestrator(t)
	fs.thumbnails["/photos/a.jpg"] = store.ThumbnailPaths{ThumbnailPath: "/cache/a.jpg"}

	ok := o.RequestThumbnail(context.Background(), "/photos/a.jpg", priority.GUIRequestLow, "")
	if !ok {
		t.Fatal("expected cache hit to report true")
	}
	if bus.count() != 1 {
		t.Fatalf("expected one notification, got %d", bus.count())
	}
}

func TestPathHashIsStableForSameInputs(t *testing.T) {
	a := pathHash("/x/y.jpg", 100, 123.0)
	b := pathHash("/x/y.jpg", 100, 123.0)
	if a != b {
		t.Fatal("expected pathHash to be deterministic")
	}
	c := pathHash("/x/y.jpg", 101, 123.0)
	if a == c {
		t.Fatal("expected pathHash to vary with file size")
	}
}

func TestNeedsFullMetadata(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	if !o.needsFullMetadata(nil) {
		t.Fatal("nil record should need full metadata")
	}
	make := "Canon"
	if o.needsFullMetadata(&store.Record{CameraMake: &make}) {
		t.Fatal("record with camera make set should not need full metadata")
	}
}

func TestCreateTasksForFileSkipsInvalidPath(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	specs := o.CreateTasksForFile(filepath.Join(t.TempDir(), "missing.jpg"), priority.BackgroundScan)
	if specs != nil {
		t.Fatalf("expected nil specs for a missing file, got %v", specs)
	}
}

func TestCreateGUITasksForFilePinsViewTaskToBackgroundScan(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "photo.jpg")
	if err := os.WriteFile(path, []byte("not a real jpeg but enough for the stat check"), 0o644); err != nil {
		t.Fatal(err)
	}

	specs := o.CreateGUITasksForFile(path, priority.GUIRequest)
	found := false
	for _, s := range specs {
		if s.ID == viewTaskID(path) {
			found = true
			if s.Priority != priority.BackgroundScan {
				t.Fatalf("expected view task pinned to BackgroundScan, got %v", s.Priority)
			}
		}
	}
	if !found {
		t.Fatal("expected a view image task to be produced")
	}
}

func TestExecuteCompoundTaskReportsUnknownOperation(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	results := o.ExecuteCompoundTask(context.Background(), []CompoundOperation{{Name: "bogus", Paths: nil}})
	if _, ok := results["bogus"]["error"]; !ok {
		t.Fatal("expected an error entry for an unknown operation")
	}
}

func TestOpRemoveRecordsReportsCount(t *testing.T) {
	o, fs, _ := newTestOrchestrator(t)
	fs.thumbnails["/a.jpg"] = store.ThumbnailPaths{ThumbnailPath: "/cache/a.jpg"}
	results := o.ExecuteCompoundTask(context.Background(), []CompoundOperation{{Name: "remove_records", Paths: []string{"/a.jpg"}}})
	if results["remove_records"]["count"] != 1 {
		t.Fatalf("expected count 1, got %v", results["remove_records"]["count"])
	}
}
