package cache

import (
	"context"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/jorgemgr94/imgdaemon/internal/store"
)

type fakeStore struct {
	mu       sync.Mutex
	total    int64
	evictTo  int64
	evictErr error
	freed    int64
	cleared  []store.ThumbnailPaths
	evictCalls int
}

func (f *fakeStore) GetTotalCacheBytes(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total, nil
}

func (f *fakeStore) EvictLRUCache(ctx context.Context, target int64) (int64, []store.ThumbnailPaths, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evictCalls++
	if f.evictErr != nil {
		return 0, nil, f.evictErr
	}
	f.total = target
	return f.freed, f.cleared, nil
}

func TestManagerDisabledNeverFull(t *testing.T) {
	fs := &fakeStore{total: 1 << 40}
	m := New(zap.NewNop(), fs, 0, nil)
	if m.IsFull() {
		t.Error("a manager with no configured ceiling must never report full")
	}
	m.RecordWrite(context.Background(), 1<<30)
	if m.IsFull() {
		t.Error("disabled manager should ignore writes entirely")
	}
}

func TestManagerRefreshTracksStore(t *testing.T) {
	fs := &fakeStore{total: 50 * 1024 * 1024}
	m := New(zap.NewNop(), fs, 100, nil) // 100MB ceiling
	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if m.CurrentBytes() != 50*1024*1024 {
		t.Errorf("expected 50MB tracked, got %d", m.CurrentBytes())
	}
	if m.IsFull() {
		t.Error("50MB of 100MB ceiling should not be full")
	}
}

func TestManagerRecordWriteTriggersEviction(t *testing.T) {
	fs := &fakeStore{total: 90 * 1024 * 1024, freed: 20 * 1024 * 1024}
	m := New(zap.NewNop(), fs, 100, nil)
	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	m.RecordWrite(context.Background(), 15*1024*1024) // crosses 100MB ceiling

	fs.mu.Lock()
	calls := fs.evictCalls
	fs.mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected exactly one eviction pass, got %d", calls)
	}
}

func TestManagerRecordWriteBelowCeilingSkipsEviction(t *testing.T) {
	fs := &fakeStore{total: 10 * 1024 * 1024}
	m := New(zap.NewNop(), fs, 100, nil)
	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	m.RecordWrite(context.Background(), 5*1024*1024)

	fs.mu.Lock()
	calls := fs.evictCalls
	fs.mu.Unlock()
	if calls != 0 {
		t.Errorf("expected no eviction below the ceiling, got %d calls", calls)
	}
}
