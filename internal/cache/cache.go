// Package cache implements the cache size manager described in spec.md
// §4.4: it tracks the daemon's on-disk thumbnail/view-image footprint,
// gates low-priority background work once a ceiling is reached, and
// triggers LRU eviction through the store.
package cache

import (
	"context"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/jorgemgr94/imgdaemon/internal/store"
)

// headroomRatio is how far below the ceiling eviction targets, so a
// borderline cache doesn't immediately trip full again on the next write.
const headroomRatio = 0.90

// Store is the narrow persistence surface the manager needs.
type Store interface {
	GetTotalCacheBytes(ctx context.Context) (int64, error)
	EvictLRUCache(ctx context.Context, targetBytes int64) (freedBytes int64, cleared []store.ThumbnailPaths, err error)
}

// Metrics is the narrow hook surface the metrics package implements.
type Metrics interface {
	ObserveCacheUsage(bytesUsed int64, full bool)
}

// Manager tracks current cache usage against a configured ceiling. All
// mutating calls go through a mutex; eviction itself runs with the lock
// released so a slow store round-trip can't stall concurrent writers.
type Manager struct {
	log *zap.Logger
	db  Store
	m   Metrics

	maxBytes int64
	enabled  bool

	mu           sync.Mutex
	currentBytes int64
	evicting     bool
}

// New builds a Manager. maxCacheSizeMB of 0 or less disables the ceiling
// entirely (IsFull always reports false), matching the original's
// "no cache size limit configured" mode. m may be nil.
func New(log *zap.Logger, db Store, maxCacheSizeMB int, m Metrics) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	mgr := &Manager{
		log:      log,
		db:       db,
		m:        m,
		maxBytes: int64(maxCacheSizeMB) * 1024 * 1024,
		enabled:  maxCacheSizeMB > 0,
	}
	return mgr
}

func (m *Manager) observe() {
	if m.m == nil {
		return
	}
	m.mu.Lock()
	bytesUsed, full := m.currentBytes, m.enabled && m.currentBytes >= m.maxBytes
	m.mu.Unlock()
	m.m.ObserveCacheUsage(bytesUsed, full)
}

// Refresh resyncs the tracked byte count from the store; call it once at
// startup and after every eviction pass.
func (m *Manager) Refresh(ctx context.Context) error {
	if !m.enabled {
		return nil
	}
	total, err := m.db.GetTotalCacheBytes(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.currentBytes = total
	m.mu.Unlock()
	m.log.Info("cache size manager refreshed", zap.Int64("current_bytes", total), zap.Int64("max_bytes", m.maxBytes))
	m.observe()
	return nil
}

// IsFull reports whether the ceiling has been reached. Disabled managers
// (no ceiling configured) never report full.
func (m *Manager) IsFull() bool {
	if !m.enabled {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentBytes >= m.maxBytes
}

// CurrentBytes reports the last-known total cache footprint.
func (m *Manager) CurrentBytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentBytes
}

// RecordWrite accounts for newly written cache bytes and triggers eviction
// if the ceiling was crossed. GUI-driven thumbnail/view-image generation
// calls this reactively instead of checking IsFull first — request latency
// matters more than strict admission control on the hot path.
func (m *Manager) RecordWrite(ctx context.Context, bytesAdded int64) {
	if !m.enabled {
		return
	}
	m.mu.Lock()
	m.currentBytes += bytesAdded
	over := m.currentBytes >= m.maxBytes
	alreadyEvicting := m.evicting
	if over && !alreadyEvicting {
		m.evicting = true
	}
	m.mu.Unlock()
	m.observe()

	if over && !alreadyEvicting {
		m.evictAndRefresh(ctx)
	}
}

func (m *Manager) evictAndRefresh(ctx context.Context) {
	defer func() {
		m.mu.Lock()
		m.evicting = false
		m.mu.Unlock()
	}()

	target := int64(float64(m.maxBytes) * headroomRatio)
	freed, cleared, err := m.db.EvictLRUCache(ctx, target)
	if err != nil {
		m.log.Error("cache eviction failed", zap.Error(err))
		return
	}
	if freed > 0 {
		m.log.Info("evicted cache entries", zap.Int64("freed_bytes", freed), zap.Int("entries", len(cleared)))
		unlinkClearedFiles(m.log, cleared)
	}
	// Resync from the store regardless of partial failure, so currentBytes
	// doesn't drift permanently above the limit.
	if err := m.Refresh(ctx); err != nil {
		m.log.Error("cache size refresh after eviction failed", zap.Error(err))
	}
}

func unlinkClearedFiles(log *zap.Logger, cleared []store.ThumbnailPaths) {
	for _, c := range cleared {
		for _, path := range [...]string{c.ThumbnailPath, c.ViewImagePath} {
			if path == "" {
				continue
			}
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				log.Warn("failed to remove evicted cache file", zap.String("path", path), zap.Error(err))
			}
		}
	}
}
