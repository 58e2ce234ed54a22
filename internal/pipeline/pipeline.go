// Package pipeline implements the processing pipeline described in
// spec.md §4.2: it turns a file path into thumbnail/view-image/metadata
// tasks submitted to the scheduler, wiring together the plugin registry,
// the metadata store, the cache size manager, the volume checker and the
// notification bus. It corresponds to the original's ThumbnailManager.
package pipeline

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/jorgemgr94/imgdaemon/internal/notify"
	"github.com/jorgemgr94/imgdaemon/internal/plugin"
	"github.com/jorgemgr94/imgdaemon/internal/priority"
	"github.com/jorgemgr94/imgdaemon/internal/scheduler"
	"github.com/jorgemgr94/imgdaemon/internal/store"
	"github.com/jorgemgr94/imgdaemon/internal/task"
	"github.com/jorgemgr94/imgdaemon/internal/volume"
	"github.com/jorgemgr94/imgdaemon/internal/watchignore"
)

// Store is the narrow persistence surface the orchestrator needs.
type Store interface {
	Get(ctx context.Context, path string) (*store.Record, error)
	GetRating(ctx context.Context, path string) (int, error)
	GetThumbnailPaths(ctx context.Context, path string) (store.ThumbnailPaths, error)
	IsThumbnailValid(ctx context.Context, path string, mtime float64, fileSize int64) (bool, error)
	SetThumbnailPaths(ctx context.Context, path, pathHash string, fileSize int64, mtime float64, thumbnailPath string, thumbnailBytes int64, viewImagePath string, viewImageBytes int64) error
	SetRating(ctx context.Context, path, pathHash string, fileSize int64, mtime float64, rating int) error
	BatchSetRatings(ctx context.Context, stats []store.RecordStat, rating int) (int, error)
	RemoveRecords(ctx context.Context, paths []string) ([]store.ThumbnailPaths, error)
	UpsertExtractedMetadata(ctx context.Context, path string, m store.ExtractedMetadata) error
	SetContentHash(ctx context.Context, path, contentHash string) error
	AddTag(ctx context.Context, path, tag string) error
	RemoveTag(ctx context.Context, path, tag string) error
	GetTags(ctx context.Context, path string) ([]string, error)
	Touch(ctx context.Context, path string) error
}

// Cache is the narrow cache-size-manager surface used to gate/account for
// writes; satisfied by *cache.Manager.
type Cache interface {
	IsFull() bool
	RecordWrite(ctx context.Context, bytesAdded int64)
}

// Bus is the narrow notification surface; satisfied by *notify.Bus.
type Bus interface {
	Publish(notify.Notification)
}

// Options configures pre-check behavior.
type Options struct {
	// MinFileSize is the smallest file, in bytes, eligible for processing;
	// sub-threshold files are usually truncated transfers or sidecar
	// artifacts. Zero disables the check.
	MinFileSize int64
	// IgnorePatterns are shell globs (matched against the file's base
	// name) that are never processed, e.g. "._*", ".DS_Store".
	IgnorePatterns []string
}

// Orchestrator turns file paths into scheduled thumbnail/view-image/
// metadata work and serves cache-hit requests directly. One instance is
// shared by the whole daemon.
type Orchestrator struct {
	log      *zap.Logger
	sched    *scheduler.Scheduler
	db       Store
	cache    Cache
	registry *plugin.Registry
	volumes  *volume.Checker
	watch    *watchignore.Suppressor
	bus      Bus

	opts Options

	mu            sync.Mutex
	activeSession string
	speculative   map[string]*task.CancelEvent
}

// New builds an Orchestrator. cache, bus, and watch may be nil in tests
// that don't exercise cache gating, notifications, or sidecar-write
// suppression respectively.
func New(log *zap.Logger, sched *scheduler.Scheduler, db Store, cache Cache, registry *plugin.Registry, volumes *volume.Checker, watch *watchignore.Suppressor, bus Bus, opts Options) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	if volumes == nil {
		volumes = volume.NewChecker()
	}
	o := &Orchestrator{
		log:         log,
		sched:       sched,
		db:          db,
		cache:       cache,
		registry:    registry,
		volumes:     volumes,
		watch:       watch,
		bus:         bus,
		opts:        opts,
		speculative: make(map[string]*task.CancelEvent),
	}
	if sched != nil {
		sched.OnShutdown(o.cancelAllSpeculative)
	}
	return o
}

// cancelAllSpeculative sets every outstanding speculative-fullres cancel
// event, run once at the start of graceful shutdown so no pre-cache decode
// outlives the daemon process that started it.
func (o *Orchestrator) cancelAllSpeculative() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, ce := range o.speculative {
		ce.Set()
	}
}

// SetActiveSession records which GUI session is currently "front and
// center". Running view-image tasks stamped with an older session id
// abort before the expensive decode once a newer session takes over.
func (o *Orchestrator) SetActiveSession(sessionID string) {
	o.mu.Lock()
	o.activeSession = sessionID
	o.mu.Unlock()
}

func (o *Orchestrator) activeSessionID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.activeSession
}

// closer is implemented by plugins that hold a process pool (anything
// embedding a sidecarWriter). Plugins with nothing to release simply
// don't satisfy it.
type closer interface {
	Shutdown()
}

// Shutdown terminates everything the orchestrator owns that outlives a
// single task: every registered plugin's exiftool subprocess pool, and
// the shared pool behind full-metadata extraction. The scheduler itself
// is shut down by its own owner, not here.
func (o *Orchestrator) Shutdown() {
	for _, ext := range o.registry.SupportedFormats() {
		p, ok := o.registry.ForFormat(ext)
		if !ok {
			continue
		}
		if c, ok := p.(closer); ok {
			c.Shutdown()
		}
	}
	plugin.ShutdownSharedPool()
}

// Task id conventions, matching the original's task_id string scheme so
// graph snapshots/logs read the same way.
func metaTaskID(path string) string       { return "meta::" + path }
func metaFullTaskID(path string) string   { return "meta_full::" + path }
func viewTaskID(path string) string       { return "view::" + path }
func jitCleanupTaskID(path string) string { return "jit-cleanup::" + path }
func ratingTaskID(path string) string     { return "exif_rating::" + path }

// passesPreChecks mirrors _passes_pre_checks: a file must exist, not match
// an ignore pattern, clear the minimum size, and have a registered plugin
// before any task is created for it.
func (o *Orchestrator) passesPreChecks(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		o.log.Debug("path is not a regular file, skipping", zap.String("path", path))
		return false
	}

	base := filepath.Base(path)
	for _, pat := range o.opts.IgnorePatterns {
		if ok, _ := filepath.Match(pat, base); ok {
			o.log.Debug("path matches ignore pattern, skipping", zap.String("path", path), zap.String("pattern", pat))
			return false
		}
	}

	if o.opts.MinFileSize > 0 && info.Size() < o.opts.MinFileSize {
		o.log.Debug("file below minimum size, skipping", zap.String("path", path), zap.Int64("size", info.Size()))
		return false
	}

	if _, ok := o.registry.ForPath(path); !ok {
		return false
	}
	return true
}

// submitJITCleanup queues a high-priority DB cleanup when a file is found
// missing mid-pipeline, matching every *_task method's "Queuing JIT
// database cleanup" branch.
func (o *Orchestrator) submitJITCleanup(path string) {
	err := o.sched.SubmitSimple(jitCleanupTaskID(path), priority.High, func() error {
		_, err := o.db.RemoveRecords(context.Background(), []string{path})
		return err
	})
	if err != nil {
		o.log.Warn("failed to submit JIT cleanup task", zap.String("path", path), zap.Error(err))
	}
}

const (
	headerHashBytes = 256 * 1024
	prefetchBytes   = 512 * 1024
)

// readFileHeader reads up to size bytes of path in one pass and returns an
// MD5 hex digest of the first headerHashBytes of that read, plus the full
// read buffer for plugins that want to reuse it (prefetch). Hashing only
// the leading 256KB keeps content hashes stable across runs that request
// different prefetch sizes, and compatible with thumbnails already cached
// under the 256KB-based hash from earlier versions.
func readFileHeader(path string, size int) (hash string, buf []byte, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", nil, err
	}
	if info.IsDir() {
		return "", nil, errors.New("cannot hash a directory: " + path)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", nil, err
	}
	defer f.Close()

	buf = make([]byte, size)
	n, readErr := io.ReadFull(f, buf)
	if readErr != nil && !errors.Is(readErr, io.ErrUnexpectedEOF) && !errors.Is(readErr, io.EOF) {
		return "", nil, readErr
	}
	buf = buf[:n]

	hashChunk := buf
	if len(hashChunk) > headerHashBytes {
		hashChunk = hashChunk[:headerHashBytes]
	}
	sum := md5.Sum(hashChunk)
	return hex.EncodeToString(sum[:]), buf, nil
}

// hashFile computes the content hash without retaining a prefetch buffer,
// for callers (view-image generation, rating writes) that only need the
// identity, not the bytes.
func hashFile(path string) (string, error) {
	hash, _, err := readFileHeader(path, headerHashBytes)
	return hash, err
}

// pathHash computes the store's "fast hash based on path, size and mtime"
// row identifier, distinct from the content hash plugins use to name
// cache files. Grounded on the original's _get_metadata_hash.
func pathHash(path string, size int64, mtimeUnix float64) string {
	info := fmt.Sprintf("%s-%d-%d", path, size, int64(mtimeUnix*1e9))
	sum := md5.Sum([]byte(info))
	return hex.EncodeToString(sum[:])
}

// isFullyQualifiedSession reports whether sessionID is non-blank, so the
// view-image task body only applies its active-session check to tasks that
// were stamped with a session.
func isFullyQualifiedSession(sessionID string) bool {
	return strings.TrimSpace(sessionID) != ""
}
