package pipeline

import (
	"context"
	"os"

	"go.uber.org/zap"

	"github.com/jorgemgr94/imgdaemon/internal/notify"
	"github.com/jorgemgr94/imgdaemon/internal/priority"
	"github.com/jorgemgr94/imgdaemon/internal/scheduler"
	"github.com/jorgemgr94/imgdaemon/internal/task"
)

// RequestThumbnail is the GUI-facing entry point for "I need a thumbnail
// for this path, as soon as possible". A disk cache hit notifies
// immediately with no task created; otherwise an existing pending task is
// upgraded to p, or a new one is submitted directly (bypassing
// create_tasks_for_file's blocking pre-checks, which the worker re-runs
// anyway once it actually executes).
func (o *Orchestrator) RequestThumbnail(ctx context.Context, path string, p priority.Priority, guiSessionID string) bool {
	cached, _ := o.db.GetThumbnailPaths(ctx, path)
	if cached.ThumbnailPath != "" {
		o.publish(notify.Notification{
			Type: notify.PreviewsReady,
			Data: notify.PreviewsReadyData{
				ImageEntry:    notify.ImageEntry{Path: path},
				ThumbnailPath: cached.ThumbnailPath,
				ViewImagePath: cached.ViewImagePath,
			},
		})
		return true
	}

	snap := o.sched.Snapshot(path)
	if snap.Exists {
		if guiSessionID != "" && !snap.State.Terminal() {
			o.sched.StampSessionID(path, guiSessionID)
		}
		o.sched.Upgrade([]string{path, metaTaskID(path)}, p)
		return true
	}

	o.submitThumbnailAndMeta(path, p, guiSessionID)
	return true
}

// BatchRequestThumbnails is RequestThumbnail for many paths at once. Cached
// thumbnail paths and graph state are looked up one path at a time (one
// store query per path, not one for the whole batch); everything already in
// the graph is then raised with a single Upgrade call.
func (o *Orchestrator) BatchRequestThumbnails(ctx context.Context, paths []string, p priority.Priority, guiSessionID string) int {
	if len(paths) == 0 {
		return 0
	}

	var uncached []string
	for _, path := range paths {
		cached, _ := o.db.GetThumbnailPaths(ctx, path)
		if cached.ThumbnailPath != "" {
			o.publish(notify.Notification{
				Type: notify.PreviewsReady,
				Data: notify.PreviewsReadyData{
					ImageEntry:    notify.ImageEntry{Path: path},
					ThumbnailPath: cached.ThumbnailPath,
					ViewImagePath: cached.ViewImagePath,
				},
			})
			continue
		}
		uncached = append(uncached, path)
	}

	var toUpgrade []string
	var toSubmit []string
	for _, path := range uncached {
		snap := o.sched.Snapshot(path)
		if snap.Exists {
			toUpgrade = append(toUpgrade, path, metaTaskID(path))
			if guiSessionID != "" && !snap.State.Terminal() {
				o.sched.StampSessionID(path, guiSessionID)
			}
		} else {
			toSubmit = append(toSubmit, path)
		}
	}

	if len(toUpgrade) > 0 {
		o.sched.Upgrade(toUpgrade, p)
	}
	for _, path := range toSubmit {
		o.submitThumbnailAndMeta(path, p, guiSessionID)
	}

	return len(paths)
}

func (o *Orchestrator) submitThumbnailAndMeta(path string, p priority.Priority, guiSessionID string) {
	if err := o.sched.Submit(path, p, func() error {
		return o.generateThumbnailTask(path)
	}, scheduler.SubmitOptions{SessionID: guiSessionID}); err != nil {
		o.log.Warn("failed to submit thumbnail task", zap.String("path", path), zap.Error(err))
	}
	if err := o.sched.SubmitSimple(metaTaskID(path), p, func() error {
		return o.processMetadataTask(path)
	}); err != nil {
		o.log.Warn("failed to submit metadata task", zap.String("path", path), zap.Error(err))
	}
}

// RequestViewImage requests the full-resolution view image at
// FULLRES_REQUEST priority, the highest non-shutdown level. A disk hit
// returns the path with no task created; otherwise an existing task is
// upgraded or a new one submitted, and its SessionID is stamped so it can
// abort if a newer GUI session takes over before the decode runs.
func (o *Orchestrator) RequestViewImage(ctx context.Context, path, guiSessionID string) (string, bool) {
	cached, _ := o.db.GetThumbnailPaths(ctx, path)
	if cached.ViewImagePath != "" {
		_ = o.db.Touch(ctx, path)
		return cached.ViewImagePath, true
	}

	id := viewTaskID(path)
	snap := o.sched.Snapshot(id)
	if snap.Exists {
		if guiSessionID != "" && !snap.State.Terminal() {
			o.sched.StampSessionID(id, guiSessionID)
		}
		o.sched.Upgrade([]string{id}, priority.FullresRequest)
		return "", false
	}

	err := o.sched.Submit(id, priority.FullresRequest, func() error {
		return o.generateViewImageTask(path, guiSessionID)
	}, scheduler.SubmitOptions{SessionID: guiSessionID})
	if err != nil {
		o.log.Warn("failed to submit view image task", zap.String("path", path), zap.Error(err))
	}
	return "", false
}

// DowngradeThumbnailTasks lowers the priority of in-flight thumbnail/meta
// tasks for paths that scrolled out of the GUI's viewport, freeing workers
// for what's currently visible without cancelling the work outright.
func (o *Orchestrator) DowngradeThumbnailTasks(paths []string, target priority.Priority) {
	ids := make([]string, 0, len(paths)*2)
	for _, path := range paths {
		ids = append(ids, path, metaTaskID(path))
	}
	o.sched.Downgrade(ids, target)
}

// RequestSpeculativeFullres pre-caches a view image for heatmap-predicted
// scroll targets, at a priority between background and GUI work. The
// cancel event is created once per path and reused across repeated
// requests (e.g. the heatmap re-predicting the same path), so cancelling
// once reliably stops every submission sharing it.
func (o *Orchestrator) RequestSpeculativeFullres(path string) {
	id := viewTaskID(path)

	o.mu.Lock()
	ce, ok := o.speculative[id]
	if !ok {
		ce = task.NewCancelEvent()
		o.speculative[id] = ce
	}
	o.mu.Unlock()

	snap := o.sched.Snapshot(id)
	if snap.Exists {
		o.sched.Upgrade([]string{id}, priority.Low)
		return
	}

	err := o.sched.Submit(id, priority.Low, func() error {
		return o.generateViewImageTask(path, "")
	}, scheduler.SubmitOptions{CancelEvent: ce})
	if err != nil {
		o.log.Debug("failed to submit speculative fullres task", zap.String("path", path), zap.Error(err))
	}
}

// CancelSpeculativeFullres cancels one speculative pre-cache.
func (o *Orchestrator) CancelSpeculativeFullres(path string) {
	id := viewTaskID(path)
	o.mu.Lock()
	ce, ok := o.speculative[id]
	o.mu.Unlock()
	if ok {
		ce.Set()
	}
	o.sched.Cancel(id)
}

// CancelSpeculativeFullresBatch cancels many speculative pre-caches at once.
func (o *Orchestrator) CancelSpeculativeFullresBatch(paths []string) {
	for _, path := range paths {
		o.CancelSpeculativeFullres(path)
	}
}

// GetThumbnail is the synchronous get-or-generate path, for callers (a
// one-off CLI export, a test) that need a result inline rather than via
// the scheduler/notification flow. Intended to be used sparingly: it runs
// the plugin call on the caller's own goroutine.
func (o *Orchestrator) GetThumbnail(ctx context.Context, path string) (string, error) {
	cached, err := o.db.GetThumbnailPaths(ctx, path)
	if err == nil && cached.ThumbnailPath != "" {
		return cached.ThumbnailPath, nil
	}

	p, ok := o.registry.ForPath(path)
	if !ok {
		return "", &unsupportedFormatError{path: path}
	}

	hash, err := hashFile(path)
	if err != nil {
		return "", err
	}

	thumbnailPath, err := p.ProcessThumbnail(ctx, path, hash, nil)
	if err != nil {
		return "", err
	}

	info, err := statOrZero(path)
	if err == nil {
		_ = o.db.SetThumbnailPaths(ctx, path, pathHash(path, info.size, info.mtime), info.size, info.mtime, thumbnailPath, fileSizeOf(thumbnailPath), "", 0)
	}
	return thumbnailPath, nil
}

type statResult struct {
	size  int64
	mtime float64
}

func statOrZero(path string) (statResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return statResult{}, err
	}
	return statResult{size: info.Size(), mtime: float64(info.ModTime().Unix())}, nil
}
