package pipeline

import (
	"context"
	"os"

	"github.com/jorgemgr94/imgdaemon/internal/notify"
	"github.com/jorgemgr94/imgdaemon/internal/priority"
	"github.com/jorgemgr94/imgdaemon/internal/sourcejob"
)

// isThumbnailValidOnDisk re-stats path and asks the store whether its
// cached thumbnail is still current, the same two-step check every task
// body performs before doing real work.
func (o *Orchestrator) isThumbnailValidOnDisk(ctx context.Context, path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	valid, _ := o.db.IsThumbnailValid(ctx, path, float64(info.ModTime().Unix()), info.Size())
	return valid
}

func (o *Orchestrator) hasExistingViewImage(ctx context.Context, path string) bool {
	cached, err := o.db.GetThumbnailPaths(ctx, path)
	if err != nil || cached.ViewImagePath == "" {
		return false
	}
	_, statErr := os.Stat(cached.ViewImagePath)
	return statErr == nil
}

func (o *Orchestrator) thumbnailAndMetaSpecs(path string, p priority.Priority) []sourcejob.TaskSpec {
	return []sourcejob.TaskSpec{
		{ID: metaTaskID(path), Func: func() error { return o.processMetadataTask(path) }},
		{ID: path, Func: func() error { return o.generateThumbnailTask(path) }},
	}
}

func (o *Orchestrator) viewImageSpec(path string, p priority.Priority) sourcejob.TaskSpec {
	return sourcejob.TaskSpec{
		ID:       viewTaskID(path),
		Func:     func() error { return o.generateViewImageTask(path, "") },
		Priority: p,
	}
}

// CreateTasksForFile is the task factory for live-watcher and background
// scan callers: thumbnail + metadata only, both at p. Stage C (view
// image) is driven by a separate source job, not by this factory.
func (o *Orchestrator) CreateTasksForFile(path string, p priority.Priority) []sourcejob.TaskSpec {
	if !o.passesPreChecks(path) {
		return nil
	}
	ctx := context.Background()
	if o.isThumbnailValidOnDisk(ctx, path) {
		if p >= priority.GUIRequestLow {
			cached, _ := o.db.GetThumbnailPaths(ctx, path)
			o.publish(notify.Notification{
				Type: notify.PreviewsReady,
				Data: notify.PreviewsReadyData{
					ImageEntry:    notify.ImageEntry{Path: path},
					ThumbnailPath: cached.ThumbnailPath,
					ViewImagePath: cached.ViewImagePath,
				},
			})
		}
		return nil
	}
	return o.thumbnailAndMetaSpecs(path, p)
}

// CreateViewImageTaskForFile is the Stage C task factory: a single
// view-image task, or nothing if one already exists on disk.
func (o *Orchestrator) CreateViewImageTaskForFile(path string, p priority.Priority) []sourcejob.TaskSpec {
	if !o.passesPreChecks(path) {
		return nil
	}
	if o.hasExistingViewImage(context.Background(), path) {
		return nil
	}
	return []sourcejob.TaskSpec{o.viewImageSpec(path, p)}
}

// CreateAllTasksForFile is the daemon full-indexing factory: thumbnail,
// metadata, and view image in one pass, one pre-check and one DB lookup.
func (o *Orchestrator) CreateAllTasksForFile(path string, p priority.Priority) []sourcejob.TaskSpec {
	if !o.passesPreChecks(path) {
		return nil
	}
	ctx := context.Background()
	var specs []sourcejob.TaskSpec
	if !o.isThumbnailValidOnDisk(ctx, path) {
		specs = append(specs, o.thumbnailAndMetaSpecs(path, p)...)
	}
	if !o.hasExistingViewImage(ctx, path) {
		specs = append(specs, o.viewImageSpec(path, p))
	}
	return specs
}

// CreateGUITasksForFile is like CreateAllTasksForFile but always queues
// the view-image task at BACKGROUND_SCAN regardless of p, so Stage C
// never outruns thumbnail generation in the queue. Warm-cache files are
// left for the GUI's own RequestThumbnail call to notify, so the heatmap
// controls notification order.
func (o *Orchestrator) CreateGUITasksForFile(path string, p priority.Priority) []sourcejob.TaskSpec {
	if !o.passesPreChecks(path) {
		return nil
	}
	ctx := context.Background()
	var specs []sourcejob.TaskSpec
	if !o.isThumbnailValidOnDisk(ctx, path) {
		specs = append(specs, o.thumbnailAndMetaSpecs(path, p)...)
	}
	if !o.hasExistingViewImage(ctx, path) {
		specs = append(specs, o.viewImageSpec(path, priority.BackgroundScan))
	}
	return specs
}
