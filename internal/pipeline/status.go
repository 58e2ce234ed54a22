package pipeline

import (
	"context"
	"os"

	"go.uber.org/zap"

	"github.com/jorgemgr94/imgdaemon/internal/priority"
)

// ThumbnailStatus is one entry of CheckThumbnailsStatus's result.
type ThumbnailStatus struct {
	Ready bool
	Path  string
	Error string
}

// CheckThumbnailsStatus reports, for each path, whether a valid thumbnail
// is already on disk — a read-only status check with no side effects,
// used by the wire protocol to answer "is this ready yet" polls without
// queuing work.
func (o *Orchestrator) CheckThumbnailsStatus(ctx context.Context, paths []string) map[string]ThumbnailStatus {
	statuses := make(map[string]ThumbnailStatus, len(paths))
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			statuses[path] = ThumbnailStatus{Error: "file not found"}
			continue
		}
		mtime := float64(info.ModTime().Unix())
		valid, _ := o.db.IsThumbnailValid(ctx, path, mtime, info.Size())
		if !valid {
			statuses[path] = ThumbnailStatus{Ready: false}
			continue
		}
		cached, _ := o.db.GetThumbnailPaths(ctx, path)
		if cached.ThumbnailPath == "" {
			statuses[path] = ThumbnailStatus{Ready: false}
			continue
		}
		if _, err := os.Stat(cached.ThumbnailPath); err != nil {
			statuses[path] = ThumbnailStatus{Ready: false}
			continue
		}
		statuses[path] = ThumbnailStatus{Ready: true, Path: cached.ThumbnailPath}
	}
	return statuses
}

// RequestMetadataExtraction submits or upgrades a metadata task for every
// path that currently exists on disk, skipping the ones that don't
// without erroring the whole batch.
func (o *Orchestrator) RequestMetadataExtraction(paths []string, p priority.Priority) {
	o.log.Info("queueing metadata extraction", zap.Int("count", len(paths)), zap.String("priority", p.String()))
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		path := path
		if err := o.sched.SubmitSimple(metaTaskID(path), p, func() error {
			return o.processMetadataTask(path)
		}); err != nil {
			o.log.Warn("failed to submit metadata extraction task", zap.String("path", path), zap.Error(err))
		}
	}
}

// GetCachedPaths returns the thumbnail/full-resolution cache paths for
// path, or false if neither is on disk yet. The full-resolution path
// falls back to the source image itself when no view image has been
// generated, matching the original's get_cached_paths contract.
func (o *Orchestrator) GetCachedPaths(ctx context.Context, path string) (thumbnailPath, fullResPath string, ok bool) {
	cached, err := o.db.GetThumbnailPaths(ctx, path)
	if err != nil || (cached.ThumbnailPath == "" && cached.ViewImagePath == "") {
		return "", "", false
	}
	full := cached.ViewImagePath
	if full == "" {
		full = path
	}
	return cached.ThumbnailPath, full, true
}
