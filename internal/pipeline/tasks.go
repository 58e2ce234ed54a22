package pipeline

import (
	"context"
	"os"

	"go.uber.org/zap"

	"github.com/jorgemgr94/imgdaemon/internal/notify"
	"github.com/jorgemgr94/imgdaemon/internal/priority"
	"github.com/jorgemgr94/imgdaemon/internal/store"
)

// generateThumbnailTask is Stage A/B: produce a thumbnail JPEG and
// publish previews_ready as soon as it's on disk, without waiting on the
// much slower view-image pass (Stage C, a separate lower-priority task).
func (o *Orchestrator) generateThumbnailTask(path string) error {
	ctx := context.Background()

	info, err := os.Stat(path)
	if err != nil {
		o.log.Warn("file not found for thumbnail generation, queuing JIT cleanup", zap.String("path", path))
		o.submitJITCleanup(path)
		return err
	}

	if !o.volumes.IsAccessible(path) {
		o.log.Debug("volume not accessible, deferring thumbnail task", zap.String("path", path))
		return nil
	}

	mtime := float64(info.ModTime().Unix())
	if valid, _ := o.db.IsThumbnailValid(ctx, path, mtime, info.Size()); valid {
		// Another task already produced a valid thumbnail between this
		// task being scheduled and now; nothing left to do.
		return nil
	}

	p, ok := o.registry.ForPath(path)
	if !ok {
		return &unsupportedFormatError{path: path}
	}

	hash, prefetch, err := readFileHeader(path, prefetchBytes)
	if err != nil {
		o.log.Error("failed to read file header for thumbnail", zap.String("path", path), zap.Error(err))
		return err
	}

	thumbnailPath, err := p.ProcessThumbnail(ctx, path, hash, prefetch)
	if err != nil {
		o.log.Error("thumbnail generation failed", zap.String("path", path), zap.Error(err))
		return err
	}

	if err := o.db.SetThumbnailPaths(ctx, path, pathHash(path, info.Size(), mtime), info.Size(), mtime, thumbnailPath, fileSizeOf(thumbnailPath), "", 0); err != nil {
		o.log.Error("failed to record thumbnail path", zap.String("path", path), zap.Error(err))
		return err
	}
	if o.cache != nil {
		o.cache.RecordWrite(ctx, fileSizeOf(thumbnailPath))
	}

	existing, _ := o.db.GetThumbnailPaths(ctx, path)
	o.publish(notify.Notification{
		Type: notify.PreviewsReady,
		Data: notify.PreviewsReadyData{
			ImageEntry:    notify.ImageEntry{Path: path},
			ThumbnailPath: thumbnailPath,
			ViewImagePath: existing.ViewImagePath,
		},
	})

	if err := o.sched.SubmitSimple(metaTaskID(path), priority.Low, func() error {
		return o.processMetadataTask(path)
	}); err != nil {
		o.log.Warn("failed to submit metadata task", zap.String("path", path), zap.Error(err))
	}
	return nil
}

// generateViewImageTask is Stage C: the slow full-resolution decode
// (7-17s for a CR3 over NAS). expectedSessionID is the GUI session that
// requested it, if any; the task aborts before the expensive call if a
// newer session has since taken over, matching the original's
// socket_server.active_gui_session_id guard.
func (o *Orchestrator) generateViewImageTask(path, expectedSessionID string) error {
	ctx := context.Background()

	info, err := os.Stat(path)
	if err != nil {
		o.log.Warn("file not found for view image generation, queuing JIT cleanup", zap.String("path", path))
		o.submitJITCleanup(path)
		return err
	}

	if !o.volumes.IsAccessible(path) {
		o.log.Debug("volume not accessible, deferring view image task", zap.String("path", path))
		return nil
	}

	existing, _ := o.db.GetThumbnailPaths(ctx, path)
	if existing.ViewImagePath != "" {
		mtime := float64(info.ModTime().Unix())
		if valid, _ := o.db.IsThumbnailValid(ctx, path, mtime, info.Size()); valid {
			return nil
		}
	}

	if isFullyQualifiedSession(expectedSessionID) && o.activeSessionID() != expectedSessionID {
		o.log.Debug("abandoning view image task, GUI session moved on", zap.String("path", path))
		return nil
	}

	p, ok := o.registry.ForPath(path)
	if !ok {
		return &unsupportedFormatError{path: path}
	}

	hash, err := hashFile(path)
	if err != nil {
		o.log.Error("failed to hash file for view image", zap.String("path", path), zap.Error(err))
		return err
	}

	viewImagePath, err := p.ProcessViewImage(ctx, path, hash)
	if err != nil {
		o.log.Error("view image generation failed", zap.String("path", path), zap.Error(err))
		return err
	}

	mtime := float64(info.ModTime().Unix())
	if err := o.db.SetThumbnailPaths(ctx, path, pathHash(path, info.Size(), mtime), info.Size(), mtime, "", 0, viewImagePath, fileSizeOf(viewImagePath)); err != nil {
		o.log.Error("failed to record view image path", zap.String("path", path), zap.Error(err))
		return err
	}
	if o.cache != nil {
		o.cache.RecordWrite(ctx, fileSizeOf(viewImagePath))
	}

	thumb, _ := o.db.GetThumbnailPaths(ctx, path)
	o.publish(notify.Notification{
		Type: notify.PreviewsReady,
		Data: notify.PreviewsReadyData{
			ImageEntry:    notify.ImageEntry{Path: path},
			ThumbnailPath: thumb.ThumbnailPath,
			ViewImagePath: viewImagePath,
		},
	})
	return nil
}

// processMetadataTask is the fast scan: orientation, rating, file size.
// It queues a deferred full exiftool pass at BACKGROUND_SCAN priority
// when the record still lacks full metadata.
func (o *Orchestrator) processMetadataTask(path string) error {
	ctx := context.Background()

	if _, err := os.Stat(path); err != nil {
		o.log.Warn("file not found for metadata extraction, queuing JIT cleanup", zap.String("path", path))
		o.submitJITCleanup(path)
		return err
	}
	if !o.volumes.IsAccessible(path) {
		return nil
	}

	p, ok := o.registry.ForPath(path)
	if !ok {
		return &unsupportedFormatError{path: path}
	}

	meta, err := p.ExtractMetadata(path)
	if err != nil {
		o.log.Debug("fast metadata extraction found nothing", zap.String("path", path), zap.Error(err))
		return nil
	}
	if meta == nil {
		return nil
	}

	rec, _ := o.db.Get(ctx, path)
	if o.needsFullMetadata(rec) {
		if err := o.sched.SubmitSimple(metaFullTaskID(path), priority.BackgroundScan, func() error {
			return o.processFullMetadataTask(path)
		}); err != nil {
			o.log.Warn("failed to submit full metadata task", zap.String("path", path), zap.Error(err))
		}
	}
	return nil
}

// needsFullMetadata approximates the original's needs_full_metadata DB
// query: a record that has never had a content hash or camera make
// recorded has never been through the full exiftool pass.
func (o *Orchestrator) needsFullMetadata(rec *store.Record) bool {
	if rec == nil {
		return true
	}
	return rec.ContentHash == nil && rec.CameraMake == nil
}

// processFullMetadataTask runs the slow, exhaustive exiftool -j extraction
// and stores every field it can map onto ExtractedMetadata.
func (o *Orchestrator) processFullMetadataTask(path string) error {
	ctx := context.Background()

	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if !o.volumes.IsAccessible(path) {
		return nil
	}
	rec, _ := o.db.Get(ctx, path)
	if !o.needsFullMetadata(rec) {
		return nil
	}

	fields, err := fullMetadataFields(path)
	if err != nil {
		o.log.Warn("full metadata extraction failed", zap.String("path", path), zap.Error(err))
		return err
	}

	hash, info, err := hashAndStat(path)
	if err != nil {
		return err
	}

	m := metadataFromExifFields(path, fields, hash, info)
	if err := o.db.UpsertExtractedMetadata(ctx, path, m); err != nil {
		o.log.Error("failed to store full metadata", zap.String("path", path), zap.Error(err))
		return err
	}
	return nil
}

func (o *Orchestrator) publish(n notify.Notification) {
	if o.bus != nil {
		o.bus.Publish(n)
	}
}

func fileSizeOf(path string) int64 {
	if path == "" {
		return 0
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

type unsupportedFormatError struct{ path string }

func (e *unsupportedFormatError) Error() string {
	return "pipeline: no plugin registered for " + e.path
}
