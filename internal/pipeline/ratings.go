package pipeline

import (
	"context"
	"os"

	"go.uber.org/zap"

	"github.com/jorgemgr94/imgdaemon/internal/plugin"
	"github.com/jorgemgr94/imgdaemon/internal/priority"
)

// WriteRatingToFile finds the plugin for path and has it write rating into
// the XMP sidecar. The watchdog is told to ignore the sidecar's next
// modification before the write happens, not after, so the suppression
// window is already armed when the write lands on disk.
func (o *Orchestrator) WriteRatingToFile(path string, rating int) bool {
	if o.watch != nil {
		o.watch.IgnoreNextModification(plugin.SidecarPath(path))
	}

	if _, err := os.Stat(path); err != nil {
		o.log.Warn("file not found, cannot write rating", zap.String("path", path))
		return false
	}

	p, ok := o.registry.ForPath(path)
	if !ok {
		o.log.Warn("no plugin for format, cannot write rating", zap.String("path", path))
		return false
	}
	writer, ok := p.(plugin.RatingWriter)
	if !ok {
		o.log.Warn("plugin does not support rating writes", zap.String("path", path))
		return false
	}

	if err := writer.WriteRating(path, rating); err != nil {
		o.log.Error("plugin failed to write rating", zap.String("path", path), zap.Error(err))
		return false
	}
	return true
}

// WriteTagsToFile mirrors WriteRatingToFile for the full tag list.
func (o *Orchestrator) WriteTagsToFile(path string, tags []string) bool {
	if o.watch != nil {
		o.watch.IgnoreNextModification(plugin.SidecarPath(path))
	}

	if _, err := os.Stat(path); err != nil {
		o.log.Warn("file not found, cannot write tags", zap.String("path", path))
		return false
	}

	p, ok := o.registry.ForPath(path)
	if !ok {
		o.log.Warn("no plugin for format, cannot write tags", zap.String("path", path))
		return false
	}
	writer, ok := p.(plugin.TagWriter)
	if !ok {
		o.log.Warn("plugin does not support tag writes", zap.String("path", path))
		return false
	}

	if err := writer.WriteTags(path, tags); err != nil {
		o.log.Error("plugin failed to write tags", zap.String("path", path), zap.Error(err))
		return false
	}
	return true
}

// QueueExifRatingWrite updates the rating in the database synchronously,
// then queues the slower sidecar write as a background task. Used for
// single-file rating changes where no prior batch update already touched
// the database.
func (o *Orchestrator) QueueExifRatingWrite(ctx context.Context, path string, rating int) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if err := o.db.SetRating(ctx, path, pathHash(path, info.Size(), float64(info.ModTime().Unix())), info.Size(), float64(info.ModTime().Unix()), rating); err != nil {
		return err
	}

	id := ratingTaskID(path)
	o.log.Debug("queueing EXIF rating write", zap.String("path", path), zap.String("task_id", id))
	return o.sched.SubmitSimple(id, priority.Low, func() error {
		if !o.WriteRatingToFile(path, rating) {
			return &unsupportedFormatError{path: path}
		}
		return nil
	})
}
