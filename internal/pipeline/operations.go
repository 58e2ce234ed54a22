package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/jorgemgr94/imgdaemon/internal/plugin"
)

// OperationResult is one named operation's outcome inside a compound task,
// returned to the wire protocol caller as a JSON-friendly map.
type OperationResult map[string]any

// operation is a named, batch file operation runnable through
// ExecuteCompoundTask.
type operation func(ctx context.Context, paths []string) OperationResult

// taskOperations returns the name-to-handler table, mirroring the
// original's _task_operations registry.
func (o *Orchestrator) taskOperations() map[string]operation {
	return map[string]operation{
		"send2trash":     o.opSendToTrash,
		"remove_records": o.opRemoveRecords,
	}
}

// CompoundOperation is one named step in an ExecuteCompoundTask call.
type CompoundOperation struct {
	Name  string
	Paths []string
}

// ExecuteCompoundTask runs a sequence of named operations, collecting each
// one's result under its name. An unknown operation name reports an error
// for that entry without aborting the rest of the sequence.
func (o *Orchestrator) ExecuteCompoundTask(ctx context.Context, ops []CompoundOperation) map[string]OperationResult {
	handlers := o.taskOperations()
	results := make(map[string]OperationResult, len(ops))
	for _, op := range ops {
		handler, ok := handlers[op.Name]
		if !ok {
			o.log.Error("unknown task operation", zap.String("name", op.Name))
			results[op.Name] = OperationResult{"error": "unknown operation: " + op.Name}
			continue
		}
		results[op.Name] = handler(ctx, op.Paths)
	}
	return results
}

// opRemoveRecords deletes database rows (and their cache file references)
// for paths that have been deleted or are otherwise no longer tracked.
func (o *Orchestrator) opRemoveRecords(ctx context.Context, paths []string) OperationResult {
	removed, err := o.db.RemoveRecords(ctx, paths)
	if err != nil {
		o.log.Error("remove_records operation failed", zap.Error(err))
		return OperationResult{"error": err.Error()}
	}
	return OperationResult{"success": true, "count": len(removed)}
}

// opSendToTrash moves each path, and any XMP sidecar beside it, to a
// per-user trash directory (see DESIGN.md for why this uses os.Rename
// instead of a real platform trash API). Sidecar trash failures are
// logged but never fail the whole batch.
func (o *Orchestrator) opSendToTrash(ctx context.Context, paths []string) OperationResult {
	var succeeded, failed int
	for _, path := range paths {
		if err := moveToTrash(path); err != nil {
			o.log.Warn("failed to trash file", zap.String("path", path), zap.Error(err))
			failed++
			continue
		}
		succeeded++

		sidecar := plugin.SidecarPath(path)
		if _, err := os.Stat(sidecar); err == nil {
			if err := moveToTrash(sidecar); err != nil {
				o.log.Warn("failed to trash sidecar", zap.String("path", sidecar), zap.Error(err))
			}
		}
	}
	o.log.Info("send2trash complete", zap.Int("succeeded", succeeded), zap.Int("failed", failed), zap.Int("total", len(paths)))
	return OperationResult{"succeeded": succeeded, "failed": failed}
}

func trashDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".imgdaemon-trash")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

func moveToTrash(path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	dir, err := trashDir()
	if err != nil {
		return err
	}
	dest := filepath.Join(dir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		return errors.New("move to trash: " + err.Error())
	}
	return nil
}
