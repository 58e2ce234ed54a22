package wire

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jorgemgr94/imgdaemon/internal/sourcejob"
)

// scannerOptions configures directory scanning the way the daemon's
// underlying file walk is gated: a minimum size to skip thumbnail-sized
// junk and sidecar artifacts, shell-glob ignore patterns matched against
// the base name, and the set of extensions a registered plugin can handle.
type scannerOptions struct {
	MinFileSize         int64
	IgnorePatterns      []string
	SupportedExtensions map[string]struct{}
	BatchSize           int
}

func (o scannerOptions) isSupported(path string) bool {
	name := filepath.Base(path)
	for _, pattern := range o.IgnorePatterns {
		if ok, _ := filepath.Match(pattern, name); ok {
			return false
		}
	}
	ext := filepath.Ext(path)
	if _, ok := o.SupportedExtensions[ext]; !ok {
		return false
	}
	if o.MinFileSize > 0 {
		info, err := os.Stat(path)
		if err != nil || info.Size() < o.MinFileSize {
			return false
		}
	}
	return true
}

// newDirectoryGenerator returns a sourcejob.Generator that walks dir lazily
// (recursing into subdirectories when recursive is true), yielding batches
// of up to opts.BatchSize supported file paths per call. It never returns
// an error: a missing or unreadable directory simply yields nothing.
func newDirectoryGenerator(dir string, recursive bool, opts scannerOptions) sourcejob.Generator {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}

	pending := []string{dir}
	var files []string
	done := false

	fillFromOneDir := func(d string) {
		entries, err := os.ReadDir(d)
		if err != nil {
			return
		}
		for _, e := range entries {
			full := filepath.Join(d, e.Name())
			if e.IsDir() {
				if recursive {
					pending = append(pending, full)
				}
				continue
			}
			if opts.isSupported(full) {
				files = append(files, full)
			}
		}
	}

	return func() (sourcejob.Batch, bool) {
		if done {
			return nil, false
		}
		for len(files) < batchSize && len(pending) > 0 {
			d := pending[0]
			pending = pending[1:]
			fillFromOneDir(d)
		}
		if len(files) == 0 {
			done = true
			return nil, false
		}
		n := batchSize
		if n > len(files) {
			n = len(files)
		}
		batch := sourcejob.Batch(files[:n])
		files = files[n:]
		return batch, true
	}
}

func directoryJobID(prefix, sessionID, path string) string {
	return fmt.Sprintf("%s::%s::%s", prefix, sessionID, path)
}
