// Package plugin implements the format-plugin contract described in
// spec.md §4.3: each image format (standard raster formats, Canon RAW)
// is handled by a Plugin that knows how to extract metadata and produce
// the cached thumbnail/view-image JPEGs the rest of the daemon serves.
package plugin

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Metadata is the fast-path result of a header scan: EXIF orientation
// and any rating recovered from embedded or sidecar XMP.
type Metadata struct {
	Orientation int
	Rating      *int
}

// Plugin handles one or more image file extensions.
type Plugin interface {
	// Name identifies the plugin in logs and registry-override messages.
	Name() string

	// IsAvailable reports whether the plugin's runtime dependencies
	// (e.g. an external exiftool binary) are present.
	IsAvailable() bool

	// SupportedFormats lists the lowercase, dot-prefixed extensions this
	// plugin claims, e.g. []string{".jpg", ".jpeg"}.
	SupportedFormats() []string

	// ProcessThumbnail produces a thumbnail JPEG for imagePath into a
	// cache file named after contentHash, returning its path.
	// prefetchBuffer is the first bytes of the file the caller already
	// read off disk; a plugin may use it instead of a second read.
	ProcessThumbnail(ctx context.Context, imagePath, contentHash string, prefetchBuffer []byte) (string, error)

	// ProcessViewImage produces a full-resolution view JPEG for
	// imagePath into a cache file named after contentHash.
	ProcessViewImage(ctx context.Context, imagePath, contentHash string) (string, error)

	// ExtractMetadata performs the fast binary header scan for EXIF
	// orientation and XMP rating, including sidecar override. Returns
	// nil if the scan produced nothing usable.
	ExtractMetadata(imagePath string) (*Metadata, error)
}

// RatingWriter is implemented by plugins that can persist a star rating
// to an XMP sidecar. Not every plugin needs to support this; formats
// with no sidecar convention can skip it.
type RatingWriter interface {
	WriteRating(imagePath string, rating int) error
}

// TagWriter is implemented by plugins that can persist a tag list to an
// XMP sidecar, replacing the entire Subject bag.
type TagWriter interface {
	WriteTags(imagePath string, tags []string) error
}

// Registry maps file extensions to the plugin that handles them.
// Re-registering a plugin under the same Name updates its settings in
// place rather than being rejected, matching the teacher's
// reconfigure-on-reload story for mutable settings like cache_dir.
type Registry struct {
	log *zap.Logger

	mu        sync.RWMutex
	plugins   map[string]Plugin
	formatMap map[string]Plugin
}

// NewRegistry builds an empty Registry.
func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		log:       log,
		plugins:   make(map[string]Plugin),
		formatMap: make(map[string]Plugin),
	}
}

// Register adds p to the registry, claiming every extension in
// p.SupportedFormats(). A later registration wins every format it also
// claims, whatever its Name; replacing a plugin with a different Name
// logs a warning.
func (r *Registry) Register(p Plugin) {
	if !p.IsAvailable() {
		r.log.Warn("plugin not available, skipping registration", zap.String("plugin", p.Name()))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.plugins[p.Name()] = p
	for _, ext := range p.SupportedFormats() {
		ext = normalizeExt(ext)
		if existing, ok := r.formatMap[ext]; ok && existing.Name() != p.Name() {
			r.log.Warn("format already registered, overriding",
				zap.String("format", ext),
				zap.String("previous_plugin", existing.Name()),
				zap.String("new_plugin", p.Name()))
		}
		r.formatMap[ext] = p
	}
	r.log.Info("plugin registered",
		zap.String("plugin", p.Name()),
		zap.Strings("formats", p.SupportedFormats()))
}

// ForPath returns the plugin responsible for path's extension, or false
// if no plugin claims it.
func (r *Registry) ForPath(path string) (Plugin, bool) {
	return r.ForFormat(filepath.Ext(path))
}

// ForFormat returns the plugin responsible for ext (with or without a
// leading dot), or false if no plugin claims it.
func (r *Registry) ForFormat(ext string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.formatMap[normalizeExt(ext)]
	return p, ok
}

// SupportedFormats returns every extension claimed by a registered
// plugin.
func (r *Registry) SupportedFormats() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.formatMap))
	for ext := range r.formatMap {
		out = append(out, ext)
	}
	return out
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// SidecarPath returns the XMP sidecar path for an image:
// /dir/photo.cr3 -> /dir/photo.cr3.xmp
func SidecarPath(imagePath string) string {
	return imagePath + ".xmp"
}

// ImageForSidecar recovers the source image path from a sidecar path
// following the double-extension convention, returning false if the
// extension isn't one the registry knows about.
func ImageForSidecar(r *Registry, xmpPath string) (string, bool) {
	if !strings.HasSuffix(strings.ToLower(xmpPath), ".xmp") {
		return "", false
	}
	candidate := xmpPath[:len(xmpPath)-len(".xmp")]
	if _, ok := r.ForPath(candidate); !ok {
		return "", false
	}
	return candidate, true
}

// ErrUnsupportedFormat is returned when no plugin claims a given path.
type ErrUnsupportedFormat struct {
	Path string
}

func (e *ErrUnsupportedFormat) Error() string {
	return fmt.Sprintf("no plugin registered for format of %q", e.Path)
}
