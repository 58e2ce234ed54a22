// Package notify implements the notification bus described in spec.md
// §4.6: a single bounded queue fed by workers and source-job slices,
// drained by a dedicated goroutine that fans out to connected listeners
// after session filtering.
package notify

// Type enumerates the notification kinds spec.md §3.5 and §6.1 define.
type Type string

const (
	PreviewsReady  Type = "previews_ready"
	ScanProgress   Type = "scan_progress"
	ScanComplete   Type = "scan_complete"
	FilesRemoved   Type = "files_removed"
	ComfyUIComplete Type = "comfyui_complete"
)

// Notification is the typed record carried on the bus. SessionID is
// optional; an empty string means "not session-scoped" and is never
// filtered (daemon indexing jobs produce these).
type Notification struct {
	Type      Type
	Data      any
	SessionID string
}

// ImageEntry mirrors the wire protocol's {path} shape.
type ImageEntry struct {
	Path string `json:"path"`
}

type PreviewsReadyData struct {
	ImageEntry    ImageEntry `json:"image_entry"`
	ThumbnailPath string     `json:"thumbnail_path,omitempty"`
	ViewImagePath string     `json:"view_image_path,omitempty"`
}

type ScanProgressData struct {
	Path  string       `json:"path"`
	Files []ImageEntry `json:"files"`
}

type ScanCompleteData struct {
	Path      string       `json:"path"`
	FileCount int          `json:"file_count"`
	Files     []ImageEntry `json:"files"`
}

type FilesRemovedData struct {
	Files []string `json:"files"`
}
