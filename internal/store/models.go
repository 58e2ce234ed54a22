package store

import "time"

// Record is one row of the image_metadata table: everything the daemon
// knows about a file without touching it, per spec.md §4.3.
type Record struct {
	FilePath      string
	PathHash      string
	ContentHash   *string
	FileSize      int64
	Width         int
	Height        int
	Rating        int
	CameraMake    *string
	CameraModel   *string
	LensModel     *string
	FocalLength   *float64
	Aperture      *float64
	ShutterSpeed  *string
	ISO           *int
	DateTaken     *string
	Orientation   int
	ColorSpace    *string
	ThumbnailPath *string
	ViewImagePath *string
	ExifData      map[string]any
	Mtime         float64
	CreatedAt     time.Time
	UpdatedAt     time.Time
	AccessedAt    time.Time
}

// ThumbnailPaths is the narrow projection GetThumbnailPaths returns.
type ThumbnailPaths struct {
	ThumbnailPath string
	ViewImagePath string
}

// Tag is a single free-form tag attached to a file (spec.md §4.3's tag CRUD).
type Tag struct {
	FilePath string
	Tag      string
}

// Move describes one rename applied atomically by MoveRecords.
type Move struct {
	OldPath string
	NewPath string
}
