package pipeline

import (
	"context"
	"os"
	"strconv"

	"github.com/jorgemgr94/imgdaemon/internal/plugin"
	"github.com/jorgemgr94/imgdaemon/internal/store"
)

// fullMetadataFields runs the exhaustive exiftool pass for path.
func fullMetadataFields(path string) (map[string]any, error) {
	return plugin.ExtractFullMetadata(context.Background(), path)
}

func hashAndStat(path string) (string, os.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", nil, err
	}
	hash, err := hashFile(path)
	if err != nil {
		return "", nil, err
	}
	return hash, info, nil
}

// metadataFromExifFields maps exiftool's JSON tag names onto
// ExtractedMetadata, tolerating absent or differently-typed fields (RAW
// and JPEG files don't expose the same tag set).
func metadataFromExifFields(path string, fields map[string]any, contentHash string, info os.FileInfo) store.ExtractedMetadata {
	mtime := float64(info.ModTime().Unix())
	m := store.ExtractedMetadata{
		PathHash:    pathHash(path, info.Size(), mtime),
		ContentHash: contentHash,
		FileSize:    info.Size(),
		Mtime:       mtime,
		Exif:        fields,
	}

	m.Width = fieldInt(fields, "ImageWidth")
	m.Height = fieldInt(fields, "ImageHeight")
	m.CameraMake = fieldString(fields, "Make")
	m.CameraModel = fieldString(fields, "Model")
	m.LensModel = fieldString(fields, "LensModel")
	m.FocalLength = fieldFloat(fields, "FocalLength")
	m.Aperture = fieldFloat(fields, "FNumber")
	m.ShutterSpeed = fieldString(fields, "ShutterSpeedValue")
	m.ISO = fieldInt(fields, "ISO")
	m.DateTaken = fieldString(fields, "DateTimeOriginal")
	m.Orientation = fieldInt(fields, "Orientation")
	m.ColorSpace = fieldString(fields, "ColorSpace")
	if m.Orientation == 0 {
		m.Orientation = 1
	}
	return m
}

func fieldString(fields map[string]any, key string) string {
	v, ok := fields[key]
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

func fieldInt(fields map[string]any, key string) int {
	v, ok := fields[key]
	if !ok {
		return 0
	}
	if f, ok := v.(float64); ok {
		return int(f)
	}
	return 0
}

func fieldFloat(fields map[string]any, key string) float64 {
	v, ok := fields[key]
	if !ok {
		return 0
	}
	if f, ok := v.(float64); ok {
		return f
	}
	return 0
}
