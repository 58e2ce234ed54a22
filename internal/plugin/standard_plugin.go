package plugin

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"os"

	"go.uber.org/zap"
)

// viewImageQuality and thumbnailQuality mirror the original's PIL
// save(quality=95)/save(quality=85) split between full-resolution view
// images and thumbnails.
const (
	viewImageQuality = 95
	thumbnailQuality = 85
	thumbnailMaxSide = 256
)

// StandardPlugin decodes the common consumer raster formats through
// Go's standard image package and re-encodes them as JPEG thumbnails/
// view images.
type StandardPlugin struct {
	*sidecarWriter
	log            *zap.Logger
	thumbnailCache string
	imageCache     string
}

// NewStandardPlugin builds a StandardPlugin writing cache files under
// thumbnailCacheDir and imageCacheDir.
func NewStandardPlugin(log *zap.Logger, thumbnailCacheDir, imageCacheDir string) *StandardPlugin {
	if log == nil {
		log = zap.NewNop()
	}
	return &StandardPlugin{
		sidecarWriter:  newSidecarWriter(),
		log:            log,
		thumbnailCache: thumbnailCacheDir,
		imageCache:     imageCacheDir,
	}
}

func (p *StandardPlugin) Name() string { return "StandardPlugin" }

func (p *StandardPlugin) IsAvailable() bool { return true }

func (p *StandardPlugin) SupportedFormats() []string {
	return []string{".jpg", ".jpeg", ".png", ".gif"}
}

func (p *StandardPlugin) ExtractMetadata(imagePath string) (*Metadata, error) {
	return extractFastMetadata(imagePath)
}

func (p *StandardPlugin) thumbnailPath(contentHash string) string {
	return fmt.Sprintf("%s/%s.jpg", p.thumbnailCache, contentHash)
}

func (p *StandardPlugin) viewImagePath(contentHash string) string {
	return fmt.Sprintf("%s/%s.jpg", p.imageCache, contentHash)
}

func (p *StandardPlugin) ProcessThumbnail(ctx context.Context, imagePath, contentHash string, prefetchBuffer []byte) (string, error) {
	img, orientation, err := p.decode(imagePath, prefetchBuffer)
	if err != nil {
		return "", err
	}
	img = applyOrientation(img, orientation)
	img = thumbnailResize(img, thumbnailMaxSide)

	out := p.thumbnailPath(contentHash)
	if err := encodeJPEG(out, img, thumbnailQuality); err != nil {
		return "", err
	}
	return out, nil
}

func (p *StandardPlugin) ProcessViewImage(ctx context.Context, imagePath, contentHash string) (string, error) {
	img, orientation, err := p.decode(imagePath, nil)
	if err != nil {
		return "", err
	}
	img = applyOrientation(img, orientation)

	out := p.viewImagePath(contentHash)
	if err := encodeJPEG(out, img, viewImageQuality); err != nil {
		return "", err
	}
	return out, nil
}

// decode reads imagePath and returns the decoded image plus its EXIF
// orientation as found by the fast header scan. prefetchBuffer is
// accepted for interface symmetry with the RAW plugin but unused here:
// a standard-format file must be read in full to decode it, so there's
// no NAS round-trip to save by consulting a partial prefetch.
func (p *StandardPlugin) decode(imagePath string, prefetchBuffer []byte) (image.Image, int, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, 1, err
	}

	orientation := scanExifOrientation(data)

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 1, fmt.Errorf("decode %s: %w", imagePath, err)
	}
	return img, orientation, nil
}

