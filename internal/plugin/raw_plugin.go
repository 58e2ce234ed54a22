package plugin

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"os"

	"go.uber.org/zap"
)

// rawFormats lists every generic RAW extension exiftool can pull an
// embedded preview from without a format-specific box walk (CR3 has its
// own plugin for the ISOBMFF fast path; CR2 is legacy Canon and shares
// this generic preview-extraction path instead).
var rawFormats = []string{
	".nef", ".nrw", // Nikon
	".arw", ".sr2", ".srf", // Sony
	".dng",         // Adobe / universal
	".raf",         // Fujifilm
	".orf",         // Olympus / OM System
	".rw2",         // Panasonic
	".pef",         // Pentax
	".srw",         // Samsung
	".mrw",         // Minolta
	".rwl",         // Leica
	".3fr", ".fff", // Hasselblad
	".mef", ".mos", // Mamiya
	".iiq", ".cap", ".eip", // Phase One
	".cr2", // Canon (legacy; CR3 handled by CR3Plugin)
}

// RawPlugin extracts preview JPEGs from generic RAW formats via
// exiftool's embedded-tag extraction, with no format-specific fast path
// the way CR3Plugin's ISOBMFF box walk has.
type RawPlugin struct {
	*sidecarWriter
	log            *zap.Logger
	thumbnailCache string
	imageCache     string
}

// NewRawPlugin builds a RawPlugin writing cache files under
// thumbnailCacheDir and imageCacheDir.
func NewRawPlugin(log *zap.Logger, thumbnailCacheDir, imageCacheDir string) *RawPlugin {
	if log == nil {
		log = zap.NewNop()
	}
	return &RawPlugin{
		sidecarWriter:  newSidecarWriter(),
		log:            log,
		thumbnailCache: thumbnailCacheDir,
		imageCache:     imageCacheDir,
	}
}

func (p *RawPlugin) Name() string { return "RawPlugin" }

func (p *RawPlugin) IsAvailable() bool { return isExifToolAvailable() }

func (p *RawPlugin) SupportedFormats() []string { return rawFormats }

func (p *RawPlugin) ExtractMetadata(imagePath string) (*Metadata, error) {
	return extractFastMetadata(imagePath)
}

func (p *RawPlugin) thumbnailPath(contentHash string) string {
	return fmt.Sprintf("%s/%s.jpg", p.thumbnailCache, contentHash)
}

func (p *RawPlugin) viewImagePath(contentHash string) string {
	return fmt.Sprintf("%s/%s.jpg", p.imageCache, contentHash)
}

// ProcessThumbnail asks exiftool for the embedded ThumbnailImage tag and
// falls back to decoding the full view image and resizing it down.
func (p *RawPlugin) ProcessThumbnail(ctx context.Context, imagePath, contentHash string, prefetchBuffer []byte) (string, error) {
	out := p.thumbnailPath(contentHash)

	if jpegBytes, err := runExiftoolTag(ctx, imagePath, "-ThumbnailImage"); err == nil {
		if werr := writeOrientedJPEG(out, jpegBytes, imagePath, thumbnailMaxSide); werr == nil {
			return out, nil
		}
	}

	viewPath, err := p.ProcessViewImage(ctx, imagePath, contentHash)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(viewPath)
	if err != nil {
		return "", err
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	return out, encodeJPEG(out, thumbnailResize(img, thumbnailMaxSide), thumbnailQuality)
}

// ProcessViewImage asks exiftool for the largest embedded preview
// (JpgFromRaw, falling back to PreviewImage), applying EXIF orientation.
func (p *RawPlugin) ProcessViewImage(ctx context.Context, imagePath, contentHash string) (string, error) {
	out := p.viewImagePath(contentHash)

	jpegBytes, err := runExiftoolTag(ctx, imagePath, "-JpgFromRaw")
	if err != nil || len(jpegBytes) == 0 {
		jpegBytes, err = runExiftoolTag(ctx, imagePath, "-PreviewImage")
	}
	if err != nil {
		return "", fmt.Errorf("extract view image from %s: %w", imagePath, err)
	}

	if err := writeOrientedJPEG(out, jpegBytes, imagePath, 0); err != nil {
		return "", err
	}
	return out, nil
}
