package plugin

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"image/jpeg"
	"os"

	"go.uber.org/zap"
)

// canonUUID identifies the Canon CR3 preview box inside an ISOBMFF
// 'uuid' box, matching the original's _CANON_UUID constant.
var canonUUID, _ = hex.DecodeString("85c0b687820f11e08111f4ce462b6a48")

// CR3Plugin extracts Canon RAW (.cr3) preview JPEGs without decoding
// the full RAW image: it walks the file's ISOBMFF box structure for the
// Canon preview UUID box and, failing that, shells out to exiftool.
type CR3Plugin struct {
	*sidecarWriter
	log            *zap.Logger
	thumbnailCache string
	imageCache     string
}

// NewCR3Plugin builds a CR3Plugin writing cache files under
// thumbnailCacheDir and imageCacheDir.
func NewCR3Plugin(log *zap.Logger, thumbnailCacheDir, imageCacheDir string) *CR3Plugin {
	if log == nil {
		log = zap.NewNop()
	}
	return &CR3Plugin{
		sidecarWriter:  newSidecarWriter(),
		log:            log,
		thumbnailCache: thumbnailCacheDir,
		imageCache:     imageCacheDir,
	}
}

func (p *CR3Plugin) Name() string { return "CR3Plugin" }

// IsAvailable requires exiftool on PATH: the box walk alone only
// recovers an embedded preview, not a full-resolution view image.
func (p *CR3Plugin) IsAvailable() bool { return isExifToolAvailable() }

func (p *CR3Plugin) SupportedFormats() []string { return []string{".cr3"} }

func (p *CR3Plugin) ExtractMetadata(imagePath string) (*Metadata, error) {
	return extractFastMetadata(imagePath)
}

func (p *CR3Plugin) thumbnailPath(contentHash string) string {
	return fmt.Sprintf("%s/%s.jpg", p.thumbnailCache, contentHash)
}

func (p *CR3Plugin) viewImagePath(contentHash string) string {
	return fmt.Sprintf("%s/%s.jpg", p.imageCache, contentHash)
}

// ProcessThumbnail prefers the tiny embedded preview found by the box
// walk over a prefetch buffer; if the buffer is too short to contain
// the preview box it falls back to exiftool's -ThumbnailImage tag, and
// only as a last resort decodes the full view image and resizes it.
func (p *CR3Plugin) ProcessThumbnail(ctx context.Context, imagePath, contentHash string, prefetchBuffer []byte) (string, error) {
	out := p.thumbnailPath(contentHash)

	if jpegBytes, ok := extractThumbnailFromBuffer(prefetchBuffer); ok {
		if err := writeOrientedJPEG(out, jpegBytes, imagePath, thumbnailMaxSide); err == nil {
			return out, nil
		}
	}

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
func (p *CR3Plugin) ProcessViewImage(ctx context.Context, imagePath, contentHash string) (string, error) {
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

// writeOrientedJPEG decodes jpegBytes, applies the source file's EXIF
// orientation, optionally resizes to maxSide (0 disables resizing), and
// writes the result to path.
func writeOrientedJPEG(path string, jpegBytes []byte, sourcePath string, maxSide int) error {
	img, err := jpeg.Decode(bytes.NewReader(jpegBytes))
	if err != nil {
		return err
	}

	header := make([]byte, fastScanBytes)
	if f, err := os.Open(sourcePath); err == nil {
		n, _ := f.Read(header)
		header = header[:n]
		f.Close()
	} else {
		header = header[:0]
	}
	orientation := scanExifOrientation(header)
	img = applyOrientation(img, orientation)

	if maxSide > 0 {
		img = thumbnailResize(img, maxSide)
	}
	return encodeJPEG(path, img, thumbnailQuality)
}

// extractThumbnailFromBuffer walks the top-level ISOBMFF boxes in buf
// looking for 'moov', then its children for a 'uuid' box tagged with
// the Canon preview GUID, then scans that box's payload for an
// embedded JPEG (SOI...EOI). Returns ok=false if any step fails; CR3
// previews are only a few KB so a short prefetch buffer is expected to
// miss this often.
func extractThumbnailFromBuffer(buf []byte) ([]byte, bool) {
	moov, ok := findISOBMFFBox(buf, "moov")
	if !ok {
		return nil, false
	}
	for pos := 0; pos < len(moov); {
		_, boxType, body, next, ok := readISOBMFFBoxAt(moov, pos)
		if !ok {
			break
		}
		if boxType == "uuid" && len(body) >= 16 && bytes.Equal(body[:16], canonUUID) {
			if jpegBytes, ok := findJPEG(body[16:]); ok {
				return jpegBytes, true
			}
		}
		pos = next
	}
	return nil, false
}

// findISOBMFFBox scans the top level of buf for the first box whose
// fourcc matches wantType and returns its payload.
func findISOBMFFBox(buf []byte, wantType string) ([]byte, bool) {
	for pos := 0; pos < len(buf); {
		_, boxType, body, next, ok := readISOBMFFBoxAt(buf, pos)
		if !ok {
			return nil, false
		}
		if boxType == wantType {
			return body, true
		}
		pos = next
	}
	return nil, false
}

// readISOBMFFBoxAt parses one box header at buf[pos:]: a 4-byte
// big-endian size, a 4-byte fourcc, followed by (size-8) bytes of
// payload. Returns the payload, the offset of the next box, and
// whether parsing succeeded.
func readISOBMFFBoxAt(buf []byte, pos int) (size uint32, boxType string, body []byte, next int, ok bool) {
	if pos+8 > len(buf) {
		return 0, "", nil, 0, false
	}
	size = binary.BigEndian.Uint32(buf[pos : pos+4])
	boxType = string(buf[pos+4 : pos+8])
	if size < 8 || pos+int(size) > len(buf) {
		return 0, "", nil, 0, false
	}
	body = buf[pos+8 : pos+int(size)]
	next = pos + int(size)
	return size, boxType, body, next, true
}

var jpegSOI = []byte{0xFF, 0xD8, 0xFF}
var jpegEOI = []byte{0xFF, 0xD9}

// findJPEG scans buf for a JPEG start-of-image marker followed by a
// plausible fourth byte (APPn or DQT) and a matching end-of-image
// marker, returning the slice between them inclusive.
func findJPEG(buf []byte) ([]byte, bool) {
	start := -1
	for from := 0; ; {
		rel := indexOf(buf[from:], jpegSOI)
		if rel == -1 || from+rel+3 >= len(buf) {
			return nil, false
		}
		fourth := buf[from+rel+3]
		if fourth == 0xDB || (fourth >= 0xE0 && fourth <= 0xEF) {
			start = from + rel
			break
		}
		from += rel + 1
	}
	relEnd := indexOf(buf[start:], jpegEOI)
	if relEnd == -1 {
		return nil, false
	}
	end := start + relEnd + len(jpegEOI)
	return buf[start:end], true
}
