package plugin

import (
	"encoding/binary"
	"encoding/xml"
	"os"
	"strconv"
)

// fastScanBytes is how much of a file header the metadata fast path
// reads before giving up and leaving extraction to a slower fallback.
const fastScanBytes = 256 * 1024

// sidecarScanBytes bounds how much of an XMP sidecar gets read; sidecars
// are small hand-written XML documents, never multi-megabyte blobs.
const sidecarScanBytes = 64 * 1024

// exifOrientationSig is the little-endian IFD entry for tag 0x0112
// (Orientation), type SHORT (3), count 1: tag, type, count as raw
// bytes, with the value following immediately.
var exifOrientationSig = []byte{0x12, 0x01, 0x03, 0x00, 0x01, 0x00, 0x00, 0x00}

// scanExifOrientation looks for the Orientation IFD entry directly in
// the byte stream rather than parsing the full EXIF/TIFF structure.
// Returns 1 (no rotation) if the tag isn't found.
func scanExifOrientation(buf []byte) int {
	idx := indexOf(buf, exifOrientationSig)
	if idx == -1 || idx+10 > len(buf) {
		return 1
	}
	return int(binary.LittleEndian.Uint16(buf[idx+8 : idx+10]))
}

func indexOf(haystack, needle []byte) int {
	n := len(needle)
	if n == 0 || n > len(haystack) {
		return -1
	}
	for i := 0; i+n <= len(haystack); i++ {
		if string(haystack[i:i+n]) == string(needle) {
			return i
		}
	}
	return -1
}

var xmpOpenTag = []byte("<x:xmpmeta")
var xmpCloseTag = []byte("</x:xmpmeta>")

// xmpRatingDoc mirrors only the fragment of an XMP packet this daemon
// cares about: the rdf:Description carrying a Rating attribute or
// child element. Adobe XMP writers use either form interchangeably.
type xmpRatingDoc struct {
	XMLName xml.Name `xml:"xmpmeta"`
	RDF     struct {
		Description []struct {
			RatingAttr string `xml:"Rating,attr"`
			Rating     string `xml:"Rating"`
		} `xml:"Description"`
	} `xml:"RDF"`
}

// extractXMPRating finds the first <x:xmpmeta>...</x:xmpmeta> block in
// buf and pulls an xmp:Rating value out of it, if present.
func extractXMPRating(buf []byte) (int, bool) {
	start := indexOf(buf, xmpOpenTag)
	if start == -1 {
		return 0, false
	}
	rel := indexOf(buf[start:], xmpCloseTag)
	if rel == -1 {
		return 0, false
	}
	end := start + rel + len(xmpCloseTag)

	var doc xmpRatingDoc
	if err := xml.Unmarshal(buf[start:end], &doc); err != nil {
		return 0, false
	}
	for _, desc := range doc.RDF.Description {
		raw := desc.RatingAttr
		if raw == "" {
			raw = desc.Rating
		}
		if raw == "" {
			continue
		}
		if v, err := strconv.Atoi(raw); err == nil {
			return v, true
		}
	}
	return 0, false
}

// extractFastMetadata is the shared implementation behind every
// Plugin.ExtractMetadata: a bounded read of the file header for EXIF
// orientation, then embedded XMP rating, then a sidecar override if one
// exists next to the image.
func extractFastMetadata(imagePath string) (*Metadata, error) {
	f, err := os.Open(imagePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	buf := make([]byte, fastScanBytes)
	n, err := f.Read(buf)
	f.Close()
	if err != nil && n == 0 {
		return nil, err
	}
	buf = buf[:n]

	md := &Metadata{Orientation: 1}
	if o := scanExifOrientation(buf); o != 1 {
		md.Orientation = o
	}
	if rating, ok := extractXMPRating(buf); ok {
		md.Rating = &rating
	}

	if sidecar, err := os.Open(SidecarPath(imagePath)); err == nil {
		sbuf := make([]byte, sidecarScanBytes)
		n, _ := sidecar.Read(sbuf)
		sidecar.Close()
		if rating, ok := extractXMPRating(sbuf[:n]); ok {
			md.Rating = &rating
		}
	}

	if md.Orientation == 1 && md.Rating == nil {
		return nil, nil
	}
	return md, nil
}
