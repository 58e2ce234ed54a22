package plugin

import (
	"bytes"
	"fmt"
	"os"
)

// sidecarWriter implements WriteRating/WriteTags against an XMP sidecar
// via a pooled exiftool process. Plugins that support sidecar writes
// embed this rather than reimplementing the race-safe create-or-update
// dance.
type sidecarWriter struct {
	pool *exifToolPool
}

func newSidecarWriter() *sidecarWriter {
	return &sidecarWriter{pool: newExifToolPool()}
}

// Shutdown terminates every exiftool subprocess this writer's plugin
// instance has spawned.
func (w *sidecarWriter) Shutdown() {
	w.pool.shutdownAll()
}

// WriteRating writes rating (0-5) to the XMP sidecar next to imagePath.
func (w *sidecarWriter) WriteRating(imagePath string, rating int) error {
	if rating < 0 || rating > 5 {
		return fmt.Errorf("rating %d out of range [0..5] for %s", rating, imagePath)
	}
	xmp := SidecarPath(imagePath)
	et, err := w.pool.get(imagePath)
	if err != nil {
		return err
	}
	out, err := writeToSidecar(et, xmp, []string{fmt.Sprintf("-XMP-xmp:Rating=%d", rating)}, imagePath)
	if err != nil {
		return err
	}
	if !sidecarWriteOK(out) {
		return fmt.Errorf("exiftool reported no update writing rating sidecar %s: %s", xmp, string(out))
	}
	return nil
}

// WriteTags replaces the entire Subject bag in the XMP sidecar next to
// imagePath with tags. An existing sidecar must have its Subject list
// cleared in a separate exiftool call first: bag-type XMP tags ignore
// -TAG= when += appears in the same invocation.
func (w *sidecarWriter) WriteTags(imagePath string, tags []string) error {
	xmp := SidecarPath(imagePath)
	et, err := w.pool.get(imagePath)
	if err != nil {
		return err
	}

	var out []byte
	if _, statErr := os.Stat(xmp); statErr == nil {
		if _, err := et.execute([]string{"-XMP:Subject=", "-overwrite_original", xmp}); err != nil {
			return err
		}
		if len(tags) > 0 {
			out, err = et.execute(append(subjectAppendArgs(tags), "-overwrite_original", xmp))
			if err != nil {
				return err
			}
		} else {
			out = []byte("    1 image files updated")
		}
	} else {
		args := append([]string{"-o", xmp}, append(subjectAppendArgs(tags), imagePath)...)
		out, err = et.execute(args)
		if err != nil {
			return err
		}
		if bytes.Contains(out, []byte("already exists")) {
			if _, err := et.execute([]string{"-XMP:Subject=", "-overwrite_original", xmp}); err != nil {
				return err
			}
			if len(tags) > 0 {
				out, err = et.execute(append(subjectAppendArgs(tags), "-overwrite_original", xmp))
				if err != nil {
					return err
				}
			} else {
				out = []byte("    1 image files updated")
			}
		}
	}

	if !sidecarWriteOK(out) {
		return fmt.Errorf("exiftool reported no update writing tags sidecar %s: %s", xmp, string(out))
	}
	return nil
}

func subjectAppendArgs(tags []string) []string {
	args := make([]string, len(tags))
	for i, t := range tags {
		args[i] = fmt.Sprintf("-XMP:Subject+=%s", t)
	}
	return args
}

// writeToSidecar writes tagArgs to the sidecar at xmpPath, creating it
// from imagePath's XMP skeleton if it doesn't exist yet. Handles the
// race where a concurrent writer creates the sidecar between the
// existence check and the -o call by retrying as an update.
func writeToSidecar(et *exifToolProcess, xmpPath string, tagArgs []string, imagePath string) ([]byte, error) {
	if _, err := os.Stat(xmpPath); err == nil {
		return et.execute(append(append([]string{}, tagArgs...), "-overwrite_original", xmpPath))
	}
	args := append([]string{"-o", xmpPath}, tagArgs...)
	args = append(args, imagePath)
	out, err := et.execute(args)
	if err != nil {
		return nil, err
	}
	if bytes.Contains(out, []byte("already exists")) {
		return et.execute(append(append([]string{}, tagArgs...), "-overwrite_original", xmpPath))
	}
	return out, nil
}

func sidecarWriteOK(output []byte) bool {
	hasUpdate := bytes.Contains(output, []byte("image files updated")) || bytes.Contains(output, []byte("image files created"))
	return hasUpdate && !bytes.Contains(output, []byte("0 image files"))
}
