package plugin

import (
	"image"
	"image/color"
	"testing"
)

func solidImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestThumbnailResizeShrinksLandscape(t *testing.T) {
	img := solidImage(1000, 500, color.White)
	out := thumbnailResize(img, 256)
	b := out.Bounds()
	if b.Dx() != 256 || b.Dy() != 128 {
		t.Errorf("expected 256x128, got %dx%d", b.Dx(), b.Dy())
	}
}

func TestThumbnailResizeSkipsSmallImage(t *testing.T) {
	img := solidImage(100, 50, color.White)
	out := thumbnailResize(img, 256)
	if out.Bounds() != img.Bounds() {
		t.Error("expected image under max side to pass through unchanged")
	}
}

func TestApplyOrientationRotate90(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	out := applyOrientation(img, 6)
	b := out.Bounds()
	if b.Dx() != 2 || b.Dy() != 4 {
		t.Fatalf("expected swapped dimensions 2x4, got %dx%d", b.Dx(), b.Dy())
	}
}

func TestApplyOrientationIdentity(t *testing.T) {
	img := solidImage(3, 3, color.White)
	out := applyOrientation(img, 1)
	if out.Bounds() != img.Bounds() {
		t.Error("orientation 1 should be a no-op")
	}
}
