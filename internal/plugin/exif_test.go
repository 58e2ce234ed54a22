package plugin

import "testing"

func TestScanExifOrientationFound(t *testing.T) {
	buf := append([]byte{0, 0, 0, 0}, exifOrientationSig...)
	buf = append(buf, 6, 0) // orientation value 6, little-endian uint16
	if got := scanExifOrientation(buf); got != 6 {
		t.Errorf("expected orientation 6, got %d", got)
	}
}

func TestScanExifOrientationAbsent(t *testing.T) {
	buf := []byte("no exif here")
	if got := scanExifOrientation(buf); got != 1 {
		t.Errorf("expected default orientation 1, got %d", got)
	}
}

func TestScanExifOrientationTruncated(t *testing.T) {
	buf := append([]byte{0, 0}, exifOrientationSig...)
	// No value bytes follow; must not panic or read out of bounds.
	if got := scanExifOrientation(buf); got != 1 {
		t.Errorf("expected default orientation 1 on truncated buffer, got %d", got)
	}
}

func TestExtractXMPRatingAttribute(t *testing.T) {
	doc := []byte(`<x:xmpmeta xmlns:x="adobe:ns:meta/"><rdf:RDF><rdf:Description rdf:about="" xmp:Rating="4"/></rdf:RDF></x:xmpmeta>`)
	rating, ok := extractXMPRating(doc)
	if !ok || rating != 4 {
		t.Fatalf("expected rating 4, got %d ok=%v", rating, ok)
	}
}

func TestExtractXMPRatingElement(t *testing.T) {
	doc := []byte(`<x:xmpmeta xmlns:x="adobe:ns:meta/"><rdf:RDF><rdf:Description><xmp:Rating>3</xmp:Rating></rdf:Description></rdf:RDF></x:xmpmeta>`)
	rating, ok := extractXMPRating(doc)
	if !ok || rating != 3 {
		t.Fatalf("expected rating 3, got %d ok=%v", rating, ok)
	}
}

func TestExtractXMPRatingMissing(t *testing.T) {
	doc := []byte(`<x:xmpmeta xmlns:x="adobe:ns:meta/"><rdf:RDF><rdf:Description/></rdf:RDF></x:xmpmeta>`)
	if _, ok := extractXMPRating(doc); ok {
		t.Fatal("expected no rating found")
	}
}

func TestExtractXMPRatingNoBlock(t *testing.T) {
	if _, ok := extractXMPRating([]byte("plain file contents")); ok {
		t.Fatal("expected no xmpmeta block found")
	}
}
