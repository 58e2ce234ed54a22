package plugin

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func box(boxType string, body []byte) []byte {
	var buf bytes.Buffer
	size := uint32(8 + len(body))
	binary.Write(&buf, binary.BigEndian, size)
	buf.WriteString(boxType)
	buf.Write(body)
	return buf.Bytes()
}

func TestFindISOBMFFBox(t *testing.T) {
	ftyp := box("ftyp", []byte("isomcrx "))
	moovBody := []byte("moov-payload")
	moov := box("moov", moovBody)
	buf := append(append([]byte{}, ftyp...), moov...)

	got, ok := findISOBMFFBox(buf, "moov")
	if !ok || !bytes.Equal(got, moovBody) {
		t.Fatalf("expected moov payload %q, got %q ok=%v", moovBody, got, ok)
	}
}

func TestFindISOBMFFBoxMissing(t *testing.T) {
	buf := box("ftyp", []byte("isom"))
	if _, ok := findISOBMFFBox(buf, "moov"); ok {
		t.Fatal("expected no moov box found")
	}
}

func TestFindJPEGEmbedded(t *testing.T) {
	jpegData := append(append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, []byte("fake jpeg body")...), 0xFF, 0xD9)
	padded := append(append([]byte("junk-prefix"), jpegData...), []byte("junk-suffix")...)

	got, ok := findJPEG(padded)
	if !ok || !bytes.Equal(got, jpegData) {
		t.Fatalf("expected extracted jpeg %v, got %v ok=%v", jpegData, got, ok)
	}
}

func TestFindJPEGAbsent(t *testing.T) {
	if _, ok := findJPEG([]byte("no jpeg here")); ok {
		t.Fatal("expected no jpeg found")
	}
}

func TestExtractThumbnailFromBufferFindsCanonUUIDBox(t *testing.T) {
	jpegData := append(append([]byte{0xFF, 0xD8, 0xFF, 0xDB}, []byte("preview")...), 0xFF, 0xD9)
	uuidBody := append(append([]byte{}, canonUUID...), jpegData...)
	uuidBox := box("uuid", uuidBody)
	otherUUID := box("uuid", append(make([]byte, 16), []byte("irrelevant")...))
	moovBody := append(otherUUID, uuidBox...)
	moov := box("moov", moovBody)

	got, ok := extractThumbnailFromBuffer(moov)
	if !ok || !bytes.Equal(got, jpegData) {
		t.Fatalf("expected recovered preview jpeg, got %v ok=%v", got, ok)
	}
}

func TestExtractThumbnailFromBufferNoMoov(t *testing.T) {
	if _, ok := extractThumbnailFromBuffer([]byte("short prefetch buffer")); ok {
		t.Fatal("expected no moov box in a plain buffer")
	}
}
