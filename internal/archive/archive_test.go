package archive

import (
	"archive/tar"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/pgzip"
)

func TestBundle_ProducesValidTarGz(t *testing.T) {
	dir := t.TempDir()
	jpegPath := filepath.Join(dir, "2026-01-02T03-04-05Z.jpg")
	jsonPath := filepath.Join(dir, "2026-01-02T03-04-05Z.json")

	if err := os.WriteFile(jpegPath, []byte{0xFF, 0xD8, 0xFF, 0xD9}, 0644); err != nil {
		t.Fatalf("writing jpeg fixture: %v", err)
	}
	if err := os.WriteFile(jsonPath, []byte(`{"recorded_speed":40}`), 0644); err != nil {
		t.Fatalf("writing json fixture: %v", err)
	}

	buf, err := Bundle(jpegPath, jsonPath)
	if err != nil {
		t.Fatalf("Bundle: %v", err)
	}

	gzReader, err := pgzip.NewReader(buf)
	if err != nil {
		t.Fatalf("invalid pgzip stream: %v", err)
	}
	defer gzReader.Close()

	tr := tar.NewReader(gzReader)
	var names []string
	for {
		hdr, err := tr.Next()
		if err != nil {
			break
		}
		names = append(names, hdr.Name)
	}

	if len(names) != 2 {
		t.Fatalf("expected 2 entries in bundle, got %d: %v", len(names), names)
	}
}
