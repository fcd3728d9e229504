package testsupport

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"vidpipe/internal/blob"
)

// WriteFile creates path, with parents, holding size bytes of filler. Worker
// tests only care that the raw object exists and has a plausible length.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	data := bytes.Repeat([]byte{0x42}, int(max(size, 1)))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// SeedObject uploads size bytes to key through store, standing in for the
// upload collaborator.
func SeedObject(t testing.TB, store blob.Store, key string, size int64) {
	t.Helper()

	src := filepath.Join(t.TempDir(), filepath.Base(key))
	WriteFile(t, src, size)
	if err := store.Upload(context.Background(), src, key, blob.Metadata{ContentType: "video/mp4"}); err != nil {
		t.Fatalf("seed %s: %v", key, err)
	}
}
