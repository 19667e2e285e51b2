package blob

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLocalStoreUpload(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir)
	if err != nil {
		t.Fatalf("new local store: %v", err)
	}

	name := ChunkName(42, "run-1", 0)
	uploaded, err := store.Upload(context.Background(), name, strings.NewReader("chunk-bytes"), 11)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if !strings.HasPrefix(uploaded, "file://") {
		t.Fatalf("expected file url, got %q", uploaded)
	}
	data, err := os.ReadFile(filepath.Join(dir, "chunks", "42", "run-1", "000.mp3"))
	if err != nil || string(data) != "chunk-bytes" {
		t.Fatalf("object content mismatch: %v %q", err, data)
	}
}

func TestLocalStoreNeverOverwrites(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("new local store: %v", err)
	}
	name := ChunkName(7, "run-9", 3)
	if _, err := store.Upload(context.Background(), name, strings.NewReader("first"), 5); err != nil {
		t.Fatalf("first upload: %v", err)
	}
	if _, err := store.Upload(context.Background(), name, strings.NewReader("second"), 6); err == nil {
		t.Fatal("second upload of the same object should fail")
	}
}

func TestChunkName(t *testing.T) {
	if got := ChunkName(12, "abc", 4); got != "chunks/12/abc/004.mp3" {
		t.Fatalf("unexpected chunk name %q", got)
	}
}
