package index

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestArtifacts_RoundTrip(t *testing.T) {
	root := t.TempDir()
	chunks := testChunks()

	gen, err := WriteArtifacts(root, chunks, 8, "hashed")
	if err != nil {
		t.Fatalf("WriteArtifacts failed: %v", err)
	}

	ptr, err := os.ReadFile(filepath.Join(root, "CURRENT"))
	if err != nil {
		t.Fatalf("pointer file missing: %v", err)
	}
	if strings.TrimSpace(string(ptr)) != gen {
		t.Errorf("pointer = %q, want %q", strings.TrimSpace(string(ptr)), gen)
	}

	snap, err := LoadSnapshot(root)
	if err != nil {
		t.Fatalf("LoadSnapshot failed: %v", err)
	}

	store := NewStore(snap)
	vec, content, meta, ok := store.Lookup("FINANCE_CHUNK_0")
	if !ok {
		t.Fatal("expected FINANCE_CHUNK_0 after round trip")
	}
	if content != "content of FINANCE_CHUNK_0" {
		t.Errorf("content = %q", content)
	}
	if meta.SourceDocument != "q4.txt" || meta.ChunkIndex != 0 {
		t.Errorf("metadata did not survive: %+v", meta)
	}
	if vec[0] != 1 {
		t.Errorf("embedding did not survive: %v", vec)
	}
}

func TestArtifacts_DimensionMismatchRejected(t *testing.T) {
	root := t.TempDir()
	chunks := testChunks()

	if _, err := WriteArtifacts(root, chunks, 16, "hashed"); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestArtifacts_RebuildSwapsPointer(t *testing.T) {
	root := t.TempDir()

	gen1, err := WriteArtifacts(root, testChunks(), 8, "hashed")
	if err != nil {
		t.Fatalf("first build failed: %v", err)
	}
	gen2, err := WriteArtifacts(root, testChunks()[:2], 8, "hashed")
	if err != nil {
		t.Fatalf("second build failed: %v", err)
	}
	if gen1 == gen2 {
		t.Skip("generations collided within one second; timestamped names need distinct clock ticks")
	}

	snap, err := LoadSnapshot(root)
	if err != nil {
		t.Fatalf("LoadSnapshot failed: %v", err)
	}
	if got := NewStore(snap).Stats().TotalChunks; got != 2 {
		t.Errorf("after rebuild total chunks = %d, want 2", got)
	}
}

func TestLoadSnapshot_MissingPointer(t *testing.T) {
	if _, err := LoadSnapshot(t.TempDir()); err == nil {
		t.Fatal("expected error for missing CURRENT pointer")
	}
}
