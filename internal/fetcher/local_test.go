package fetcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/open-resource-discovery/provider-server/internal/apperr"
)

func TestLocalFetcherCopiesTree(t *testing.T) {
	src := t.TempDir()
	if err := os.MkdirAll(filepath.Join(src, "documents"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "documents", "a.json"), []byte(`{"openResourceDiscovery":"1.9"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	f := NewLocalFetcher(src)
	dst := filepath.Join(t.TempDir(), "target")

	var last Progress
	meta, err := f.FetchAllContent(context.Background(), dst, func(p Progress) { last = p })
	if err != nil {
		t.Fatalf("FetchAllContent: %v", err)
	}
	if meta.TotalFiles != 1 {
		t.Errorf("expected 1 file, got %d", meta.TotalFiles)
	}
	if last.FetchedFiles != 1 {
		t.Errorf("expected progress to report 1 fetched file, got %d", last.FetchedFiles)
	}
	if _, err := os.Stat(filepath.Join(dst, "documents", "a.json")); err != nil {
		t.Errorf("expected copied file: %v", err)
	}
}

func TestLocalFetcherMissingSourceIsNotFound(t *testing.T) {
	f := NewLocalFetcher(filepath.Join(t.TempDir(), "nope"))
	_, err := f.FetchAllContent(context.Background(), t.TempDir(), nil)
	if err == nil {
		t.Fatal("expected error for missing source dir")
	}
	if apperr.KindOf(err) != apperr.KindFetchNotFound {
		t.Errorf("expected KindFetchNotFound, got %v", apperr.KindOf(err))
	}
}

func TestHashTreeStableAcrossRuns(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	h1, err := hashTree(dir)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := hashTree(dir)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Errorf("expected stable fingerprint, got %q vs %q", h1, h2)
	}
}

func TestHashTreeMissingDirIsNoContent(t *testing.T) {
	h, err := hashTree(filepath.Join(t.TempDir(), "missing"))
	if err != nil {
		t.Fatal(err)
	}
	if h != "no-content" {
		t.Errorf("expected literal no-content, got %q", h)
	}
}
