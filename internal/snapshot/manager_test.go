package snapshot

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dir := t.TempDir()
	m := New(dir, "documents", nil)
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return m
}

func TestInitializeCreatesLayout(t *testing.T) {
	m := newTestManager(t)
	for _, p := range []string{
		m.CurrentPath(),
		filepath.Join(m.CurrentPath(), "documents"),
		m.tempPath(),
	} {
		if info, err := os.Stat(p); err != nil || !info.IsDir() {
			t.Errorf("expected directory at %s", p)
		}
	}
}

func TestValidateRequiresDocumentsSubdir(t *testing.T) {
	m := newTestManager(t)
	if !m.Validate(m.CurrentPath()) {
		t.Fatalf("expected current/ to validate after Initialize")
	}
	empty := t.TempDir()
	if m.Validate(empty) {
		t.Fatalf("expected empty dir to fail validation")
	}
}

func TestSwapReplacesCurrentAtomically(t *testing.T) {
	m := newTestManager(t)

	if err := os.WriteFile(filepath.Join(m.CurrentPath(), "documents", "old.json"), []byte(`{}`), 0o644); err != nil {
		t.Fatal(err)
	}

	staging, err := m.StagingDirectory()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(staging, "documents"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(staging, "documents", "new.json"), []byte(`{"a":1}`), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := m.Swap(staging); err != nil {
		t.Fatalf("Swap: %v", err)
	}

	if _, err := os.Stat(filepath.Join(m.CurrentPath(), "documents", "old.json")); !os.IsNotExist(err) {
		t.Errorf("expected old.json to be gone after swap, err=%v", err)
	}
	if _, err := os.Stat(filepath.Join(m.CurrentPath(), "documents", "new.json")); err != nil {
		t.Errorf("expected new.json to be present after swap: %v", err)
	}

	entries, err := os.ReadDir(m.dataDir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), backupDirPrefix) {
			t.Errorf("leftover backup directory: %s", e.Name())
		}
	}
}

func TestSwapRestoresOnFailure(t *testing.T) {
	m := newTestManager(t)
	if err := os.WriteFile(filepath.Join(m.CurrentPath(), "documents", "old.json"), []byte(`{}`), 0o644); err != nil {
		t.Fatal(err)
	}

	// A staging path that does not exist should fail the rename and the
	// copy fallback, leaving current/ untouched.
	missing := filepath.Join(m.dataDir, "does-not-exist")
	if err := m.Swap(missing); err == nil {
		t.Fatalf("expected Swap to fail for missing staging dir")
	}

	if _, err := os.Stat(filepath.Join(m.CurrentPath(), "documents", "old.json")); err != nil {
		t.Errorf("expected old.json to survive a failed swap: %v", err)
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	m := newTestManager(t)
	if _, ok := m.LoadMetadata(); ok {
		t.Fatalf("expected no metadata before first save")
	}

	meta := Metadata{CommitHash: "abc123", Branch: "main", Repository: "org/repo", TotalFiles: 3}
	m.SaveMetadata(meta)

	loaded, ok := m.LoadMetadata()
	if !ok {
		t.Fatalf("expected metadata to load after save")
	}
	if loaded.CommitHash != meta.CommitHash || loaded.TotalFiles != meta.TotalFiles {
		t.Errorf("loaded metadata mismatch: %+v", loaded)
	}
}

func TestMetadataCorruptionTreatedAsAbsent(t *testing.T) {
	m := newTestManager(t)
	if err := os.WriteFile(m.metadataPath(), []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, ok := m.LoadMetadata(); ok {
		t.Fatalf("expected corrupt metadata to be treated as absent")
	}
}
