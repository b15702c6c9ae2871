// Package docrepo implements the Document Repository (spec §4.C): a
// read-only view over a snapshot-backed or local root directory. It reads
// and validates individual ORD documents, enumerates them recursively, and
// computes/throttles the directory fingerprint used as the cache epoch by
// internal/ordproc.
package docrepo

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

const fingerprintThrottle = 10 * time.Second

// FingerprintSource resolves the fingerprint for a remote (snapshot-backed)
// repository from already-persisted metadata, avoiding a second content
// hash when the content fetcher already gave us the commit sha.
type FingerprintSource interface {
	GetCurrentFingerprint() (string, bool)
}

// Repository is a read-only view over a root directory.
type Repository struct {
	root            string
	documentsSubdir string
	fingerprintSrc  FingerprintSource // nil for local sources
	logger          *slog.Logger

	mu          sync.Mutex
	lastFP      string
	lastComputed time.Time
}

// New constructs a Repository rooted at root. fingerprintSrc is non-nil for
// remote (snapshot-backed) sources, where the fingerprint is the persisted
// commit hash rather than a content hash.
func New(root, documentsSubdir string, fingerprintSrc FingerprintSource, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{root: root, documentsSubdir: documentsSubdir, fingerprintSrc: fingerprintSrc, logger: logger}
}

// Root returns the repository's root directory.
func (r *Repository) Root() string { return r.root }

// DocumentsDir returns root/<documentsSubdir>.
func (r *Repository) DocumentsDir() string { return filepath.Join(r.root, r.documentsSubdir) }

// GetDocument reads and decodes relPath (relative to root) as a generic
// JSON tree, validating only that it is valid JSON with a top-level
// "openResourceDiscovery" field. Returns nil on any failure, per spec:
// failures are logged and the document is simply
// absent from the caller's perspective.
func (r *Repository) GetDocument(relPath string) map[string]any {
	b, err := r.GetFileContent(relPath)
	if err != nil {
		r.logger.Debug("document read failed", "path", relPath, "error", err)
		return nil
	}
	var doc map[string]any
	if err := json.Unmarshal(b, &doc); err != nil {
		r.logger.Warn("document is not valid JSON", "path", relPath, "error", err)
		return nil
	}
	if _, ok := doc["openResourceDiscovery"]; !ok {
		r.logger.Warn("document missing openResourceDiscovery field", "path", relPath)
		return nil
	}
	return doc
}

// GetDocuments recursively enumerates *.json files under dirRel (relative
// to root) and returns those that parse as ORD documents, keyed by their
// path relative to root.
func (r *Repository) GetDocuments(dirRel string) map[string]map[string]any {
	out := map[string]map[string]any{}
	for _, rel := range r.ListFiles(dirRel, true) {
		if filepath.Ext(rel) != ".json" {
			continue
		}
		if doc := r.GetDocument(rel); doc != nil {
			out[rel] = doc
		}
	}
	return out
}

// ListFiles lists files under dirRel (relative to root), posix-style and
// relative to root. Recursive listing is expressed via doublestar so the
// ** pattern — not a hand-rolled WalkDir — is the one place this gateway
// needs arbitrary-depth glob semantics.
func (r *Repository) ListFiles(dirRel string, recursive bool) []string {
	base := filepath.Join(r.root, dirRel)
	fsys := os.DirFS(base)
	pattern := "*"
	if recursive {
		pattern = "**/*"
	}
	matches, err := doublestar.Glob(fsys, pattern)
	if err != nil {
		r.logger.Warn("glob failed", "dir", dirRel, "error", err)
		return nil
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		info, err := os.Stat(filepath.Join(base, m))
		if err != nil || info.IsDir() {
			continue
		}
		out = append(out, filepath.ToSlash(filepath.Join(dirRel, m)))
	}
	sort.Strings(out)
	return out
}

// GetFileContent reads relPath (relative to root) as raw bytes.
func (r *Repository) GetFileContent(relPath string) ([]byte, error) {
	return os.ReadFile(filepath.Join(r.root, relPath))
}

// GetDirectoryHash returns the fingerprint for dirRel, throttled to one
// recompute per 10 seconds per repository root (spec §4.C). Returns the
// literal "no-content" when the root does not exist.
func (r *Repository) GetDirectoryHash(dirRel string) string {
	if r.fingerprintSrc != nil {
		if fp, ok := r.fingerprintSrc.GetCurrentFingerprint(); ok && fp != "" {
			return fp
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if time.Since(r.lastComputed) < fingerprintThrottle && r.lastFP != "" {
		return r.lastFP
	}

	fp, err := r.hashLocalTree(dirRel)
	if err != nil {
		r.logger.Warn("fingerprint computation failed", "error", err)
		return r.lastFP
	}
	r.lastFP = fp
	r.lastComputed = time.Now()
	return fp
}

func (r *Repository) hashLocalTree(dirRel string) (string, error) {
	base := filepath.Join(r.root, dirRel)
	type entry struct {
		path string
		mtNS int64
	}
	var entries []entry
	err := filepath.Walk(base, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, rerr := filepath.Rel(r.root, path)
		if rerr != nil {
			return rerr
		}
		entries = append(entries, entry{path: filepath.ToSlash(rel), mtNS: info.ModTime().UnixNano()})
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return "no-content", nil
		}
		return "", err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].path < entries[j].path })

	h := sha256.New()
	for _, e := range entries {
		fmt.Fprintf(h, "%s:%d\n", e.path, e.mtNS)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
