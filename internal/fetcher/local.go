package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/open-resource-discovery/provider-server/internal/apperr"
	"github.com/open-resource-discovery/provider-server/internal/snapshot"
)

// LocalFetcher implements ContentFetcher for sourceType=local by copying
// ordDirectory into the target snapshot directory. There is no remote to
// fetch from, so AbortFetch only interrupts the copy loop and
// GetLatestCommitSha reports the same content-hash a local docrepo would
// compute, so the scheduler's staleness check still behaves sensibly.
type LocalFetcher struct {
	SourceDir string

	cancel context.CancelFunc
}

// NewLocalFetcher constructs a LocalFetcher rooted at sourceDir.
func NewLocalFetcher(sourceDir string) *LocalFetcher {
	return &LocalFetcher{SourceDir: sourceDir}
}

func (f *LocalFetcher) FetchAllContent(ctx context.Context, targetDir string, progress ProgressFunc) (snapshot.Metadata, error) {
	ctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	defer func() { f.cancel = nil }()

	start := time.Now()
	if _, err := os.Stat(f.SourceDir); err != nil {
		return snapshot.Metadata{}, apperr.Wrap(apperr.KindFetchNotFound, "local ordDirectory not found", err)
	}

	var files []string
	err := filepath.Walk(f.SourceDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return snapshot.Metadata{}, apperr.Internal(err, "walk local ord directory")
	}

	if err := os.RemoveAll(targetDir); err != nil {
		return snapshot.Metadata{}, apperr.Internal(err, "clear target dir")
	}
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return snapshot.Metadata{}, apperr.Internal(err, "create target dir")
	}

	for i, path := range files {
		select {
		case <-ctx.Done():
			return snapshot.Metadata{}, apperr.Cancelled("local fetch cancelled")
		default:
		}
		rel, err := filepath.Rel(f.SourceDir, path)
		if err != nil {
			return snapshot.Metadata{}, apperr.Internal(err, "compute relative path")
		}
		if err := copyLocalFile(path, filepath.Join(targetDir, rel)); err != nil {
			return snapshot.Metadata{}, apperr.Internal(err, "copy %s", rel)
		}
		if progress != nil {
			progress(Progress{TotalFiles: len(files), FetchedFiles: i + 1, CurrentFile: rel, StartTime: start})
		}
	}

	fp, err := hashTree(f.SourceDir)
	if err != nil {
		return snapshot.Metadata{}, apperr.Internal(err, "fingerprint local content")
	}

	return snapshot.Metadata{
		CommitHash: fp,
		FetchTime:  time.Now().UTC(),
		Branch:     "",
		Repository: f.SourceDir,
		TotalFiles: len(files),
	}, nil
}

func (f *LocalFetcher) FetchLatestChanges(ctx context.Context, targetDir string, since string, progress ProgressFunc) (snapshot.Metadata, error) {
	return f.FetchAllContent(ctx, targetDir, progress)
}

func (f *LocalFetcher) AbortFetch() {
	if f.cancel != nil {
		f.cancel()
	}
}

func (f *LocalFetcher) GetLatestCommitSha(ctx context.Context) (string, error) {
	return hashTree(f.SourceDir)
}

func copyLocalFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

// hashTree computes SHA-256 over sorted (path, mtime_ns) pairs, matching
// the "Directory Fingerprint" definition for local sources (spec §3).
func hashTree(root string) (string, error) {
	type entry struct {
		path string
		mtNS int64
	}
	var entries []entry
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, rerr := filepath.Rel(root, path)
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
