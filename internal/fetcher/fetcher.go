// Package fetcher implements the Content Fetcher (spec §4.B): populating a
// target directory from a remote branch or a local directory, reporting
// progress, and supporting cancellation of an in-flight fetch.
package fetcher

import (
	"context"
	"time"

	"github.com/open-resource-discovery/provider-server/internal/snapshot"
)

// Progress is a point-in-time snapshot of an in-flight fetch, delivered via
// a callback rather than a channel so the caller controls backpressure
// (matching the teacher's ProgressSink func(map[string]any) idiom).
type Progress struct {
	TotalFiles   int
	FetchedFiles int
	CurrentFile  string
	StartTime    time.Time
	Errors       []string
}

// ProgressFunc receives Progress updates during a fetch. Implementations
// must return quickly; it is called synchronously from the fetch loop.
type ProgressFunc func(Progress)

// ContentFetcher populates a target directory from a content source.
// AbortFetch is safe to call concurrently with a running fetch; the
// in-flight fetch then fails with an apperr.KindCancelled error and the
// target directory is left in an undefined-but-cleanable state (the
// snapshot Manager owns cleaning it up via CleanupStaging).
type ContentFetcher interface {
	// FetchAllContent populates a freshly emptied targetDir with the full
	// branch contents at the resolved commit, or fails.
	FetchAllContent(ctx context.Context, targetDir string, progress ProgressFunc) (snapshot.Metadata, error)

	// FetchLatestChanges populates targetDir with content as of the
	// current head, given the previously known commit sha (used for
	// startup staleness checks when a more efficient incremental fetch is
	// available; implementations may fall back to FetchAllContent).
	FetchLatestChanges(ctx context.Context, targetDir string, since string, progress ProgressFunc) (snapshot.Metadata, error)

	// AbortFetch cancels the current in-flight fetch, if any. Safe to call
	// from another goroutine; a no-op if nothing is in flight.
	AbortFetch()

	// GetLatestCommitSha returns the commit sha at the remote branch head
	// without fetching content, for staleness comparisons.
	GetLatestCommitSha(ctx context.Context) (string, error)
}
