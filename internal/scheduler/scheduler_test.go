package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/open-resource-discovery/provider-server/internal/apperr"
	"github.com/open-resource-discovery/provider-server/internal/fetcher"
	"github.com/open-resource-discovery/provider-server/internal/snapshot"
)

type fakeFetcher struct {
	sha  string
	err  error
	fail error
}

func (f *fakeFetcher) FetchAllContent(ctx context.Context, targetDir string, progress fetcher.ProgressFunc) (snapshot.Metadata, error) {
	if f.fail != nil {
		return snapshot.Metadata{}, f.fail
	}
	if err := os.MkdirAll(filepath.Join(targetDir, "documents"), 0o755); err != nil {
		return snapshot.Metadata{}, err
	}
	if progress != nil {
		progress(fetcher.Progress{TotalFiles: 1, FetchedFiles: 1})
	}
	return snapshot.Metadata{CommitHash: f.sha, FetchTime: time.Now()}, nil
}

func (f *fakeFetcher) FetchLatestChanges(ctx context.Context, targetDir, since string, progress fetcher.ProgressFunc) (snapshot.Metadata, error) {
	return f.FetchAllContent(ctx, targetDir, progress)
}

func (f *fakeFetcher) AbortFetch() {}

func (f *fakeFetcher) GetLatestCommitSha(ctx context.Context) (string, error) {
	return f.sha, f.err
}

func newTestScheduler(t *testing.T, f *fakeFetcher) (*Scheduler, context.CancelFunc) {
	t.Helper()
	mgr := snapshot.New(t.TempDir(), "documents", nil)
	if err := mgr.Initialize(); err != nil {
		t.Fatal(err)
	}
	s := New(mgr, f, nil, 50*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	return s, cancel
}

func TestForceUpdateSucceeds(t *testing.T) {
	s, cancel := newTestScheduler(t, &fakeFetcher{sha: "abc123"})
	defer cancel()

	if err := s.ForceUpdate(context.Background()); err != nil {
		t.Fatalf("ForceUpdate: %v", err)
	}
	if s.State() != StateIdle {
		t.Errorf("expected idle after successful update, got %v", s.State())
	}
	if s.Status().LastUpdateTime.IsZero() {
		t.Error("expected lastUpdateTime to be set")
	}
}

func TestForceUpdateFailsWhenAlreadyInProgress(t *testing.T) {
	unblock := make(chan struct{})
	mgr := snapshot.New(t.TempDir(), "documents", nil)
	if err := mgr.Initialize(); err != nil {
		t.Fatal(err)
	}
	s := New(mgr, &fakeFetcherBlocking{unblock: unblock}, nil, time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	go func() { _ = s.ForceUpdate(context.Background()) }()

	deadline := time.After(time.Second)
	for s.State() != StateInProgress {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for in-progress state")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if err := s.ForceUpdate(context.Background()); apperr.KindOf(err) != apperr.KindAlreadyInProgress {
		t.Errorf("expected KindAlreadyInProgress, got %v", err)
	}

	close(unblock)
}

type fakeFetcherBlocking struct {
	unblock chan struct{}
}

func (f *fakeFetcherBlocking) FetchAllContent(ctx context.Context, targetDir string, progress fetcher.ProgressFunc) (snapshot.Metadata, error) {
	<-f.unblock
	return snapshot.Metadata{CommitHash: "x"}, nil
}
func (f *fakeFetcherBlocking) FetchLatestChanges(ctx context.Context, targetDir, since string, progress fetcher.ProgressFunc) (snapshot.Metadata, error) {
	return f.FetchAllContent(ctx, targetDir, progress)
}
func (f *fakeFetcherBlocking) AbortFetch()                                   {}
func (f *fakeFetcherBlocking) GetLatestCommitSha(ctx context.Context) (string, error) { return "x", nil }

func TestRunUpdateFailsOnContentInvalid(t *testing.T) {
	s, cancel := newTestScheduler(t, &fakeFetcherEmpty{})
	defer cancel()

	err := s.ForceUpdate(context.Background())
	if err == nil {
		t.Fatal("expected error for missing documents subdirectory")
	}
	if apperr.KindOf(err) != apperr.KindContentInvalid {
		t.Errorf("expected KindContentInvalid, got %v", apperr.KindOf(err))
	}
	if s.State() != StateFailed {
		t.Errorf("expected failed state, got %v", s.State())
	}
	if s.Status().FailedCount != 1 {
		t.Errorf("expected failedCount=1, got %d", s.Status().FailedCount)
	}
}

type fakeFetcherEmpty struct{}

func (f *fakeFetcherEmpty) FetchAllContent(ctx context.Context, targetDir string, progress fetcher.ProgressFunc) (snapshot.Metadata, error) {
	return snapshot.Metadata{CommitHash: "empty"}, os.MkdirAll(targetDir, 0o755)
}
func (f *fakeFetcherEmpty) FetchLatestChanges(ctx context.Context, targetDir, since string, progress fetcher.ProgressFunc) (snapshot.Metadata, error) {
	return f.FetchAllContent(ctx, targetDir, progress)
}
func (f *fakeFetcherEmpty) AbortFetch()                                   {}
func (f *fakeFetcherEmpty) GetLatestCommitSha(ctx context.Context) (string, error) { return "empty", nil }

func TestScheduleCoalescesRepeatedCalls(t *testing.T) {
	s, cancel := newTestScheduler(t, &fakeFetcher{sha: "v1"})
	defer cancel()

	var events []EventKind
	unsub := s.Subscribe(func(e Event) { events = append(events, e.Kind) })
	defer unsub()

	s.Schedule(30 * time.Millisecond)
	s.Schedule(30 * time.Millisecond)
	s.Schedule(30 * time.Millisecond)

	deadline := time.After(2 * time.Second)
	for {
		if s.State() == StateIdle && s.Status().LastUpdateTime.Unix() > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for scheduled update to complete")
		case <-time.After(10 * time.Millisecond):
		}
	}

	completed := 0
	for _, k := range events {
		if k == EventUpdateCompleted {
			completed++
		}
	}
	if completed != 1 {
		t.Errorf("expected exactly one completed update, got %d", completed)
	}
}
