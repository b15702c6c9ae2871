package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/open-resource-discovery/provider-server/internal/apperr"
	"github.com/open-resource-discovery/provider-server/internal/snapshot"
)

// CommandError wraps a failed git invocation with its captured output,
// following the teacher's gitutil.CommandError shape.
type CommandError struct {
	Args   []string
	Stdout string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("git %s: %v", strings.Join(e.Args, " "), e.Err)
	if e.Stderr != "" {
		msg += ": " + strings.TrimSpace(e.Stderr)
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

func runGit(ctx context.Context, dir string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	outStr, errStr := stdout.String(), stderr.String()
	if err != nil {
		return outStr, errStr, &CommandError{Args: args, Stdout: outStr, Stderr: errStr, Err: err}
	}
	return outStr, errStr, nil
}

// GitFetcher implements ContentFetcher by shelling out to the git binary,
// grounded directly on the teacher's internal/attractor/gitutil package
// (exec.Command("git", ...), capturing stdout/stderr into a typed error).
type GitFetcher struct {
	RepositoryURL string
	Branch        string
	Repository    string // "owner/repo", recorded into Metadata
	Token         string

	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewGitFetcher constructs a GitFetcher for the given repository/branch.
// repositoryURL is the clone URL (e.g. https://github.com/org/repo.git);
// token, when non-empty, is injected into the URL as basic-auth credentials
// for private repositories.
func NewGitFetcher(repositoryURL, branch, repository, token string, logger *slog.Logger) *GitFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &GitFetcher{
		RepositoryURL: repositoryURL,
		Branch:        branch,
		Repository:    repository,
		Token:         token,
		logger:        logger,
	}
}

func (f *GitFetcher) authenticatedURL() string {
	if f.Token == "" {
		return f.RepositoryURL
	}
	if strings.HasPrefix(f.RepositoryURL, "https://") {
		return "https://x-access-token:" + f.Token + "@" + strings.TrimPrefix(f.RepositoryURL, "https://")
	}
	return f.RepositoryURL
}

// FetchAllContent performs a shallow clone of Branch into targetDir, then
// reports fetch progress by walking the resulting tree (git itself gives
// no fine-grained per-file progress for a shallow clone, so "total" is
// known only after the clone completes; this matches the spec's "lazy
// sequence of progress" contract, which permits a coarse-grained stream).
func (f *GitFetcher) FetchAllContent(ctx context.Context, targetDir string, progress ProgressFunc) (snapshot.Metadata, error) {
	ctx, cancel := context.WithCancel(ctx)
	f.mu.Lock()
	f.cancel = cancel
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.cancel = nil
		f.mu.Unlock()
	}()

	start := time.Now()
	report := func(p Progress) {
		if progress != nil {
			p.StartTime = start
			progress(p)
		}
	}
	report(Progress{CurrentFile: "cloning " + f.Branch})

	if err := os.RemoveAll(targetDir); err != nil {
		return snapshot.Metadata{}, apperr.Internal(err, "clear target dir before clone")
	}

	_, stderr, err := runGit(ctx, "", "clone", "--depth", "1", "--branch", f.Branch, "--single-branch", f.authenticatedURL(), targetDir)
	if err != nil {
		if ctx.Err() != nil {
			return snapshot.Metadata{}, apperr.Cancelled("fetch cancelled")
		}
		return snapshot.Metadata{}, classifyGitError(err, stderr)
	}

	sha, _, err := runGit(ctx, targetDir, "rev-parse", "HEAD")
	if err != nil {
		if ctx.Err() != nil {
			return snapshot.Metadata{}, apperr.Cancelled("fetch cancelled")
		}
		return snapshot.Metadata{}, classifyGitError(err, "")
	}
	sha = strings.TrimSpace(sha)

	if err := os.RemoveAll(filepath.Join(targetDir, ".git")); err != nil {
		f.logger.Warn("failed to remove .git after clone", "error", err)
	}

	total := countFiles(targetDir)
	report(Progress{TotalFiles: total, FetchedFiles: total})

	return snapshot.Metadata{
		CommitHash: sha,
		FetchTime:  time.Now().UTC(),
		Branch:     f.Branch,
		Repository: f.Repository,
		TotalFiles: total,
	}, nil
}

// FetchLatestChanges re-clones from scratch; a shallow clone is already
// close to the minimal transfer a "changes since" fetch would need, and
// re-cloning sidesteps the complexity (and partial-state risk) of an
// incremental git fetch/merge into a directory the server also serves
// from mid-update.
func (f *GitFetcher) FetchLatestChanges(ctx context.Context, targetDir string, since string, progress ProgressFunc) (snapshot.Metadata, error) {
	return f.FetchAllContent(ctx, targetDir, progress)
}

// AbortFetch cancels the in-flight clone, if any.
func (f *GitFetcher) AbortFetch() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		f.cancel()
	}
}

// GetLatestCommitSha resolves the branch HEAD without a full clone, using
// `git ls-remote`.
func (f *GitFetcher) GetLatestCommitSha(ctx context.Context) (string, error) {
	out, stderr, err := runGit(ctx, "", "ls-remote", f.authenticatedURL(), "refs/heads/"+f.Branch)
	if err != nil {
		return "", classifyGitError(err, stderr)
	}
	fields := strings.Fields(out)
	if len(fields) == 0 {
		return "", apperr.FetchNotFound("branch %q not found on %s", f.Branch, f.RepositoryURL)
	}
	return fields[0], nil
}

func classifyGitError(err error, stderr string) error {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "could not resolve host") || strings.Contains(lower, "connection") || strings.Contains(lower, "timed out"):
		return apperr.FetchNetwork(err, "network error fetching content")
	case strings.Contains(lower, "authentication") || strings.Contains(lower, "permission denied") || strings.Contains(lower, "403"):
		return apperr.FetchAuth(err, "authentication error fetching content")
	case strings.Contains(lower, "not found") || strings.Contains(lower, "404") || strings.Contains(lower, "repository") && strings.Contains(lower, "does not exist"):
		return apperr.FetchNotFound("content not found: %v", err)
	default:
		if ctxErr := err; ctxErr != nil && strings.Contains(ctxErr.Error(), "context canceled") {
			return apperr.Cancelled("fetch cancelled")
		}
		return apperr.FetchNetwork(err, "fetch failed")
	}
}

func countFiles(root string) int {
	n := 0
	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			n++
		}
		return nil
	})
	return n
}
