// Package scheduler implements the Update Scheduler (spec §4.E): a state
// machine that debounces, coalesces, and serialises content fetches behind
// a single-writer command loop, grounded on the teacher's
// PipelineRegistry/Broadcaster locking discipline and its engine.go
// run-state transitions.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/open-resource-discovery/provider-server/internal/apperr"
	"github.com/open-resource-discovery/provider-server/internal/fetcher"
	"github.com/open-resource-discovery/provider-server/internal/snapshot"
)

// State is one of the four scheduler states of spec §4.E.
type State string

const (
	StateIdle       State = "idle"
	StateScheduled  State = "scheduled"
	StateInProgress State = "in_progress"
	StateFailed     State = "failed"
)

// Warmer is signalled after a successful update so the Document Processor
// can start warming caches for the new fingerprint off the request path.
type Warmer interface {
	Warm(ctx context.Context)
}

// Status is a point-in-time copy of scheduler state, taken under a read
// lock, for
// internal/gateway's StatusResponse.
type Status struct {
	State            State
	LastUpdateTime   time.Time
	LastError        string
	FailedCommitHash string
	FailedCount      int
	ScheduledTime    time.Time
	CurrentRunID     string
}

type command struct {
	kind   string // "schedule", "forceUpdate", "scheduleImmediate", "checkForUpdates", "stop"
	delay  time.Duration
	result chan error
}

// Scheduler serialises snapshot updates through a single background
// goroutine; all public methods are safe to call from any goroutine.
type Scheduler struct {
	snapshotMgr *snapshot.Manager
	fetcher     fetcher.ContentFetcher
	warmer      Warmer
	updateDelay time.Duration
	logger      *slog.Logger
	emitter     *emitter

	mu               sync.RWMutex
	state            State
	lastUpdateTime   time.Time
	lastError        string
	failedCommitHash string
	failedCount      int
	scheduledTime    time.Time
	lastWebhookTime  time.Time
	currentRunID     string

	cmdCh  chan command
	stopCh chan struct{}
	wg     sync.WaitGroup

	fetchCancel context.CancelFunc
}

// New constructs a Scheduler. Run must be called once to start its
// single-writer loop.
func New(snapshotMgr *snapshot.Manager, f fetcher.ContentFetcher, warmer Warmer, updateDelay time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		snapshotMgr: snapshotMgr,
		fetcher:     f,
		warmer:      warmer,
		updateDelay: updateDelay,
		logger:      logger,
		emitter:     newEmitter(),
		state:       StateIdle,
		cmdCh:       make(chan command, 8),
		stopCh:      make(chan struct{}),
	}
}

// Subscribe registers fn to receive every scheduler lifecycle event.
func (s *Scheduler) Subscribe(fn func(Event)) (unsubscribe func()) {
	return s.emitter.Subscribe(fn)
}

// Run starts the single-writer command loop; it returns once Stop is
// called or ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.wg.Add(1)
	defer s.wg.Done()

	var timer *time.Timer
	var timerCh <-chan time.Time

	armTimer := func(d time.Duration) {
		if timer != nil {
			timer.Stop()
		}
		timer = time.NewTimer(d)
		timerCh = timer.C
		s.setState(StateScheduled)
		s.mu.Lock()
		s.scheduledTime = time.Now().Add(d)
		s.mu.Unlock()
		s.emitter.emit(Event{Kind: EventUpdateScheduled, Data: map[string]any{"scheduledTime": s.scheduledTime}})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-timerCh:
			timerCh = nil
			s.runUpdate(ctx)
		case cmd := <-s.cmdCh:
			switch cmd.kind {
			case "stop":
				return
			case "schedule":
				if s.State() == StateInProgress {
					s.fetcher.AbortFetch()
				}
				armTimer(cmd.delay)
			case "forceUpdate":
				if timer != nil {
					timer.Stop()
					timerCh = nil
				}
				if s.State() == StateInProgress {
					cmd.result <- apperr.AlreadyInProgress("an update is already in progress")
					continue
				}
				cmd.result <- s.runUpdate(ctx)
			case "scheduleImmediate":
				s.handleScheduleImmediate(ctx, &timer, &timerCh, armTimer)
			case "checkForUpdates":
				cmd.result <- s.checkForUpdates(ctx)
			}
		}
	}
}

// Stop terminates the command loop.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// State returns the current scheduler state without blocking the writer.
func (s *Scheduler) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Scheduler) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Status returns a consistent point-in-time snapshot of scheduler state.
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		State:            s.state,
		LastUpdateTime:   s.lastUpdateTime,
		LastError:        s.lastError,
		FailedCommitHash: s.failedCommitHash,
		FailedCount:      s.failedCount,
		ScheduledTime:    s.scheduledTime,
		CurrentRunID:     s.currentRunID,
	}
}

// Schedule arms a debounce timer for d (defaulting to the configured
// updateDelay when d is zero). A timer already pending is cancelled and
// rearmed; an in-progress update is aborted so the new timer's fetch does
// not race the old one.
func (s *Scheduler) Schedule(d time.Duration) {
	if d <= 0 {
		d = s.updateDelay
	}
	s.cmdCh <- command{kind: "schedule", delay: d}
}

// ForceUpdate cancels any pending timer and runs an update immediately,
// failing with apperr.KindAlreadyInProgress if one is already running.
func (s *Scheduler) ForceUpdate(ctx context.Context) error {
	// The command loop runs updates itself, so it cannot answer while one
	// is in flight; reject here instead of queueing behind it.
	if s.State() == StateInProgress {
		return apperr.AlreadyInProgress("an update is already in progress")
	}
	result := make(chan error, 1)
	s.cmdCh <- command{kind: "forceUpdate", result: result}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ScheduleImmediate is the webhook-triggered path: enforces a cooldown
// equal to updateDelay since the last webhook-initiated update.
func (s *Scheduler) ScheduleImmediate() {
	s.cmdCh <- command{kind: "scheduleImmediate"}
}

// CheckForUpdates compares the persisted commit hash with the fetcher's
// latest known commit sha and schedules an update when they differ or no
// metadata is persisted. It returns only the error from resolving the
// latest sha.
func (s *Scheduler) CheckForUpdates(ctx context.Context) error {
	result := make(chan error, 1)
	s.cmdCh <- command{kind: "checkForUpdates", result: result}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Initialize loads persisted metadata to restore lastUpdateTime. It is
// synchronous and must be called before Run's goroutine is started from
// concurrent callers, or after Run only via the exported accessors.
func (s *Scheduler) Initialize() {
	meta, ok := s.snapshotMgr.LoadMetadata()
	if !ok {
		return
	}
	s.mu.Lock()
	s.lastUpdateTime = meta.FetchTime
	s.mu.Unlock()
}

func (s *Scheduler) handleScheduleImmediate(ctx context.Context, timer **time.Timer, timerCh *<-chan time.Time, armTimer func(time.Duration)) {
	s.mu.RLock()
	since := time.Since(s.lastWebhookTime)
	cooling := since < s.updateDelay
	s.mu.RUnlock()

	if s.State() == StateInProgress {
		s.fetcher.AbortFetch()
		attempt := s.failedCountSnapshot() + 1
		settle := delayForAttempt(attempt, defaultSettleBackoff(), s.lastError)
		armTimer(settle)
		s.markWebhookTriggered()
		return
	}

	if cooling {
		remaining := s.updateDelay - since
		armTimer(remaining)
		s.markWebhookTriggered()
		return
	}

	s.markWebhookTriggered()
	if *timer != nil {
		(*timer).Stop()
		*timerCh = nil
	}
	s.runUpdate(ctx)
}

func (s *Scheduler) markWebhookTriggered() {
	s.mu.Lock()
	s.lastWebhookTime = time.Now()
	s.mu.Unlock()
}

func (s *Scheduler) failedCountSnapshot() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.failedCount
}

func (s *Scheduler) checkForUpdates(ctx context.Context) error {
	meta, ok := s.snapshotMgr.LoadMetadata()
	if !ok {
		s.Schedule(0)
		return nil
	}
	latest, err := s.fetcher.GetLatestCommitSha(ctx)
	if err != nil {
		return err
	}
	if latest != meta.CommitHash {
		s.Schedule(0)
	}
	return nil
}

// runUpdate executes the eight-step update algorithm of spec §4.E.
func (s *Scheduler) runUpdate(ctx context.Context) error {
	runID := ulid.Make().String()
	s.mu.Lock()
	s.currentRunID = runID
	s.mu.Unlock()

	s.setState(StateInProgress)
	s.emitter.emit(Event{Kind: EventUpdateStarted, RunID: runID})

	fetchCtx, cancel := context.WithCancel(ctx)
	s.fetchCancel = cancel
	defer func() { s.fetchCancel = nil }()

	staging, err := s.snapshotMgr.StagingDirectory()
	if err != nil {
		return s.fail(runID, err, "")
	}

	meta, err := s.fetcher.FetchAllContent(fetchCtx, staging, func(p fetcher.Progress) {
		s.emitter.emit(Event{Kind: EventUpdateProgress, RunID: runID, Data: map[string]any{
			"totalFiles":   p.TotalFiles,
			"fetchedFiles": p.FetchedFiles,
			"currentFile":  p.CurrentFile,
		}})
	})
	if err != nil {
		return s.fail(runID, err, "")
	}

	if !s.snapshotMgr.Validate(staging) {
		return s.fail(runID, apperr.ContentInvalid("staging directory missing documents subdirectory"), meta.CommitHash)
	}

	if err := s.snapshotMgr.Swap(staging); err != nil {
		return s.fail(runID, err, meta.CommitHash)
	}

	s.snapshotMgr.SaveMetadata(meta)
	s.mu.Lock()
	s.lastUpdateTime = meta.FetchTime
	s.failedCount = 0
	s.lastError = ""
	s.failedCommitHash = ""
	s.mu.Unlock()

	if s.warmer != nil {
		s.warmer.Warm(ctx)
	}

	s.setState(StateIdle)
	s.emitter.emit(Event{Kind: EventUpdateCompleted, RunID: runID, Data: map[string]any{"commitHash": meta.CommitHash}})
	return nil
}

// fail records failure state per spec §4.E's "On any failure between 2 and
// 7" paragraph. A Cancelled error (user-initiated supersede) does not
// increment failedCount.
func (s *Scheduler) fail(runID string, err error, commitHash string) error {
	s.snapshotMgr.CleanupStaging()

	if apperr.KindOf(err) != apperr.KindCancelled {
		s.mu.Lock()
		s.failedCount++
		s.lastError = err.Error()
		if commitHash != "" {
			s.failedCommitHash = commitHash
		}
		s.mu.Unlock()
		s.setState(StateFailed)
	} else {
		s.setState(StateIdle)
	}

	s.emitter.emit(Event{Kind: EventUpdateFailed, RunID: runID, Data: map[string]any{"error": err.Error()}})
	return err
}
