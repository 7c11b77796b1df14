// Package orchestrator owns the job table. It accepts generation requests,
// enforces at most one active job per target, runs jobs on a bounded pool of
// workers and merges finished renders into their animation's timeline.
//
// Lock order is job before orchestrator: job observers take the orchestrator
// lock, so the orchestrator never calls into a job while holding its own.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/animgen/internal/job"
	"github.com/kiranshivaraju/animgen/internal/timeline"
	"github.com/kiranshivaraju/animgen/pkg/models"
	"golang.org/x/sync/semaphore"
)

var (
	ErrNotFound          = models.ErrNotFound
	ErrConflict          = models.ErrConflict
	ErrTimeout           = models.ErrTimeout
	ErrInvalidTransition = models.ErrInvalidTransition
	ErrClosed            = errors.New("orchestrator is shut down")
)

const (
	timedOutReason = "generation timed out"
	commitTimeout  = 30 * time.Second
)

// Timelines resolves live animation timelines. *timeline.Registry satisfies it.
type Timelines interface {
	Get(ctx context.Context, id string) (*timeline.Timeline, error)
	// Commit runs fn on the live timeline and persists it, serialized with
	// other edits of the same animation.
	Commit(ctx context.Context, id string, fn func(*timeline.Timeline) error) error
}

// Publisher receives every job snapshot. Publish must not block.
type Publisher interface {
	Publish(models.GenerationJob)
}

// Archive serves jobs that are no longer in memory. *status.Reporter satisfies it.
type Archive interface {
	LookupJob(ctx context.Context, id uuid.UUID) (*models.GenerationJob, error)
	PurgeJobs(ctx context.Context, before time.Time) (int64, error)
}

// Config bounds the worker pool and job lifetimes.
type Config struct {
	Workers    int
	JobTimeout time.Duration
	// Retention is how long terminal jobs stay queryable in memory.
	Retention time.Duration
}

type targetKey struct {
	kind models.TargetKind
	id   string
}

// Stats counts the jobs held in memory.
type Stats struct {
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Retained   int `json:"retained"`
}

// Orchestrator is safe for concurrent use.
type Orchestrator struct {
	gen       models.Generator
	timelines Timelines
	publisher Publisher
	archive   Archive
	cfg       Config
	pool      *semaphore.Weighted

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu       sync.Mutex
	jobs     map[uuid.UUID]*job.Job
	active   map[targetKey]uuid.UUID
	latest   map[targetKey]uuid.UUID
	finished map[uuid.UUID]time.Time
	closed   bool
	now      func() time.Time
}

// New creates an Orchestrator. Workers below one are raised to one.
func New(gen models.Generator, timelines Timelines, publisher Publisher, archive Archive, cfg Config) *Orchestrator {
	cfg.Workers = max(cfg.Workers, 1)
	ctx, stop := context.WithCancel(context.Background())
	return &Orchestrator{
		gen:       gen,
		timelines: timelines,
		publisher: publisher,
		archive:   archive,
		cfg:       cfg,
		pool:      semaphore.NewWeighted(int64(cfg.Workers)),
		baseCtx:   ctx,
		stop:      stop,
		jobs:      make(map[uuid.UUID]*job.Job),
		active:    make(map[targetKey]uuid.UUID),
		latest:    make(map[targetKey]uuid.UUID),
		finished:  make(map[uuid.UUID]time.Time),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Submit validates req, creates a Queued job for the target and returns its
// id without waiting for a worker. It fails with ErrConflict while another
// job for the same target is Queued or Processing.
func (o *Orchestrator) Submit(ctx context.Context, kind models.TargetKind, targetID string, req models.GenerationRequest) (uuid.UUID, error) {
	if !kind.Valid() {
		return uuid.Nil, models.Invalid("target_kind", "must be one of character, animation_render")
	}
	if strings.TrimSpace(targetID) == "" {
		return uuid.Nil, models.Invalid("target_id", "is required")
	}
	if err := req.Validate(kind); err != nil {
		return uuid.Nil, err
	}
	if kind == models.TargetAnimationRender {
		tl, err := o.timelines.Get(ctx, targetID)
		if err != nil {
			return uuid.Nil, err
		}
		if req.Duration <= 0 {
			req.Duration = tl.Duration()
		}
	}

	key := targetKey{kind: kind, id: targetID}
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return uuid.Nil, ErrClosed
	}
	if existing, busy := o.active[key]; busy {
		o.mu.Unlock()
		return uuid.Nil, fmt.Errorf("target %s %q has active job %s: %w", kind, targetID, existing, ErrConflict)
	}
	j := job.New(o.baseCtx, kind, targetID, req, job.WithObserver(o.observe))
	o.jobs[j.ID()] = j
	o.active[key] = j.ID()
	o.latest[key] = j.ID()
	o.wg.Add(1)
	o.mu.Unlock()

	o.publisher.Publish(j.Snapshot())
	slog.Info("job submitted", "job_id", j.ID(), "target_kind", kind, "target_id", targetID)

	go o.run(j)
	return j.ID(), nil
}

// GetStatus returns the current snapshot of a job.
func (o *Orchestrator) GetStatus(ctx context.Context, id uuid.UUID) (models.GenerationJob, error) {
	if j, ok := o.lookup(id); ok {
		return j.Snapshot(), nil
	}
	snap, err := o.archive.LookupJob(ctx, id)
	if err != nil {
		return models.GenerationJob{}, err
	}
	return *snap, nil
}

// TargetStatus returns the snapshot of the most recently submitted job for a
// target that is still held in memory.
func (o *Orchestrator) TargetStatus(_ context.Context, kind models.TargetKind, targetID string) (models.GenerationJob, error) {
	o.mu.Lock()
	j, ok := o.jobs[o.latest[targetKey{kind: kind, id: targetID}]]
	o.mu.Unlock()
	if !ok {
		return models.GenerationJob{}, fmt.Errorf("no job for %s %q: %w", kind, targetID, ErrNotFound)
	}
	return j.Snapshot(), nil
}

// Cancel moves a Queued or Processing job to Cancelled. The worker running
// it stops at its next progress checkpoint.
func (o *Orchestrator) Cancel(ctx context.Context, id uuid.UUID) (models.GenerationJob, error) {
	j, ok := o.lookup(id)
	if !ok {
		snap, err := o.archive.LookupJob(ctx, id)
		if err != nil {
			return models.GenerationJob{}, err
		}
		if snap.State.Terminal() {
			return *snap, fmt.Errorf("job %s is %s: %w", id, snap.State, ErrInvalidTransition)
		}
		return models.GenerationJob{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err := j.Cancel(); err != nil {
		return j.Snapshot(), err
	}
	slog.Info("job cancel requested", "job_id", id)
	return j.Snapshot(), nil
}

// AwaitTerminal blocks until the job is terminal, timeout elapses or ctx is
// done. On timeout it returns the latest snapshot and ErrTimeout; the job
// itself is unaffected.
func (o *Orchestrator) AwaitTerminal(ctx context.Context, id uuid.UUID, timeout time.Duration) (models.GenerationJob, error) {
	j, ok := o.lookup(id)
	if !ok {
		snap, err := o.archive.LookupJob(ctx, id)
		if err != nil {
			return models.GenerationJob{}, err
		}
		if !snap.State.Terminal() {
			return *snap, fmt.Errorf("job %s: %w", id, ErrTimeout)
		}
		return *snap, nil
	}

	timer := time.NewTimer(max(timeout, 0))
	defer timer.Stop()
	select {
	case <-j.Done():
		return j.Snapshot(), nil
	case <-timer.C:
		select {
		case <-j.Done():
			return j.Snapshot(), nil
		default:
		}
		return j.Snapshot(), fmt.Errorf("job %s still %s after %s: %w", id, j.State(), timeout, ErrTimeout)
	case <-ctx.Done():
		return j.Snapshot(), ctx.Err()
	}
}

// Stats reports how many jobs are held in memory by state.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	jobs := make([]*job.Job, 0, len(o.jobs))
	for _, j := range o.jobs {
		jobs = append(jobs, j)
	}
	o.mu.Unlock()

	var s Stats
	for _, j := range jobs {
		switch j.State() {
		case models.JobQueued:
			s.Queued++
		case models.JobProcessing:
			s.Processing++
		default:
			s.Retained++
		}
	}
	return s
}

// Run evicts expired terminal jobs every interval until ctx is done.
func (o *Orchestrator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.Evict(ctx)
		}
	}
}

// Evict drops terminal jobs that finished more than Retention ago and purges
// their persisted records. It returns the number of jobs dropped from memory.
func (o *Orchestrator) Evict(ctx context.Context) int {
	cutoff := o.now().Add(-o.cfg.Retention)

	o.mu.Lock()
	evicted := 0
	for id, at := range o.finished {
		if at.Before(cutoff) {
			delete(o.finished, id)
			delete(o.jobs, id)
			evicted++
		}
	}
	for key, id := range o.latest {
		if _, ok := o.jobs[id]; !ok {
			delete(o.latest, key)
		}
	}
	o.mu.Unlock()

	purged, err := o.archive.PurgeJobs(ctx, cutoff)
	if err != nil {
		slog.Warn("purging expired jobs", "error", err)
	}
	if evicted > 0 || purged > 0 {
		slog.Info("expired jobs evicted", "evicted", evicted, "purged", purged)
	}
	return evicted
}

// Shutdown stops accepting jobs, cancels every active job and waits for the
// workers to return or ctx to be done.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.stop()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for workers: %w", ctx.Err())
	}
}

func (o *Orchestrator) lookup(id uuid.UUID) (*job.Job, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	j, ok := o.jobs[id]
	return j, ok
}

// observe runs under the job lock on every change.
func (o *Orchestrator) observe(snap models.GenerationJob) {
	o.publisher.Publish(snap)
	if !snap.State.Terminal() {
		return
	}

	o.mu.Lock()
	key := targetKey{kind: snap.TargetKind, id: snap.TargetID}
	if o.active[key] == snap.ID {
		delete(o.active, key)
	}
	o.finished[snap.ID] = o.now()
	o.mu.Unlock()

	attrs := []any{"job_id", snap.ID, "target_kind", snap.TargetKind, "target_id", snap.TargetID, "state", snap.State}
	if snap.FailureReason != nil {
		attrs = append(attrs, "reason", *snap.FailureReason)
	}
	slog.Info("job finished", attrs...)
}

// run waits for a free worker slot, then executes the job. Jobs stay Queued
// while they wait; waiters are served in submission order.
func (o *Orchestrator) run(j *job.Job) {
	defer o.wg.Done()

	if err := o.pool.Acquire(j.Context(), 1); err != nil {
		// cancelled while queued, or shutting down
		_ = j.Cancel()
		return
	}
	defer o.pool.Release(1)

	if err := j.Dispatch(); err != nil {
		slog.Debug("job not dispatched", "job_id", j.ID(), "error", err)
		return
	}
	o.execute(j)
}

func (o *Orchestrator) execute(j *job.Job) {
	snap := j.Snapshot()
	genCtx, cancel := context.WithTimeout(j.Context(), o.cfg.JobTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in generation", "error", r, "job_id", snap.ID)
			_ = j.Fail(fmt.Sprintf("internal error: %v", r))
		}
	}()

	progress := func(p float64) error {
		if err := genCtx.Err(); err != nil {
			return err
		}
		return j.Progress(p)
	}

	result, err := o.gen.Generate(genCtx, snap.TargetKind, snap.Request, progress)
	if err != nil {
		switch {
		case j.Context().Err() != nil:
			// cancelled by the caller or by shutdown
			if cerr := j.Cancel(); cerr == nil {
				slog.Info("job cancelled during shutdown", "job_id", snap.ID)
			}
		case errors.Is(genCtx.Err(), context.DeadlineExceeded):
			_ = j.Fail(timedOutReason)
		default:
			_ = j.Fail(err.Error())
		}
		return
	}

	if snap.TargetKind != models.TargetAnimationRender {
		if err := j.Complete(result, nil); err != nil {
			slog.Debug("late result discarded", "job_id", snap.ID, "error", err)
		}
		return
	}
	o.completeRender(j, snap.TargetID, result)
}

// completeRender merges the generated tracks into the animation's timeline
// and completes the job. Only the in-memory merge runs under the job lock.
// A failed save is logged; the merged timeline stays live until the next
// save writes it.
func (o *Orchestrator) completeRender(j *job.Job, animationID string, result models.GenerationResult) {
	ctx, cancel := context.WithTimeout(context.Background(), commitTimeout)
	defer cancel()

	err := o.timelines.Commit(ctx, animationID, func(tl *timeline.Timeline) error {
		return j.Complete(result, func(res models.GenerationResult) error {
			return tl.MergeTracks(res.Tracks)
		})
	})
	switch {
	case err == nil:
	case j.State() == models.JobCompleted:
		slog.Error("saving merged timeline", "job_id", j.ID(), "animation_id", animationID, "error", err)
	case errors.Is(err, job.ErrInvalidTransition):
		slog.Debug("late result discarded", "job_id", j.ID(), "error", err)
	case j.State() == models.JobProcessing:
		// the timeline could not be resolved
		_ = j.Fail(fmt.Sprintf("applying result: %v", err))
		slog.Error("applying generation result", "job_id", j.ID(), "error", err)
	default:
		slog.Error("applying generation result", "job_id", j.ID(), "error", err)
	}
}
