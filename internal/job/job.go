// Package job implements the lifecycle of one asynchronous generation.
//
//	Queued --Dispatch--> Processing
//	Processing --Progress(p)--> Processing
//	Processing --Complete--> Completed
//	Processing --Fail--> Failed
//	Queued|Processing --Cancel--> Cancelled
//
// Every transition happens under the job's own lock, so snapshots are never
// torn. Once a job is terminal all further events are rejected with
// ErrInvalidTransition.
package job

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/animgen/pkg/models"
)

var ErrInvalidTransition = models.ErrInvalidTransition

// Observer receives a snapshot after every change. It is called with the job
// lock held and must not call back into the job.
type Observer func(models.GenerationJob)

// Option configures a Job.
type Option func(*Job)

// WithObserver registers fn to receive snapshots.
func WithObserver(fn Observer) Option {
	return func(j *Job) { j.observers = append(j.observers, fn) }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(j *Job) { j.now = now }
}

// Job is a GenerationJob plus the machinery to drive it: a cancellation
// context for the worker and a channel closed on reaching a terminal state.
type Job struct {
	mu        sync.Mutex
	data      models.GenerationJob
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	observers []Observer
	now       func() time.Time
}

// New creates a Queued job. Its context derives from parent.
func New(parent context.Context, kind models.TargetKind, targetID string, req models.GenerationRequest, opts ...Option) *Job {
	j := &Job{
		done: make(chan struct{}),
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(j)
	}
	j.ctx, j.cancel = context.WithCancel(parent)

	now := j.now()
	j.data = models.GenerationJob{
		ID:         uuid.New(),
		TargetKind: kind,
		TargetID:   targetID,
		State:      models.JobQueued,
		Request:    req,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return j
}

// ID returns the job identifier.
func (j *Job) ID() uuid.UUID { return j.data.ID }

// Context is cancelled when the job is cancelled or reaches any terminal state.
func (j *Job) Context() context.Context { return j.ctx }

// Done is closed once the job is terminal.
func (j *Job) Done() <-chan struct{} { return j.done }

// Snapshot returns a consistent copy of the job.
func (j *Job) Snapshot() models.GenerationJob {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.data
}

// State returns the current state.
func (j *Job) State() models.JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.data.State
}

// Dispatch moves a Queued job to Processing.
func (j *Job) Dispatch() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.data.State != models.JobQueued {
		return j.invalid("dispatch")
	}
	j.data.State = models.JobProcessing
	j.changed()
	return nil
}

// Progress records fractional progress. Values are clamped to [0, 1];
// a value lower than the current progress is ignored.
func (j *Job) Progress(p float64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.data.State != models.JobProcessing {
		return j.invalid("progress")
	}
	p = min(max(p, 0), 1)
	if p <= j.data.Progress {
		return nil
	}
	j.data.Progress = p
	j.changed()
	return nil
}

// Complete moves a Processing job to Completed with result. When commit is
// non-nil it runs under the job lock before the transition, so it can never
// race with Cancel; if commit fails the job becomes Failed and the commit
// error is returned.
func (j *Job) Complete(result models.GenerationResult, commit func(models.GenerationResult) error) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.data.State != models.JobProcessing {
		return j.invalid("complete")
	}
	if commit != nil {
		if err := commit(result); err != nil {
			j.finish(models.JobFailed, fmt.Sprintf("applying result: %v", err))
			return err
		}
	}
	j.data.Progress = 1
	j.data.Result = &result
	j.finish(models.JobCompleted, "")
	return nil
}

// Fail moves a Processing job to Failed with reason.
func (j *Job) Fail(reason string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.data.State != models.JobProcessing {
		return j.invalid("fail")
	}
	j.finish(models.JobFailed, reason)
	return nil
}

// Cancel moves a Queued or Processing job to Cancelled and cancels its
// context. The worker notices at its next progress checkpoint.
func (j *Job) Cancel() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.data.State.Active() {
		return j.invalid("cancel")
	}
	j.finish(models.JobCancelled, "")
	return nil
}

// finish must be called with mu held.
func (j *Job) finish(state models.JobState, reason string) {
	j.data.State = state
	if reason != "" {
		j.data.FailureReason = &reason
	}
	j.changed()
	j.cancel()
	close(j.done)
}

// changed must be called with mu held.
func (j *Job) changed() {
	j.data.UpdatedAt = j.now()
	for _, fn := range j.observers {
		fn(j.data)
	}
}

func (j *Job) invalid(event string) error {
	return fmt.Errorf("job %s: %s from %s: %w", j.data.ID, event, j.data.State, ErrInvalidTransition)
}
