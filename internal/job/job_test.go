package job_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kiranshivaraju/animgen/internal/job"
	"github.com/kiranshivaraju/animgen/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJob(opts ...job.Option) *job.Job {
	return job.New(context.Background(), models.TargetAnimationRender, "42",
		models.GenerationRequest{Prompt: "a dragon flies over a castle"}, opts...)
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestNew_IsQueued(t *testing.T) {
	j := newJob()
	snap := j.Snapshot()

	assert.Equal(t, models.JobQueued, snap.State)
	assert.Equal(t, j.ID(), snap.ID)
	assert.Equal(t, "42", snap.TargetID)
	assert.Zero(t, snap.Progress)
	assert.False(t, isClosed(j.Done()))
	assert.NoError(t, j.Context().Err())
}

func TestLifecycle_Completes(t *testing.T) {
	j := newJob()

	require.NoError(t, j.Dispatch())
	require.NoError(t, j.Progress(0.3))
	require.NoError(t, j.Progress(0.6))

	var committed bool
	err := j.Complete(models.GenerationResult{Generator: "mock"}, func(models.GenerationResult) error {
		committed = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, committed)

	snap := j.Snapshot()
	assert.Equal(t, models.JobCompleted, snap.State)
	assert.Equal(t, 1.0, snap.Progress)
	require.NotNil(t, snap.Result)
	assert.Equal(t, "mock", snap.Result.Generator)
	assert.Nil(t, snap.FailureReason)
	assert.True(t, isClosed(j.Done()))
	assert.ErrorIs(t, j.Context().Err(), context.Canceled)
}

func TestProgress_ClampedAndMonotonic(t *testing.T) {
	var seen []float64
	j := newJob(job.WithObserver(func(s models.GenerationJob) { seen = append(seen, s.Progress) }))
	require.NoError(t, j.Dispatch())

	require.NoError(t, j.Progress(0.5))
	require.NoError(t, j.Progress(0.2))
	assert.Equal(t, 0.5, j.Snapshot().Progress)

	require.NoError(t, j.Progress(7))
	assert.Equal(t, 1.0, j.Snapshot().Progress)

	require.NoError(t, j.Progress(-1))
	assert.Equal(t, 1.0, j.Snapshot().Progress)

	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i], seen[i-1])
	}
}

func TestProgress_RequiresProcessing(t *testing.T) {
	j := newJob()
	assert.ErrorIs(t, j.Progress(0.1), job.ErrInvalidTransition)
}

func TestCancel_FromQueued(t *testing.T) {
	j := newJob()

	require.NoError(t, j.Cancel())
	assert.Equal(t, models.JobCancelled, j.State())
	assert.True(t, isClosed(j.Done()))
	assert.ErrorIs(t, j.Dispatch(), job.ErrInvalidTransition)
}

func TestCancel_DiscardsLateWorkerEvents(t *testing.T) {
	j := newJob()
	require.NoError(t, j.Dispatch())
	require.NoError(t, j.Progress(0.4))

	require.NoError(t, j.Cancel())
	assert.ErrorIs(t, j.Context().Err(), context.Canceled)

	assert.ErrorIs(t, j.Progress(0.9), job.ErrInvalidTransition)
	committed := false
	err := j.Complete(models.GenerationResult{}, func(models.GenerationResult) error {
		committed = true
		return nil
	})
	assert.ErrorIs(t, err, job.ErrInvalidTransition)
	assert.False(t, committed)
	assert.ErrorIs(t, j.Fail("late"), job.ErrInvalidTransition)

	snap := j.Snapshot()
	assert.Equal(t, models.JobCancelled, snap.State)
	assert.Equal(t, 0.4, snap.Progress)
	assert.Nil(t, snap.Result)
}

func TestFail_RecordsReason(t *testing.T) {
	j := newJob()
	assert.ErrorIs(t, j.Fail("too early"), job.ErrInvalidTransition)

	require.NoError(t, j.Dispatch())
	require.NoError(t, j.Fail("generator unavailable"))

	snap := j.Snapshot()
	assert.Equal(t, models.JobFailed, snap.State)
	require.NotNil(t, snap.FailureReason)
	assert.Equal(t, "generator unavailable", *snap.FailureReason)
	assert.ErrorIs(t, j.Cancel(), job.ErrInvalidTransition)
}

func TestComplete_CommitFailureFailsJob(t *testing.T) {
	j := newJob()
	require.NoError(t, j.Dispatch())

	boom := errors.New("animation deleted")
	err := j.Complete(models.GenerationResult{}, func(models.GenerationResult) error { return boom })
	assert.ErrorIs(t, err, boom)

	snap := j.Snapshot()
	assert.Equal(t, models.JobFailed, snap.State)
	require.NotNil(t, snap.FailureReason)
	assert.Contains(t, *snap.FailureReason, "animation deleted")
	assert.Nil(t, snap.Result)
}

func TestTerminalTransitionsRejected(t *testing.T) {
	j := newJob()
	require.NoError(t, j.Dispatch())
	require.NoError(t, j.Complete(models.GenerationResult{}, nil))

	assert.ErrorIs(t, j.Dispatch(), job.ErrInvalidTransition)
	assert.ErrorIs(t, j.Cancel(), job.ErrInvalidTransition)
	assert.ErrorIs(t, j.Fail("x"), job.ErrInvalidTransition)
	assert.ErrorIs(t, j.Complete(models.GenerationResult{}, nil), job.ErrInvalidTransition)
}

func TestObserver_SeesEveryTransition(t *testing.T) {
	var states []models.JobState
	j := newJob(job.WithObserver(func(s models.GenerationJob) { states = append(states, s.State) }))

	require.NoError(t, j.Dispatch())
	require.NoError(t, j.Progress(0.5))
	require.NoError(t, j.Complete(models.GenerationResult{}, nil))

	assert.Equal(t, []models.JobState{models.JobProcessing, models.JobProcessing, models.JobCompleted}, states)
}

func TestCancelRacesComplete(t *testing.T) {
	for range 50 {
		j := newJob()
		require.NoError(t, j.Dispatch())

		var wg sync.WaitGroup
		var cancelErr, completeErr error
		wg.Add(2)
		go func() { defer wg.Done(); cancelErr = j.Cancel() }()
		go func() { defer wg.Done(); completeErr = j.Complete(models.GenerationResult{}, nil) }()
		wg.Wait()

		// exactly one wins
		assert.True(t, (cancelErr == nil) != (completeErr == nil))
		assert.True(t, j.State().Terminal())
	}
}

func TestTimestamps_FollowClock(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := start
	j := newJob(job.WithClock(func() time.Time { return now }))

	snap := j.Snapshot()
	assert.Equal(t, start, snap.CreatedAt)
	assert.Equal(t, start, snap.UpdatedAt)

	now = start.Add(5 * time.Second)
	require.NoError(t, j.Dispatch())

	snap = j.Snapshot()
	assert.Equal(t, start, snap.CreatedAt)
	assert.Equal(t, now, snap.UpdatedAt)
}
