package store_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/animgen/internal/store"
	"github.com/kiranshivaraju/animgen/pkg/models"
	"github.com/kiranshivaraju/animgen/pkg/timecode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("animgen_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

func newAnimation(id string, created time.Time) *models.Animation {
	return &models.Animation{
		ID:          id,
		Title:       "Walk cycle",
		Description: "hero walks left to right",
		Duration:    timecode.MustSeconds(30),
		Playhead:    timecode.MustSeconds(1.5),
		Tracks: []models.Track{{
			ID:   "hero",
			Name: "Hero",
			Kind: models.TrackCharacter,
			Keyframes: []models.Keyframe{
				{Time: 0, Value: json.RawMessage(`{"x":0}`)},
				{Time: timecode.MustSeconds(5), Value: json.RawMessage(`{"x":10}`)},
			},
		}},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

// --- Animation Tests ---

func TestAnimation_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	a := newAnimation("anim-1", now)
	require.NoError(t, s.CreateAnimation(ctx, a))

	got, err := s.GetAnimation(ctx, "anim-1")
	require.NoError(t, err)
	assert.Equal(t, "Walk cycle", got.Title)
	assert.Equal(t, timecode.MustSeconds(30), got.Duration)
	assert.Equal(t, timecode.MustSeconds(1.5), got.Playhead)
	require.Len(t, got.Tracks, 1)
	require.Len(t, got.Tracks[0].Keyframes, 2)
	assert.Equal(t, timecode.MustSeconds(5), got.Tracks[0].Keyframes[1].Time)
	assert.JSONEq(t, `{"x":10}`, string(got.Tracks[0].Keyframes[1].Value))
	assert.True(t, now.Equal(got.CreatedAt))
}

func TestAnimation_CreateDuplicate(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, s.CreateAnimation(ctx, newAnimation("dup", now)))
	err := s.CreateAnimation(ctx, newAnimation("dup", now))
	assert.ErrorIs(t, err, store.ErrDuplicateKey)
}

func TestAnimation_GetNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	_, err := s.GetAnimation(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAnimation_UpdateAndDelete(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	now := time.Now().UTC()
	a := newAnimation("anim-2", now)
	require.NoError(t, s.CreateAnimation(ctx, a))

	a.Playhead = timecode.MustSeconds(12)
	a.Tracks = append(a.Tracks, models.Track{ID: "sparks", Kind: models.TrackEffect})
	a.UpdatedAt = now.Add(time.Second)
	require.NoError(t, s.UpdateAnimation(ctx, a))

	got, err := s.GetAnimation(ctx, "anim-2")
	require.NoError(t, err)
	assert.Equal(t, timecode.MustSeconds(12), got.Playhead)
	assert.Len(t, got.Tracks, 2)

	require.NoError(t, s.DeleteAnimation(ctx, "anim-2"))
	_, err = s.GetAnimation(ctx, "anim-2")
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.ErrorIs(t, s.DeleteAnimation(ctx, "anim-2"), store.ErrNotFound)
	assert.ErrorIs(t, s.UpdateAnimation(ctx, a), store.ErrNotFound)
}

func TestAnimation_ListPaginated(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.CreateAnimation(ctx, newAnimation(id, base.Add(time.Duration(i)*time.Minute))))
	}

	page, total, err := s.ListAnimations(ctx, store.AnimationFilter{Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 2)
	assert.Equal(t, "c", page[0].ID)
	assert.Equal(t, "b", page[1].ID)

	page, _, err = s.ListAnimations(ctx, store.AnimationFilter{Page: 2, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "a", page[0].ID)
}

// --- Generation Job Tests ---

func newJob(state models.JobState, updated time.Time) *models.GenerationJob {
	return &models.GenerationJob{
		ID:         uuid.New(),
		TargetKind: models.TargetAnimationRender,
		TargetID:   "anim-1",
		State:      state,
		Request:    models.GenerationRequest{Prompt: "a dancing robot"},
		CreatedAt:  updated,
		UpdatedAt:  updated,
	}
}

func TestJob_SaveAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	j := newJob(models.JobQueued, now)
	require.NoError(t, s.SaveJob(ctx, j))

	j.State = models.JobProcessing
	j.Progress = 0.5
	require.NoError(t, s.SaveJob(ctx, j))

	got, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobProcessing, got.State)
	assert.InDelta(t, 0.5, got.Progress, 1e-9)
	assert.Equal(t, "a dancing robot", got.Request.Prompt)
	assert.Nil(t, got.Result)
	assert.Nil(t, got.FailureReason)
}

func TestJob_TerminalSnapshotIsNotOverwritten(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	now := time.Now().UTC()
	j := newJob(models.JobCompleted, now)
	j.Progress = 1
	j.Result = &models.GenerationResult{Generator: "procedural"}
	require.NoError(t, s.SaveJob(ctx, j))

	stale := *j
	stale.State = models.JobProcessing
	stale.Progress = 0.3
	stale.Result = nil
	require.NoError(t, s.SaveJob(ctx, &stale))

	got, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, got.State)
	assert.InDelta(t, 1.0, got.Progress, 1e-9)
	require.NotNil(t, got.Result)
	assert.Equal(t, "procedural", got.Result.Generator)
}

func TestJob_GetNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	_, err := s.GetJob(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestJob_PurgeOnlyOldTerminal(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	old := time.Now().UTC().Add(-2 * time.Hour)
	reason := "generation timed out"
	failed := newJob(models.JobFailed, old)
	failed.FailureReason = &reason
	running := newJob(models.JobProcessing, old)
	fresh := newJob(models.JobCancelled, time.Now().UTC())
	for _, j := range []*models.GenerationJob{failed, running, fresh} {
		require.NoError(t, s.SaveJob(ctx, j))
	}

	n, err := s.PurgeJobs(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.GetJob(ctx, failed.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetJob(ctx, running.ID)
	assert.NoError(t, err)
	_, err = s.GetJob(ctx, fresh.ID)
	assert.NoError(t, err)
}

func TestFilter_Normalize(t *testing.T) {
	f := store.AnimationFilter{}.Normalize()
	assert.Equal(t, 1, f.Page)
	assert.Equal(t, 20, f.Limit)

	f = store.AnimationFilter{Page: 3, Limit: 500}.Normalize()
	assert.Equal(t, 3, f.Page)
	assert.Equal(t, 100, f.Limit)
}
