package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/animgen/pkg/models"
	"github.com/kiranshivaraju/animgen/pkg/timecode"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Animations ---

const animationColumns = `id, title, description, duration_us, playhead_us, tracks, created_at, updated_at`

func (s *PostgresStore) CreateAnimation(ctx context.Context, a *models.Animation) error {
	tracks, err := marshalTracks(a.Tracks)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO animations (`+animationColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.Title, a.Description, int64(a.Duration), int64(a.Playhead), tracks, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create animation: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAnimation(ctx context.Context, id string) (*models.Animation, error) {
	a, err := scanAnimation(s.pool.QueryRow(ctx,
		`SELECT `+animationColumns+` FROM animations WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get animation: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) UpdateAnimation(ctx context.Context, a *models.Animation) error {
	tracks, err := marshalTracks(a.Tracks)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE animations
		 SET title = $2, description = $3, duration_us = $4, playhead_us = $5, tracks = $6, updated_at = $7
		 WHERE id = $1`,
		a.ID, a.Title, a.Description, int64(a.Duration), int64(a.Playhead), tracks, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update animation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteAnimation(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM animations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete animation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListAnimations(ctx context.Context, filter AnimationFilter) ([]*models.Animation, int, error) {
	filter = filter.Normalize()

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM animations`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count animations: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+animationColumns+` FROM animations ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`,
		filter.Limit, (filter.Page-1)*filter.Limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list animations: %w", err)
	}
	defer rows.Close()

	var out []*models.Animation
	for rows.Next() {
		a, err := scanAnimation(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan animation: %w", err)
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}

func scanAnimation(row pgx.Row) (*models.Animation, error) {
	var (
		a                  models.Animation
		duration, playhead int64
		tracks             []byte
	)
	if err := row.Scan(&a.ID, &a.Title, &a.Description, &duration, &playhead, &tracks,
		&a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Duration = timecode.Tick(duration)
	a.Playhead = timecode.Tick(playhead)
	if err := json.Unmarshal(tracks, &a.Tracks); err != nil {
		return nil, fmt.Errorf("decode tracks: %w", err)
	}
	return &a, nil
}

func marshalTracks(tracks []models.Track) ([]byte, error) {
	if tracks == nil {
		tracks = []models.Track{}
	}
	b, err := json.Marshal(tracks)
	if err != nil {
		return nil, fmt.Errorf("encode tracks: %w", err)
	}
	return b, nil
}

// --- Generation Jobs ---

// SaveJob upserts a job snapshot. A stored terminal snapshot is never overwritten.
func (s *PostgresStore) SaveJob(ctx context.Context, job *models.GenerationJob) error {
	req, err := json.Marshal(job.Request)
	if err != nil {
		return fmt.Errorf("encode job request: %w", err)
	}
	var result []byte
	if job.Result != nil {
		if result, err = json.Marshal(job.Result); err != nil {
			return fmt.Errorf("encode job result: %w", err)
		}
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO generation_jobs (id, target_kind, target_id, state, progress, request, result, failure_reason, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
		   state = EXCLUDED.state,
		   progress = GREATEST(generation_jobs.progress, EXCLUDED.progress),
		   result = EXCLUDED.result,
		   failure_reason = EXCLUDED.failure_reason,
		   updated_at = EXCLUDED.updated_at
		 WHERE generation_jobs.state NOT IN ('completed', 'failed', 'cancelled')`,
		job.ID, string(job.TargetKind), job.TargetID, string(job.State), job.Progress,
		req, result, job.FailureReason, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.GenerationJob, error) {
	var (
		j                  models.GenerationJob
		kind, state        string
		req, result        []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, target_kind, target_id, state, progress, request, result, failure_reason, created_at, updated_at
		 FROM generation_jobs WHERE id = $1`, id,
	).Scan(&j.ID, &kind, &j.TargetID, &state, &j.Progress, &req, &result, &j.FailureReason,
		&j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	j.TargetKind = models.TargetKind(kind)
	j.State = models.JobState(state)
	if err := json.Unmarshal(req, &j.Request); err != nil {
		return nil, fmt.Errorf("decode job request: %w", err)
	}
	if len(result) > 0 {
		j.Result = &models.GenerationResult{}
		if err := json.Unmarshal(result, j.Result); err != nil {
			return nil, fmt.Errorf("decode job result: %w", err)
		}
	}
	return &j, nil
}

// PurgeJobs deletes terminal jobs last updated before the cutoff.
func (s *PostgresStore) PurgeJobs(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM generation_jobs
		 WHERE state IN ('completed', 'failed', 'cancelled') AND updated_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("purge jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
