// Package status makes job snapshots externally observable without ever
// blocking the workers that produce them.
//
// Publish only records the latest snapshot per job; a single writer goroutine
// mirrors pending snapshots to the cache (for fast reads after eviction) and
// to the store (for the retention period). Intermediate progress snapshots
// may be coalesced away; the last snapshot of every job is always written.
package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/animgen/internal/store"
	"github.com/kiranshivaraju/animgen/pkg/models"
)

const retryInterval = time.Second

// Cache is the subset of cache.Cache the reporter mirrors snapshots into.
type Cache interface {
	SetJob(ctx context.Context, job *models.GenerationJob, ttl time.Duration) error
	GetJob(ctx context.Context, jobID uuid.UUID) (*models.GenerationJob, bool, error)
}

// Store is the subset of store.Store holding job records.
type Store interface {
	SaveJob(ctx context.Context, job *models.GenerationJob) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.GenerationJob, error)
	PurgeJobs(ctx context.Context, before time.Time) (int64, error)
}

// Reporter buffers job snapshots and writes them out asynchronously.
type Reporter struct {
	cache     Cache
	store     Store
	retention time.Duration

	mu      sync.Mutex
	pending map[uuid.UUID]models.GenerationJob
	signal  chan struct{}

	flushMu sync.Mutex
}

// NewReporter creates a Reporter. Cached snapshots expire after retention.
func NewReporter(c Cache, s Store, retention time.Duration) *Reporter {
	return &Reporter{
		cache:     c,
		store:     s,
		retention: retention,
		pending:   make(map[uuid.UUID]models.GenerationJob),
		signal:    make(chan struct{}, 1),
	}
}

// Publish records snap as the latest state of its job. It never blocks.
func (r *Reporter) Publish(snap models.GenerationJob) {
	r.mu.Lock()
	if prev, ok := r.pending[snap.ID]; !ok || !prev.State.Terminal() {
		r.pending[snap.ID] = snap
	}
	r.mu.Unlock()

	select {
	case r.signal <- struct{}{}:
	default:
	}
}

// Run writes pending snapshots until ctx is done, then flushes what is left
// using a short detached deadline.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := r.Flush(flushCtx); err != nil {
				slog.Error("final status flush failed", "error", err)
			}
			cancel()
			return
		case <-r.signal:
		case <-ticker.C:
		}
		_ = r.Flush(ctx)
	}
}

// Flush writes every pending snapshot. Snapshots that fail to write are
// requeued unless a newer one arrived meanwhile.
func (r *Reporter) Flush(ctx context.Context) error {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	r.mu.Lock()
	batch := r.pending
	r.pending = make(map[uuid.UUID]models.GenerationJob, len(batch))
	r.mu.Unlock()

	var errs []error
	for id, snap := range batch {
		if err := r.write(ctx, &snap); err != nil {
			slog.Warn("writing job status", "job_id", id, "state", snap.State, "error", err)
			errs = append(errs, err)
			r.requeue(snap)
		}
	}
	return errors.Join(errs...)
}

func (r *Reporter) write(ctx context.Context, snap *models.GenerationJob) error {
	if err := r.cache.SetJob(ctx, snap, r.retention); err != nil {
		return fmt.Errorf("caching job: %w", err)
	}
	if err := r.store.SaveJob(ctx, snap); err != nil {
		return fmt.Errorf("saving job: %w", err)
	}
	return nil
}

func (r *Reporter) requeue(snap models.GenerationJob) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, newer := r.pending[snap.ID]; !newer {
		r.pending[snap.ID] = snap
	}
}

// LookupJob finds a job that is no longer held in memory by the
// orchestrator: pending snapshots first, then the cache, then the store.
func (r *Reporter) LookupJob(ctx context.Context, id uuid.UUID) (*models.GenerationJob, error) {
	r.mu.Lock()
	snap, ok := r.pending[id]
	r.mu.Unlock()
	if ok {
		return &snap, nil
	}

	if job, found, err := r.cache.GetJob(ctx, id); err != nil {
		slog.Warn("reading job from cache", "job_id", id, "error", err)
	} else if found {
		return job, nil
	}

	job, err := r.store.GetJob(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("job %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading job: %w", err)
	}
	return job, nil
}

// PurgeJobs deletes terminal job records last updated before the cutoff.
func (r *Reporter) PurgeJobs(ctx context.Context, before time.Time) (int64, error) {
	return r.store.PurgeJobs(ctx, before)
}
