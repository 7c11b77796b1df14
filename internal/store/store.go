package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/animgen/pkg/models"
)

var ErrNotFound = models.ErrNotFound
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	CreateAnimation(ctx context.Context, a *models.Animation) error
	GetAnimation(ctx context.Context, id string) (*models.Animation, error)
	UpdateAnimation(ctx context.Context, a *models.Animation) error
	DeleteAnimation(ctx context.Context, id string) error
	ListAnimations(ctx context.Context, filter AnimationFilter) ([]*models.Animation, int, error)

	SaveJob(ctx context.Context, job *models.GenerationJob) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.GenerationJob, error)
	PurgeJobs(ctx context.Context, before time.Time) (int64, error)
}

type AnimationFilter struct {
	Page  int
	Limit int
}

// Normalize applies pagination defaults and bounds.
func (f AnimationFilter) Normalize() AnimationFilter {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	return f
}
