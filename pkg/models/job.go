package models

import (
	"time"

	"github.com/google/uuid"
)

// JobState is the lifecycle state of a generation job.
type JobState string

const (
	JobQueued     JobState = "queued"
	JobProcessing JobState = "processing"
	JobCompleted  JobState = "completed"
	JobFailed     JobState = "failed"
	JobCancelled  JobState = "cancelled"
)

// Terminal reports whether no further transitions are possible from s.
func (s JobState) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	}
	return false
}

// Active reports whether s holds its target's generation slot.
func (s JobState) Active() bool {
	return s == JobQueued || s == JobProcessing
}

// TargetKind is the kind of entity a job generates content for.
type TargetKind string

const (
	TargetCharacter       TargetKind = "character"
	TargetAnimationRender TargetKind = "animation_render"
)

// Valid reports whether k is a known target kind.
func (k TargetKind) Valid() bool {
	return k == TargetCharacter || k == TargetAnimationRender
}

// GenerationJob is a point-in-time snapshot of an asynchronous generation.
// Clients submit a request, receive the job ID, and poll until State is terminal.
type GenerationJob struct {
	ID            uuid.UUID         `db:"id"             json:"id"`
	TargetKind    TargetKind        `db:"target_kind"    json:"target_kind"`
	TargetID      string            `db:"target_id"      json:"target_id"`
	State         JobState          `db:"state"          json:"state"`
	Progress      float64           `db:"progress"       json:"progress"`
	Request       GenerationRequest `db:"request"        json:"request"`
	Result        *GenerationResult `db:"result"         json:"result,omitempty"`
	FailureReason *string           `db:"failure_reason" json:"failure_reason,omitempty"`
	CreatedAt     time.Time         `db:"created_at"     json:"created_at"`
	UpdatedAt     time.Time         `db:"updated_at"     json:"updated_at"`
}
