package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/animgen/internal/api/response"
	"github.com/kiranshivaraju/animgen/internal/orchestrator"
	"github.com/kiranshivaraju/animgen/pkg/models"
	"github.com/kiranshivaraju/animgen/pkg/timecode"
)

const (
	defaultWait = 30 * time.Second
	maxWait     = 120 * time.Second
)

// Jobs is the job surface of the orchestrator. *orchestrator.Orchestrator satisfies it.
type Jobs interface {
	Submit(ctx context.Context, kind models.TargetKind, targetID string, req models.GenerationRequest) (uuid.UUID, error)
	GetStatus(ctx context.Context, id uuid.UUID) (models.GenerationJob, error)
	Cancel(ctx context.Context, id uuid.UUID) (models.GenerationJob, error)
	AwaitTerminal(ctx context.Context, id uuid.UUID, timeout time.Duration) (models.GenerationJob, error)
	TargetStatus(ctx context.Context, kind models.TargetKind, targetID string) (models.GenerationJob, error)
}

type submitResponse struct {
	JobID uuid.UUID       `json:"job_id"`
	State models.JobState `json:"state"`
}

// NewRenderHandler returns an http.HandlerFunc for POST /api/v1/animations/{id}/render.
func NewRenderHandler(jobs Jobs) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Prompt   string  `json:"prompt"`
			Style    string  `json:"style"`
			Duration float64 `json:"duration"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		genReq := models.GenerationRequest{Prompt: req.Prompt, Style: req.Style}
		if req.Duration != 0 {
			d, err := timecode.FromSeconds(req.Duration)
			if err != nil {
				response.FromError(w, models.Invalid("duration", err.Error()))
				return
			}
			genReq.Duration = d
		}

		submit(w, r, jobs, models.TargetAnimationRender, chi.URLParam(r, "id"), genReq)
	}
}

// NewCharacterHandler returns an http.HandlerFunc for POST /api/v1/characters.
// A missing target_id is replaced with a fresh identifier.
func NewCharacterHandler(jobs Jobs) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			TargetID   string            `json:"target_id"`
			Prompt     string            `json:"prompt"`
			Style      string            `json:"style"`
			Attributes map[string]string `json:"attributes"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.TargetID == "" {
			req.TargetID = uuid.NewString()
		}

		submit(w, r, jobs, models.TargetCharacter, req.TargetID, models.GenerationRequest{
			Prompt:     req.Prompt,
			Style:      req.Style,
			Attributes: req.Attributes,
		})
	}
}

func submit(w http.ResponseWriter, r *http.Request, jobs Jobs, kind models.TargetKind, targetID string, req models.GenerationRequest) {
	id, err := jobs.Submit(r.Context(), kind, targetID, req)
	if err != nil {
		writeJobError(w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/jobs/"+id.String())
	response.Accepted(w, submitResponse{JobID: id, State: models.JobQueued})
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
func NewGetJobHandler(jobs Jobs) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobID(w, r)
		if !ok {
			return
		}
		snap, err := jobs.GetStatus(r.Context(), id)
		if err != nil {
			writeJobError(w, err)
			return
		}
		response.JSON(w, snap)
	}
}

// NewRenderStatusHandler returns an http.HandlerFunc for
// GET /api/v1/animations/{id}/status: the latest render job of the animation.
func NewRenderStatusHandler(jobs Jobs) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := jobs.TargetStatus(r.Context(), models.TargetAnimationRender, chi.URLParam(r, "id"))
		if err != nil {
			writeJobError(w, err)
			return
		}
		response.JSON(w, snap)
	}
}

// NewCancelJobHandler returns an http.HandlerFunc for DELETE /api/v1/jobs/{jobID}.
func NewCancelJobHandler(jobs Jobs) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobID(w, r)
		if !ok {
			return
		}
		snap, err := jobs.Cancel(r.Context(), id)
		if err != nil {
			writeJobError(w, err)
			return
		}
		response.JSON(w, snap)
	}
}

// NewWaitJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}/wait.
// timeout is in seconds, defaults to 30 and is capped at 120. When the job is
// still running at the deadline the response is 408 with the latest snapshot
// in details.
func NewWaitJobHandler(jobs Jobs) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobID(w, r)
		if !ok {
			return
		}
		timeout := defaultWait
		if v := r.URL.Query().Get("timeout"); v != "" {
			secs, err := strconv.ParseFloat(v, 64)
			if err != nil || secs < 0 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "timeout must be a non-negative number of seconds", nil)
				return
			}
			timeout = min(time.Duration(secs*float64(time.Second)), maxWait)
		}

		snap, err := jobs.AwaitTerminal(r.Context(), id, timeout)
		if errors.Is(err, models.ErrTimeout) {
			response.Error(w, http.StatusRequestTimeout, "TIMEOUT", err.Error(), snap)
			return
		}
		if err != nil {
			writeJobError(w, err)
			return
		}
		response.JSON(w, snap)
	}
}

func jobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "jobID must be a UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}

func writeJobError(w http.ResponseWriter, err error) {
	if errors.Is(err, orchestrator.ErrClosed) {
		response.Error(w, http.StatusServiceUnavailable, "SHUTTING_DOWN", "The server is shutting down", nil)
		return
	}
	response.FromError(w, err)
}
