package handler

import (
	"context"
	"encoding/json"
	"iter"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/animgen/internal/api/response"
	"github.com/kiranshivaraju/animgen/internal/store"
	"github.com/kiranshivaraju/animgen/internal/timeline"
	"github.com/kiranshivaraju/animgen/pkg/models"
	"gopkg.in/yaml.v3"
)

// Animations is the animation authoring surface. *timeline.Registry satisfies it.
type Animations interface {
	Create(ctx context.Context, p timeline.CreateParams) (*timeline.Timeline, error)
	Get(ctx context.Context, id string) (*timeline.Timeline, error)
	Update(ctx context.Context, id string, p timeline.UpdateParams) (*timeline.Timeline, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter store.AnimationFilter) ([]*models.Animation, int, error)
	SetPlayhead(ctx context.Context, animationID string, seconds float64) error
	AddTrack(ctx context.Context, animationID string, track models.Track) error
	RemoveTrack(ctx context.Context, animationID, trackID string) error
	UpsertKeyframe(ctx context.Context, animationID, trackID string, seconds float64, value json.RawMessage) error
	RemoveKeyframe(ctx context.Context, animationID, trackID string, seconds float64) error
	ListKeyframes(ctx context.Context, animationID, trackID string, from, to float64) (iter.Seq[models.Keyframe], error)
}

// NewCreateAnimationHandler returns an http.HandlerFunc for POST /api/v1/animations.
func NewCreateAnimationHandler(svc Animations) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Title       string   `json:"title"`
			Description string   `json:"description"`
			Duration    *float64 `json:"duration"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Duration == nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "duration is required", nil)
			return
		}

		tl, err := svc.Create(r.Context(), timeline.CreateParams{
			Title:       req.Title,
			Description: req.Description,
			Duration:    *req.Duration,
		})
		if err != nil {
			response.FromError(w, err)
			return
		}
		response.Created(w, tl.Snapshot())
	}
}

// NewListAnimationsHandler returns an http.HandlerFunc for GET /api/v1/animations.
func NewListAnimationsHandler(svc Animations) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := store.AnimationFilter{}
		if v := q.Get("page"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "page must be an integer", nil)
				return
			}
			filter.Page = n
		}
		if v := q.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be an integer", nil)
				return
			}
			filter.Limit = n
		}
		filter = filter.Normalize()

		items, total, err := svc.List(r.Context(), filter)
		if err != nil {
			response.FromError(w, err)
			return
		}
		if items == nil {
			items = []*models.Animation{}
		}
		response.Collection(w, items, response.PaginationMeta{
			Page:    filter.Page,
			Limit:   filter.Limit,
			Total:   total,
			HasNext: filter.Page*filter.Limit < total,
		})
	}
}

// NewGetAnimationHandler returns an http.HandlerFunc for GET /api/v1/animations/{id}.
func NewGetAnimationHandler(svc Animations) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tl, err := svc.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			response.FromError(w, err)
			return
		}
		response.JSON(w, tl.Snapshot())
	}
}

// NewUpdateAnimationHandler returns an http.HandlerFunc for PUT /api/v1/animations/{id}.
// Omitted fields keep their current value.
func NewUpdateAnimationHandler(svc Animations) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Title       *string `json:"title"`
			Description *string `json:"description"`
		}
		if !decodeBody(w, r, &req) {
			return
		}

		tl, err := svc.Update(r.Context(), chi.URLParam(r, "id"), timeline.UpdateParams{
			Title:       req.Title,
			Description: req.Description,
		})
		if err != nil {
			response.FromError(w, err)
			return
		}
		response.JSON(w, tl.Snapshot())
	}
}

// NewDeleteAnimationHandler returns an http.HandlerFunc for DELETE /api/v1/animations/{id}.
func NewDeleteAnimationHandler(svc Animations) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
			response.FromError(w, err)
			return
		}
		response.NoContent(w)
	}
}

// NewExportAnimationHandler returns an http.HandlerFunc for
// GET /api/v1/animations/{id}/export. format is yaml (default) or json.
func NewExportAnimationHandler(svc Animations) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		format := strings.ToLower(r.URL.Query().Get("format"))
		if format == "" {
			format = "yaml"
		}
		if format != "yaml" && format != "json" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "format must be yaml or json", nil)
			return
		}

		tl, err := svc.Get(r.Context(), id)
		if err != nil {
			response.FromError(w, err)
			return
		}
		snap := tl.Snapshot()

		var body []byte
		contentType := "application/json"
		if format == "yaml" {
			contentType = "application/yaml"
			body, err = yaml.Marshal(snap)
		} else {
			body, err = json.MarshalIndent(snap, "", "  ")
		}
		if err != nil {
			response.FromError(w, err)
			return
		}
		response.Attachment(w, contentType, id+"."+format, body)
	}
}

// NewSetPlayheadHandler returns an http.HandlerFunc for PUT /api/v1/animations/{id}/playhead.
func NewSetPlayheadHandler(svc Animations) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Time *float64 `json:"time"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Time == nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "time is required", nil)
			return
		}

		id := chi.URLParam(r, "id")
		if err := svc.SetPlayhead(r.Context(), id, *req.Time); err != nil {
			response.FromError(w, err)
			return
		}
		tl, err := svc.Get(r.Context(), id)
		if err != nil {
			response.FromError(w, err)
			return
		}
		response.JSON(w, map[string]any{"playhead": tl.Playhead(), "duration": tl.Duration()})
	}
}

// NewAddTrackHandler returns an http.HandlerFunc for POST /api/v1/animations/{id}/tracks.
func NewAddTrackHandler(svc Animations) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var track models.Track
		if !decodeBody(w, r, &track) {
			return
		}
		if err := svc.AddTrack(r.Context(), chi.URLParam(r, "id"), track); err != nil {
			response.FromError(w, err)
			return
		}
		if track.Keyframes == nil {
			track.Keyframes = []models.Keyframe{}
		}
		response.Created(w, track)
	}
}

// NewRemoveTrackHandler returns an http.HandlerFunc for
// DELETE /api/v1/animations/{id}/tracks/{trackID}.
func NewRemoveTrackHandler(svc Animations) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.RemoveTrack(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "trackID")); err != nil {
			response.FromError(w, err)
			return
		}
		response.NoContent(w)
	}
}

// NewUpsertKeyframeHandler returns an http.HandlerFunc for
// PUT /api/v1/animations/{id}/tracks/{trackID}/keyframes.
func NewUpsertKeyframeHandler(svc Animations) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Time  *float64        `json:"time"`
			Value json.RawMessage `json:"value"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Time == nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "time is required", nil)
			return
		}
		if len(req.Value) == 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "value is required", nil)
			return
		}

		err := svc.UpsertKeyframe(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "trackID"), *req.Time, req.Value)
		if err != nil {
			response.FromError(w, err)
			return
		}
		response.JSON(w, map[string]any{"time": *req.Time, "value": req.Value})
	}
}

// NewRemoveKeyframeHandler returns an http.HandlerFunc for
// DELETE /api/v1/animations/{id}/tracks/{trackID}/keyframes?time=.
func NewRemoveKeyframeHandler(svc Animations) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("time") == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "time is required", nil)
			return
		}
		at, ok := floatParam(w, r, "time", 0)
		if !ok {
			return
		}
		if err := svc.RemoveKeyframe(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "trackID"), at); err != nil {
			response.FromError(w, err)
			return
		}
		response.NoContent(w)
	}
}

// NewListKeyframesHandler returns an http.HandlerFunc for
// GET /api/v1/animations/{id}/tracks/{trackID}/keyframes?from=&to=.
// The window is [from, to); without to it runs to the end of the track.
func NewListKeyframesHandler(svc Animations) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		from, ok := floatParam(w, r, "from", 0)
		if !ok {
			return
		}
		to, ok := floatParam(w, r, "to", -1)
		if !ok {
			return
		}

		seq, err := svc.ListKeyframes(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "trackID"), from, to)
		if err != nil {
			response.FromError(w, err)
			return
		}
		kfs := slices.Collect(seq)
		if kfs == nil {
			kfs = []models.Keyframe{}
		}
		response.JSON(w, kfs)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
		return false
	}
	return true
}

// floatParam parses an optional query parameter, writing a 400 on failure.
func floatParam(w http.ResponseWriter, r *http.Request, name string, def float64) (float64, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, true
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", name+" must be a number", nil)
		return 0, false
	}
	return f, true
}
