package timeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/animgen/internal/store"
	"github.com/kiranshivaraju/animgen/pkg/models"
	"github.com/kiranshivaraju/animgen/pkg/timecode"
)

const defaultTitle = "Untitled Animation"

// AnimationStore is the persistence the Registry needs. store.Store satisfies it.
type AnimationStore interface {
	CreateAnimation(ctx context.Context, a *models.Animation) error
	GetAnimation(ctx context.Context, id string) (*models.Animation, error)
	UpdateAnimation(ctx context.Context, a *models.Animation) error
	DeleteAnimation(ctx context.Context, id string) error
	ListAnimations(ctx context.Context, filter store.AnimationFilter) ([]*models.Animation, int, error)
}

// CreateParams holds validated input for a new animation.
type CreateParams struct {
	Title       string
	Description string
	Duration    float64
}

// UpdateParams holds the editable details of an animation. Nil fields are
// left unchanged.
type UpdateParams struct {
	Title       *string
	Description *string
}

// Registry keeps exactly one live Timeline per animation and persists
// timelines through the store after every edit.
type Registry struct {
	store AnimationStore

	mu   sync.Mutex
	live map[string]*Timeline
	// deletes counts Delete calls so a load racing a delete is retried.
	deletes uint64
}

// NewRegistry creates a Registry backed by st.
func NewRegistry(st AnimationStore) *Registry {
	return &Registry{store: st, live: make(map[string]*Timeline)}
}

// Create authors a new, empty animation and makes its Timeline live.
func (r *Registry) Create(ctx context.Context, p CreateParams) (*Timeline, error) {
	dur, err := timecode.FromSeconds(p.Duration)
	if err != nil {
		return nil, models.Invalid("duration", err.Error())
	}
	title := strings.TrimSpace(p.Title)
	if title == "" {
		title = defaultTitle
	}

	now := time.Now().UTC()
	tl, err := New(models.Animation{
		ID:          uuid.NewString(),
		Title:       title,
		Description: p.Description,
		Duration:    dur,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return nil, err
	}

	snap := tl.Snapshot()
	if err := r.store.CreateAnimation(ctx, &snap); err != nil {
		return nil, fmt.Errorf("creating animation: %w", err)
	}

	r.mu.Lock()
	r.live[tl.animationID] = tl
	r.mu.Unlock()
	return tl, nil
}

// Get returns the live Timeline for id, loading it from the store on first use.
func (r *Registry) Get(ctx context.Context, id string) (*Timeline, error) {
	for {
		r.mu.Lock()
		if tl, ok := r.live[id]; ok {
			r.mu.Unlock()
			return tl, nil
		}
		deletes := r.deletes
		r.mu.Unlock()

		loaded, err := r.load(ctx, id)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		if tl, ok := r.live[id]; ok {
			r.mu.Unlock()
			return tl, nil
		}
		if r.deletes != deletes {
			r.mu.Unlock()
			continue
		}
		r.live[id] = loaded
		r.mu.Unlock()
		return loaded, nil
	}
}

func (r *Registry) load(ctx context.Context, id string) (*Timeline, error) {
	a, err := r.store.GetAnimation(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("animation %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading animation: %w", err)
	}
	tl, err := New(*a)
	if err != nil {
		return nil, fmt.Errorf("loading animation %q: %w", id, err)
	}
	return tl, nil
}

// Commit runs fn on the live Timeline of id and persists the result. Edits
// to the same animation wait for it. A failed save keeps the changes made by
// fn live; the next successful save writes them.
func (r *Registry) Commit(ctx context.Context, id string, fn func(*Timeline) error) error {
	tl, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	tl.edit.Lock()
	defer tl.edit.Unlock()

	if err := fn(tl); err != nil {
		return err
	}
	return r.save(ctx, tl)
}

// Update edits the title and description of an animation.
func (r *Registry) Update(ctx context.Context, id string, p UpdateParams) (*Timeline, error) {
	tl, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	err = r.mutate(ctx, id, func(t *Timeline) error {
		t.SetDetails(p.Title, p.Description)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tl, nil
}

// Delete removes the animation from the store and destroys its Timeline.
func (r *Registry) Delete(ctx context.Context, id string) error {
	err := r.store.DeleteAnimation(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("animation %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("deleting animation: %w", err)
	}

	r.mu.Lock()
	delete(r.live, id)
	r.deletes++
	r.mu.Unlock()
	return nil
}

// List returns persisted animations, newest first.
func (r *Registry) List(ctx context.Context, filter store.AnimationFilter) ([]*models.Animation, int, error) {
	return r.store.ListAnimations(ctx, filter)
}

// UpsertKeyframe sets a keyframe on a track of an animation and persists it.
func (r *Registry) UpsertKeyframe(ctx context.Context, animationID, trackID string, seconds float64, value json.RawMessage) error {
	at, err := timecode.FromSeconds(seconds)
	if err != nil {
		return models.Invalid("time", err.Error())
	}
	return r.mutate(ctx, animationID, func(tl *Timeline) error {
		return tl.UpsertKeyframe(trackID, at, value)
	})
}

// RemoveKeyframe deletes a keyframe from a track of an animation and persists it.
func (r *Registry) RemoveKeyframe(ctx context.Context, animationID, trackID string, seconds float64) error {
	at, err := timecode.FromSeconds(seconds)
	if err != nil {
		return models.Invalid("time", err.Error())
	}
	return r.mutate(ctx, animationID, func(tl *Timeline) error {
		return tl.RemoveKeyframe(trackID, at)
	})
}

// AddTrack adds a track to an animation and persists it.
func (r *Registry) AddTrack(ctx context.Context, animationID string, track models.Track) error {
	return r.mutate(ctx, animationID, func(tl *Timeline) error {
		return tl.AddTrack(track)
	})
}

// RemoveTrack deletes a track from an animation and persists it.
func (r *Registry) RemoveTrack(ctx context.Context, animationID, trackID string) error {
	return r.mutate(ctx, animationID, func(tl *Timeline) error {
		return tl.RemoveTrack(trackID)
	})
}

// SetPlayhead moves the playhead of an animation and persists it.
func (r *Registry) SetPlayhead(ctx context.Context, animationID string, seconds float64) error {
	return r.mutate(ctx, animationID, func(tl *Timeline) error {
		return tl.SetPlayhead(seconds)
	})
}

// ListKeyframes returns the keyframes of a track within [from, to) seconds.
// A negative to means "until the end".
func (r *Registry) ListKeyframes(ctx context.Context, animationID, trackID string, from, to float64) (iter.Seq[models.Keyframe], error) {
	start, err := timecode.FromSeconds(from)
	if err != nil {
		return nil, models.Invalid("from", err.Error())
	}
	end := timecode.Tick(-1)
	if to >= 0 {
		if end, err = timecode.FromSeconds(to); err != nil {
			return nil, models.Invalid("to", err.Error())
		}
	}
	tl, err := r.Get(ctx, animationID)
	if err != nil {
		return nil, err
	}
	return tl.ListKeyframes(trackID, start, end)
}

// mutate applies fn to the live Timeline of id and persists it. If the save
// fails the Timeline is put back the way it was.
func (r *Registry) mutate(ctx context.Context, animationID string, fn func(*Timeline) error) error {
	tl, err := r.Get(ctx, animationID)
	if err != nil {
		return err
	}
	tl.edit.Lock()
	defer tl.edit.Unlock()

	before := tl.Snapshot()
	if err := fn(tl); err != nil {
		return err
	}
	if err := r.save(ctx, tl); err != nil {
		if rerr := tl.restore(before); rerr != nil {
			return errors.Join(err, fmt.Errorf("restoring animation: %w", rerr))
		}
		return err
	}
	return nil
}

func (r *Registry) save(ctx context.Context, tl *Timeline) error {
	snap := tl.Snapshot()
	if err := r.store.UpdateAnimation(ctx, &snap); err != nil {
		return fmt.Errorf("saving animation: %w", err)
	}
	return nil
}
