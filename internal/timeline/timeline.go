// Package timeline owns the keyframe track data of animations: per-track
// ordered keyframe storage, the playable Timeline of one animation, and the
// Registry that keeps exactly one live Timeline per animation in the process.
package timeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/kiranshivaraju/animgen/pkg/models"
	"github.com/kiranshivaraju/animgen/pkg/timecode"
)

var (
	ErrNotFound = models.ErrNotFound
	ErrConflict = models.ErrConflict
)

// Timeline aggregates the tracks of one animation over a time axis and owns
// the playhead. The playhead is advanced by a caller-owned tick source.
type Timeline struct {
	// edit serializes Registry edits, including their save, per animation.
	edit sync.Mutex

	mu          sync.RWMutex
	animationID string
	title       string
	description string
	duration    timecode.Tick
	playhead    timecode.Tick
	tracks      map[string]*Track
	createdAt   time.Time
	updatedAt   time.Time
	now         func() time.Time
}

// New builds a live Timeline from its persisted form.
func New(a models.Animation) (*Timeline, error) {
	if a.ID == "" {
		return nil, models.Invalid("id", "is required")
	}
	if a.Duration <= 0 {
		return nil, models.Invalid("duration", "must be greater than zero")
	}
	if a.Duration > models.MaxDuration {
		return nil, models.Invalid("duration", fmt.Sprintf("must not exceed %s", models.MaxDuration))
	}
	tl := &Timeline{
		animationID: a.ID,
		title:       a.Title,
		description: a.Description,
		duration:    a.Duration,
		playhead:    min(max(a.Playhead, 0), a.Duration),
		tracks:      make(map[string]*Track, len(a.Tracks)),
		createdAt:   a.CreatedAt,
		updatedAt:   a.UpdatedAt,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, src := range a.Tracks {
		if _, dup := tl.tracks[src.ID]; dup {
			return nil, models.Invalid("tracks", fmt.Sprintf("contain duplicate id %q", src.ID))
		}
		tr, err := NewTrack(src)
		if err != nil {
			return nil, err
		}
		tl.tracks[src.ID] = tr
	}
	return tl, nil
}

func (tl *Timeline) AnimationID() string { return tl.animationID }

// Duration returns the length of the time axis.
func (tl *Timeline) Duration() timecode.Tick {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	return tl.duration
}

// Playhead returns the current playhead position.
func (tl *Timeline) Playhead() timecode.Tick {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	return tl.playhead
}

// Advance moves the playhead forward by delta seconds. When the playhead would
// pass the end of the timeline it wraps to zero and Advance reports true,
// once per wrap.
func (tl *Timeline) Advance(delta float64) (bool, error) {
	d, err := timecode.FromSeconds(delta)
	if err != nil {
		return false, models.Invalid("delta", err.Error())
	}

	tl.mu.Lock()
	defer tl.mu.Unlock()
	next := tl.playhead + d
	if next > tl.duration || next < tl.playhead {
		tl.playhead = 0
		return true, nil
	}
	tl.playhead = next
	return false, nil
}

// SetPlayhead moves the playhead to seconds, clamped to [0, duration].
func (tl *Timeline) SetPlayhead(seconds float64) error {
	if seconds < 0 {
		seconds = 0
	}
	at, err := timecode.FromSeconds(seconds)
	if errors.Is(err, timecode.ErrTooLarge) {
		at, err = tl.Duration(), nil
	}
	if err != nil {
		return models.Invalid("time", err.Error())
	}

	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.playhead = min(at, tl.duration)
	tl.touch()
	return nil
}

// SetDetails updates the title and description. Nil values are left as they
// are; a blank title becomes the default title.
func (tl *Timeline) SetDetails(title, description *string) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	if title != nil {
		tl.title = strings.TrimSpace(*title)
		if tl.title == "" {
			tl.title = defaultTitle
		}
	}
	if description != nil {
		tl.description = *description
	}
	tl.touch()
}

// AddTrack adds a new track. It fails with ErrConflict if the id is taken.
func (tl *Timeline) AddTrack(src models.Track) error {
	tr, err := NewTrack(src)
	if err != nil {
		return err
	}

	tl.mu.Lock()
	defer tl.mu.Unlock()
	if last, ok := tr.Last(); ok && last > tl.duration {
		return models.Invalid("keyframe.time", "exceeds timeline duration")
	}
	if _, exists := tl.tracks[src.ID]; exists {
		return fmt.Errorf("track %q: %w", src.ID, ErrConflict)
	}
	tl.tracks[src.ID] = tr
	tl.touch()
	return nil
}

// RemoveTrack deletes a track.
func (tl *Timeline) RemoveTrack(trackID string) error {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	if _, ok := tl.tracks[trackID]; !ok {
		return fmt.Errorf("track %q: %w", trackID, ErrNotFound)
	}
	delete(tl.tracks, trackID)
	tl.touch()
	return nil
}

// Track returns the live track with the given id.
func (tl *Timeline) Track(trackID string) (*Track, error) {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	tr, ok := tl.tracks[trackID]
	if !ok {
		return nil, fmt.Errorf("track %q: %w", trackID, ErrNotFound)
	}
	return tr, nil
}

// UpsertKeyframe sets the value at exactly at on a track, inserting a keyframe
// if none exists there. A failed call leaves the track unchanged.
func (tl *Timeline) UpsertKeyframe(trackID string, at timecode.Tick, value json.RawMessage) error {
	if at < 0 {
		return models.Invalid("time", "must not be negative")
	}
	if len(value) > 0 && !json.Valid(value) {
		return models.Invalid("value", "must be valid JSON")
	}

	tl.mu.Lock()
	defer tl.mu.Unlock()
	tr, ok := tl.tracks[trackID]
	if !ok {
		return fmt.Errorf("track %q: %w", trackID, ErrNotFound)
	}
	if at > tl.duration {
		return models.Invalid("time", "exceeds timeline duration")
	}
	tr.Upsert(at, value)
	tl.touch()
	return nil
}

// RemoveKeyframe deletes the keyframe at exactly at. Absent keyframes are a no-op.
func (tl *Timeline) RemoveKeyframe(trackID string, at timecode.Tick) error {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tr, ok := tl.tracks[trackID]
	if !ok {
		return fmt.Errorf("track %q: %w", trackID, ErrNotFound)
	}
	if tr.Remove(at) {
		tl.touch()
	}
	return nil
}

// ListKeyframes returns a restartable sequence of the keyframes of a track
// within [from, to). A negative to means "until the end".
func (tl *Timeline) ListKeyframes(trackID string, from, to timecode.Tick) (iter.Seq[models.Keyframe], error) {
	tr, err := tl.Track(trackID)
	if err != nil {
		return nil, err
	}
	return tr.Keyframes(from, to), nil
}

// MergeTracks splices generated tracks into the timeline. Existing tracks
// receive each incoming keyframe via upsert (last writer wins on equal
// times); unknown tracks are added. Tracks not named in the input are left
// untouched. The duration grows to cover incoming keyframes. All input is
// validated before anything is applied.
func (tl *Timeline) MergeTracks(incoming []models.Track) error {
	seen := make(map[string]bool, len(incoming))
	end := timecode.Tick(0)
	for _, src := range incoming {
		if src.ID == "" {
			return models.Invalid("track.id", "is required")
		}
		if seen[src.ID] {
			return models.Invalid("tracks", fmt.Sprintf("contain duplicate id %q", src.ID))
		}
		seen[src.ID] = true
		for _, kf := range src.Keyframes {
			if kf.Time < 0 {
				return models.Invalid("keyframe.time", "must not be negative")
			}
			end = max(end, kf.Time)
		}
	}
	if end > models.MaxDuration {
		return models.Invalid("keyframe.time", fmt.Sprintf("exceeds %s", models.MaxDuration))
	}

	tl.mu.Lock()
	defer tl.mu.Unlock()

	added := make(map[string]*Track)
	for _, src := range incoming {
		existing, ok := tl.tracks[src.ID]
		if ok {
			if src.Kind != "" && src.Kind != existing.Kind() {
				return models.Invalid("track.kind", fmt.Sprintf("of %q cannot change from %s to %s", src.ID, existing.Kind(), src.Kind))
			}
			continue
		}
		tr, err := NewTrack(src)
		if err != nil {
			return err
		}
		added[src.ID] = tr
	}

	for _, src := range incoming {
		if tr, ok := added[src.ID]; ok {
			tl.tracks[src.ID] = tr
			continue
		}
		existing := tl.tracks[src.ID]
		for _, kf := range src.Keyframes {
			existing.Upsert(kf.Time, kf.Value)
		}
	}
	tl.duration = max(tl.duration, end)
	tl.touch()
	return nil
}

// Snapshot returns the persisted form of the timeline, tracks sorted by id.
func (tl *Timeline) Snapshot() models.Animation {
	tl.mu.RLock()
	defer tl.mu.RUnlock()

	ids := slices.Sorted(maps.Keys(tl.tracks))
	tracks := make([]models.Track, 0, len(ids))
	for _, id := range ids {
		tracks = append(tracks, tl.tracks[id].Snapshot())
	}
	return models.Animation{
		ID:          tl.animationID,
		Title:       tl.title,
		Description: tl.description,
		Duration:    tl.duration,
		Playhead:    tl.playhead,
		Tracks:      tracks,
		CreatedAt:   tl.createdAt,
		UpdatedAt:   tl.updatedAt,
	}
}

// restore replaces the state of tl with a, a value returned by Snapshot.
func (tl *Timeline) restore(a models.Animation) error {
	prev, err := New(a)
	if err != nil {
		return err
	}

	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.title = prev.title
	tl.description = prev.description
	tl.duration = prev.duration
	tl.playhead = prev.playhead
	tl.tracks = prev.tracks
	tl.updatedAt = prev.updatedAt
	return nil
}

// touch must be called with mu held for writing.
func (tl *Timeline) touch() {
	tl.updatedAt = tl.now()
}
