package timeline

import (
	"bytes"
	"cmp"
	"encoding/json"
	"iter"
	"slices"
	"sync"

	"github.com/kiranshivaraju/animgen/pkg/models"
	"github.com/kiranshivaraju/animgen/pkg/timecode"
)

// Track holds one track's keyframes sorted ascending by time with unique times.
// All methods are safe for concurrent use; readers never see a half-applied write.
type Track struct {
	mu        sync.RWMutex
	id        string
	name      string
	kind      models.TrackKind
	keyframes []models.Keyframe
}

// NewTrack builds a Track from a snapshot. Keyframes may arrive unsorted;
// on duplicate times the later entry wins.
func NewTrack(src models.Track) (*Track, error) {
	if src.ID == "" {
		return nil, models.Invalid("track.id", "is required")
	}
	if !src.Kind.Valid() {
		return nil, models.Invalid("track.kind", "must be one of character, effect, sound")
	}
	t := &Track{id: src.ID, name: src.Name, kind: src.Kind}
	for _, kf := range src.Keyframes {
		if kf.Time < 0 {
			return nil, models.Invalid("keyframe.time", "must not be negative")
		}
		t.upsertLocked(kf.Time, kf.Value)
	}
	return t, nil
}

func (t *Track) ID() string              { return t.id }
func (t *Track) Name() string            { return t.name }
func (t *Track) Kind() models.TrackKind { return t.kind }

// Len returns the number of keyframes.
func (t *Track) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.keyframes)
}

// Upsert replaces the value at exactly at, or inserts a new keyframe in order.
// It reports whether an existing keyframe was replaced.
func (t *Track) Upsert(at timecode.Tick, value json.RawMessage) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.upsertLocked(at, value)
}

func (t *Track) upsertLocked(at timecode.Tick, value json.RawMessage) bool {
	i, found := slices.BinarySearchFunc(t.keyframes, at, compareTime)
	kf := models.Keyframe{Time: at, Value: bytes.Clone(value)}
	if found {
		t.keyframes[i] = kf
		return true
	}
	t.keyframes = slices.Insert(t.keyframes, i, kf)
	return false
}

// Remove deletes the keyframe at exactly at. It is a no-op when absent.
func (t *Track) Remove(at timecode.Tick) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	i, found := slices.BinarySearchFunc(t.keyframes, at, compareTime)
	if !found {
		return false
	}
	t.keyframes = slices.Delete(t.keyframes, i, i+1)
	return true
}

// Keyframes returns the keyframes in the half-open window [from, to) in
// ascending time order. A negative to means "until the end".
// The sequence is evaluated when ranged over and can be ranged over again;
// each pass reflects the track at the time the pass starts.
func (t *Track) Keyframes(from, to timecode.Tick) iter.Seq[models.Keyframe] {
	return func(yield func(models.Keyframe) bool) {
		for _, kf := range t.window(from, to) {
			if !yield(kf) {
				return
			}
		}
	}
}

func (t *Track) window(from, to timecode.Tick) []models.Keyframe {
	t.mu.RLock()
	defer t.mu.RUnlock()

	lo, _ := slices.BinarySearchFunc(t.keyframes, from, compareTime)
	hi := len(t.keyframes)
	if to >= 0 {
		hi, _ = slices.BinarySearchFunc(t.keyframes, to, compareTime)
	}
	if lo >= hi {
		return nil
	}
	return slices.Clone(t.keyframes[lo:hi])
}

// Last returns the time of the final keyframe, or false for an empty track.
func (t *Track) Last() (timecode.Tick, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.keyframes) == 0 {
		return 0, false
	}
	return t.keyframes[len(t.keyframes)-1].Time, true
}

// Snapshot copies the track into its serializable form.
func (t *Track) Snapshot() models.Track {
	t.mu.RLock()
	defer t.mu.RUnlock()
	kfs := make([]models.Keyframe, len(t.keyframes))
	copy(kfs, t.keyframes)
	return models.Track{ID: t.id, Name: t.name, Kind: t.kind, Keyframes: kfs}
}

func compareTime(kf models.Keyframe, at timecode.Tick) int {
	return cmp.Compare(kf.Time, at)
}
