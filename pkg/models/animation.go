package models

import (
	"encoding/json"
	"time"

	"github.com/kiranshivaraju/animgen/pkg/timecode"
)

// MaxDuration bounds the length of an animation and of generated content.
const MaxDuration = timecode.Tick(3600 * timecode.TicksPerSecond)

// TrackKind classifies what a track animates.
type TrackKind string

const (
	TrackCharacter TrackKind = "character"
	TrackEffect    TrackKind = "effect"
	TrackSound     TrackKind = "sound"
)

// Valid reports whether k is a known track kind.
func (k TrackKind) Valid() bool {
	switch k {
	case TrackCharacter, TrackEffect, TrackSound:
		return true
	}
	return false
}

// Keyframe is a timestamped value on a track. Value is opaque to the core.
type Keyframe struct {
	Time  timecode.Tick   `json:"time"`
	Value json.RawMessage `json:"value"`
}

// MarshalYAML decodes the JSON value so exports stay readable.
func (k Keyframe) MarshalYAML() (any, error) {
	var v any
	if len(k.Value) > 0 {
		if err := json.Unmarshal(k.Value, &v); err != nil {
			return nil, err
		}
	}
	return struct {
		Time  float64 `yaml:"time"`
		Value any     `yaml:"value,omitempty"`
	}{Time: k.Time.Seconds(), Value: v}, nil
}

// Track is a serializable snapshot of one track's keyframes in ascending time order.
type Track struct {
	ID        string     `json:"id"        yaml:"id"`
	Name      string     `json:"name"      yaml:"name"`
	Kind      TrackKind  `json:"kind"      yaml:"kind"`
	Keyframes []Keyframe `json:"keyframes" yaml:"keyframes"`
}

// Animation is the persisted form of a Timeline.
// Tracks are ordered by ID for stable serialization.
type Animation struct {
	ID          string        `db:"id"          json:"id"          yaml:"id"`
	Title       string        `db:"title"       json:"title"       yaml:"title"`
	Description string        `db:"description" json:"description" yaml:"description,omitempty"`
	Duration    timecode.Tick `db:"duration_us" json:"duration"    yaml:"duration"`
	Playhead    timecode.Tick `db:"playhead_us" json:"playhead"    yaml:"playhead"`
	Tracks      []Track       `db:"tracks"      json:"tracks"      yaml:"tracks"`
	CreatedAt   time.Time     `db:"created_at"  json:"created_at"  yaml:"created_at"`
	UpdatedAt   time.Time     `db:"updated_at"  json:"updated_at"  yaml:"updated_at"`
}
