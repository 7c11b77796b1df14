// Package timecode provides the fixed-point time axis used by timelines.
//
// Keyframe times are stored as integer microseconds so that matching an
// existing keyframe is an exact integer comparison. Seconds coming from
// callers are rounded to the nearest microsecond once, at the boundary.
package timecode

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// Tick is a point on a timeline in microseconds.
type Tick int64

// TicksPerSecond is the resolution of the time axis.
const TicksPerSecond = 1_000_000

// MaxSeconds bounds accepted input so conversions never overflow.
const MaxSeconds = float64(math.MaxInt64/TicksPerSecond) - 1

var (
	ErrNegative = errors.New("time must not be negative")
	ErrInvalid  = errors.New("time must be a finite number")
	ErrTooLarge = errors.New("time exceeds supported range")
)

// FromSeconds converts a non-negative number of seconds to a Tick.
func FromSeconds(s float64) (Tick, error) {
	switch {
	case math.IsNaN(s) || math.IsInf(s, 0):
		return 0, ErrInvalid
	case s < 0:
		return 0, ErrNegative
	case s > MaxSeconds:
		return 0, ErrTooLarge
	}
	return Tick(math.Round(s * TicksPerSecond)), nil
}

// MustSeconds is FromSeconds for constants and tests. It panics on invalid input.
func MustSeconds(s float64) Tick {
	t, err := FromSeconds(s)
	if err != nil {
		panic(fmt.Sprintf("timecode: %v: %v", s, err))
	}
	return t
}

// Seconds returns t as floating-point seconds.
func (t Tick) Seconds() float64 {
	return float64(t) / TicksPerSecond
}

func (t Tick) String() string {
	return strconv.FormatFloat(t.Seconds(), 'f', -1, 64) + "s"
}

// MarshalJSON encodes the tick as seconds.
func (t Tick) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Seconds())
}

// UnmarshalJSON decodes seconds into a tick.
func (t *Tick) UnmarshalJSON(b []byte) error {
	var s float64
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := FromSeconds(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// MarshalYAML encodes the tick as seconds.
func (t Tick) MarshalYAML() (any, error) {
	return t.Seconds(), nil
}
