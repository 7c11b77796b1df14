package models

import (
	"context"
	"fmt"
	"strings"

	"github.com/kiranshivaraju/animgen/pkg/timecode"
)

// Generator is the opaque content-generation capability (ML inference in production).
// Never call a specific generator directly; always inject this interface.
type Generator interface {
	// Generate produces a character or a set of animation tracks for req.
	// Implementations must call progress between discrete units of work and
	// stop promptly when it returns an error or ctx is done.
	Generate(ctx context.Context, kind TargetKind, req GenerationRequest, progress ProgressFunc) (GenerationResult, error)
	// Name returns the generator identifier (e.g., "procedural", "remote").
	Name() string
}

// ProgressFunc reports fractional progress in [0, 1]. A non-nil error means
// the job no longer accepts work and the generator should return.
type ProgressFunc func(p float64) error

// GenerationRequest is the caller's natural-language description plus options.
type GenerationRequest struct {
	Prompt     string            `json:"prompt"`
	Style      string            `json:"style,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	// Duration is the requested length of generated animation content.
	Duration timecode.Tick `json:"duration,omitempty"`
}

// Validate checks the request for a job of the given kind.
func (r *GenerationRequest) Validate(kind TargetKind) error {
	if strings.TrimSpace(r.Prompt) == "" {
		return Invalid("prompt", "is required")
	}
	if len(r.Prompt) > MaxPromptLength {
		return Invalid("prompt", "is too long")
	}
	if r.Duration < 0 || r.Duration > MaxDuration {
		return Invalid("duration", fmt.Sprintf("must be between 0 and %s", MaxDuration))
	}
	if kind != TargetCharacter {
		return nil
	}
	if r.Style == "" {
		r.Style = DefaultStyle
	}
	if !contains(SupportedStyles, r.Style) {
		return Invalid("style", "must be one of "+strings.Join(SupportedStyles, ", "))
	}
	if bt := r.Attributes["body_type"]; bt != "" && !contains(BodyTypes, bt) {
		return Invalid("attributes.body_type", "must be one of "+strings.Join(BodyTypes, ", "))
	}
	if ar := r.Attributes["age_range"]; ar != "" && !contains(AgeRanges, ar) {
		return Invalid("attributes.age_range", "must be one of "+strings.Join(AgeRanges, ", "))
	}
	return nil
}

// GenerationResult is the outcome of a successful generation.
// Character jobs fill Character; animation render jobs fill Tracks.
type GenerationResult struct {
	Generator string     `json:"generator"`
	Character *Character `json:"character,omitempty"`
	Tracks    []Track    `json:"tracks,omitempty"`
}

// MaxPromptLength caps prompts accepted at submission.
const MaxPromptLength = 4000

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
