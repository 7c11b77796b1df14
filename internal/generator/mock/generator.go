package mock

import (
	"context"
	"encoding/json"

	"github.com/kiranshivaraju/animgen/internal/generator"
	"github.com/kiranshivaraju/animgen/pkg/models"
	"github.com/kiranshivaraju/animgen/pkg/timecode"
)

// MockGenerator satisfies models.Generator for testing.
type MockGenerator struct {
	Name_        string
	GenerateFunc func(ctx context.Context, kind models.TargetKind, req models.GenerationRequest, progress models.ProgressFunc) (models.GenerationResult, error)
}

func (m *MockGenerator) Name() string { return m.Name_ }

func (m *MockGenerator) Generate(ctx context.Context, kind models.TargetKind, req models.GenerationRequest, progress models.ProgressFunc) (models.GenerationResult, error) {
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, kind, req, progress)
	}
	return models.GenerationResult{Generator: m.Name_}, nil
}

// NewMockGenerator returns a MockGenerator that reports progress at 0.5 and 1
// and returns Result for the requested kind.
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{
		Name_: "mock",
		GenerateFunc: func(_ context.Context, kind models.TargetKind, req models.GenerationRequest, progress models.ProgressFunc) (models.GenerationResult, error) {
			for _, p := range []float64{0.5, 1} {
				if err := progress(p); err != nil {
					return models.GenerationResult{}, err
				}
			}
			return Result(kind, req), nil
		},
	}
}

// NewFailingGenerator returns a MockGenerator that always returns the given error.
func NewFailingGenerator(err error) *MockGenerator {
	return &MockGenerator{
		Name_: "mock-failing",
		GenerateFunc: func(context.Context, models.TargetKind, models.GenerationRequest, models.ProgressFunc) (models.GenerationResult, error) {
			return models.GenerationResult{}, err
		},
	}
}

// NewBlockingGenerator returns a MockGenerator that reports progress 0.1,
// signals started, then blocks until release is closed or ctx is done. After
// release it reports progress 0.9 and succeeds.
func NewBlockingGenerator(started chan<- struct{}, release <-chan struct{}) *MockGenerator {
	return &MockGenerator{
		Name_: "mock-blocking",
		GenerateFunc: func(ctx context.Context, kind models.TargetKind, req models.GenerationRequest, progress models.ProgressFunc) (models.GenerationResult, error) {
			if err := progress(0.1); err != nil {
				return models.GenerationResult{}, err
			}
			if started != nil {
				started <- struct{}{}
			}
			select {
			case <-ctx.Done():
				return models.GenerationResult{}, ctx.Err()
			case <-release:
			}
			if err := progress(0.9); err != nil {
				return models.GenerationResult{}, err
			}
			return Result(kind, req), nil
		},
	}
}

// NewTimeoutGenerator returns a MockGenerator that blocks until ctx is done.
func NewTimeoutGenerator() *MockGenerator {
	return &MockGenerator{
		Name_: "mock-timeout",
		GenerateFunc: func(ctx context.Context, _ models.TargetKind, _ models.GenerationRequest, _ models.ProgressFunc) (models.GenerationResult, error) {
			<-ctx.Done()
			return models.GenerationResult{}, generator.ErrTimeout
		},
	}
}

// NewPanickingGenerator returns a MockGenerator that panics with v.
func NewPanickingGenerator(v any) *MockGenerator {
	return &MockGenerator{
		Name_: "mock-panic",
		GenerateFunc: func(context.Context, models.TargetKind, models.GenerationRequest, models.ProgressFunc) (models.GenerationResult, error) {
			panic(v)
		},
	}
}

// Result is the canned result for kind: a character record, or a single
// "mock" effect track with keyframes at 0s and 1s.
func Result(kind models.TargetKind, req models.GenerationRequest) models.GenerationResult {
	if kind == models.TargetCharacter {
		return models.GenerationResult{
			Generator: "mock",
			Character: &models.Character{
				Name:       "Mock Character",
				Style:      req.Style,
				Traits:     map[string][]string{"personality": {"friendly"}},
				Attributes: req.Attributes,
				Model:      "mock://character",
			},
		}
	}
	return models.GenerationResult{
		Generator: "mock",
		Tracks: []models.Track{{
			ID:   "mock",
			Name: "Mock",
			Kind: models.TrackEffect,
			Keyframes: []models.Keyframe{
				{Time: 0, Value: json.RawMessage(`{"effect":"spark"}`)},
				{Time: timecode.TicksPerSecond, Value: json.RawMessage(`{"effect":"fade"}`)},
			},
		}},
	}
}

// Compile-time check that MockGenerator implements Generator.
var _ models.Generator = (*MockGenerator)(nil)
