package procedural_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/kiranshivaraju/animgen/internal/generator"
	"github.com/kiranshivaraju/animgen/internal/generator/procedural"
	"github.com/kiranshivaraju/animgen/pkg/models"
	"github.com/kiranshivaraju/animgen/pkg/timecode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(progress *[]float64) models.ProgressFunc {
	return func(p float64) error {
		*progress = append(*progress, p)
		return nil
	}
}

func TestGenerate_Character(t *testing.T) {
	g := procedural.New(0)
	var progress []float64

	res, err := g.Generate(context.Background(), models.TargetCharacter, models.GenerationRequest{
		Prompt:     "A heroic armored knight who wields magic weapons",
		Style:      "fantasy",
		Attributes: map[string]string{"body_type": "muscular"},
	}, collect(&progress))
	require.NoError(t, err)

	assert.Equal(t, "procedural", res.Generator)
	require.NotNil(t, res.Character)
	assert.Equal(t, "Heroic Armored", res.Character.Name)
	assert.Equal(t, "fantasy", res.Character.Style)
	assert.Contains(t, res.Character.Traits["personality"], "heroic")
	assert.Contains(t, res.Character.Traits["appearance"], "armored")
	assert.Contains(t, res.Character.Traits["abilities"], "magic")
	assert.Contains(t, res.Character.Traits["abilities"], "weapons")
	assert.Equal(t, "muscular", res.Character.Attributes["body_type"])
	assert.Contains(t, res.Character.Model, "procedural://character/fantasy/")
	assert.Empty(t, res.Tracks)

	assert.True(t, slices.IsSorted(progress))
	assert.Equal(t, 1.0, progress[len(progress)-1])
}

func TestGenerate_RenderTracks(t *testing.T) {
	g := procedural.New(0)
	var progress []float64

	res, err := g.Generate(context.Background(), models.TargetAnimationRender, models.GenerationRequest{
		Prompt:   "a robot dance with fire and smoke to loud music",
		Duration: timecode.MustSeconds(6),
	}, collect(&progress))
	require.NoError(t, err)

	require.Len(t, res.Tracks, 3)
	byID := map[string]models.Track{}
	for _, tr := range res.Tracks {
		byID[tr.ID] = tr
		assert.True(t, tr.Kind.Valid())
		assert.True(t, slices.IsSortedFunc(tr.Keyframes, func(a, b models.Keyframe) int {
			return int(a.Time - b.Time)
		}))
		for i := 1; i < len(tr.Keyframes); i++ {
			assert.Less(t, tr.Keyframes[i-1].Time, tr.Keyframes[i].Time)
		}
		for _, kf := range tr.Keyframes {
			assert.LessOrEqual(t, kf.Time, timecode.MustSeconds(6))
		}
	}

	character := byID["generated-character"]
	assert.Equal(t, models.TrackCharacter, character.Kind)
	assert.Len(t, character.Keyframes, 13)
	assert.Contains(t, string(character.Keyframes[0].Value), `"action":"dance"`)

	effects := byID["generated-effects"]
	assert.Len(t, effects.Keyframes, 4)

	sound := byID["generated-sound"]
	assert.Equal(t, "Sound: music", sound.Name)
	assert.Len(t, sound.Keyframes, 4)

	assert.Equal(t, []float64{0.25, 0.5, 0.75, 1}, progress)
}

func TestGenerate_RenderIsDeterministic(t *testing.T) {
	g := procedural.New(0)
	req := models.GenerationRequest{Prompt: "a knight runs through water"}

	a, err := g.Generate(context.Background(), models.TargetAnimationRender, req, nil)
	require.NoError(t, err)
	b, err := g.Generate(context.Background(), models.TargetAnimationRender, req, nil)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestGenerate_RenderWithoutKeywordsIsIdleAmbient(t *testing.T) {
	g := procedural.New(0)

	res, err := g.Generate(context.Background(), models.TargetAnimationRender,
		models.GenerationRequest{Prompt: "something calm"}, nil)
	require.NoError(t, err)

	require.Len(t, res.Tracks, 2)
	assert.Equal(t, "Character: idle", res.Tracks[0].Name)
	assert.Equal(t, "Sound: ambient", res.Tracks[1].Name)
}

func TestGenerate_StopsWhenProgressRejected(t *testing.T) {
	g := procedural.New(0)
	stop := errors.New("job cancelled")
	calls := 0

	_, err := g.Generate(context.Background(), models.TargetAnimationRender,
		models.GenerationRequest{Prompt: "walk"}, func(float64) error {
			calls++
			return stop
		})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestGenerate_StopsOnContextCancel(t *testing.T) {
	g := procedural.New(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := g.Generate(ctx, models.TargetCharacter, models.GenerationRequest{Prompt: "a villain"}, nil)
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("generator did not stop after cancel")
	}
}

func TestGenerate_RenderCancelledBeforeBuildingTracks(t *testing.T) {
	g := procedural.New(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0

	_, err := g.Generate(ctx, models.TargetAnimationRender, models.GenerationRequest{
		Prompt:   "a knight runs with music",
		Duration: models.MaxDuration,
	}, func(float64) error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestGenerate_RenderDurationIsCapped(t *testing.T) {
	g := procedural.New(0)

	res, err := g.Generate(context.Background(), models.TargetAnimationRender, models.GenerationRequest{
		Prompt:   "a knight runs with music",
		Duration: 1 << 50,
	}, nil)
	require.NoError(t, err)

	for _, tr := range res.Tracks {
		require.NotEmpty(t, tr.Keyframes)
		assert.LessOrEqual(t, tr.Keyframes[len(tr.Keyframes)-1].Time, models.MaxDuration, tr.ID)
	}
	assert.Len(t, res.Tracks[0].Keyframes, int(models.MaxDuration/(timecode.TicksPerSecond/2))+1)
}

func TestGenerate_UnsupportedKind(t *testing.T) {
	g := procedural.New(0)
	_, err := g.Generate(context.Background(), "environment", models.GenerationRequest{Prompt: "x"}, nil)
	assert.ErrorIs(t, err, generator.ErrUnsupportedKind)
}
