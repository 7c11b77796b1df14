package models_test

import (
	"errors"
	"testing"

	"github.com/kiranshivaraju/animgen/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerationRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		kind    models.TargetKind
		req     models.GenerationRequest
		field   string
		wantErr bool
	}{
		{"render ok", models.TargetAnimationRender, models.GenerationRequest{Prompt: "two knights duel"}, "", false},
		{"empty prompt", models.TargetAnimationRender, models.GenerationRequest{Prompt: "   "}, "prompt", true},
		{"character ok", models.TargetCharacter, models.GenerationRequest{Prompt: "a tall wizard", Style: "fantasy"}, "", false},
		{"unsupported style", models.TargetCharacter, models.GenerationRequest{Prompt: "robot", Style: "cartoon"}, "style", true},
		{"bad body type", models.TargetCharacter, models.GenerationRequest{
			Prompt: "robot", Attributes: map[string]string{"body_type": "giant"},
		}, "attributes.body_type", true},
		{"bad age range", models.TargetCharacter, models.GenerationRequest{
			Prompt: "robot", Attributes: map[string]string{"age_range": "ancient"},
		}, "attributes.age_range", true},
		{"render duration at limit", models.TargetAnimationRender, models.GenerationRequest{Prompt: "x", Duration: models.MaxDuration}, "", false},
		{"render duration over limit", models.TargetAnimationRender, models.GenerationRequest{Prompt: "x", Duration: models.MaxDuration + 1}, "duration", true},
		{"character duration over limit", models.TargetCharacter, models.GenerationRequest{Prompt: "x", Duration: 1 << 62}, "duration", true},
		{"render ignores style", models.TargetAnimationRender, models.GenerationRequest{Prompt: "x", Style: "cartoon"}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate(tt.kind)
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, models.ErrValidation)
			var ve *models.ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestGenerationRequest_ValidateDefaultsStyle(t *testing.T) {
	req := models.GenerationRequest{Prompt: "a friendly baker"}
	require.NoError(t, req.Validate(models.TargetCharacter))
	assert.Equal(t, models.DefaultStyle, req.Style)
}

func TestJobState(t *testing.T) {
	assert.True(t, models.JobQueued.Active())
	assert.True(t, models.JobProcessing.Active())
	assert.False(t, models.JobCancelled.Active())

	for _, s := range []models.JobState{models.JobCompleted, models.JobFailed, models.JobCancelled} {
		assert.True(t, s.Terminal(), s)
	}
	assert.False(t, models.JobProcessing.Terminal())
}
