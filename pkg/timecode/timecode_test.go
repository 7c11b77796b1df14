package timecode_test

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/kiranshivaraju/animgen/pkg/timecode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromSeconds(t *testing.T) {
	tests := []struct {
		name    string
		in      float64
		want    timecode.Tick
		wantErr error
	}{
		{"zero", 0, 0, nil},
		{"whole", 5, 5_000_000, nil},
		{"fraction", 0.25, 250_000, nil},
		{"rounds to nearest microsecond", 1.0000004, 1_000_000, nil},
		{"negative", -1, 0, timecode.ErrNegative},
		{"nan", math.NaN(), 0, timecode.ErrInvalid},
		{"inf", math.Inf(1), 0, timecode.ErrInvalid},
		{"too large", 1e20, 0, timecode.ErrTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := timecode.FromSeconds(tt.in)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromSeconds_FloatDriftMatchesExactly(t *testing.T) {
	a := timecode.MustSeconds(0.1 + 0.2)
	b := timecode.MustSeconds(0.3)
	assert.Equal(t, a, b)
}

func TestTick_JSONRoundtripAsSeconds(t *testing.T) {
	b, err := json.Marshal(timecode.MustSeconds(2.5))
	require.NoError(t, err)
	assert.Equal(t, "2.5", string(b))

	var tk timecode.Tick
	require.NoError(t, json.Unmarshal([]byte("7.125"), &tk))
	assert.Equal(t, timecode.Tick(7_125_000), tk)

	assert.Error(t, json.Unmarshal([]byte("-3"), &tk))
}

func TestTick_String(t *testing.T) {
	assert.Equal(t, "1.5s", timecode.MustSeconds(1.5).String())
}
