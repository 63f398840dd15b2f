package login

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(s), &m))
	return m
}

func TestMergeJSON(t *testing.T) {
	tests := []struct {
		name  string
		base  string
		delta string
		want  string
	}{
		{
			name:  "scalar replace",
			base:  `{"wins":3,"name":"a"}`,
			delta: `{"wins":4}`,
			want:  `{"wins":4,"name":"a"}`,
		},
		{
			name:  "nested objects merge",
			base:  `{"stats":{"arena":{"wins":1,"losses":2}}}`,
			delta: `{"stats":{"arena":{"wins":5}}}`,
			want:  `{"stats":{"arena":{"wins":5,"losses":2}}}`,
		},
		{
			name:  "array replaced wholesale",
			base:  `{"loadout":[1,2,3]}`,
			delta: `{"loadout":[9]}`,
			want:  `{"loadout":[9]}`,
		},
		{
			name:  "null clears key",
			base:  `{"a":1,"b":2}`,
			delta: `{"b":null}`,
			want:  `{"a":1}`,
		},
		{
			name:  "type change replaces",
			base:  `{"v":{"nested":true}}`,
			delta: `{"v":7}`,
			want:  `{"v":7}`,
		},
		{
			name:  "new keys added",
			base:  `{}`,
			delta: `{"fresh":{"x":1}}`,
			want:  `{"fresh":{"x":1}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mergeJSON(decode(t, tt.base), decode(t, tt.delta))
			encoded, err := json.Marshal(got)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(encoded))
		})
	}
}

func TestMergeJSON_DoesNotMutateInputs(t *testing.T) {
	base := decode(t, `{"stats":{"wins":1},"items":[1,2]}`)
	delta := decode(t, `{"stats":{"wins":2},"items":[3]}`)

	out := mergeJSON(base, delta)

	// Mutating the result must not leak into either input.
	out["stats"].(map[string]any)["wins"] = float64(99)
	out["items"].([]any)[0] = float64(42)

	assert.Equal(t, float64(1), base["stats"].(map[string]any)["wins"])
	assert.Equal(t, float64(2), delta["stats"].(map[string]any)["wins"])
	assert.Equal(t, float64(3), delta["items"].([]any)[0])
}
