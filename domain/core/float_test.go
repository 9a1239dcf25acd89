package core

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFloat_JSONRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		wire string
	}{
		{"finite", 1.0123456789012344, "1.0123456789012344"},
		{"one tenth", 0.1, "0.1"},
		{"negative", -0.25, "-0.25"},
		{"positive infinity", math.Inf(1), `"+Inf"`},
		{"negative infinity", math.Inf(-1), `"-Inf"`},
		{"tiny", 5e-324, "5e-324"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(Float(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.wire, string(data))

			var out Float
			require.NoError(t, json.Unmarshal(data, &out))
			assert.Equal(t, tt.in, out.Value())
		})
	}
}

func TestFloat_NaN(t *testing.T) {
	data, err := json.Marshal(struct {
		V Float `json:"v"`
	}{Float(math.NaN())})
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":"NaN"}`, string(data))

	var out struct {
		V Float `json:"v"`
	}
	require.NoError(t, json.Unmarshal(data, &out))
	assert.True(t, math.IsNaN(out.V.Value()))
	assert.False(t, out.V.IsFinite())
}

func TestFloat_RejectsGarbage(t *testing.T) {
	var f Float
	assert.Error(t, json.Unmarshal([]byte(`"infinity-ish"`), &f))
	assert.Error(t, json.Unmarshal([]byte(`true`), &f))
}
