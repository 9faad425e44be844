package tokens

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimate(t *testing.T) {
	testCases := []struct {
		input    string
		expected int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 400), 100},
		{"héllo", 2},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.expected, Estimate(tc.input), "input %q", tc.input)
	}
}

func TestEstimateJSON(t *testing.T) {
	assert.Equal(t, 1, EstimateJSON(nil))
	assert.Equal(t, 1, EstimateJSON(json.RawMessage("null")))

	compact := `[{"role":"user","content":"hi"}]`
	spaced := `[ { "role": "user", "content": "hi" } ]`
	assert.Equal(t, Estimate(compact), EstimateJSON(json.RawMessage(spaced)))
}

func TestEstimateValue(t *testing.T) {
	v := map[string]string{"a": "b"}
	assert.Equal(t, Estimate(`{"a":"b"}`), EstimateValue(v))
}
