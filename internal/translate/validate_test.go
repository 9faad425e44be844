package translate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRequest_Invalid(t *testing.T) {
	testCases := []struct {
		name    string
		body    string
		message string
	}{
		{
			name:    "missing model",
			body:    `{"messages":[{"role":"user","content":"x"}]}`,
			message: "Missing required field: model",
		},
		{
			name:    "missing messages",
			body:    `{"model":"claude-3.7-sonnet"}`,
			message: "Missing required field: messages",
		},
		{
			name:    "messages not an array",
			body:    `{"model":"claude-3.7-sonnet","messages":"hello"}`,
			message: "Missing required field: messages",
		},
		{
			name:    "empty messages",
			body:    `{"model":"claude-3.7-sonnet","messages":[]}`,
			message: "Messages array cannot be empty",
		},
		{
			name:    "no user message",
			body:    `{"model":"m","messages":[{"role":"assistant","content":"hi"}]}`,
			message: "At least one user message is required",
		},
		{
			name:    "bad role",
			body:    `{"model":"m","messages":[{"role":"user","content":"hi"},{"role":"system","content":"x"}]}`,
			message: `Invalid message role. Must be "user" or "assistant"`,
		},
		{
			name:    "empty string content",
			body:    `{"model":"m","messages":[{"role":"user","content":""}]}`,
			message: "Message content cannot be empty",
		},
		{
			name:    "null content",
			body:    `{"model":"m","messages":[{"role":"user","content":null}]}`,
			message: "Message content cannot be empty",
		},
		{
			name:    "missing content",
			body:    `{"model":"m","messages":[{"role":"user"}]}`,
			message: "Message content cannot be empty",
		},
		{
			name:    "object content",
			body:    `{"model":"m","messages":[{"role":"user","content":{"a":1}}]}`,
			message: "Invalid content format: must be a string or an array of content blocks",
		},
		{
			name:    "numeric content",
			body:    `{"model":"m","messages":[{"role":"user","content":42}]}`,
			message: "Invalid content format: must be a string or an array of content blocks",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeRequest([]byte(tc.body))
			require.Error(t, err)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.message, verr.Message)
		})
	}
}

func TestDecodeRequest_MalformedJSON(t *testing.T) {
	_, err := DecodeRequest([]byte(`{"model":`))

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Message, "Invalid JSON")
}

func TestDecodeRequest_Valid(t *testing.T) {
	body := `{
		"model": "claude-3.7-sonnet",
		"system": [{"type":"text","text":"be brief"}],
		"messages": [
			{"role":"user","content":[{"type":"text","text":"hello"},{"type":"image","source":{"type":"base64"}}]}
		],
		"max_tokens": 50,
		"stream": true
	}`

	req, err := DecodeRequest([]byte(body))
	require.NoError(t, err)

	assert.Equal(t, "claude-3.7-sonnet", req.Model)
	assert.Equal(t, 50, req.MaxTokens)
	assert.True(t, req.Stream)
	assert.Equal(t, "be brief", req.SystemText())
	assert.Equal(t, "hello", req.Messages[0].Text())
}
