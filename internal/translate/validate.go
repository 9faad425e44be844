package translate

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/mihaisavezi/sider-gateway/internal/types"
)

// ValidationError is a malformed inbound request. Handlers map it to HTTP 400.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// DecodeRequest parses and validates a Messages API body.
func DecodeRequest(body []byte) (*types.ChatRequest, error) {
	var probe struct {
		Messages json.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, invalid("Invalid JSON in request body: %v", err)
	}
	if msgs := bytes.TrimSpace(probe.Messages); len(msgs) > 0 && string(msgs) != "null" && msgs[0] != '[' {
		return nil, invalid("Missing required field: messages")
	}

	var req types.ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, invalid("Invalid request body: %v", err)
	}
	if err := Validate(&req); err != nil {
		return nil, err
	}
	return &req, nil
}

// Validate checks the request invariants. It never touches the network.
func Validate(req *types.ChatRequest) error {
	if req.Model == "" {
		return invalid("Missing required field: model")
	}
	if req.Messages == nil {
		return invalid("Missing required field: messages")
	}
	if len(req.Messages) == 0 {
		return invalid("Messages array cannot be empty")
	}
	if req.LastUserMessage() == nil {
		return invalid("At least one user message is required")
	}
	for _, msg := range req.Messages {
		if msg.Role != types.RoleUser && msg.Role != types.RoleAssistant {
			return invalid(`Invalid message role. Must be "user" or "assistant"`)
		}
		if types.IsEmptyContent(msg.Content) {
			return invalid("Message content cannot be empty")
		}
		if _, err := msg.ParseContent(); err != nil {
			return invalid("Invalid content format: must be a string or an array of content blocks")
		}
	}
	return nil
}
