package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	BlockText       = "text"
	BlockImage      = "image"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"

	StopReasonEndTurn = "end_turn"
)

// ChatRequest is the inbound body of POST /v1/messages.
type ChatRequest struct {
	Model         string          `json:"model"`
	Messages      []Message       `json:"messages"`
	System        json.RawMessage `json:"system,omitempty"`
	MaxTokens     int             `json:"max_tokens,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	TopK          *int            `json:"top_k,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
	Tools         []Tool          `json:"tools,omitempty"`
	ToolChoice    json.RawMessage `json:"tool_choice,omitempty"`
	Thinking      json.RawMessage `json:"thinking,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
}

// Message is a single user or assistant turn. Content is either a JSON string
// or an array of content blocks.
type Message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// Tool is a client-declared tool.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// ContentBlock is an inbound content block.
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Source    json.RawMessage `json:"source,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// ChatResponse is the outbound Messages API response.
type ChatResponse struct {
	ID           string       `json:"id"`
	Type         string       `json:"type"`
	Role         string       `json:"role"`
	Content      []ContentOut `json:"content"`
	Model        string       `json:"model"`
	StopReason   *string      `json:"stop_reason"`
	StopSequence *string      `json:"stop_sequence"`
	Usage        Usage        `json:"usage"`
	SiderSession *SessionInfo `json:"sider_session,omitempty"`
}

// ContentOut is a response content block. Only text is produced locally;
// tool_use and thinking blocks arrive from the Anthropic backend.
type ContentOut struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	Signature string          `json:"signature,omitempty"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// SessionInfo is attached when the Sider backend served a request.
type SessionInfo struct {
	ConversationID string      `json:"conversation_id"`
	MessageIDs     *MessageIDs `json:"message_ids,omitempty"`
}

type MessageIDs struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}

// ErrorResponse is the Anthropic error envelope.
type ErrorResponse struct {
	Type  string    `json:"type"`
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
	Code    string `json:"code,omitempty"`
}

// CountTokensRequest only needs the raw messages value; the estimate is taken
// over its serialized form.
type CountTokensRequest struct {
	Messages json.RawMessage `json:"messages"`
}

type CountTokensResponse struct {
	InputTokens int `json:"input_tokens"`
}

// NewError builds an error envelope.
func NewError(errType, message string) ErrorResponse {
	return ErrorResponse{
		Type:  "error",
		Error: ErrorBody{Type: errType, Message: message},
	}
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}

// IsEmptyContent reports whether raw is absent, null, "" or [].
func IsEmptyContent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	switch string(trimmed) {
	case "", "null", `""`, "[]":
		return true
	}
	return false
}

// ParseContent returns the message content as blocks. A plain string becomes
// a single text block.
func (m *Message) ParseContent() ([]ContentBlock, error) {
	if len(m.Content) == 0 {
		return nil, nil
	}

	var s string
	if err := json.Unmarshal(m.Content, &s); err == nil {
		return []ContentBlock{{Type: BlockText, Text: s}}, nil
	}

	var blocks []ContentBlock
	if err := json.Unmarshal(m.Content, &blocks); err != nil {
		return nil, fmt.Errorf("invalid message content for role %q", m.Role)
	}
	return blocks, nil
}

// IsBlockArray reports whether the content was sent as a block array.
func (m *Message) IsBlockArray() bool {
	trimmed := bytes.TrimSpace(m.Content)
	return len(trimmed) > 0 && trimmed[0] == '['
}

// Text extracts the plain text of a message: a string is used verbatim, text
// blocks are joined with newlines and everything else is ignored.
func (m *Message) Text() string {
	var s string
	if err := json.Unmarshal(m.Content, &s); err == nil {
		return s
	}

	blocks, err := m.ParseContent()
	if err != nil {
		return ""
	}

	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if b.Type == BlockText && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// SystemText parses "system", which may be a string or an array of text blocks.
func (r *ChatRequest) SystemText() string {
	if len(r.System) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(r.System, &s); err == nil {
		return strings.TrimSpace(s)
	}

	var blocks []ContentBlock
	if err := json.Unmarshal(r.System, &blocks); err != nil {
		return ""
	}
	var parts []string
	for _, b := range blocks {
		if (b.Type == "" || b.Type == BlockText) && strings.TrimSpace(b.Text) != "" {
			parts = append(parts, strings.TrimSpace(b.Text))
		}
	}
	return strings.Join(parts, "\n\n")
}

// LastUserMessage returns the most recent user turn, or nil.
func (r *ChatRequest) LastUserMessage() *Message {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser {
			return &r.Messages[i]
		}
	}
	return nil
}

// HasAssistantMessage reports whether any turn came from the assistant.
func (r *ChatRequest) HasAssistantMessage() bool {
	for _, m := range r.Messages {
		if m.Role == RoleAssistant {
			return true
		}
	}
	return false
}

// Backend names an upstream.
type Backend string

const (
	BackendSider     Backend = "sider"
	BackendAnthropic Backend = "anthropic"
)

// Other returns the opposite backend.
func (b Backend) Other() Backend {
	if b == BackendSider {
		return BackendAnthropic
	}
	return BackendSider
}
