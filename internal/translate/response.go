package translate

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/mihaisavezi/sider-gateway/internal/tokens"
	"github.com/mihaisavezi/sider-gateway/internal/types"
)

// EmptyAnswer replaces an answer with no text.
const EmptyAnswer = "Response received but no text content was generated."

// Session headers set when Sider served the request.
const (
	HeaderConversationID     = "X-Conversation-ID"
	HeaderUserMessageID      = "X-User-Message-ID"
	HeaderAssistantMessageID = "X-Assistant-Message-ID"
)

// NewMessageID returns a fresh response id.
func NewMessageID() string {
	return "msg_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// FromSider converts a Sider result into a Messages API response. Usage is a
// length-based estimate.
func FromSider(result *types.SiderResult, model string, inputTokens int) *types.ChatResponse {
	answer := strings.TrimSpace(strings.Join(result.TextParts, ""))
	if answer == "" {
		answer = EmptyAnswer
	}

	outputTokens := tokens.Estimate(answer)
	if reasoning := strings.Join(result.ReasoningParts, ""); reasoning != "" {
		outputTokens += tokens.Estimate(reasoning)
	}

	resp := &types.ChatResponse{
		ID:         NewMessageID(),
		Type:       "message",
		Role:       types.RoleAssistant,
		Content:    []types.ContentOut{{Type: types.BlockText, Text: answer}},
		Model:      model,
		StopReason: types.StringPtr(types.StopReasonEndTurn),
		Usage: types.Usage{
			InputTokens:  inputTokens,
			OutputTokens: outputTokens,
		},
	}

	if result.ConversationID != "" {
		resp.SiderSession = &types.SessionInfo{ConversationID: result.ConversationID}
		if result.UserMessageID != "" || result.AssistantMessageID != "" {
			resp.SiderSession.MessageIDs = &types.MessageIDs{
				User:      result.UserMessageID,
				Assistant: result.AssistantMessageID,
			}
		}
	}

	return resp
}

// ErrorResponse wraps a post-validation failure in a response-shaped body.
func ErrorResponse(err error, model string) *types.ChatResponse {
	return &types.ChatResponse{
		ID:         NewMessageID(),
		Type:       "message",
		Role:       types.RoleAssistant,
		Content:    []types.ContentOut{{Type: types.BlockText, Text: "Error: " + err.Error()}},
		Model:      model,
		StopReason: types.StringPtr(types.StopReasonEndTurn),
		Usage:      types.Usage{},
	}
}

// SessionHeaders returns the headers describing the Sider message chain.
func SessionHeaders(result *types.SiderResult) http.Header {
	h := http.Header{}
	if result == nil {
		return h
	}
	if result.ConversationID != "" {
		h.Set(HeaderConversationID, result.ConversationID)
	}
	if result.UserMessageID != "" {
		h.Set(HeaderUserMessageID, result.UserMessageID)
	}
	if result.AssistantMessageID != "" {
		h.Set(HeaderAssistantMessageID, result.AssistantMessageID)
	}
	return h
}

// InputTokens estimates the prompt size from the serialized request.
func InputTokens(req *types.ChatRequest) int {
	return tokens.EstimateValue(req)
}
