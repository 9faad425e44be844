package types

import (
	"encoding/json"
	"fmt"
)

// SiderRequest is the body sent to the Sider completions endpoint.
type SiderRequest struct {
	CID             string           `json:"cid"`
	ParentMessageID string           `json:"parent_message_id"`
	Model           string           `json:"model"`
	From            string           `json:"from"`
	ClientPrompt    map[string]any   `json:"client_prompt"`
	MultiContent    []MultiContent   `json:"multi_content"`
	PromptTemplates []PromptTemplate `json:"prompt_templates"`
	Tools           SiderTools       `json:"tools"`
	OutputLanguage  string           `json:"output_language,omitempty"`
}

type MultiContent struct {
	Type          string `json:"type"`
	Text          string `json:"text"`
	UserInputText string `json:"user_input_text"`
}

type PromptTemplate struct {
	Key        string         `json:"key"`
	Attributes map[string]any `json:"attributes"`
}

// SiderTools holds the auto tool list plus per-tool settings.
type SiderTools struct {
	Auto      []string       `json:"auto"`
	Image     *ImageTool     `json:"image,omitempty"`
	Search    *SearchTool    `json:"search,omitempty"`
	WebBrowse *WebBrowseTool `json:"web_browse,omitempty"`
}

type ImageTool struct {
	QualityLevel string `json:"quality_level"`
}

type SearchTool struct {
	Enabled    bool `json:"enabled"`
	MaxResults int  `json:"max_results,omitempty"`
}

type WebBrowseTool struct {
	Enabled bool `json:"enabled"`
	Timeout int  `json:"timeout,omitempty"`
}

// Sider stream event kinds.
const (
	SiderCreditInfo       = "credit_info"
	SiderMessageStart     = "message_start"
	SiderReasoningContent = "reasoning_content"
	SiderText             = "text"
	SiderToolCallStart    = "tool_call_start"
	SiderToolCallProgress = "tool_call_progress"
	SiderToolCallResult   = "tool_call_result"
)

// SiderEnvelope wraps every data line of the Sider event stream.
type SiderEnvelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// SiderEvent is one decoded stream event. The concrete types below are the
// only implementations; UnknownEvent covers kinds added upstream later.
type SiderEvent interface {
	Kind() string
}

type CreditInfoEvent struct {
	Model string          `json:"model"`
	Info  json.RawMessage `json:"credit_info"`
}

type MessageStartEvent struct {
	Model              string
	CID                string
	UserMessageID      string
	AssistantMessageID string
}

type ReasoningEvent struct {
	Model  string
	Status string
	Text   string
}

type TextEvent struct {
	Model string
	Text  string
}

// ToolCallEvent covers start, progress and result; Phase holds the kind.
type ToolCallEvent struct {
	Phase    string
	Model    string
	ID       string
	Name     string
	Status   string
	Progress string
	Result   json.RawMessage
	Error    string
}

type UnknownEvent struct {
	Type  string
	Model string
}

func (CreditInfoEvent) Kind() string   { return SiderCreditInfo }
func (MessageStartEvent) Kind() string { return SiderMessageStart }
func (ReasoningEvent) Kind() string    { return SiderReasoningContent }
func (TextEvent) Kind() string         { return SiderText }
func (e ToolCallEvent) Kind() string   { return e.Phase }
func (e UnknownEvent) Kind() string    { return e.Type }

type siderEventData struct {
	Type         string          `json:"type"`
	Model        string          `json:"model"`
	Text         string          `json:"text"`
	CreditInfo   json.RawMessage `json:"credit_info"`
	MessageStart *struct {
		CID                string `json:"cid"`
		UserMessageID      string `json:"user_message_id"`
		AssistantMessageID string `json:"assistant_message_id"`
	} `json:"message_start"`
	ReasoningContent *struct {
		Status string `json:"status"`
		Text   string `json:"text"`
	} `json:"reasoning_content"`
	ToolCall *struct {
		ID       string          `json:"id"`
		Name     string          `json:"name"`
		Status   string          `json:"status"`
		Progress json.RawMessage `json:"progress"`
		Result   json.RawMessage `json:"result"`
		Error    string          `json:"error"`
	} `json:"tool_call"`
}

// DecodeSiderEvent decodes the data object of an envelope into its event type.
// Events whose kind is known but whose payload is missing decode to nil.
func DecodeSiderEvent(data json.RawMessage) (SiderEvent, error) {
	var d siderEventData
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode sider event: %w", err)
	}

	switch d.Type {
	case SiderCreditInfo:
		return CreditInfoEvent{Model: d.Model, Info: d.CreditInfo}, nil
	case SiderMessageStart:
		if d.MessageStart == nil {
			return nil, nil
		}
		return MessageStartEvent{
			Model:              d.Model,
			CID:                d.MessageStart.CID,
			UserMessageID:      d.MessageStart.UserMessageID,
			AssistantMessageID: d.MessageStart.AssistantMessageID,
		}, nil
	case SiderReasoningContent:
		ev := ReasoningEvent{Model: d.Model}
		if d.ReasoningContent != nil {
			ev.Status = d.ReasoningContent.Status
			ev.Text = d.ReasoningContent.Text
		}
		return ev, nil
	case SiderText:
		return TextEvent{Model: d.Model, Text: d.Text}, nil
	case SiderToolCallStart, SiderToolCallProgress, SiderToolCallResult:
		if d.ToolCall == nil {
			return nil, nil
		}
		return ToolCallEvent{
			Phase:    d.Type,
			Model:    d.Model,
			ID:       d.ToolCall.ID,
			Name:     d.ToolCall.Name,
			Status:   d.ToolCall.Status,
			Progress: rawString(d.ToolCall.Progress),
			Result:   d.ToolCall.Result,
			Error:    d.ToolCall.Error,
		}, nil
	default:
		return UnknownEvent{Type: d.Type, Model: d.Model}, nil
	}
}

func rawString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// SiderHistoryRequest asks for the messages of a remote conversation.
type SiderHistoryRequest struct {
	CID   string `json:"cid"`
	Limit int    `json:"limit"`
}

// SiderHistoryResponse is the conversation history reply.
type SiderHistoryResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		Conversation struct {
			ID                   string `json:"id"`
			Title                string `json:"title"`
			CurrentLeafMessageID string `json:"current_leaf_message_id"`
		} `json:"conversation"`
		Messages []SiderHistoryMessage `json:"messages"`
		HasMore  bool                  `json:"has_more"`
	} `json:"data"`
}

type SiderHistoryMessage struct {
	ID              string `json:"id"`
	ParentMessageID string `json:"parent_message_id"`
	Role            string `json:"role"`
	Model           string `json:"model"`
}

// Tool call states reported by Sider.
const (
	ToolStatusStart      = "start"
	ToolStatusProcessing = "processing"
	ToolStatusFinish     = "finish"
)

// SiderToolResult tracks one Sider-side tool invocation.
type SiderToolResult struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Status   string          `json:"status"`
	Progress string          `json:"progress,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// SiderResult is everything collected from one Sider event stream.
type SiderResult struct {
	Model              string
	ConversationID     string
	UserMessageID      string
	AssistantMessageID string
	TextParts          []string
	ReasoningParts     []string
	ToolResults        []SiderToolResult
}
